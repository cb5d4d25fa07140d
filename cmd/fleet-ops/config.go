package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/diwise/fleet-ops/internal/pkg/application/billing"
	"github.com/diwise/fleet-ops/internal/pkg/application/events"
	"github.com/diwise/fleet-ops/internal/pkg/application/seed"
	"github.com/diwise/fleet-ops/internal/pkg/application/telemetry"
	"github.com/diwise/fleet-ops/internal/pkg/infrastructure/logging"
	"gopkg.in/yaml.v2"
)

type flagType int
type flagMap map[flagType]string

const (
	listenAddress flagType = iota
	servicePort
	enableTracing

	policiesFile
	configurationFile
	devicesFile

	dbHost
	dbUser
	dbPassword
	dbPort
	dbName
	dbSSLMode

	redisAddr
	redisPassword

	enableMessaging
	seedData
	devmode
)

func defaultFlags() flagMap {
	return flagMap{
		listenAddress: "0.0.0.0",
		servicePort:   "8080",
		enableTracing: "true",

		policiesFile:      "/opt/diwise/config/authz.rego",
		configurationFile: "/opt/diwise/config/config.yaml",
		devicesFile:       "/opt/diwise/config/devices.csv",

		dbHost:     "",
		dbUser:     "",
		dbPassword: "",
		dbPort:     "5432",
		dbName:     "fleetops",
		dbSSLMode:  "disable",

		redisAddr:     "",
		redisPassword: "",

		enableMessaging: "true",
		seedData:        "false",
		devmode:         "false",
	}
}

type appConfig struct {
	Rules         telemetry.Config      `yaml:"rules"`
	Billing       billing.Config        `yaml:"billing"`
	SweepInterval time.Duration         `yaml:"sweepInterval"`
	IdempotentTTL time.Duration         `yaml:"idempotencyTTL"`
	Notifications []events.Notification `yaml:"notifications"`
	Seed          seed.Catalogue        `yaml:"seed"`
}

func defaultAppConfig() *appConfig {
	return &appConfig{
		Rules:         telemetry.DefaultConfig(),
		Billing:       billing.DefaultConfig(),
		SweepInterval: 5 * time.Minute,
		IdempotentTTL: 24 * time.Hour,
	}
}

func (c *appConfig) events() *events.Config {
	return &events.Config{Notifications: c.Notifications}
}

// loadAppConfig reads the configuration file at path. A missing file is not an error,
// the defaults are used instead.
func loadAppConfig(ctx context.Context, path string) (*appConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			log := logging.GetFromContext(ctx)
			log.Warn().Str("file", path).Msg("configuration file not found, using defaults")
			return defaultAppConfig(), nil
		}
		return nil, err
	}

	return parseExternalConfigFile(ctx, f)
}

func parseExternalConfigFile(_ context.Context, cfgFile io.ReadCloser) (*appConfig, error) {
	defer cfgFile.Close()

	b, err := io.ReadAll(cfgFile)
	if err != nil {
		return nil, err
	}

	cfg := defaultAppConfig()
	err = yaml.Unmarshal(b, cfg)
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

func envOrDef(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return defaultValue
}

func parseExternalConfig(ctx context.Context, flags flagMap) (context.Context, flagMap) {
	// Allow environment variables to override certain defaults
	flags[listenAddress] = envOrDef("LISTEN_ADDRESS", flags[listenAddress])
	flags[servicePort] = envOrDef("SERVICE_PORT", flags[servicePort])
	flags[enableTracing] = envOrDef("ENABLE_TRACING", flags[enableTracing])

	flags[policiesFile] = envOrDef("POLICIES_FILE", flags[policiesFile])
	flags[configurationFile] = envOrDef("CONFIGURATION_FILE", flags[configurationFile])
	flags[devicesFile] = envOrDef("DEVICES_FILE", flags[devicesFile])

	flags[dbHost] = envOrDef("POSTGRES_HOST", flags[dbHost])
	flags[dbPort] = envOrDef("POSTGRES_PORT", flags[dbPort])
	flags[dbName] = envOrDef("POSTGRES_DBNAME", flags[dbName])
	flags[dbUser] = envOrDef("POSTGRES_USER", flags[dbUser])
	flags[dbPassword] = envOrDef("POSTGRES_PASSWORD", flags[dbPassword])
	flags[dbSSLMode] = envOrDef("POSTGRES_SSLMODE", flags[dbSSLMode])

	flags[redisAddr] = envOrDef("REDIS_ADDR", flags[redisAddr])
	flags[redisPassword] = envOrDef("REDIS_PASSWORD", flags[redisPassword])

	flags[enableMessaging] = envOrDef("ENABLE_MESSAGING", flags[enableMessaging])
	flags[seedData] = envOrDef("SEED_DATA", flags[seedData])

	apply := func(f flagType) func(string) error {
		return func(value string) error {
			flags[f] = value
			return nil
		}
	}

	// Allow command line arguments to override defaults and environment variables
	flag.Func("policies", "an authorization policy file", apply(policiesFile))
	flag.Func("config", "rules, billing and notification configuration file", apply(configurationFile))
	flag.Func("devices", "list of known devices to seed", apply(devicesFile))
	flag.Func("seed", "seed devices and catalogue on startup", apply(seedData))
	flag.Func("devmode", "enable dev mode", apply(devmode))
	flag.Parse()

	return ctx, flags
}
