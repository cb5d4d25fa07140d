package main

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/diwise/fleet-ops/internal/pkg/application/billing"
	"github.com/diwise/fleet-ops/internal/pkg/application/customers"
	"github.com/diwise/fleet-ops/internal/pkg/application/events"
	"github.com/diwise/fleet-ops/internal/pkg/application/inventory"
	"github.com/diwise/fleet-ops/internal/pkg/application/seed"
	"github.com/diwise/fleet-ops/internal/pkg/application/telemetry"
	"github.com/diwise/fleet-ops/internal/pkg/application/ticketing"
	"github.com/diwise/fleet-ops/internal/pkg/application/webevents"
	"github.com/diwise/fleet-ops/internal/pkg/infrastructure/idempotency"
	"github.com/diwise/fleet-ops/internal/pkg/infrastructure/logging"
	"github.com/diwise/fleet-ops/internal/pkg/infrastructure/repositories/database"
	"github.com/diwise/fleet-ops/internal/pkg/infrastructure/router"
	"github.com/diwise/fleet-ops/internal/pkg/infrastructure/tracing"
	"github.com/diwise/fleet-ops/internal/pkg/presentation/api"
	"github.com/diwise/messaging-golang/pkg/messaging"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

const serviceName string = "fleet-ops"

func main() {
	serviceVersion := version()

	ctx, logger := logging.NewLogger(context.Background(), serviceName, serviceVersion)
	logger.Info().Msg("starting up ...")

	ctx, flags := parseExternalConfig(ctx, defaultFlags())

	if flags[enableTracing] == "true" {
		cleanup, err := tracing.Init(ctx, logger, serviceName, serviceVersion)
		exitIf(err, logger, "failed to init tracing")
		defer cleanup()
	}

	cfg, err := loadAppConfig(ctx, flags[configurationFile])
	exitIf(err, logger, "could not load configuration")

	var publisher events.Publisher = events.NewDiscardPublisher()
	var messenger messaging.MsgContext

	if flags[enableMessaging] == "true" {
		messenger, err = messaging.Initialize(messaging.LoadConfiguration(serviceName, logger))
		exitIf(err, logger, "failed to init messenger")
		defer messenger.Close()

		publisher = messenger
	} else {
		logger.Warn().Msg("messaging disabled, domain events will be discarded")
	}

	policies, err := openOptional(ctx, flags[policiesFile])
	exitIf(err, logger, "unable to open opa policy file")

	app, err := initialize(ctx, flags, cfg, policies, publisher)
	exitIf(err, logger, "failed to initialize service")

	if flags[seedData] == "true" || flags[devmode] == "true" {
		devices, err := openOptional(ctx, flags[devicesFile])
		exitIf(err, logger, "could not open devices file")

		err = app.seed(ctx, cfg.Seed, devices)
		exitIf(err, logger, "failed to seed database")
	}

	if messenger != nil {
		messenger.RegisterTopicMessageHandler(telemetry.DeviceTelemetryTopic, telemetry.NewDeviceTelemetryHandler(app.engine))
		messenger.RegisterTopicMessageHandler(billing.UsageEventsTopic, billing.NewUsageEventHandler(app.billing))
	}

	app.sweeper.Start()
	defer app.sweeper.Stop()
	defer app.webEvents.Shutdown()

	err = serve(ctx, flags[listenAddress]+":"+flags[servicePort], app.router)
	exitIf(err, logger, "failed to start request router")
}

type application struct {
	router  *chi.Mux
	engine  telemetry.RuleEngine
	sweeper telemetry.Sweeper

	webEvents webevents.WebEvents
	billing   billing.BillingService

	devices   database.DeviceRepository
	accounts  database.AccountRepository
	inventory database.InventoryRepository
}

func initialize(ctx context.Context, flags flagMap, cfg *appConfig, policies io.ReadCloser, publisher events.Publisher) (*application, error) {
	log := logging.GetFromContext(ctx)

	if policies != nil {
		defer policies.Close()
	}

	connect := newConnector(log, flags)

	devices, err := database.NewDeviceRepository(connect)
	if err != nil {
		return nil, err
	}
	alerts, err := database.NewAlertRepository(connect)
	if err != nil {
		return nil, err
	}
	accounts, err := database.NewAccountRepository(connect)
	if err != nil {
		return nil, err
	}
	usage, err := database.NewUsageRepository(connect)
	if err != nil {
		return nil, err
	}
	bills, err := database.NewBillRepository(connect)
	if err != nil {
		return nil, err
	}
	stock, err := database.NewInventoryRepository(connect)
	if err != nil {
		return nil, err
	}
	tickets, err := database.NewTicketRepository(connect)
	if err != nil {
		return nil, err
	}

	webEvents := webevents.New()
	publisher = webevents.NewPublisher(publisher, webEvents)

	engine := telemetry.New(devices, alerts, publisher, events.NewNotifier(cfg.events()), cfg.Rules)
	sweeper := telemetry.NewSweeper(engine, cfg.SweepInterval, log)

	billingSvc := billing.New(accounts, usage, bills, cfg.Billing)

	svc := api.Services{
		Sweeper:     sweeper,
		Ticketing:   ticketing.New(devices, alerts, tickets, publisher),
		Reservation: inventory.New(devices, stock, publisher),
		Customers:   customers.New(accounts, usage),
		Billing:     billingSvc,
		Stream:      webEvents,
	}

	var store idempotency.Store
	if flags[redisAddr] != "" {
		client := idempotency.NewRedisClient(idempotency.Config{
			Addr:     flags[redisAddr],
			Password: flags[redisPassword],
			TTL:      cfg.IdempotentTTL,
		})

		if err := client.Ping(ctx).Err(); err != nil {
			log.Error().Err(err).Str("addr", flags[redisAddr]).Msg("redis did not answer, idempotency keys will fail until it does")
		}

		store = idempotency.NewStore(client, cfg.IdempotentTTL)
	} else {
		log.Warn().Msg("no redis configured, idempotency keys are ignored")
	}

	r, err := api.RegisterHandlers(ctx, router.New(serviceName), policies, store, svc)
	if err != nil {
		return nil, err
	}

	return &application{
		router:    r,
		engine:    engine,
		sweeper:   sweeper,
		webEvents: webEvents,
		billing:   billingSvc,
		devices:   devices,
		accounts:  accounts,
		inventory: stock,
	}, nil
}

func (a *application) seed(ctx context.Context, catalogue seed.Catalogue, devices io.ReadCloser) error {
	if devices != nil {
		defer devices.Close()

		if err := seed.SeedDevices(ctx, a.devices, devices); err != nil {
			return err
		}
	}

	return seed.SeedCatalogue(ctx, a.accounts, a.inventory, catalogue)
}

func newConnector(log zerolog.Logger, flags flagMap) database.ConnectorFunc {
	if flags[dbHost] == "" || flags[devmode] == "true" {
		log.Info().Msg("using in-memory sqlite database")
		return database.NewSQLiteConnector(log)
	}

	return database.NewPostgreSQLConnector(log, database.ConnectorConfig{
		Host:     flags[dbHost],
		Port:     flags[dbPort],
		Username: flags[dbUser],
		DbName:   flags[dbName],
		Password: flags[dbPassword],
		SslMode:  flags[dbSSLMode],
	})
}

// openOptional opens the file at path, or returns nil if there is no such file.
func openOptional(ctx context.Context, path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			log := logging.GetFromContext(ctx)
			log.Info().Str("file", path).Msg("optional file not found")
			return nil, nil
		}
		return nil, err
	}
	return f, nil
}

func serve(ctx context.Context, addr string, handler http.Handler) error {
	log := logging.GetFromContext(ctx)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errs := make(chan error, 1)

	go func() {
		log.Info().Str("addr", addr).Msg("starting to listen for connections")
		errs <- srv.ListenAndServe()
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}

func version() string {
	buildInfo, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown"
	}

	buildSettings := buildInfo.Settings
	infoMap := map[string]string{}
	for _, s := range buildSettings {
		infoMap[s.Key] = s.Value
	}

	sha := infoMap["vcs.revision"]
	if infoMap["vcs.modified"] == "true" {
		sha += "+"
	}

	return sha
}

func exitIf(err error, logger zerolog.Logger, msg string) {
	if err != nil {
		logger.Error().Err(err).Msg(msg)
		time.Sleep(2 * time.Second)
		os.Exit(1)
	}
}
