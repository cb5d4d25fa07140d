package database

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type ConnectorConfig struct {
	Host     string
	Port     string
	Username string
	DbName   string
	Password string
	SslMode  string
}

// ConnectorFunc returns the shared database handle. Every repository created from the
// same ConnectorFunc operates on the same database, and all models are migrated the
// first time it is called.
type ConnectorFunc func() (*gorm.DB, zerolog.Logger, error)

func NewSQLiteConnector(log zerolog.Logger) ConnectorFunc {
	return connectOnce(log, func() (*gorm.DB, error) {
		db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
			Logger:          logger.Default.LogMode(logger.Silent),
			CreateBatchSize: 1000,
			NowFunc:         utcNow,
		})

		if err == nil {
			db.Exec("PRAGMA foreign_keys = ON")
			sqldb, _ := db.DB()
			sqldb.SetMaxOpenConns(1)
		}

		return db, err
	})
}

func NewPostgreSQLConnector(log zerolog.Logger, cfg ConnectorConfig) ConnectorFunc {
	dbURI := fmt.Sprintf("host=%s port=%s user=%s dbname=%s sslmode=%s password=%s",
		cfg.Host, cfg.Port, cfg.Username, cfg.DbName, cfg.SslMode, cfg.Password)

	sublogger := log.With().Str("host", cfg.Host).Str("database", cfg.DbName).Logger()

	return connectOnce(sublogger, func() (*gorm.DB, error) {
		var db *gorm.DB
		var err error

		for attempt := 1; attempt <= 5; attempt++ {
			sublogger.Info().Msgf("connecting to database host (attempt %d)", attempt)

			db, err = gorm.Open(postgres.Open(dbURI), &gorm.Config{
				Logger: logger.New(
					&logadapter{logger: sublogger},
					logger.Config{
						SlowThreshold:             time.Second,
						LogLevel:                  logger.Warn,
						IgnoreRecordNotFoundError: true,
						Colorful:                  false,
					},
				),
				NowFunc: utcNow,
			})
			if err == nil {
				return db, nil
			}

			sublogger.Error().Err(err).Msg("failed to connect to database")
			time.Sleep(3 * time.Second)
		}

		return nil, err
	})
}

func connectOnce(log zerolog.Logger, open func() (*gorm.DB, error)) ConnectorFunc {
	var once sync.Once
	var db *gorm.DB
	var err error

	return func() (*gorm.DB, zerolog.Logger, error) {
		once.Do(func() {
			db, err = open()
			if err != nil {
				return
			}

			err = db.AutoMigrate(
				&Site{}, &Device{}, &Alert{}, &Customer{}, &Plan{}, &Subscription{},
				&UsageEvent{}, &Bill{}, &InventoryItem{}, &Ticket{},
			)
		})

		return db, log, err
	}
}

// timestamps are always stored in UTC so that range queries compare like with like
func utcNow() time.Time {
	return time.Now().UTC()
}

// logadapter provides a Printf interface to the gorm logger
// so that we can forward the log data to zerolog
type logadapter struct {
	logger zerolog.Logger
}

func (adapter *logadapter) Printf(format string, args ...interface{}) {
	adapter.logger.Info().Msgf(format, args...)
}
