package db

import (
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/whytv-ai/whytv-backend/internal/platform/envutil"
	"github.com/whytv-ai/whytv-backend/internal/platform/logger"
)

// Config selects the ledger database. A non-empty PostgresDSN or PostgresHost wins over
// SQLitePath; with neither set there is no database.
type Config struct {
	PostgresDSN  string
	PostgresHost string
	PostgresPort string
	PostgresUser string
	PostgresPass string
	PostgresName string
	SQLitePath   string
}

func ConfigFromEnv() Config {
	return Config{
		PostgresDSN:  envutil.String("POSTGRES_DSN", ""),
		PostgresHost: envutil.String("POSTGRES_HOST", ""),
		PostgresPort: envutil.String("POSTGRES_PORT", "5432"),
		PostgresUser: envutil.String("POSTGRES_USER", "postgres"),
		PostgresPass: envutil.String("POSTGRES_PASSWORD", ""),
		PostgresName: envutil.String("POSTGRES_NAME", "whytv"),
		SQLitePath:   envutil.String("SQLITE_PATH", ""),
	}
}

func (c Config) Enabled() bool {
	return c.PostgresDSN != "" || c.PostgresHost != "" || c.SQLitePath != ""
}

func (c Config) dialector() (gorm.Dialector, string) {
	switch {
	case c.PostgresDSN != "":
		return postgres.Open(c.PostgresDSN), "postgres"
	case c.PostgresHost != "":
		dsn := fmt.Sprintf(
			"postgres://%s:%s@%s:%s/%s?sslmode=disable",
			c.PostgresUser,
			c.PostgresPass,
			c.PostgresHost,
			c.PostgresPort,
			c.PostgresName,
		)
		return postgres.Open(dsn), "postgres"
	default:
		return sqlite.Open(c.SQLitePath), "sqlite"
	}
}

// Open connects to the configured database.
func Open(logg *logger.Logger, cfg Config) (*gorm.DB, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("no database configured")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	gormLog := gormLogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormLogger.Config{
			SlowThreshold:             1 * time.Second,
			LogLevel:                  gormLogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	dialector, driver := cfg.dialector()
	db, err := gorm.Open(dialector, &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   gormLog,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", driver, err)
	}
	logg.Info("Database connected", "driver", driver)
	return db, nil
}
