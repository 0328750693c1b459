package config

import (
	"context"
	"fmt"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	connectAttempts     = 5
	connectInitialDelay = 1 * time.Second
)

// NewDB opens the session store. DATABASE_URL takes precedence over the
// individual DB_* settings so managed environments can inject a single
// connection string.
func NewDB() (*gorm.DB, error) {
	cfg := Get()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		dsn = fmt.Sprintf(
			"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s connect_timeout=%d",
			cfg.Database.Host,
			cfg.Database.Port,
			cfg.Database.User,
			cfg.Database.Password,
			cfg.Database.Name,
			cfg.Database.SSLMode,
			int(cfg.Database.Timeout.Seconds()),
		)
	}

	logMode := logger.Error
	if cfg.Server.Env == "development" {
		logMode = logger.Info
	}
	gormConfig := &gorm.Config{Logger: logger.Default.LogMode(logMode)}

	// Compose environments may start the store after the gateway, so each
	// attempt both opens and pings before the connection counts.
	var db *gorm.DB
	var err error
	delay := connectInitialDelay
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		db, err = gorm.Open(postgres.Open(dsn), gormConfig)
		if err == nil {
			err = TestConnection(db)
			if err == nil {
				break
			}
		}
		if attempt < connectAttempts {
			time.Sleep(delay)
			delay *= 2
		}
	}
	if err != nil {
		return nil, fmt.Errorf("database unreachable after %d attempts: %w", connectAttempts, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database handle: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.Database.MaxConns)
	sqlDB.SetMaxIdleConns(cfg.Database.MaxConns / 2)
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(10 * time.Minute)

	return db, nil
}

// TestConnection pings the store within the configured database timeout.
// The health checker calls this periodically.
func TestConnection(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database handle: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), Get().Database.Timeout)
	defer cancel()

	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}
