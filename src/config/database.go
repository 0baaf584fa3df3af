package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const connectAttempts = 6

// InitDB - Open the postgres connection, retrying with backoff
func InitDB(cfg *Config) (*gorm.DB, error) {
	var lastErr error
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
			Logger: gormLogger(cfg.DBLogLevel),
		})
		if err == nil {
			if sqlDB, derr := db.DB(); derr == nil && sqlDB != nil {
				if cfg.DBMaxOpenConns > 0 {
					sqlDB.SetMaxOpenConns(cfg.DBMaxOpenConns)
				}
				if cfg.DBMaxIdleConns >= 0 {
					sqlDB.SetMaxIdleConns(cfg.DBMaxIdleConns)
				}
				sqlDB.SetConnMaxLifetime(5 * time.Minute)
			}
			if pluginErr := db.Use(otelgorm.NewPlugin()); pluginErr != nil {
				GetLogger().Warnf("db connected but failed to install otelgorm plugin: %v", pluginErr)
			}
			GetLogger().WithField("attempt", attempt).Info("connected to database")
			return db, nil
		}

		lastErr = err
		sleep := time.Second * time.Duration(1<<min(attempt, 5))
		GetLogger().WithFields(logrus.Fields{
			"attempt": attempt,
			"host":    cfg.DBHost,
			"retry":   sleep.String(),
		}).Warn("failed to connect database: " + err.Error())
		time.Sleep(sleep)
	}
	return nil, fmt.Errorf("connect database after %d attempts: %w", connectAttempts, lastErr)
}

func gormLogger(level string) logger.Interface {
	lvl := logger.Error
	switch strings.ToLower(level) {
	case "silent":
		lvl = logger.Silent
	case "warn":
		lvl = logger.Warn
	case "info":
		lvl = logger.Info
	}
	return logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  lvl,
			IgnoreRecordNotFoundError: true,
			ParameterizedQueries:      true,
			Colorful:                  false,
		},
	)
}
