package database

import (
	"errors"
	"fmt"
	"time"

	"whatsapp-crm/internal/config"
	"whatsapp-crm/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open connects to the configured driver and tunes the connection pool.
func Open(cfg *config.Config, log logrus.FieldLogger) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.DBDriver {
	case "sqlite":
		dialector = sqlite.Open(cfg.DBPath)
	default:
		dialector = postgres.Open(cfg.PostgresDSN())
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(parseLogLevel(cfg.DBLogLevel)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.DBDriver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(cfg.DBMaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.DBMaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Hour)

	log.WithField("driver", cfg.DBDriver).Info("Connected to database")
	return db, nil
}

// OpenSQLite opens an sqlite database on a single connection with query
// logging silenced. Tests use it with shared in-memory DSNs.
func OpenSQLite(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}

// Migrate creates or updates every table the CRM owns.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(models.All()...); err != nil {
		return fmt.Errorf("failed to run auto-migration: %w", err)
	}
	return nil
}

// SyncConfig lets credentials saved in system_settings override the
// environment. Values only present in the environment are written back.
func SyncConfig(db *gorm.DB, cfg *config.Config, log logrus.FieldLogger) error {
	settings := []struct {
		Key   string
		Value *string
	}{
		{"VERIFY_TOKEN", &cfg.VerifyToken},
		{"WHATSAPP_TOKEN", &cfg.WhatsAppToken},
		{"PHONE_NUMBER_ID", &cfg.PhoneNumberID},
		{"WABA_ID", &cfg.WhatsAppBusinessAccountID},
	}

	for _, s := range settings {
		var setting models.SystemSetting
		err := db.Where("key = ?", s.Key).First(&setting).Error
		switch {
		case err == nil:
			if setting.Value != "" {
				*s.Value = setting.Value
			}
		case errors.Is(err, gorm.ErrRecordNotFound):
			if *s.Value != "" {
				if err := db.Create(&models.SystemSetting{Key: s.Key, Value: *s.Value}).Error; err != nil {
					return err
				}
			}
		default:
			return err
		}
	}
	log.Debug("System settings synchronized from database")
	return nil
}

func parseLogLevel(level string) logger.LogLevel {
	switch level {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "info":
		return logger.Info
	default:
		return logger.Warn
	}
}
