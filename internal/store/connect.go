// Package store persists classifier route decisions so repeated queries skip
// the classifier.
package store

import (
	"fmt"

	"github.com/glassbead/atris/internal/config"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DSN builds the driver-specific DSN for cfg.
func DSN(cfg config.StoreConfig) (string, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		return cfg.Path, nil
	case config.DriverMySQL:
		auth := cfg.User
		if cfg.Password != "" {
			auth += ":" + cfg.Password
		}
		return fmt.Sprintf("%s@tcp(%s:%d)/%s?parseTime=true", auth, cfg.Host, cfg.Port, cfg.Database), nil
	case config.DriverPostgres:
		dsn := fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=disable", cfg.Host, cfg.Port, cfg.User, cfg.Database)
		if cfg.Password != "" {
			dsn += " password=" + cfg.Password
		}
		return dsn, nil
	}
	return "", fmt.Errorf("store: unsupported driver %q", cfg.Driver)
}

// Connect opens a GORM connection for cfg and migrates the schema.
func Connect(cfg config.StoreConfig) (*gorm.DB, error) {
	dsn, err := DSN(cfg)
	if err != nil {
		return nil, err
	}

	var dialector gorm.Dialector
	switch cfg.Driver {
	case config.DriverSQLite:
		dialector = sqlite.Open(dsn)
	case config.DriverMySQL:
		dialector = mysql.Open(dsn)
	case config.DriverPostgres:
		dialector = postgres.Open(dsn)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("store: connect %s: %w", cfg.Driver, err)
	}
	if err := AutoMigrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// AllModels returns the GORM models managed by this package.
func AllModels() []interface{} {
	return []interface{}{
		&RouteDecision{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("store: auto-migrate: %w", err)
	}
	return nil
}
