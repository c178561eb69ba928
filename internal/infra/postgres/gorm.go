package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/sifan077/PinRadar/config"
	"github.com/sifan077/PinRadar/internal/app/model"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewGorm returns a gorm.DB for the pin store.
func NewGorm(cfg config.PostgresConfig) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(ConnString(cfg)), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Warn),
		DisableForeignKeyConstraintWhenMigrating: true,
		NowFunc:                                  func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: open gorm connection: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("postgres: retrieve sql db: %w", err)
	}
	sqlDB.SetConnMaxLifetime(parseDuration(cfg.MaxConnLifetime, 5*time.Minute))
	if cfg.MaxConns > 0 {
		sqlDB.SetMaxOpenConns(int(cfg.MaxConns))
	}

	return db, nil
}

// Models lists every table the service owns, in creation order.
func Models() []interface{} {
	return []interface{}{
		&model.Pin{},
		&model.DiscoveryRecord{},
		&model.Interaction{},
		&model.PinHide{},
		&model.Activity{},
	}
}

// AutoMigrate creates or extends the schema. It only adds tables, columns
// and indexes.
func AutoMigrate(ctx context.Context, db *gorm.DB) error {
	if db == nil {
		return nil
	}
	if err := db.WithContext(ctx).AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("postgres: auto migrate: %w", err)
	}
	return nil
}
