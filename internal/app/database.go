package app

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/probelab/synthmon/config"
)

func getDatabase(cfg config.DatabaseConfig) *gorm.DB {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable TimeZone=UTC",
		cfg.Host, cfg.Port, cfg.User, cfg.Passwd, cfg.Name)

	level := logger.Silent
	if cfg.Debug {
		level = logger.Info
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		// TranslateError lets the repositories detect duplicate-key and
		// FK violations portably (gorm.ErrDuplicatedKey).
		TranslateError: true,
		Logger:         logger.Default.LogMode(level),
	})
	if err != nil {
		zap.S().Fatalf("database connection failed: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		zap.S().Fatalf("database handle unavailable: %v", err)
	}
	maxConn := cfg.MaxConn
	if maxConn <= 0 {
		maxConn = 50
	}
	sqlDB.SetMaxOpenConns(maxConn)
	sqlDB.SetMaxIdleConns(maxConn / 5)
	sqlDB.SetConnMaxLifetime(time.Hour)
	return db
}
