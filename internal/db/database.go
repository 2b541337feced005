package db

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"facewatch/config"
	"facewatch/internal/core/models"

	"github.com/glebarez/sqlite" // Pure Go SQLite Treiber
	log "github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DB ist die globale Datenbankverbindung
var DB *gorm.DB

// Initialize öffnet die Datenbank, migriert das Schema und setzt die globale Verbindung
func Initialize(cfg *config.Config) (*gorm.DB, error) {
	conn, err := Open(cfg.DB)
	if err != nil {
		return nil, err
	}
	DB = conn
	return conn, nil
}

// Open öffnet eine Verbindung gemäß Konfiguration und führt die Migrationen aus
func Open(cfg config.DBConfig) (*gorm.DB, error) {
	gormLogger := logger.New(
		log.StandardLogger(),
		logger.Config{
			SlowThreshold:             time.Second * 2,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	dialector, err := dialectorFor(cfg)
	if err != nil {
		return nil, err
	}

	conn, err := gorm.Open(dialector, &gorm.Config{Logger: gormLogger})
	if err != nil {
		log.Errorf("Failed to connect to database: %v", err)
		return nil, fmt.Errorf("database connection failed: %w", err)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database connection: %w", err)
	}
	if cfg.Driver == "sqlite" {
		// SQLite serialisiert Schreibzugriffe ohnehin
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetMaxOpenConns(50)
	}
	sqlDB.SetConnMaxLifetime(time.Hour)

	log.Info("Running database migrations...")
	if err := conn.AutoMigrate(
		&models.Identity{},
		&models.Camera{},
		&models.Detection{},
		&models.User{},
	); err != nil {
		log.Errorf("Database migration failed: %v", err)
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	log.WithField("driver", cfg.Driver).Info("Database connection established")
	return conn, nil
}

func dialectorFor(cfg config.DBConfig) (gorm.Dialector, error) {
	switch cfg.Driver {
	case "", "sqlite":
		if cfg.File == "" {
			return nil, fmt.Errorf("db.file is required for sqlite")
		}
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		log.Infof("Connecting to database: %s", cfg.File)
		return sqlite.Open(cfg.File + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"), nil
	case "postgres":
		dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			cfg.Host, cfg.Port, cfg.Username, cfg.Password, cfg.Name, cfg.SSLMode)
		log.Infof("Connecting to postgres at %s:%d/%s", cfg.Host, cfg.Port, cfg.Name)
		return postgres.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// GetDB gibt die initialisierte GORM-DB-Instanz zurück
func GetDB() (*gorm.DB, error) {
	if DB == nil {
		return nil, fmt.Errorf("database is not initialized")
	}
	return DB, nil
}
