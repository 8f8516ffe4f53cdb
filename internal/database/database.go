package database

import (
	"errors"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/neighborly/backend/internal/posts"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

var (
	errMissingPath   = errors.New("database path is required")
	errMissingDSN    = errors.New("database dsn is required")
	errUnknownDriver = errors.New("unknown database driver")
)

// Config selects the store backend. Path is used by sqlite, DSN by postgres.
type Config struct {
	Driver string
	Path   string
	DSN    string
}

// Open establishes the store connection and performs schema migrations.
func Open(cfg Config, logger *zap.Logger) (*gorm.DB, error) {
	dialector, err := dialectorFor(cfg)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, err
	}

	if db.Dialector.Name() == DriverSQLite {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.AutoMigrate(&posts.Post{}, &posts.Reply{}, &migrationRecord{}); err != nil {
		return nil, err
	}

	if err := applyMigrations(db, logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("driver", db.Dialector.Name()))
	}

	return db, nil
}

// OpenSQLite opens a SQLite store at path.
func OpenSQLite(path string, logger *zap.Logger) (*gorm.DB, error) {
	return Open(Config{Driver: DriverSQLite, Path: path}, logger)
}

func dialectorFor(cfg Config) (gorm.Dialector, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case DriverSQLite, "":
		if strings.TrimSpace(cfg.Path) == "" {
			return nil, errMissingPath
		}
		return sqlite.Open(cfg.Path), nil
	case DriverPostgres:
		if strings.TrimSpace(cfg.DSN) == "" {
			return nil, errMissingDSN
		}
		return postgres.Open(cfg.DSN), nil
	default:
		return nil, fmt.Errorf("%w: %q", errUnknownDriver, cfg.Driver)
	}
}
