// Package database opens the record store and keeps its schema current.
//
// PostgreSQL is the production backend; schema changes ship as goose SQL
// migrations embedded in the binary. SQLite (pure Go) is available for local
// development and tests, where the schema is derived from the gorm models.
package database

import (
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/psds-microservice/helpdesk-service/internal/config"
	"github.com/psds-microservice/helpdesk-service/internal/model"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Models lists every table owned by the service, parents first.
var Models = []any{
	&model.User{},
	&model.Network{},
	&model.Store{},
	&model.ClientAccess{},
	&model.ClientNetworkAccess{},
	&model.Ticket{},
	&model.TicketUpdate{},
	&model.TicketClosure{},
}

// Open connects using the driver selected in cfg.
func Open(cfg *config.Config) (*gorm.DB, error) {
	switch cfg.DB.Driver {
	case "postgres":
		return OpenPostgres(cfg.DSN())
	case "sqlite":
		return OpenSQLite(cfg.DB.SQLitePath)
	}
	return nil, fmt.Errorf("unsupported driver %q", cfg.DB.Driver)
}

func gormConfig() *gorm.Config {
	return &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
		NowFunc:        func() time.Time { return time.Now().UTC() },
	}
}

func OpenPostgres(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

// OpenSQLite opens a single-connection pool: SQLite serializes writers anyway,
// and a single connection keeps transactions strictly one at a time.
func OpenSQLite(dsn string) (*gorm.DB, error) {
	cfg := gormConfig()
	cfg.Logger = logger.Default.LogMode(logger.Silent)
	db, err := gorm.Open(sqlite.Open(dsn), cfg)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(0)
	return db, nil
}

// AutoMigrate creates tables from the gorm models. Used for SQLite only.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(Models...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

// IsUniqueViolation reports whether err came from a unique constraint.
func IsUniqueViolation(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

func Ping(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
