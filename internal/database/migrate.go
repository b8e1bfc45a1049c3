package database

import (
	"database/sql"
	"embed"
	"fmt"
	"net/url"
	"strings"

	"github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"github.com/psds-microservice/helpdesk-service/internal/config"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const migrationsDir = "migrations"

type gooseLogger struct{ s *zap.SugaredLogger }

func (l gooseLogger) Printf(format string, v ...any) { l.s.Infof(strings.TrimSpace(format), v...) }
func (l gooseLogger) Fatalf(format string, v ...any) { l.s.Fatalf(format, v...) }

func ensureDatabase(databaseURL string, log *zap.Logger) error {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return fmt.Errorf("parse database url: %w", err)
	}
	dbName := strings.TrimPrefix(u.Path, "/")
	if dbName == "" {
		return fmt.Errorf("database name is empty in url")
	}
	u.Path = "/postgres"
	adminURL := u.String()
	db, err := sql.Open("postgres", adminURL)
	if err != nil {
		return fmt.Errorf("open admin connection: %w", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		return fmt.Errorf("ping admin connection: %w", err)
	}
	var exists bool
	if err := db.QueryRow("SELECT true FROM pg_database WHERE datname = $1", dbName).Scan(&exists); err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("check database existence: %w", err)
	}
	if exists {
		return nil
	}
	if _, err = db.Exec("CREATE DATABASE " + pq.QuoteIdentifier(dbName)); err != nil {
		return fmt.Errorf("create database %q: %w", dbName, err)
	}
	log.Info("database created", zap.String("database", dbName))
	return nil
}

func openGoose(databaseURL string, log *zap.Logger) (*sql.DB, error) {
	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(gooseLogger{s: log.Sugar()})
	if err := goose.SetDialect("postgres"); err != nil {
		return nil, fmt.Errorf("goose dialect: %w", err)
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return db, nil
}

// MigrateUp brings the schema to the latest version. For SQLite the schema is
// derived from the models instead of the PostgreSQL migrations.
func MigrateUp(cfg *config.Config, log *zap.Logger) error {
	if cfg.DB.Driver == "sqlite" {
		db, err := OpenSQLite(cfg.DB.SQLitePath)
		if err != nil {
			return err
		}
		defer Close(db)
		return AutoMigrate(db)
	}
	if err := ensureDatabase(cfg.DatabaseURL(), log); err != nil {
		return fmt.Errorf("ensure database: %w", err)
	}
	db, err := openGoose(cfg.DatabaseURL(), log)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := goose.Up(db, migrationsDir); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}

// MigrateDown rolls back the most recent migration.
func MigrateDown(cfg *config.Config, log *zap.Logger) error {
	if cfg.DB.Driver != "postgres" {
		return fmt.Errorf("migrate down is only supported for postgres")
	}
	db, err := openGoose(cfg.DatabaseURL(), log)
	if err != nil {
		return err
	}
	defer db.Close()
	return goose.Down(db, migrationsDir)
}

func MigrateStatus(cfg *config.Config, log *zap.Logger) error {
	if cfg.DB.Driver != "postgres" {
		return fmt.Errorf("migrate status is only supported for postgres")
	}
	db, err := openGoose(cfg.DatabaseURL(), log)
	if err != nil {
		return err
	}
	defer db.Close()
	return goose.Status(db, migrationsDir)
}
