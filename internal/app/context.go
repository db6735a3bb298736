package app

import (
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"time"

	"caseflow/internal/config"
	"caseflow/internal/db"
	"caseflow/internal/engine"
	"caseflow/internal/logging"
	"caseflow/internal/migrate"
)

// Settings are the process-level knobs resolved from flags and environment.
type Settings struct {
	Workspace string
	Driver    string
	DSN       string
	LogLevel  string
	LogFormat string
	LogOutput io.Writer
}

// Env is an opened workspace: connection, config and a ready engine.
type Env struct {
	Conn   *sql.DB
	Config *config.Config
	Engine engine.Engine
	Logger *slog.Logger
}

// Close releases the database connection.
func (e *Env) Close() error {
	if e == nil || e.Conn == nil {
		return nil
	}
	return e.Conn.Close()
}

// Open loads caseflow.yml (defaults when absent), opens and migrates the
// store for the configured dialect and wires the engine with its logger.
func Open(s Settings) (*Env, error) {
	logger, err := logging.New(logging.Options{Level: s.LogLevel, Format: s.LogFormat, Output: s.LogOutput})
	if err != nil {
		return nil, err
	}
	cfg, err := config.LoadOptional(s.Workspace)
	if err != nil {
		return nil, err
	}
	dbCfg := db.Config{Workspace: s.Workspace, Driver: s.Driver, DSN: s.DSN}
	conn, err := db.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := migrate.MigrateDialect(conn, dbCfg.Dialect()); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	e, err := engine.New(conn, dbCfg.Dialect(), cfg)
	if err != nil {
		conn.Close()
		return nil, err
	}
	e.Logger = logger
	e.Now = time.Now
	logger.Debug("workspace opened", "workspace", s.Workspace, "driver", dbCfg.Dialect(), "stages", len(e.Stages.Stages()))
	return &Env{Conn: conn, Config: cfg, Engine: e, Logger: logger}, nil
}
