package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"
)

const defaultDBName = "caseflow.db"

// Supported drivers.
const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

type Config struct {
	Workspace string
	// Driver is sqlite (default) or mysql.
	Driver string
	// DSN is required for mysql and ignored for sqlite.
	DSN string
}

// Dialect returns the normalized driver name.
func (c Config) Dialect() string {
	if strings.EqualFold(strings.TrimSpace(c.Driver), DriverMySQL) {
		return DriverMySQL
	}
	return DriverSQLite
}

func dbPath(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, ".caseflow", defaultDBName)
}

// EnsureWorkspace creates workspace directory if missing.
func EnsureWorkspace(workspace string) (string, error) {
	path := filepath.Join(workspace, ".caseflow")
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}

// Open opens the configured database.
// SQLite runs in WAL mode with immediate transactions so concurrent writers
// queue on the write lock instead of failing on lock upgrade.
func Open(cfg Config) (*sql.DB, error) {
	switch cfg.Dialect() {
	case DriverMySQL:
		return openMySQL(cfg.DSN)
	default:
		return openSQLite(cfg.Workspace)
	}
}

func openSQLite(workspace string) (*sql.DB, error) {
	if _, err := EnsureWorkspace(workspace); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_txlock=immediate&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", dbPath(workspace))
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func openMySQL(dsn string) (*sql.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("mysql driver requires a dsn")
	}
	mc, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse mysql dsn: %w", err)
	}
	mc.ParseTime = false
	mc.MultiStatements = true
	if mc.Params == nil {
		mc.Params = map[string]string{}
	}
	if _, ok := mc.Params["transaction_isolation"]; !ok {
		mc.Params["transaction_isolation"] = "'READ-COMMITTED'"
	}
	conn, err := sql.Open("mysql", mc.FormatDSN())
	if err != nil {
		return nil, err
	}
	conn.SetConnMaxLifetime(5 * time.Minute)
	conn.SetMaxIdleConns(10)
	return conn, nil
}

// Path returns the db path for the workspace.
func Path(workspace string) string {
	return dbPath(workspace)
}
