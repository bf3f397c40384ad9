package database

import (
	"context"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/pressly/goose/v3"
)

// Health captures diagnostic information about the store.
type Health struct {
	Dialect        Dialect `json:"dialect"`
	Path           string  `json:"path,omitempty"`
	Reachable      bool    `json:"reachable"`
	SchemaVersion  int64   `json:"schema_version"`
	PendingSchema  bool    `json:"pending_schema"`
	IntegrityCheck bool    `json:"integrity_check"`
	Error          string  `json:"error,omitempty"`
}

// CheckHealth pings the store and reports the applied migration version.
func (db *DB) CheckHealth(ctx context.Context) (Health, error) {
	health := Health{Dialect: db.dialect, Path: db.path}

	connCtx, cancel := context.WithTimeout(ensureContext(ctx), 2*time.Second)
	defer cancel()

	if err := db.PingContext(connCtx); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("ping database: %w", err)
	}
	health.Reachable = true

	fsys, err := fs.Sub(migrationFS, "migrations/"+string(db.dialect))
	if err != nil {
		return health, fmt.Errorf("load migrations: %w", err)
	}
	gooseDialect := goose.DialectSQLite3
	if db.dialect == DialectPostgres {
		gooseDialect = goose.DialectPostgres
	}
	provider, err := goose.NewProvider(gooseDialect, db.DB.DB, fsys)
	if err != nil {
		return health, fmt.Errorf("create migration provider: %w", err)
	}
	version, err := provider.GetDBVersion(connCtx)
	if err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("read schema version: %w", err)
	}
	health.SchemaVersion = version
	pending, err := provider.HasPending(connCtx)
	if err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("check pending migrations: %w", err)
	}
	health.PendingSchema = pending

	if db.dialect != DialectSQLite {
		health.IntegrityCheck = true
		return health, nil
	}
	var integrity string
	if err := db.GetContext(connCtx, &integrity, "PRAGMA integrity_check"); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("integrity check: %w", err)
	}
	health.IntegrityCheck = strings.EqualFold(integrity, "ok")
	return health, nil
}
