package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

// IsBusy reports whether err is a SQLite lock contention error.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code()&0xff == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !IsBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

// ExecWithRetry runs a statement written with ? placeholders, rebinding it for
// the active dialect and retrying on SQLite lock contention.
func (db *DB) ExecWithRetry(ctx context.Context, query string, args ...any) (sql.Result, error) {
	ctx = ensureContext(ctx)
	query = db.Rebind(query)
	var (
		res     sql.Result
		execErr error
	)
	if err := retryOnBusy(ctx, func() error {
		res, execErr = db.ExecContext(ctx, query, args...)
		return execErr
	}); err != nil {
		return nil, err
	}
	return res, nil
}

// GetWithRetry scans a single row into dest. sql.ErrNoRows is returned unchanged.
func (db *DB) GetWithRetry(ctx context.Context, dest any, query string, args ...any) error {
	ctx = ensureContext(ctx)
	query = db.Rebind(query)
	return retryOnBusy(ctx, func() error {
		return db.GetContext(ctx, dest, query, args...)
	})
}

// SelectWithRetry scans every row into the slice pointed to by dest.
func (db *DB) SelectWithRetry(ctx context.Context, dest any, query string, args ...any) error {
	ctx = ensureContext(ctx)
	query = db.Rebind(query)
	return retryOnBusy(ctx, func() error {
		return db.SelectContext(ctx, dest, query, args...)
	})
}

// Placeholders returns count comma-separated ? markers for an IN list.
func Placeholders(count int) string {
	if count <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", count), ", ")
}

// SelectIn expands slice arguments (sqlx.In) before selecting.
func (db *DB) SelectIn(ctx context.Context, dest any, query string, args ...any) error {
	expanded, expandedArgs, err := sqlx.In(query, args...)
	if err != nil {
		return fmt.Errorf("expand query: %w", err)
	}
	return db.SelectWithRetry(ctx, dest, expanded, expandedArgs...)
}

// InsertReturningID runs an INSERT ... RETURNING id statement.
func (db *DB) InsertReturningID(ctx context.Context, query string, args ...any) (int64, error) {
	var id int64
	if err := db.GetWithRetry(ctx, &id, query, args...); err != nil {
		return 0, err
	}
	return id, nil
}

// InTx runs fn inside a transaction. The whole transaction is retried when
// SQLite reports lock contention before any work is committed.
func (db *DB) InTx(ctx context.Context, fn func(tx *Tx) error) error {
	ctx = ensureContext(ctx)
	return retryOnBusy(ctx, func() error {
		raw, err := db.BeginTxx(ctx, nil)
		if err != nil {
			return err
		}
		tx := &Tx{Tx: raw}
		if err := fn(tx); err != nil {
			_ = raw.Rollback()
			return err
		}
		return raw.Commit()
	})
}

// Tx is a transaction whose helpers accept ? placeholders.
type Tx struct {
	*sqlx.Tx
}

// Exec runs a rebound statement inside the transaction.
func (tx *Tx) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return tx.ExecContext(ctx, tx.Rebind(query), args...)
}

// Get scans a single row inside the transaction.
func (tx *Tx) Get(ctx context.Context, dest any, query string, args ...any) error {
	return tx.GetContext(ctx, dest, tx.Rebind(query), args...)
}

// Select scans rows inside the transaction.
func (tx *Tx) Select(ctx context.Context, dest any, query string, args ...any) error {
	return tx.SelectContext(ctx, dest, tx.Rebind(query), args...)
}

// InsertReturningID runs an INSERT ... RETURNING id statement inside the transaction.
func (tx *Tx) InsertReturningID(ctx context.Context, query string, args ...any) (int64, error) {
	var id int64
	if err := tx.Get(ctx, &id, query, args...); err != nil {
		return 0, err
	}
	return id, nil
}
