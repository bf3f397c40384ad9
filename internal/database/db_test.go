package database_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"shelver/internal/database"
)

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpenSQLiteAppliesMigrations(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	for _, table := range []string{
		"task_queue", "libraries", "custom_rules", "classification_history",
		"classification_corrections", "classification_clarifications", "learning_patterns",
		"reclassification_batches", "reclassification_batch_items",
	} {
		var name string
		err := db.GetWithRetry(ctx, &name, "SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", table)
		if err != nil {
			t.Fatalf("expected table %s: %v", table, err)
		}
	}

	health, err := db.CheckHealth(ctx)
	if err != nil {
		t.Fatalf("CheckHealth: %v", err)
	}
	if !health.Reachable || !health.IntegrityCheck || health.SchemaVersion < 1 || health.PendingSchema {
		t.Fatalf("unexpected health: %+v", health)
	}
	if db.Dialect() != database.DialectSQLite {
		t.Fatalf("unexpected dialect %s", db.Dialect())
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
}

func TestInTxRollsBackOnError(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	now := database.FormatTime(time.Now())
	boom := errors.New("boom")

	err := db.InTx(ctx, func(tx *database.Tx) error {
		if _, err := tx.Exec(ctx, `INSERT INTO libraries (id, name, media_type, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
			1, "Movies", "movie", now, now); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	var count int
	if err := db.GetWithRetry(ctx, &count, "SELECT COUNT(1) FROM libraries"); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected rollback, found %d rows", count)
	}
}

func TestTimeRoundTripKeepsLexicalOrder(t *testing.T) {
	early := time.Date(2024, 1, 2, 3, 4, 5, 600, time.UTC)
	late := early.Add(1500 * time.Millisecond)
	a, b := database.FormatTime(early), database.FormatTime(late)
	if !(a < b) {
		t.Fatalf("expected %q < %q", a, b)
	}
	parsed, err := database.ParseTime(b)
	if err != nil {
		t.Fatalf("ParseTime: %v", err)
	}
	if !parsed.Equal(late.Truncate(time.Microsecond)) {
		t.Fatalf("round trip mismatch: %v vs %v", parsed, late)
	}
}

func TestPlaceholders(t *testing.T) {
	cases := map[int]string{0: "", 1: "?", 3: "?, ?, ?"}
	for count, want := range cases {
		if got := database.Placeholders(count); got != want {
			t.Fatalf("Placeholders(%d) = %q, want %q", count, got, want)
		}
	}
}
