package testsupport

import (
	"context"
	"os"
	"testing"

	"shelver/internal/config"
	"shelver/internal/database"
)

// PostgresDSNEnv names the variable that enables PostgreSQL-backed tests.
const PostgresDSNEnv = "SHELVER_TEST_POSTGRES_DSN"

var resetTables = []string{
	"reclassification_batch_items",
	"reclassification_batches",
	"learning_patterns",
	"classification_clarifications",
	"classification_corrections",
	"classification_history",
	"custom_rules",
	"libraries",
	"task_queue",
}

// MustOpenDB opens the SQLite database configured on cfg and registers cleanup.
func MustOpenDB(t testing.TB, cfg *config.Config) *database.DB {
	t.Helper()

	db, err := database.Open(context.Background(), cfg.Database)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})
	return db
}

// MustOpenPostgres connects to the database named by SHELVER_TEST_POSTGRES_DSN,
// clearing every table first. The test is skipped when the variable is unset.
func MustOpenPostgres(t testing.TB) *database.DB {
	t.Helper()

	dsn := os.Getenv(PostgresDSNEnv)
	if dsn == "" {
		t.Skipf("%s not set", PostgresDSNEnv)
	}
	ctx := context.Background()
	db, err := database.OpenPostgres(ctx, dsn, 10, 5)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	for _, table := range resetTables {
		if _, err := db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			_ = db.Close()
			t.Fatalf("reset %s: %v", table, err)
		}
	}
	t.Cleanup(func() {
		_ = db.Close()
	})
	return db
}
