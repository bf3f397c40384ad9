package main

import (
	"os"
	"path/filepath"
	"testing"

	"shelver/internal/queue"
)

func TestConfigInitAndValidate(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	target := filepath.Join(t.TempDir(), "config.toml")

	out, _, err := runCLI(t, []string{"config", "init", "--path", target}, "", "")
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}

	if _, _, err := runCLI(t, []string{"config", "init", "--path", target}, "", ""); err == nil {
		t.Fatal("expected init to refuse overwriting an existing file")
	}

	base := t.TempDir()
	configPath := filepath.Join(base, "config.toml")
	writeTestConfig(t, configPath, base)
	out, _, err = runCLI(t, []string{"config", "validate"}, "", configPath)
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Libraries: 2")
	requireContains(t, out, "Configuration valid")
}

func TestStatusCommand(t *testing.T) {
	env := setupCLITestEnv(t)

	out, err := env.run(t, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "== Daemon ==")
	requireContains(t, out, "2 configured")
	requireContains(t, out, "Queue is empty")

	out, err = env.run(t, "status", "--json")
	if err != nil {
		t.Fatalf("status --json: %v", err)
	}
	requireContains(t, out, `"running": true`)
}

func TestClassifyAndInspect(t *testing.T) {
	env := setupCLITestEnv(t)

	out, err := env.run(t, "classify", "862", "--type", "movie", "--title", "Toy Story")
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	requireContains(t, out, "Queued classification task 1")
	env.waitForTask(t, 1, queue.StatusCompleted)

	out, err = env.run(t, "queue", "list", "--status", "completed")
	if err != nil {
		t.Fatalf("queue list: %v", err)
	}
	requireContains(t, out, "classify")

	out, err = env.run(t, "queue", "show", "1")
	if err != nil {
		t.Fatalf("queue show: %v", err)
	}
	requireContains(t, out, "classification_id")

	out, err = env.run(t, "classification", "show", "1")
	if err != nil {
		t.Fatalf("classification show: %v", err)
	}
	requireContains(t, out, "862")
	requireContains(t, out, "ai_classification")

	if _, err := env.run(t, "classify", "862", "--type", "podcast"); err == nil {
		t.Fatal("expected unsupported media type to be rejected")
	}
}

func TestQueueCommands(t *testing.T) {
	env := setupCLITestEnv(t)

	out, err := env.run(t, "queue", "enqueue", "unknown_kind", "--payload", `{"x":1}`)
	if err != nil {
		t.Fatalf("queue enqueue: %v", err)
	}
	requireContains(t, out, "Queued task 1")
	env.waitForTask(t, 1, queue.StatusFailed)

	out, err = env.run(t, "queue", "status")
	if err != nil {
		t.Fatalf("queue status: %v", err)
	}
	requireContains(t, out, "failed")

	_, err = env.run(t, "queue", "cancel", "1")
	if err == nil {
		t.Fatal("expected cancel of a failed task to conflict")
	}
	requireContains(t, err.Error(), "conflict")

	_, err = env.run(t, "queue", "cancel", "99")
	if err == nil {
		t.Fatal("expected cancel of a missing task to fail")
	}
	requireContains(t, err.Error(), "not_found")

	out, err = env.run(t, "queue", "retry", "1")
	if err != nil {
		t.Fatalf("queue retry: %v", err)
	}
	requireContains(t, out, "Retrying 1 task(s)")

	if _, err := env.run(t, "queue", "enqueue", "x", "--payload", "{"); err == nil {
		t.Fatal("expected invalid JSON payload to be rejected")
	}
}

func TestBatchCommands(t *testing.T) {
	env := setupCLITestEnv(t)

	if _, err := env.run(t, "classify", "862", "--type", "movie"); err != nil {
		t.Fatalf("classify: %v", err)
	}
	env.waitForTask(t, 1, queue.StatusCompleted)

	out, err := env.run(t, "batch", "create", "--item", "1:2")
	if err != nil {
		t.Fatalf("batch create: %v", err)
	}
	requireContains(t, out, "Created batch 1 with 1 item(s)")

	// Library 2 holds tv shows, so moving a movie there is invalid.
	out, err = env.run(t, "batch", "validate", "1")
	if err != nil {
		t.Fatalf("batch validate: %v", err)
	}
	requireContains(t, out, "validation_failed")
	requireContains(t, out, "invalid")

	_, err = env.run(t, "batch", "retry", "1", "1")
	if err == nil {
		t.Fatal("expected retry of an invalid item to conflict")
	}
	requireContains(t, err.Error(), "conflict")

	out, err = env.run(t, "batch", "skip", "1", "1")
	if err != nil {
		t.Fatalf("batch skip: %v", err)
	}
	requireContains(t, out, "Item 1 of batch 1 is now skipped")

	out, err = env.run(t, "batch", "list")
	if err != nil {
		t.Fatalf("batch list: %v", err)
	}
	requireContains(t, out, "validation_failed")

	out, err = env.run(t, "batch", "execute", "1")
	if err != nil {
		t.Fatalf("batch execute: %v", err)
	}
	requireContains(t, out, "Batch 1 queued as task 2")
	env.waitForTask(t, 2, queue.StatusCompleted)

	out, err = env.run(t, "batch", "progress", "1")
	if err != nil {
		t.Fatalf("batch progress: %v", err)
	}
	requireContains(t, out, "completed")
	requireContains(t, out, "1 skipped")

	_, err = env.run(t, "batch", "cancel", "1")
	if err == nil {
		t.Fatal("expected cancel of a completed batch to conflict")
	}
	requireContains(t, err.Error(), "conflict")

	if _, err := env.run(t, "batch", "create", "--item", "oops"); err == nil {
		t.Fatal("expected malformed item to be rejected")
	}
}

func TestUnreachableDaemon(t *testing.T) {
	base := t.TempDir()
	configPath := filepath.Join(base, "config.toml")
	writeTestConfig(t, configPath, base)

	_, _, err := runCLI(t, []string{"status"}, "127.0.0.1:1", configPath)
	if err == nil {
		t.Fatal("expected an error without a daemon")
	}
	requireContains(t, err.Error(), "start it with `shelver daemon`")
}

func TestParseBatchItem(t *testing.T) {
	item, err := parseBatchItem(" 12:3 ")
	if err != nil {
		t.Fatalf("parseBatchItem: %v", err)
	}
	if item.ClassificationID != 12 || item.TargetLibraryID != 3 {
		t.Fatalf("unexpected item %+v", item)
	}
	for _, bad := range []string{"12", "a:3", "12:0", ":"} {
		if _, err := parseBatchItem(bad); err == nil {
			t.Fatalf("expected %q to be rejected", bad)
		}
	}
}
