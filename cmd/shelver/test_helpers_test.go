package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"shelver/internal/app"
	"shelver/internal/config"
	"shelver/internal/queue"
)

type cliTestEnv struct {
	cfg        *config.Config
	app        *app.App
	configPath string
	apiAddr    string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()
	t.Setenv("TMDB_API_KEY", "")
	t.Setenv("SHELVER_API_TOKEN", "")

	base := t.TempDir()
	configPath := filepath.Join(base, "config.toml")
	writeTestConfig(t, configPath, base)

	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}

	a, err := app.Build(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("app.Build: %v", err)
	}
	t.Cleanup(a.Close)
	if err := a.Daemon.Start(context.Background()); err != nil {
		t.Fatalf("daemon start: %v", err)
	}

	return &cliTestEnv{
		cfg:        cfg,
		app:        a,
		configPath: configPath,
		apiAddr:    a.Daemon.Addr(),
	}
}

func writeTestConfig(t *testing.T, path, base string) {
	t.Helper()
	content := fmt.Sprintf(`[paths]
data_dir = %q
log_dir = %q
api_bind = "127.0.0.1:0"

[database]
driver = "sqlite"
dsn = %q

[worker]
poll_interval = 1

[cache]
backend = "memory"

[[libraries]]
id = 1
name = "Movies"
media_type = "movie"
enabled = true

[[libraries]]
id = 2
name = "Shows"
media_type = "tv"
enabled = true
`,
		filepath.Join(base, "data"),
		filepath.Join(base, "logs"),
		filepath.Join(base, "data", "shelver.db"),
	)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func runCLI(t *testing.T, args []string, apiAddr, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if apiAddr != "" {
		flags = append(flags, "--api", apiAddr)
	}
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func (env *cliTestEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out, _, err := runCLI(t, args, env.apiAddr, env.configPath)
	return out, err
}

func (env *cliTestEnv) waitForTask(t *testing.T, id int64, want queue.Status) {
	t.Helper()
	waitFor(t, 10*time.Second, func() bool {
		task, err := env.app.Queue.GetByID(context.Background(), id)
		return err == nil && task != nil && task.Status == want
	})
}

func waitFor(t *testing.T, duration time.Duration, fn func() bool) {
	t.Helper()
	deadline := time.Now().Add(duration)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", duration)
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
