package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"shelver/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("TMDB_API_KEY", "test-key")
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}
	wantData := filepath.Join(tempHome, ".local", "share", "shelver")
	if cfg.Paths.DataDir != wantData {
		t.Fatalf("unexpected data dir: got %q want %q", cfg.Paths.DataDir, wantData)
	}
	if cfg.Database.Driver != "sqlite" {
		t.Fatalf("unexpected driver %q", cfg.Database.Driver)
	}
	if cfg.Database.DSN != filepath.Join(wantData, "shelver.db") {
		t.Fatalf("unexpected sqlite dsn %q", cfg.Database.DSN)
	}
	if cfg.TMDB.APIKey != "test-key" {
		t.Fatalf("expected TMDB key from env, got %q", cfg.TMDB.APIKey)
	}
	if cfg.Worker.MaxConcurrent != 1 {
		t.Fatalf("expected max_concurrent 1, got %d", cfg.Worker.MaxConcurrent)
	}
	if cfg.Queue.DefaultMaxAttempts != 5 {
		t.Fatalf("expected default max attempts 5, got %d", cfg.Queue.DefaultMaxAttempts)
	}
	if !cfg.Batch.PauseOnError {
		t.Fatal("expected pause_on_error default true")
	}
}

func TestLoadSampleConfig(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load sample: %v", err)
	}
	if !exists || resolved != path {
		t.Fatalf("expected sample at %q to be loaded, got %q exists=%v", path, resolved, exists)
	}
	if len(cfg.Libraries) != 3 {
		t.Fatalf("expected 3 libraries, got %d", len(cfg.Libraries))
	}
	kids := cfg.Libraries[1]
	if len(kids.Rules) != 1 || len(kids.Rules[0].Predicates) != 2 {
		t.Fatalf("unexpected kids rules: %+v", kids.Rules)
	}
	if kids.Rules[0].Predicates[0].Op != "includes" {
		t.Fatalf("unexpected predicate op %q", kids.Rules[0].Predicates[0].Op)
	}
	if _, ok := cfg.Router("RADARR"); !ok {
		t.Fatal("expected router lookup to be case-insensitive")
	}
}

func TestLoadReadsDotEnv(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	dir := t.TempDir()
	t.Chdir(dir)
	os.Unsetenv("TMDB_API_KEY")
	t.Cleanup(func() { os.Unsetenv("TMDB_API_KEY") })
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("TMDB_API_KEY=from-dotenv\n"), 0o644); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	cfg, _, _, err := config.Load(filepath.Join(dir, "missing.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.TMDB.APIKey != "from-dotenv" {
		t.Fatalf("expected key from .env, got %q", cfg.TMDB.APIKey)
	}
}

func TestValidateRejectsBadConfig(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"postgres without dsn", func(c *config.Config) { c.Database.Driver = "postgres"; c.Database.DSN = "" }, "database.dsn"},
		{"unknown driver", func(c *config.Config) { c.Database.Driver = "mysql" }, "database.driver"},
		{"redis without url", func(c *config.Config) { c.Cache.Backend = "redis" }, "cache.redis_url"},
		{"bad router kind", func(c *config.Config) {
			c.Routers = []config.Router{{Name: "x", Kind: "lidarr", URL: "http://x"}}
		}, "routers[0].kind"},
		{"duplicate library id", func(c *config.Config) {
			c.Libraries = []config.Library{
				{ID: 1, Name: "a", MediaType: "movie"},
				{ID: 1, Name: "b", MediaType: "movie"},
			}
		}, "duplicate library id"},
		{"unknown router on library", func(c *config.Config) {
			c.Libraries = []config.Library{{ID: 1, Name: "a", MediaType: "movie", Route: config.LibraryRoute{Router: "nope"}}}
		}, "unknown router"},
		{"bad predicate op", func(c *config.Config) {
			c.Libraries = []config.Library{{ID: 1, Name: "a", MediaType: "movie", Rules: []config.Rule{{
				Name: "r", Predicates: []config.Predicate{{Field: "genres", Op: "matches", Value: "x"}},
			}}}}
		}, "op: unsupported"},
		{"non numeric greater_than", func(c *config.Config) {
			c.Libraries = []config.Library{{ID: 1, Name: "a", MediaType: "movie", Rules: []config.Rule{{
				Name: "r", Predicates: []config.Predicate{{Field: "year", Op: "greater_than", Value: "recent"}},
			}}}}
		}, "greater_than needs a number"},
		{"bad log format", func(c *config.Config) { c.Logging.Format = "xml" }, "logging.format"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Database.DSN = "/tmp/shelver.db"
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected validation error containing %q", tc.want)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestMediaTypeAliasesNormalize(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[[libraries]]
id = 1
name = "Shows"
media_type = "Series"
enabled = true
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, _, _, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Libraries[0].MediaType != "tv" {
		t.Fatalf("expected tv, got %q", cfg.Libraries[0].MediaType)
	}
}
