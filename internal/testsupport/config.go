package testsupport

import (
	"path/filepath"
	"testing"

	"shelver/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.TMDB.APIKey = "test"
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Database.Driver = "sqlite"
	cfgVal.Database.DSN = filepath.Join(base, "data", "shelver.db")
	cfgVal.Cache.Backend = "memory"

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithLibraries replaces the configured libraries.
func WithLibraries(libs ...config.Library) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Libraries = libs
	}
}

// WithRouter appends a router definition.
func WithRouter(name, kind, url string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Routers = append(b.cfg.Routers, config.Router{
			Name: name, Kind: kind, URL: url, APIKey: "test", TimeoutSeconds: 5,
		})
	}
}

// WithLLM points the AI classifier at baseURL.
func WithLLM(baseURL string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.LLM.BaseURL = baseURL
		b.cfg.LLM.APIKey = "test"
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}

// Movie returns an enabled movie library definition.
func Movie(id int64, name string) config.Library {
	return config.Library{ID: id, Name: name, MediaType: "movie", Enabled: true}
}

// Show returns an enabled TV library definition.
func Show(id int64, name string) config.Library {
	return config.Library{ID: id, Name: name, MediaType: "tv", Enabled: true}
}
