package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir  string `toml:"data_dir"`
	LogDir   string `toml:"log_dir"`
	APIBind  string `toml:"api_bind"`
	APIToken string `toml:"api_token"`
}

// Database selects the persistent store backing the queue and history tables.
type Database struct {
	Driver       string `toml:"driver"`
	DSN          string `toml:"dsn"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// Queue contains task queue policy.
type Queue struct {
	DefaultMaxAttempts int    `toml:"default_max_attempts"`
	RetentionDays      int    `toml:"retention_days"`
	PurgeSchedule      string `toml:"purge_schedule"`
}

// Worker contains configuration for the worker loop timing.
type Worker struct {
	PollInterval        int `toml:"poll_interval"`
	ErrorRetryInterval  int `toml:"error_retry_interval"`
	MaxConcurrent       int `toml:"max_concurrent"`
	HealthProbeInterval int `toml:"health_probe_interval"`
}

// TMDB contains configuration for The Movie Database API.
type TMDB struct {
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	Language       string `toml:"language"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// LLM contains the AI classifier connection settings.
type LLM struct {
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	Model          string `toml:"model"`
	Referer        string `toml:"referer"`
	Title          string `toml:"title"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Cache configures the metadata enrichment cache.
type Cache struct {
	Backend    string `toml:"backend"`
	RedisURL   string `toml:"redis_url"`
	TTLMinutes int    `toml:"ttl_minutes"`
}

// Router describes one Radarr or Sonarr instance libraries can route to.
type Router struct {
	Name           string `toml:"name"`
	Kind           string `toml:"kind"`
	URL            string `toml:"url"`
	APIKey         string `toml:"api_key"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// LibraryRoute maps a library onto a router instance.
type LibraryRoute struct {
	Router           string `toml:"router"`
	RootFolder       string `toml:"root_folder"`
	QualityProfileID int    `toml:"quality_profile_id"`
	Tags             []int  `toml:"tags"`
}

// Predicate is one condition of a custom rule.
type Predicate struct {
	Field  string   `toml:"field"`
	Op     string   `toml:"op"`
	Value  string   `toml:"value"`
	Values []string `toml:"values"`
}

// Rule is a custom classification rule attached to a library.
type Rule struct {
	Name       string      `toml:"name"`
	Priority   int         `toml:"priority"`
	Enabled    bool        `toml:"enabled"`
	Predicates []Predicate `toml:"predicates"`
}

// Library is a destination library definition.
type Library struct {
	ID          int64        `toml:"id"`
	Name        string       `toml:"name"`
	MediaType   string       `toml:"media_type"`
	Enabled     bool         `toml:"enabled"`
	Priority    int          `toml:"priority"`
	Description string       `toml:"description"`
	Route       LibraryRoute `toml:"route"`
	Rules       []Rule       `toml:"rules"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	Classification bool   `toml:"classification"`
	RouteFailures  bool   `toml:"route_failures"`
	TaskFailures   bool   `toml:"task_failures"`
	Batches        bool   `toml:"batches"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format         string `toml:"format"`
	Level          string `toml:"level"`
	FileMaxSizeMB  int    `toml:"file_max_size_mb"`
	FileMaxBackups int    `toml:"file_max_backups"`
	FileMaxAgeDays int    `toml:"file_max_age_days"`
	FileCompress   bool   `toml:"file_compress"`
}

// Batch contains reclassification batch defaults.
type Batch struct {
	PauseOnError bool `toml:"pause_on_error"`
}

// Config encapsulates all configuration values for shelver.
//
// Configuration sections by subsystem:
//   - Paths: data/log directories and API bind address
//   - Database: SQLite or PostgreSQL store
//   - Queue, Worker: task retry policy and worker loop timing
//   - TMDB, Cache: metadata enrichment
//   - LLM: AI classifier fallback
//   - Routers, Libraries: destinations, routing and custom rules
//   - Notifications: ntfy push notification settings
//   - Logging: log format, level, and file rotation
type Config struct {
	Paths         Paths         `toml:"paths"`
	Database      Database      `toml:"database"`
	Queue         Queue         `toml:"queue"`
	Worker        Worker        `toml:"worker"`
	TMDB          TMDB          `toml:"tmdb"`
	LLM           LLM           `toml:"llm"`
	Cache         Cache         `toml:"cache"`
	Routers       []Router      `toml:"routers"`
	Libraries     []Library     `toml:"libraries"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
	Batch         Batch         `toml:"batch"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized. A .env file next to the working directory or
// the config file is loaded first so environment fallbacks can come from it.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	loadDotEnv(filepath.Join(filepath.Dir(resolvedPath), ".env"), ".env")

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

// loadDotEnv never overrides variables already present in the environment.
func loadDotEnv(paths ...string) {
	for _, p := range paths {
		if info, err := os.Stat(p); err != nil || info.IsDir() {
			continue
		}
		_ = godotenv.Load(p)
	}
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("shelver.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DaemonLockPath returns the lock file guarding a single running daemon.
func (c *Config) DaemonLockPath() string {
	return filepath.Join(c.Paths.DataDir, "shelver.lock")
}

// DatabasePath returns the SQLite file path used when no DSN is configured.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "shelver.db")
}

// LogFilePath returns the rotating log file location.
func (c *Config) LogFilePath() string {
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		return ""
	}
	return filepath.Join(c.Paths.LogDir, "shelver.log")
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// LLMConfig contains the AI classifier connection settings.
type LLMConfig struct {
	APIKey         string
	BaseURL        string
	Model          string
	Referer        string
	Title          string
	TimeoutSeconds int
}

// GetLLM returns the AI connection settings.
func (c *Config) GetLLM() LLMConfig {
	return LLMConfig{
		APIKey:         strings.TrimSpace(c.LLM.APIKey),
		BaseURL:        strings.TrimSpace(c.LLM.BaseURL),
		Model:          strings.TrimSpace(c.LLM.Model),
		Referer:        strings.TrimSpace(c.LLM.Referer),
		Title:          strings.TrimSpace(c.LLM.Title),
		TimeoutSeconds: c.LLM.TimeoutSeconds,
	}
}

// Router returns the router definition with the given name.
func (c *Config) Router(name string) (Router, bool) {
	name = strings.TrimSpace(name)
	for _, r := range c.Routers {
		if strings.EqualFold(r.Name, name) {
			return r, true
		}
	}
	return Router{}, false
}
