package config

import (
	"fmt"
	"os"
	"strings"

	"shelver/internal/media"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeDatabase()
	c.normalizeQueue()
	c.normalizeWorker()
	c.normalizeTMDB()
	c.normalizeLLM()
	c.normalizeCache()
	c.normalizeRouters()
	c.normalizeLibraries()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	if c.Paths.APIToken == "" {
		if value, ok := os.LookupEnv("SHELVER_API_TOKEN"); ok {
			c.Paths.APIToken = strings.TrimSpace(value)
		}
	}
	return nil
}

func (c *Config) normalizeDatabase() {
	c.Database.Driver = strings.ToLower(strings.TrimSpace(c.Database.Driver))
	switch c.Database.Driver {
	case "":
		c.Database.Driver = defaultDatabaseDriver
	case "postgresql", "pgx":
		c.Database.Driver = "postgres"
	case "sqlite3":
		c.Database.Driver = "sqlite"
	}
	c.Database.DSN = strings.TrimSpace(c.Database.DSN)
	if c.Database.DSN == "" {
		if value, ok := os.LookupEnv("SHELVER_DATABASE_DSN"); ok {
			c.Database.DSN = strings.TrimSpace(value)
		}
	}
	if c.Database.DSN == "" && c.Database.Driver == "sqlite" {
		c.Database.DSN = c.DatabasePath()
	}
	if c.Database.MaxOpenConns <= 0 {
		c.Database.MaxOpenConns = defaultMaxOpenConns
	}
	if c.Database.MaxIdleConns <= 0 {
		c.Database.MaxIdleConns = defaultMaxIdleConns
	}
}

func (c *Config) normalizeQueue() {
	if c.Queue.DefaultMaxAttempts <= 0 {
		c.Queue.DefaultMaxAttempts = defaultMaxAttempts
	}
	c.Queue.PurgeSchedule = strings.TrimSpace(c.Queue.PurgeSchedule)
	if c.Queue.PurgeSchedule == "" {
		c.Queue.PurgeSchedule = defaultPurgeSchedule
	}
}

func (c *Config) normalizeWorker() {
	if c.Worker.PollInterval <= 0 {
		c.Worker.PollInterval = defaultPollInterval
	}
	if c.Worker.ErrorRetryInterval <= 0 {
		c.Worker.ErrorRetryInterval = defaultErrorRetryInterval
	}
	if c.Worker.MaxConcurrent <= 0 {
		c.Worker.MaxConcurrent = defaultMaxConcurrent
	}
	if c.Worker.HealthProbeInterval < 0 {
		c.Worker.HealthProbeInterval = 0
	}
}

func (c *Config) normalizeTMDB() {
	c.TMDB.APIKey = strings.TrimSpace(c.TMDB.APIKey)
	if c.TMDB.APIKey == "" {
		if value, ok := os.LookupEnv("TMDB_API_KEY"); ok {
			c.TMDB.APIKey = strings.TrimSpace(value)
		}
	}
	c.TMDB.BaseURL = strings.TrimRight(strings.TrimSpace(c.TMDB.BaseURL), "/")
	if c.TMDB.BaseURL == "" {
		c.TMDB.BaseURL = defaultTMDBBaseURL
	}
	c.TMDB.Language = strings.TrimSpace(c.TMDB.Language)
	if c.TMDB.Language == "" {
		c.TMDB.Language = defaultTMDBLanguage
	}
	if c.TMDB.TimeoutSeconds <= 0 {
		c.TMDB.TimeoutSeconds = defaultTMDBTimeoutSeconds
	}
}

func (c *Config) normalizeLLM() {
	c.LLM.APIKey = strings.TrimSpace(c.LLM.APIKey)
	if c.LLM.APIKey == "" {
		if value, ok := os.LookupEnv("LLM_API_KEY"); ok {
			c.LLM.APIKey = strings.TrimSpace(value)
		}
	}
	c.LLM.BaseURL = strings.TrimSpace(c.LLM.BaseURL)
	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = defaultLLMBaseURL
	}
	c.LLM.Model = strings.TrimSpace(c.LLM.Model)
	if c.LLM.Model == "" {
		c.LLM.Model = defaultLLMModel
	}
	if strings.TrimSpace(c.LLM.Referer) == "" {
		c.LLM.Referer = defaultLLMReferer
	}
	if strings.TrimSpace(c.LLM.Title) == "" {
		c.LLM.Title = defaultLLMTitle
	}
	if c.LLM.TimeoutSeconds <= 0 {
		c.LLM.TimeoutSeconds = defaultLLMTimeoutSeconds
	}
}

func (c *Config) normalizeCache() {
	c.Cache.Backend = strings.ToLower(strings.TrimSpace(c.Cache.Backend))
	if c.Cache.Backend == "" {
		c.Cache.Backend = defaultCacheBackend
	}
	c.Cache.RedisURL = strings.TrimSpace(c.Cache.RedisURL)
	if c.Cache.TTLMinutes <= 0 {
		c.Cache.TTLMinutes = defaultCacheTTLMinutes
	}
}

func (c *Config) normalizeRouters() {
	for i := range c.Routers {
		r := &c.Routers[i]
		r.Name = strings.TrimSpace(r.Name)
		r.Kind = strings.ToLower(strings.TrimSpace(r.Kind))
		r.URL = strings.TrimRight(strings.TrimSpace(r.URL), "/")
		r.APIKey = strings.TrimSpace(r.APIKey)
		if r.TimeoutSeconds <= 0 {
			r.TimeoutSeconds = defaultRouterTimeout
		}
	}
}

func (c *Config) normalizeLibraries() {
	for i := range c.Libraries {
		lib := &c.Libraries[i]
		lib.Name = strings.TrimSpace(lib.Name)
		lib.MediaType = media.NormalizeType(lib.MediaType)
		lib.Description = strings.TrimSpace(lib.Description)
		lib.Route.Router = strings.TrimSpace(lib.Route.Router)
		lib.Route.RootFolder = strings.TrimSpace(lib.Route.RootFolder)
		for j := range lib.Rules {
			rule := &lib.Rules[j]
			rule.Name = strings.TrimSpace(rule.Name)
			for k := range rule.Predicates {
				p := &rule.Predicates[k]
				p.Field = strings.ToLower(strings.TrimSpace(p.Field))
				p.Op = strings.ToLower(strings.TrimSpace(p.Op))
				p.Value = strings.TrimSpace(p.Value)
			}
		}
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyTimeout
	}
}

func (c *Config) normalizeLogging() {
	format := strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if format == "" {
		format = defaultLogFormat
	}
	c.Logging.Format = format

	level := strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if level == "" {
		level = defaultLogLevel
	}
	c.Logging.Level = level

	if c.Logging.FileMaxSizeMB <= 0 {
		c.Logging.FileMaxSizeMB = defaultLogMaxSizeMB
	}
	if c.Logging.FileMaxBackups < 0 {
		c.Logging.FileMaxBackups = 0
	}
	if c.Logging.FileMaxAgeDays < 0 {
		c.Logging.FileMaxAgeDays = 0
	}
}
