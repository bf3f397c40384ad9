package config

const (
	defaultConfigPath          = "~/.config/shelver/config.toml"
	defaultDataDir             = "~/.local/share/shelver"
	defaultLogDir              = "~/.local/share/shelver/logs"
	defaultAPIBind             = "127.0.0.1:7488"
	defaultDatabaseDriver      = "sqlite"
	defaultMaxOpenConns        = 10
	defaultMaxIdleConns        = 5
	defaultMaxAttempts         = 5
	defaultRetentionDays       = 30
	defaultPurgeSchedule       = "@daily"
	defaultPollInterval        = 5
	defaultErrorRetryInterval  = 10
	defaultMaxConcurrent       = 1
	defaultHealthProbeInterval = 30
	defaultTMDBLanguage        = "en-US"
	defaultTMDBBaseURL         = "https://api.themoviedb.org/3"
	defaultTMDBTimeoutSeconds  = 10
	defaultLLMBaseURL          = "http://localhost:11434/v1/chat/completions"
	defaultLLMModel            = "llama3.1:8b"
	defaultLLMReferer          = "https://github.com/shelver/shelver"
	defaultLLMTitle            = "Shelver Classifier"
	defaultLLMTimeoutSeconds   = 60
	defaultCacheBackend        = "memory"
	defaultCacheTTLMinutes     = 360
	defaultRouterTimeout       = 30
	defaultNotifyTimeout       = 10
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"
	defaultLogMaxSizeMB        = 50
	defaultLogMaxBackups       = 5
	defaultLogMaxAgeDays       = 60
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
			APIBind: defaultAPIBind,
		},
		Database: Database{
			Driver:       defaultDatabaseDriver,
			MaxOpenConns: defaultMaxOpenConns,
			MaxIdleConns: defaultMaxIdleConns,
		},
		Queue: Queue{
			DefaultMaxAttempts: defaultMaxAttempts,
			RetentionDays:      defaultRetentionDays,
			PurgeSchedule:      defaultPurgeSchedule,
		},
		Worker: Worker{
			PollInterval:        defaultPollInterval,
			ErrorRetryInterval:  defaultErrorRetryInterval,
			MaxConcurrent:       defaultMaxConcurrent,
			HealthProbeInterval: defaultHealthProbeInterval,
		},
		TMDB: TMDB{
			BaseURL:        defaultTMDBBaseURL,
			Language:       defaultTMDBLanguage,
			TimeoutSeconds: defaultTMDBTimeoutSeconds,
		},
		LLM: LLM{
			BaseURL:        defaultLLMBaseURL,
			Model:          defaultLLMModel,
			Referer:        defaultLLMReferer,
			Title:          defaultLLMTitle,
			TimeoutSeconds: defaultLLMTimeoutSeconds,
		},
		Cache: Cache{
			Backend:    defaultCacheBackend,
			TTLMinutes: defaultCacheTTLMinutes,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
			Classification: false,
			RouteFailures:  true,
			TaskFailures:   true,
			Batches:        true,
		},
		Logging: Logging{
			Format:         defaultLogFormat,
			Level:          defaultLogLevel,
			FileMaxSizeMB:  defaultLogMaxSizeMB,
			FileMaxBackups: defaultLogMaxBackups,
			FileMaxAgeDays: defaultLogMaxAgeDays,
			FileCompress:   true,
		},
		Batch: Batch{
			PauseOnError: true,
		},
	}
}
