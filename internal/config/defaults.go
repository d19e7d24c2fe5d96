package config

const (
	defaultConfigPath = "~/.config/postforge/config.toml"
	defaultStateDir   = "~/.local/state/postforge"
	defaultLogDir     = "~/.local/state/postforge/logs"
	defaultSQLitePath = "~/.local/share/postforge/objects.db"

	defaultLLMBaseURL   = "https://openrouter.ai/api/v1/chat/completions"
	defaultLLMModel     = "google/gemini-2.0-flash-001"
	defaultImageBaseURL = "https://stablehorde.net/api/v2"
	anonymousImageKey   = "0000000000"
	defaultAPIBind      = "127.0.0.1:7490"
	defaultLeasePrefix  = "postforge:lease"
)

// Storage backends.
const (
	StorageS3     = "s3"
	StorageSQLite = "sqlite"
	StorageMemory = "memory"
)

// Lease backends.
const (
	LeaseNone  = "none"
	LeaseFile  = "file"
	LeaseRedis = "redis"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Storage: Storage{
			Backend:        StorageS3,
			Region:         "auto",
			Bucket:         "tasks",
			UseSSL:         true,
			SQLitePath:     defaultSQLitePath,
			RequestTimeout: 30,
		},
		Pipeline: Pipeline{
			Platforms:     []string{"instagram", "twitter", "facebook"},
			GoalPrefix:    "goal",
			ContentPrefix: "generated_content",
			DraftsPrefix:  "next_posts",
			ReadyPrefix:   "ready_post",
			ProfilePrefix: "profiles",
			RulesPrefix:   "rules",
		},
		Stages: Stages{
			Goal:    Stage{Enabled: true, PollInterval: 60, TransformTimeout: 120},
			Content: Stage{Enabled: true, PollInterval: 10, TransformTimeout: 30},
			Posts:   Stage{Enabled: true, PollInterval: 10, TransformTimeout: 900},
		},
		Retry: Retry{
			MaxAttempts:      3,
			BaseDelaySeconds: 2,
			MaxDelaySeconds:  10,
			Multiplier:       2,
		},
		LLM: LLM{
			BaseURL:            defaultLLMBaseURL,
			Model:              defaultLLMModel,
			Referer:            "https://github.com/postforge/postforge",
			Title:              "postforge",
			TimeoutSeconds:     60,
			MinIntervalSeconds: 4,
			MaxPenaltySeconds:  60,
		},
		Image: Image{
			BaseURL:             defaultImageBaseURL,
			Width:               512,
			Height:              512,
			Steps:               30,
			CFGScale:            7.5,
			Sampler:             "k_euler_a",
			PollIntervalSeconds: 10,
			MaxPolls:            60,
			TimeoutSeconds:      30,
			MinIntervalSeconds:  2,
			MaxPenaltySeconds:   120,
		},
		Lease: Lease{
			Backend:    LeaseFile,
			Dir:        defaultStateDir,
			KeyPrefix:  defaultLeasePrefix,
			TTLSeconds: 120,
		},
		API: API{Bind: defaultAPIBind},
		Notifications: Notifications{
			RequestTimeout: 10,
			Quarantine:     true,
		},
		Workflow: Workflow{ErrorRetryInterval: 30},
		Logging: Logging{
			Format: "console",
			Level:  "info",
			Dir:    defaultLogDir,
		},
	}
}
