package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Storage selects and configures the object store backend.
type Storage struct {
	Backend        string `toml:"backend"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	SQLitePath     string `toml:"sqlite_path"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Pipeline describes the key namespace shared by all stages.
type Pipeline struct {
	Platforms     []string `toml:"platforms"`
	GoalPrefix    string   `toml:"goal_prefix"`
	ContentPrefix string   `toml:"content_prefix"`
	DraftsPrefix  string   `toml:"drafts_prefix"`
	ReadyPrefix   string   `toml:"ready_prefix"`
	ProfilePrefix string   `toml:"profile_prefix"`
	RulesPrefix   string   `toml:"rules_prefix"`
}

// Stage holds per-stage scheduling knobs. Durations are in seconds.
type Stage struct {
	Enabled          bool `toml:"enabled"`
	PollInterval     int  `toml:"poll_interval"`
	TransformTimeout int  `toml:"transform_timeout"`
	MaxItemsPerPass  int  `toml:"max_items_per_pass"`
}

// Interval returns the poll interval as a duration.
func (s Stage) Interval() time.Duration {
	return time.Duration(s.PollInterval) * time.Second
}

// Timeout returns the transform timeout as a duration.
func (s Stage) Timeout() time.Duration {
	return time.Duration(s.TransformTimeout) * time.Second
}

// Stages groups the three pipeline stages.
type Stages struct {
	Goal    Stage `toml:"goal"`
	Content Stage `toml:"content"`
	Posts   Stage `toml:"posts"`
}

// Retry configures exponential backoff around external calls.
type Retry struct {
	MaxAttempts      int     `toml:"max_attempts"`
	BaseDelaySeconds int     `toml:"base_delay_seconds"`
	MaxDelaySeconds  int     `toml:"max_delay_seconds"`
	Multiplier       float64 `toml:"multiplier"`
}

// LLM contains connection settings for the content generation endpoint.
type LLM struct {
	APIKey             string `toml:"api_key"`
	BaseURL            string `toml:"base_url"`
	Model              string `toml:"model"`
	Referer            string `toml:"referer"`
	Title              string `toml:"title"`
	TimeoutSeconds     int    `toml:"timeout_seconds"`
	MinIntervalSeconds int    `toml:"min_interval_seconds"`
	MaxPenaltySeconds  int    `toml:"max_penalty_seconds"`
}

// Image contains settings for the asynchronous image synthesis service.
type Image struct {
	APIKey              string  `toml:"api_key"`
	BaseURL             string  `toml:"base_url"`
	Width               int     `toml:"width"`
	Height              int     `toml:"height"`
	Steps               int     `toml:"steps"`
	CFGScale            float64 `toml:"cfg_scale"`
	Sampler             string  `toml:"sampler"`
	PollIntervalSeconds int     `toml:"poll_interval_seconds"`
	MaxPolls            int     `toml:"max_polls"`
	TimeoutSeconds      int     `toml:"timeout_seconds"`
	MinIntervalSeconds  int     `toml:"min_interval_seconds"`
	MaxPenaltySeconds   int     `toml:"max_penalty_seconds"`
}

// Classifier points at the production-identity rules.
type Classifier struct {
	RulesPath string   `toml:"rules_path"`
	Allow     []string `toml:"allow"`
	Deny      []string `toml:"deny"`
}

// Lease configures the single-active-scheduler guard.
type Lease struct {
	Backend       string `toml:"backend"`
	Dir           string `toml:"dir"`
	RedisAddr     string `toml:"redis_addr"`
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db"`
	KeyPrefix     string `toml:"key_prefix"`
	TTLSeconds    int    `toml:"ttl_seconds"`
}

// API configures the HTTP status surface. An empty bind disables it.
type API struct {
	Bind string `toml:"bind"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	Quarantine     bool   `toml:"quarantine"`
}

// Workflow contains scheduler timing shared by every stage.
type Workflow struct {
	ErrorRetryInterval int `toml:"error_retry_interval"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
	Dir    string `toml:"dir"`
}

// Config encapsulates all configuration values for postforge.
//
// Configuration sections by subsystem:
//   - Storage: object store backend and credentials
//   - Pipeline: platforms and key prefixes
//   - Stages: per-stage poll cadence and transform timeouts
//   - Retry: backoff policy for external calls
//   - LLM / Image: transform service endpoints
//   - Classifier: production identity rules
//   - Lease: single active scheduler guard
//   - API / Notifications / Workflow / Logging: operator surface
type Config struct {
	Storage       Storage       `toml:"storage"`
	Pipeline      Pipeline      `toml:"pipeline"`
	Stages        Stages        `toml:"stages"`
	Retry         Retry         `toml:"retry"`
	LLM           LLM           `toml:"llm"`
	Image         Image         `toml:"image"`
	Classifier    Classifier    `toml:"classifier"`
	Lease         Lease         `toml:"lease"`
	API           API           `toml:"api"`
	Notifications Notifications `toml:"notifications"`
	Workflow      Workflow      `toml:"workflow"`
	Logging       Logging       `toml:"logging"`
}

// Stage returns the settings for a stage by id.
func (c *Config) Stage(id string) (Stage, bool) {
	switch id {
	case StageGoal:
		return c.Stages.Goal, true
	case StageContent:
		return c.Stages.Content, true
	case StagePosts:
		return c.Stages.Posts, true
	default:
		return Stage{}, false
	}
}

// Stage identifiers.
const (
	StageGoal    = "goal"
	StageContent = "content"
	StagePosts   = "posts"
)

// StageIDs lists every stage in pipeline order.
func StageIDs() []string {
	return []string{StageGoal, StageContent, StagePosts}
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
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

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		if _, err := os.Stat(expanded); err != nil {
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
	projectPath, err := filepath.Abs("postforge.toml")
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

// EnsureDirectories creates local directories used by the daemon.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Logging.Dir}
	if c.Lease.Backend == LeaseFile {
		dirs = append(dirs, c.Lease.Dir)
	}
	if c.Storage.Backend == StorageSQLite {
		dirs = append(dirs, filepath.Dir(c.Storage.SQLitePath))
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
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
	absolute, err := filepath.Abs(filepath.Clean(pathValue))
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", pathValue, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// SampleConfig returns the embedded sample configuration.
func SampleConfig() string {
	return sampleConfig
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o600); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
