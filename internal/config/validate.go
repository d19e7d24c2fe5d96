package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var namePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validateStages(); err != nil {
		return err
	}
	if err := c.validateRetry(); err != nil {
		return err
	}
	if err := c.validateTransforms(); err != nil {
		return err
	}
	if err := c.validateLease(); err != nil {
		return err
	}
	if c.Workflow.ErrorRetryInterval <= 0 {
		return errors.New("workflow.error_retry_interval must be positive")
	}
	if c.Notifications.RequestTimeout <= 0 {
		return errors.New("notifications.request_timeout must be positive")
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	return nil
}

func (c *Config) validateStorage() error {
	switch c.Storage.Backend {
	case StorageS3:
		if c.Storage.Endpoint == "" {
			defaultPath, err := DefaultConfigPath()
			if err != nil {
				defaultPath = defaultConfigPath
			}
			return fmt.Errorf("storage.endpoint is required for the s3 backend. Set POSTFORGE_STORAGE_ENDPOINT or edit %s (create with 'postforge config init')", defaultPath)
		}
		if c.Storage.Bucket == "" {
			return errors.New("storage.bucket must be set")
		}
		if c.Storage.AccessKey == "" || c.Storage.SecretKey == "" {
			return errors.New("storage.access_key and storage.secret_key are required for the s3 backend")
		}
	case StorageSQLite:
		if c.Storage.SQLitePath == "" {
			return errors.New("storage.sqlite_path must be set for the sqlite backend")
		}
	case StorageMemory:
	default:
		return fmt.Errorf("storage.backend: unsupported value %q", c.Storage.Backend)
	}
	if c.Storage.RequestTimeout <= 0 {
		return errors.New("storage.request_timeout must be positive")
	}
	return nil
}

func (c *Config) validatePipeline() error {
	if len(c.Pipeline.Platforms) == 0 {
		return errors.New("pipeline.platforms must list at least one platform")
	}
	for _, p := range c.Pipeline.Platforms {
		if !namePattern.MatchString(p) {
			return fmt.Errorf("pipeline.platforms: invalid platform %q", p)
		}
	}
	prefixes := map[string]string{
		"pipeline.goal_prefix":    c.Pipeline.GoalPrefix,
		"pipeline.content_prefix": c.Pipeline.ContentPrefix,
		"pipeline.drafts_prefix":  c.Pipeline.DraftsPrefix,
		"pipeline.ready_prefix":   c.Pipeline.ReadyPrefix,
		"pipeline.profile_prefix": c.Pipeline.ProfilePrefix,
		"pipeline.rules_prefix":   c.Pipeline.RulesPrefix,
	}
	seen := make(map[string]string, len(prefixes))
	for field, value := range prefixes {
		if value == "" {
			return fmt.Errorf("%s must be set", field)
		}
		if strings.Contains(value, "/") || strings.HasPrefix(value, "failed_") {
			return fmt.Errorf("%s: %q must be a single path segment outside the failed_ namespace", field, value)
		}
		if other, ok := seen[value]; ok {
			return fmt.Errorf("%s and %s must differ (both %q)", field, other, value)
		}
		seen[value] = field
	}
	return nil
}

func (c *Config) validateStages() error {
	for _, id := range StageIDs() {
		stage, _ := c.Stage(id)
		if stage.PollInterval <= 0 {
			return fmt.Errorf("stages.%s.poll_interval must be positive", id)
		}
		if stage.TransformTimeout <= 0 {
			return fmt.Errorf("stages.%s.transform_timeout must be positive", id)
		}
		if stage.MaxItemsPerPass < 0 {
			return fmt.Errorf("stages.%s.max_items_per_pass must be >= 0", id)
		}
	}
	return nil
}

func (c *Config) validateRetry() error {
	if c.Retry.MaxAttempts < 1 {
		return errors.New("retry.max_attempts must be at least 1")
	}
	if c.Retry.BaseDelaySeconds <= 0 {
		return errors.New("retry.base_delay_seconds must be positive")
	}
	if c.Retry.MaxDelaySeconds < c.Retry.BaseDelaySeconds {
		return errors.New("retry.max_delay_seconds must be >= retry.base_delay_seconds")
	}
	if c.Retry.Multiplier < 1 {
		return errors.New("retry.multiplier must be >= 1")
	}
	return nil
}

func (c *Config) validateTransforms() error {
	if c.Stages.Goal.Enabled && c.LLM.APIKey == "" {
		return errors.New("llm.api_key is required when stages.goal is enabled (or set LLM_API_KEY)")
	}
	if c.LLM.TimeoutSeconds <= 0 {
		return errors.New("llm.timeout_seconds must be positive")
	}
	if c.LLM.MinIntervalSeconds < 0 || c.LLM.MaxPenaltySeconds < 0 {
		return errors.New("llm rate limits must be >= 0")
	}
	if c.Image.Width <= 0 || c.Image.Height <= 0 || c.Image.Width%64 != 0 || c.Image.Height%64 != 0 {
		return errors.New("image.width and image.height must be positive multiples of 64")
	}
	if c.Image.Steps <= 0 {
		return errors.New("image.steps must be positive")
	}
	if c.Image.PollIntervalSeconds <= 0 || c.Image.MaxPolls <= 0 {
		return errors.New("image.poll_interval_seconds and image.max_polls must be positive")
	}
	if c.Image.TimeoutSeconds <= 0 {
		return errors.New("image.timeout_seconds must be positive")
	}
	if c.Image.MinIntervalSeconds < 0 || c.Image.MaxPenaltySeconds < 0 {
		return errors.New("image rate limits must be >= 0")
	}
	return nil
}

func (c *Config) validateLease() error {
	switch c.Lease.Backend {
	case LeaseNone:
	case LeaseFile:
		if c.Lease.Dir == "" {
			return errors.New("lease.dir must be set for the file backend")
		}
	case LeaseRedis:
		if c.Lease.RedisAddr == "" {
			return errors.New("lease.redis_addr must be set for the redis backend")
		}
		if c.Lease.TTLSeconds <= 0 {
			return errors.New("lease.ttl_seconds must be positive for the redis backend")
		}
	default:
		return fmt.Errorf("lease.backend: unsupported value %q", c.Lease.Backend)
	}
	return nil
}
