package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizeStorage(); err != nil {
		return err
	}
	c.normalizePipeline()
	c.normalizeLLM()
	c.normalizeImage()
	if err := c.normalizeClassifier(); err != nil {
		return err
	}
	if err := c.normalizeLease(); err != nil {
		return err
	}
	c.API.Bind = strings.TrimSpace(c.API.Bind)
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	return c.normalizeLogging()
}

func (c *Config) normalizeStorage() error {
	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	c.Storage.Endpoint = strings.TrimSpace(c.Storage.Endpoint)
	c.Storage.Bucket = strings.TrimSpace(c.Storage.Bucket)
	c.Storage.Region = strings.TrimSpace(c.Storage.Region)
	c.Storage.AccessKey = firstNonEmpty(c.Storage.AccessKey, "POSTFORGE_STORAGE_ACCESS_KEY", "AWS_ACCESS_KEY_ID")
	c.Storage.SecretKey = firstNonEmpty(c.Storage.SecretKey, "POSTFORGE_STORAGE_SECRET_KEY", "AWS_SECRET_ACCESS_KEY")
	if c.Storage.Endpoint == "" {
		if value, ok := os.LookupEnv("POSTFORGE_STORAGE_ENDPOINT"); ok {
			c.Storage.Endpoint = strings.TrimSpace(value)
		}
	}
	// minio-go expects host[:port]; scheme is expressed through use_ssl.
	if rest, ok := strings.CutPrefix(c.Storage.Endpoint, "https://"); ok {
		c.Storage.Endpoint = rest
		c.Storage.UseSSL = true
	} else if rest, ok := strings.CutPrefix(c.Storage.Endpoint, "http://"); ok {
		c.Storage.Endpoint = rest
		c.Storage.UseSSL = false
	}
	c.Storage.Endpoint = strings.TrimSuffix(c.Storage.Endpoint, "/")

	var err error
	if c.Storage.SQLitePath, err = expandPath(strings.TrimSpace(c.Storage.SQLitePath)); err != nil {
		return fmt.Errorf("storage.sqlite_path: %w", err)
	}
	return nil
}

func (c *Config) normalizePipeline() {
	platforms := make([]string, 0, len(c.Pipeline.Platforms))
	seen := make(map[string]struct{}, len(c.Pipeline.Platforms))
	for _, p := range c.Pipeline.Platforms {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		platforms = append(platforms, p)
	}
	c.Pipeline.Platforms = platforms

	for _, prefix := range []*string{
		&c.Pipeline.GoalPrefix,
		&c.Pipeline.ContentPrefix,
		&c.Pipeline.DraftsPrefix,
		&c.Pipeline.ReadyPrefix,
		&c.Pipeline.ProfilePrefix,
		&c.Pipeline.RulesPrefix,
	} {
		*prefix = strings.Trim(strings.TrimSpace(*prefix), "/")
	}
}

func (c *Config) normalizeLLM() {
	c.LLM.APIKey = firstNonEmpty(c.LLM.APIKey, "LLM_API_KEY", "OPENROUTER_API_KEY", "GEMINI_API_KEY")
	c.LLM.BaseURL = strings.TrimSpace(c.LLM.BaseURL)
	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = defaultLLMBaseURL
	}
	c.LLM.Model = strings.TrimSpace(c.LLM.Model)
	if c.LLM.Model == "" {
		c.LLM.Model = defaultLLMModel
	}
	c.LLM.Referer = strings.TrimSpace(c.LLM.Referer)
	c.LLM.Title = strings.TrimSpace(c.LLM.Title)
}

func (c *Config) normalizeImage() {
	c.Image.APIKey = firstNonEmpty(c.Image.APIKey, "IMAGE_API_KEY", "AI_HORDE_API_KEY")
	if c.Image.APIKey == "" {
		c.Image.APIKey = anonymousImageKey
	}
	c.Image.BaseURL = strings.TrimSuffix(strings.TrimSpace(c.Image.BaseURL), "/")
	if c.Image.BaseURL == "" {
		c.Image.BaseURL = defaultImageBaseURL
	}
	c.Image.Sampler = strings.TrimSpace(c.Image.Sampler)
}

func (c *Config) normalizeClassifier() error {
	c.Classifier.RulesPath = strings.TrimSpace(c.Classifier.RulesPath)
	if c.Classifier.RulesPath != "" {
		var err error
		if c.Classifier.RulesPath, err = expandPath(c.Classifier.RulesPath); err != nil {
			return fmt.Errorf("classifier.rules_path: %w", err)
		}
	}
	return nil
}

func (c *Config) normalizeLease() error {
	c.Lease.Backend = strings.ToLower(strings.TrimSpace(c.Lease.Backend))
	if c.Lease.Backend == "" {
		c.Lease.Backend = LeaseNone
	}
	if strings.TrimSpace(c.Lease.Dir) == "" {
		c.Lease.Dir = defaultStateDir
	}
	var err error
	if c.Lease.Dir, err = expandPath(strings.TrimSpace(c.Lease.Dir)); err != nil {
		return fmt.Errorf("lease.dir: %w", err)
	}
	c.Lease.RedisAddr = strings.TrimSpace(c.Lease.RedisAddr)
	c.Lease.RedisPassword = firstNonEmpty(c.Lease.RedisPassword, "REDIS_PASSWORD")
	c.Lease.KeyPrefix = strings.TrimSpace(c.Lease.KeyPrefix)
	if c.Lease.KeyPrefix == "" {
		c.Lease.KeyPrefix = defaultLeasePrefix
	}
	return nil
}

func (c *Config) normalizeLogging() error {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if strings.TrimSpace(c.Logging.Dir) == "" {
		return nil
	}
	var err error
	if c.Logging.Dir, err = expandPath(strings.TrimSpace(c.Logging.Dir)); err != nil {
		return fmt.Errorf("logging.dir: %w", err)
	}
	return nil
}

// firstNonEmpty returns value when set, otherwise the first non-empty environment variable.
func firstNonEmpty(value string, envKeys ...string) string {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		return trimmed
	}
	for _, key := range envKeys {
		if env, ok := os.LookupEnv(key); ok && strings.TrimSpace(env) != "" {
			return strings.TrimSpace(env)
		}
	}
	return ""
}
