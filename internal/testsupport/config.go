package testsupport

import (
	"path/filepath"
	"testing"

	"postforge/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Storage is in memory, leases are host-local files, and the API binds to an
// ephemeral port.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Storage.Backend = config.StorageMemory
	cfgVal.Storage.SQLitePath = filepath.Join(base, "objects.db")
	cfgVal.Pipeline.Platforms = []string{"instagram", "tiktok"}
	cfgVal.LLM.APIKey = "test"
	cfgVal.Lease.Dir = filepath.Join(base, "state")
	cfgVal.Logging.Dir = filepath.Join(base, "logs")
	cfgVal.API.Bind = "127.0.0.1:0"

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

// WithLLMKey sets the LLM API key on the test config.
func WithLLMKey(key string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.LLM.APIKey = key
	}
}

// WithPlatforms overrides the scanned platforms.
func WithPlatforms(platforms ...string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Pipeline.Platforms = platforms
	}
}

// WithLease selects the lease backend.
func WithLease(backend string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Lease.Backend = backend
	}
}

// WithOnlyStages enables the named stages and disables the rest.
func WithOnlyStages(ids ...string) ConfigOption {
	return func(b *configBuilder) {
		enabled := make(map[string]bool, len(ids))
		for _, id := range ids {
			enabled[id] = true
		}
		b.cfg.Stages.Goal.Enabled = enabled[config.StageGoal]
		b.cfg.Stages.Content.Enabled = enabled[config.StageContent]
		b.cfg.Stages.Posts.Enabled = enabled[config.StagePosts]
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Lease.Dir)
}
