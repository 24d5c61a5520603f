// Package config loads and validates the axiomme umbrella configuration:
// storage locations, retrieval backend and budgets, outbox polling, mirror,
// ingest, and observational-memory defaults.
package config

import (
	"fmt"
	"time"
)

// Config is the immutable, fully-resolved configuration passed down by
// constructor injection to every component.
type Config struct {
	// RootDir is the filesystem root backing every axiom:// scope.
	RootDir string `yaml:"root_dir"`

	// StateDBPath is the sqlite database file backing the state store.
	StateDBPath string `yaml:"state_db_path"`

	HTTPPort int `yaml:"http_port"`

	Retrieval RetrievalConfig `yaml:"retrieval"`
	Outbox    OutboxConfig    `yaml:"outbox"`
	Mirror    MirrorConfig    `yaml:"mirror"`
	Ingest    IngestConfig    `yaml:"ingest"`
	OM        OMDefaults      `yaml:"observational_memory"`
}

// RetrievalConfig controls the retrieval engine's backend, default result
// limit, search budgets, and trace retention.
type RetrievalConfig struct {
	// Backend selects the retrieval execution path: "memory" (index
	// only) or "sqlite" (FTS with fallback to memory on error).
	Backend string `yaml:"backend"`

	DefaultLimit   int `yaml:"default_limit"`
	BudgetMS       int `yaml:"budget_ms"`
	BudgetNodes    int `yaml:"budget_nodes"`
	BudgetDepth    int `yaml:"budget_depth"`
	TraceRetention int `yaml:"trace_retention_days"`
}

// OutboxConfig controls the replay worker's polling cadence and batch
// sizes.
type OutboxConfig struct {
	PollInterval     time.Duration `yaml:"poll_interval"`
	ReplayBatchSize  int           `yaml:"replay_batch_size"`
	IncludeDeadLetterEveryN int    `yaml:"include_dead_letter_every_n"`
}

// MirrorConfig configures the optional external vector-store mirror.
type MirrorConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Endpoint    string        `yaml:"endpoint"`
	Collection  string        `yaml:"collection"`
	Timeout     time.Duration `yaml:"timeout"`
	RateLimitPS float64       `yaml:"rate_limit_per_second"`
}

// IngestConfig controls ingest staging, including the optional S3-compatible
// remote source.
type IngestConfig struct {
	StagingRoot string      `yaml:"staging_root"`
	RemoteStore MinioConfig `yaml:"remote_store"`
}

// MinioConfig configures the optional minio-go remote staging client.
type MinioConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key_env"`
	SecretKey string `yaml:"secret_key_env"`
	UseSSL    bool   `yaml:"use_ssl"`
	Bucket    string `yaml:"bucket"`
}

// OMDefaults are the flat observational-memory thresholds applied when a
// scope has no per-scope override.
type OMDefaults struct {
	ObservationMessageTokens    int     `yaml:"observation_message_tokens"`
	ObservationMaxTokensPerBatch int    `yaml:"observation_max_tokens_per_batch"`
	ObservationBufferTokens     string  `yaml:"observation_buffer_tokens"` // "disabled" | "abs:<n>" | "ratio:<r>"
	ObservationBufferActivation float64 `yaml:"observation_buffer_activation"`
	ObservationBlockAfter       float64 `yaml:"observation_block_after"`

	ReflectionObservationTokens int     `yaml:"reflection_observation_tokens"`
	ReflectionBufferActivation  float64 `yaml:"reflection_buffer_activation"`
	ReflectionBlockAfter        float64 `yaml:"reflection_block_after"`

	ShareTokenBudget bool `yaml:"share_token_budget"`
	TotalTokenBudget int  `yaml:"total_token_budget"`
}

// Validate checks structural invariants that Initialize cannot repair by
// merging in defaults.
func (c *Config) Validate() error {
	if c.RootDir == "" {
		return fmt.Errorf("config: root_dir must not be empty")
	}
	if c.StateDBPath == "" {
		return fmt.Errorf("config: state_db_path must not be empty")
	}
	if c.Retrieval.Backend != "memory" && c.Retrieval.Backend != "sqlite" {
		return fmt.Errorf("config: retrieval.backend must be memory or sqlite, got %q", c.Retrieval.Backend)
	}
	return nil
}
