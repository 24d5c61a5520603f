package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"dario.cat/mergo"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// defaults returns the built-in configuration merged underneath whatever
// the user supplies in axiomme.yaml.
func defaults() Config {
	return Config{
		RootDir:     "./data/tree",
		StateDBPath: "./data/axiomme.db",
		HTTPPort:    8099,
		Retrieval: RetrievalConfig{
			Backend:        "memory",
			DefaultLimit:   10,
			BudgetMS:       2000,
			BudgetNodes:    5000,
			BudgetDepth:    32,
			TraceRetention: 30,
		},
		Outbox: OutboxConfig{
			PollInterval:            2 * time.Second,
			ReplayBatchSize:         50,
			IncludeDeadLetterEveryN: 5,
		},
		Mirror: MirrorConfig{
			Enabled:     false,
			Timeout:     5 * time.Second,
			RateLimitPS: 20,
		},
		Ingest: IngestConfig{
			StagingRoot: "temp/ingest",
		},
		OM: OMDefaults{
			ObservationMessageTokens:     30000,
			ObservationMaxTokensPerBatch: 8000,
			ObservationBufferTokens:      "disabled",
			ObservationBufferActivation:  0.8,
			ObservationBlockAfter:        1.5,
			ReflectionObservationTokens:  12000,
			ReflectionBufferActivation:   0.8,
			ReflectionBlockAfter:         1.5,
		},
	}
}

// Initialize loads configDir/axiomme.yaml and configDir/.env, merges the
// result over built-in defaults, and validates the outcome.
//
// Steps:
//  1. Load .env (best-effort; missing file is a warning, not an error).
//  2. Read and parse axiomme.yaml if present.
//  3. Merge user config over built-in defaults.
//  4. Validate.
func Initialize(configDir string) (*Config, error) {
	log := slog.With("component", "config", "config_dir", configDir)

	envPath := filepath.Join(configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Warn("could not load .env, continuing with existing environment", "path", envPath, "error", err)
	} else {
		log.Info("loaded environment file", "path", envPath)
	}

	cfg := defaults()

	yamlPath := filepath.Join(configDir, "axiomme.yaml")
	raw, err := os.ReadFile(yamlPath)
	switch {
	case err == nil:
		var userCfg Config
		if err := yaml.Unmarshal(raw, &userCfg); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", yamlPath, err)
		}
		if err := mergo.Merge(&cfg, userCfg, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("config: merging %s over defaults: %w", yamlPath, err)
		}
	case os.IsNotExist(err):
		log.Warn("no axiomme.yaml found, using built-in defaults", "path", yamlPath)
	default:
		return nil, fmt.Errorf("config: reading %s: %w", yamlPath, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log.Info("configuration initialized",
		"root_dir", cfg.RootDir,
		"backend", cfg.Retrieval.Backend,
		"mirror_enabled", cfg.Mirror.Enabled)

	return &cfg, nil
}
