// Package config loads MIRA's configuration tree from YAML (with $include
// resolution) and overlays secrets from the environment, the way
// cmd/mira/main.go overlaid provider tokens in the teacher.
package config

import (
	"fmt"
	"os"

	"github.com/mira-ai/mira/internal/memory"
)

// MemoryConfig is the §4.12 Memory Relevance Service configuration: vector
// backend selection, embeddings provider, and search defaults. Reuses
// internal/memory.Config directly so the orchestrator wiring code only
// needs to pass cfg.Memory straight into memory.NewManager.
type MemoryConfig = memory.Config

// Config is the root configuration tree for one MIRA process.
type Config struct {
	Version int `yaml:"version"`

	Server   ServerConfig   `yaml:"server"`
	LLM      LLMConfig      `yaml:"llm"`
	Memory   MemoryConfig   `yaml:"memory"`
	KV       KVConfig       `yaml:"kv"`
	SQL      SQLConfig      `yaml:"sql"`
	Segments SegmentsConfig `yaml:"segments"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// KVConfig configures the Valkey/Redis connection backing the KV store
// (§6: hset/hget/json_set/json_get/TTL, chat_lock, container cache).
type KVConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// SQLConfig configures the Postgres pool backing the Unit of Work /
// continuum repository (§5: per-checkout RLS session variable).
type SQLConfig struct {
	DSN            string `yaml:"dsn"`
	MaxConnections int32  `yaml:"max_connections"`
}

// SegmentsConfig carries the §4.13 segment-lifecycle timing knobs.
type SegmentsConfig struct {
	TimeoutMinutes       int `yaml:"timeout_minutes"`
	FallbackPruneCount   int `yaml:"fallback_prune_count"`
	DriftWindowSize      int `yaml:"drift_window_size"`
	DriftThresholdPct    int `yaml:"drift_threshold_pct"`
}

// LoggingConfig configures the observability.Logger.
type LoggingConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	AddSource bool   `yaml:"add_source"`
}

// Load reads path (resolving $include), decodes it into a Config, applies
// defaults, overlays secrets from the environment, and validates the
// result. Mirrors the teacher's LoadRaw -> decode -> overlay -> validate
// pipeline in cmd/mira/main.go.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("config: load %s: %w", path, err)
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	cfg.applyDefaults()
	cfg.overlayEnv()
	if err := ValidateVersion(cfg.Version); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Segments.TimeoutMinutes == 0 {
		c.Segments.TimeoutMinutes = 60
	}
	if c.Segments.FallbackPruneCount == 0 {
		c.Segments.FallbackPruneCount = 6
	}
	if c.Segments.DriftWindowSize == 0 {
		c.Segments.DriftWindowSize = 4
	}
	if c.Segments.DriftThresholdPct == 0 {
		c.Segments.DriftThresholdPct = 35
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	c.LLM.applyDefaults()
}

// overlayEnv overlays secret-bearing fields from the environment, matching
// cmd/mira/main.go's pattern of never accepting API keys as plain YAML in
// committed config.
func (c *Config) overlayEnv() {
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		c.LLM.Native.APIKey = v
	}
	if v := os.Getenv("MIRA_GENERIC_API_KEY"); v != "" {
		c.LLM.Generic.APIKey = v
	}
	if v := os.Getenv("MIRA_EMBEDDINGS_API_KEY"); v != "" {
		c.Memory.Embeddings.APIKey = v
	}
	if v := os.Getenv("MIRA_KV_PASSWORD"); v != "" {
		c.KV.Password = v
	}
	if v := os.Getenv("MIRA_SQL_DSN"); v != "" {
		c.SQL.DSN = v
	}
}

// Validate checks for a minimally usable configuration.
func (c *Config) Validate() error {
	if c.SQL.DSN == "" {
		return fmt.Errorf("sql.dsn is required")
	}
	if c.KV.Addr == "" {
		return fmt.Errorf("kv.addr is required")
	}
	return nil
}

// Firehose reports whether MIRA_FIREHOSE is set (§6 outbound contracts:
// mirrors every outbound LLM request to firehose_output.json for debugging).
func Firehose() bool {
	return os.Getenv("MIRA_FIREHOSE") != ""
}
