package config

import "time"

// LLMConfig configures the §4.4 LLM Provider abstraction: the native
// Anthropic provider, the generic OpenAI-compatible fallback, and the
// process-wide failover flag.
type LLMConfig struct {
	Native   NativeLLMConfig   `yaml:"native"`
	Generic  GenericLLMConfig  `yaml:"generic"`
	Failover FailoverLLMConfig `yaml:"failover"`

	// ThinkingBudget is added to MaxTokens when thinking is enabled (§4.4 item 3).
	ThinkingBudget int `yaml:"thinking_budget"`

	// ReservedOutputTokens is subtracted from the context window when
	// preflight-estimating overflow (§4.10 step 14, §9 open question: the
	// reservation is max_tokens only, thinking_budget is not additionally
	// reserved — documented in DESIGN.md).
	ReservedOutputTokens int `yaml:"reserved_output_tokens"`

	// ContextWindow is the provider's token budget used for overflow
	// estimation (§4.11).
	ContextWindow int `yaml:"context_window"`
}

// NativeLLMConfig configures internal/llm/providers.AnthropicConfig.
type NativeLLMConfig struct {
	APIKey       string `yaml:"api_key"`
	BaseURL      string `yaml:"base_url"`
	DefaultModel string `yaml:"default_model"`
}

// GenericLLMConfig configures internal/llm/providers.GenericConfig.
type GenericLLMConfig struct {
	APIKey       string `yaml:"api_key"`
	BaseURL      string `yaml:"base_url"`
	DefaultModel string `yaml:"default_model"`
}

// FailoverLLMConfig configures internal/llm.FailoverConfig.
type FailoverLLMConfig struct {
	EmergencyEndpointURL string        `yaml:"emergency_endpoint_url"`
	EmergencyModel       string        `yaml:"emergency_model"`
	RecoveryTimeout      time.Duration `yaml:"recovery_timeout"`
}

func (c *LLMConfig) applyDefaults() {
	if c.ThinkingBudget == 0 {
		c.ThinkingBudget = 4096
	}
	if c.ContextWindow == 0 {
		c.ContextWindow = 200000
	}
	if c.ReservedOutputTokens == 0 {
		c.ReservedOutputTokens = 8192
	}
	if c.Failover.RecoveryTimeout == 0 {
		c.Failover.RecoveryTimeout = 5 * time.Minute
	}
}
