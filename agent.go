package orchestrator

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"
)

// Default LLM settings for AgentConfig.
const (
	DefaultProvider    = "openai"
	DefaultModel       = "gpt-4o"
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 1000
)

// Retry bounds enforced by RetryConfig.Validate.
const (
	minRetryAttempts = 1
	maxRetryAttempts = 10
	minDelayBase     = 100 * time.Millisecond
	maxDelayBase     = 60 * time.Second
)

// ToolAllowList is the closed set of tool names an AgentConfig may
// reference. Registration (tools/builtin) and validation share it so the
// dispatcher and the allow-list cannot drift.
var ToolAllowList = []string{
	"get_current_time",
	"complex_api_call",
	"calculate_expression",
	"get_system_info",
}

// RetryConfig bounds the resilient LLM call path. Attempt k sleeps
// DelayBase·2^(k−1) before attempt k+1.
type RetryConfig struct {
	MaxAttempts int           `json:"max_attempts"`
	DelayBase   time.Duration `json:"delay_base"`
}

// DefaultRetryConfig returns the service-wide retry defaults:
// three attempts, one second base delay.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 3, DelayBase: time.Second}
}

// Validate checks the retry bounds.
func (c RetryConfig) Validate() error {
	if c.MaxAttempts < minRetryAttempts || c.MaxAttempts > maxRetryAttempts {
		return &ErrValidation{
			Field:  "max_attempts",
			Reason: fmt.Sprintf("must be in [%d, %d], got %d", minRetryAttempts, maxRetryAttempts, c.MaxAttempts),
		}
	}
	if c.DelayBase < minDelayBase || c.DelayBase > maxDelayBase {
		return &ErrValidation{
			Field:  "delay_base",
			Reason: fmt.Sprintf("must be in [%s, %s], got %s", minDelayBase, maxDelayBase, c.DelayBase),
		}
	}
	return nil
}

// AgentConfig selects and tunes the LLM behind one agent.
type AgentConfig struct {
	Provider       string      `json:"provider"`
	ModelVersion   string      `json:"model_version"`
	Temperature    float64     `json:"temperature"`
	MaxTokens      int         `json:"max_tokens"`
	ToolsEnabled   bool        `json:"tools_enabled"`
	AvailableTools []string    `json:"available_tools,omitempty"`
	SystemPrompt   string      `json:"system_prompt,omitempty"`
	Retry          RetryConfig `json:"retry_config"`
}

// DefaultAgentConfig returns the service defaults: openai, gpt-4o,
// temperature 0.7, 1000 max tokens, tools off.
func DefaultAgentConfig() AgentConfig {
	return AgentConfig{
		Provider:     DefaultProvider,
		ModelVersion: DefaultModel,
		Temperature:  DefaultTemperature,
		MaxTokens:    DefaultMaxTokens,
		Retry:        DefaultRetryConfig(),
	}
}

// Validate sanitizes the string fields in place and checks the tool
// allow-list and retry bounds.
func (c *AgentConfig) Validate() error {
	c.ModelVersion = SanitizeText(c.ModelVersion)
	if c.SystemPrompt != "" {
		clean, err := ValidateText(c.SystemPrompt)
		if err != nil {
			return &ErrValidation{Field: "system_prompt", Reason: err.Error()}
		}
		c.SystemPrompt = clean
	}
	for i, tool := range c.AvailableTools {
		name := SanitizeText(tool)
		if !slices.Contains(ToolAllowList, name) {
			return &ErrValidation{
				Field:  "available_tools",
				Reason: fmt.Sprintf("tool %q not allowed (allowed: %s)", name, strings.Join(ToolAllowList, ", ")),
			}
		}
		c.AvailableTools[i] = name
	}
	return c.Retry.Validate()
}

// agentNameRe restricts agent names to identifier form.
var agentNameRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// ValidateAgentName checks that name has identifier form. Sessions and
// agent definitions share this grammar so every stored agent name can be
// routed to later.
func ValidateAgentName(name string) error {
	if !agentNameRe.MatchString(name) {
		return &ErrValidation{
			Field:  "agent_name",
			Reason: fmt.Sprintf("%q is not an identifier ([A-Za-z][A-Za-z0-9_]*)", name),
		}
	}
	return nil
}

// AgentDefinition names an agent and carries its default configuration.
// Build one with NewAgentDefinition; the zero value is not valid.
type AgentDefinition struct {
	AgentName     string      `json:"agent_name"`
	Description   string      `json:"description"`
	DefaultConfig AgentConfig `json:"default_config"`
}

// NewAgentDefinition validates the name, sanitizes the description, and
// synthesizes a system prompt when the config carries none.
func NewAgentDefinition(name, description string, config AgentConfig) (AgentDefinition, error) {
	if err := ValidateAgentName(name); err != nil {
		return AgentDefinition{}, err
	}
	desc, err := ValidateText(description)
	if err != nil {
		return AgentDefinition{}, &ErrValidation{Field: "description", Reason: err.Error()}
	}
	if err := config.Validate(); err != nil {
		return AgentDefinition{}, err
	}
	if config.SystemPrompt == "" {
		config.SystemPrompt = fmt.Sprintf("You are %s. %s", name, desc)
	}
	return AgentDefinition{AgentName: name, Description: desc, DefaultConfig: config}, nil
}

// HistoryConfig opts a session into automatic history summarization and
// carries the trigger thresholds plus the summarizer's LLM settings.
type HistoryConfig struct {
	Enabled          bool   `json:"enabled"`
	MessageThreshold int    `json:"message_threshold"`
	TokenThreshold   int    `json:"token_threshold"`
	WordThreshold    int    `json:"word_threshold"`
	CharThreshold    int    `json:"char_threshold"`
	Provider         string `json:"llm_provider"`
	ModelVersion     string `json:"model_version"`
	SystemPrompt     string `json:"system_prompt,omitempty"`
}

// DefaultHistoryConfig returns a disabled config with usable thresholds,
// so enabling summarization is a one-field change.
func DefaultHistoryConfig() HistoryConfig {
	return HistoryConfig{
		Enabled:          false,
		MessageThreshold: 10,
		TokenThreshold:   2000,
		WordThreshold:    1500,
		CharThreshold:    8000,
		Provider:         DefaultProvider,
		ModelVersion:     "gpt-3.5-turbo",
		SystemPrompt:     "You are a conversation summarizer. Produce a concise summary that preserves the essential context.",
	}
}

// Validate checks that every threshold is strictly positive and
// sanitizes the string fields in place.
func (c *HistoryConfig) Validate() error {
	for _, t := range []struct {
		name  string
		value int
	}{
		{"message_threshold", c.MessageThreshold},
		{"token_threshold", c.TokenThreshold},
		{"word_threshold", c.WordThreshold},
		{"char_threshold", c.CharThreshold},
	} {
		if t.value <= 0 {
			return &ErrValidation{Field: t.name, Reason: fmt.Sprintf("must be strictly positive, got %d", t.value)}
		}
	}
	c.ModelVersion = SanitizeText(c.ModelVersion)
	if c.SystemPrompt != "" {
		clean, err := ValidateText(c.SystemPrompt)
		if err != nil {
			return &ErrValidation{Field: "system_prompt", Reason: err.Error()}
		}
		c.SystemPrompt = clean
	}
	return nil
}
