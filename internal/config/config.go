package config

import (
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// providerEnv maps registered provider names to the environment variable
// carrying their API key.
var providerEnv = map[string]string{
	"openai":    "OPENAI_API_KEY",
	"anthropic": "ANTHROPIC_API_KEY",
	"gemini":    "GEMINI_API_KEY",
	"mistral":   "MISTRAL_API_KEY",
	"grok":      "GROK_API_KEY",
	"qwen":      "QWEN_API_KEY",
	"deepseek":  "DEEPSEEK_API_KEY",
	"kimi_k2":   "KIMI_K2_API_KEY",
}

type Config struct {
	Server     ServerConfig     `toml:"server"`
	Providers  ProvidersConfig  `toml:"providers"`
	Router     RouterConfig     `toml:"router"`
	Summarizer SummarizerConfig `toml:"summarizer"`
	Store      StoreConfig      `toml:"store"`
	Observer   ObserverConfig   `toml:"observer"`
}

type ServerConfig struct {
	Addr           string `toml:"addr"`
	Environment    string `toml:"environment"`
	AllowedOrigins string `toml:"allowed_origins"`
}

type ProvidersConfig struct {
	Default string            `toml:"default"`
	Keys    map[string]string `toml:"keys"`
	// RPM and TPM bound outbound provider calls per minute; zero means
	// unlimited. Applied per provider instance, shared by all requests.
	RPM int `toml:"rpm"`
	TPM int `toml:"tpm"`
}

type RouterConfig struct {
	Provider string `toml:"provider"`
}

type SummarizerConfig struct {
	Provider string `toml:"provider"`
	Model    string `toml:"model"`
}

type StoreConfig struct {
	Backend string `toml:"backend"`
	Path    string `toml:"path"`
	DSN     string `toml:"dsn"`
}

type ObserverConfig struct {
	Enabled bool `toml:"enabled"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	return Config{
		Server:     ServerConfig{Addr: ":8000", Environment: "development"},
		Providers:  ProvidersConfig{Default: "openai", Keys: map[string]string{}},
		Summarizer: SummarizerConfig{Model: "gpt-3.5-turbo"},
		Store:      StoreConfig{Backend: "memory", Path: "orchestrator.db"},
	}
}

// Load reads config: defaults -> TOML file -> env vars (env wins).
func Load(path string) Config {
	cfg := Default()

	if path == "" {
		path = "orchestrator.toml"
	}

	if data, err := os.ReadFile(path); err == nil {
		_ = toml.Unmarshal(data, &cfg)
	}
	if cfg.Providers.Keys == nil {
		cfg.Providers.Keys = map[string]string{}
	}

	// Env overrides
	if v := os.Getenv("ENVIRONMENT"); v != "" {
		cfg.Server.Environment = v
	}
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		cfg.Server.AllowedOrigins = v
	}
	for name, envKey := range providerEnv {
		if v := os.Getenv(envKey); v != "" {
			cfg.Providers.Keys[name] = v
		}
	}
	if os.Getenv("OBSERVER_ENABLED") == "true" || os.Getenv("OBSERVER_ENABLED") == "1" {
		cfg.Observer.Enabled = true
	}

	// Fallbacks
	if cfg.Router.Provider == "" {
		cfg.Router.Provider = cfg.Providers.Default
	}
	if cfg.Summarizer.Provider == "" {
		cfg.Summarizer.Provider = cfg.Providers.Default
	}

	return cfg
}

// KeyFor returns the configured API key for a provider, or "" when none is
// set. The signature matches what the provider resolver expects.
func (c Config) KeyFor(provider string) string {
	return c.Providers.Keys[provider]
}

// Production reports whether the server runs with production hardening
// (restricted CORS).
func (s ServerConfig) Production() bool {
	return s.Environment == "production"
}

// Origins splits the allowed-origins CSV, trimming whitespace around each
// entry. An empty config yields nil.
func (s ServerConfig) Origins() []string {
	if s.AllowedOrigins == "" {
		return nil
	}
	var out []string
	for _, o := range strings.Split(s.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
