// Package resolve creates LLM providers by name. A Factory holds the
// registry of constructors and a cache of built instances; a Resolver
// binds a Factory to an API-key lookup and implements
// orchestrator.ProviderResolver for the router and HTTP layer.
package resolve

import (
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"

	orchestrator "github.com/sylvainbonnecarrere/A-IR-OB1"
	"github.com/sylvainbonnecarrere/A-IR-OB1/provider/anthropic"
	"github.com/sylvainbonnecarrere/A-IR-OB1/provider/gemini"
	"github.com/sylvainbonnecarrere/A-IR-OB1/provider/openaicompat"
)

// ErrUnknownProvider is returned by Create for names with no registered
// constructor. The HTTP layer maps it to a 400.
var ErrUnknownProvider = errors.New("unknown provider")

// Config holds the provider-independent knobs a constructor may use.
// Model selection rides on each request, not here.
type Config struct {
	APIKey  string
	BaseURL string // override, for proxies and tests
}

// Constructor builds a provider from a Config. Constructors never fail:
// a missing API key yields a provider that reports unhealthy.
type Constructor func(cfg Config) orchestrator.Provider

type entry struct {
	name         string
	defaultModel string
	ctor         Constructor
}

// Factory is a registry of provider constructors plus an instance cache
// keyed by (name, options hash). Safe for concurrent use.
type Factory struct {
	mu        sync.Mutex
	entries   []entry
	instances map[string]orchestrator.Provider
}

// NewFactory returns a factory with the eight built-in providers
// registered: the six OpenAI-compatible vendors, anthropic, and gemini.
func NewFactory() *Factory {
	f := &Factory{instances: make(map[string]orchestrator.Provider)}
	registerBuiltins(f)
	return f
}

// Register adds a constructor under name, replacing any existing one.
// defaultModel is reported by Resolver.Info.
func (f *Factory) Register(name, defaultModel string, ctor Constructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.entries {
		if f.entries[i].name == name {
			f.entries[i].defaultModel = defaultModel
			f.entries[i].ctor = ctor
			return
		}
	}
	f.entries = append(f.entries, entry{name: name, defaultModel: defaultModel, ctor: ctor})
}

// Create returns the provider registered under name, building it on the
// first call for a given Config and caching it after.
func (f *Factory) Create(name string, cfg Config) (orchestrator.Provider, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var e *entry
	for i := range f.entries {
		if f.entries[i].name == name {
			e = &f.entries[i]
			break
		}
	}
	if e == nil {
		return nil, fmt.Errorf("%w %q, available: %s",
			ErrUnknownProvider, name, strings.Join(f.namesLocked(), ", "))
	}

	key := cacheKey(name, cfg)
	if p, ok := f.instances[key]; ok {
		return p, nil
	}
	p := e.ctor(cfg)
	f.instances[key] = p
	return p, nil
}

// Providers returns the registered names in registration order.
func (f *Factory) Providers() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.namesLocked()
}

func (f *Factory) namesLocked() []string {
	names := make([]string, len(f.entries))
	for i, e := range f.entries {
		names[i] = e.name
	}
	return names
}

// ClearCache drops every cached instance. Constructors stay registered.
func (f *Factory) ClearCache() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.instances = make(map[string]orchestrator.Provider)
}

// CacheSize returns the number of cached instances.
func (f *Factory) CacheSize() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.instances)
}

func cacheKey(name string, cfg Config) string {
	h := fnv.New64a()
	h.Write([]byte(cfg.APIKey))
	h.Write([]byte{0})
	h.Write([]byte(cfg.BaseURL))
	return fmt.Sprintf("%s:%x", name, h.Sum64())
}

func registerBuiltins(f *Factory) {
	for _, v := range openaicompat.Vendors() {
		f.Register(v.Name, v.DefaultModel, func(cfg Config) orchestrator.Provider {
			var opts []openaicompat.ProviderOption
			if cfg.BaseURL != "" {
				opts = append(opts, openaicompat.WithBaseURL(cfg.BaseURL))
			}
			return openaicompat.New(v, cfg.APIKey, opts...)
		})
	}
	f.Register("anthropic", anthropic.DefaultModel, func(cfg Config) orchestrator.Provider {
		var opts []anthropic.Option
		if cfg.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(cfg.BaseURL))
		}
		return anthropic.New(cfg.APIKey, opts...)
	})
	f.Register("gemini", gemini.DefaultModel, func(cfg Config) orchestrator.Provider {
		var opts []gemini.Option
		if cfg.BaseURL != "" {
			opts = append(opts, gemini.WithBaseURL(cfg.BaseURL))
		}
		return gemini.New(cfg.APIKey, opts...)
	})
}

// Default is the process-wide factory.
var Default = NewFactory()

// Create builds or reuses a provider from the Default factory.
func Create(name string, cfg Config) (orchestrator.Provider, error) {
	return Default.Create(name, cfg)
}

// Register adds a constructor to the Default factory.
func Register(name, defaultModel string, ctor Constructor) {
	Default.Register(name, defaultModel, ctor)
}

// Providers lists the Default factory's registered names.
func Providers() []string { return Default.Providers() }

// ClearCache drops the Default factory's cached instances.
func ClearCache() { Default.ClearCache() }

// Resolver binds a Factory to an API-key lookup. It implements
// orchestrator.ProviderResolver.
type Resolver struct {
	factory *Factory
	keyFor  func(provider string) string
}

// NewResolver returns a Resolver over factory. keyFor maps a provider
// name to its API key; nil means no keys are configured.
func NewResolver(factory *Factory, keyFor func(provider string) string) *Resolver {
	return &Resolver{factory: factory, keyFor: keyFor}
}

// Resolve returns the named provider configured with its API key.
func (r *Resolver) Resolve(name string) (orchestrator.Provider, error) {
	return r.factory.Create(name, Config{APIKey: r.key(name)})
}

func (r *Resolver) key(name string) string {
	if r.keyFor == nil {
		return ""
	}
	return r.keyFor(name)
}

// ProviderInfo describes one registered provider for the diagnostics
// endpoints.
type ProviderInfo struct {
	DefaultModel    string   `json:"default_model"`
	AvailableModels []string `json:"available_models"`
	Healthy         bool     `json:"is_healthy"`
	KeyConfigured   bool     `json:"key_configured"`
}

// Info reports every registered provider: default model, the models it
// accepts, and whether it is usable with the configured credentials.
func (r *Resolver) Info() map[string]ProviderInfo {
	r.factory.mu.Lock()
	entries := make([]entry, len(r.factory.entries))
	copy(entries, r.factory.entries)
	r.factory.mu.Unlock()

	info := make(map[string]ProviderInfo, len(entries))
	for _, e := range entries {
		p, err := r.factory.Create(e.name, Config{APIKey: r.key(e.name)})
		if err != nil {
			continue
		}
		info[e.name] = ProviderInfo{
			DefaultModel:    e.defaultModel,
			AvailableModels: p.Models(),
			Healthy:         p.Healthy(),
			KeyConfigured:   r.key(e.name) != "",
		}
	}
	return info
}

// Providers lists the underlying factory's registered names.
func (r *Resolver) Providers() []string { return r.factory.Providers() }

// CacheSize reports the underlying factory's cached instance count.
func (r *Resolver) CacheSize() int { return r.factory.CacheSize() }

var _ orchestrator.ProviderResolver = (*Resolver)(nil)
