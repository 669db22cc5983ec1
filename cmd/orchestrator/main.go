// Command orchestrator runs the multi-provider agent orchestration service.
//
// It loads configuration from .env / TOML / environment, opens the session
// store backend, registers the builtin tools, and serves the HTTP API until
// interrupted. Provider API keys are read from the environment at startup;
// providers themselves are created lazily on first use.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	orchestrator "github.com/sylvainbonnecarrere/A-IR-OB1"
	"github.com/sylvainbonnecarrere/A-IR-OB1/internal/api"
	"github.com/sylvainbonnecarrere/A-IR-OB1/internal/config"
	"github.com/sylvainbonnecarrere/A-IR-OB1/observer"
	"github.com/sylvainbonnecarrere/A-IR-OB1/provider/resolve"
	"github.com/sylvainbonnecarrere/A-IR-OB1/store/memory"
	"github.com/sylvainbonnecarrere/A-IR-OB1/store/postgres"
	"github.com/sylvainbonnecarrere/A-IR-OB1/store/sqlite"
	"github.com/sylvainbonnecarrere/A-IR-OB1/tools/builtin"
)

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lmsgprefix)
	log.SetPrefix("[orchestrator] ")

	// 1. Load config (.env first so provider keys reach the env override pass)
	_ = godotenv.Load()
	cfg := config.Load(os.Getenv("ORCHESTRATOR_CONFIG"))

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Open session store
	sessions, closeStore, err := newStore(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	defer closeStore()

	// 3. Create provider resolver
	resolver := resolve.NewResolver(resolve.Default, cfg.KeyFor)

	// 4. Register tools
	registry := orchestrator.NewToolRegistry()
	if err := builtin.Register(registry); err != nil {
		log.Fatalf("tools: %v", err)
	}

	opts := []api.Option{api.WithLogger(logger)}
	var providers orchestrator.ProviderResolver = resolver
	decorated := false

	// 5. Optional provider decorations: rate limiting, then OTLP export
	if cfg.Providers.RPM > 0 || cfg.Providers.TPM > 0 {
		providers = rateLimited(providers, cfg.Providers.RPM, cfg.Providers.TPM)
		decorated = true
	}
	if cfg.Observer.Enabled {
		inst, shutdown, err := observer.Init(ctx)
		if err != nil {
			log.Fatalf("observer: %v", err)
		}
		defer func() {
			shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := shutdown(shutCtx); err != nil {
				log.Printf("observer shutdown: %v", err)
			}
		}()
		for _, name := range registry.Names() {
			if t, ok := registry.Get(name); ok {
				_ = registry.Register(observer.WrapTool(t, inst))
			}
		}
		inner := providers
		providers = orchestrator.ResolverFunc(func(name string) (orchestrator.Provider, error) {
			p, err := inner.Resolve(name)
			if err != nil {
				return nil, err
			}
			return observer.WrapProvider(p, inst), nil
		})
		decorated = true
	}
	if decorated {
		opts = append(opts, api.WithProviders(providers))
	}

	executor := orchestrator.NewToolExecutor(registry, orchestrator.ExecutorLogger(logger))

	// 6. Serve until interrupted
	srv := api.New(cfg, sessions, resolver, executor, opts...)

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down...")

	shutCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Stop(shutCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
	log.Println("stopped")
}

// rateLimited decorates a resolver so every provider shares one limiter
// instance, keeping the budget window alive across requests.
func rateLimited(inner orchestrator.ProviderResolver, rpm, tpm int) orchestrator.ProviderResolver {
	var mu sync.Mutex
	limited := make(map[orchestrator.Provider]orchestrator.Provider)
	return orchestrator.ResolverFunc(func(name string) (orchestrator.Provider, error) {
		p, err := inner.Resolve(name)
		if err != nil {
			return nil, err
		}
		mu.Lock()
		defer mu.Unlock()
		if w, ok := limited[p]; ok {
			return w, nil
		}
		w := orchestrator.WithRateLimit(p, orchestrator.RPM(rpm), orchestrator.TPM(tpm))
		limited[p] = w
		return w, nil
	})
}

// newStore opens the configured session store backend. The returned func
// releases the backend's resources; for the in-memory store it is a no-op.
func newStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (orchestrator.SessionManager, func(), error) {
	switch cfg.Store.Backend {
	case "", "memory":
		return memory.New(memory.WithLogger(logger)), func() {}, nil
	case "sqlite":
		m := sqlite.New(cfg.Store.Path, sqlite.WithLogger(logger))
		if err := m.Init(ctx); err != nil {
			return nil, nil, fmt.Errorf("sqlite init: %w", err)
		}
		return m, func() { _ = m.Close() }, nil
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Store.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres pool: %w", err)
		}
		m := postgres.New(pool)
		if err := m.Init(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("postgres init: %w", err)
		}
		return m, pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}
