package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/p-n-ai/pai-papers/internal/ai"
	"github.com/p-n-ai/pai-papers/internal/classify"
	"github.com/p-n-ai/pai-papers/internal/curriculum"
	"github.com/p-n-ai/pai-papers/internal/extract"
	"github.com/p-n-ai/pai-papers/internal/httpapi"
	"github.com/p-n-ai/pai-papers/internal/ingest"
	"github.com/p-n-ai/pai-papers/internal/platform/cache"
	"github.com/p-n-ai/pai-papers/internal/platform/config"
	"github.com/p-n-ai/pai-papers/internal/platform/database"
	"github.com/p-n-ai/pai-papers/internal/practice"
	"github.com/p-n-ai/pai-papers/internal/structuring"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(newLogger(cfg.Log))

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	// Graceful shutdown on SIGTERM/SIGINT.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		slog.Error("failed to start", "error", err)
		os.Exit(1)
	}
	defer a.close()

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       2 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "addr", srv.Addr, "storage", cfg.Storage)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}

	done := make(chan struct{})
	go func() {
		a.orch.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		slog.Warn("pipeline runs still in flight at exit")
	}
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

// app holds the wired components of a running server.
type app struct {
	handler http.Handler
	orch    *ingest.Orchestrator
	closers []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func newApp(ctx context.Context, cfg *config.Config) (_ *app, err error) {
	a := &app{}
	defer func() {
		if err != nil {
			a.close()
		}
	}()
	checks := make(map[string]httpapi.ReadyCheck)

	var (
		store  ingest.Store
		events ingest.EventLogger
	)
	switch cfg.Storage {
	case config.StorageMemory:
		store = ingest.NewMemoryStore()
		events = ingest.NopEventLogger{}
		slog.Warn("using in-memory storage; batches are lost on restart")
	default:
		if cfg.Database.Migrate {
			if err := database.Migrate(cfg.Database.URL); err != nil {
				return nil, err
			}
		}
		db, err := database.New(ctx, cfg.Database.URL, cfg.Database.MaxConns, cfg.Database.MinConns)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, db.Close)

		pg, err := ingest.NewPostgresStore(db.Pool)
		if err != nil {
			return nil, err
		}
		store = pg
		events = ingest.NewPostgresEventLogger(db.Pool)
	}

	var guard ingest.RunGuard = ingest.NewMemoryGuard()
	if cfg.Cache.URL != "" {
		c, err := cache.New(ctx, cfg.Cache.URL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = c.Close() })
		guard = ingest.NewRedisGuard(c, 0)
		checks["cache"] = c.HealthCheck
	}

	meter := ai.NewInMemoryMeter(int64(cfg.AI.BatchTokenBudget))
	router, err := newRouter(cfg.AI, meter)
	if err != nil {
		return nil, err
	}

	lessons, err := curriculum.NewLoader(cfg.CurriculumPath)
	if err != nil {
		return nil, err
	}

	orch := ingest.NewOrchestrator(ingest.OrchestratorConfig{
		Store:     store,
		Extractor: extract.NewDetecting(cfg.Extract.PdftotextPath),
		Structurer: structuring.NewService(router,
			structuring.WithModel(cfg.AI.Model),
			structuring.WithMaxTokens(cfg.AI.MaxTokens),
		),
		Mapper: ingest.NewMapper(classify.Default(), curriculum.NewMatcher(lessons)),
		Guard:  guard,
		Events: events,
		Meter:  meter,
	})
	a.orch = orch
	if _, err := orch.RecoverInterrupted(ctx); err != nil {
		slog.Warn("startup sweep of interrupted batches failed", "error", err)
	}

	gen, err := practice.NewGenerator(router, cfg.AI.Model)
	if err != nil {
		return nil, err
	}

	srv, err := httpapi.NewServer(httpapi.Config{
		Service:        ingest.NewService(store, orch, events),
		Practice:       gen,
		JWTSecret:      cfg.Auth.JWTSecret,
		UploadMaxBytes: cfg.Server.UploadMaxBytes,
		AllowedOrigins: cfg.Server.CORSOrigins,
		ReadyChecks:    checks,
	})
	if err != nil {
		return nil, err
	}
	a.handler = srv.Handler()
	return a, nil
}

// newRouter registers every configured provider. Anthropic is tried first
// when both are configured.
func newRouter(cfg config.AIConfig, meter ai.UsageMeter) (*ai.Router, error) {
	router := ai.NewRouter(ai.WithMeter(meter))
	client := &http.Client{Timeout: cfg.Timeout}

	if cfg.Anthropic.APIKey != "" {
		p, err := ai.NewAnthropicProvider(cfg.Anthropic.APIKey, ai.WithAnthropicHTTPClient(client))
		if err != nil {
			return nil, fmt.Errorf("anthropic provider: %w", err)
		}
		router.Register("anthropic", p)
	}
	if cfg.OpenAI.APIKey != "" {
		opts := []ai.OpenAIOption{ai.WithHTTPClient(client)}
		if cfg.OpenAI.BaseURL != "" {
			opts = append(opts, ai.WithBaseURL(cfg.OpenAI.BaseURL))
		}
		router.Register("openai", ai.NewOpenAIProvider(cfg.OpenAI.APIKey, opts...))
	}
	if !router.HasProvider() {
		slog.Warn("no AI provider configured; uploads will fail at structuring")
	}
	return router, nil
}
