// CallShield - Live call threat detection for banking customers.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/opensource-finance/callshield/internal/api"
	"github.com/opensource-finance/callshield/internal/bus"
	"github.com/opensource-finance/callshield/internal/cache"
	"github.com/opensource-finance/callshield/internal/domain"
	"github.com/opensource-finance/callshield/internal/repository"
	"github.com/opensource-finance/callshield/internal/rules"
	"github.com/opensource-finance/callshield/internal/session"
	"github.com/opensource-finance/callshield/internal/summary"
	"github.com/opensource-finance/callshield/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg, err := loadConfig(os.Getenv)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	slog.SetDefault(slog.New(newLogHandler(os.Stdout, cfg.Logging)))

	slog.Info("starting callshield",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"alert_cooldown", cfg.Session.AlertCooldown.String(),
		"summary", cfg.Summary.Provider,
		"tracing", cfg.Tracing.Enabled,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	matcher, err := loadMatcher(ctx, repo)
	if err != nil {
		slog.Error("failed to initialize matcher", "error", err)
		os.Exit(1)
	}
	slog.Info("matcher initialized", "patterns_count", matcher.Count())

	sources := buildSources(cfg)
	manager := session.NewManager(session.Dependencies{
		Matcher: matcher,
		Sources: sources,
		Repo:    repo,
		Cache:   cacheImpl,
		Bus:     busImpl,
	}, cfg.Session, cfg.Cache.SnapshotTTL)
	slog.Info("session manager initialized", "sources", sourceNames(sources))

	summarizer, err := summary.New(ctx, cfg.Summary)
	if err != nil {
		slog.Warn("summarizer unavailable, falling back to template summaries", "error", err)
		summarizer = summary.Template{}
	}

	// Bus-fed fragments and report summaries
	asyncWorker := worker.NewWorker(busImpl, manager, summarizer, repo)
	workerCfg := worker.Config{
		TenantIDs:   tenantList(os.Getenv("CALLSHIELD_TENANTS")),
		WorkerCount: 5,
	}
	if err := asyncWorker.Start(workerCfg); err != nil {
		slog.Error("failed to start async worker", "error", err)
	} else {
		stats := asyncWorker.GetStats()
		slog.Info("async worker started",
			"tenant_count", len(workerCfg.TenantIDs),
			"subscriptions", stats.SubscriptionCount,
			"topics", stats.Topics,
		)
	}

	srv := api.NewServer(cfg.Server, manager, matcher, repo, cacheImpl, busImpl, Version)

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("callshield is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop taking bus work before ending sessions so final reports still
	// reach the archive.
	if err := asyncWorker.Stop(); err != nil {
		slog.Error("failed to stop async worker", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if n := manager.StopAll(shutdownCtx); n > 0 {
		slog.Info("stopped live sessions", "count", n)
	}

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("callshield shutdown complete")
}

// loadMatcher compiles the builtin patterns plus the global patterns stored
// through POST /patterns.
func loadMatcher(ctx context.Context, repo domain.Repository) (*rules.Matcher, error) {
	patterns := rules.BuiltinPatterns()

	stored, err := repo.ListPatterns(ctx, domain.GlobalTenantID)
	if err != nil {
		slog.Warn("failed to list patterns from database", "error", err)
	} else if len(stored) > 0 {
		slog.Info("loading patterns from database", "count", len(stored))
		patterns = append(patterns, stored...)
	}

	return rules.NewMatcher(patterns)
}

func newLogHandler(w io.Writer, cfg domain.LoggingConfig) slog.Handler {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

func sourceNames(sources map[string]session.Source) []string {
	names := make([]string, 0, len(sources))
	for name := range sources {
		names = append(names, name)
	}
	return names
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║              🛡  CALLSHIELD                ║")
	fmt.Println("  ║       Live Call Threat Detection          ║")
	fmt.Println("  ║      Ears on every risky call.            ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /sessions                - Start a call session")
	fmt.Println("    GET  /sessions/{id}           - Current session state")
	fmt.Println("    POST /sessions/{id}/fragments - Submit a transcript fragment")
	fmt.Println("    POST /sessions/{id}/stop      - End a session")
	fmt.Println("    GET  /sessions/{id}/events    - Stream session updates (websocket)")
	fmt.Println("    GET  /reports                 - List session reports")
	fmt.Println("    GET  /reports/{id}            - Get a session report")
	fmt.Println("    GET  /patterns                - List sensitive patterns")
	fmt.Println("    POST /patterns                - Create a sensitive pattern")
	fmt.Println("    GET  /health                  - Health check")
	fmt.Println()
}
