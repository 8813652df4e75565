// Magpie - Risk scoring for classified-ad listings.
// Copyright (c) 2025 opensource.trust
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/opensource-trust/magpie/internal/analyzer"
	"github.com/opensource-trust/magpie/internal/api"
	"github.com/opensource-trust/magpie/internal/bus"
	"github.com/opensource-trust/magpie/internal/cache"
	"github.com/opensource-trust/magpie/internal/corpus"
	"github.com/opensource-trust/magpie/internal/domain"
	"github.com/opensource-trust/magpie/internal/repository"
	"github.com/opensource-trust/magpie/internal/rules"
	"github.com/opensource-trust/magpie/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Initialize structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("MAGPIE_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("starting magpie",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()

	// Check for Pro tier via environment
	if os.Getenv("MAGPIE_TIER") == "pro" {
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	}

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"corpus", cfg.Corpus.Source,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
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

	// Initialize Rule Engine
	engine, err := rules.NewEngine(nil, 100)
	if err != nil {
		slog.Error("failed to initialize rule engine", "error", err)
		os.Exit(1)
	}
	defer engine.Close()

	// Load custom rules from database (no hardcoded defaults - configure via API)
	if err := loadRulesFromDatabase(ctx, repo, engine); err != nil {
		slog.Error("failed to load rules", "error", err)
		os.Exit(1)
	}
	slog.Info("rule engine initialized", "rules_count", engine.RulesCount())

	// Initialize corpus loader and analyzer
	loader, err := buildCorpusLoader(cfg.Corpus, repo)
	if err != nil {
		slog.Error("failed to configure corpus", "error", err)
		os.Exit(1)
	}

	risk := analyzer.New(loader, nil, engine)
	if err := risk.Initialize(ctx); err != nil {
		slog.Error("failed to load corpus", "error", err)
		os.Exit(1)
	}

	c, _ := risk.Corpus(ctx)
	slog.Info("analyzer initialized",
		"corpus_keywords", c.KeywordCount(),
		"corpus_patterns", c.PatternCount(),
	)

	// Initialize async Worker (Pro tier)
	var asyncWorker *worker.Worker
	if cfg.Tier == domain.TierPro || os.Getenv("MAGPIE_ASYNC_WORKER") == "true" {
		asyncWorker = worker.NewWorker(busImpl, repo, risk)

		var tenantIDs []string
		if envTenants := os.Getenv("MAGPIE_TENANTS"); envTenants != "" {
			for _, t := range strings.Split(envTenants, ",") {
				if t = strings.TrimSpace(t); t != "" {
					tenantIDs = append(tenantIDs, t)
				}
			}
		}

		workerCfg := worker.Config{
			TenantIDs: tenantIDs,
		}

		if err := asyncWorker.Start(workerCfg); err != nil {
			slog.Error("failed to start async worker", "error", err)
		} else {
			slog.Info("async worker started", "tenant_count", len(tenantIDs))
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, repo, cacheImpl, busImpl, risk, engine, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("magpie is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop async worker first
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("magpie shutdown complete")
}

// GlobalTenantID is used for rules that apply to all tenants.
const GlobalTenantID = "*"

// buildCorpusLoader assembles the corpus loader from configuration:
// builtin or file primary source, with repository-managed overlay rules
// merged on top when enabled.
func buildCorpusLoader(cfg domain.CorpusConfig, repo domain.Repository) (*corpus.Loader, error) {
	var primary corpus.Source
	switch cfg.Source {
	case "", "builtin":
		primary = corpus.BuiltinSource{}
	case "file":
		if cfg.KeywordsPath == "" || cfg.PatternsPath == "" {
			return nil, fmt.Errorf("file corpus source requires keywordsPath and patternsPath")
		}
		primary = corpus.FileSource{
			KeywordsPath: cfg.KeywordsPath,
			PatternsPath: cfg.PatternsPath,
		}
	default:
		return nil, fmt.Errorf("unsupported corpus source: %s", cfg.Source)
	}

	if cfg.MergeRepository && repo != nil {
		overlay := corpus.RepositorySource{Repo: repo, TenantID: GlobalTenantID}
		return corpus.NewLoader(primary, overlay), nil
	}
	return corpus.NewLoader(primary), nil
}

// loadRulesFromDatabase loads custom rules from the database into the engine.
// All rules must be configured via POST /rules API - no hardcoded defaults.
func loadRulesFromDatabase(ctx context.Context, repo domain.Repository, engine *rules.Engine) error {
	dbRules, err := repo.ListListingRules(ctx, GlobalTenantID)
	if err != nil {
		slog.Warn("failed to list rules from database", "error", err)
		return nil // Start with empty rules - they can be added via API
	}

	if len(dbRules) > 0 {
		slog.Info("loading rules from database", "count", len(dbRules))
		return engine.LoadRules(dbRules)
	}

	slog.Info("no rules in database - configure via POST /rules API")
	return nil
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  MAGPIE - Listing risk scoring engine")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /analyze           - Analyze a listing")
	fmt.Println("    GET  /assessments/{id}  - Get assessment by ID")
	fmt.Println("    GET  /listings/{id}     - Get listing with its assessments")
	fmt.Println("    POST /text/analyze      - Standalone text analysis")
	fmt.Println("    GET  /corpus            - Inspect the active corpus")
	fmt.Println("    POST /corpus/keywords   - Add a keyword rule")
	fmt.Println("    POST /corpus/patterns   - Add a pattern rule")
	fmt.Println("    POST /corpus/reload     - Hot-reload the corpus")
	fmt.Println("    GET  /rules             - List custom rules")
	fmt.Println("    POST /rules             - Create a custom rule")
	fmt.Println("    POST /rules/reload      - Hot-reload rules from database")
	fmt.Println("    GET  /stats             - Operational statistics")
	fmt.Println("    GET  /health            - Health check")
	fmt.Println()
}
