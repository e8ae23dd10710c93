package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/loghawk/loghawk/internal/config"
	"github.com/loghawk/loghawk/internal/extract"
	"github.com/loghawk/loghawk/internal/llm"
	"github.com/loghawk/loghawk/internal/logging"
	"github.com/loghawk/loghawk/internal/metrics"
	"github.com/loghawk/loghawk/internal/pipeline"
	"github.com/loghawk/loghawk/internal/rules"
	"github.com/loghawk/loghawk/internal/server"
	"github.com/loghawk/loghawk/internal/storage"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	verbose := flag.Bool("verbose", false, "Enable verbose logging")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	cfg.Verbose = cfg.Verbose || *verbose

	logger, err := logging.New(cfg.Verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("fatal", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	logger.Info("database ready", zap.String("path", cfg.DBPath))

	content, err := extract.NewDirStore(cfg.ContentDir)
	if err != nil {
		return err
	}

	allowlist, err := rules.LoadAllowlist(cfg.AllowlistPath)
	if err != nil {
		return fmt.Errorf("load allowlist: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	m := metrics.New(registry)

	settings := server.NewMemorySettings()
	orchestrator := llm.NewOrchestrator(cfg.LLM, server.NewOverrideResolver(settings), logger)
	engine := rules.NewEngine(rules.Library(), allowlist, logger)
	guard := pipeline.NewGuard(cfg.Admission)

	pl := pipeline.New(store, content, engine, orchestrator, guard, m, logger, cfg.Workers)
	defer pl.Close()

	scheduler := pipeline.NewScheduler(store, pl.Resume, cfg.Scheduler, logger)
	scheduler.Start(ctx)
	defer scheduler.Stop()

	srv := server.New(store, content, pl, settings, registry, logger)
	return srv.ListenAndServe(ctx, cfg.HTTPAddr)
}
