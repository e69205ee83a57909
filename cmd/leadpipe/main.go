// leadpipe runs the lead-generation pipeline: HTTP API, stage workers,
// and the heartbeat monitor, selected by role so each can also run as its
// own OS process.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/reachvector/leadpipe/pkg/agent"
	"github.com/reachvector/leadpipe/pkg/api"
	"github.com/reachvector/leadpipe/pkg/catalog"
	"github.com/reachvector/leadpipe/pkg/config"
	"github.com/reachvector/leadpipe/pkg/database"
	"github.com/reachvector/leadpipe/pkg/delivery"
	"github.com/reachvector/leadpipe/pkg/monitor"
	"github.com/reachvector/leadpipe/pkg/store"
	"github.com/reachvector/leadpipe/pkg/suppress"
	"github.com/reachvector/leadpipe/pkg/workers"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

type stoppable interface {
	Stop()
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	role := flag.String("role",
		getEnv("LEADPIPE_ROLE", "all"),
		"Process role: all|api|discovery|research|contact|monitor")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	httpPort := getEnv("HTTP_PORT", "8080")
	slog.Info("Starting leadpipe", "role", *role, "config_dir", *configDir)

	ctx := context.Background()

	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load database config", "error", err)
		os.Exit(1)
	}
	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	slog.Info("Connected to PostgreSQL database")

	st := store.New(dbClient.DB())
	notifier := delivery.NewNotifier(cfg.Delivery)
	gateway := agent.NewClient(cfg.Agent)
	oracle := suppress.New(st, nil, cfg.Pipeline.SuppressionWindow)
	seedCatalog := catalog.New(dbClient.DB())

	var running []stoppable
	startWorker := func(name string, s stoppable, start func(context.Context)) {
		start(ctx)
		running = append(running, s)
		slog.Info("Worker started", "role", name)
	}

	wantsRole := func(r string) bool { return *role == "all" || *role == r }

	if wantsRole("discovery") {
		w := workers.NewDiscoveryWorker(st, cfg.Pipeline, gateway, oracle, seedCatalog, notifier)
		startWorker("discovery", w, w.Start)
	}
	if wantsRole("research") {
		w := workers.NewResearchWorker(st, cfg.Pipeline, gateway)
		startWorker("research", w, w.Start)
	}
	if wantsRole("contact") {
		w := workers.NewContactWorker(st, cfg.Pipeline, gateway, notifier)
		startWorker("contact", w, w.Start)
	}
	if wantsRole("monitor") {
		m := monitor.New(st, cfg.Pipeline)
		startWorker("monitor", m, m.Start)
	}

	errCh := make(chan error, 1)
	var server *api.Server
	if wantsRole("api") {
		server = api.NewServer(st, cfg.Pipeline, notifier)
		go func() {
			if err := server.Start(":" + httpPort); err != nil {
				errCh <- err
			}
		}()
	}

	slog.Info("leadpipe started", "role", *role)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Warn("API server shutdown failed", "error", err)
		}
		cancel()
	}

	// Workers mark their heartbeats stopped on the way out, so the monitor
	// does not treat a clean shutdown as a death.
	done := make(chan struct{})
	go func() {
		for _, s := range running {
			s.Stop()
		}
		close(done)
	}()
	select {
	case <-done:
		slog.Info("Workers stopped gracefully")
	case <-time.After(30 * time.Second):
		slog.Warn("Worker shutdown timeout exceeded")
	}

	slog.Info("leadpipe stopped")
}
