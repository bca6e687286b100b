// logsleuth server: accepts incident investigation requests over HTTP,
// runs the log analysis pipeline in the background and streams progress
// events to the client.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/logsleuth/logsleuth/pkg/agents"
	"github.com/logsleuth/logsleuth/pkg/api"
	"github.com/logsleuth/logsleuth/pkg/config"
	"github.com/logsleuth/logsleuth/pkg/configstore"
	"github.com/logsleuth/logsleuth/pkg/database"
	"github.com/logsleuth/logsleuth/pkg/llm"
	"github.com/logsleuth/logsleuth/pkg/llmcache"
	"github.com/logsleuth/logsleuth/pkg/logbackend"
	"github.com/logsleuth/logsleuth/pkg/logcache"
	"github.com/logsleuth/logsleuth/pkg/pipeline"
	"github.com/logsleuth/logsleuth/pkg/session"
	"github.com/logsleuth/logsleuth/pkg/version"
)

func main() {
	configDir := flag.String("config-dir", ".", "directory holding the .env file")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting logsleuth",
		"version", version.Full(),
		"port", cfg.Server.Port,
		"llm_provider", cfg.LLM.Provider)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 1. Database. Optional: with no URL configured the compiled-in
	// project, prompt and settings defaults are authoritative.
	var dbClient *database.Client
	if cfg.Database.URL != "" {
		dbClient, err = database.NewClient(ctx, cfg.Database)
		if err != nil {
			slog.Error("Failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer dbClient.Close()
		slog.Info("Connected to PostgreSQL database")
	} else {
		slog.Info("No database configured, using compiled-in configuration")
	}

	var pool *pgxpool.Pool
	if dbClient != nil {
		pool = dbClient.Pool
	}
	store := configstore.New(pool, cfg.Flags)

	// 2. Caches. Redis failures degrade to L1-only operation.
	var llmL2 llmcache.L2Store
	if cfg.LLMCache.L2Enabled && cfg.LLMCache.L2URL != "" {
		llmL2, err = llmcache.NewRedisStore(cfg.LLMCache.L2URL)
		if err != nil {
			slog.Warn("LLM cache L2 unavailable, continuing with L1 only", "error", err)
			llmL2 = nil
		}
	}
	gateway, err := llmcache.NewGateway(cfg.LLMCache, llmL2)
	if err != nil {
		slog.Error("Failed to initialize LLM cache gateway", "error", err)
		os.Exit(1)
	}

	var logL2 llmcache.L2Store
	if cfg.LogCache.Enabled && cfg.LogCache.L2URL != "" {
		logL2, err = llmcache.NewRedisStore(cfg.LogCache.L2URL)
		if err != nil {
			slog.Warn("Log cache L2 unavailable, continuing with L1 only", "error", err)
			logL2 = nil
		}
	}
	logCache, err := logcache.New(cfg.LogCache, logL2)
	if err != nil {
		slog.Error("Failed to initialize log cache", "error", err)
		os.Exit(1)
	}

	// 3. LLM provider.
	provider, err := llm.NewProvider(cfg.LLM)
	if err != nil {
		slog.Error("Failed to initialize LLM provider", "error", err)
		os.Exit(1)
	}
	model := cfg.LLM.RemoteModel
	if cfg.LLM.Provider == config.ProviderLocal {
		model = cfg.LLM.LocalModel
	}

	// 4. Log backends. Remote downloads land in a private temp directory
	// that is never served.
	if err := os.MkdirAll(cfg.Server.AnalysisDir, 0o755); err != nil {
		slog.Error("Failed to create analysis directory", "dir", cfg.Server.AnalysisDir, "error", err)
		os.Exit(1)
	}
	downloadDir, err := os.MkdirTemp("", "logsleuth-downloads-")
	if err != nil {
		slog.Error("Failed to create download directory", "error", err)
		os.Exit(1)
	}
	defer os.RemoveAll(downloadDir)

	fileBackend := logbackend.NewFileBackend(cfg.Safety.MaxLogBytes)
	remoteBackend := logbackend.NewRemoteBackend(cfg.Remote, logCache, downloadDir)
	backends := logbackend.NewFactory(store, fileBackend, remoteBackend)

	// 5. Agents and pipeline.
	deps := agents.Deps{Store: store, Gateway: gateway, Provider: provider, Model: model}
	orch := pipeline.New(pipeline.Config{
		Store:       store,
		Backends:    backends,
		Parameters:  agents.NewParameterAgent(deps),
		Planner:     agents.NewPlanningAgent(deps),
		Analyzer:    agents.NewAnalyzeAgent(deps, cfg.Safety.MaxContextMessages),
		Verifier:    agents.NewVerifyAgent(deps),
		AnalysisDir: cfg.Server.AnalysisDir,
		MaxLogBytes: cfg.Safety.MaxLogBytes,
	})

	registry := session.NewRegistry(session.Options{Timeout: cfg.Safety.SessionTimeout})
	registry.StartJanitor(ctx)
	defer registry.StopJanitor()

	// 6. HTTP server.
	server := api.NewServer(ctx, registry, orch, store, gateway, logCache, dbClient, cfg.Server.AnalysisDir)
	httpServer := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	// Cancelling the base context aborts in-flight pipeline runs.
	cancel()
	slog.Info("Shutdown complete")
}
