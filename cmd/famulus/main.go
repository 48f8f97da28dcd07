// Famulus assistant runtime. Serves the HTTP API, runs the orchestration
// kernel, and manages background pollers, probes, and retention.
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

	"github.com/joho/godotenv"

	"github.com/famulus-ai/famulus/pkg/api"
	"github.com/famulus-ai/famulus/pkg/config"
	"github.com/famulus-ai/famulus/pkg/integrity"
	"github.com/famulus-ai/famulus/pkg/kernel"
	"github.com/famulus-ai/famulus/pkg/llm"
	"github.com/famulus-ai/famulus/pkg/masking"
	"github.com/famulus-ai/famulus/pkg/memory"
	"github.com/famulus-ai/famulus/pkg/models"
	"github.com/famulus-ai/famulus/pkg/notify"
	"github.com/famulus-ai/famulus/pkg/pollers"
	"github.com/famulus-ai/famulus/pkg/session"
	"github.com/famulus-ai/famulus/pkg/storage"
	"github.com/famulus-ai/famulus/pkg/store"
	"github.com/famulus-ai/famulus/pkg/toolserver"
	"github.com/famulus-ai/famulus/pkg/tools"
	"github.com/famulus-ai/famulus/pkg/vector"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	// Load .env file from config directory
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	slog.Info("Starting famulus", "config_dir", *configDir)

	ctx := context.Background()

	// 1. Initialize configuration
	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	// 2. Initialize database
	dbConfig, err := storage.LoadConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load database config", "error", err)
		os.Exit(1)
	}

	dbClient, err := storage.NewClient(ctx, dbConfig)
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

	// 3. Row stores
	db := dbClient.DB()
	sessionStore := store.NewSessionStore(db)
	messageStore := store.NewMessageStore(db)
	memoryStore := store.NewMemoryStore(db)
	integrationStore := store.NewIntegrationStore(db)
	notificationStore := store.NewNotificationStore(db)
	fileStore := store.NewFileStore(db)

	// 4. Vector store and memory manager
	embedder := vector.EmbedderFromConfig(cfg.Memory.Embedding)
	vectors, err := vector.NewChromemStore(cfg.Memory.Embedding.PersistPath, embedder)
	if err != nil {
		slog.Error("Failed to open vector store", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := vectors.Close(); err != nil {
			slog.Error("Error closing vector store", "error", err)
		}
	}()

	memoryMgr := memory.NewManager(cfg.Memory, memoryStore, vectors)
	if cfg.Memory.Embedding.PersistPath == "" {
		// In-memory vectors: rebuild embeddings from rows.
		n, err := memoryMgr.Reindex(ctx)
		if err != nil {
			slog.Warn("Memory reindex incomplete, hybrid retrieval degraded", "error", err)
		} else {
			slog.Info("Memory reindexed", "entries", n)
		}
	}

	// 5. Session manager
	sessionMgr := session.NewManager(sessionStore, messageStore, memoryMgr)

	// 6. Notification center with cross-replica fanout
	hub := notify.NewHub()
	center := notify.NewCenter(cfg.Notifications, notificationStore, hub)
	fanout := notify.NewPGFanout(db, dbClient.ConnString(), notificationStore, hub)
	if err := fanout.Start(ctx); err != nil {
		slog.Error("Failed to start notification fanout listener", "error", err)
		os.Exit(1)
	}
	center.SetFanout(fanout)
	slog.Info("Notification center initialized")

	// 7. Tool servers, registry, invoker
	toolClient := toolserver.NewClient(cfg.ToolServerRegistry)
	if err := toolClient.Initialize(ctx); err != nil {
		// Per-server failures surface as warnings below; the process runs
		// with the tools that did come up.
		slog.Warn("Tool server initialization incomplete", "error", err)
	}
	defer func() {
		if err := toolClient.Close(); err != nil {
			slog.Error("Error closing tool server client", "error", err)
		}
	}()

	registry := tools.NewRegistry()
	if err := tools.RegisterBuiltins(registry, tools.BuiltinDeps{
		Memory:       memoryMgr,
		MemCfg:       cfg.Memory,
		Fetcher:      tools.NewFetcher(cfg.System.WebFetch),
		Integrations: integrationStore,
		Pollers:      cfg.Pollers,
	}); err != nil {
		slog.Error("Failed to register built-in tools", "error", err)
		os.Exit(1)
	}
	if n, err := registry.LoadServerTools(ctx, toolClient, cfg.ToolServerRegistry); err != nil {
		slog.Warn("Tool listing incomplete", "error", err)
	} else if n > 0 {
		slog.Info("Server tools registered", "count", n)
	}

	invoker := tools.NewInvoker(registry, cfg.Defaults, cfg.Memory, memoryMgr, masking.NewService(), center)

	// 8. LLM client and integrity checker
	// The transport is deployment-linked; the default build answers every
	// call with an upstream-unavailable error.
	llmClient, err := llm.NewFromConfig(cfg)
	if err != nil {
		slog.Error("Failed to initialize LLM client", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := llmClient.Close(); err != nil {
			slog.Error("Error closing LLM client", "error", err)
		}
	}()

	checker := integrity.NewChecker(memoryMgr, llmClient, cfg)

	// 9. Assemble and start the kernel
	// Mail and calendar providers are collaborator packages; without one
	// linked the pollers stay disabled and the built-in tools report the
	// integration as unavailable.
	k, err := kernel.New(kernel.Deps{
		Config:        cfg,
		LLM:           llmClient,
		Sessions:      sessionMgr,
		Messages:      messageStore,
		Memory:        memoryMgr,
		Memories:      memoryStore,
		Integrations:  integrationStore,
		Notifications: notificationStore,
		Notifier:      center,
		Registry:      registry,
		Invoker:       invoker,
		Checker:       checker,
		Probes:        toolServerProbes(cfg, toolClient),
	})
	if err != nil {
		slog.Error("Failed to assemble kernel", "error", err)
		os.Exit(1)
	}
	for serverID, reason := range toolClient.FailedServers() {
		k.Warnings().AddWarning(kernel.WarningCategoryToolServer,
			"Tool server failed to initialize", reason, serverID)
	}
	if n, err := k.RegisterServerIntegrations(ctx); err != nil {
		slog.Warn("Tool server integration registration incomplete", "error", err)
	} else if n > 0 {
		slog.Info("Registered tool server integrations", "count", n)
	}
	k.Start(ctx)

	// 10. Start HTTP server (non-blocking)
	httpServer := api.NewServer(cfg, k, sessionMgr, center, fileStore, dbClient)
	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	stats := cfg.Stats()
	slog.Info("Famulus started",
		"addr", cfg.System.APIAddr,
		"llm_providers", stats.LLMProviders,
		"tool_servers", stats.ToolServers)

	// 11. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 12. Graceful shutdown: drain HTTP first (in-flight requests still
	// need the kernel), then the kernel's own budgeted stop, then the
	// fanout listener.
	httpShutdownCtx, httpCancel := context.WithTimeout(ctx, 10*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	k.Stop()

	fanoutCtx, fanoutCancel := context.WithTimeout(ctx, 5*time.Second)
	defer fanoutCancel()
	fanout.Stop(fanoutCtx)

	slog.Info("Shutdown complete")
}

// toolServerProbes builds one health probe per configured tool server. A
// server is healthy when it answers a tool listing. Probe cadence comes from
// the pollers config.
func toolServerProbes(cfg *config.Config, client *toolserver.Client) []pollers.Probe {
	ids := cfg.AllToolServerIDs()
	probes := make([]pollers.Probe, 0, len(ids))
	for _, id := range ids {
		serverID := id
		probes = append(probes, pollers.Probe{
			ID:       "tool_server:" + serverID,
			Resource: serverID,
			Severity: models.PriorityLow,
			Check: func(ctx context.Context) pollers.ProbeStatus {
				if _, err := client.ListTools(ctx, serverID); err != nil {
					return pollers.StatusUnhealthy
				}
				return pollers.StatusHealthy
			},
		})
	}
	return probes
}
