// Agent desktop simulator server.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/opencx/agentsim/internal/api"
	"github.com/opencx/agentsim/internal/broker"
	"github.com/opencx/agentsim/internal/capability"
	"github.com/opencx/agentsim/internal/channel"
	"github.com/opencx/agentsim/internal/config"
	"github.com/opencx/agentsim/internal/directory"
	"github.com/opencx/agentsim/internal/domain"
	"github.com/opencx/agentsim/internal/identity"
	"github.com/opencx/agentsim/internal/media"
	"github.com/opencx/agentsim/internal/reporting"
	"github.com/opencx/agentsim/internal/store"
	"github.com/opencx/agentsim/internal/voice"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	dir := loadDirectory(cfg)
	table := loadCapabilities(cfg)
	defaults := loadAttachedData(cfg)
	workbins := loadWorkbins(cfg)

	// Initialize services.
	b := broker.New(cfg.BringupDelay)
	recorder := reporting.New(repo, b)
	channels := channel.NewRegistry()
	voiceEngine := voice.NewEngine(voice.Config{AutoAnswerDelay: cfg.AutoAnswerDelay}, table, dir, channels, b, recorder)
	mediaEngine := media.NewEngine(dir, channels, b, recorder, defaults, workbins)
	ids := identity.NewManager(dir)

	// Initialize handlers.
	handler := api.NewHandler(ids, dir, voiceEngine, mediaEngine, b, channels, recorder, defaults, cfg.FrontendURL, cfg.IsDevelopment())

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler.Routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // 0 = no timeout, notification sockets stay open
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}

// loadDirectory reads the agent fixture, falling back to a built-in roster
// when the file is missing so the simulator runs out of the box.
func loadDirectory(cfg *config.Config) *directory.Directory {
	dir, err := directory.LoadFile(cfg.AgentsFile())
	if err == nil {
		slog.Info("Agent directory loaded", "path", cfg.AgentsFile(), "agents", len(dir.All()))
		return dir
	}
	slog.Warn("Agent fixture not loaded, using built-in roster", "path", cfg.AgentsFile(), "error", err)

	dir = directory.New()
	for _, a := range []*domain.Agent{
		{UserName: "agent1@sim.local", FirstName: "Ada", LastName: "Agent", AgentLogin: "5001", DBID: 101},
		{UserName: "agent2@sim.local", FirstName: "Brian", LastName: "Agent", AgentLogin: "5002", DBID: 102},
		{UserName: "supervisor@sim.local", FirstName: "Sonia", LastName: "Supervisor", AgentLogin: "9001", DBID: 201, Supervisor: true},
	} {
		dir.Add(a)
	}
	return dir
}

// loadCapabilities reads the capability table fixture, falling back to the
// built-in table.
func loadCapabilities(cfg *config.Config) *capability.Table {
	table, err := capability.Load(cfg.CapabilitiesFile())
	if err == nil {
		slog.Info("Capability table loaded", "path", cfg.CapabilitiesFile())
		return table
	}
	slog.Warn("Capability fixture not loaded, using built-in table", "path", cfg.CapabilitiesFile(), "error", err)
	return capability.Default()
}

// loadAttachedData reads the default attached-data fixture stamped on every
// simulated inbound interaction. A missing file means no defaults.
func loadAttachedData(cfg *config.Config) domain.KVList {
	raw, err := os.ReadFile(cfg.AttachedDataFile())
	if err != nil {
		slog.Info("No attached-data fixture", "path", cfg.AttachedDataFile())
		return nil
	}
	var defaults domain.KVList
	if err := yaml.Unmarshal(raw, &defaults); err != nil {
		slog.Warn("Attached-data fixture not parsed", "path", cfg.AttachedDataFile(), "error", err)
		return nil
	}
	slog.Info("Attached-data defaults loaded", "path", cfg.AttachedDataFile(), "entries", len(defaults))
	return defaults
}

// loadWorkbins reads the workbin fixture. A missing file means no workbins.
func loadWorkbins(cfg *config.Config) []*media.Workbin {
	workbins, err := media.LoadWorkbins(cfg.WorkbinsFile())
	if err != nil {
		slog.Info("No workbin fixture", "path", cfg.WorkbinsFile(), "error", err)
		return nil
	}
	slog.Info("Workbins loaded", "path", cfg.WorkbinsFile(), "workbins", len(workbins))
	return workbins
}
