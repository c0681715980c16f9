// Package app initializes and orchestrates the main components of the review
// service. It wires together configuration, storage, the review engine, the
// fan-out hub, and the HTTP server.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/codehound/reviewhub/internal/auth"
	"github.com/codehound/reviewhub/internal/config"
	"github.com/codehound/reviewhub/internal/core"
	"github.com/codehound/reviewhub/internal/db"
	"github.com/codehound/reviewhub/internal/engine"
	"github.com/codehound/reviewhub/internal/gate"
	"github.com/codehound/reviewhub/internal/hub"
	"github.com/codehound/reviewhub/internal/jobs"
	"github.com/codehound/reviewhub/internal/server"
	"github.com/codehound/reviewhub/internal/storage"
)

const tokenTTL = 24 * time.Hour

// App holds the main application components.
type App struct {
	ctx        context.Context
	cancel     context.CancelFunc
	cfg        *config.Config
	server     *server.Server
	logger     *slog.Logger
	dispatcher core.JobDispatcher
	closeDB    func()
}

// newEngineHTTPClient creates an HTTP client tuned for long-running engine
// calls. The blocking join can legitimately take minutes, so per-request
// deadlines come from contexts rather than a client-wide timeout.
func newEngineHTTPClient() *http.Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		MaxConnsPerHost:     10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	return &http.Client{Transport: transport}
}

// NewApp sets up the application with all its dependencies.
func NewApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	logger.Info("initializing review service",
		"engine_base_url", cfg.Engine.BaseURL,
		"max_workers", cfg.MaxWorkers,
		"queue_size", cfg.QueueSize)

	dbConn, closeDB, err := db.New(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to set up database: %w", err)
	}

	store := storage.NewStore(dbConn.DB)

	runCtx, cancel := context.WithCancel(ctx)

	fanout := hub.New(logger)
	go fanout.Run(runCtx)

	engineClient := engine.NewClient(cfg.Engine.BaseURL, cfg.Engine.TelemetryURL, newEngineHTTPClient())
	adapter := engine.NewAdapter(engineClient, cfg.Engine, store, logger)

	lifecycle := jobs.NewLifecycle(store, fanout, logger)
	reviewJob := jobs.NewReviewJob(adapter, lifecycle, logger)
	dispatcher := jobs.NewDispatcher(reviewJob, lifecycle, cfg.MaxWorkers, cfg.QueueSize, logger)

	reaper := jobs.NewReaper(store, fanout, cfg.ReaperInterval, cfg.StuckJobThreshold, logger)
	go reaper.Run(runCtx)

	tokens := auth.NewTokenManager(cfg.JWTSecret, tokenTTL)
	admission := gate.New(store, logger)

	httpServer := server.NewServer(runCtx, server.RouterDeps{
		Config:     cfg,
		Store:      store,
		Gate:       admission,
		Dispatcher: dispatcher,
		Engine:     adapter,
		Hub:        fanout,
		Tokens:     tokens,
		Logger:     logger,
	})

	logger.Info("review service initialized successfully")
	return &App{
		ctx:        runCtx,
		cancel:     cancel,
		cfg:        cfg,
		server:     httpServer,
		logger:     logger,
		dispatcher: dispatcher,
		closeDB:    closeDB,
	}, nil
}

// Start runs the HTTP server.
func (a *App) Start() error {
	a.logger.Info("starting review service",
		"server_port", a.cfg.ServerPort,
		"max_workers", a.cfg.MaxWorkers)

	if err := a.server.Start(); err != nil {
		a.logger.Error("failed to start HTTP server", "error", err)
		return err
	}
	return nil
}

// Stop shuts down the application cleanly.
func (a *App) Stop() error {
	a.logger.Info("shutting down review service")

	// Stop the HTTP server first to prevent new incoming requests.
	serverErr := a.server.Stop()
	if serverErr != nil {
		a.logger.Error("error during HTTP server shutdown", "error", serverErr)
		// Continue to stop other components even if the server failed.
	}

	// Stop the job dispatcher, allowing in-flight jobs to finish.
	a.dispatcher.Stop()

	// Stop the hub and the reaper.
	a.cancel()

	a.logger.Info("closing database connection")
	a.closeDB()

	if serverErr != nil {
		a.logger.Error("review service stopped with errors", "error", serverErr)
		return serverErr
	}

	a.logger.Info("review service stopped successfully")
	return nil
}
