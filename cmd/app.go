package main

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"fleetscale/app/handler"
	"fleetscale/internal/jobs"
	"fleetscale/pkg/autoscaler"
	"fleetscale/pkg/config"
	"fleetscale/pkg/interfaces"
	"fleetscale/pkg/logger"
	asynqmgr "fleetscale/pkg/queue/asynq"
	mysqlstore "fleetscale/pkg/store/mysql"
	redisstore "fleetscale/pkg/store/redis"

	"github.com/gin-gonic/gin"
)

// Application manages the lifecycle of the control plane process.
type Application struct {
	config      *config.Config
	mysqlRepo   *mysqlstore.Repository
	redisClient *redisstore.RedisClient

	replicaManager interfaces.ReplicaManager
	stateStore     interfaces.ReplicaStateStore
	asyncQueue     *asynqmgr.Manager

	controlLoop      *autoscaler.ControlLoop
	telemetryHandler *handler.TelemetryHandler
	jobManager       *jobs.Manager

	httpServer *http.Server
	ginEngine  *gin.Engine

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	cleanupFuncs []func()
}

// NewApplication creates a new Application instance.
func NewApplication() *Application {
	ctx, cancel := context.WithCancel(context.Background())
	return &Application{
		ctx:          ctx,
		cancel:       cancel,
		cleanupFuncs: make([]func(), 0),
	}
}

// Initialize initializes all application components, in dependency order.
func (app *Application) Initialize() error {
	steps := []struct {
		name string
		fn   func() error
	}{
		{"Configuration", app.initConfig},
		{"Logging", app.initLogger},
		{"Redis", app.initRedis},
		{"MySQL", app.initMySQL},
		{"Replica Manager", app.initReplicaManager},
		{"Control Loop", app.initControlLoop},
		{"Background Jobs", app.initJobs},
		{"HTTP Server", app.initHTTPServer},
	}

	for _, step := range steps {
		logger.InfoCtx(app.ctx, "Initializing %s...", step.name)
		if err := step.fn(); err != nil {
			return fmt.Errorf("failed to initialize %s: %w", step.name, err)
		}
		logger.InfoCtx(app.ctx, "%s initialized successfully", step.name)
	}

	logger.InfoCtx(app.ctx, "Application initialization completed")
	return nil
}

// Start starts all application components.
func (app *Application) Start() error {
	logger.InfoCtx(app.ctx, "Starting application components...")

	if app.asyncQueue != nil {
		app.wg.Add(1)
		go func() {
			defer app.wg.Done()
			if err := app.asyncQueue.Start(); err != nil {
				logger.ErrorCtx(app.ctx, "provisioning queue server stopped: %v", err)
			}
		}()
	}

	if err := app.controlLoop.Start(app.ctx); err != nil {
		return fmt.Errorf("failed to start control loop: %w", err)
	}

	if app.jobManager != nil {
		app.jobManager.Start()
	}

	app.wg.Add(1)
	go func() {
		defer app.wg.Done()
		addr := fmt.Sprintf(":%d", app.config.Server.Port)
		logger.InfoCtx(app.ctx, "HTTP server listening on: %s", addr)
		if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.FatalCtx(app.ctx, "HTTP server error: %v", err)
		}
	}()

	logger.InfoCtx(app.ctx, "All components started successfully")
	return nil
}

// Shutdown gracefully shuts down the application: stop the control loop
// first so no new provisioning starts, then the HTTP server, then
// infrastructure connections.
func (app *Application) Shutdown(timeout time.Duration) error {
	logger.InfoCtx(app.ctx, "Starting graceful shutdown (timeout: %v)...", timeout)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := app.controlLoop.Stop(shutdownCtx); err != nil {
		logger.WarnCtx(app.ctx, "control loop shutdown error: %v", err)
	}

	if err := app.httpServer.Shutdown(shutdownCtx); err != nil {
		logger.ErrorCtx(app.ctx, "HTTP server shutdown error: %v", err)
	}

	if app.asyncQueue != nil {
		app.asyncQueue.Stop()
	}

	if app.jobManager != nil {
		app.jobManager.Stop()
	}

	app.cancel()

	done := make(chan struct{})
	go func() {
		app.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.InfoCtx(app.ctx, "All background tasks completed")
	case <-shutdownCtx.Done():
		logger.WarnCtx(app.ctx, "Shutdown timeout, some tasks may not have completed")
	}

	for i := len(app.cleanupFuncs) - 1; i >= 0; i-- {
		app.cleanupFuncs[i]()
	}

	logger.Sync()
	logger.InfoCtx(app.ctx, "Graceful shutdown completed")
	return nil
}

func (app *Application) registerCleanup(cleanup func()) {
	app.cleanupFuncs = append(app.cleanupFuncs, cleanup)
}

func (app *Application) requestShutdown() {
	if err := app.Shutdown(30 * time.Second); err != nil {
		logger.ErrorCtx(app.ctx, "shutdown requested via /control_plane/terminate failed: %v", err)
	}
}
