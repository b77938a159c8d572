package main

import (
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"

	"fleetscale/app/handler"
	"fleetscale/app/router"
	"fleetscale/internal/jobs"
	"fleetscale/pkg/autoscaler"
	"fleetscale/pkg/config"
	"fleetscale/pkg/interfaces"
	"fleetscale/pkg/logger"
	asynqmgr "fleetscale/pkg/queue/asynq"
	"fleetscale/pkg/replicamanager"
	mysqlstore "fleetscale/pkg/store/mysql"
	redisstore "fleetscale/pkg/store/redis"
)

// initConfig initializes configuration.
func (app *Application) initConfig() error {
	if err := config.Init(); err != nil {
		return err
	}
	app.config = config.GlobalConfig
	return nil
}

// initLogger initializes logging.
func (app *Application) initLogger() error {
	if err := logger.Init(); err != nil {
		return err
	}
	app.registerCleanup(func() {
		logger.Sync()
		logger.InfoCtx(app.ctx, "logging system closed")
	})
	return nil
}

// initRedis initializes the Redis connection backing the distributed lock,
// window persistence, and (if used) the provisioning queue.
func (app *Application) initRedis() error {
	client, err := redisstore.NewRedisClient(app.config)
	if err != nil {
		logger.WarnCtx(app.ctx, "redis unavailable, control loop will run without distributed locking or window persistence: %v", err)
		return nil
	}

	app.redisClient = client
	app.registerCleanup(func() {
		client.Close()
		logger.InfoCtx(app.ctx, "redis connection closed")
	})
	return nil
}

// initMySQL initializes the optional durable state store.
func (app *Application) initMySQL() error {
	if app.config.MySQL == nil {
		logger.InfoCtx(app.ctx, "mysql section not configured, replica state kept in memory only")
		return nil
	}

	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		app.config.MySQL.User,
		app.config.MySQL.Password,
		app.config.MySQL.Host,
		app.config.MySQL.Port,
		app.config.MySQL.Database,
	)

	repo, err := mysqlstore.NewRepository(dsn)
	if err != nil {
		return err
	}

	app.mysqlRepo = repo
	app.registerCleanup(func() {
		repo.Close()
		logger.InfoCtx(app.ctx, "mysql connection closed")
	})
	return nil
}

// initReplicaManager selects the replica provisioning backend and, when
// Redis is available, wraps it so provisioning calls are dispatched
// through the queue instead of run inline on the tick goroutine.
func (app *Application) initReplicaManager() error {
	var backend interfaces.ReplicaManager
	var err error

	switch app.config.ReplicaManager.Backend {
	case "kubernetes":
		backend, err = replicamanager.NewKubernetesReplicaManager(
			app.config.ReplicaManager.Kubernetes.Namespace,
			app.config.ReplicaManager.Kubernetes.Image,
		)
		if err != nil {
			return fmt.Errorf("failed to create kubernetes replica manager: %w", err)
		}
	case "mock", "":
		backend = replicamanager.NewMockReplicaManager()
	default:
		return &autoscaler.ConfigurationError{Field: "replicaManager.backend", Detail: "unknown backend " + app.config.ReplicaManager.Backend}
	}

	if app.redisClient != nil {
		queue := asynqmgr.NewManager(app.config)
		async := replicamanager.NewAsyncReplicaManager(queue, backend)
		async.RegisterHandlers()
		app.asyncQueue = queue
		app.replicaManager = async
		app.registerCleanup(func() {
			queue.Close()
		})
	} else {
		app.replicaManager = backend
	}

	if app.mysqlRepo != nil {
		app.stateStore = app.mysqlRepo.Replica
	} else {
		app.stateStore = replicamanager.NewInMemoryStateStore()
	}

	return nil
}

// selectedService picks the one service this process drives: the telemetry
// API's routes carry no service path segment, so one control plane process
// serves exactly one autoscaled service (run one process per service for a
// multi-service deployment).
func (app *Application) selectedService() (string, config.ServiceConfig, error) {
	switch len(app.config.AutoScaler.Services) {
	case 0:
		return "", config.ServiceConfig{}, &autoscaler.ConfigurationError{Field: "autoscaler.services", Detail: "no service configured"}
	case 1:
		for name, svc := range app.config.AutoScaler.Services {
			return name, svc, nil
		}
	}

	names := make([]string, 0, len(app.config.AutoScaler.Services))
	for name := range app.config.AutoScaler.Services {
		names = append(names, name)
	}
	sort.Strings(names)
	name := names[0]
	logger.WarnCtx(app.ctx, "multiple services configured (%v); this process serves only %q, run one process per service", names, name)
	return name, app.config.AutoScaler.Services[name], nil
}

func buildCatalogue(items []config.AcceleratorCatalogueItem) autoscaler.Catalogue {
	catalogue := make(autoscaler.Catalogue, len(items))
	for _, item := range items {
		catalogue[autoscaler.AcceleratorClass(item.Class)] = autoscaler.CatalogueEntry{
			Class:         autoscaler.AcceleratorClass(item.Class),
			ThroughputRPS: item.ThroughputRPS,
			FallbackClass: autoscaler.AcceleratorClass(item.FallbackClass),
			FallbackCount: item.FallbackCount,
		}
	}
	return catalogue
}

// initControlLoop builds the window, the configured decision engine, the
// executor, and the control loop for the selected service.
func (app *Application) initControlLoop() error {
	name, svc, err := app.selectedService()
	if err != nil {
		return err
	}

	window := autoscaler.NewRequestWindow(app.config.AutoScaler.WindowSize)

	var windowStore *autoscaler.WindowStore
	if app.redisClient != nil {
		windowStore = autoscaler.NewWindowStore(app.redisClient.GetClient(), name)
	}

	var engine autoscaler.DecisionEngine
	var classOrder []autoscaler.AcceleratorClass

	switch svc.Policy {
	case "heterogeneous":
		catalogue := buildCatalogue(app.config.AutoScaler.Catalogue)
		cfg := autoscaler.HeterogeneousConfig{
			Catalogue:         catalogue,
			MinReplicas:       svc.Heterogeneous.MinReplicas,
			MaxReplicas:       svc.Heterogeneous.MaxReplicas,
			ScaleUpCooldown:   svc.Heterogeneous.ScaleUpCooldown,
			ScaleDownCooldown: svc.Heterogeneous.ScaleDownCooldown,
		}
		engine = autoscaler.NewHeterogeneousEngine(cfg, autoscaler.ThroughputSolver{}, window)

		classOrder = make([]autoscaler.AcceleratorClass, 0, len(app.config.AutoScaler.Catalogue))
		for _, item := range app.config.AutoScaler.Catalogue {
			classOrder = append(classOrder, autoscaler.AcceleratorClass(item.Class))
		}
	case "rate_threshold", "":
		cfg := autoscaler.RateThresholdConfig{
			MinReplicas:       svc.RateThreshold.MinReplicas,
			MaxReplicas:       svc.RateThreshold.MaxReplicas,
			UpperThreshold:    svc.RateThreshold.UpperThreshold,
			LowerThreshold:    svc.RateThreshold.LowerThreshold,
			ScaleUpCooldown:   svc.RateThreshold.ScaleUpCooldown,
			ScaleDownCooldown: svc.RateThreshold.ScaleDownCooldown,
		}
		engine = autoscaler.NewRateThresholdEngine(cfg, autoscaler.AcceleratorClass(svc.Accelerator), window)
		classOrder = []autoscaler.AcceleratorClass{autoscaler.AcceleratorClass(svc.Accelerator)}
	default:
		return &autoscaler.ConfigurationError{Field: "autoscaler.services." + name + ".policy", Detail: "unknown policy " + svc.Policy}
	}

	executor := autoscaler.NewExecutor(app.replicaManager, app.stateStore, name)

	lock := autoscaler.NewRedisDistributedLock(app.redisRawClient(), "fleetscale:control-loop-lock:"+name)

	app.controlLoop = autoscaler.NewControlLoop(
		autoscaler.ControlLoopConfig{Service: name, Interval: svc.Interval},
		window, windowStore, engine, executor, app.stateStore, lock,
	)

	app.telemetryHandler = handler.NewTelemetryHandler(app.controlLoop, classOrder, app.requestShutdown)

	return nil
}

// initJobs registers housekeeping background jobs. Scaling event cleanup
// only makes sense when the MySQL audit trail is actually in use.
func (app *Application) initJobs() error {
	if app.mysqlRepo == nil {
		return nil
	}

	app.jobManager = jobs.NewManager(app.ctx)
	app.jobManager.Register(jobs.NewScalingEventCleanup(app.mysqlRepo.ScalingEvent, 30*24*time.Hour, time.Hour))
	return nil
}

// redisRawClient returns the underlying *redis.Client for the distributed
// lock, or nil when Redis isn't configured (the lock degrades to an
// always-succeeds single-instance mode, see distributed_lock.go).
func (app *Application) redisRawClient() *redis.Client {
	if app.redisClient == nil {
		return nil
	}
	return app.redisClient.GetClient()
}

// initHTTPServer wires the router and HTTP server.
func (app *Application) initHTTPServer() error {
	r := router.NewRouter(app.telemetryHandler)

	gin.SetMode(app.config.Server.Mode)
	app.ginEngine = gin.New()
	r.Setup(app.ginEngine)

	app.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", app.config.Server.Port),
		Handler: app.ginEngine,
	}

	return nil
}
