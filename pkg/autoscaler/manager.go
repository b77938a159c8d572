package autoscaler

import (
	"context"
	"sync"
	"time"

	"fleetscale/pkg/interfaces"
	"fleetscale/pkg/logger"
)

// intervalReporter is implemented by policies that can advise a query
// interval over the telemetry API (§6; only the rate-threshold policy does).
type intervalReporter interface {
	QueryInterval() (time.Duration, bool)
}

// fallbackReaper is implemented by policies that maintain fallback replicas
// and need a standing reap pass independent of the regular Evaluate tick
// (the heterogeneous policy; SUPPLEMENTED FEATURES).
type fallbackReaper interface {
	ReapFallbacks(ctx context.Context, now time.Time, replicas []ReplicaInfo) DecisionBatch
}

// ControlLoop drives one autoscaled service: every tick it snapshots replica
// state, asks the decision engine what to do, and hands the result to the
// executor. A distributed lock ensures only one control loop instance acts
// on a given service at a time when several processes share the same Redis,
// mirroring the teacher's single-writer ticker pattern (§4.6, §5).
type ControlLoop struct {
	service  string
	interval time.Duration

	window      *RequestWindow
	windowStore *WindowStore
	engine      DecisionEngine
	executor    *Executor
	store       interfaces.ReplicaStateStore
	lock        DistributedLock

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	lastTickTime time.Time
}

type ControlLoopConfig struct {
	Service  string
	Interval time.Duration
}

func NewControlLoop(cfg ControlLoopConfig, window *RequestWindow, windowStore *WindowStore, engine DecisionEngine, executor *Executor, store interfaces.ReplicaStateStore, lock DistributedLock) *ControlLoop {
	return &ControlLoop{
		service:     cfg.Service,
		interval:    cfg.Interval,
		window:      window,
		windowStore: windowStore,
		engine:      engine,
		executor:    executor,
		store:       store,
		lock:        lock,
		stopCh:      make(chan struct{}),
	}
}

// Start loads any persisted window snapshot and begins the ticker loop.
func (c *ControlLoop) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = true
	c.stopCh = make(chan struct{})
	c.mu.Unlock()

	if c.windowStore != nil {
		if err := c.windowStore.Load(ctx, c.window); err != nil {
			logger.WarnCtx(ctx, "control loop %s: window restore failed: %v", c.service, err)
		}
	}

	c.wg.Add(1)
	go c.run(ctx)

	logger.InfoCtx(ctx, "control loop %s started, interval=%s", c.service, c.interval)
	return nil
}

// Stop signals the loop to exit, waits for the current tick (if any) to
// finish, and persists the window one last time before returning.
func (c *ControlLoop) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	close(c.stopCh)
	c.mu.Unlock()

	c.wg.Wait()

	if err := c.engine.OnShutdown(ctx); err != nil {
		logger.WarnCtx(ctx, "control loop %s: engine shutdown error: %v", c.service, err)
	}
	if c.windowStore != nil {
		if err := c.windowStore.Save(ctx, c.window); err != nil {
			logger.WarnCtx(ctx, "control loop %s: final window persist failed: %v", c.service, err)
		}
	}

	logger.InfoCtx(ctx, "control loop %s stopped", c.service)
	return nil
}

func (c *ControlLoop) run(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.tick(ctx); err != nil {
				logger.ErrorCtx(ctx, "control loop %s: tick failed: %v", c.service, err)
			}
		}
	}
}

// tick runs one snapshot -> decide -> execute cycle under the distributed
// lock. Skipping a tick because the lock is held elsewhere is normal, not an
// error: another instance is already driving this service this round.
func (c *ControlLoop) tick(ctx context.Context) error {
	acquired, err := c.lock.TryLock(ctx)
	if err != nil {
		return &TransientExternalError{Op: "acquire control loop lock", Err: err}
	}
	if !acquired {
		logger.DebugCtx(ctx, "control loop %s: lock held elsewhere, skipping tick", c.service)
		return nil
	}
	defer func() {
		if err := c.lock.Unlock(ctx); err != nil {
			logger.WarnCtx(ctx, "control loop %s: unlock failed: %v", c.service, err)
		}
	}()

	now := time.Now()

	replicas, err := c.store.ListReplicas(ctx, c.service)
	if err != nil {
		return &TransientExternalError{Op: "list replicas", Err: err}
	}

	batch, err := c.engine.Evaluate(ctx, now, replicas)
	if err != nil {
		return err
	}

	if reaper, ok := c.engine.(fallbackReaper); ok {
		reaped := reaper.ReapFallbacks(ctx, now, replicas)
		batch.Decisions = append(batch.Decisions, reaped.Decisions...)
	}

	if err := c.executor.Execute(ctx, now, batch); err != nil {
		logger.WarnCtx(ctx, "control loop %s: batch execution reported errors: %v", c.service, err)
	}

	c.mu.Lock()
	c.lastTickTime = now
	c.mu.Unlock()

	if c.windowStore != nil {
		if err := c.windowStore.Save(ctx, c.window); err != nil {
			logger.WarnCtx(ctx, "control loop %s: window persist failed: %v", c.service, err)
		}
	}

	return nil
}

// IngestRequests records num requests observed for class at the given time.
// Exposed for the telemetry API's ingest_requests endpoint (§6).
func (c *ControlLoop) IngestRequests(at time.Time, class AcceleratorClass, num int64) {
	c.window.Ingest(at, class, num)
}

// QueryInterval reports the engine's advisory polling cadence, if it has
// one. The heterogeneous policy has no single cadence and returns false.
func (c *ControlLoop) QueryInterval() (time.Duration, bool) {
	if reporter, ok := c.engine.(intervalReporter); ok {
		return reporter.QueryInterval()
	}
	return 0, false
}

// Status returns a read model of the service for the telemetry API.
func (c *ControlLoop) Status(ctx context.Context) (ServiceStatus, error) {
	replicas, err := c.store.ListReplicas(ctx, c.service)
	if err != nil {
		return ServiceStatus{}, &TransientExternalError{Op: "list replicas", Err: err}
	}

	ready := 0
	for _, r := range replicas {
		if r.Status == StatusReady {
			ready++
		}
	}

	c.mu.Lock()
	lastTick := c.lastTickTime
	c.mu.Unlock()

	return ServiceStatus{
		Service:          c.service,
		Replicas:         replicas,
		ReadyCount:       ready,
		LastDecisionTime: lastTick,
	}, nil
}

// IsRunning reports whether the loop's ticker goroutine is active.
func (c *ControlLoop) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}
