package asynq

import (
	"context"
	"time"

	"github.com/hibiken/asynq"

	"fleetscale/pkg/config"
	"fleetscale/pkg/logger"
)

// Task type names for replica provisioning work dispatched through the
// queue rather than called inline from a control loop tick.
const (
	TypeReplicaLaunch    = "replica:launch"
	TypeReplicaScaleDown = "replica:scale_down"
)

// Manager wraps an asynq client/server pair, giving the replica manager a
// retry-safe dispatch path: a failed provisioning call is retried by asynq
// rather than lost when a tick moves on.
type Manager struct {
	client *asynq.Client
	server *asynq.Server
	mux    *asynq.ServeMux
}

// NewManager creates a queue manager backed by the configured Redis.
func NewManager(cfg *config.Config) *Manager {
	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}

	client := asynq.NewClient(redisOpt)

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				"default": 10,
			},
			RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
				return time.Duration(n) * time.Second
			},
		},
	)

	return &Manager{
		client: client,
		server: server,
		mux:    asynq.NewServeMux(),
	}
}

// Enqueue submits a task payload under the given type name.
func (m *Manager) Enqueue(ctx context.Context, taskType string, payload []byte, maxRetry int) error {
	task := asynq.NewTask(taskType, payload)
	info, err := m.client.EnqueueContext(ctx, task, asynq.MaxRetry(maxRetry), asynq.Timeout(30*time.Second))
	if err != nil {
		return err
	}
	logger.InfoCtx(ctx, "enqueued task type=%s queue=%s", taskType, info.Queue)
	return nil
}

// RegisterHandler registers a handler for a task type pattern.
func (m *Manager) RegisterHandler(pattern string, handler asynq.Handler) {
	m.mux.Handle(pattern, handler)
}

// Start runs the queue server, processing registered handlers until Stop.
func (m *Manager) Start() error {
	logger.InfoCtx(context.Background(), "starting replica provisioning queue server")
	return m.server.Start(m.mux)
}

// Stop gracefully stops the queue server.
func (m *Manager) Stop() {
	logger.InfoCtx(context.Background(), "stopping replica provisioning queue server")
	m.server.Stop()
	m.server.Shutdown()
}

// Close closes the client connection.
func (m *Manager) Close() error {
	return m.client.Close()
}
