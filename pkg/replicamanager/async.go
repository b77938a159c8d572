package replicamanager

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"fleetscale/pkg/interfaces"
	"fleetscale/pkg/logger"
	asynqmgr "fleetscale/pkg/queue/asynq"
)

// launchPayload is the queued task body for a deferred Launch call.
// CorrelationID ties a queue-worker log line back to the tick that issued
// the provisioning request, since the actual backend call happens on a
// worker goroutine well after the originating Launch returned.
type launchPayload struct {
	ReplicaID     int64                 `json:"replica_id"`
	CorrelationID string                `json:"correlation_id"`
	Spec          interfaces.LaunchSpec `json:"spec"`
}

type scaleDownPayload struct {
	ReplicaID     int64  `json:"replica_id"`
	CorrelationID string `json:"correlation_id"`
}

// AsyncReplicaManager decorates a real ReplicaManager backend so every
// Launch/ScaleDown call is dispatched through the provisioning queue
// instead of run inline on the control loop's tick goroutine: a failed
// provisioning RPC is retried by asynq on its own schedule rather than
// silently dropped when the tick moves on to the next service.
//
// Launch and LaunchBundle still return replica IDs synchronously (the
// executor persists them immediately as PROVISIONING) — only the backend
// call that actually brings the replica up is deferred to the queue.
type AsyncReplicaManager struct {
	queue   *asynqmgr.Manager
	backend interfaces.ReplicaManager
	nextID  int64
}

// NewAsyncReplicaManager wraps backend with queue-dispatched provisioning.
func NewAsyncReplicaManager(queue *asynqmgr.Manager, backend interfaces.ReplicaManager) *AsyncReplicaManager {
	return &AsyncReplicaManager{queue: queue, backend: backend}
}

func (a *AsyncReplicaManager) Launch(ctx context.Context, spec interfaces.LaunchSpec) (int64, error) {
	id := atomic.AddInt64(&a.nextID, 1)
	payload, err := json.Marshal(launchPayload{ReplicaID: id, CorrelationID: uuid.New().String(), Spec: spec})
	if err != nil {
		return 0, fmt.Errorf("failed to marshal launch payload: %w", err)
	}
	if err := a.queue.Enqueue(ctx, asynqmgr.TypeReplicaLaunch, payload, 5); err != nil {
		return 0, err
	}
	return id, nil
}

func (a *AsyncReplicaManager) LaunchBundle(ctx context.Context, specs []interfaces.LaunchSpec) ([]int64, error) {
	ids := make([]int64, 0, len(specs))
	for _, spec := range specs {
		id, err := a.Launch(ctx, spec)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (a *AsyncReplicaManager) ScaleDown(ctx context.Context, replicaID int64) error {
	payload, err := json.Marshal(scaleDownPayload{ReplicaID: replicaID, CorrelationID: uuid.New().String()})
	if err != nil {
		return fmt.Errorf("failed to marshal scale_down payload: %w", err)
	}
	return a.queue.Enqueue(ctx, asynqmgr.TypeReplicaScaleDown, payload, 5)
}

// RegisterHandlers wires the queue worker side: handlers that take the
// deferred payload and actually invoke the backend.
func (a *AsyncReplicaManager) RegisterHandlers() {
	a.queue.RegisterHandler(asynqmgr.TypeReplicaLaunch, asynq.HandlerFunc(func(ctx context.Context, task *asynq.Task) error {
		var p launchPayload
		if err := json.Unmarshal(task.Payload(), &p); err != nil {
			return err
		}
		id, err := a.backend.Launch(ctx, p.Spec)
		if err != nil {
			return err
		}
		logger.InfoCtx(ctx, "async launch completed (correlation_id=%s): queued replica %d -> backend replica %d", p.CorrelationID, p.ReplicaID, id)
		return nil
	}))

	a.queue.RegisterHandler(asynqmgr.TypeReplicaScaleDown, asynq.HandlerFunc(func(ctx context.Context, task *asynq.Task) error {
		var p scaleDownPayload
		if err := json.Unmarshal(task.Payload(), &p); err != nil {
			return err
		}
		return a.backend.ScaleDown(ctx, p.ReplicaID)
	}))
}
