package autoscaler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"fleetscale/pkg/interfaces"
)

type fakeReplicaManager struct {
	mu       sync.Mutex
	nextID   int64
	launched []interfaces.LaunchSpec
	removed  []int64
}

func (f *fakeReplicaManager) Launch(ctx context.Context, spec interfaces.LaunchSpec) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.launched = append(f.launched, spec)
	return f.nextID, nil
}

func (f *fakeReplicaManager) LaunchBundle(ctx context.Context, specs []interfaces.LaunchSpec) ([]int64, error) {
	ids := make([]int64, 0, len(specs))
	for _, spec := range specs {
		id, _ := f.Launch(ctx, spec)
		ids = append(ids, id)
	}
	return ids, nil
}

func (f *fakeReplicaManager) ScaleDown(ctx context.Context, replicaID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, replicaID)
	return nil
}

type fakeStateStore struct {
	mu       sync.Mutex
	replicas map[int64]ReplicaInfo
}

func newFakeStateStore() *fakeStateStore {
	return &fakeStateStore{replicas: make(map[int64]ReplicaInfo)}
}

func (f *fakeStateStore) ListReplicas(ctx context.Context, service string) ([]ReplicaInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]ReplicaInfo, 0, len(f.replicas))
	for _, r := range f.replicas {
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeStateStore) UpsertReplica(ctx context.Context, service string, info ReplicaInfo) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replicas[info.ReplicaID] = info
	return nil
}

func (f *fakeStateStore) RemoveReplica(ctx context.Context, service string, replicaID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.replicas, replicaID)
	return nil
}

func TestControlLoop_TickLaunchesOnRateAboveThreshold(t *testing.T) {
	window := NewRequestWindow(10 * time.Second)
	engine := NewRateThresholdEngine(rateThresholdCfg(), "A100", window)
	manager := &fakeReplicaManager{}
	store := newFakeStateStore()
	executor := NewExecutor(manager, store, "chatbot")
	lock := NewRedisDistributedLock(nil, "test-control-loop")

	loop := NewControlLoop(ControlLoopConfig{Service: "chatbot", Interval: time.Hour}, window, nil, engine, executor, store, lock)

	now := time.Now()
	window.Ingest(now, "A100", 200)
	// One READY replica already serving 20 req/s against an upper threshold
	// of 10 puts the engine past the bootstrap gate and onto the rate path:
	// floor(20/10) = 2 replicas, so exactly one launch.
	store.UpsertReplica(context.Background(), "chatbot", ReplicaInfo{ReplicaID: 100, Accelerator: "A100", IsPrimary: true, Status: StatusReady, CreatedAt: now})

	err := loop.tick(context.Background())
	require.NoError(t, err)

	manager.mu.Lock()
	defer manager.mu.Unlock()
	require.Len(t, manager.launched, 1)
}

func TestControlLoop_StatusReflectsStateStore(t *testing.T) {
	window := NewRequestWindow(10 * time.Second)
	engine := NewRateThresholdEngine(rateThresholdCfg(), "A100", window)
	manager := &fakeReplicaManager{}
	store := newFakeStateStore()
	executor := NewExecutor(manager, store, "chatbot")
	lock := NewRedisDistributedLock(nil, "test-control-loop-status")

	loop := NewControlLoop(ControlLoopConfig{Service: "chatbot", Interval: time.Hour}, window, nil, engine, executor, store, lock)

	store.UpsertReplica(context.Background(), "chatbot", ReplicaInfo{ReplicaID: 1, Accelerator: "A100", IsPrimary: true, Status: StatusReady, CreatedAt: time.Now()})

	status, err := loop.Status(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, status.ReadyCount)
}
