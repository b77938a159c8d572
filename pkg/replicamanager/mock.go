package replicamanager

import (
	"context"
	"sync"
	"sync/atomic"

	"fleetscale/pkg/interfaces"
	"fleetscale/pkg/logger"
)

// MockReplicaManager is an in-memory ReplicaManager for local development
// and tests: Launch/ScaleDown never touch a real scheduler, they just hand
// out sequential replica IDs and remember which ones are "alive".
type MockReplicaManager struct {
	nextID int64

	mu    sync.Mutex
	alive map[int64]interfaces.LaunchSpec
}

// NewMockReplicaManager creates a mock replica manager.
func NewMockReplicaManager() *MockReplicaManager {
	return &MockReplicaManager{alive: make(map[int64]interfaces.LaunchSpec)}
}

func (m *MockReplicaManager) Launch(ctx context.Context, spec interfaces.LaunchSpec) (int64, error) {
	id := atomic.AddInt64(&m.nextID, 1)
	m.mu.Lock()
	m.alive[id] = spec
	m.mu.Unlock()
	logger.InfoCtx(ctx, "mock replica manager: launched replica %d (%s, primary=%v)", id, spec.Accelerator, spec.IsPrimary)
	return id, nil
}

func (m *MockReplicaManager) LaunchBundle(ctx context.Context, specs []interfaces.LaunchSpec) ([]int64, error) {
	ids := make([]int64, 0, len(specs))
	for _, spec := range specs {
		id, err := m.Launch(ctx, spec)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (m *MockReplicaManager) ScaleDown(ctx context.Context, replicaID int64) error {
	m.mu.Lock()
	delete(m.alive, replicaID)
	m.mu.Unlock()
	logger.InfoCtx(ctx, "mock replica manager: scaled down replica %d", replicaID)
	return nil
}
