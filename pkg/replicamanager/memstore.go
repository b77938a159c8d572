package replicamanager

import (
	"context"
	"sync"

	"fleetscale/pkg/autoscaler"
)

// InMemoryStateStore is the fallback interfaces.ReplicaStateStore used when
// no MySQL datastore is configured. Replica state does not survive a
// process restart.
type InMemoryStateStore struct {
	mu       sync.RWMutex
	replicas map[string]map[int64]autoscaler.ReplicaInfo
}

// NewInMemoryStateStore creates an empty store.
func NewInMemoryStateStore() *InMemoryStateStore {
	return &InMemoryStateStore{
		replicas: make(map[string]map[int64]autoscaler.ReplicaInfo),
	}
}

func (s *InMemoryStateStore) ListReplicas(ctx context.Context, service string) ([]autoscaler.ReplicaInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byID := s.replicas[service]
	out := make([]autoscaler.ReplicaInfo, 0, len(byID))
	for _, info := range byID {
		out = append(out, info)
	}
	return out, nil
}

func (s *InMemoryStateStore) UpsertReplica(ctx context.Context, service string, info autoscaler.ReplicaInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byID, ok := s.replicas[service]
	if !ok {
		byID = make(map[int64]autoscaler.ReplicaInfo)
		s.replicas[service] = byID
	}
	byID[info.ReplicaID] = info
	return nil
}

func (s *InMemoryStateStore) RemoveReplica(ctx context.Context, service string, replicaID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if byID, ok := s.replicas[service]; ok {
		delete(byID, replicaID)
	}
	return nil
}
