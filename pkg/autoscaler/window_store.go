package autoscaler

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"

	"fleetscale/pkg/logger"
)

// WindowStore persists a RequestWindow's entries to Redis so a restarted
// control loop can recover recent request history instead of starting cold.
// This mirrors the teacher's Redis JSON config persistence pattern
// (loadPersistedConfig/persistConfig), applied to window state instead of
// autoscaler config. Persistence is best effort: a missing or corrupt
// snapshot just means the window starts empty, it is never treated as fatal.
type WindowStore struct {
	client *redis.Client
	key    string
}

func NewWindowStore(client *redis.Client, service string) *WindowStore {
	return &WindowStore{client: client, key: fmt.Sprintf("fleetscale:window:%s", service)}
}

// Save serializes the window's current entries and writes them with a TTL
// equal to the window size so a stale snapshot can never outlive the window
// it was captured from.
func (s *WindowStore) Save(ctx context.Context, window *RequestWindow) error {
	if s.client == nil {
		return nil
	}

	snapshot := window.Snapshot()
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal window snapshot: %w", err)
	}

	if err := s.client.Set(ctx, s.key, data, window.windowSize).Err(); err != nil {
		return fmt.Errorf("persist window snapshot: %w", err)
	}
	return nil
}

// Load restores a previously persisted snapshot into window. It is a no-op
// (not an error) when no snapshot exists yet.
func (s *WindowStore) Load(ctx context.Context, window *RequestWindow) error {
	if s.client == nil {
		return nil
	}

	data, err := s.client.Get(ctx, s.key).Bytes()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		logger.WarnCtx(ctx, "failed to load persisted window, starting cold: %v", err)
		return nil
	}

	var snapshot map[AcceleratorClass][]windowEntry
	if err := json.Unmarshal(data, &snapshot); err != nil {
		logger.WarnCtx(ctx, "failed to unmarshal persisted window, starting cold: %v", err)
		return nil
	}

	window.Restore(snapshot)
	logger.InfoCtx(ctx, "restored request window from persisted snapshot (%d classes)", len(snapshot))
	return nil
}
