package autoscaler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRequestWindow_RateWithinWindow(t *testing.T) {
	w := NewRequestWindow(10 * time.Second)
	base := time.Now()

	w.Ingest(base, "A100", 50)

	rate := w.Rate(base, "A100")
	assert.Equal(t, 5.0, rate)
}

func TestRequestWindow_PrunesOldEntries(t *testing.T) {
	w := NewRequestWindow(10 * time.Second)
	base := time.Now()

	w.Ingest(base, "A100", 100)
	w.Ingest(base.Add(5*time.Second), "A100", 20)

	// 11s later the first entry is outside the window, only the second remains.
	rate := w.Rate(base.Add(11*time.Second), "A100")
	assert.Equal(t, 2.0, rate)
}

func TestRequestWindow_MultipleClassesIndependent(t *testing.T) {
	w := NewRequestWindow(10 * time.Second)
	base := time.Now()

	w.Ingest(base, "A10", 10)
	w.Ingest(base, "H100", 100)

	rates := w.Rates(base)
	assert.Equal(t, 1.0, rates["A10"])
	assert.Equal(t, 10.0, rates["H100"])
}

func TestRequestWindow_ZeroCountIsNoop(t *testing.T) {
	w := NewRequestWindow(10 * time.Second)
	base := time.Now()

	w.Ingest(base, "A100", 0)
	assert.Equal(t, int64(0), w.Total(base))
}

func TestRequestWindow_SnapshotRestoreRoundtrip(t *testing.T) {
	w := NewRequestWindow(10 * time.Second)
	base := time.Now()
	w.Ingest(base, "A100", 30)

	snapshot := w.Snapshot()

	restored := NewRequestWindow(10 * time.Second)
	restored.Restore(snapshot)

	assert.Equal(t, w.Rate(base, "A100"), restored.Rate(base, "A100"))
}
