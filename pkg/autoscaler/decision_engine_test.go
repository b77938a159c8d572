package autoscaler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rateThresholdCfg() RateThresholdConfig {
	return RateThresholdConfig{
		MinReplicas:       1,
		MaxReplicas:       10,
		UpperThreshold:    10,
		LowerThreshold:    2,
		ScaleUpCooldown:   time.Minute,
		ScaleDownCooldown: time.Minute,
	}
}

func TestRateThresholdEngine_BootstrapsToMinRegardlessOfRequestVolume(t *testing.T) {
	window := NewRequestWindow(10 * time.Second)
	cfg := rateThresholdCfg()
	cfg.MinReplicas = 2
	engine := NewRateThresholdEngine(cfg, "A100", window)

	now := time.Now()
	// Empty window, zero replicas: the bootstrap gate must still correct
	// up to min_replicas, independent of observed request volume.
	batch, err := engine.Evaluate(context.Background(), now, nil)
	require.NoError(t, err)
	require.Len(t, batch.Decisions, 1)
	assert.Equal(t, OperatorScaleUp, batch.Decisions[0].Operator)
	assert.Equal(t, 2, batch.Decisions[0].Num)
}

func TestRateThresholdEngine_BootstrapBypassesCooldown(t *testing.T) {
	window := NewRequestWindow(10 * time.Second)
	cfg := rateThresholdCfg()
	cfg.MinReplicas = 2
	engine := NewRateThresholdEngine(cfg, "A100", window)

	now := time.Now()
	replicas := []ReplicaInfo{{ReplicaID: 1, Accelerator: "A100", IsPrimary: true, Status: StatusReady, CreatedAt: now}}
	window.Ingest(now, "A100", 200) // well above upper threshold too

	batch1, err := engine.Evaluate(context.Background(), now, replicas)
	require.NoError(t, err)
	require.False(t, batch1.Empty())

	// Immediately below min again (e.g. a replica failed); must not wait
	// out the scale-up cooldown just set above.
	batch2, err := engine.Evaluate(context.Background(), now.Add(time.Second), nil)
	require.NoError(t, err)
	require.Len(t, batch2.Decisions, 1)
	assert.Equal(t, OperatorScaleUp, batch2.Decisions[0].Operator)
	assert.Equal(t, 2, batch2.Decisions[0].Num)
}

func TestRateThresholdEngine_FloorRoundingBackToCurrentIsNoOp(t *testing.T) {
	window := NewRequestWindow(10 * time.Second)
	cfg := rateThresholdCfg()
	cfg.MinReplicas = 1
	cfg.MaxReplicas = 10
	cfg.UpperThreshold = 10
	engine := NewRateThresholdEngine(cfg, "A100", window)

	now := time.Now()
	// rate=20.2/s, 2 replicas -> per_replica=10.1 (just above upper=10), but
	// floor(rate/upper) = floor(2.02) = 2 = current: must be NO_OP, not a
	// forced +1.
	window.Ingest(now, "A100", 202)
	replicas := []ReplicaInfo{
		{ReplicaID: 1, Accelerator: "A100", IsPrimary: true, Status: StatusReady, CreatedAt: now},
		{ReplicaID: 2, Accelerator: "A100", IsPrimary: true, Status: StatusReady, CreatedAt: now},
	}

	batch, err := engine.Evaluate(context.Background(), now, replicas)
	require.NoError(t, err)
	assert.True(t, batch.Empty(), "target rounds back to current, must be NO_OP")
}

func TestRateThresholdEngine_ScalesUpAboveUpperThreshold(t *testing.T) {
	window := NewRequestWindow(10 * time.Second)
	engine := NewRateThresholdEngine(rateThresholdCfg(), "A100", window)

	now := time.Now()
	window.Ingest(now, "A100", 200) // rate = 20/s, one replica -> way above upper threshold

	replicas := []ReplicaInfo{{ReplicaID: 1, Accelerator: "A100", IsPrimary: true, Status: StatusReady, CreatedAt: now}}

	batch, err := engine.Evaluate(context.Background(), now, replicas)
	require.NoError(t, err)
	require.Len(t, batch.Decisions, 1)
	assert.Equal(t, OperatorScaleUp, batch.Decisions[0].Operator)
}

func TestRateThresholdEngine_DeadbandNoOp(t *testing.T) {
	window := NewRequestWindow(10 * time.Second)
	cfg := rateThresholdCfg()
	engine := NewRateThresholdEngine(cfg, "A100", window)

	now := time.Now()
	window.Ingest(now, "A100", 50) // rate = 5/s, 1 replica -> 5 req/s/replica, between 2 and 10

	replicas := []ReplicaInfo{{ReplicaID: 1, Accelerator: "A100", IsPrimary: true, Status: StatusReady, CreatedAt: now}}

	batch, err := engine.Evaluate(context.Background(), now, replicas)
	require.NoError(t, err)
	assert.True(t, batch.Empty())
}

func TestRateThresholdEngine_ScaleDownRespectsMin(t *testing.T) {
	window := NewRequestWindow(10 * time.Second)
	cfg := rateThresholdCfg()
	cfg.MinReplicas = 2
	engine := NewRateThresholdEngine(cfg, "A100", window)

	now := time.Now()
	window.Ingest(now, "A100", 1) // rate ~ 0.1/s, well below lower threshold

	replicas := []ReplicaInfo{
		{ReplicaID: 1, Accelerator: "A100", IsPrimary: true, Status: StatusReady, CreatedAt: now},
		{ReplicaID: 2, Accelerator: "A100", IsPrimary: true, Status: StatusReady, CreatedAt: now},
	}

	batch, err := engine.Evaluate(context.Background(), now, replicas)
	require.NoError(t, err)
	assert.True(t, batch.Empty(), "already at minimum, must not scale down further")
}

func TestRateThresholdEngine_CooldownBlocksRepeatedScaleUp(t *testing.T) {
	window := NewRequestWindow(10 * time.Second)
	engine := NewRateThresholdEngine(rateThresholdCfg(), "A100", window)

	now := time.Now()
	window.Ingest(now, "A100", 200)
	replicas := []ReplicaInfo{{ReplicaID: 1, Accelerator: "A100", IsPrimary: true, Status: StatusReady, CreatedAt: now}}

	batch1, err := engine.Evaluate(context.Background(), now, replicas)
	require.NoError(t, err)
	require.False(t, batch1.Empty())

	batch2, err := engine.Evaluate(context.Background(), now.Add(time.Second), replicas)
	require.NoError(t, err)
	assert.True(t, batch2.Empty(), "cooldown should suppress a second scale-up")
}

func heteroCfg() HeterogeneousConfig {
	return HeterogeneousConfig{
		Catalogue:         testCatalogue(),
		MinReplicas:       0,
		MaxReplicas:       2,
		ScaleUpCooldown:   time.Minute,
		ScaleDownCooldown: time.Minute,
	}
}

func TestHeterogeneousEngine_NewPrimaryBundlesColdStartFallbacks(t *testing.T) {
	window := NewRequestWindow(10 * time.Second)
	engine := NewHeterogeneousEngine(heteroCfg(), ThroughputSolver{}, window)

	now := time.Now()
	// A100 throughput 20/s, rate 20/s -> target 1 new primary. A100's
	// catalogue entry configures 4 cold-start fallback replicas (k=4).
	window.Ingest(now, "A100", 200)

	batch, err := engine.Evaluate(context.Background(), now, nil)
	require.NoError(t, err)
	require.Len(t, batch.Bundles, 1)
	bundle := batch.Bundles[0]
	require.Len(t, bundle.Decisions, 2)
	assert.Equal(t, AcceleratorClass("A10"), bundle.Decisions[0].Accelerator)
	assert.False(t, bundle.Decisions[0].IsPrimary)
	assert.Equal(t, 4, bundle.Decisions[0].Num)
	assert.Equal(t, AcceleratorClass("A100"), bundle.Decisions[1].Accelerator)
	assert.True(t, bundle.Decisions[1].IsPrimary)
	assert.Equal(t, 1, bundle.Decisions[1].Num)
}

func TestHeterogeneousEngine_ScaleDownCascadesToFallbacks(t *testing.T) {
	window := NewRequestWindow(10 * time.Second)
	cfg := heteroCfg()
	cfg.MaxReplicas = 5
	engine := NewHeterogeneousEngine(cfg, ThroughputSolver{}, window)

	now := time.Now()
	// No traffic: solver target for A100 is 0, so the lone primary (which
	// owns one fallback replica) must be scaled down.
	replicas := []ReplicaInfo{
		{ReplicaID: 1, Accelerator: "A100", IsPrimary: true, Status: StatusReady, CreatedAt: now, FallbackReplicaIDs: []int64{2}},
		{ReplicaID: 2, Accelerator: "A10", IsPrimary: false, OwnerReplicaID: 1, Status: StatusReady, CreatedAt: now},
	}

	batch, err := engine.Evaluate(context.Background(), now, replicas)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(batch.Decisions), 2)
	assert.Equal(t, OperatorScaleDown, batch.Decisions[0].Operator)
	assert.Equal(t, int64(1), batch.Decisions[0].ReplicaID)
	assert.Equal(t, OperatorScaleDown, batch.Decisions[1].Operator)
	assert.Equal(t, int64(2), batch.Decisions[1].ReplicaID)
	assert.Equal(t, AcceleratorClass("A10"), batch.Decisions[1].Accelerator)
}

func TestHeterogeneousEngine_CoversUnhealthyPrimary(t *testing.T) {
	window := NewRequestWindow(10 * time.Second)
	engine := NewHeterogeneousEngine(heteroCfg(), ThroughputSolver{}, window)

	now := time.Now()
	replicas := []ReplicaInfo{
		{ReplicaID: 1, Accelerator: "A100", IsPrimary: true, Status: StatusFailed, CreatedAt: now},
	}

	batch, err := engine.Evaluate(context.Background(), now, replicas)
	require.NoError(t, err)

	var found bool
	for _, d := range batch.Decisions {
		if d.Accelerator == "A10" && !d.IsPrimary && d.OwnerReplicaID == 1 {
			found = true
		}
	}
	assert.True(t, found, "expected a fallback SCALE_UP covering replica 1")
}

func TestHeterogeneousEngine_ReapsFallbackWhenPrimaryRecovers(t *testing.T) {
	window := NewRequestWindow(10 * time.Second)
	engine := NewHeterogeneousEngine(heteroCfg(), ThroughputSolver{}, window)

	now := time.Now()
	replicas := []ReplicaInfo{
		{ReplicaID: 1, Accelerator: "A100", IsPrimary: true, Status: StatusReady, CreatedAt: now},
		{ReplicaID: 2, Accelerator: "A10", IsPrimary: false, OwnerReplicaID: 1, Status: StatusReady, CreatedAt: now},
	}

	batch := engine.ReapFallbacks(context.Background(), now, replicas)
	require.Len(t, batch.Decisions, 1)
	assert.Equal(t, OperatorScaleDown, batch.Decisions[0].Operator)
	assert.Equal(t, int64(2), batch.Decisions[0].ReplicaID)
}
