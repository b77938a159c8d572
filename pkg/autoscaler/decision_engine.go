package autoscaler

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"fleetscale/pkg/logger"
)

// DecisionEngine is the capability every autoscaling policy implements:
// inspect the current replica snapshot and request window, and decide what
// (if anything) the Replica Manager should do next. Replacing the teacher's
// inheritance-based scaler hierarchy with this single interface lets the
// control loop run either policy without caring which one it holds (§9).
type DecisionEngine interface {
	Evaluate(ctx context.Context, now time.Time, replicas []ReplicaInfo) (DecisionBatch, error)
	OnShutdown(ctx context.Context) error
}

// RateThresholdEngine implements the homogeneous policy (§4.3): a single
// accelerator class, scaled on overall request rate against an upper and
// lower per-replica threshold, with a bootstrap gate that bypasses cooldown,
// a deadband between the thresholds, and a floor-rounded proportional step
// in both scale directions (resolves the "floor rounding" open question).
type RateThresholdEngine struct {
	cfg    RateThresholdConfig
	class  AcceleratorClass
	window *RequestWindow

	mu            sync.Mutex
	lastScaleUp   time.Time
	lastScaleDown time.Time
}

func NewRateThresholdEngine(cfg RateThresholdConfig, class AcceleratorClass, window *RequestWindow) *RateThresholdEngine {
	return &RateThresholdEngine{
		cfg:    cfg,
		class:  class,
		window: window,
	}
}

// QueryInterval reports the advisory interval published to the Request
// Aggregator over the telemetry API: the request window's size. Only the
// rate-threshold policy publishes this value (§6, SUPPLEMENTED FEATURES);
// the heterogeneous policy has no equivalent single cadence and does not
// implement it.
func (e *RateThresholdEngine) QueryInterval() (time.Duration, bool) {
	return e.window.windowSize, true
}

func (e *RateThresholdEngine) Evaluate(ctx context.Context, now time.Time, replicas []ReplicaInfo) (DecisionBatch, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	current := countActive(replicas, e.class, true)
	rate := e.window.Rate(now, e.class)

	// Bootstrap gate (§4.3 step 2): below the floor is always corrected and
	// never subject to cooldown, so a fleet that drops under min_replicas
	// recovers on the very next tick instead of stalling out a cooldown
	// window (original: autoscalers.py scale-to-min, unconditional of
	// request volume and of cooldown).
	bootstrapping := current < e.cfg.MinReplicas

	var target int
	switch {
	case bootstrapping:
		target = e.cfg.MinReplicas

	default:
		denom := current
		if denom == 0 {
			denom = 1
		}
		perReplica := rate / float64(denom)

		switch {
		case perReplica > e.cfg.UpperThreshold:
			if now.Sub(e.lastScaleUp) < e.cfg.ScaleUpCooldown {
				return DecisionBatch{}, nil
			}
			target = int(math.Floor(rate / e.cfg.UpperThreshold))
			logger.DebugCtx(ctx, "rate-threshold %s: per-replica %.2f above upper %.2f, target=%d", e.class, perReplica, e.cfg.UpperThreshold, target)

		case perReplica < e.cfg.LowerThreshold:
			if now.Sub(e.lastScaleDown) < e.cfg.ScaleDownCooldown {
				return DecisionBatch{}, nil
			}
			target = int(math.Floor(rate / e.cfg.LowerThreshold))
			logger.DebugCtx(ctx, "rate-threshold %s: per-replica %.2f below lower %.2f, target=%d", e.class, perReplica, e.cfg.LowerThreshold, target)

		default:
			target = current
		}
	}

	if target > e.cfg.MaxReplicas {
		target = e.cfg.MaxReplicas
	}
	if target < e.cfg.MinReplicas {
		target = e.cfg.MinReplicas
	}

	switch {
	case target == current:
		return DecisionBatch{}, nil

	case target > current:
		e.lastScaleUp = now
		reason := "below minimum replicas"
		if !bootstrapping {
			reason = fmt.Sprintf("per-replica rate above upper threshold %.2f", e.cfg.UpperThreshold)
		}
		return e.scaleUpDecision(target-current, reason), nil

	default:
		e.lastScaleDown = now
		victims := SelectForScaleDown(filterByClass(replicas, e.class, true), current-target)
		return e.scaleDownDecisions(victims, fmt.Sprintf("per-replica rate below lower threshold %.2f", e.cfg.LowerThreshold)), nil
	}
}

func (e *RateThresholdEngine) scaleUpDecision(num int, reason string) DecisionBatch {
	if num <= 0 {
		return DecisionBatch{}
	}
	return DecisionBatch{Decisions: []AutoscalerDecision{{
		Operator:    OperatorScaleUp,
		Accelerator: e.class,
		IsPrimary:   true,
		Num:         num,
		Reason:      reason,
	}}}
}

func (e *RateThresholdEngine) scaleDownDecisions(victims []ReplicaInfo, reason string) DecisionBatch {
	decisions := make([]AutoscalerDecision, 0, len(victims))
	for _, v := range victims {
		decisions = append(decisions, AutoscalerDecision{
			Operator:    OperatorScaleDown,
			Accelerator: e.class,
			IsPrimary:   true,
			ReplicaID:   v.ReplicaID,
			Reason:      reason,
		})
	}
	return DecisionBatch{Decisions: decisions}
}

func (e *RateThresholdEngine) OnShutdown(ctx context.Context) error {
	logger.InfoCtx(ctx, "rate-threshold engine for %s shutting down", e.class)
	return nil
}

// HeterogeneousEngine implements the heterogeneous accelerator policy (§4.4):
// each class in the catalogue is sized independently by the allocation
// solver from its own request rate; every new primary of a class with a
// fallback partner is launched as an atomic bundle alongside that class's
// configured number of cold-start fallback replicas, a primary scale-down
// cascades into a SCALE_DOWN of every fallback it owns, and individual
// unhealthy primaries are covered by a dedicated fallback replica until they
// recover.
type HeterogeneousEngine struct {
	cfg    HeterogeneousConfig
	solver AllocationSolver
	window *RequestWindow

	mu            sync.Mutex
	lastScaleUp   map[AcceleratorClass]time.Time
	lastScaleDown map[AcceleratorClass]time.Time
}

func NewHeterogeneousEngine(cfg HeterogeneousConfig, solver AllocationSolver, window *RequestWindow) *HeterogeneousEngine {
	return &HeterogeneousEngine{
		cfg:           cfg,
		solver:        solver,
		window:        window,
		lastScaleUp:   make(map[AcceleratorClass]time.Time),
		lastScaleDown: make(map[AcceleratorClass]time.Time),
	}
}

func (e *HeterogeneousEngine) Evaluate(ctx context.Context, now time.Time, replicas []ReplicaInfo) (DecisionBatch, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	rates := e.window.Rates(now)
	targets := e.solver.Solve(rates, e.cfg.Catalogue)

	var batch DecisionBatch
	var queuedPrimaries []ReplicaInfo

	for class, entry := range e.cfg.Catalogue {
		current := countActive(replicas, class, true)
		target := targets[class]
		if target < e.cfg.MinReplicas {
			target = e.cfg.MinReplicas
		}
		if target > e.cfg.MaxReplicas {
			target = e.cfg.MaxReplicas
		}

		switch {
		case target > current:
			if now.Sub(e.lastScaleUp[class]) < e.cfg.ScaleUpCooldown {
				continue
			}
			e.lastScaleUp[class] = now
			newPrimaries := target - current

			if entry.FallbackClass != "" && entry.FallbackCount > 0 {
				// Cold-start cushioning (§4.4 step 4): every new primary is
				// launched alongside k fallback replicas in the same bundle,
				// so the cheaper class is already serving traffic for the
				// minutes the primary spends in PROVISIONING.
				for i := 0; i < newPrimaries; i++ {
					fallbackUp := AutoscalerDecision{
						Operator:    OperatorScaleUp,
						Accelerator: entry.FallbackClass,
						IsPrimary:   false,
						Num:         entry.FallbackCount,
						Reason:      fmt.Sprintf("cold-start cushion for new %s primary", class),
					}
					primaryUp := AutoscalerDecision{
						Operator:    OperatorScaleUp,
						Accelerator: class,
						IsPrimary:   true,
						Num:         1,
						Reason:      fmt.Sprintf("solver target %d exceeds current %d", target, current),
					}
					batch.Bundles = append(batch.Bundles, DecisionBundle{Decisions: []AutoscalerDecision{fallbackUp, primaryUp}})
				}
			} else {
				batch.Decisions = append(batch.Decisions, AutoscalerDecision{
					Operator:    OperatorScaleUp,
					Accelerator: class,
					IsPrimary:   true,
					Num:         newPrimaries,
					Reason:      fmt.Sprintf("solver target %d exceeds current %d", target, current),
				})
			}

		case target < current:
			if now.Sub(e.lastScaleDown[class]) < e.cfg.ScaleDownCooldown {
				continue
			}
			e.lastScaleDown[class] = now
			victims := SelectForScaleDown(filterByClass(replicas, class, true), current-target)
			queuedPrimaries = append(queuedPrimaries, victims...)
		}
	}

	// §4.4 step 5 / P2: each queued primary's SCALE_DOWN is immediately
	// followed, in the same batch with nothing interleaved, by a SCALE_DOWN
	// of every fallback it owns — this guarantees fallbacks never outlive
	// the primary they cover for.
	byID := indexReplicasByID(replicas)
	for _, primary := range queuedPrimaries {
		batch.Decisions = append(batch.Decisions, AutoscalerDecision{
			Operator:    OperatorScaleDown,
			Accelerator: primary.Accelerator,
			IsPrimary:   true,
			ReplicaID:   primary.ReplicaID,
			Reason:      fmt.Sprintf("solver target below current for %s", primary.Accelerator),
		})
		for _, fallbackID := range primary.FallbackReplicaIDs {
			fallback := byID[fallbackID]
			batch.Decisions = append(batch.Decisions, AutoscalerDecision{
				Operator:    OperatorScaleDown,
				Accelerator: fallback.Accelerator,
				IsPrimary:   false,
				ReplicaID:   fallbackID,
				Reason:      fmt.Sprintf("primary %d scaled down, cascading to its fallback", primary.ReplicaID),
			})
		}
	}

	batch.Decisions = append(batch.Decisions, e.coverUnhealthyPrimaries(replicas)...)
	batch.Decisions = append(batch.Decisions, e.reapFallbacks(replicas)...)

	return batch, nil
}

// coverUnhealthyPrimaries launches one fallback replica for every FAILED or
// NOT_READY primary that doesn't already have an active fallback covering
// it, keyed by owner_replica_id.
func (e *HeterogeneousEngine) coverUnhealthyPrimaries(replicas []ReplicaInfo) []AutoscalerDecision {
	covered := make(map[int64]bool)
	for _, r := range replicas {
		if !r.IsPrimary && r.OwnerReplicaID != 0 && r.Status != StatusFailed && r.Status != StatusTerminating {
			covered[r.OwnerReplicaID] = true
		}
	}

	var decisions []AutoscalerDecision
	for _, r := range replicas {
		if !r.IsPrimary || covered[r.ReplicaID] {
			continue
		}
		if r.Status != StatusFailed && r.Status != StatusNotReady {
			continue
		}
		fallback, ok := e.cfg.Catalogue.FallbackOf(r.Accelerator)
		if !ok {
			continue
		}
		decisions = append(decisions, AutoscalerDecision{
			Operator:       OperatorScaleUp,
			Accelerator:    fallback,
			IsPrimary:      false,
			Num:            1,
			OwnerReplicaID: r.ReplicaID,
			Reason:         fmt.Sprintf("covering unhealthy primary replica %d (%s)", r.ReplicaID, r.Status),
		})
	}
	return decisions
}

// ReapFallbacks implements fallback_scale_down_sync (§4.4 step 6, I6): for
// every fallback replica whose owning primary is READY (or gone), emit a
// SCALE_DOWN — fallbacks exist only while their primary has not yet reached
// READY. It is exported so it can run standing on its own schedule in
// addition to every Evaluate tick (SUPPLEMENTED FEATURES: fallback reaping
// as an independent operation, not only as a side effect of a scaling tick).
func (e *HeterogeneousEngine) ReapFallbacks(ctx context.Context, now time.Time, replicas []ReplicaInfo) DecisionBatch {
	e.mu.Lock()
	defer e.mu.Unlock()
	decisions := e.reapFallbacks(replicas)
	return DecisionBatch{Decisions: decisions}
}

func (e *HeterogeneousEngine) reapFallbacks(replicas []ReplicaInfo) []AutoscalerDecision {
	byID := indexReplicasByID(replicas)

	var decisions []AutoscalerDecision
	for _, r := range replicas {
		if r.IsPrimary || r.Status == StatusTerminating || r.OwnerReplicaID == 0 {
			continue
		}
		primary, ok := byID[r.OwnerReplicaID]
		if !ok || primary.Status == StatusReady {
			decisions = append(decisions, AutoscalerDecision{
				Operator:    OperatorScaleDown,
				Accelerator: r.Accelerator,
				IsPrimary:   false,
				ReplicaID:   r.ReplicaID,
				Reason:      fmt.Sprintf("covered primary %d healthy again", r.OwnerReplicaID),
			})
		}
	}
	return decisions
}

func (e *HeterogeneousEngine) OnShutdown(ctx context.Context) error {
	logger.InfoCtx(ctx, "heterogeneous engine shutting down")
	return nil
}

// countActive counts replicas of class/primary-ness that count toward
// capacity, i.e. not FAILED and not TERMINATING.
func countActive(replicas []ReplicaInfo, class AcceleratorClass, isPrimary bool) int {
	n := 0
	for _, r := range replicas {
		if r.Accelerator == class && r.IsPrimary == isPrimary && r.Status != StatusFailed && r.Status != StatusTerminating {
			n++
		}
	}
	return n
}

// indexReplicasByID builds a lookup used to resolve a fallback replica's
// accelerator class from its id when cascading a primary's scale-down.
func indexReplicasByID(replicas []ReplicaInfo) map[int64]ReplicaInfo {
	byID := make(map[int64]ReplicaInfo, len(replicas))
	for _, r := range replicas {
		byID[r.ReplicaID] = r
	}
	return byID
}

func filterByClass(replicas []ReplicaInfo, class AcceleratorClass, isPrimary bool) []ReplicaInfo {
	out := make([]ReplicaInfo, 0, len(replicas))
	for _, r := range replicas {
		if r.Accelerator == class && r.IsPrimary == isPrimary {
			out = append(out, r)
		}
	}
	return out
}
