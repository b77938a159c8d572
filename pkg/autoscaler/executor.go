package autoscaler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"fleetscale/pkg/interfaces"
	"fleetscale/pkg/logger"

	"github.com/tidwall/pretty"
)

// Executor applies a DecisionBatch against a Replica Manager and keeps the
// state store's replica records in sync with what was actually launched or
// torn down. It is deliberately thin: provisioning itself is async (the
// Replica Manager enqueues the real work), the executor's job is just to
// turn decisions into manager calls and persist the resulting snapshot.
type Executor struct {
	manager interfaces.ReplicaManager
	store   interfaces.ReplicaStateStore
	service string
}

func NewExecutor(manager interfaces.ReplicaManager, store interfaces.ReplicaStateStore, service string) *Executor {
	return &Executor{manager: manager, store: store, service: service}
}

// Execute applies every standalone decision and bundle in the batch. A
// bundle failing partway is rolled back by scaling down whatever it managed
// to launch before the failure (§9 bundle atomicity); standalone decisions
// are independent and a failure on one does not block the rest.
func (ex *Executor) Execute(ctx context.Context, now time.Time, batch DecisionBatch) error {
	if batch.Empty() {
		return nil
	}

	if raw, err := json.Marshal(batch); err == nil {
		logger.DebugCtx(ctx, "executing decision batch: %s", pretty.Pretty(raw))
	}

	var firstErr error
	for _, d := range batch.Decisions {
		if err := ex.applyDecision(ctx, now, d); err != nil {
			logger.ErrorCtx(ctx, "decision %s/%s failed: %v", d.Operator, d.Accelerator, err)
			if firstErr == nil {
				firstErr = &TransientExternalError{Op: "apply decision", Err: err}
			}
		}
	}

	for _, b := range batch.Bundles {
		if err := ex.applyBundle(ctx, now, b); err != nil {
			logger.ErrorCtx(ctx, "decision bundle failed: %v", err)
			if firstErr == nil {
				firstErr = &TransientExternalError{Op: "apply bundle", Err: err}
			}
		}
	}

	return firstErr
}

func (ex *Executor) applyDecision(ctx context.Context, now time.Time, d AutoscalerDecision) error {
	switch d.Operator {
	case OperatorNoOp:
		return nil
	case OperatorScaleUp:
		return ex.scaleUp(ctx, now, d)
	case OperatorScaleDown:
		return ex.scaleDown(ctx, d)
	default:
		return &InvariantViolationError{Invariant: "decision-operator", Detail: fmt.Sprintf("unknown operator %q", d.Operator)}
	}
}

func (ex *Executor) scaleUp(ctx context.Context, now time.Time, d AutoscalerDecision) error {
	n := d.Num
	if n <= 0 {
		n = 1
	}
	for i := 0; i < n; i++ {
		spec := interfaces.LaunchSpec{
			Accelerator:    d.Accelerator,
			IsPrimary:      d.IsPrimary,
			OwnerReplicaID: d.OwnerReplicaID,
		}
		replicaID, err := ex.manager.Launch(ctx, spec)
		if err != nil {
			return fmt.Errorf("launch %s (primary=%v): %w", d.Accelerator, d.IsPrimary, err)
		}
		info := ReplicaInfo{
			ReplicaID:      replicaID,
			Accelerator:    d.Accelerator,
			Status:         StatusProvisioning,
			CreatedAt:      now,
			IsPrimary:      d.IsPrimary,
			OwnerReplicaID: d.OwnerReplicaID,
		}
		if err := ex.store.UpsertReplica(ctx, ex.service, info); err != nil {
			return fmt.Errorf("persist replica %d: %w", replicaID, err)
		}
		logger.InfoCtx(ctx, "launched replica %d on %s (primary=%v, reason=%s)", replicaID, d.Accelerator, d.IsPrimary, d.Reason)
	}
	return nil
}

func (ex *Executor) scaleDown(ctx context.Context, d AutoscalerDecision) error {
	if d.ReplicaID == 0 {
		return &InvariantViolationError{Invariant: "I-scale-down-target", Detail: "SCALE_DOWN decision carries no replica_id"}
	}
	if err := ex.manager.ScaleDown(ctx, d.ReplicaID); err != nil {
		return fmt.Errorf("scale down replica %d: %w", d.ReplicaID, err)
	}
	if err := ex.store.RemoveReplica(ctx, ex.service, d.ReplicaID); err != nil {
		return fmt.Errorf("remove replica %d from state store: %w", d.ReplicaID, err)
	}
	logger.InfoCtx(ctx, "scaled down replica %d (%s)", d.ReplicaID, d.Reason)
	return nil
}

// applyBundle launches every decision in the bundle via LaunchBundle so the
// Replica Manager can provision them as one atomic unit; on a partial
// failure it issues compensating ScaleDown calls for whatever the manager
// reports it did manage to launch, per §9.
func (ex *Executor) applyBundle(ctx context.Context, now time.Time, bundle DecisionBundle) error {
	specs := make([]interfaces.LaunchSpec, 0, len(bundle.Decisions))
	// decisionRanges[i] is the [start,end) slice of specs/replicaIDs that
	// decision i expanded into, so the post-launch linking below can find
	// which ids belong to which decision.
	decisionRanges := make([][2]int, len(bundle.Decisions))
	for i, d := range bundle.Decisions {
		if d.Operator != OperatorScaleUp {
			return &InvariantViolationError{Invariant: "I-bundle-scaleup-only", Detail: "bundle contains a non-SCALE_UP decision"}
		}
		n := d.Num
		if n <= 0 {
			n = 1
		}
		start := len(specs)
		for j := 0; j < n; j++ {
			specs = append(specs, interfaces.LaunchSpec{
				Accelerator:    d.Accelerator,
				IsPrimary:      d.IsPrimary,
				OwnerReplicaID: d.OwnerReplicaID,
			})
		}
		decisionRanges[i] = [2]int{start, len(specs)}
	}

	replicaIDs, err := ex.manager.LaunchBundle(ctx, specs)
	if err != nil {
		// The manager may have launched part of the bundle before failing;
		// tear down every id it reports as launched.
		for _, id := range replicaIDs {
			if scaleDownErr := ex.manager.ScaleDown(ctx, id); scaleDownErr != nil {
				logger.ErrorCtx(ctx, "compensating scale-down of replica %d failed: %v", id, scaleDownErr)
			}
		}
		return fmt.Errorf("launch bundle: %w", err)
	}

	if len(replicaIDs) != len(specs) {
		// The manager launched a partial set despite returning success;
		// compensate by tearing down everything it did create.
		for _, id := range replicaIDs {
			if scaleDownErr := ex.manager.ScaleDown(ctx, id); scaleDownErr != nil {
				logger.ErrorCtx(ctx, "compensating scale-down of replica %d failed: %v", id, scaleDownErr)
			}
		}
		return &InvariantViolationError{Invariant: "I-bundle-atomicity", Detail: "replica manager returned a partial bundle launch"}
	}

	// Cold-start bundles (§4.4 step 4) pair one primary decision with its
	// cushioning fallback decisions, but the primary's replica id isn't
	// known until the launch above returns, so the ownership link between
	// the new primary and its fallbacks is stitched together here rather
	// than at decision-construction time.
	var primaryID int64
	var fallbackIDs []int64
	for i, d := range bundle.Decisions {
		r := decisionRanges[i]
		if d.IsPrimary {
			if r[1] > r[0] {
				primaryID = replicaIDs[r[0]]
			}
		} else if d.OwnerReplicaID == 0 {
			fallbackIDs = append(fallbackIDs, replicaIDs[r[0]:r[1]]...)
		}
	}

	for i, id := range replicaIDs {
		spec := specs[i]
		info := ReplicaInfo{
			ReplicaID:      id,
			Accelerator:    spec.Accelerator,
			Status:         StatusProvisioning,
			CreatedAt:      now,
			IsPrimary:      spec.IsPrimary,
			OwnerReplicaID: spec.OwnerReplicaID,
		}
		if !spec.IsPrimary && info.OwnerReplicaID == 0 && primaryID != 0 {
			info.OwnerReplicaID = primaryID
		}
		if spec.IsPrimary && id == primaryID && len(fallbackIDs) > 0 {
			info.FallbackReplicaIDs = fallbackIDs
		}
		if err := ex.store.UpsertReplica(ctx, ex.service, info); err != nil {
			logger.ErrorCtx(ctx, "persist bundled replica %d failed: %v", id, err)
		}
	}
	logger.InfoCtx(ctx, "launched bundle of %d replicas", len(replicaIDs))
	return nil
}
