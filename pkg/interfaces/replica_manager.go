package interfaces

import (
	"context"

	"fleetscale/pkg/autoscaler"
)

// LaunchSpec describes one replica to provision as part of a bundle launch.
type LaunchSpec struct {
	Accelerator    autoscaler.AcceleratorClass
	IsPrimary      bool
	OwnerReplicaID int64
}

// ReplicaManager is the out-of-scope collaborator that actually provisions
// and tears down replicas (§6). The autoscaler only ever calls this
// contract; the concrete backend (Kubernetes, a mock for local dev, or any
// other infra driver) is swapped in at startup.
//
// A retried Launch provisions another replica (a brief over-provision is
// tolerated); a retried ScaleDown against an already-removed replica must
// succeed as a no-op (§5).
type ReplicaManager interface {
	// Launch assigns and returns a new replica id. It does not write the
	// state store: the caller records the replica as PROVISIONING. The
	// caller does not block on readiness.
	Launch(ctx context.Context, spec LaunchSpec) (replicaID int64, err error)

	// LaunchBundle launches every spec in order. On failure it returns the
	// ids it did launch together with the error, and the caller scales
	// those down to keep the bundle all-or-nothing (§9 bundle atomicity).
	LaunchBundle(ctx context.Context, specs []LaunchSpec) (replicaIDs []int64, err error)

	// ScaleDown terminates the given replica. Idempotent if the replica is
	// already gone.
	ScaleDown(ctx context.Context, replicaID int64) error
}

// ReplicaStateStore is the durable (or in-memory) record of replica
// snapshots the control loop reads at the start of every tick and writes
// after executing decisions.
type ReplicaStateStore interface {
	ListReplicas(ctx context.Context, service string) ([]autoscaler.ReplicaInfo, error)
	UpsertReplica(ctx context.Context, service string, info autoscaler.ReplicaInfo) error
	RemoveReplica(ctx context.Context, service string, replicaID int64) error
}
