package autoscaler

import "time"

// AcceleratorClass names a GPU SKU a replica can be provisioned on, e.g. "A10",
// "A100", "H100". The zero value is not a valid class.
type AcceleratorClass string

// CatalogueEntry describes one accelerator class: its nominal throughput (used
// by the allocation solver to translate request rate into replica counts),
// the class that fallback replicas run on when this class is saturated, and
// how many of those fallbacks cushion every new primary's cold start (§4.4
// step 4).
//
// FallbackClass is empty when the class has no fallback partner, in which
// case FallbackCount is ignored.
type CatalogueEntry struct {
	Class         AcceleratorClass `json:"class" yaml:"class"`
	ThroughputRPS float64          `json:"throughputRps" yaml:"throughputRps"`
	FallbackClass AcceleratorClass `json:"fallbackClass,omitempty" yaml:"fallbackClass,omitempty"`
	FallbackCount int              `json:"fallbackCount,omitempty" yaml:"fallbackCount,omitempty"`
}

// Catalogue is the full set of known accelerator classes, keyed by class name.
type Catalogue map[AcceleratorClass]CatalogueEntry

// FallbackOf returns the class that serves as fallback capacity for class c,
// and whether one is configured.
func (c Catalogue) FallbackOf(class AcceleratorClass) (AcceleratorClass, bool) {
	entry, ok := c[class]
	if !ok || entry.FallbackClass == "" {
		return "", false
	}
	return entry.FallbackClass, true
}

// ReplicaStatus is the lifecycle state of a single replica. Transitions are
// owned by the Replica Manager / readiness prober; the control loop only
// reads status, it never writes it directly (I1).
type ReplicaStatus string

const (
	StatusProvisioning ReplicaStatus = "PROVISIONING"
	StatusReady        ReplicaStatus = "READY"
	StatusNotReady      ReplicaStatus = "NOT_READY"
	StatusFailed       ReplicaStatus = "FAILED"
	StatusTerminating ReplicaStatus = "TERMINATING"
)

// scaleDownRank orders statuses for §4.5 selection: replicas least useful to
// keep alive are reclaimed first. Lower rank sorts first.
var scaleDownRank = map[ReplicaStatus]int{
	StatusFailed:       0,
	StatusNotReady:     1,
	StatusProvisioning: 2,
	StatusReady:        3,
	StatusTerminating:  4,
}

// ReplicaInfo is an immutable snapshot of one replica as observed by the
// control loop at the start of a tick. Callers must never mutate a snapshot
// in place (I2); construct a new value instead.
type ReplicaInfo struct {
	ReplicaID   int64            `json:"replica_id"`
	Accelerator AcceleratorClass `json:"accelerator"`
	Status      ReplicaStatus    `json:"status"`
	CreatedAt   time.Time        `json:"created_at"`

	// IsPrimary is always present: true for replicas serving a class's own
	// request traffic, false for fallback replicas standing in for a
	// saturated primary class (I3). It is never inferred from other fields.
	IsPrimary bool `json:"is_primary"`

	// OwnerReplicaID links a fallback replica back to the primary replica
	// slot it was launched to cover. Zero when IsPrimary is true (I4).
	OwnerReplicaID int64 `json:"owner_replica_id,omitempty"`

	// FallbackReplicaIDs lists the cold-start fallback replicas launched in
	// the same bundle as this primary. Fallbacks launched later to cover an
	// unhealthy primary are linked only through their own OwnerReplicaID
	// and do not appear here. Always empty when IsPrimary is false. A
	// primary SCALE_DOWN must be followed, in the same batch, by a
	// SCALE_DOWN of every id in this list (§4.4 step 5, P2).
	FallbackReplicaIDs []int64 `json:"fallback_replica_ids,omitempty"`
}

// AutoscalerDecisionOperator is the kind of action a decision asks the
// Replica Manager to take.
type AutoscalerDecisionOperator string

const (
	OperatorScaleUp   AutoscalerDecisionOperator = "SCALE_UP"
	OperatorScaleDown AutoscalerDecisionOperator = "SCALE_DOWN"
	OperatorNoOp      AutoscalerDecisionOperator = "NO_OP"
)

// AutoscalerDecision is a single unit of action produced by a Decision
// Engine. ReplicaID is set for SCALE_DOWN (identifies the victim) and left
// zero for SCALE_UP (the Replica Manager assigns the id). Num is the replica
// count to launch for SCALE_UP of a given class; it is left zero for
// SCALE_DOWN, which always targets the single replica named by ReplicaID.
type AutoscalerDecision struct {
	Operator    AutoscalerDecisionOperator `json:"operator"`
	Accelerator AcceleratorClass           `json:"accelerator"`
	IsPrimary   bool                       `json:"is_primary"`
	Num         int                        `json:"num,omitempty"`
	ReplicaID   int64                      `json:"replica_id,omitempty"`

	// OwnerReplicaID is set on a SCALE_UP of a fallback replica launched to
	// cover one specific unhealthy primary; zero for every other decision.
	OwnerReplicaID int64  `json:"owner_replica_id,omitempty"`
	Reason         string `json:"reason"`
}

// DecisionBundle groups decisions that must be applied atomically: a
// heterogeneous scale-up of a fallback class together with the primary
// replica it covers for, or nothing at all (§9 bundle atomicity).
type DecisionBundle struct {
	Decisions []AutoscalerDecision `json:"decisions"`
}

// DecisionBatch is everything a control loop tick hands to the executor:
// standalone decisions plus any bundles that must succeed or fail together.
type DecisionBatch struct {
	Decisions []AutoscalerDecision `json:"decisions"`
	Bundles   []DecisionBundle     `json:"bundles"`
}

// Empty reports whether the batch has nothing to execute.
func (b DecisionBatch) Empty() bool {
	return len(b.Decisions) == 0 && len(b.Bundles) == 0
}

// RateThresholdConfig configures the homogeneous rate-threshold policy (§4.3).
type RateThresholdConfig struct {
	MinReplicas       int           `json:"minReplicas" yaml:"minReplicas"`
	MaxReplicas       int           `json:"maxReplicas" yaml:"maxReplicas"`
	UpperThreshold    float64       `json:"upperThreshold" yaml:"upperThreshold"`
	LowerThreshold    float64       `json:"lowerThreshold" yaml:"lowerThreshold"`
	ScaleUpCooldown   time.Duration `json:"scaleUpCooldown" yaml:"scaleUpCooldown"`
	ScaleDownCooldown time.Duration `json:"scaleDownCooldown" yaml:"scaleDownCooldown"`
}

// HeterogeneousConfig configures the heterogeneous accelerator policy (§4.4).
type HeterogeneousConfig struct {
	Catalogue         Catalogue     `json:"catalogue" yaml:"-"`
	MinReplicas       int           `json:"minReplicas" yaml:"minReplicas"`
	MaxReplicas       int           `json:"maxReplicas" yaml:"maxReplicas"`
	ScaleUpCooldown   time.Duration `json:"scaleUpCooldown" yaml:"scaleUpCooldown"`
	ScaleDownCooldown time.Duration `json:"scaleDownCooldown" yaml:"scaleDownCooldown"`
}

// ServiceStatus is the read model exposed by the telemetry API for one
// autoscaled service.
type ServiceStatus struct {
	Service          string        `json:"service"`
	Replicas         []ReplicaInfo `json:"replicas"`
	ReadyCount       int           `json:"ready_count"`
	LastDecisionTime time.Time     `json:"last_decision_time"`
	LastScaleUpTime  time.Time     `json:"last_scale_up_time"`
	LastScaleDownTime time.Time    `json:"last_scale_down_time"`
}
