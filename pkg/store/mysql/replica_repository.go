package mysql

import (
	"context"
	"fmt"

	"fleetscale/pkg/autoscaler"
	"fleetscale/pkg/store/mysql/model"
)

// ReplicaRepository implements interfaces.ReplicaStateStore against MySQL,
// giving a control loop durable replica bookkeeping that survives restarts.
type ReplicaRepository struct {
	ds *Datastore
}

// NewReplicaRepository creates a new replica repository.
func NewReplicaRepository(ds *Datastore) *ReplicaRepository {
	return &ReplicaRepository{ds: ds}
}

// ListReplicas retrieves every replica currently tracked for a service.
func (r *ReplicaRepository) ListReplicas(ctx context.Context, service string) ([]autoscaler.ReplicaInfo, error) {
	var rows []model.Replica
	if err := r.ds.DB(ctx).Where("service = ?", service).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list replicas: %w", err)
	}

	out := make([]autoscaler.ReplicaInfo, 0, len(rows))
	for _, row := range rows {
		out = append(out, autoscaler.ReplicaInfo{
			ReplicaID:          row.ReplicaID,
			Accelerator:        autoscaler.AcceleratorClass(row.Accelerator),
			Status:             autoscaler.ReplicaStatus(row.Status),
			CreatedAt:          row.CreatedAt,
			IsPrimary:          row.IsPrimary,
			OwnerReplicaID:     row.OwnerReplicaID,
			FallbackReplicaIDs: []int64(row.FallbackReplicaIDs),
		})
	}
	return out, nil
}

// UpsertReplica creates or updates the persisted record for a replica.
func (r *ReplicaRepository) UpsertReplica(ctx context.Context, service string, info autoscaler.ReplicaInfo) error {
	row := model.Replica{
		ReplicaID:          info.ReplicaID,
		Service:            service,
		Accelerator:        string(info.Accelerator),
		Status:             string(info.Status),
		IsPrimary:          info.IsPrimary,
		OwnerReplicaID:     info.OwnerReplicaID,
		FallbackReplicaIDs: model.JSONInt64Array(info.FallbackReplicaIDs),
		CreatedAt:          info.CreatedAt,
	}
	return r.ds.DB(ctx).Save(&row).Error
}

// RemoveReplica deletes a replica's persisted record.
func (r *ReplicaRepository) RemoveReplica(ctx context.Context, service string, replicaID int64) error {
	return r.ds.DB(ctx).Where("service = ? AND replica_id = ?", service, replicaID).Delete(&model.Replica{}).Error
}
