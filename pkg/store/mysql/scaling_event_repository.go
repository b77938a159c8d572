package mysql

import (
	"context"
	"fmt"
	"time"
)

// ScalingEventRepository persists an audit trail of autoscaler decisions.
type ScalingEventRepository struct {
	ds *Datastore
}

// NewScalingEventRepository creates a new scaling event repository.
func NewScalingEventRepository(ds *Datastore) *ScalingEventRepository {
	return &ScalingEventRepository{ds: ds}
}

// Create records a scaling event.
func (r *ScalingEventRepository) Create(ctx context.Context, event *ScalingEvent) error {
	return r.ds.DB(ctx).Create(event).Error
}

// ListByService retrieves scaling events for a specific service, most recent first.
func (r *ScalingEventRepository) ListByService(ctx context.Context, service string, limit int) ([]*ScalingEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	query := r.ds.DB(ctx).Model(&ScalingEvent{}).Order("timestamp DESC").Limit(limit)
	if service != "" {
		query = query.Where("service = ?", service)
	}

	var events []*ScalingEvent
	if err := query.Find(&events).Error; err != nil {
		return nil, fmt.Errorf("failed to list scaling events by service: %w", err)
	}
	return events, nil
}

// ListByTimeRange retrieves scaling events within a time range.
func (r *ScalingEventRepository) ListByTimeRange(ctx context.Context, startTime, endTime time.Time, limit int) ([]*ScalingEvent, error) {
	if limit <= 0 {
		limit = 1000
	}

	var events []*ScalingEvent
	err := r.ds.DB(ctx).
		Where("timestamp >= ? AND timestamp <= ?", startTime, endTime).
		Order("timestamp DESC").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list scaling events by time range: %w", err)
	}
	return events, nil
}

// DeleteOldEvents deletes events older than the specified time, useful for
// bounding the audit table's growth.
func (r *ScalingEventRepository) DeleteOldEvents(ctx context.Context, olderThan time.Time) (int64, error) {
	result := r.ds.DB(ctx).Where("timestamp < ?", olderThan).Delete(&ScalingEvent{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete old events: %w", result.Error)
	}
	return result.RowsAffected, nil
}
