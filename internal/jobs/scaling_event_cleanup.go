package jobs

import (
	"context"
	"time"
)

// ScalingEventStore is the subset of the scaling event repository this job
// needs: old audit rows don't need to live forever.
type ScalingEventStore interface {
	DeleteOldEvents(ctx context.Context, olderThan time.Time) (int64, error)
}

// ScalingEventCleanup periodically purges scaling_events rows past a
// retention window.
type ScalingEventCleanup struct {
	store     ScalingEventStore
	retention time.Duration
	interval  time.Duration
}

// NewScalingEventCleanup creates a cleanup job that deletes scaling events
// older than retention, checking every interval.
func NewScalingEventCleanup(store ScalingEventStore, retention, interval time.Duration) *ScalingEventCleanup {
	return &ScalingEventCleanup{store: store, retention: retention, interval: interval}
}

func (j *ScalingEventCleanup) Name() string { return "scaling-event-cleanup" }

func (j *ScalingEventCleanup) Interval() time.Duration { return j.interval }

func (j *ScalingEventCleanup) Run(ctx context.Context) error {
	cutoff := time.Now().Add(-j.retention)
	_, err := j.store.DeleteOldEvents(ctx, cutoff)
	return err
}
