package model

import "time"

// ScalingEvent MySQL model for scaling_events table
type ScalingEvent struct {
	ID            int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	EventID       string          `gorm:"column:event_id;type:varchar(255);not null;uniqueIndex:idx_event_id_unique" json:"event_id"`
	Service       string          `gorm:"column:service;type:varchar(255);not null;index:idx_service_timestamp,priority:1" json:"service"`
	Timestamp     time.Time       `gorm:"column:timestamp;type:datetime(3);not null;default:CURRENT_TIMESTAMP(3);index:idx_timestamp;index:idx_service_timestamp,priority:2" json:"timestamp"`
	Action        string          `gorm:"column:action;type:varchar(50);not null;index:idx_action" json:"action"`
	Accelerator   string          `gorm:"column:accelerator;type:varchar(50);not null" json:"accelerator"`
	FromReplicas  int             `gorm:"column:from_replicas;type:int;not null" json:"from_replicas"`
	ToReplicas    int             `gorm:"column:to_replicas;type:int;not null" json:"to_replicas"`
	Reason        string          `gorm:"column:reason;type:text;not null" json:"reason"`
	PreemptedFrom JSONStringArray `gorm:"column:preempted_from;type:json" json:"preempted_from"`
}

// TableName specifies the table name for ScalingEvent
func (ScalingEvent) TableName() string {
	return "scaling_events"
}
