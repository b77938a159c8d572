package model

import "time"

// Replica is the MySQL model for the replicas table: one row per live
// replica known to a service's control loop, durable across restarts.
type Replica struct {
	ReplicaID          int64          `gorm:"column:replica_id;primaryKey" json:"replica_id"`
	Service            string         `gorm:"column:service;type:varchar(255);not null;index:idx_service" json:"service"`
	Accelerator        string         `gorm:"column:accelerator;type:varchar(50);not null" json:"accelerator"`
	Status             string         `gorm:"column:status;type:varchar(20);not null" json:"status"`
	IsPrimary          bool           `gorm:"column:is_primary;not null" json:"is_primary"`
	OwnerReplicaID     int64          `gorm:"column:owner_replica_id;not null;default:0" json:"owner_replica_id"`
	FallbackReplicaIDs JSONInt64Array `gorm:"column:fallback_replica_ids;type:json" json:"fallback_replica_ids"`
	CreatedAt          time.Time      `gorm:"column:created_at;type:datetime(3);not null" json:"created_at"`
}

// TableName specifies the table name for Replica.
func (Replica) TableName() string {
	return "replicas"
}
