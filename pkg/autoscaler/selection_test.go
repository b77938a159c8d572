package autoscaler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOrderForScaleDown_StatusRankFirst(t *testing.T) {
	now := time.Now()
	replicas := []ReplicaInfo{
		{ReplicaID: 1, Status: StatusReady, CreatedAt: now},
		{ReplicaID: 2, Status: StatusFailed, CreatedAt: now},
		{ReplicaID: 3, Status: StatusNotReady, CreatedAt: now},
	}

	ordered := OrderForScaleDown(replicas)
	assert.Equal(t, int64(2), ordered[0].ReplicaID) // FAILED first
	assert.Equal(t, int64(3), ordered[1].ReplicaID) // NOT_READY next
	assert.Equal(t, int64(1), ordered[2].ReplicaID) // READY last
}

func TestOrderForScaleDown_TiesByCreatedAtThenID(t *testing.T) {
	now := time.Now()
	replicas := []ReplicaInfo{
		{ReplicaID: 5, Status: StatusReady, CreatedAt: now},
		{ReplicaID: 2, Status: StatusReady, CreatedAt: now.Add(-time.Minute)},
		{ReplicaID: 3, Status: StatusReady, CreatedAt: now.Add(-time.Minute)},
	}

	ordered := OrderForScaleDown(replicas)
	assert.Equal(t, int64(2), ordered[0].ReplicaID) // oldest created_at, lower id wins tie
	assert.Equal(t, int64(3), ordered[1].ReplicaID)
	assert.Equal(t, int64(5), ordered[2].ReplicaID)
}

func TestSelectForScaleDown_ClampsToAvailable(t *testing.T) {
	replicas := []ReplicaInfo{
		{ReplicaID: 1, Status: StatusReady, CreatedAt: time.Now()},
	}
	selected := SelectForScaleDown(replicas, 5)
	assert.Len(t, selected, 1)
}

func TestSelectForScaleDown_ZeroReturnsNone(t *testing.T) {
	replicas := []ReplicaInfo{
		{ReplicaID: 1, Status: StatusReady, CreatedAt: time.Now()},
	}
	selected := SelectForScaleDown(replicas, 0)
	assert.Len(t, selected, 0)
}
