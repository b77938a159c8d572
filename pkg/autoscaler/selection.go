package autoscaler

import "sort"

// OrderForScaleDown sorts replicas by §4.5's deterministic scale-down
// preference: FAILED first, then NOT_READY, then PROVISIONING, then READY;
// within a status, oldest created_at first; ties broken by ascending
// replica_id. The slice is sorted in place and also returned.
//
// Two independent control loop instances presented with the same replica
// snapshot always pick the same victim, which is what makes scale-down safe
// to run without additional coordination beyond the tick-level lock (§5).
func OrderForScaleDown(replicas []ReplicaInfo) []ReplicaInfo {
	sort.Slice(replicas, func(i, j int) bool {
		ri, rj := replicas[i], replicas[j]
		if scaleDownRank[ri.Status] != scaleDownRank[rj.Status] {
			return scaleDownRank[ri.Status] < scaleDownRank[rj.Status]
		}
		if !ri.CreatedAt.Equal(rj.CreatedAt) {
			return ri.CreatedAt.Before(rj.CreatedAt)
		}
		return ri.ReplicaID < rj.ReplicaID
	})
	return replicas
}

// SelectForScaleDown returns the n replicas that OrderForScaleDown would pick
// first, i.e. the n best scale-down candidates among replicas. If fewer than
// n replicas are present, all of them are returned.
func SelectForScaleDown(replicas []ReplicaInfo, n int) []ReplicaInfo {
	ordered := OrderForScaleDown(append([]ReplicaInfo(nil), replicas...))
	if n >= len(ordered) {
		return ordered
	}
	if n <= 0 {
		return nil
	}
	return ordered[:n]
}
