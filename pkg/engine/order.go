package engine

import (
	"sort"

	"vantage-hq/warden/pkg/rcp"
)

// Order sorts a policy version set into evaluation order: scope
// specificity first (segment > algorithm > global), then priority
// (highest first), then creation time (oldest first), then policy ID.
//
// Creation order is the deterministic tie-break for equal-priority
// policies, so evaluation order never depends on storage iteration
// order. The final ID comparison only matters for policies activated at
// the exact same timestamp.
func Order(policies []*rcp.PolicyVersion) []*rcp.PolicyVersion {
	ordered := make([]*rcp.PolicyVersion, len(policies))
	copy(ordered, policies)

	sort.SliceStable(ordered, func(i, j int) bool {
		pi, pj := ordered[i].Policy, ordered[j].Policy

		if si, sj := pi.Scope.Specificity(), pj.Scope.Specificity(); si != sj {
			return si > sj
		}
		if pi.Priority != pj.Priority {
			return pi.Priority > pj.Priority
		}
		if !pi.CreatedAt.Equal(pj.CreatedAt) {
			return pi.CreatedAt.Before(pj.CreatedAt)
		}
		return pi.ID < pj.ID
	})

	return ordered
}

// Applicable filters a version set down to the policies that apply to a
// batch, preserving input order.
func Applicable(policies []*rcp.PolicyVersion, batch *rcp.Batch) []*rcp.PolicyVersion {
	out := make([]*rcp.PolicyVersion, 0, len(policies))
	for _, pv := range policies {
		if pv.Policy.AppliesTo(batch.Algorithm, batch.Segment) {
			out = append(out, pv)
		}
	}
	return out
}
