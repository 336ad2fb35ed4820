// Package token models the replicated-range view of a table that the
// on-demand repair scheduler builds jobs against, and the oracle that
// produces it.
package token

import (
	"fmt"

	"github.com/scylladb/repairsched/internal/uuid"
)

// NodeID is the opaque, stable identity of a database node.
type NodeID = uuid.UUID

// JobID identifies a single on-demand repair request.
type JobID = uuid.UUID

// TableReference identifies a replicated table. Equality is by ID, the
// stable identifier the schema assigns the table; Keyspace and Table are
// carried for display and for store lookups only.
type TableReference struct {
	Keyspace string
	Table    string
	ID       uuid.UUID
}

// Equal reports whether two references name the same table.
func (t TableReference) Equal(o TableReference) bool {
	return t.ID == o.ID
}

func (t TableReference) String() string {
	return fmt.Sprintf("%s.%s", t.Keyspace, t.Table)
}

// TokenRange is a half-open interval (Start, End] on the partitioner's
// signed 64-bit ring. A range wraps when Start >= End.
type TokenRange struct {
	Start int64
	End   int64
}

// Equal reports whether two ranges cover exactly the same interval.
func (r TokenRange) Equal(o TokenRange) bool {
	return r.Start == o.Start && r.End == o.End
}

func (r TokenRange) String() string {
	return fmt.Sprintf("(%d,%d]", r.Start, r.End)
}

// VnodeState is a single token range together with its current replica set
// and the last time it was repaired, as reported by the ReplicationOracle.
// It is a read-only, point-in-time snapshot; callers must not assume it is
// stable across oracle calls.
type VnodeState struct {
	Range            TokenRange
	Replicas         []NodeID
	LastRepairedAtMs int64
}

// Repaired reports whether the vnode was last repaired after threshold,
// i.e. whether it should be considered up to date as of that cutoff.
func (v VnodeState) Repaired(threshold int64) bool {
	return v.LastRepairedAtMs > threshold
}

// RangeSet is an unordered collection of token ranges, keyed by value since
// TokenRange is a small comparable struct. It is the in-memory shape of an
// OngoingJob's repaired ranges; AllRanges stays an ordered slice.
type RangeSet map[TokenRange]struct{}

// NewRangeSet builds a RangeSet from a slice; the set keeps no order.
func NewRangeSet(ranges ...TokenRange) RangeSet {
	s := make(RangeSet, len(ranges))
	for _, r := range ranges {
		s[r] = struct{}{}
	}
	return s
}

// Has reports whether r is a member of the set.
func (s RangeSet) Has(r TokenRange) bool {
	_, ok := s[r]
	return ok
}

// Add inserts r into the set, idempotently.
func (s RangeSet) Add(r TokenRange) {
	s[r] = struct{}{}
}

// Clone returns an independent copy of the set.
func (s RangeSet) Clone() RangeSet {
	out := make(RangeSet, len(s))
	for r := range s {
		out[r] = struct{}{}
	}
	return out
}

// Subtract returns the ranges in s that are not in other.
func (s RangeSet) Subtract(other RangeSet) []TokenRange {
	out := make([]TokenRange, 0, len(s))
	for r := range s {
		if !other.Has(r) {
			out = append(out, r)
		}
	}
	return out
}

// Subset reports whether every range in s is also in other.
func (s RangeSet) Subset(other RangeSet) bool {
	for r := range s {
		if !other.Has(r) {
			return false
		}
	}
	return true
}

// Slice returns the set's members in an unspecified order that may differ
// between calls (Go map iteration order is randomized per iteration).
// Callers that need a deterministic order walk the range list that produced
// the set and test membership with Has, as OngoingJob.RemainingRanges does.
func (s RangeSet) Slice() []TokenRange {
	out := make([]TokenRange, 0, len(s))
	for r := range s {
		out = append(out, r)
	}
	return out
}
