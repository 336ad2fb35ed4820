// Package store is the persistent on-demand status store (spec.md §4.2): the
// single source of truth for cross-daemon coordination of on-demand repair
// jobs. It hides its backing schema from the rest of the core; callers see
// only Store and Record.
package store

import (
	"github.com/scylladb/repairsched/internal/uuid"
	"github.com/scylladb/repairsched/pkg/repair/token"
)

// Status is the lifecycle state of a durable job record.
type Status string

// Supported statuses. started is the only non-terminal one.
const (
	StatusStarted  Status = "started"
	StatusFinished Status = "finished"
	StatusFailed   Status = "failed"
)

// Terminal reports whether s is finished or failed.
func (s Status) Terminal() bool {
	return s == StatusFinished || s == StatusFailed
}

// Record is the durable representation of one OngoingJob row, keyed by
// (HostID, JobID). It mirrors spec.md §3's OngoingJob attributes plus a
// Stale flag GetOngoingJobs sets when the live token map no longer matches
// TokenMapHash.
type Record struct {
	JobID           uuid.UUID
	HostID          uuid.UUID
	Table           token.TableReference
	TokenMapHash    uint64
	AllRanges       []token.TokenRange
	RepairedRanges  []token.TokenRange
	Status          Status
	IsClusterWide   bool
	StartTimeMs     int64
	CompletedTimeMs int64 // 0 until the job reaches a terminal state.

	// Stale is set by GetOngoingJobs when TokenMapHash no longer matches
	// the oracle's live hash for Table. It is never persisted; the caller
	// must call Fail(JobID) to make the failure durable.
	Stale bool
}

// RemainingRanges returns AllRanges minus RepairedRanges.
func (r Record) RemainingRanges() []token.TokenRange {
	all := token.NewRangeSet(r.AllRanges...)
	return all.Subtract(token.NewRangeSet(r.RepairedRanges...))
}

// CompletedRatio implements the ratio used by reporting views
// (spec.md §4.6): |RepairedRanges| / |AllRanges|, 0 when AllRanges is empty.
func (r Record) CompletedRatio() float64 {
	if len(r.AllRanges) == 0 {
		return 0
	}
	return float64(len(r.RepairedRanges)) / float64(len(r.AllRanges))
}
