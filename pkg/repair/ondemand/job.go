// Package ondemand implements the ongoing-job state machine and the
// schedulable on-demand repair job built on top of it (spec.md §4.3, §4.4).
package ondemand

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"github.com/scylladb/repairsched/internal/timeutc"
	"github.com/scylladb/repairsched/internal/uuid"
	"github.com/scylladb/repairsched/pkg/repair/store"
	"github.com/scylladb/repairsched/pkg/repair/token"
)

// ErrInvariantViolated is returned (and must abort the daemon rather than
// be swallowed, spec.md §7 Fatal) when repairedRanges is observed to not be
// a subset of allRanges.
var ErrInvariantViolated = errors.New("repairedRanges is not a subset of allRanges")

// OngoingJob is the in-memory mirror of one store.Record: a single on-demand
// repair request's lifecycle, states started -> finished or started ->
// failed (spec.md §4.3). All mutating methods go through the Store first;
// the in-memory mirror only ever reflects a durable write that already
// succeeded.
type OngoingJob struct {
	JobID         uuid.UUID
	HostID        uuid.UUID
	Table         token.TableReference
	TokenMapHash  uint64
	AllRanges     []token.TokenRange // insertion order; deterministic task order is derived from this.
	IsClusterWide bool
	StartTimeMs   int64

	store store.Store

	mu              sync.Mutex
	repaired        token.RangeSet
	status          store.Status
	completedTimeMs int64

	// completedCount mirrors len(repaired) without requiring mu, grounded
	// on the teacher's intensityHandler use of atomic.Float64 for a progress
	// value callers sample far more often than it changes.
	completedCount atomic.Int32
}

// NewOngoingJob constructs a fresh, not-yet-persisted OngoingJob. Callers
// must still call the Store's AddNewJob before handing it to a schedule
// manager; New only builds the in-memory shape.
func NewOngoingJob(s store.Store, jobID uuid.UUID, ref token.TableReference, tokenMapHash uint64, ranges []token.TokenRange, isClusterWide bool) *OngoingJob {
	all := make([]token.TokenRange, len(ranges))
	copy(all, ranges)

	return &OngoingJob{
		JobID:         jobID,
		HostID:        s.HostID(),
		Table:         ref,
		TokenMapHash:  tokenMapHash,
		AllRanges:     all,
		IsClusterWide: isClusterWide,
		StartTimeMs:   timeutc.NowMs(),
		store:         s,
		repaired:      token.NewRangeSet(),
		status:        store.StatusStarted,
	}
}

// Rehydrate reconstructs the in-memory OngoingJob for a record already
// found in the store — e.g. after a restart or when a peer daemon's
// cluster-wide row is adopted. Already-completed ranges are preserved so
// they are never re-attempted (spec.md §4.3 Rehydration, §8 property 5).
func Rehydrate(s store.Store, rec store.Record) *OngoingJob {
	all := make([]token.TokenRange, len(rec.AllRanges))
	copy(all, rec.AllRanges)

	job := &OngoingJob{
		JobID:           rec.JobID,
		HostID:          rec.HostID,
		Table:           rec.Table,
		TokenMapHash:    rec.TokenMapHash,
		AllRanges:       all,
		IsClusterWide:   rec.IsClusterWide,
		StartTimeMs:     rec.StartTimeMs,
		store:           s,
		repaired:        token.NewRangeSet(rec.RepairedRanges...),
		status:          rec.Status,
		completedTimeMs: rec.CompletedTimeMs,
	}
	job.completedCount.Store(int32(len(rec.RepairedRanges)))
	return job
}

// Status returns the job's current status.
func (j *OngoingJob) Status() store.Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// CompletedTimeMs returns the time the job reached a terminal state, or 0
// if it has not yet.
func (j *OngoingJob) CompletedTimeMs() int64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.completedTimeMs
}

// RepairedRanges returns a snapshot of the ranges completed so far.
func (j *OngoingJob) RepairedRanges() []token.TokenRange {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.repaired.Slice()
}

// RemainingRanges returns AllRanges \ RepairedRanges, in AllRanges'
// insertion order (spec.md §4.3).
func (j *OngoingJob) RemainingRanges() []token.TokenRange {
	j.mu.Lock()
	defer j.mu.Unlock()

	out := make([]token.TokenRange, 0, len(j.AllRanges)-len(j.repaired))
	for _, r := range j.AllRanges {
		if !j.repaired.Has(r) {
			out = append(out, r)
		}
	}
	return out
}

// MarkRangeFinished durably records r as complete, then updates the
// in-memory mirror. Idempotent: calling it twice with the same range
// leaves the job in the same state as calling it once (spec.md §8
// property 4).
func (j *OngoingJob) MarkRangeFinished(ctx context.Context, r token.TokenRange) error {
	if err := j.store.FinishRange(ctx, j.JobID, r); err != nil {
		return errors.Wrapf(err, "finish range %s for job %s", r, j.JobID)
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status.Terminal() {
		return nil
	}
	if !j.repaired.Has(r) {
		j.repaired.Add(r)
		j.completedCount.Inc()
	}
	if !j.repaired.Subset(token.NewRangeSet(j.AllRanges...)) {
		return ErrInvariantViolated
	}
	return nil
}

// CompletedCount returns the number of ranges repaired so far without
// taking the job's mutex, for high-frequency progress polling.
func (j *OngoingJob) CompletedCount() int32 {
	return j.completedCount.Load()
}

// Finish transitions the job to finished. Requires RemainingRanges() to be
// empty (spec.md §4.2, §8 property 3).
func (j *OngoingJob) Finish(ctx context.Context) error {
	if len(j.RemainingRanges()) != 0 {
		return store.ErrNotFinishable
	}
	if err := j.store.Finish(ctx, j.JobID); err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status.Terminal() {
		return nil
	}
	j.status = store.StatusFinished
	j.completedTimeMs = timeutc.NowMs()
	return nil
}

// Fail transitions the job to failed. Legal from any non-terminal state.
func (j *OngoingJob) Fail(ctx context.Context) error {
	if err := j.store.Fail(ctx, j.JobID); err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status.Terminal() {
		return nil
	}
	j.status = store.StatusFailed
	j.completedTimeMs = timeutc.NowMs()
	return nil
}

// HasLostOwnership reports whether oracle's current token map hash for
// Table differs from the hash recorded at job creation (spec.md §4.3).
func (j *OngoingJob) HasLostOwnership(ctx context.Context, oracle token.ReplicationOracle) (bool, error) {
	hash, err := oracle.TokenMapHash(ctx, j.Table)
	if err != nil {
		return false, errors.Wrapf(err, "token map hash for %s", j.Table)
	}
	return hash != j.TokenMapHash, nil
}

// Record returns a durable-shape snapshot of the job's current in-memory
// state, for callers (the scheduler's active-job listing) that need a
// store.Record without a round trip to the store itself.
func (j *OngoingJob) Record() store.Record {
	j.mu.Lock()
	defer j.mu.Unlock()

	all := make([]token.TokenRange, len(j.AllRanges))
	copy(all, j.AllRanges)

	return store.Record{
		JobID:           j.JobID,
		HostID:          j.HostID,
		Table:           j.Table,
		TokenMapHash:    j.TokenMapHash,
		AllRanges:       all,
		RepairedRanges:  j.repaired.Slice(),
		Status:          j.status,
		IsClusterWide:   j.IsClusterWide,
		StartTimeMs:     j.StartTimeMs,
		CompletedTimeMs: j.completedTimeMs,
	}
}

// Validate reports ErrInvariantViolated if repairedRanges is not a subset
// of allRanges. Callers that rehydrate a job from an external store (the
// periodic sweep) should call this once after Rehydrate and treat a
// non-nil result as Fatal (spec.md §7): abort rather than continue with
// corrupted state.
func (j *OngoingJob) Validate() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.repaired.Subset(token.NewRangeSet(j.AllRanges...)) {
		return ErrInvariantViolated
	}
	return nil
}
