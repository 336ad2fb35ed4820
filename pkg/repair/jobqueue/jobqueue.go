// Package jobqueue is the schedule manager collaborator the on-demand
// repair scheduler hands its jobs to: it owns the worker pool that actually
// drives ScheduledJob.RunOne to completion, independent of the
// scheduler's own bookkeeping (spec.md §4.5, §5).
package jobqueue

import (
	"context"

	"github.com/scylladb/repairsched/internal/uuid"
)

// ScheduledJob is one unit of schedulable work. RunOne must be safe to call
// repeatedly: the manager calls it again after every non-terminal return
// until it reports done, or the job is descheduled.
type ScheduledJob interface {
	// ID uniquely identifies this job for deduplication and logging.
	ID() uuid.UUID

	// RunOne drives the job forward by (at most) one increment of work and
	// reports whether the job has reached a terminal state. Once done is
	// true the manager stops calling RunOne and removes the job.
	RunOne(ctx context.Context) (done bool, err error)
}

// Manager schedules ScheduledJobs onto a bounded worker pool. Close does not
// interrupt work already in flight: a repair action that is mid-range when
// Close is called is allowed to finish that range before the pool tears
// down, matching the original's close()-deschedules-but-does-not-abort
// semantics (spec.md §5, §7 non-goal on hard-cancellation).
type Manager interface {
	// Schedule enqueues job for repeated RunOne calls until it completes or
	// is descheduled. Scheduling the same ID twice is a no-op.
	Schedule(job ScheduledJob)

	// Deschedule stops future RunOne calls for id. It does not cancel a
	// RunOne call already in progress.
	Deschedule(id uuid.UUID)

	// Close descheduls every job and blocks until all in-flight RunOne
	// calls return.
	Close()
}
