package store

import (
	"context"

	"github.com/pkg/errors"
	"github.com/scylladb/repairsched/internal/uuid"
	"github.com/scylladb/repairsched/pkg/repair/token"
)

// ErrJobExists is returned by AddNewJob when (HostID, jobID) already has a
// row; (hostId, jobId) is the record's primary key (spec.md §3).
var ErrJobExists = errors.New("job already exists")

// ErrNotFound is returned by any per-job operation addressing a row that
// does not exist.
var ErrNotFound = errors.New("job not found")

// ErrNotFinishable is returned by Finish when RepairedRanges != AllRanges,
// enforcing the finish precondition (spec.md §4.2, §8 property 3).
var ErrNotFinishable = errors.New("not all ranges are repaired")

// Store is the persistent on-demand status store contract (spec.md §4.2).
// Implementations must linearize per-row updates: the same job must never
// observe two concurrent writers both believe they made a terminal
// transition.
type Store interface {
	// HostID returns this daemon's stable node identity.
	HostID() token.NodeID

	// AddNewJob atomically inserts a row in status started with an empty
	// RepairedRanges set. Returns ErrJobExists if (HostID(), jobID) is
	// already present.
	AddNewJob(ctx context.Context, jobID uuid.UUID, ref token.TableReference, tokenMapHash uint64, ranges []token.TokenRange, isClusterWide bool) error

	// FinishRange atomically adds range to the job's RepairedRanges.
	// Idempotent: calling it twice with the same range is a no-op the
	// second time. Must durably commit before the caller treats the range
	// as done.
	FinishRange(ctx context.Context, jobID uuid.UUID, r token.TokenRange) error

	// Finish transitions the job to finished and stamps CompletedTimeMs.
	// Legal only when RepairedRanges == AllRanges; returns ErrNotFinishable
	// otherwise.
	Finish(ctx context.Context, jobID uuid.UUID) error

	// Fail transitions the job to failed and stamps CompletedTimeMs. Legal
	// from any non-terminal state; a second call is a no-op.
	Fail(ctx context.Context, jobID uuid.UUID) error

	// GetOngoingJobs returns every started job owned by HostID(). A job
	// whose TokenMapHash no longer matches oracle's live hash for its table
	// is returned with Stale set; the caller must call Fail for it.
	GetOngoingJobs(ctx context.Context, oracle token.ReplicationOracle) ([]Record, error)

	// GetAllJobs returns every job owned by HostID(), regardless of status.
	GetAllJobs(ctx context.Context) ([]Record, error)

	// GetAllClusterWideJobs returns every cluster-wide job across all hosts.
	GetAllClusterWideJobs(ctx context.Context) ([]Record, error)
}
