package ondemand

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/scylladb/go-log"
	"github.com/scylladb/repairsched/internal/uuid"
	"github.com/scylladb/repairsched/pkg/repair/config"
	"github.com/scylladb/repairsched/pkg/repair/lock"
	"github.com/scylladb/repairsched/pkg/repair/metrics"
	"github.com/scylladb/repairsched/pkg/repair/store"
	"github.com/scylladb/repairsched/pkg/repair/token"
)

// RepairOutcome is the result of running the repair action on the local
// node for one range (spec.md §4.4 step 3).
type RepairOutcome int

// Supported outcomes.
const (
	RepairSuccess RepairOutcome = iota
	RepairNoOp
	RepairFailure
)

// RepairHost performs a repair of one token range on the local database
// node. It is the boundary the core pushes low-level repair execution
// behind (spec.md §1 Non-goals: "it instructs the local database node to
// perform a repair ... and observes the outcome").
type RepairHost interface {
	Repair(ctx context.Context, ref token.TableReference, r token.TokenRange, cfg config.RepairConfiguration) (RepairOutcome, error)
}

// OnDemandRepairJob is the schedulable wrapper jobqueue.Manager drives:
// one RunOne call advances the underlying OngoingJob by at most one range
// task (spec.md §4.4). Grounded on original_source's getRepairJob builder
// and pkg/service/scheduler/runner.go's Run(ctx, ...) error shape,
// generalized to the done-bool contract jobqueue.ScheduledJob needs.
type OnDemandRepairJob struct {
	job         *OngoingJob
	oracle      token.ReplicationOracle
	lockFactory lock.Factory
	lockType    lock.Type
	datacenter  string
	host        RepairHost
	cfg         config.RepairConfiguration
	hooks       metrics.Hooks
	logger      log.Logger

	// onFinished is called exactly once, after the job reaches finished or
	// failed, so the scheduler can drop it from its in-memory map
	// (spec.md §4.4 step 6, §4.5 removeScheduledJob).
	onFinished func(jobID uuid.UUID)

	backoff  backoff.BackOff
	finished bool
}

// NewOnDemandRepairJob builds a schedulable wrapper around job.
func NewOnDemandRepairJob(
	job *OngoingJob,
	oracle token.ReplicationOracle,
	lockFactory lock.Factory,
	lockType lock.Type,
	datacenter string,
	host RepairHost,
	cfg config.RepairConfiguration,
	hooks metrics.Hooks,
	logger log.Logger,
	onFinished func(jobID uuid.UUID),
) *OnDemandRepairJob {
	return &OnDemandRepairJob{
		job:         job,
		oracle:      oracle,
		lockFactory: lockFactory,
		lockType:    lockType,
		datacenter:  datacenter,
		host:        host,
		cfg:         cfg,
		hooks:       hooks,
		logger:      logger,
		onFinished:  onFinished,
		backoff:     backoff.NewExponentialBackOff(),
	}
}

// ID implements jobqueue.ScheduledJob.
func (j *OnDemandRepairJob) ID() uuid.UUID { return j.job.JobID }

// Record returns a durable-shape snapshot of the underlying job, for the
// scheduler's active-job listing (spec.md §4.5 getActiveRepairJobs).
func (j *OnDemandRepairJob) Record() store.Record { return j.job.Record() }

// RunOne implements jobqueue.ScheduledJob. It advances the job by at most
// one range and reports whether the job is now terminal.
func (j *OnDemandRepairJob) RunOne(ctx context.Context) (bool, error) {
	if j.finished {
		return true, nil
	}

	lost, err := j.job.HasLostOwnership(ctx, j.oracle)
	if err != nil {
		return false, err
	}
	if lost {
		if err := j.job.Fail(ctx); err != nil {
			return false, err
		}
		j.logger.Info(ctx, "job failed: lost ownership of token range", "job_id", j.job.JobID, "table", j.job.Table, "completed_ranges", j.job.CompletedCount())
		return j.finish(store.StatusFailed), nil
	}

	remaining := j.job.RemainingRanges()
	if len(remaining) == 0 {
		if err := j.job.Finish(ctx); err != nil {
			return false, err
		}
		return j.finish(store.StatusFinished), nil
	}

	r := remaining[0]
	key := lock.NewKey(j.lockType, j.job.Table, r, j.datacenter)

	held, err := j.lockFactory.TryLock(ctx, key)
	if err != nil {
		if errors.Is(err, lock.ErrContended) {
			j.hooks.LockContended(j.job.Table.Keyspace, j.job.Table.Table)
			j.sleepBackoff(ctx)
			return false, nil
		}
		return false, err
	}
	defer held.Release(ctx)

	outcome, repairErr := j.host.Repair(ctx, j.job.Table, r, j.cfg)
	if repairErr != nil {
		j.logger.Info(ctx, "repair action failed for range", "job_id", j.job.JobID, "range", r, "error", repairErr)
		j.sleepBackoff(ctx)
		return false, nil
	}

	switch outcome {
	case RepairSuccess, RepairNoOp:
		if err := j.job.MarkRangeFinished(ctx, r); err != nil {
			return false, err
		}
		j.hooks.RangeRepaired(j.job.Table.Keyspace, j.job.Table.Table)
		j.backoff.Reset()
		if len(j.job.RemainingRanges()) == 0 {
			if err := j.job.Finish(ctx); err != nil {
				return false, err
			}
			return j.finish(store.StatusFinished), nil
		}
	case RepairFailure:
		j.logger.Info(ctx, "repair action reported failure for range", "job_id", j.job.JobID, "range", r)
		j.sleepBackoff(ctx)
	}
	return false, nil
}

func (j *OnDemandRepairJob) finish(status store.Status) bool {
	j.finished = true
	j.hooks.JobFinished(j.job.Table.Keyspace, j.job.Table.Table, string(status))
	if j.onFinished != nil {
		j.onFinished(j.job.JobID)
	}
	return true
}

// sleepBackoff blocks for the job's next exponential backoff interval, or
// until ctx is done, whichever comes first. Used for lock contention and
// transient repair-action failures — both expected, retried conditions
// rather than job-level errors (spec.md §7 LockContended, RepairFailed).
func (j *OnDemandRepairJob) sleepBackoff(ctx context.Context) {
	d := j.backoff.NextBackOff()
	if d == backoff.Stop {
		d = time.Minute
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
