// Package scheduler implements the on-demand repair scheduler facade
// (spec.md §4.5): the public entry point that turns a schedule/
// scheduleClusterWide request into a persisted OngoingJob, a running
// OnDemandRepairJob, and a periodic sweep that adopts jobs peer daemons
// (or this daemon's own past incarnation) have persisted to the store.
package scheduler

import (
	"context"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/scylladb/go-log"
	"github.com/scylladb/go-set/strset"

	"github.com/scylladb/repairsched/internal/uuid"
	"github.com/scylladb/repairsched/pkg/repair/config"
	"github.com/scylladb/repairsched/pkg/repair/jobqueue"
	"github.com/scylladb/repairsched/pkg/repair/lock"
	"github.com/scylladb/repairsched/pkg/repair/metrics"
	"github.com/scylladb/repairsched/pkg/repair/ondemand"
	"github.com/scylladb/repairsched/pkg/repair/store"
	"github.com/scylladb/repairsched/pkg/repair/token"
)

// Service is the on-demand repair scheduler facade (spec.md §4.5).
// Construction binds it to every collaborator the source's builder
// assembles; Go re-expresses that as an explicit configuration record
// rather than a mutable builder (spec.md §9).
type Service struct {
	store       store.Store
	oracle      token.ReplicationOracle
	lockFactory lock.Factory
	lockType    lock.Type
	datacenter  string
	host        ondemand.RepairHost
	manager     jobqueue.Manager
	hooks       metrics.Hooks
	logger      log.Logger
	cfg         config.SchedulerConfig
	views       *ondemand.ViewBuilder

	mu      sync.Mutex
	jobs    map[uuid.UUID]*ondemand.OnDemandRepairJob
	closed  bool
	stopCh  chan struct{}
	stopped chan struct{}
}

// Config is Service's explicit dependency record (spec.md §9 "re-express
// builder as configuration record"): the collaborator fields Store, Oracle,
// LockFactory, Host, Manager and Hooks are required, and New reports a
// construction error rather than allowing a caller to build a Service
// around a nil collaborator that would only surface at first use.
type Config struct {
	Store       store.Store
	Oracle      token.ReplicationOracle
	LockFactory lock.Factory
	LockType    lock.Type
	Datacenter  string
	Host        ondemand.RepairHost
	Manager     jobqueue.Manager
	Hooks       metrics.Hooks
	Logger      log.Logger
	Scheduler   config.SchedulerConfig
}

func (c Config) validate() error {
	var missing []string
	if c.Store == nil {
		missing = append(missing, "Store")
	}
	if c.Oracle == nil {
		missing = append(missing, "Oracle")
	}
	if c.LockFactory == nil {
		missing = append(missing, "LockFactory")
	}
	if c.Host == nil {
		missing = append(missing, "Host")
	}
	if c.Manager == nil {
		missing = append(missing, "Manager")
	}
	if c.Hooks == nil {
		missing = append(missing, "Hooks")
	}
	if len(missing) > 0 {
		return errors.Errorf("scheduler config: missing required field(s): %s", strings.Join(missing, ", "))
	}
	return c.Scheduler.Validate()
}

// New builds a Service and starts its periodic sweep goroutine.
func New(cfg Config) (*Service, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if reflect.DeepEqual(cfg.Logger, log.NopLogger) {
		cfg.Logger = log.NopLogger
	}

	s := &Service{
		store:       cfg.Store,
		oracle:      cfg.Oracle,
		lockFactory: cfg.LockFactory,
		lockType:    cfg.LockType,
		datacenter:  cfg.Datacenter,
		host:        cfg.Host,
		manager:     cfg.Manager,
		hooks:       cfg.Hooks,
		logger:      cfg.Logger,
		cfg:         cfg.Scheduler,
		views:       ondemand.NewViewBuilder(cfg.Oracle),
		jobs:        make(map[uuid.UUID]*ondemand.OnDemandRepairJob),
		stopCh:      make(chan struct{}),
		stopped:     make(chan struct{}),
	}

	go s.sweepLoop()
	return s, nil
}

// ScheduleJob implements spec.md §4.5 scheduleJob: a local-only on-demand
// repair of ref.
func (s *Service) ScheduleJob(ctx context.Context, ref token.TableReference) (ondemand.JobView, error) {
	return s.scheduleJob(ctx, ref, false)
}

// ScheduleClusterWideJob implements spec.md §4.5 scheduleClusterWideJob.
// Per the Open Question decision recorded in DESIGN.md, this returns only
// the view for the row just created on this host: peer daemons have not
// yet observed the store rows they will create for themselves.
func (s *Service) ScheduleClusterWideJob(ctx context.Context, ref token.TableReference) (ondemand.JobView, error) {
	return s.scheduleJob(ctx, ref, true)
}

func (s *Service) scheduleJob(ctx context.Context, ref token.TableReference, clusterWide bool) (ondemand.JobView, error) {
	ok, reason, err := s.oracle.Eligible(ctx, ref)
	if err != nil {
		return ondemand.JobView{}, err
	}
	if !ok {
		exists, existsErr := s.oracle.TableExists(ctx, ref)
		if existsErr == nil && !exists {
			return ondemand.JobView{}, ErrTableNotFound
		}
		return ondemand.JobView{}, errors.Wrap(ErrNotEligible, reason)
	}

	vnodes, err := s.oracle.LocalVnodes(ctx, ref)
	if err != nil {
		return ondemand.JobView{}, err
	}
	ranges := make([]token.TokenRange, len(vnodes))
	for i, v := range vnodes {
		ranges[i] = v.Range
	}
	hash, err := s.oracle.TokenMapHash(ctx, ref)
	if err != nil {
		return ondemand.JobView{}, err
	}

	jobID, err := uuid.NewRandom()
	if err != nil {
		return ondemand.JobView{}, err
	}

	if err := s.store.AddNewJob(ctx, jobID, ref, hash, ranges, clusterWide); err != nil {
		return ondemand.JobView{}, err
	}
	job := ondemand.NewOngoingJob(s.store, jobID, ref, hash, ranges, clusterWide)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ondemand.JobView{}, ErrClosed
	}
	repairJob := s.buildRepairJob(job)
	s.jobs[jobID] = repairJob
	s.mu.Unlock()

	s.manager.Schedule(repairJob)
	s.hooks.JobStarted(ref.Keyspace, ref.Table)

	return s.views.Build(ctx, store.Record{
		JobID:         jobID,
		HostID:        s.store.HostID(),
		Table:         ref,
		TokenMapHash:  hash,
		AllRanges:     ranges,
		Status:        store.StatusStarted,
		IsClusterWide: clusterWide,
		StartTimeMs:   job.StartTimeMs,
	})
}

func (s *Service) buildRepairJob(job *ondemand.OngoingJob) *ondemand.OnDemandRepairJob {
	jobID := job.JobID
	return ondemand.NewOnDemandRepairJob(
		job, s.oracle, s.lockFactory, s.lockType, s.datacenter,
		s.host, s.cfg.Repair, s.hooks, s.logger,
		func(uuid.UUID) { s.removeScheduledJob(jobID) },
	)
}

// removeScheduledJob implements spec.md §4.4 step 6 / §5's onFinished hook:
// drop the job from the in-memory map. It runs inside the job's final
// RunOne call, which then reports done, so the schedule manager stops
// driving the job on its own and there is nothing to deschedule.
func (s *Service) removeScheduledJob(jobID uuid.UUID) {
	s.mu.Lock()
	delete(s.jobs, jobID)
	s.mu.Unlock()
}

// GetActiveRepairJobs implements spec.md §4.5: a snapshot of in-memory jobs
// owned by this daemon. The scheduler mutex is held only long enough to
// copy the map (spec.md §5).
func (s *Service) GetActiveRepairJobs(ctx context.Context) ([]ondemand.JobView, error) {
	s.mu.Lock()
	jobs := make([]*ondemand.OnDemandRepairJob, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	s.mu.Unlock()

	recs := make([]store.Record, len(jobs))
	for i, j := range jobs {
		recs[i] = j.Record()
	}
	return s.views.BuildAll(ctx, recs)
}

// GetAllRepairJobs implements spec.md §4.5: a snapshot derived from the
// store, all statuses, this host. Does not take the scheduler mutex
// (spec.md §5): it reads the store directly.
func (s *Service) GetAllRepairJobs(ctx context.Context) ([]ondemand.JobView, error) {
	recs, err := s.store.GetAllJobs(ctx)
	if err != nil {
		return nil, err
	}
	return s.views.BuildAll(ctx, recs)
}

// GetAllClusterWideRepairJobs implements spec.md §4.5: a snapshot derived
// from the store across all hosts. Does not take the scheduler mutex.
func (s *Service) GetAllClusterWideRepairJobs(ctx context.Context) ([]ondemand.JobView, error) {
	recs, err := s.store.GetAllClusterWideJobs(ctx)
	if err != nil {
		return nil, err
	}
	return s.views.BuildAll(ctx, recs)
}

// Close implements spec.md §4.5: deschedules every in-memory job, clears
// the map, and stops the periodic sweep. It does not interrupt in-flight
// repair actions (spec.md §5 Cancellation & timeout): jobqueue.Manager's
// Close contract guarantees that already.
func (s *Service) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	ids := make([]uuid.UUID, 0, len(s.jobs))
	for id := range s.jobs {
		ids = append(ids, id)
	}
	s.jobs = make(map[uuid.UUID]*ondemand.OnDemandRepairJob)
	s.mu.Unlock()

	for _, id := range ids {
		s.manager.Deschedule(id)
	}
	close(s.stopCh)
	<-s.stopped
	s.manager.Close()
}

// sweepLoop runs the periodic ongoing-job sweep on a fixed ticker,
// grounded on sched/service.go's scheduleAtFixedRate-equivalent
// time.Ticker loop and original_source's single-thread
// ONGOING_JOBS_PERIOD_SECONDS executor.
func (s *Service) sweepLoop() {
	defer close(s.stopped)

	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.sweepOnce(context.Background())
		}
	}
}

// sweepOnce implements spec.md §4.5's periodic sweep. Exceptions are
// logged, never propagated (spec.md §7: "the sweep never throws out of
// its periodic tick").
func (s *Service) sweepOnce(ctx context.Context) {
	start := time.Now()
	defer func() { s.hooks.SweepFinished(time.Since(start).Seconds()) }()

	recs, err := s.store.GetOngoingJobs(ctx, s.oracle)
	if err != nil {
		s.logger.Error(ctx, "sweep: failed to read ongoing jobs", "error", err)
		return
	}

	s.mu.Lock()
	known := strset.New()
	for id := range s.jobs {
		known.Add(id.String())
	}
	s.mu.Unlock()

	for _, rec := range recs {
		if known.Has(rec.JobID.String()) {
			continue
		}

		if rec.Stale {
			if err := s.store.Fail(ctx, rec.JobID); err != nil {
				s.logger.Error(ctx, "sweep: failed to fail stale job", "job_id", rec.JobID, "error", err)
			}
			continue
		}

		job := ondemand.Rehydrate(s.store, rec)
		if err := job.Validate(); err != nil {
			// Fatal per spec.md §7: repairedRanges not a subset of allRanges
			// means the persisted record is corrupt, not a transient
			// condition the sweep can route around.
			s.logger.Error(ctx, "sweep: invariant violated on rehydrated job", "job_id", rec.JobID, "error", err)
			panic(err)
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}
		if _, ok := s.jobs[rec.JobID]; ok {
			s.mu.Unlock()
			continue
		}
		repairJob := s.buildRepairJob(job)
		s.jobs[rec.JobID] = repairJob
		s.mu.Unlock()

		s.manager.Schedule(repairJob)
		s.hooks.JobStarted(rec.Table.Keyspace, rec.Table.Table)
	}
}
