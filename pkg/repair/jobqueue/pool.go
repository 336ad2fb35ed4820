package jobqueue

import (
	"context"
	"sync"
	"time"

	"github.com/scylladb/go-log"
	"go.uber.org/atomic"

	"github.com/scylladb/repairsched/internal/uuid"
)

// errRetryInterval bounds how quickly the pool retries RunOne after it
// returns a non-terminal error. Jobs that need their own backoff policy
// (e.g. lock contention, see pkg/repair/ondemand) apply it internally
// before returning from RunOne; this interval only guards against a
// runaway loop on unexpected errors.
const errRetryInterval = time.Second

// WorkerPool is the production Manager: every scheduled job gets its own
// goroutine for the job's whole lifetime, so the goroutine count grows with
// the number of scheduled jobs. Concurrency of RunOne calls across jobs is
// bounded by a semaphore, not by the goroutine count: a burst of scheduled
// jobs queues on the semaphore for a free slot.
//
// Grounded on sched/service.go's mutex-protected `tasks map[uuid.UUID]...`
// registration plus `wg sync.WaitGroup`-gated Close, generalized so
// descheduling stops future RunOne calls without cancelling one already in
// flight (spec.md §5, §7).
type WorkerPool struct {
	sem    chan struct{}
	logger log.Logger

	mu     sync.Mutex
	stopCh map[uuid.UUID]chan struct{}
	closed bool

	wg      sync.WaitGroup
	running atomic.Int32
}

// NewWorkerPool returns a WorkerPool allowing up to concurrency jobs to run
// RunOne at the same time. concurrency <= 0 is treated as 1.
func NewWorkerPool(concurrency int, logger log.Logger) *WorkerPool {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &WorkerPool{
		sem:    make(chan struct{}, concurrency),
		logger: logger,
		stopCh: make(map[uuid.UUID]chan struct{}),
	}
}

// Schedule implements Manager.
func (p *WorkerPool) Schedule(job ScheduledJob) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	if _, ok := p.stopCh[job.ID()]; ok {
		p.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	p.stopCh[job.ID()] = stop
	p.wg.Add(1)
	p.mu.Unlock()

	go p.run(job, stop)
}

// Deschedule implements Manager.
func (p *WorkerPool) Deschedule(id uuid.UUID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if stop, ok := p.stopCh[id]; ok {
		delete(p.stopCh, id)
		close(stop)
	}
}

// Close implements Manager.
func (p *WorkerPool) Close() {
	p.mu.Lock()
	p.closed = true
	for id, stop := range p.stopCh {
		delete(p.stopCh, id)
		close(stop)
	}
	p.mu.Unlock()

	p.wg.Wait()
}

func (p *WorkerPool) run(job ScheduledJob, stop chan struct{}) {
	defer p.wg.Done()
	defer p.finish(job.ID(), stop)

	ctx := context.Background()

	for {
		select {
		case <-stop:
			return
		default:
		}

		// The semaphore slot is held for the whole RunOne call, including
		// any internal backoff sleep on lock contention or transient
		// failure (pkg/repair/ondemand.OnDemandRepairJob.sleepBackoff): a
		// backing-off job occupies a worker slot another scheduled job
		// could otherwise use. Accepted as a simplification rather than
		// threading a release-and-requeue path through ScheduledJob.
		p.sem <- struct{}{}
		p.running.Inc()
		done, err := job.RunOne(ctx)
		p.running.Dec()
		<-p.sem

		if err != nil {
			p.logger.Error(ctx, "job run failed", "job_id", job.ID(), "error", err)
		}
		if done {
			return
		}
		if err != nil {
			select {
			case <-stop:
				return
			case <-time.After(errRetryInterval):
			}
		}
	}
}

// RunningCount reports how many jobs are inside a RunOne call right now.
// Grounded on pkg/util/parallel.Run's atomic.NewInt32 index counter: a
// lock-free stat callers can sample without contending with Schedule/
// Deschedule's mutex.
func (p *WorkerPool) RunningCount() int32 {
	return p.running.Load()
}

// finish removes id's bookkeeping if Deschedule/Close has not already done
// so (the job completing on its own, without ever being descheduled).
func (p *WorkerPool) finish(id uuid.UUID, stop chan struct{}) {
	p.mu.Lock()
	if cur, ok := p.stopCh[id]; ok && cur == stop {
		delete(p.stopCh, id)
	}
	p.mu.Unlock()
}
