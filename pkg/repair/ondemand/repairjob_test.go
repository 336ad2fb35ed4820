package ondemand

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/scylladb/go-log"
	"github.com/scylladb/repairsched/internal/uuid"
	"github.com/scylladb/repairsched/pkg/repair/config"
	"github.com/scylladb/repairsched/pkg/repair/lock"
	"github.com/scylladb/repairsched/pkg/repair/metrics"
	"github.com/scylladb/repairsched/pkg/repair/store"
	"github.com/scylladb/repairsched/pkg/repair/token"
)

// scriptedHost returns outcomes[i] for the i-th call to Repair for a given
// range, then holds on the last scripted outcome. Lets tests express S6's
// "fails once, then succeeds" scenario.
type scriptedHost struct {
	mu       sync.Mutex
	calls    map[token.TokenRange]int
	outcomes map[token.TokenRange][]RepairOutcome
}

func newScriptedHost() *scriptedHost {
	return &scriptedHost{
		calls:    make(map[token.TokenRange]int),
		outcomes: make(map[token.TokenRange][]RepairOutcome),
	}
}

func (h *scriptedHost) script(r token.TokenRange, outcomes ...RepairOutcome) {
	h.outcomes[r] = outcomes
}

func (h *scriptedHost) Repair(_ context.Context, _ token.TableReference, r token.TokenRange, _ config.RepairConfiguration) (RepairOutcome, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	i := h.calls[r]
	h.calls[r]++

	seq, ok := h.outcomes[r]
	if !ok || len(seq) == 0 {
		return RepairSuccess, nil
	}
	if i >= len(seq) {
		i = len(seq) - 1
	}
	return seq[i], nil
}

func (h *scriptedHost) callCount(r token.TokenRange) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls[r]
}

func newTestRepairJob(t *testing.T, s store.Store, oracle token.ReplicationOracle, host RepairHost, jobID uuid.UUID, ref token.TableReference, hash uint64, ranges []token.TokenRange, onFinished func(uuid.UUID)) *OnDemandRepairJob {
	t.Helper()
	if err := s.AddNewJob(context.Background(), jobID, ref, hash, ranges, false); err != nil {
		t.Fatalf("AddNewJob: %v", err)
	}
	job := NewOngoingJob(s, jobID, ref, hash, ranges, false)
	return NewOnDemandRepairJob(
		job, oracle, lock.NewMemoryFactory(), lock.Vnode, "dc1",
		host, config.DefaultRepairConfiguration(), metrics.Nop{}, log.NopLogger, onFinished,
	)
}

func TestOnDemandRepairJobHappyPathS1(t *testing.T) {
	ctx := context.Background()
	host := mustUUID(t)
	s := store.NewMemoryStore(host)
	ref := testRef(t)
	oracle := &fixedOracle{hostID: host, hash: 1}
	repairHost := newScriptedHost()

	jobID := mustUUID(t)
	ranges := []token.TokenRange{{Start: 0, End: 10}, {Start: 10, End: 20}, {Start: 20, End: 30}}

	var finishedID uuid.UUID
	job := newTestRepairJob(t, s, oracle, repairHost, jobID, ref, 1, ranges, func(id uuid.UUID) { finishedID = id })

	for i := 0; i < len(ranges); i++ {
		done, err := job.RunOne(ctx)
		if err != nil {
			t.Fatalf("RunOne[%d]: %v", i, err)
		}
		if i < len(ranges)-1 && done {
			t.Fatalf("RunOne[%d] reported done too early", i)
		}
	}
	done, err := job.RunOne(ctx)
	if err != nil || !done {
		t.Fatalf("expected final RunOne to report done, got done=%v err=%v", done, err)
	}
	if finishedID != jobID {
		t.Fatalf("expected onFinished called with %s, got %s", jobID, finishedID)
	}

	recs, err := s.GetAllJobs(ctx)
	if err != nil || len(recs) != 1 || recs[0].Status != store.StatusFinished {
		t.Fatalf("expected one finished record, got %+v err=%v", recs, err)
	}
}

func TestOnDemandRepairJobTopologyChangeFailsS4(t *testing.T) {
	ctx := context.Background()
	host := mustUUID(t)
	s := store.NewMemoryStore(host)
	ref := testRef(t)
	oracle := &fixedOracle{hostID: host, hash: 1}
	repairHost := newScriptedHost()

	jobID := mustUUID(t)
	ranges := []token.TokenRange{{Start: 0, End: 10}, {Start: 10, End: 20}}

	var finishedID uuid.UUID
	job := newTestRepairJob(t, s, oracle, repairHost, jobID, ref, 1, ranges, func(id uuid.UUID) { finishedID = id })

	oracle.hash = 2 // topology changed after job creation.

	done, err := job.RunOne(ctx)
	if err != nil || !done {
		t.Fatalf("expected job to finish (failed) on ownership loss, got done=%v err=%v", done, err)
	}
	if finishedID != jobID {
		t.Fatal("expected onFinished to be called")
	}
	if repairHost.callCount(ranges[0]) != 0 {
		t.Fatal("expected no repair action dispatched after ownership loss")
	}

	recs, _ := s.GetAllJobs(ctx)
	if recs[0].Status != store.StatusFailed {
		t.Fatalf("expected failed status, got %s", recs[0].Status)
	}
}

func TestOnDemandRepairJobTransientFailureThenSuccessS6(t *testing.T) {
	ctx := context.Background()
	host := mustUUID(t)
	s := store.NewMemoryStore(host)
	ref := testRef(t)
	oracle := &fixedOracle{hostID: host, hash: 1}
	repairHost := newScriptedHost()

	r := token.TokenRange{Start: 0, End: 10}
	repairHost.script(r, RepairFailure, RepairSuccess)

	jobID := mustUUID(t)
	job := newTestRepairJob(t, s, oracle, repairHost, jobID, ref, 1, []token.TokenRange{r}, nil)
	job.backoff = zeroBackoff{}

	done, err := job.RunOne(ctx)
	if err != nil || done {
		t.Fatalf("expected first RunOne to leave job pending, got done=%v err=%v", done, err)
	}

	done, err = job.RunOne(ctx)
	if err != nil || !done {
		t.Fatalf("expected second RunOne to finish the job, got done=%v err=%v", done, err)
	}
	if repairHost.callCount(r) < 2 {
		t.Fatalf("expected at least 2 repair action invocations, got %d", repairHost.callCount(r))
	}

	recs, _ := s.GetAllJobs(ctx)
	if recs[0].Status != store.StatusFinished {
		t.Fatalf("expected finished, got %s", recs[0].Status)
	}
}

func TestOnDemandRepairJobLockContentionDefersWithoutError(t *testing.T) {
	ctx := context.Background()
	host := mustUUID(t)
	s := store.NewMemoryStore(host)
	ref := testRef(t)
	oracle := &fixedOracle{hostID: host, hash: 1}
	repairHost := newScriptedHost()

	r := token.TokenRange{Start: 0, End: 10}
	jobID := mustUUID(t)
	if err := s.AddNewJob(ctx, jobID, ref, 1, []token.TokenRange{r}, false); err != nil {
		t.Fatalf("AddNewJob: %v", err)
	}
	ongoing := NewOngoingJob(s, jobID, ref, 1, []token.TokenRange{r}, false)

	factory := lock.NewMemoryFactory()
	held, err := factory.TryLock(ctx, lock.NewKey(lock.Vnode, ref, r, "dc1"))
	if err != nil {
		t.Fatalf("pre-acquire lock: %v", err)
	}
	defer held.Release(ctx)

	job := NewOnDemandRepairJob(
		ongoing, oracle, factory, lock.Vnode, "dc1",
		repairHost, config.DefaultRepairConfiguration(), metrics.Nop{}, log.NopLogger, nil,
	)
	job.backoff = zeroBackoff{}

	done, err := job.RunOne(ctx)
	if err != nil {
		t.Fatalf("expected lock contention to not surface as an error, got %v", err)
	}
	if done {
		t.Fatal("expected job to remain pending under lock contention")
	}
	if repairHost.callCount(r) != 0 {
		t.Fatal("expected repair action not to run while lock is held elsewhere")
	}
}

// zeroBackoff never delays, keeping the transient-failure and
// lock-contention tests fast.
type zeroBackoff struct{}

func (zeroBackoff) NextBackOff() time.Duration { return 0 }
func (zeroBackoff) Reset()                     {}
