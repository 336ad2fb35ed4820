package store

import (
	"context"
	"testing"

	"github.com/scylladb/repairsched/internal/uuid"
	"github.com/scylladb/repairsched/pkg/repair/token"
)

// fakeOracle reports a fixed hash per table, letting tests simulate
// topology changes by mutating hashes between calls.
type fakeOracle struct {
	hostID uuid.UUID
	hashes map[uuid.UUID]uint64
}

func newFakeOracle(hostID uuid.UUID) *fakeOracle {
	return &fakeOracle{hostID: hostID, hashes: make(map[uuid.UUID]uint64)}
}

func (o *fakeOracle) HostID() token.NodeID { return o.hostID }

func (o *fakeOracle) TableExists(context.Context, token.TableReference) (bool, error) {
	return true, nil
}

func (o *fakeOracle) Eligible(context.Context, token.TableReference) (bool, string, error) {
	return true, "", nil
}

func (o *fakeOracle) LocalVnodes(context.Context, token.TableReference) ([]token.VnodeState, error) {
	return nil, nil
}

func (o *fakeOracle) TokenMapHash(_ context.Context, ref token.TableReference) (uint64, error) {
	return o.hashes[ref.ID], nil
}

func mustUUID(t *testing.T) uuid.UUID {
	t.Helper()
	u, err := uuid.NewRandom()
	if err != nil {
		t.Fatalf("uuid.NewRandom: %v", err)
	}
	return u
}

func testRef(t *testing.T) token.TableReference {
	return token.TableReference{Keyspace: "ks", Table: "t", ID: mustUUID(t)}
}

func TestMemoryStoreHappyPathS1(t *testing.T) {
	ctx := context.Background()
	host := mustUUID(t)
	s := NewMemoryStore(host)
	oracle := newFakeOracle(host)

	ref := testRef(t)
	oracle.hashes[ref.ID] = 1

	jobID := mustUUID(t)
	ranges := []token.TokenRange{{Start: 0, End: 10}, {Start: 10, End: 20}, {Start: 20, End: 30}}

	if err := s.AddNewJob(ctx, jobID, ref, 1, ranges, false); err != nil {
		t.Fatalf("AddNewJob: %v", err)
	}

	jobs, err := s.GetAllJobs(ctx)
	if err != nil || len(jobs) != 1 || jobs[0].Status != StatusStarted || len(jobs[0].RepairedRanges) != 0 {
		t.Fatalf("expected one started job with no repaired ranges, got %+v err=%v", jobs, err)
	}

	for _, r := range ranges {
		if err := s.FinishRange(ctx, jobID, r); err != nil {
			t.Fatalf("FinishRange(%s): %v", r, err)
		}
	}

	if err := s.Finish(ctx, jobID); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	jobs, err = s.GetAllJobs(ctx)
	if err != nil {
		t.Fatalf("GetAllJobs: %v", err)
	}
	rec := jobs[0]
	if rec.Status != StatusFinished {
		t.Fatalf("expected finished, got %s", rec.Status)
	}
	if rec.CompletedTimeMs == 0 {
		t.Fatal("expected CompletedTimeMs to be set")
	}
	if len(rec.RemainingRanges()) != 0 {
		t.Fatalf("expected no remaining ranges, got %v", rec.RemainingRanges())
	}
}

func TestMemoryStoreFinishRequiresAllRangesRepaired(t *testing.T) {
	ctx := context.Background()
	host := mustUUID(t)
	s := NewMemoryStore(host)

	ref := testRef(t)
	jobID := mustUUID(t)
	ranges := []token.TokenRange{{Start: 0, End: 10}, {Start: 10, End: 20}}

	if err := s.AddNewJob(ctx, jobID, ref, 1, ranges, false); err != nil {
		t.Fatalf("AddNewJob: %v", err)
	}
	if err := s.FinishRange(ctx, jobID, ranges[0]); err != nil {
		t.Fatalf("FinishRange: %v", err)
	}

	if err := s.Finish(ctx, jobID); err != ErrNotFinishable {
		t.Fatalf("expected ErrNotFinishable, got %v", err)
	}
}

func TestMemoryStoreFinishRangeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	host := mustUUID(t)
	s := NewMemoryStore(host)

	ref := testRef(t)
	jobID := mustUUID(t)
	r := token.TokenRange{Start: 0, End: 10}

	if err := s.AddNewJob(ctx, jobID, ref, 1, []token.TokenRange{r}, false); err != nil {
		t.Fatalf("AddNewJob: %v", err)
	}
	if err := s.FinishRange(ctx, jobID, r); err != nil {
		t.Fatalf("first FinishRange: %v", err)
	}
	if err := s.FinishRange(ctx, jobID, r); err != nil {
		t.Fatalf("second FinishRange: %v", err)
	}

	jobs, _ := s.GetAllJobs(ctx)
	if len(jobs[0].RepairedRanges) != 1 {
		t.Fatalf("expected exactly one repaired range, got %v", jobs[0].RepairedRanges)
	}
}

func TestMemoryStoreTerminalStateIsFrozen(t *testing.T) {
	ctx := context.Background()
	host := mustUUID(t)
	s := NewMemoryStore(host)

	ref := testRef(t)
	jobID := mustUUID(t)
	r := token.TokenRange{Start: 0, End: 10}

	if err := s.AddNewJob(ctx, jobID, ref, 1, []token.TokenRange{r}, false); err != nil {
		t.Fatalf("AddNewJob: %v", err)
	}
	if err := s.Fail(ctx, jobID); err != nil {
		t.Fatalf("Fail: %v", err)
	}

	before, _ := s.GetAllJobs(ctx)
	completedAt := before[0].CompletedTimeMs

	if err := s.FinishRange(ctx, jobID, r); err != nil {
		t.Fatalf("FinishRange after terminal: %v", err)
	}
	if err := s.Fail(ctx, jobID); err != nil {
		t.Fatalf("second Fail: %v", err)
	}

	after, _ := s.GetAllJobs(ctx)
	if after[0].Status != StatusFailed {
		t.Fatalf("expected status to remain failed, got %s", after[0].Status)
	}
	if len(after[0].RepairedRanges) != 0 {
		t.Fatalf("expected repaired ranges to stay frozen, got %v", after[0].RepairedRanges)
	}
	if after[0].CompletedTimeMs != completedAt {
		t.Fatalf("expected completed time to stay frozen, got %d want %d", after[0].CompletedTimeMs, completedAt)
	}
}

func TestMemoryStoreAddNewJobRejectsDuplicate(t *testing.T) {
	ctx := context.Background()
	host := mustUUID(t)
	s := NewMemoryStore(host)

	ref := testRef(t)
	jobID := mustUUID(t)

	if err := s.AddNewJob(ctx, jobID, ref, 1, nil, false); err != nil {
		t.Fatalf("AddNewJob: %v", err)
	}
	if err := s.AddNewJob(ctx, jobID, ref, 1, nil, false); err != ErrJobExists {
		t.Fatalf("expected ErrJobExists, got %v", err)
	}
}

func TestMemoryStoreGetOngoingJobsFlagsStaleOnTopologyChange(t *testing.T) {
	ctx := context.Background()
	host := mustUUID(t)
	s := NewMemoryStore(host)
	oracle := newFakeOracle(host)

	ref := testRef(t)
	oracle.hashes[ref.ID] = 1

	jobID := mustUUID(t)
	if err := s.AddNewJob(ctx, jobID, ref, 1, []token.TokenRange{{Start: 0, End: 10}}, false); err != nil {
		t.Fatalf("AddNewJob: %v", err)
	}

	ongoing, err := s.GetOngoingJobs(ctx, oracle)
	if err != nil || len(ongoing) != 1 || ongoing[0].Stale {
		t.Fatalf("expected one non-stale job, got %+v err=%v", ongoing, err)
	}

	oracle.hashes[ref.ID] = 2
	ongoing, err = s.GetOngoingJobs(ctx, oracle)
	if err != nil || len(ongoing) != 1 || !ongoing[0].Stale {
		t.Fatalf("expected one stale job after hash change, got %+v err=%v", ongoing, err)
	}
}

func TestMemoryStoreClusterWideVisibilityS5(t *testing.T) {
	ctx := context.Background()
	hostA := mustUUID(t)
	hostB := mustUUID(t)
	ref := testRef(t)

	// Both daemons share one backing table, mirroring how CassandraStore
	// instances share one gocqlx.Session/table against the real cluster.
	backing := NewMemoryBacking()
	storeA := NewMemoryStoreOnBacking(hostA, backing)
	storeB := NewMemoryStoreOnBacking(hostB, backing)

	jobID := mustUUID(t)
	if err := storeA.AddNewJob(ctx, jobID, ref, 1, []token.TokenRange{{Start: 0, End: 10}}, true); err != nil {
		t.Fatalf("AddNewJob on A: %v", err)
	}

	// Daemon B observes the cluster-wide job A wrote, through its own
	// handle onto the shared backing.
	clusterWide, err := storeB.GetAllClusterWideJobs(ctx)
	if err != nil || len(clusterWide) != 1 || clusterWide[0].JobID != jobID {
		t.Fatalf("expected daemon B to see A's cluster-wide job, got %+v err=%v", clusterWide, err)
	}

	// But B does not own it: GetAllJobs is scoped to rows HostID == B.
	active, err := storeB.GetAllJobs(ctx)
	if err != nil || len(active) != 0 {
		t.Fatalf("expected daemon B to own no jobs despite sharing the backing, got %+v err=%v", active, err)
	}

	// A does own it via its own GetAllJobs.
	activeA, err := storeA.GetAllJobs(ctx)
	if err != nil || len(activeA) != 1 || activeA[0].JobID != jobID {
		t.Fatalf("expected daemon A to own the job it created, got %+v err=%v", activeA, err)
	}
}

func TestRecordCompletedRatio(t *testing.T) {
	r := Record{
		AllRanges:      []token.TokenRange{{Start: 0, End: 10}, {Start: 10, End: 20}},
		RepairedRanges: []token.TokenRange{{Start: 0, End: 10}},
	}
	if got := r.CompletedRatio(); got != 0.5 {
		t.Fatalf("expected 0.5, got %v", got)
	}
}

func TestEncodeDecodeRangeRoundTrips(t *testing.T) {
	r := token.TokenRange{Start: -5, End: 42}
	decoded, err := decodeRange(encodeRange(r))
	if err != nil {
		t.Fatalf("decodeRange: %v", err)
	}
	if !decoded.Equal(r) {
		t.Fatalf("round trip mismatch: got %s want %s", decoded, r)
	}
}
