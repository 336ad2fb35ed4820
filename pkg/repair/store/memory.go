package store

import (
	"context"
	"sync"

	"github.com/scylladb/repairsched/internal/timeutc"
	"github.com/scylladb/repairsched/internal/uuid"
	"github.com/scylladb/repairsched/pkg/repair/token"
)

// MemoryBacking is the map a MemoryStore reads and writes. Two MemoryStore
// handles constructed on the same MemoryBacking observe each other's writes
// immediately, mirroring how multiple CassandraStore instances share one
// gocqlx.Session/underlying table; two handles on separate MemoryBackings
// are as isolated as two daemons against entirely different clusters.
//
// Records are keyed by job id alone, not by (host id, job id): AddNewJob
// returns ErrJobExists for a job id already present under any host, and
// FinishRange, Finish and Fail address a job id whichever host owns it.
type MemoryBacking struct {
	mu      sync.Mutex
	records map[uuid.UUID]Record
}

// NewMemoryBacking returns an empty, unshared backing map.
func NewMemoryBacking() *MemoryBacking {
	return &MemoryBacking{records: make(map[uuid.UUID]Record)}
}

// MemoryStore is an in-process Store used by unit tests and single-node
// development runs. Grounded on the teacher's small-fake-alongside-
// production-implementation testing idiom (e.g. scyllaclient's in-memory
// doubles).
type MemoryStore struct {
	hostID  uuid.UUID
	backing *MemoryBacking
}

// NewMemoryStore returns a MemoryStore owned by hostID with its own private
// backing, as isolated as a lone daemon against its own cluster.
func NewMemoryStore(hostID uuid.UUID) *MemoryStore {
	return NewMemoryStoreOnBacking(hostID, NewMemoryBacking())
}

// NewMemoryStoreOnBacking returns a MemoryStore owned by hostID that reads
// and writes backing. Pass the same MemoryBacking to multiple hostIDs to
// simulate several daemons observing one cluster-wide store (spec.md §8
// scenario S5: cluster-wide jobs visible across hosts, local jobs not).
func NewMemoryStoreOnBacking(hostID uuid.UUID, backing *MemoryBacking) *MemoryStore {
	return &MemoryStore{hostID: hostID, backing: backing}
}

// HostID implements Store.
func (s *MemoryStore) HostID() token.NodeID { return s.hostID }

// AddNewJob implements Store.
func (s *MemoryStore) AddNewJob(_ context.Context, jobID uuid.UUID, ref token.TableReference, tokenMapHash uint64, ranges []token.TokenRange, isClusterWide bool) error {
	s.backing.mu.Lock()
	defer s.backing.mu.Unlock()

	if _, ok := s.backing.records[jobID]; ok {
		return ErrJobExists
	}

	all := make([]token.TokenRange, len(ranges))
	copy(all, ranges)

	s.backing.records[jobID] = Record{
		JobID:         jobID,
		HostID:        s.hostID,
		Table:         ref,
		TokenMapHash:  tokenMapHash,
		AllRanges:     all,
		Status:        StatusStarted,
		IsClusterWide: isClusterWide,
		StartTimeMs:   timeutc.NowMs(),
	}
	return nil
}

// FinishRange implements Store.
func (s *MemoryStore) FinishRange(_ context.Context, jobID uuid.UUID, r token.TokenRange) error {
	s.backing.mu.Lock()
	defer s.backing.mu.Unlock()

	rec, ok := s.backing.records[jobID]
	if !ok {
		return ErrNotFound
	}
	if rec.Status.Terminal() {
		return nil
	}

	repaired := token.NewRangeSet(rec.RepairedRanges...)
	if repaired.Has(r) {
		return nil
	}
	repaired.Add(r)
	rec.RepairedRanges = repaired.Slice()
	s.backing.records[jobID] = rec
	return nil
}

// Finish implements Store.
func (s *MemoryStore) Finish(_ context.Context, jobID uuid.UUID) error {
	s.backing.mu.Lock()
	defer s.backing.mu.Unlock()

	rec, ok := s.backing.records[jobID]
	if !ok {
		return ErrNotFound
	}
	if rec.Status.Terminal() {
		return nil
	}
	if len(rec.RemainingRanges()) != 0 {
		return ErrNotFinishable
	}

	rec.Status = StatusFinished
	rec.CompletedTimeMs = timeutc.NowMs()
	s.backing.records[jobID] = rec
	return nil
}

// Fail implements Store.
func (s *MemoryStore) Fail(_ context.Context, jobID uuid.UUID) error {
	s.backing.mu.Lock()
	defer s.backing.mu.Unlock()

	rec, ok := s.backing.records[jobID]
	if !ok {
		return ErrNotFound
	}
	if rec.Status.Terminal() {
		return nil
	}

	rec.Status = StatusFailed
	rec.CompletedTimeMs = timeutc.NowMs()
	s.backing.records[jobID] = rec
	return nil
}

// GetOngoingJobs implements Store.
func (s *MemoryStore) GetOngoingJobs(ctx context.Context, oracle token.ReplicationOracle) ([]Record, error) {
	s.backing.mu.Lock()
	snapshot := make([]Record, 0, len(s.backing.records))
	for _, rec := range s.backing.records {
		if rec.HostID == s.hostID && rec.Status == StatusStarted {
			snapshot = append(snapshot, rec)
		}
	}
	s.backing.mu.Unlock()

	refs := make([]token.TableReference, len(snapshot))
	for i, rec := range snapshot {
		refs[i] = rec.Table
	}
	hashes, err := token.BatchTokenMapHash(ctx, oracle, refs)
	if err != nil {
		return nil, err
	}

	out := make([]Record, 0, len(snapshot))
	for _, rec := range snapshot {
		rec.Stale = hashes[rec.Table.ID] != rec.TokenMapHash
		out = append(out, rec)
	}
	return out, nil
}

// GetAllJobs implements Store.
func (s *MemoryStore) GetAllJobs(context.Context) ([]Record, error) {
	s.backing.mu.Lock()
	defer s.backing.mu.Unlock()

	out := make([]Record, 0, len(s.backing.records))
	for _, rec := range s.backing.records {
		if rec.HostID == s.hostID {
			out = append(out, rec)
		}
	}
	return out, nil
}

// GetAllClusterWideJobs implements Store.
func (s *MemoryStore) GetAllClusterWideJobs(context.Context) ([]Record, error) {
	s.backing.mu.Lock()
	defer s.backing.mu.Unlock()

	out := make([]Record, 0)
	for _, rec := range s.backing.records {
		if rec.IsClusterWide {
			out = append(out, rec)
		}
	}
	return out, nil
}
