package store

import (
	"context"

	"github.com/gocql/gocql"
	"github.com/pkg/errors"
	"github.com/scylladb/gocqlx/v2"
	"github.com/scylladb/gocqlx/v2/qb"
	"github.com/scylladb/repairsched/internal/timeutc"
	"github.com/scylladb/repairsched/internal/uuid"
	"github.com/scylladb/repairsched/pkg/repair/token"
)

// recordTTLSeconds is how long a terminal record survives before the
// database expires it (spec.md §3, §6: "Record TTL ≈ 30 days").
const recordTTLSeconds = 30 * 24 * 60 * 60

const insertJobCQL = `INSERT INTO on_demand_repair_status ` +
	`(host_id, job_id, keyspace_name, table_name, table_id, token_map_hash, all_ranges, repaired_ranges, status, is_cluster_wide, start_time, completed_time) ` +
	`VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) IF NOT EXISTS USING TTL ?`

const finishRangeCQL = `UPDATE on_demand_repair_status USING TTL ? SET repaired_ranges = repaired_ranges + ? WHERE host_id = ? AND job_id = ? IF status = ?`

const setTerminalCQL = `UPDATE on_demand_repair_status USING TTL ? SET status = ?, completed_time = ? WHERE host_id = ? AND job_id = ? IF status = ?`

// CassandraStore is the production Store, backed by a single table keyed by
// (host_id, job_id) with CAS-protected status transitions (spec.md §6).
// Grounded on pkg/service/repair/service.go's GetRun/GetLastResumableRun
// pair for the read paths (table.X.Get()/.Select() stmt generators bound
// through gocqlx.Query, mirroring putRun's table.X.InsertQuery), and on
// pkg/repair/lock.CassandraFactory's raw-CQL-with-IF idiom for the
// CAS-protected writes gocqlx's table/qb builders don't cover.
type CassandraStore struct {
	session gocqlx.Session
	hostID  uuid.UUID
}

// NewCassandraStore returns a CassandraStore scoped to hostID.
func NewCassandraStore(session gocqlx.Session, hostID uuid.UUID) *CassandraStore {
	return &CassandraStore{session: session, hostID: hostID}
}

// HostID implements Store.
func (s *CassandraStore) HostID() token.NodeID { return s.hostID }

// AddNewJob implements Store.
func (s *CassandraStore) AddNewJob(ctx context.Context, jobID uuid.UUID, ref token.TableReference, tokenMapHash uint64, ranges []token.TokenRange, isClusterWide bool) error {
	row := Record{
		JobID:         jobID,
		HostID:        s.hostID,
		Table:         ref,
		TokenMapHash:  tokenMapHash,
		AllRanges:     ranges,
		Status:        StatusStarted,
		IsClusterWide: isClusterWide,
		StartTimeMs:   timeutc.NowMs(),
	}.toRow()

	q := s.session.Session.Query(insertJobCQL,
		row.HostID, row.JobID, row.KeyspaceName, row.TableName, row.TableID,
		row.TokenMapHash, row.AllRanges, row.RepairedRanges, row.Status,
		row.IsClusterWide, row.StartTime, row.CompletedTime,
		recordTTLSeconds,
	).WithContext(ctx)
	defer q.Release()

	applied, err := q.ScanCAS()
	if err != nil {
		return errors.Wrapf(err, "add job %s", jobID)
	}
	if !applied {
		return ErrJobExists
	}
	return nil
}

// FinishRange implements Store.
func (s *CassandraStore) FinishRange(ctx context.Context, jobID uuid.UUID, r token.TokenRange) error {
	q := s.session.Session.Query(finishRangeCQL,
		recordTTLSeconds, []string{encodeRange(r)}, s.hostID, jobID, string(StatusStarted),
	).WithContext(ctx)
	defer q.Release()

	applied, err := q.ScanCAS()
	if err != nil {
		return errors.Wrapf(err, "finish range %s for job %s", r, jobID)
	}
	if !applied {
		// Either the row is missing (ErrNotFound), or the job already
		// reached a terminal state, which makes finishRange a legal no-op
		// (it is documented idempotent, spec.md §4.2).
		if _, err := s.getOne(ctx, jobID); err != nil {
			return err
		}
		return nil
	}
	return nil
}

// Finish implements Store.
func (s *CassandraStore) Finish(ctx context.Context, jobID uuid.UUID) error {
	rec, err := s.getOne(ctx, jobID)
	if err != nil {
		return err
	}
	if rec.Status.Terminal() {
		return nil
	}
	if len(rec.RemainingRanges()) != 0 {
		return ErrNotFinishable
	}
	return s.setTerminal(ctx, jobID, StatusFinished)
}

// Fail implements Store.
func (s *CassandraStore) Fail(ctx context.Context, jobID uuid.UUID) error {
	rec, err := s.getOne(ctx, jobID)
	if err != nil {
		return err
	}
	if rec.Status.Terminal() {
		return nil
	}
	return s.setTerminal(ctx, jobID, StatusFailed)
}

func (s *CassandraStore) setTerminal(ctx context.Context, jobID uuid.UUID, status Status) error {
	q := s.session.Session.Query(setTerminalCQL,
		recordTTLSeconds, string(status), timeutc.NowMs(), s.hostID, jobID, string(StatusStarted),
	).WithContext(ctx)
	defer q.Release()

	if _, err := q.ScanCAS(); err != nil {
		return errors.Wrapf(err, "set job %s terminal status %s", jobID, status)
	}
	return nil
}

func (s *CassandraStore) getOne(ctx context.Context, jobID uuid.UUID) (Record, error) {
	stmt, names := statusTable.Get()
	q := gocqlx.Query(s.session.Session.Query(stmt).WithContext(ctx), names).BindMap(qb.M{
		"host_id": s.hostID,
		"job_id":  jobID,
	})

	var row statusRow
	err := q.GetRelease(&row)
	if err != nil {
		if err == gocql.ErrNotFound {
			return Record{}, ErrNotFound
		}
		return Record{}, errors.Wrapf(err, "get job %s", jobID)
	}
	return row.toRecord()
}

// GetOngoingJobs implements Store.
func (s *CassandraStore) GetOngoingJobs(ctx context.Context, oracle token.ReplicationOracle) ([]Record, error) {
	rows, err := s.selectByHostID(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "select ongoing jobs")
	}

	recs := make([]Record, 0, len(rows))
	for _, row := range rows {
		if row.Status != string(StatusStarted) {
			continue
		}
		rec, err := row.toRecord()
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}

	refs := make([]token.TableReference, len(recs))
	for i, rec := range recs {
		refs[i] = rec.Table
	}
	hashes, err := token.BatchTokenMapHash(ctx, oracle, refs)
	if err != nil {
		return nil, errors.Wrap(err, "batch token map hash")
	}

	out := make([]Record, 0, len(recs))
	for _, rec := range recs {
		rec.Stale = hashes[rec.Table.ID] != rec.TokenMapHash
		out = append(out, rec)
	}
	return out, nil
}

// GetAllJobs implements Store.
func (s *CassandraStore) GetAllJobs(ctx context.Context) ([]Record, error) {
	rows, err := s.selectByHostID(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "select all jobs")
	}

	out := make([]Record, 0, len(rows))
	for _, row := range rows {
		rec, err := row.toRecord()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// selectByHostID runs the statusTable's own Select statement scoped to this
// store's host, routed through the raw session so the context deadline is
// honored the same way every other query in this file honors it.
func (s *CassandraStore) selectByHostID(ctx context.Context) ([]statusRow, error) {
	stmt, names := statusTable.Select()
	q := gocqlx.Query(s.session.Session.Query(stmt).WithContext(ctx), names).BindMap(qb.M{
		"host_id": s.hostID,
	})

	var rows []statusRow
	if err := q.SelectRelease(&rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// GetAllClusterWideJobs implements Store.
func (s *CassandraStore) GetAllClusterWideJobs(ctx context.Context) ([]Record, error) {
	stmt, names := qb.Select(statusTable.Name()).Where(qb.Eq("is_cluster_wide")).AllowFiltering().ToCql()
	q := gocqlx.Query(s.session.Session.Query(stmt).WithContext(ctx), names).BindMap(qb.M{
		"is_cluster_wide": true,
	})

	var rows []statusRow
	if err := q.SelectRelease(&rows); err != nil {
		return nil, errors.Wrap(err, "select cluster-wide jobs")
	}

	out := make([]Record, 0, len(rows))
	for _, row := range rows {
		rec, err := row.toRecord()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}
