package store

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/scylladb/gocqlx/v2/table"
	"github.com/scylladb/repairsched/internal/uuid"
	"github.com/scylladb/repairsched/pkg/repair/token"
)

// statusTable is the single (hostId, jobId)-keyed table backing
// CassandraStore, following pkg/schema/table/table.go's table.New idiom.
// It is used for read paths (Select/Get); CAS-protected writes go through
// raw CQL because gocqlx's table/qb builders have no LWT support (see
// cassandra.go).
var statusTable = table.New(table.Metadata{
	Name: "on_demand_repair_status",
	Columns: []string{
		"host_id",
		"job_id",
		"keyspace_name",
		"table_name",
		"table_id",
		"token_map_hash",
		"all_ranges",
		"repaired_ranges",
		"status",
		"is_cluster_wide",
		"start_time",
		"completed_time",
	},
	PartKey: []string{"host_id"},
	SortKey: []string{"job_id"},
})

// statusRow is the CQL-facing row shape statusTable binds against. Ranges
// are carried as sets of "start:end" strings (dumpRanges' encoding,
// pkg/service/repair2/range.go) rather than a UDT, since a plain set<text>
// needs no schema migration to add a new field.
type statusRow struct {
	HostID         uuid.UUID `db:"host_id"`
	JobID          uuid.UUID `db:"job_id"`
	KeyspaceName   string    `db:"keyspace_name"`
	TableName      string    `db:"table_name"`
	TableID        uuid.UUID `db:"table_id"`
	TokenMapHash   int64     `db:"token_map_hash"`
	AllRanges      []string  `db:"all_ranges"`
	RepairedRanges []string  `db:"repaired_ranges"`
	Status         string    `db:"status"`
	IsClusterWide  bool      `db:"is_cluster_wide"`
	StartTime      int64     `db:"start_time"`
	CompletedTime  int64     `db:"completed_time"`
}

// encodeRange renders a token range the way dumpRanges does: "start:end".
func encodeRange(r token.TokenRange) string {
	return fmt.Sprintf("%d:%d", r.Start, r.End)
}

func encodeRanges(rs []token.TokenRange) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = encodeRange(r)
	}
	return out
}

func decodeRange(s string) (token.TokenRange, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return token.TokenRange{}, errors.Errorf("malformed range %q", s)
	}
	start, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return token.TokenRange{}, errors.Wrapf(err, "malformed range %q", s)
	}
	end, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return token.TokenRange{}, errors.Wrapf(err, "malformed range %q", s)
	}
	return token.TokenRange{Start: start, End: end}, nil
}

func decodeRanges(ss []string) ([]token.TokenRange, error) {
	out := make([]token.TokenRange, len(ss))
	for i, s := range ss {
		r, err := decodeRange(s)
		if err != nil {
			return nil, err
		}
		out[i] = r
	}
	return out, nil
}

func (row statusRow) toRecord() (Record, error) {
	all, err := decodeRanges(row.AllRanges)
	if err != nil {
		return Record{}, errors.Wrap(err, "all_ranges")
	}
	repaired, err := decodeRanges(row.RepairedRanges)
	if err != nil {
		return Record{}, errors.Wrap(err, "repaired_ranges")
	}

	return Record{
		JobID:  row.JobID,
		HostID: row.HostID,
		Table: token.TableReference{
			Keyspace: row.KeyspaceName,
			Table:    row.TableName,
			ID:       row.TableID,
		},
		TokenMapHash:    uint64(row.TokenMapHash),
		AllRanges:       all,
		RepairedRanges:  repaired,
		Status:          Status(row.Status),
		IsClusterWide:   row.IsClusterWide,
		StartTimeMs:     row.StartTime,
		CompletedTimeMs: row.CompletedTime,
	}, nil
}

func (r Record) toRow() statusRow {
	return statusRow{
		HostID:         r.HostID,
		JobID:          r.JobID,
		KeyspaceName:   r.Table.Keyspace,
		TableName:      r.Table.Table,
		TableID:        r.Table.ID,
		TokenMapHash:   int64(r.TokenMapHash),
		AllRanges:      encodeRanges(r.AllRanges),
		RepairedRanges: encodeRanges(r.RepairedRanges),
		Status:         string(r.Status),
		IsClusterWide:  r.IsClusterWide,
		StartTime:      r.StartTimeMs,
		CompletedTime:  r.CompletedTimeMs,
	}
}
