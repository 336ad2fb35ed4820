package ondemand

import (
	"context"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/scylladb/repairsched/internal/uuid"
	"github.com/scylladb/repairsched/pkg/repair/store"
	"github.com/scylladb/repairsched/pkg/repair/token"
)

// VnodeView is one token range's reporting snapshot, matching the
// "virtualNodes" element of the JSON shape in spec.md §6.
type VnodeView struct {
	StartToken       int64
	EndToken         int64
	Replicas         []uuid.UUID
	LastRepairedAtMs int64
	Repaired         bool
}

// JobView is an immutable snapshot of one on-demand repair job, safe to
// hand to an external caller: mutation of the underlying job or store
// after a view is built never changes it (spec.md §3 "Job view").
type JobView struct {
	ID              uuid.UUID
	HostID          uuid.UUID
	Keyspace        string
	Table           string
	Status          store.Status
	CompletedRatio  float64
	StartTimeMs     int64
	CompletedTimeMs int64
	VirtualNodes    []VnodeView
}

// NewJobView builds a view from a durable record plus the vnode states the
// oracle reports for rec.Table now. It is a pure function of its inputs
// (spec.md §4.6): it holds no reference to rec or to any mutable job.
// Per spec.md §3, a vnode's Repaired flag is lastRepairedAtMs > threshold,
// not membership in this job's own RepairedRanges; the job's StartTimeMs is
// the threshold, so a vnode only reports repaired once it has actually been
// repaired since this job began, mirroring the original's
// VirtualNodeState.convert(vnodeRepairState, repairedAfter).
func NewJobView(rec store.Record, vnodes []token.VnodeState) JobView {
	threshold := rec.StartTimeMs

	vv := make([]VnodeView, 0, len(vnodes))
	for _, v := range vnodes {
		replicas := make([]uuid.UUID, len(v.Replicas))
		copy(replicas, v.Replicas)
		vv = append(vv, VnodeView{
			StartToken:       v.Range.Start,
			EndToken:         v.Range.End,
			Replicas:         replicas,
			LastRepairedAtMs: v.LastRepairedAtMs,
			Repaired:         v.Repaired(threshold),
		})
	}

	return JobView{
		ID:              rec.JobID,
		HostID:          rec.HostID,
		Keyspace:        rec.Table.Keyspace,
		Table:           rec.Table.Table,
		Status:          rec.Status,
		CompletedRatio:  rec.CompletedRatio(),
		StartTimeMs:     rec.StartTimeMs,
		CompletedTimeMs: rec.CompletedTimeMs,
		VirtualNodes:    vv,
	}
}

// ViewBuilder assembles JobViews from durable records, pulling each
// record's vnode states from the oracle. Kept separate from NewJobView so
// callers that already have vnode states in hand (e.g. right after
// scheduleJob) can skip the extra oracle round trip.
type ViewBuilder struct {
	oracle token.ReplicationOracle
}

// NewViewBuilder returns a ViewBuilder backed by oracle.
func NewViewBuilder(oracle token.ReplicationOracle) *ViewBuilder {
	return &ViewBuilder{oracle: oracle}
}

// Build resolves rec's current vnode states through the oracle and returns
// the resulting view. An error from LocalVnodes is returned wrapped and no
// view is built; a table that no longer exists locally therefore fails the
// whole view.
func (b *ViewBuilder) Build(ctx context.Context, rec store.Record) (JobView, error) {
	vnodes, err := b.oracle.LocalVnodes(ctx, rec.Table)
	if err != nil {
		return JobView{}, errors.Wrapf(err, "local vnodes for %s", rec.Table)
	}
	return NewJobView(rec, vnodes), nil
}

// BuildAll builds one view per record, in the order given. Each record's
// oracle round trip runs concurrently, grounded on
// pkg/service/healthcheck/service.go's errgroup.Group fan-out over
// per-node work; the reporting path is read-only so there is nothing to
// serialize between records.
func (b *ViewBuilder) BuildAll(ctx context.Context, recs []store.Record) ([]JobView, error) {
	out := make([]JobView, len(recs))

	g := new(errgroup.Group)
	for i, rec := range recs {
		i, rec := i, rec
		g.Go(func() error {
			v, err := b.Build(ctx, rec)
			if err != nil {
				return err
			}
			out[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
