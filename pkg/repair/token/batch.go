package token

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/scylladb/repairsched/internal/uuid"
)

// BatchTokenMapHash computes TokenMapHash for every ref concurrently,
// grounded on pkg/service/repair/service.go's errgroup-based worker
// fan-out: staleness-checking many ongoing jobs' tables at once should not
// pay oracle.TokenMapHash's round trip serially, one table at a time.
func BatchTokenMapHash(ctx context.Context, oracle ReplicationOracle, refs []TableReference) (map[uuid.UUID]uint64, error) {
	out := make(map[uuid.UUID]uint64, len(refs))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	for _, ref := range refs {
		ref := ref
		g.Go(func() error {
			hash, err := oracle.TokenMapHash(ctx, ref)
			if err != nil {
				return err
			}
			mu.Lock()
			out[ref.ID] = hash
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
