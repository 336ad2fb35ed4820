// Package lock models the distributed lock factory the on-demand repair job
// uses to guarantee at most one repair runs anywhere in the cluster for a
// given (table, range) at any instant (spec.md §5, §6).
package lock

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/scylladb/repairsched/pkg/repair/token"
)

// Type selects how fine-grained lock keys are: one lock per range, or one
// lock per datacenter per table (spec.md §6).
type Type string

// Supported lock types.
const (
	Vnode      Type = "vnode"
	Datacenter Type = "datacenter"
)

// ErrContended is returned by Factory.TryLock when the requested key is
// already held elsewhere. It is expected, not exceptional: the caller defers
// the task and lets the schedule manager retry later (spec.md §7
// LockContended).
var ErrContended = errors.New("lock contended")

// Key identifies a lockable resource: (keyspace, table, range) for Vnode
// locks, or (keyspace, table, datacenter) for Datacenter locks.
type Key struct {
	Keyspace     string
	Table        string
	Range        token.TokenRange
	Datacenter   string
}

// NewKey builds the lock Key for a range task under the given policy.
func NewKey(typ Type, ref token.TableReference, r token.TokenRange, dc string) Key {
	k := Key{Keyspace: ref.Keyspace, Table: ref.Table}
	switch typ {
	case Datacenter:
		k.Datacenter = dc
	default:
		k.Range = r
	}
	return k
}

func (k Key) String() string {
	if k.Datacenter != "" {
		return fmt.Sprintf("%s.%s/dc=%s", k.Keyspace, k.Table, k.Datacenter)
	}
	return fmt.Sprintf("%s.%s/%s", k.Keyspace, k.Table, k.Range)
}

// Lock is a held distributed lock. Release must be safe to call more than
// once and from a different context than the one that acquired it.
type Lock interface {
	Release(ctx context.Context) error
}

// Factory acquires and tracks distributed locks. Implementations must
// linearize concurrent TryLock calls for the same Key across the whole
// cluster, not just within one process.
type Factory interface {
	// TryLock attempts to acquire key without blocking. It returns
	// ErrContended, never blocks waiting for contention to clear.
	TryLock(ctx context.Context, key Key) (Lock, error)
}
