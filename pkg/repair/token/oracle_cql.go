package token

import (
	"context"
	"fmt"
	"strings"

	"github.com/gocql/gocql"
	"github.com/pkg/errors"
)

// locatorPrefix is the fully-qualified Java package every built-in
// replication strategy class name carries; stripping it recovers the short
// name EligibleStrategy understands. Grounded on the STRATEGY constants in
// ReplicatedTableProviderImpl (original_source).
const locatorPrefix = "org.apache.cassandra.locator."

// RingSource supplies the current token-range/replica-set mapping for a
// table. This is the "low-level token arithmetic and replica lookup" that
// spec.md §1 explicitly pushes out of scope: a production daemon plugs in
// whatever its driver/gossip layer already computes. SchemaOracle only
// consumes it.
type RingSource interface {
	Ring(ctx context.Context, ref TableReference) ([]VnodeState, error)
}

// SchemaOracle implements ReplicationOracle. Existence and eligibility are
// answered from live CQL schema metadata (in scope, see SPEC_FULL.md's
// supplemented features, grounded on ReplicatedTableProviderImpl); the ring
// itself is delegated to a RingSource (out of scope).
type SchemaOracle struct {
	session *gocql.Session
	hostID  NodeID
	localDC string
	ring    RingSource
}

// NewSchemaOracle builds a SchemaOracle for the given session. localDC is
// this host's datacenter, used to evaluate NetworkTopologyStrategy
// eligibility the same way ReplicatedTableProviderImpl does.
func NewSchemaOracle(session *gocql.Session, hostID NodeID, localDC string, ring RingSource) *SchemaOracle {
	return &SchemaOracle{session: session, hostID: hostID, localDC: localDC, ring: ring}
}

// HostID implements ReplicationOracle.
func (o *SchemaOracle) HostID() NodeID {
	return o.hostID
}

// TableExists implements ReplicationOracle.
func (o *SchemaOracle) TableExists(_ context.Context, ref TableReference) (bool, error) {
	km, err := o.session.KeyspaceMetadata(ref.Keyspace)
	if err != nil {
		return false, nil // unknown keyspace: not an error, just not found
	}
	_, ok := km.Tables[ref.Table]
	return ok, nil
}

// Eligible implements ReplicationOracle.
func (o *SchemaOracle) Eligible(ctx context.Context, ref TableReference) (bool, string, error) {
	exists, err := o.TableExists(ctx, ref)
	if err != nil {
		return false, "", err
	}
	if !exists {
		return false, "table does not exist", nil
	}

	km, err := o.session.KeyspaceMetadata(ref.Keyspace)
	if err != nil {
		return false, "", errors.Wrapf(err, "keyspace metadata for %s", ref.Keyspace)
	}

	strategy := ReplicationStrategy(strings.TrimPrefix(km.StrategyClass, locatorPrefix))
	options := make(map[string]string, len(km.StrategyOptions))
	for k, v := range km.StrategyOptions {
		options[k] = fmt.Sprintf("%v", v)
	}

	ok, reason := EligibleStrategy(ref.Keyspace, strategy, options, o.localDC)
	return ok, reason, nil
}

// LocalVnodes implements ReplicationOracle.
func (o *SchemaOracle) LocalVnodes(ctx context.Context, ref TableReference) ([]VnodeState, error) {
	all, err := o.ring.Ring(ctx, ref)
	if err != nil {
		return nil, errors.Wrap(err, "ring")
	}

	out := make([]VnodeState, 0, len(all))
	for _, v := range all {
		if vnodeHasReplica(v, o.hostID) {
			out = append(out, v)
		}
	}
	return out, nil
}

// TokenMapHash implements ReplicationOracle.
func (o *SchemaOracle) TokenMapHash(ctx context.Context, ref TableReference) (uint64, error) {
	all, err := o.ring.Ring(ctx, ref)
	if err != nil {
		return 0, errors.Wrap(err, "ring")
	}
	return MapHash(all), nil
}

func vnodeHasReplica(v VnodeState, host NodeID) bool {
	for _, r := range v.Replicas {
		if r == host {
			return true
		}
	}
	return false
}
