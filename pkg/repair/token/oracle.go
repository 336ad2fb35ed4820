package token

import (
	"context"
	"strconv"
)

// ReplicationOracle is the read-only view of cluster topology the scheduler
// consumes. It may be recomputed on demand; callers must not assume a
// returned snapshot is stable across calls to any of its methods. The core
// never does token arithmetic or replica placement itself — both are pushed
// behind this boundary.
type ReplicationOracle interface {
	// HostID is this daemon's own node identity.
	HostID() NodeID

	// TableExists reports whether ref names a table present in the live
	// schema, regardless of replication eligibility.
	TableExists(ctx context.Context, ref TableReference) (bool, error)

	// Eligible reports whether ref is eligible for on-demand repair: it must
	// exist, not be an internal system table (other than system_auth), and
	// be replicated with an effective replication factor greater than one in
	// the local datacenter. When ineligible, reason explains why.
	Eligible(ctx context.Context, ref TableReference) (ok bool, reason string, err error)

	// LocalVnodes returns, in a deterministic order, the vnodes this host
	// currently replicates for ref.
	LocalVnodes(ctx context.Context, ref TableReference) ([]VnodeState, error)

	// TokenMapHash is MapHash applied to the current full token->replicas
	// mapping for ref (not just the local subset), so that two daemons
	// observing the same topology compute the same hash.
	TokenMapHash(ctx context.Context, ref TableReference) (uint64, error)
}

// systemKeyspace reports whether keyspace is an internal system keyspace
// ineligible for on-demand repair. system_auth is the sole exception: it is
// a real, user-data-bearing keyspace replicated like any other.
//
// Grounded on ReplicatedTableProviderImpl.accept (original_source).
func systemKeyspace(keyspace string) bool {
	const systemAuth = "system_auth"
	if keyspace == systemAuth {
		return false
	}
	return len(keyspace) >= len("system") && keyspace[:len("system")] == "system"
}

// ReplicationStrategy mirrors the handful of Cassandra-family replication
// strategy classes the eligibility check understands.
type ReplicationStrategy string

// Supported replication strategies.
const (
	SimpleStrategy          ReplicationStrategy = "SimpleStrategy"
	NetworkTopologyStrategy ReplicationStrategy = "NetworkTopologyStrategy"
)

// EligibleStrategy decides on-demand repair eligibility from a keyspace's
// replication strategy options, mirroring
// ReplicatedTableProviderImpl.validateSimpleStrategy /
// validateNetworkTopologyStrategy (original_source) exactly: SimpleStrategy
// needs replication_factor > 1; NetworkTopologyStrategy needs the local DC
// present in the options with a factor > 1 (summed in the original, but a
// datacenter only ever has a single option entry in practice).
func EligibleStrategy(keyspace string, strategy ReplicationStrategy, options map[string]string, localDC string) (ok bool, reason string) {
	if systemKeyspace(keyspace) {
		return false, "system keyspace"
	}

	switch strategy {
	case SimpleStrategy:
		rf, err := atoiOr0(options["replication_factor"])
		if err != nil || rf <= 1 {
			return false, "replication factor is not greater than one"
		}
		return true, ""
	case NetworkTopologyStrategy:
		if localDC == "" {
			return false, "local datacenter is not defined"
		}
		rfStr, ok := options[localDC]
		if !ok {
			return false, "keyspace not replicated by local datacenter"
		}
		rf, err := atoiOr0(rfStr)
		if err != nil || rf <= 1 {
			return false, "replication factor is not greater than one in local datacenter"
		}
		return true, ""
	default:
		return false, "unsupported replication strategy " + string(strategy)
	}
}

func atoiOr0(s string) (int, error) {
	return strconv.Atoi(s)
}
