package token

import (
	"encoding/binary"
	"sort"

	"github.com/cespare/xxhash/v2"
)

// MapHash fingerprints a token->replicas mapping. It changes if and only if
// the mapping changes in a way that affects ownership: which ranges exist,
// their bounds, or their replica sets. Vnode ordering and LastRepairedAtMs
// do not participate, since neither affects correctness of range ownership.
//
// Grounded on the teacher's topologyHash (pkg/service/repair/repair.go),
// extended from a plain token hash to also fold in each range's replica set
// via replicaHash (pkg/service/repair2/range.go), since on-demand repair
// must notice replica-set changes the original topology hash (token bounds
// only) would miss.
func MapHash(vnodes []VnodeState) uint64 {
	sorted := make([]VnodeState, len(vnodes))
	copy(sorted, vnodes)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Range.Start != sorted[j].Range.Start {
			return sorted[i].Range.Start < sorted[j].Range.Start
		}
		return sorted[i].Range.End < sorted[j].Range.End
	})

	h := xxhash.New()
	var b [8]byte
	writeInt64 := func(v int64) {
		binary.LittleEndian.PutUint64(b[:], tokenBits(v))
		h.Write(b[:]) // nolint: errcheck
	}

	for _, v := range sorted {
		writeInt64(v.Range.Start)
		writeInt64(v.Range.End)
		binary.LittleEndian.PutUint64(b[:], replicaHash(v.Replicas))
		h.Write(b[:]) // nolint: errcheck
	}

	return h.Sum64()
}

func tokenBits(t int64) uint64 {
	return uint64(t)
}

func replicaHash(replicas []NodeID) uint64 {
	sorted := make([]NodeID, len(replicas))
	copy(sorted, replicas)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].String() < sorted[j].String()
	})

	h := xxhash.New()
	for _, r := range sorted {
		h.Write(r.Bytes()) // nolint: errcheck
	}
	return h.Sum64()
}
