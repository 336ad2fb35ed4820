package token

import "github.com/pkg/errors"

// ErrTableNotFound names the case of a TableReference that does not name a
// table present in the live schema. No function in this package returns
// it: SchemaOracle reports a missing table as TableExists == false.
var ErrTableNotFound = errors.New("keyspace/table does not exist")

// ErrNotReplicated names the case of a table that exists but is not
// eligible for on-demand repair, e.g. it is a system table or has a
// replication factor of one in the local datacenter. No function in this
// package returns it: Eligible reports ineligibility as ok == false with a
// reason.
var ErrNotReplicated = errors.New("table is not eligible for repair")
