package scheduler

import "github.com/pkg/errors"

// ErrTableNotFound is the domain error scheduleJob/scheduleClusterWideJob
// return when the requested table does not exist in the live schema
// (spec.md §4.5, §6, §7 InputInvalid).
var ErrTableNotFound = errors.New("keyspace/table does not exist")

// ErrNotEligible is returned when a table exists but is not eligible for
// on-demand repair (system table, replication factor of one locally).
var ErrNotEligible = errors.New("table is not eligible for on-demand repair")

// ErrClosed is returned by scheduling operations called after Close.
var ErrClosed = errors.New("scheduler is closed")
