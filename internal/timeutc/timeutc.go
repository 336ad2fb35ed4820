// Copyright (C) 2017 ScyllaDB

package timeutc

import "time"

// Now returns current time in UTC.
func Now() time.Time {
	return time.Now().UTC()
}

// NowMs returns the current time as milliseconds since the Unix epoch, the
// unit every durable timestamp in the on-demand status store is recorded in.
func NowMs() int64 {
	return Now().UnixNano() / int64(time.Millisecond)
}
