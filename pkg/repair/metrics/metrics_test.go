package metrics

import "testing"

// TestHooksImplementations is a compile-time-ish smoke test: both
// implementations must be usable wherever a Hooks is expected, and calling
// every method must not panic.
func TestHooksImplementations(t *testing.T) {
	for _, h := range []Hooks{NewPrometheus(), Nop{}} {
		h.JobStarted("ks", "t")
		h.RangeRepaired("ks", "t")
		h.LockContended("ks", "t")
		h.JobFinished("ks", "t", "finished")
		h.SweepFinished(0.5)
	}
}
