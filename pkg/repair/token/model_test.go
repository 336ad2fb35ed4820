package token

import "testing"

func TestRangeSetSubtract(t *testing.T) {
	all := NewRangeSet(
		TokenRange{Start: 0, End: 10},
		TokenRange{Start: 10, End: 20},
		TokenRange{Start: 20, End: 30},
	)
	done := NewRangeSet(TokenRange{Start: 0, End: 10})

	remaining := all.Subtract(done)
	if len(remaining) != 2 {
		t.Fatalf("expected 2 remaining ranges, got %d: %v", len(remaining), remaining)
	}
	for _, r := range remaining {
		if r.Equal(TokenRange{Start: 0, End: 10}) {
			t.Fatalf("completed range %v leaked into remaining set", r)
		}
	}
}

func TestRangeSetSubset(t *testing.T) {
	all := NewRangeSet(TokenRange{Start: 0, End: 10}, TokenRange{Start: 10, End: 20})
	partial := NewRangeSet(TokenRange{Start: 0, End: 10})
	over := NewRangeSet(TokenRange{Start: 0, End: 10}, TokenRange{Start: 99, End: 100})

	if !partial.Subset(all) {
		t.Fatal("partial should be a subset of all")
	}
	if over.Subset(all) {
		t.Fatal("over should not be a subset of all")
	}
}

func TestRangeSetAddIdempotent(t *testing.T) {
	s := NewRangeSet()
	r := TokenRange{Start: 0, End: 10}
	s.Add(r)
	s.Add(r)
	if len(s) != 1 {
		t.Fatalf("expected one entry after duplicate Add, got %d", len(s))
	}
}

func TestTokenRangeEqual(t *testing.T) {
	a := TokenRange{Start: 0, End: 10}
	b := TokenRange{Start: 0, End: 10}
	c := TokenRange{Start: 0, End: 11}

	if !a.Equal(b) {
		t.Fatal("identical ranges should be equal")
	}
	if a.Equal(c) {
		t.Fatal("different ranges should not be equal")
	}
}

func TestVnodeStateRepaired(t *testing.T) {
	v := VnodeState{LastRepairedAtMs: 100}
	if !v.Repaired(50) {
		t.Fatal("expected vnode repaired after threshold 50")
	}
	if v.Repaired(150) {
		t.Fatal("expected vnode not repaired after threshold 150")
	}
}
