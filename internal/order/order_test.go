package order

import "testing"

func TestKeyLess(t *testing.T) {
	cases := []struct {
		a, b Key
		want bool
	}{
		{Key{1, 0, 0}, Key{2, 0, 0}, true},
		{Key{2, 0, 0}, Key{1, 0, 0}, false},
		{Key{1, OutEarly, 0}, Key{1, 0, 0}, true},
		{Key{1, 0, 5}, Key{1, 0, 6}, true},
		{Key{1, 0, 6}, Key{1, 0, 6}, false},
	}
	for _, c := range cases {
		if got := c.a.Less(c.b); got != c.want {
			t.Errorf("%v.Less(%v) = %v, want %v", c.a, c.b, got, c.want)
		}
	}
}

func TestMonotonicBumpsStaleKey(t *testing.T) {
	a := NewAllocator()
	a.BeginRequest(1)

	k1, bumped1 := a.Monotonic(1, 0, 10)
	if bumped1 {
		t.Fatalf("first key should not be bumped")
	}

	// A stale/duplicate (req, out, seq) must be bumped to succeed
	// lastAssigned, never silently accepted or rejected.
	k2, bumped2 := a.Monotonic(1, 0, 10)
	if !bumped2 {
		t.Fatalf("duplicate key should be bumped")
	}
	if !k1.Less(k2) {
		t.Fatalf("bumped key %v must be strictly greater than %v", k2, k1)
	}
}

func TestSuccessorStrictlyGreater(t *testing.T) {
	a := NewAllocator()
	k := Key{Req: 5, Out: 2, Seq: 7}
	s := a.Successor(k)
	if !k.Less(s) {
		t.Fatalf("successor(%v) = %v is not strictly greater", k, s)
	}
}

func TestResumeBiasesFollowingRequests(t *testing.T) {
	a := NewAllocator()
	a.Resume(3) // snapshot had requests up through 3

	k, bumped := a.Monotonic(1, 0, 0)
	if bumped {
		t.Fatalf("first post-resume event should not need bumping")
	}
	if k.Req <= 3 {
		t.Fatalf("post-resume event req %d must sort after restored history (>3)", k.Req)
	}
}

func TestSystemOrderKeyEarlySortsBeforeProviderOutput(t *testing.T) {
	a := NewAllocator()
	a.BeginRequest(4)

	early := a.SystemOrderKey(Early)
	providerKey, _ := a.Monotonic(4, 0, 1)

	if !early.Less(providerKey) {
		t.Fatalf("Early key %v must sort before provider output %v", early, providerKey)
	}
}

func TestSystemOrderKeyTailSortsAfterLastSeen(t *testing.T) {
	a := NewAllocator()
	a.BeginRequest(1)
	_, _ = a.Monotonic(1, 3, 1)

	tail := a.SystemOrderKey(Tail)
	if tail.Out != OutTail {
		t.Fatalf("tail key must use OutTail sentinel, got %d", tail.Out)
	}
}
