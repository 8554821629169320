package history

import (
	"testing"

	"github.com/opencoder/agentshell/internal/order"
)

func newTestStore() (*Store, *order.Allocator) {
	alloc := order.NewAllocator()
	alloc.BeginRequest(1)
	return NewStore(alloc), alloc
}

func TestInsertAssignsIDAndOrders(t *testing.T) {
	s, alloc := newTestStore()

	k1 := alloc.NextInternalKey()
	m1, err := s.Apply(DomainEvent{Op: OpInsert, Key: k1, Record: PlainMessage{Lines: []string{"first"}}})
	if err != nil {
		t.Fatalf("insert 1: %v", err)
	}

	k2 := alloc.NextInternalKey()
	m2, err := s.Apply(DomainEvent{Op: OpInsert, Key: k2, Record: PlainMessage{Lines: []string{"second"}}})
	if err != nil {
		t.Fatalf("insert 2: %v", err)
	}

	if m1.ID == m2.ID {
		t.Fatalf("expected distinct ids")
	}

	ordered := s.Ordered()
	if len(ordered) != 2 {
		t.Fatalf("expected 2 ordered records, got %d", len(ordered))
	}
	first := ordered[0].(PlainMessage)
	if first.Lines[0] != "first" {
		t.Fatalf("display order broken: expected 'first' first, got %v", first.Lines)
	}
}

func TestReplacePreservesID(t *testing.T) {
	s, alloc := newTestStore()
	k := alloc.NextInternalKey()
	m, err := s.Apply(DomainEvent{Op: OpInsert, Key: k, Record: PlainMessage{Lines: []string{"v1"}}})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	m2, err := s.Apply(DomainEvent{Op: OpReplace, ID: m.ID, Record: PlainMessage{Lines: []string{"v2"}}})
	if err != nil {
		t.Fatalf("replace: %v", err)
	}
	if m2.ID != m.ID {
		t.Fatalf("replace must preserve id: got %d, want %d", m2.ID, m.ID)
	}
	rec, _ := s.Get(m.ID)
	if rec.(PlainMessage).Lines[0] != "v2" {
		t.Fatalf("replace did not take effect")
	}
}

func TestStartExecPopulatesCallLookup(t *testing.T) {
	s, alloc := newTestStore()
	k := alloc.NextInternalKey()
	m, err := s.Apply(DomainEvent{Op: OpStartExec, Key: k, CallID: "call-1", Record: Exec{Command: []string{"ls"}}})
	if err != nil {
		t.Fatalf("start exec: %v", err)
	}
	id, ok := s.LookupExecCall("call-1")
	if !ok || id != m.ID {
		t.Fatalf("expected call-1 to resolve to %d, got %d (ok=%v)", m.ID, id, ok)
	}
}

func TestUpdateExecWaitIdempotent(t *testing.T) {
	s, alloc := newTestStore()
	k := alloc.NextInternalKey()
	_, err := s.Apply(DomainEvent{Op: OpStartExec, Key: k, CallID: "call-1", Record: Exec{}})
	if err != nil {
		t.Fatalf("start exec: %v", err)
	}

	ev := DomainEvent{Op: OpUpdateExecWait, CallID: "call-1", Total: 3, Active: 1, Notes: []string{"waiting"}}
	m1, err := s.Apply(ev)
	if err != nil {
		t.Fatalf("update 1: %v", err)
	}
	if m1.Kind != MutReplaced {
		t.Fatalf("first UpdateExecWait should replace, got %v", m1.Kind)
	}

	m2, err := s.Apply(ev)
	if err != nil {
		t.Fatalf("update 2: %v", err)
	}
	if m2.Kind != MutNoChange {
		t.Fatalf("identical UpdateExecWait must be idempotent (NoChange), got %v", m2.Kind)
	}
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	s, alloc := newTestStore()
	k := alloc.NextInternalKey()
	if _, err := s.Apply(DomainEvent{Op: OpInsert, Key: k, Record: PlainMessage{Lines: []string{"a"}}}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	snap := s.Snapshot()

	k2 := alloc.NextInternalKey()
	if _, err := s.Apply(DomainEvent{Op: OpInsert, Key: k2, Record: PlainMessage{Lines: []string{"b"}}}); err != nil {
		t.Fatalf("insert 2: %v", err)
	}
	if len(s.Ordered()) != 2 {
		t.Fatalf("expected 2 records before restore")
	}

	s.Restore(snap)
	if len(s.Ordered()) != 1 {
		t.Fatalf("restore should roll back to snapshot state, got %d records", len(s.Ordered()))
	}

	snap2 := s.Snapshot()
	if len(snap2.Records) != len(snap.Records) {
		t.Fatalf("snapshot after restore should structurally equal the original snapshot")
	}
}

func TestRemoveDeletesRecord(t *testing.T) {
	s, alloc := newTestStore()
	k := alloc.NextInternalKey()
	m, err := s.Apply(DomainEvent{Op: OpInsert, Key: k, Record: PlainMessage{}})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := s.Apply(DomainEvent{Op: OpRemove, ID: m.ID}); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, ok := s.Get(m.ID); ok {
		t.Fatalf("expected record removed")
	}
}
