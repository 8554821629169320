package history

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/opencoder/agentshell/internal/order"
)

// ErrUnknownID is returned when a Replace/Remove names a HistoryId the
// store does not hold.
var ErrUnknownID = errors.New("history: unknown id")

// DomainEvent is the single mutation request type the store accepts. All
// mutations flow through Store.Apply, and only the Turn/Session Runtime
// goroutine may call it: the store is single-writer.
type DomainEvent struct {
	Op     Op
	Key    order.Key
	ID     order.HistoryId // required for Replace/Remove
	Record Record          // required for Insert/Replace/StartExec
	CallID string          // StartExec / UpdateExecWait
	Total  int             // UpdateExecWait
	Active int             // UpdateExecWait
	Notes  []string        // UpdateExecWait
}

// Op names the kind of mutation.
type Op int

const (
	OpInsert Op = iota
	OpReplace
	OpRemove
	OpStartExec
	OpUpdateExecWait
)

// Mutation is the result of applying a DomainEvent.
type Mutation struct {
	Kind   MutationKind
	ID     order.HistoryId
	Record Record
}

// MutationKind discriminates Mutation results.
type MutationKind int

const (
	MutInserted MutationKind = iota
	MutReplaced
	MutRemoved
	MutNoChange
)

// Store is the single-writer, concurrently-readable history state
// store. Construct with NewStore; mutate only via Apply.
type Store struct {
	mu sync.RWMutex

	alloc *order.Allocator

	records map[order.HistoryId]Record
	keys    map[order.HistoryId]order.Key
	ordered []order.HistoryId // kept sorted by keys[id]

	execCallLookup map[string]order.HistoryId
	toolCallLookup map[string]order.HistoryId
	streamLookup   map[string]order.HistoryId
}

// NewStore constructs an empty Store bound to alloc, which must be the
// same Allocator the Turn Runtime uses to mint keys.
func NewStore(alloc *order.Allocator) *Store {
	return &Store{
		alloc:          alloc,
		records:        make(map[order.HistoryId]Record),
		keys:           make(map[order.HistoryId]order.Key),
		execCallLookup: make(map[string]order.HistoryId),
		toolCallLookup: make(map[string]order.HistoryId),
		streamLookup:   make(map[string]order.HistoryId),
	}
}

// Apply is the store's sole mutation entry point (apply_domain_event).
func (s *Store) Apply(ev DomainEvent) (Mutation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch ev.Op {
	case OpInsert:
		return s.insertLocked(ev.Key, ev.Record)
	case OpReplace:
		return s.replaceLocked(ev.ID, ev.Record)
	case OpRemove:
		return s.removeLocked(ev.ID)
	case OpStartExec:
		return s.startExecLocked(ev.Key, ev.CallID, ev.Record)
	case OpUpdateExecWait:
		return s.updateExecWaitLocked(ev.CallID, ev.Total, ev.Active, ev.Notes)
	default:
		return Mutation{}, fmt.Errorf("history: unknown op %v", ev.Op)
	}
}

func (s *Store) insertLocked(key order.Key, rec Record) (Mutation, error) {
	if rec == nil {
		return Mutation{}, fmt.Errorf("history: insert requires a record")
	}
	id := s.alloc.NextHistoryId()
	rec = rec.withHistoryID(id)
	s.records[id] = rec
	s.keys[id] = key
	s.insertSortedLocked(id, key)
	s.indexLookupsLocked(id, rec)
	return Mutation{Kind: MutInserted, ID: id, Record: rec}, nil
}

func (s *Store) replaceLocked(id order.HistoryId, rec Record) (Mutation, error) {
	if _, ok := s.records[id]; !ok {
		return Mutation{}, fmt.Errorf("replace %d: %w", id, ErrUnknownID)
	}
	rec = rec.withHistoryID(id)
	s.records[id] = rec
	s.indexLookupsLocked(id, rec)
	return Mutation{Kind: MutReplaced, ID: id, Record: rec}, nil
}

func (s *Store) removeLocked(id order.HistoryId) (Mutation, error) {
	if _, ok := s.records[id]; !ok {
		return Mutation{}, fmt.Errorf("remove %d: %w", id, ErrUnknownID)
	}
	delete(s.records, id)
	delete(s.keys, id)
	s.removeFromOrderedLocked(id)
	return Mutation{Kind: MutRemoved, ID: id}, nil
}

func (s *Store) startExecLocked(key order.Key, callID string, rec Record) (Mutation, error) {
	exec, ok := rec.(Exec)
	if !ok {
		return Mutation{}, fmt.Errorf("history: StartExec requires an Exec record")
	}
	exec.CallID = callID
	if exec.Status == "" {
		exec.Status = ExecRunning
	}
	if exec.StartedAt.IsZero() {
		exec.StartedAt = time.Now()
	}
	m, err := s.insertLocked(key, exec)
	if err != nil {
		return m, err
	}
	s.execCallLookup[callID] = m.ID
	return m, nil
}

// updateExecWaitLocked is idempotent: reapplying identical notes returns
// MutNoChange without mutating anything.
func (s *Store) updateExecWaitLocked(callID string, total, active int, notes []string) (Mutation, error) {
	id, ok := s.execCallLookup[callID]
	if !ok {
		return Mutation{}, fmt.Errorf("history: UpdateExecWait: unknown call id %q", callID)
	}
	rec, ok := s.records[id].(Exec)
	if !ok {
		return Mutation{}, fmt.Errorf("history: UpdateExecWait: record %d is not Exec", id)
	}
	if rec.Wait.Total == total && rec.Wait.Active == active && stringsEqual(rec.Wait.Notes, notes) {
		return Mutation{Kind: MutNoChange, ID: id, Record: rec}, nil
	}
	rec.Wait = ExecWait{Total: total, Active: active, Notes: notes}
	s.records[id] = rec
	return Mutation{Kind: MutReplaced, ID: id, Record: rec}, nil
}

func stringsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (s *Store) indexLookupsLocked(id order.HistoryId, rec Record) {
	switch r := rec.(type) {
	case Exec:
		if r.CallID != "" {
			s.execCallLookup[r.CallID] = id
		}
	case ToolCall:
		if r.CallID != "" {
			s.toolCallLookup[r.CallID] = id
		}
	case AssistantStream:
		if r.StreamID != "" {
			s.streamLookup[r.StreamID] = id
		}
	}
}

func (s *Store) insertSortedLocked(id order.HistoryId, key order.Key) {
	i := sort.Search(len(s.ordered), func(i int) bool {
		return key.Less(s.keys[s.ordered[i]])
	})
	s.ordered = append(s.ordered, 0)
	copy(s.ordered[i+1:], s.ordered[i:])
	s.ordered[i] = id
}

func (s *Store) removeFromOrderedLocked(id order.HistoryId) {
	for i, oid := range s.ordered {
		if oid == id {
			s.ordered = append(s.ordered[:i], s.ordered[i+1:]...)
			return
		}
	}
}

// Ordered returns a snapshot of records in display order.
func (s *Store) Ordered() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, 0, len(s.ordered))
	for _, id := range s.ordered {
		out = append(out, s.records[id])
	}
	return out
}

// Get returns the record for id, if present.
func (s *Store) Get(id order.HistoryId) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	return r, ok
}

// LookupExecCall resolves a call_id to its HistoryId.
func (s *Store) LookupExecCall(callID string) (order.HistoryId, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.execCallLookup[callID]
	return id, ok
}

// LookupToolCall resolves a tool_call_id to its HistoryId.
func (s *Store) LookupToolCall(callID string) (order.HistoryId, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.toolCallLookup[callID]
	return id, ok
}

// LookupStream resolves a stream_id to its HistoryId.
func (s *Store) LookupStream(streamID string) (order.HistoryId, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.streamLookup[streamID]
	return id, ok
}
