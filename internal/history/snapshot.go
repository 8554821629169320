package history

import (
	"github.com/opencoder/agentshell/internal/order"
)

// Snapshot is the unit of /undo: a deep, structurally comparable copy of
// the store's records, order, and lookup tables.
type Snapshot struct {
	Records        map[order.HistoryId]Record
	NextID         order.HistoryId
	Order          []order.HistoryId
	OrderKeys      map[order.HistoryId]order.Key
	ExecCallLookup map[string]order.HistoryId
	ToolCallLookup map[string]order.HistoryId
	StreamLookup   map[string]order.HistoryId
}

// Snapshot performs a deep clone of the store's state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		NextID:         s.alloc.PeekNextHistoryId(),
		Records:        make(map[order.HistoryId]Record, len(s.records)),
		Order:          append([]order.HistoryId(nil), s.ordered...),
		OrderKeys:      make(map[order.HistoryId]order.Key, len(s.keys)),
		ExecCallLookup: make(map[string]order.HistoryId, len(s.execCallLookup)),
		ToolCallLookup: make(map[string]order.HistoryId, len(s.toolCallLookup)),
		StreamLookup:   make(map[string]order.HistoryId, len(s.streamLookup)),
	}
	for id, rec := range s.records {
		snap.Records[id] = rec
	}
	for id, k := range s.keys {
		snap.OrderKeys[id] = k
	}
	for k, v := range s.execCallLookup {
		snap.ExecCallLookup[k] = v
	}
	for k, v := range s.toolCallLookup {
		snap.ToolCallLookup[k] = v
	}
	for k, v := range s.streamLookup {
		snap.StreamLookup[k] = v
	}
	return snap
}

// Restore atomically swaps the store's state to snap and rebiases the
// allocator so resumed history can never be clobbered by a re-opened
// provider session.
func (s *Store) Restore(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = make(map[order.HistoryId]Record, len(snap.Records))
	for id, rec := range snap.Records {
		s.records[id] = rec
	}
	s.keys = make(map[order.HistoryId]order.Key, len(snap.OrderKeys))
	for id, k := range snap.OrderKeys {
		s.keys[id] = k
	}
	s.ordered = append([]order.HistoryId(nil), snap.Order...)

	s.execCallLookup = make(map[string]order.HistoryId, len(snap.ExecCallLookup))
	for k, v := range snap.ExecCallLookup {
		s.execCallLookup[k] = v
	}
	s.toolCallLookup = make(map[string]order.HistoryId, len(snap.ToolCallLookup))
	for k, v := range snap.ToolCallLookup {
		s.toolCallLookup[k] = v
	}
	s.streamLookup = make(map[string]order.HistoryId, len(snap.StreamLookup))
	for k, v := range snap.StreamLookup {
		s.streamLookup[k] = v
	}

	var maxReq uint64
	for _, k := range s.keys {
		if k.Req > maxReq {
			maxReq = k.Req
		}
	}
	s.alloc.RestoreNextHistoryId(snap.NextID)
	s.alloc.Resume(maxReq)
}
