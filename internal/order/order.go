// Package order mints and compares the history ordering keys used across
// the session: HistoryId (an opaque, monotonic record identity) and
// OrderKey (the three-component sort key that fixes display order).
package order

import (
	"fmt"
	"math"
	"sync"
)

// HistoryId is an opaque monotonically increasing identity for a history
// record. Zero is a sentinel meaning "unassigned".
type HistoryId uint64

// ZeroHistoryId is the "unassigned" sentinel.
const ZeroHistoryId HistoryId = 0

// Placement selects where a system-inserted cell should slot relative to
// the current turn's provider output.
type Placement int

const (
	// Early sorts before any provider output of the current turn.
	Early Placement = iota
	// PrePrompt sorts immediately before the next turn's user prompt, or
	// after the previous tail if no prompt is pending.
	PrePrompt
	// Tail sorts after everything seen so far in the current request.
	Tail
)

// Key is the (req, out, seq) lexicographic ordering tuple every history
// cell sorts by. Background events are the only record type permitted to
// carry a non-monotonic Key.
type Key struct {
	Req uint64
	Out int32
	Seq uint64
}

// Early-insertion sentinel for Out.
const OutEarly int32 = -1

// Tail-insertion sentinel for Out.
const OutTail int32 = math.MaxInt32

// Less reports whether k sorts strictly before other.
func (k Key) Less(other Key) bool {
	if k.Req != other.Req {
		return k.Req < other.Req
	}
	if k.Out != other.Out {
		return k.Out < other.Out
	}
	return k.Seq < other.Seq
}

// Equal reports whether k and other are the same key.
func (k Key) Equal(other Key) bool {
	return k.Req == other.Req && k.Out == other.Out && k.Seq == other.Seq
}

func (k Key) String() string {
	return fmt.Sprintf("(%d,%d,%d)", k.Req, k.Out, k.Seq)
}

// Allocator mints Keys and HistoryIds for one session. It is single-writer:
// every call must come from the Turn/Session Runtime goroutine.
type Allocator struct {
	mu sync.Mutex

	nextID HistoryId

	lastAssigned     *Key
	internalSeq      uint64
	currentReq       uint64
	lastSeenReq      uint64
	orderRequestBias int64

	resumeExpectedNextReq *uint64
	// pendingNextPrompt is true when the next turn already has a queued
	// user prompt, used to resolve PrePrompt placement.
	pendingNextPrompt bool
}

// NewAllocator returns an Allocator starting at request index 0.
func NewAllocator() *Allocator {
	return &Allocator{nextID: 1}
}

// NextHistoryId mints the next HistoryId.
func (a *Allocator) NextHistoryId() HistoryId {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := a.nextID
	a.nextID++
	return id
}

// PeekNextHistoryId returns the id the next NextHistoryId call would
// mint, without consuming it. Used when snapshotting the store.
func (a *Allocator) PeekNextHistoryId() HistoryId {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.nextID
}

// RestoreNextHistoryId rewinds (or advances) the id counter to id, used by
// snapshot restore so re-minted ids never collide with restored records.
func (a *Allocator) RestoreNextHistoryId(id HistoryId) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if id == ZeroHistoryId {
		id = 1
	}
	a.nextID = id
}

// BeginRequest advances the allocator's notion of "current request" —
// called by the Turn Runtime when a new turn starts (bumps req ordinal).
func (a *Allocator) BeginRequest(reqOrdinal uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	biased := a.biasLocked(reqOrdinal)
	a.currentReq = biased
	if biased > a.lastSeenReq {
		a.lastSeenReq = biased
	}
}

// biasLocked applies order_request_bias. Caller must
// hold a.mu.
func (a *Allocator) biasLocked(reqOrdinal uint64) uint64 {
	biased := int64(reqOrdinal) + a.orderRequestBias
	if biased < 0 {
		biased = 0
	}
	return uint64(biased)
}

// SetPendingNextPrompt records whether the next turn already has a queued
// user prompt, used by SystemOrderKey(PrePrompt, ...).
func (a *Allocator) SetPendingNextPrompt(pending bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pendingNextPrompt = pending
}

// NextInternalKey mints a tail key within the current request.
func (a *Allocator) NextInternalKey() Key {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.tailKeyLocked(a.currentReq)
}

// NextReqKeyTop mints a key that sorts strictly before the first user
// prompt of the next turn.
func (a *Allocator) NextReqKeyTop() Key {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.internalSeq++
	return Key{Req: a.currentReq + 1, Out: OutEarly, Seq: a.internalSeq}
}

// NextReqKeyPrompt mints the key for the first user prompt of the next
// turn (out=0 by convention).
func (a *Allocator) NextReqKeyPrompt() Key {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.internalSeq++
	return Key{Req: a.currentReq + 1, Out: 0, Seq: a.internalSeq}
}

// SystemOrderKey mints a key for a system-inserted cell at placement p.
func (a *Allocator) SystemOrderKey(p Placement) Key {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.internalSeq++
	switch p {
	case Early:
		return Key{Req: a.currentReq, Out: OutEarly, Seq: a.internalSeq}
	case PrePrompt:
		if a.pendingNextPrompt {
			return Key{Req: a.currentReq + 1, Out: OutEarly, Seq: a.internalSeq}
		}
		return Key{Req: a.lastSeenReq, Out: OutTail, Seq: a.internalSeq}
	case Tail:
		return Key{Req: a.lastSeenReq, Out: OutTail, Seq: a.internalSeq}
	default:
		return Key{Req: a.lastSeenReq, Out: OutTail, Seq: a.internalSeq}
	}
}

func (a *Allocator) tailKeyLocked(req uint64) Key {
	a.internalSeq++
	return Key{Req: req, Out: OutTail, Seq: a.internalSeq}
}

// Monotonic assigns a key for a provider-ordered event carrying
// (outputIndex, sequenceNumber), keeping assignment monotonic: the
// result is never <= lastAssigned. A stale/duplicate key from the caller
// is bumped to Successor(lastAssigned) rather than rejected.
func (a *Allocator) Monotonic(req uint64, outputIndex int32, seq uint64) (Key, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	biasedReq := a.biasLocked(req)
	if biasedReq > a.lastSeenReq {
		a.lastSeenReq = biasedReq
	}
	candidate := Key{Req: biasedReq, Out: outputIndex, Seq: seq}

	if a.lastAssigned == nil || a.lastAssigned.Less(candidate) {
		a.lastAssigned = &candidate
		return candidate, false
	}

	bumped := a.successorLocked(*a.lastAssigned)
	a.lastAssigned = &bumped
	return bumped, true
}

// Successor returns the smallest key strictly greater than k.
func (a *Allocator) Successor(k Key) Key {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.successorLocked(k)
}

func (a *Allocator) successorLocked(k Key) Key {
	if k.Seq == math.MaxUint64 {
		// Saturate: bump Out instead of wrapping Seq.
		out := k.Out
		if out < math.MaxInt32 {
			out++
		}
		return Key{Req: k.Req, Out: out, Seq: 0}
	}
	return Key{Req: k.Req, Out: k.Out, Seq: k.Seq + 1}
}

// Resume biases the allocator so events carrying request_ordinal=k slot
// strictly after a restored history snapshot.
func (a *Allocator) Resume(maxRestoredReq uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	next := maxRestoredReq + 1
	a.resumeExpectedNextReq = &next
	a.orderRequestBias = int64(next) - 1
	a.lastSeenReq = maxRestoredReq
	a.currentReq = maxRestoredReq
}

// LastAssigned returns the last monotonically assigned key, if any.
func (a *Allocator) LastAssigned() (Key, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.lastAssigned == nil {
		return Key{}, false
	}
	return *a.lastAssigned, true
}
