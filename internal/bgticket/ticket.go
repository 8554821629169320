// Package bgticket implements the Background Event Ticket allocator:
// every background notice inserted from a supervisor
// task or timer must first obtain a ticket, which is the only path to a
// valid order.Key for that insertion. This makes it illegal for a caller
// to emit a background event without going through the ordering step.
package bgticket

import (
	"github.com/opencoder/agentshell/internal/order"
)

// Issuer is the subset of order.Allocator a ticket needs to mint a key.
// The Turn/Session Runtime's Allocator satisfies this directly.
type Issuer interface {
	SystemOrderKey(order.Placement) order.Key
	Successor(order.Key) order.Key
}

// TailTicket owns a strictly increasing sequence of OrderKeys at the tail
// of the current request, for background events that arrive after the
// provider has already moved on.
type TailTicket struct {
	issuer Issuer
	last   *order.Key
}

// NewTailTicket allocates a BackgroundTailTicket.
func NewTailTicket(issuer Issuer) *TailTicket {
	return &TailTicket{issuer: issuer}
}

// Next mints the next key in the ticket's sequence: the first call asks
// the issuer for a fresh Tail placement, every subsequent call asks for
// the successor of the previous key so the ticket's own sequence stays
// strictly increasing even if other tail insertions interleave.
func (t *TailTicket) Next() order.Key {
	if t.last == nil {
		k := t.issuer.SystemOrderKey(order.Tail)
		t.last = &k
		return k
	}
	k := t.issuer.Successor(*t.last)
	t.last = &k
	return k
}

// BeforeNextOutputTicket resolves to Early if the next turn already has a
// pending prompt, else PrePrompt. The
// distinction is carried by the Issuer itself via
// Allocator.SetPendingNextPrompt; the ticket just asks for PrePrompt and
// lets the allocator pick the concrete placement.
type BeforeNextOutputTicket struct {
	issuer Issuer
}

// NewBeforeNextOutputTicket allocates a BackgroundBeforeNextOutputTicket.
func NewBeforeNextOutputTicket(issuer Issuer) *BeforeNextOutputTicket {
	return &BeforeNextOutputTicket{issuer: issuer}
}

// Key mints the single key this ticket is good for.
func (t *BeforeNextOutputTicket) Key() order.Key {
	return t.issuer.SystemOrderKey(order.PrePrompt)
}
