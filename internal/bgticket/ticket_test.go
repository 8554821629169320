package bgticket

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/opencoder/agentshell/internal/order"
)

func TestTailTicketMonotonic(t *testing.T) {
	alloc := order.NewAllocator()
	alloc.BeginRequest(1)

	ticket := NewTailTicket(alloc)
	k1 := ticket.Next()
	k2 := ticket.Next()
	k3 := ticket.Next()

	require.True(t, k1.Less(k2))
	require.True(t, k2.Less(k3))
}

func TestTailTicketsDoNotCollideAcrossTickets(t *testing.T) {
	alloc := order.NewAllocator()
	alloc.BeginRequest(1)

	a := NewTailTicket(alloc)
	b := NewTailTicket(alloc)

	ka := a.Next()
	kb := b.Next()
	require.NotEqual(t, ka, kb)
}

func TestBeforeNextOutputTicketUsesPendingPrompt(t *testing.T) {
	alloc := order.NewAllocator()
	alloc.BeginRequest(1)
	alloc.SetPendingNextPrompt(true)

	ticket := NewBeforeNextOutputTicket(alloc)
	k := ticket.Key()
	require.Equal(t, order.OutEarly, k.Out)
	require.EqualValues(t, 2, k.Req)
}

func TestBeforeNextOutputTicketFallsBackToTail(t *testing.T) {
	alloc := order.NewAllocator()
	alloc.BeginRequest(1)
	alloc.SetPendingNextPrompt(false)

	ticket := NewBeforeNextOutputTicket(alloc)
	k := ticket.Key()
	require.Equal(t, order.OutTail, k.Out)
}
