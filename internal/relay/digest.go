package relay

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/h1v3-io/relay/internal/ticket"
	"github.com/h1v3-io/relay/pkg/protocol"
)

// Digest posts a summary of open tickets to the responder channel.
type Digest struct {
	store           ticket.Store
	transport       Transport
	responderChatID string
	limit           int
	now             func() time.Time
}

func NewDigest(store ticket.Store, transport Transport, responderChatID string, limit int) *Digest {
	if limit <= 0 {
		limit = 20
	}
	return &Digest{
		store:           store,
		transport:       transport,
		responderChatID: responderChatID,
		limit:           limit,
		now:             time.Now,
	}
}

// Run posts the digest. Nothing is sent when no ticket is open.
func (d *Digest) Run(ctx context.Context) error {
	open := protocol.TicketOpen
	total, err := d.store.Count(ctx, ticket.Filter{Status: &open})
	if err != nil {
		return storeError("digest count", err)
	}
	if total == 0 {
		return nil
	}
	tickets, err := d.store.List(ctx, ticket.Filter{Status: &open, Ascending: true, Limit: d.limit})
	if err != nil {
		return storeError("digest list", err)
	}

	if _, err := d.transport.SendText(ctx, d.responderChatID, d.render(total, tickets), SendOptions{}); err != nil {
		return transportError("send digest", err)
	}
	return nil
}

func (d *Digest) render(total int, tickets []*protocol.Ticket) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📋 Open tickets (%d)\n", total)
	for _, t := range tickets {
		// Plain "#id" so a reply to the digest never resolves to a ticket.
		fmt.Fprintf(&b, "\n• #%d · %s · open %s", t.ID, t.RequesterName, age(d.now().Sub(t.CreatedAt)))
	}
	if rest := total - len(tickets); rest > 0 {
		fmt.Fprintf(&b, "\n\n…and %d more", rest)
	}
	return b.String()
}

func age(d time.Duration) string {
	switch {
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 48*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	}
	return fmt.Sprintf("%dd", int(d.Hours()/24))
}
