package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/h1v3-io/relay/internal/ticket"
	"github.com/h1v3-io/relay/pkg/protocol"
)

// Transition is the result of applying a directive to a ticket.
type Transition int

const (
	Closed Transition = iota
	AlreadyClosed
	Reopened
	AlreadyOpen
)

// Lifecycle applies close/reopen directives and gates relaying on status.
type Lifecycle struct {
	store    ticket.Store
	observer Observer
	now      func() time.Time
}

func NewLifecycle(store ticket.Store, observer Observer) *Lifecycle {
	if observer == nil {
		observer = NopObserver{}
	}
	return &Lifecycle{store: store, observer: observer, now: time.Now}
}

// Apply runs directive d against t and updates t in place. Closing a closed
// ticket is a successful no-op that keeps the original closed_at.
func (l *Lifecycle) Apply(ctx context.Context, t *protocol.Ticket, d Directive) (Transition, error) {
	switch d {
	case DirectiveClose:
		if t.IsClosed() {
			return AlreadyClosed, nil
		}
		if err := l.store.SetStatus(ctx, t.ResponderAnchorID, protocol.TicketClosed); err != nil {
			return 0, storeError("close", err)
		}
		now := l.now()
		t.Status = protocol.TicketClosed
		t.ClosedAt = &now
		l.observer.Observe(ctx, EventClosed, t)
		return Closed, nil

	case DirectiveReopen:
		if !t.IsClosed() {
			return AlreadyOpen, nil
		}
		if err := l.store.SetStatus(ctx, t.ResponderAnchorID, protocol.TicketOpen); err != nil {
			return 0, storeError("reopen", err)
		}
		t.Status = protocol.TicketOpen
		t.ClosedAt = nil
		l.observer.Observe(ctx, EventReopened, t)
		return Reopened, nil
	}
	return 0, validationError("apply", fmt.Errorf("unknown directive %q", d))
}

// checkOpen rejects relaying into a closed ticket.
func checkOpen(t *protocol.Ticket) error {
	if t.IsClosed() {
		return fmt.Errorf("%s: %w", ticketRef(t.ID), ErrTicketClosed)
	}
	return nil
}
