package relay

import (
	"context"

	"github.com/h1v3-io/relay/pkg/protocol"
)

// LifecycleEvent names a ticket state change reported to an Observer.
type LifecycleEvent string

const (
	EventCreated  LifecycleEvent = "created"
	EventClosed   LifecycleEvent = "closed"
	EventReopened LifecycleEvent = "reopened"
)

// Observer is told about ticket state changes after they are stored.
// Implementations must not block routing; t must not be retained.
type Observer interface {
	Observe(ctx context.Context, event LifecycleEvent, t *protocol.Ticket)
}

// NopObserver discards every event.
type NopObserver struct{}

func (NopObserver) Observe(context.Context, LifecycleEvent, *protocol.Ticket) {}
