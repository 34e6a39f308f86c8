package connector

import (
	"context"

	"github.com/h1v3-io/relay/pkg/protocol"
)

// Connector is the lifecycle of a chat platform integration (Telegram, etc.).
// Outbound sends go through relay.Transport, which connectors also implement.
type Connector interface {
	// Name returns the connector type (e.g., "telegram").
	Name() string
	// Start begins receiving inbound messages. Blocks until context is cancelled.
	Start(ctx context.Context) error
	// Stop gracefully shuts down the connector.
	Stop() error
}

// InboundHandler receives every inbound message as a protocol.Event.
// Implementations should return quickly; the relay queue does the work.
type InboundHandler func(ctx context.Context, ev protocol.Event) error
