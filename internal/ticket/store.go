package ticket

import (
	"context"
	"errors"

	"github.com/h1v3-io/relay/pkg/protocol"
)

var (
	// ErrNotFound is returned when a lookup matches no row. Absence is a
	// normal outcome for callers, not a fault.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateKey is returned by Create when the responder anchor or
	// ticket id is already taken.
	ErrDuplicateKey = errors.New("duplicate key")
)

// Store is the persistence interface for tickets and authorized channels.
// Every operation touches a single row.
type Store interface {
	// Create inserts a new ticket as open. It never overwrites.
	Create(ctx context.Context, t *protocol.Ticket) error
	// GetByResponderAnchor finds the ticket owning a wrapper message.
	GetByResponderAnchor(ctx context.Context, anchorID string) (*protocol.Ticket, error)
	// GetByRequesterAnchor finds the ticket whose latest requester-side
	// anchor in channelID is anchorID.
	GetByRequesterAnchor(ctx context.Context, channelID, anchorID string) (*protocol.Ticket, error)
	// GetByTicketID finds a ticket by its public id.
	GetByTicketID(ctx context.Context, id int64) (*protocol.Ticket, error)
	// UpdateRequesterAnchor overwrites the requester anchor (last writer wins).
	UpdateRequesterAnchor(ctx context.Context, responderAnchorID, anchorID string) error
	// SetStatus sets status and closed_at (now on close, NULL on reopen).
	SetStatus(ctx context.Context, responderAnchorID string, status protocol.TicketStatus) error
	// List returns tickets matching the filter, ordered by ticket id.
	List(ctx context.Context, filter Filter) ([]*protocol.Ticket, error)
	// Count returns the number of tickets matching the filter.
	Count(ctx context.Context, filter Filter) (int, error)

	// AddChannel authorizes a requester channel. Adding twice is a no-op.
	AddChannel(ctx context.Context, channelID string) error
	// RemoveChannel revokes a requester channel; ErrNotFound if absent.
	RemoveChannel(ctx context.Context, channelID string) error
	IsAuthorized(ctx context.Context, channelID string) (bool, error)
	ListChannels(ctx context.Context) ([]string, error)

	// Close releases the underlying database.
	Close() error
}

// Filter constrains ticket list queries.
type Filter struct {
	Status    *protocol.TicketStatus
	ChannelID string // exact match on requester_channel_id
	Ascending bool   // oldest first; default is newest first
	Limit     int    // 0 = no limit
}
