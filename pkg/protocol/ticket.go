package protocol

import "time"

// TicketStatus represents the lifecycle state of a ticket.
type TicketStatus string

const (
	TicketOpen   TicketStatus = "open"
	TicketClosed TicketStatus = "closed"
)

// Valid reports whether s is a known status.
func (s TicketStatus) Valid() bool {
	return s == TicketOpen || s == TicketClosed
}

// Ticket correlates one requester-channel conversation with its wrapper
// message in the responder channel.
//
// ResponderAnchorID is the primary key and never changes. RequesterAnchorID
// is empty until the first responder reply and then always points at the
// latest message the relay sent into the requester channel.
type Ticket struct {
	ID                 int64        `json:"id"`
	ResponderAnchorID  string       `json:"responder_anchor_id"`
	RequesterChannelID string       `json:"requester_channel_id"`
	RequesterMessageID string       `json:"requester_message_id"`
	RequesterID        string       `json:"requester_id"`
	RequesterName      string       `json:"requester_name"`
	RequesterAnchorID  string       `json:"requester_anchor_id,omitempty"`
	Status             TicketStatus `json:"status"`
	CreatedAt          time.Time    `json:"created_at"`
	ClosedAt           *time.Time   `json:"closed_at,omitempty"`
}

// IsClosed reports whether the ticket no longer accepts relaying.
func (t *Ticket) IsClosed() bool {
	return t.Status == TicketClosed
}
