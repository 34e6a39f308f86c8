// Package logbuf keeps the most recent log entries in memory so the API can
// serve them, filtered by level, time or ticket.
package logbuf

import (
	"log/slog"
	"slices"
	"sync"
	"time"
)

// DefaultSize is the capacity New uses when given size <= 0.
const DefaultSize = 2000

// TicketKey is the attribute Filter.Ticket matches against.
const TicketKey = "ticket_id"

// Entry is a single log entry captured from slog.
type Entry struct {
	Time    time.Time      `json:"time"`
	Level   string         `json:"level"`
	Message string         `json:"message"`
	Attrs   map[string]any `json:"attrs,omitempty"`
	// Ticket is the TicketKey attribute as text, empty when absent.
	Ticket  string         `json:"-"`

	level slog.Level
}

// Filter selects entries in Query. The zero Filter matches info and above.
type Filter struct {
	Since    time.Time
	MinLevel slog.Level
	Limit    int    // newest Limit matches; <= 0 returns all
	Ticket   string // matches the ticket_id attribute
}

func (f Filter) match(e Entry) bool {
	switch {
	case e.level < f.MinLevel:
		return false
	case !f.Since.IsZero() && e.Time.Before(f.Since):
		return false
	case f.Ticket != "" && e.Ticket != f.Ticket:
		return false
	}
	return true
}

// Buffer is a fixed-size ring of entries, safe for concurrent use.
type Buffer struct {
	mu      sync.Mutex
	entries []Entry
	next    int // slot the next Write fills
	count   int
}

// New creates a buffer holding up to size entries.
func New(size int) *Buffer {
	if size <= 0 {
		size = DefaultSize
	}
	return &Buffer{entries: make([]Entry, size)}
}

// Write stores e, evicting the oldest entry when full. Unknown level names
// are treated as info.
func (b *Buffer) Write(e Entry) {
	if err := e.level.UnmarshalText([]byte(e.Level)); err != nil {
		e.level = slog.LevelInfo
	}
	b.mu.Lock()
	b.entries[b.next] = e
	b.next = (b.next + 1) % len(b.entries)
	b.count = min(b.count+1, len(b.entries))
	b.mu.Unlock()
}

// Query returns entries matching f, oldest first.
func (b *Buffer) Query(f Filter) []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []Entry
	size := len(b.entries)
	for i := 1; i <= b.count; i++ {
		e := b.entries[(b.next-i+size)%size]
		if !f.match(e) {
			continue
		}
		out = append(out, e)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	slices.Reverse(out)
	return out
}
