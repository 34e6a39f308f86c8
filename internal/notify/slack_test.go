package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/h1v3-io/relay/internal/relay"
	"github.com/h1v3-io/relay/pkg/protocol"
)

func sampleTicket() *protocol.Ticket {
	return &protocol.Ticket{
		ID:                 1718000000123,
		ResponderAnchorID:  "5001",
		RequesterChannelID: "-100",
		RequesterName:      "alice",
		Status:             protocol.TicketOpen,
		CreatedAt:          time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestSlack_PostsInOrder(t *testing.T) {
	received := make(chan slack.WebhookMessage, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var msg slack.WebhookMessage
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			t.Errorf("decode: %v", err)
		}
		received <- msg
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewSlack(srv.URL, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	tk := sampleTicket()
	s.Observe(ctx, relay.EventCreated, tk)

	closedAt := tk.CreatedAt.Add(90 * time.Minute)
	tk.Status = protocol.TicketClosed
	tk.ClosedAt = &closedAt
	s.Observe(ctx, relay.EventClosed, tk)

	first := <-received
	assert.Equal(t, "Ticket #1718000000123 created", first.Text)
	require.Len(t, first.Attachments, 1)
	assert.Equal(t, "#2eb886", first.Attachments[0].Color)
	assert.Len(t, first.Attachments[0].Fields, 3)

	second := <-received
	assert.Equal(t, "Ticket #1718000000123 closed", second.Text)
	fields := second.Attachments[0].Fields
	require.Len(t, fields, 4)
	assert.Equal(t, "closed", fields[2].Value)
	assert.Equal(t, "1h30m0s", fields[3].Value)
}

func TestSlack_ObserveCopiesTicket(t *testing.T) {
	s := NewSlack("http://unused.invalid", nil)
	tk := sampleTicket()
	s.Observe(context.Background(), relay.EventCreated, tk)
	tk.RequesterName = "mallory"

	n := <-s.events
	assert.Equal(t, "alice", n.ticket.RequesterName)
}

func TestSlack_DropsWhenFull(t *testing.T) {
	s := NewSlack("http://unused.invalid", nil)
	for i := 0; i < defaultBuffer+5; i++ {
		s.Observe(context.Background(), relay.EventCreated, sampleTicket())
	}
	assert.Len(t, s.events, defaultBuffer)
}

func TestSlack_PostFailureKeepsRunning(t *testing.T) {
	calls := make(chan struct{}, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls <- struct{}{}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := NewSlack(srv.URL, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	s.Observe(ctx, relay.EventCreated, sampleTicket())
	s.Observe(ctx, relay.EventReopened, sampleTicket())
	<-calls
	<-calls

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
