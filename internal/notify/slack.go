// Package notify mirrors ticket lifecycle events to an audit feed.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/slack-go/slack"

	"github.com/h1v3-io/relay/internal/relay"
	"github.com/h1v3-io/relay/pkg/protocol"
)

const defaultBuffer = 64

type notice struct {
	event  relay.LifecycleEvent
	ticket protocol.Ticket
}

// Slack posts lifecycle events to a Slack incoming webhook. Observe only
// enqueues; Run does the posting, one event at a time in order.
type Slack struct {
	url    string
	client *http.Client
	events chan notice
	logger *slog.Logger
}

var _ relay.Observer = (*Slack)(nil)

// NewSlack creates a notifier for webhookURL.
func NewSlack(webhookURL string, logger *slog.Logger) *Slack {
	if logger == nil {
		logger = slog.Default()
	}
	return &Slack{
		url:    webhookURL,
		client: &http.Client{Timeout: 10 * time.Second},
		events: make(chan notice, defaultBuffer),
		logger: logger,
	}
}

// Observe enqueues the event. When the queue is full the event is dropped.
func (s *Slack) Observe(_ context.Context, event relay.LifecycleEvent, t *protocol.Ticket) {
	select {
	case s.events <- notice{event: event, ticket: *t}:
	default:
		s.logger.Warn("audit feed full, dropping event", "event", event, "ticket_id", t.ID)
	}
}

// Run posts queued events until ctx is cancelled.
func (s *Slack) Run(ctx context.Context) error {
	for {
		select {
		case n := <-s.events:
			if err := s.post(ctx, n); err != nil {
				s.logger.Warn("audit feed post failed",
					"event", n.event,
					"ticket_id", n.ticket.ID,
					"error", err,
				)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Slack) post(ctx context.Context, n notice) error {
	if err := slack.PostWebhookCustomHTTPContext(ctx, s.url, s.client, message(n)); err != nil {
		return fmt.Errorf("notify: slack webhook: %w", err)
	}
	return nil
}

var colors = map[relay.LifecycleEvent]string{
	relay.EventCreated:  "#2eb886",
	relay.EventClosed:   "#808080",
	relay.EventReopened: "#daa038",
}

func message(n notice) *slack.WebhookMessage {
	t := n.ticket
	fields := []slack.AttachmentField{
		{Title: "Requester", Value: t.RequesterName, Short: true},
		{Title: "Channel", Value: t.RequesterChannelID, Short: true},
		{Title: "Status", Value: string(t.Status), Short: true},
	}
	ts := t.CreatedAt
	if t.ClosedAt != nil {
		ts = *t.ClosedAt
		fields = append(fields, slack.AttachmentField{
			Title: "Open for",
			Value: t.ClosedAt.Sub(t.CreatedAt).Round(time.Minute).String(),
			Short: true,
		})
	}
	return &slack.WebhookMessage{
		Text: fmt.Sprintf("Ticket #%d %s", t.ID, n.event),
		Attachments: []slack.Attachment{{
			Color:  colors[n.event],
			Fields: fields,
			Ts:     json.Number(strconv.FormatInt(ts.Unix(), 10)),
		}},
	}
}
