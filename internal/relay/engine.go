package relay

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/h1v3-io/relay/internal/ticket"
	"github.com/h1v3-io/relay/pkg/protocol"
)

// Engine performs cross-channel sends and keeps routing anchors current.
type Engine struct {
	transport       Transport
	store           ticket.Store
	ids             *IDGenerator
	observer        Observer
	responderChatID string
	logger          *slog.Logger
}

// EngineConfig holds Engine dependencies.
type EngineConfig struct {
	Transport       Transport
	Store           ticket.Store
	IDs             *IDGenerator // nil = fresh generator
	Observer        Observer     // nil = NopObserver
	ResponderChatID string
	Logger          *slog.Logger
}

func NewEngine(cfg EngineConfig) *Engine {
	if cfg.IDs == nil {
		cfg.IDs = NewIDGenerator()
	}
	if cfg.Observer == nil {
		cfg.Observer = NopObserver{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Engine{
		transport:       cfg.Transport,
		store:           cfg.Store,
		ids:             cfg.IDs,
		observer:        cfg.Observer,
		responderChatID: cfg.ResponderChatID,
		logger:          cfg.Logger,
	}
}

// CreateTicket opens a ticket for ev: it posts the wrapper to the responder
// channel, stores the ticket keyed by the wrapper, then copies non-text
// content under the wrapper. Nothing is sent to the requester channel.
func (e *Engine) CreateTicket(ctx context.Context, ev protocol.Event) (*protocol.Ticket, error) {
	logger := loggerFrom(ctx, e.logger)
	id := e.ids.Next()

	anchor, err := e.transport.SendText(ctx, e.responderChatID,
		wrapperText(id, ev.ChatTitle, ev.Sender.Handle(), ev.Content), SendOptions{})
	if err != nil {
		return nil, transportError("send wrapper", err)
	}

	t := &protocol.Ticket{
		ID:                 id,
		ResponderAnchorID:  anchor,
		RequesterChannelID: ev.ChatID,
		RequesterMessageID: ev.MessageID,
		RequesterID:        ev.Sender.ID,
		RequesterName:      ev.Sender.DisplayName(),
	}
	if err := e.store.Create(ctx, t); err != nil {
		return nil, storeError("create", err)
	}

	if ev.Content.Kind != protocol.KindText {
		if _, err := e.transport.CopyContent(ctx, ev.ChatID, ev.MessageID, e.responderChatID,
			CopyOptions{ReplyTo: anchor}); err != nil {
			// The wrapper already carries a summary of the content.
			logger.Warn("copy original content failed", "ticket_id", id, "kind", ev.Content.Kind, "error", err)
		}
	}

	logger.Info("ticket created", "ticket_id", id, "channel", ev.ChatID,
		"requester", t.RequesterName, "kind", ev.Content.Kind)
	e.observer.Observe(ctx, EventCreated, t)
	return t, nil
}

// RelayRequesterToResponder posts a requester follow-up under the ticket's
// wrapper. Text goes inline with the header; other content is copied after it.
func (e *Engine) RelayRequesterToResponder(ctx context.Context, t *protocol.Ticket, ev protocol.Event) error {
	if err := checkOpen(t); err != nil {
		return err
	}
	header := continuationHeader(t.ID, ev.Sender.Handle())
	opts := SendOptions{ReplyTo: t.ResponderAnchorID}

	if ev.Content.Kind == protocol.KindText {
		if _, err := e.transport.SendText(ctx, e.responderChatID, header+ev.Content.Text, opts); err != nil {
			return transportError("send continuation", err)
		}
	} else {
		if _, err := e.transport.SendText(ctx, e.responderChatID, header, opts); err != nil {
			return transportError("send continuation header", err)
		}
		if _, err := e.transport.CopyContent(ctx, ev.ChatID, ev.MessageID, e.responderChatID,
			CopyOptions{ReplyTo: t.ResponderAnchorID}); err != nil {
			return transportError("copy continuation", err)
		}
	}

	loggerFrom(ctx, e.logger).Info("continuation relayed", "ticket_id", t.ID, "kind", ev.Content.Kind)
	return nil
}

// RelayResponderToRequester delivers a staff reply into the requester
// channel as a reply to the ticket's first message and moves the requester
// anchor to the new message. When the header lands but copying the content
// fails, the anchor still moves and ErrPartialDelivery is returned.
func (e *Engine) RelayResponderToRequester(ctx context.Context, t *protocol.Ticket, ev protocol.Event) (string, error) {
	if err := checkOpen(t); err != nil {
		return "", err
	}
	logger := loggerFrom(ctx, e.logger)
	text := staffReplyHeader(t.ID, e.transport.Mention(t.RequesterID, t.RequesterName)) + ev.Content.Body()
	sendOpts := SendOptions{ReplyTo: t.RequesterMessageID, Format: FormatMarkdown}
	copyOpts := CopyOptions{ReplyTo: t.RequesterMessageID}

	var anchor string
	var copyErr error
	var err error

	switch {
	case ev.Content.Kind == protocol.KindText:
		anchor, err = e.transport.SendText(ctx, t.RequesterChannelID, text, sendOpts)

	case !ev.Content.Kind.SupportsCaption():
		anchor, err = e.transport.SendText(ctx, t.RequesterChannelID, text, sendOpts)
		if err == nil {
			_, copyErr = e.transport.CopyContent(ctx, e.responderChatID, ev.MessageID, t.RequesterChannelID, copyOpts)
		}

	default:
		anchor, err = e.transport.CopyContent(ctx, e.responderChatID, ev.MessageID, t.RequesterChannelID,
			CopyOptions{ReplyTo: t.RequesterMessageID, Caption: &text, Format: FormatMarkdown})
		if err != nil {
			logger.Warn("copy with caption failed, sending header separately", "ticket_id", t.ID, "error", err)
			anchor, err = e.transport.SendText(ctx, t.RequesterChannelID, text, sendOpts)
			if err == nil {
				_, copyErr = e.transport.CopyContent(ctx, e.responderChatID, ev.MessageID, t.RequesterChannelID, copyOpts)
			}
		}
	}
	if err != nil {
		return "", transportError("send staff reply", err)
	}

	if err := e.store.UpdateRequesterAnchor(ctx, t.ResponderAnchorID, anchor); err != nil {
		return anchor, storeError("update requester anchor", err)
	}
	t.RequesterAnchorID = anchor
	logger.Info("staff reply relayed", "ticket_id", t.ID, "anchor", anchor, "kind", ev.Content.Kind)

	if copyErr != nil {
		return anchor, transportError("copy staff reply", fmt.Errorf("%w: %w", ErrPartialDelivery, copyErr))
	}
	return anchor, nil
}
