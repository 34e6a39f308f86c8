package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/h1v3-io/relay/internal/ticket"
	"github.com/h1v3-io/relay/pkg/protocol"
)

// Dispatcher is the inbound entry point: it handles help and admin commands,
// resolves everything else, and turns each outcome into engine calls and
// user-facing notices.
type Dispatcher struct {
	cfg       DispatcherConfig
	resolver  *Resolver
	engine    *Engine
	lifecycle *Lifecycle
	logger    *slog.Logger
}

// DispatcherConfig is fixed at startup.
type DispatcherConfig struct {
	ResponderChatID string
	AdminUserID     string
	Transport       Transport
	Store           ticket.Store
	Observer        Observer
	IDs             *IDGenerator
	Logger          *slog.Logger
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Observer == nil {
		cfg.Observer = NopObserver{}
	}
	return &Dispatcher{
		cfg:      cfg,
		resolver: NewResolver(cfg.Store, cfg.ResponderChatID),
		engine: NewEngine(EngineConfig{
			Transport:       cfg.Transport,
			Store:           cfg.Store,
			IDs:             cfg.IDs,
			Observer:        cfg.Observer,
			ResponderChatID: cfg.ResponderChatID,
			Logger:          cfg.Logger,
		}),
		lifecycle: NewLifecycle(cfg.Store, cfg.Observer),
		logger:    cfg.Logger,
	}
}

// Handle processes one inbound event. The returned error is for logging
// only; anything the user should see has already been sent.
func (d *Dispatcher) Handle(ctx context.Context, ev protocol.Event) error {
	if ev.Sender.IsBot {
		return nil
	}
	logger := loggerFrom(ctx, d.logger)

	switch ev.Command {
	case "start", "help":
		d.reply(ctx, ev, fmt.Sprintf(noticeHelp, d.cfg.Transport.Username()), FormatMarkdown)
		return nil
	case "addgroup", "removegroup", "listgroups":
		if ev.Sender.ID != d.cfg.AdminUserID {
			return nil
		}
		return d.handleAdmin(ctx, ev)
	}

	res, err := d.resolver.Resolve(ctx, ev)
	if err != nil {
		return d.handleResolveError(ctx, ev, err)
	}
	logger.Debug("event resolved", "chat_id", ev.ChatID, "message_id", ev.MessageID,
		"outcome", res.Outcome, "reason", res.Reason)

	switch res.Outcome {
	case NewRequest:
		if _, err := d.engine.CreateTicket(ctx, ev); err != nil {
			logger.Error("create ticket failed", "chat_id", ev.ChatID, "kind", KindOf(err), "error", err)
			d.reply(ctx, ev, noticeSystemError, FormatPlain)
			return err
		}
		return nil

	case Continuation:
		if res.Unresolved {
			d.reply(ctx, ev, fmt.Sprintf(noticeTicketNotFound, d.cfg.Transport.Username()), FormatPlain)
			return nil
		}
		if ev.ChatID == d.cfg.ResponderChatID {
			return d.relayStaffReply(ctx, ev, res.Ticket)
		}
		return d.relayFollowUp(ctx, ev, res)

	case ControlCommand:
		return d.applyDirective(ctx, ev, res.Ticket, res.Directive)
	}

	if res.Reason == ReasonForeignTicket {
		logger.Info("cross-channel ticket reference rejected", "ticket_id", res.Ticket.ID,
			"chat_id", ev.ChatID, "owner_chat_id", res.Ticket.RequesterChannelID)
		d.reply(ctx, ev, noticeForeignTicket, FormatPlain)
	}
	return nil
}

func (d *Dispatcher) handleResolveError(ctx context.Context, ev protocol.Event, err error) error {
	switch KindOf(err) {
	case KindValidation:
		if errors.Is(err, errInvalidID) {
			d.reply(ctx, ev, noticeInvalidID, FormatPlain)
		} else {
			d.reply(ctx, ev, noticeInvalidFormat, FormatPlain)
		}
		return nil
	case KindNotFound:
		loggerFrom(ctx, d.logger).Debug("explicit ticket reference not found", "chat_id", ev.ChatID, "error", err)
		d.reply(ctx, ev, noticeNoSuchTicket, FormatPlain)
		return nil
	}
	loggerFrom(ctx, d.logger).Error("resolve failed", "chat_id", ev.ChatID, "error", err)
	return err
}

// relayFollowUp forwards a requester continuation, by reply or by /t.
func (d *Dispatcher) relayFollowUp(ctx context.Context, ev protocol.Event, res Resolution) error {
	if res.Text != "" {
		ev.Content = protocol.Content{Kind: protocol.KindText, Text: res.Text}
	}
	err := d.engine.RelayRequesterToResponder(ctx, res.Ticket, ev)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrTicketClosed):
		d.reply(ctx, ev, noticeClosed, FormatPlain)
		return nil
	}
	loggerFrom(ctx, d.logger).Error("forward continuation failed", "ticket_id", res.Ticket.ID, "error", err)
	d.reply(ctx, ev, noticeForwardFailed, FormatPlain)
	return err
}

func (d *Dispatcher) relayStaffReply(ctx context.Context, ev protocol.Event, t *protocol.Ticket) error {
	logger := loggerFrom(ctx, d.logger)
	_, err := d.engine.RelayResponderToRequester(ctx, t, ev)
	switch {
	case err == nil:
		d.reply(ctx, ev, noticeReplySent, FormatPlain)
		return nil
	case errors.Is(err, ErrTicketClosed):
		d.reply(ctx, ev, fmt.Sprintf(noticeClosedStaff, t.ID), FormatPlain)
		return nil
	case errors.Is(err, ErrPartialDelivery):
		logger.Warn("staff reply partially delivered", "ticket_id", t.ID, "error", err)
		d.reply(ctx, ev, noticeReplyPartial, FormatPlain)
		return err
	}
	logger.Error("staff reply failed", "ticket_id", t.ID, "kind", KindOf(err), "error", err)
	d.reply(ctx, ev, noticeSendFailed, FormatPlain)
	return err
}

func (d *Dispatcher) applyDirective(ctx context.Context, ev protocol.Event, t *protocol.Ticket, dir Directive) error {
	logger := loggerFrom(ctx, d.logger)
	tr, err := d.lifecycle.Apply(ctx, t, dir)
	if err != nil {
		logger.Error("directive failed", "ticket_id", t.ID, "directive", dir, "error", err)
		if dir == DirectiveReopen {
			d.reply(ctx, ev, noticeReopenFailed, FormatPlain)
		} else {
			d.reply(ctx, ev, noticeCloseFailed, FormatPlain)
		}
		return err
	}
	logger.Info("directive applied", "ticket_id", t.ID, "directive", dir, "status", t.Status)
	d.reply(ctx, ev, transitionNotice(tr, t.ID), FormatPlain)
	return nil
}

func (d *Dispatcher) handleAdmin(ctx context.Context, ev protocol.Event) error {
	logger := loggerFrom(ctx, d.logger)

	if ev.Command == "listgroups" {
		ids, err := d.cfg.Store.ListChannels(ctx)
		if err != nil {
			logger.Error("list channels failed", "error", err)
			return err
		}
		if len(ids) == 0 {
			d.reply(ctx, ev, noticeNoGroups, FormatPlain)
			return nil
		}
		lines := make([]string, len(ids))
		for i, id := range ids {
			lines[i] = "• " + id
		}
		d.reply(ctx, ev, fmt.Sprintf(noticeGroupList, len(ids), strings.Join(lines, "\n")), FormatPlain)
		return nil
	}

	if !ev.IsGroup {
		d.reply(ctx, ev, noticeGroupsOnly, FormatPlain)
		return nil
	}

	switch ev.Command {
	case "addgroup":
		if ev.ChatID == d.cfg.ResponderChatID {
			d.reply(ctx, ev, noticeResponderGroup, FormatPlain)
			return nil
		}
		if err := d.cfg.Store.AddChannel(ctx, ev.ChatID); err != nil {
			logger.Error("add channel failed", "chat_id", ev.ChatID, "error", err)
			d.reply(ctx, ev, noticeAddGroupFailed, FormatPlain)
			return err
		}
		// Success stays silent in the group.
		logger.Info("customer group added", "chat_id", ev.ChatID, "title", ev.ChatTitle)

	case "removegroup":
		err := d.cfg.Store.RemoveChannel(ctx, ev.ChatID)
		switch {
		case errors.Is(err, ticket.ErrNotFound):
			d.reply(ctx, ev, noticeNotCustomerGroup, FormatPlain)
		case err != nil:
			logger.Error("remove channel failed", "chat_id", ev.ChatID, "error", err)
			d.reply(ctx, ev, noticeRemoveFailed, FormatPlain)
			return err
		default:
			logger.Info("customer group removed", "chat_id", ev.ChatID)
			d.reply(ctx, ev, fmt.Sprintf(noticeRemovedGroup, ev.ChatID), FormatPlain)
		}
	}
	return nil
}

// reply answers ev in its own chat. Failures are logged; a notice that
// cannot be delivered has nowhere else to go.
func (d *Dispatcher) reply(ctx context.Context, ev protocol.Event, text string, format Format) {
	if _, err := d.cfg.Transport.SendText(ctx, ev.ChatID, text, SendOptions{ReplyTo: ev.MessageID, Format: format}); err != nil {
		loggerFrom(ctx, d.logger).Warn("notice not delivered", "chat_id", ev.ChatID, "error", err)
	}
}
