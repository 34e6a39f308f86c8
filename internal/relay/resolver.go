package relay

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/h1v3-io/relay/internal/ticket"
	"github.com/h1v3-io/relay/pkg/protocol"
)

// Outcome is the classification of an inbound event.
type Outcome int

const (
	Unroutable Outcome = iota
	NewRequest
	Continuation
	ControlCommand
)

func (o Outcome) String() string {
	switch o {
	case NewRequest:
		return "new_request"
	case Continuation:
		return "continuation"
	case ControlCommand:
		return "control_command"
	}
	return "unroutable"
}

// Reason says why an event was unroutable.
type Reason string

const (
	ReasonNone          Reason = ""
	ReasonBot           Reason = "bot_sender"
	ReasonNoReply       Reason = "responder_message_without_reply"
	ReasonNotAnchor     Reason = "reply_to_unknown_message"
	ReasonUnauthorized  Reason = "unauthorized_channel"
	ReasonForeignTicket Reason = "ticket_belongs_to_other_channel"
	ReasonNoTrigger     Reason = "no_trigger"
)

// Directive is a lifecycle control token sent by the responder side.
type Directive string

const (
	DirectiveClose  Directive = "close"
	DirectiveReopen Directive = "reopen"
)

// Resolution is the result of resolving one inbound event.
type Resolution struct {
	Outcome   Outcome
	Ticket    *protocol.Ticket
	Directive Directive
	// Unresolved is set on a requester reply that carries a ticket reference
	// but matches no anchor in the channel.
	Unresolved bool
	// Text holds the content of an explicit continuation command.
	Text   string
	Reason Reason
}

var (
	refPattern = regexp.MustCompile(`Ticket #(\d+)`)

	errInvalidFormat = errors.New("invalid format")
	errInvalidID     = errors.New("ticket id must be a number")
)

func ticketRef(id int64) string {
	return fmt.Sprintf("Ticket #%d", id)
}

// refID extracts the first embedded ticket reference from text.
func refID(text string) (int64, bool) {
	m := refPattern.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	id, err := strconv.ParseInt(m[1], 10, 64)
	return id, err == nil
}

// noticePrefixes are the openings of the relay's own responder-chat texts
// that name a ticket, up to the id.
var noticePrefixes = func() []string {
	var out []string
	for _, format := range []string{
		noticeTicketClosed, noticeTicketReopened, noticeAlreadyOpen,
		noticeClosedStaff, continuationFormat,
	} {
		prefix, _, _ := strings.Cut(format, "%d")
		out = append(out, prefix)
	}
	return out
}()

// noticeRef reads the ticket id that opens one of the relay's notices.
// Captions are never passed here: copied requester media keeps the
// requester's caption.
func noticeRef(text string) (int64, bool) {
	for _, prefix := range noticePrefixes {
		rest, ok := strings.CutPrefix(text, prefix)
		if !ok {
			continue
		}
		digits := rest[:len(rest)-len(strings.TrimLeft(rest, "0123456789"))]
		id, err := strconv.ParseInt(digits, 10, 64)
		return id, err == nil
	}
	return 0, false
}

// parseDirective matches a trimmed, case-insensitive message body against
// the directive tokens, allowing an "@botname" suffix on the token.
func parseDirective(body string) (Directive, bool) {
	s := strings.ToLower(strings.TrimSpace(body))
	if i := strings.IndexByte(s, '@'); i > 0 && !strings.ContainsAny(s, " \n\t") {
		s = s[:i]
	}
	switch s {
	case "/close", "/done":
		return DirectiveClose, true
	case "/reopen":
		return DirectiveReopen, true
	}
	return "", false
}

// Resolver classifies inbound events against the ticket store.
type Resolver struct {
	store           ticket.Store
	responderChatID string
}

func NewResolver(store ticket.Store, responderChatID string) *Resolver {
	return &Resolver{store: store, responderChatID: responderChatID}
}

// Resolve classifies ev. A nil error with Outcome Unroutable means the event
// is ignored. Errors are *Error values: KindValidation and KindNotFound for
// a bad explicit command, KindStorage for store faults.
func (r *Resolver) Resolve(ctx context.Context, ev protocol.Event) (Resolution, error) {
	if ev.Sender.IsBot {
		return Resolution{Reason: ReasonBot}, nil
	}
	if ev.ChatID == r.responderChatID {
		return r.resolveResponder(ctx, ev)
	}

	ok, err := r.store.IsAuthorized(ctx, ev.ChatID)
	if err != nil {
		return Resolution{}, storeError("authorize", err)
	}
	if !ok {
		return Resolution{Reason: ReasonUnauthorized}, nil
	}

	if ev.ReplyTo != nil && ev.ReplyTo.FromSelf {
		if _, ok := refID(ev.ReplyTo.Body()); ok {
			t, err := r.store.GetByRequesterAnchor(ctx, ev.ChatID, ev.ReplyTo.MessageID)
			if errors.Is(err, ticket.ErrNotFound) {
				return Resolution{Outcome: Continuation, Unresolved: true}, nil
			}
			if err != nil {
				return Resolution{}, storeError("get by requester anchor", err)
			}
			return Resolution{Outcome: Continuation, Ticket: t}, nil
		}
	}

	switch ev.Command {
	case "t", "ticket":
		return r.resolveExplicit(ctx, ev)
	case "ask":
		return Resolution{Outcome: NewRequest}, nil
	}
	if ev.Mentioned {
		return Resolution{Outcome: NewRequest}, nil
	}
	return Resolution{Reason: ReasonNoTrigger}, nil
}

func (r *Resolver) resolveResponder(ctx context.Context, ev protocol.Event) (Resolution, error) {
	if ev.ReplyTo == nil {
		return Resolution{Reason: ReasonNoReply}, nil
	}

	t, err := r.store.GetByResponderAnchor(ctx, ev.ReplyTo.MessageID)
	if errors.Is(err, ticket.ErrNotFound) && ev.ReplyTo.FromSelf {
		// Not a wrapper, but one of our own notices naming a ticket.
		if id, ok := noticeRef(ev.ReplyTo.Text); ok {
			t, err = r.store.GetByTicketID(ctx, id)
		}
	}
	if errors.Is(err, ticket.ErrNotFound) {
		return Resolution{Reason: ReasonNotAnchor}, nil
	}
	if err != nil {
		return Resolution{}, storeError("get by responder anchor", err)
	}

	if ev.Content.Kind == protocol.KindText {
		if d, ok := parseDirective(ev.Content.Text); ok {
			return Resolution{Outcome: ControlCommand, Ticket: t, Directive: d}, nil
		}
	}
	return Resolution{Outcome: Continuation, Ticket: t}, nil
}

// resolveExplicit handles "/t <id> <content>".
func (r *Resolver) resolveExplicit(ctx context.Context, ev protocol.Event) (Resolution, error) {
	args := strings.TrimSpace(ev.CommandArgs)
	i := strings.IndexFunc(args, unicode.IsSpace)
	if i < 0 {
		return Resolution{}, validationError("explicit continuation", errInvalidFormat)
	}
	rawID, text := args[:i], strings.TrimSpace(args[i:])
	if text == "" {
		return Resolution{}, validationError("explicit continuation", errInvalidFormat)
	}
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		return Resolution{}, validationError("explicit continuation", errInvalidID)
	}

	t, err := r.store.GetByTicketID(ctx, id)
	if err != nil {
		return Resolution{}, storeError("get by ticket id", err)
	}
	if t.RequesterChannelID != ev.ChatID {
		return Resolution{Reason: ReasonForeignTicket, Ticket: t}, nil
	}
	return Resolution{Outcome: Continuation, Ticket: t, Text: text}, nil
}
