package relay

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/h1v3-io/relay/internal/ticket"
	"github.com/h1v3-io/relay/pkg/protocol"
)

const (
	responderChat = "-1000"
	customerChat  = "-100"
	otherChat     = "-200"
	adminID       = "1"
	botUsername   = "relaybot"
)

// sent is one outbound call recorded by fakeTransport.
type sent struct {
	Op        string // "send" or "copy"
	ChatID    string
	MessageID string
	Text      string
	ReplyTo   string
	Caption   *string
	From      string // copy source chat
	SourceID  string // copy source message
	Format    Format
}

type fakeTransport struct {
	mu       sync.Mutex
	next     int
	messages []sent
	byID     map[string]sent

	failSend func(chatID, text string) error
	failCopy func(toChatID string, caption *string) error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{next: 5000, byID: make(map[string]sent)}
}

func (f *fakeTransport) record(m sent) string {
	f.next++
	m.MessageID = strconv.Itoa(f.next)
	f.messages = append(f.messages, m)
	f.byID[m.MessageID] = m
	return m.MessageID
}

func (f *fakeTransport) SendText(_ context.Context, chatID, text string, opts SendOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSend != nil {
		if err := f.failSend(chatID, text); err != nil {
			return "", err
		}
	}
	return f.record(sent{Op: "send", ChatID: chatID, Text: text, ReplyTo: opts.ReplyTo, Format: opts.Format}), nil
}

func (f *fakeTransport) CopyContent(_ context.Context, fromChatID, messageID, toChatID string, opts CopyOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCopy != nil {
		if err := f.failCopy(toChatID, opts.Caption); err != nil {
			return "", err
		}
	}
	m := sent{Op: "copy", ChatID: toChatID, ReplyTo: opts.ReplyTo, Caption: opts.Caption,
		From: fromChatID, SourceID: messageID, Format: opts.Format}
	if opts.Caption != nil {
		m.Text = *opts.Caption
	}
	return f.record(m), nil
}

func (f *fakeTransport) Mention(userID, name string) string {
	return fmt.Sprintf("[%s](tg://user?id=%s)", name, userID)
}

func (f *fakeTransport) Username() string { return botUsername }

// in returns the messages sent to chatID, in order.
func (f *fakeTransport) in(chatID string) []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sent
	for _, m := range f.messages {
		if m.ChatID == chatID {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeTransport) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

func (f *fakeTransport) last(chatID string) sent {
	msgs := f.in(chatID)
	if len(msgs) == 0 {
		return sent{}
	}
	return msgs[len(msgs)-1]
}

// replyTo builds a reference to a message this transport sent.
func (f *fakeTransport) replyTo(messageID string) *protocol.ReplyRef {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := f.byID[messageID]
	ref := &protocol.ReplyRef{MessageID: messageID, FromSelf: true}
	if m.Op == "copy" {
		ref.Caption = m.Text
	} else {
		ref.Text = m.Text
	}
	return ref
}

type recordingObserver struct {
	mu     sync.Mutex
	events []LifecycleEvent
}

func (o *recordingObserver) Observe(_ context.Context, ev LifecycleEvent, _ *protocol.Ticket) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, ev)
}

type harness struct {
	t     *testing.T
	store *ticket.SQLiteStore
	tr    *fakeTransport
	obs   *recordingObserver
	d     *Dispatcher
	msgID int
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store, err := ticket.NewSQLiteStore(filepath.Join(t.TempDir(), "relay.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	require.NoError(t, store.AddChannel(ctx, customerChat))
	require.NoError(t, store.AddChannel(ctx, otherChat))

	h := &harness{t: t, store: store, tr: newFakeTransport(), obs: &recordingObserver{}, msgID: 100}
	h.d = NewDispatcher(DispatcherConfig{
		ResponderChatID: responderChat,
		AdminUserID:     adminID,
		Transport:       h.tr,
		Store:           store,
		Observer:        h.obs,
	})
	return h
}

func (h *harness) nextID() string {
	h.msgID++
	return strconv.Itoa(h.msgID)
}

// customer builds a requester-side text event from alice.
func (h *harness) customer(chatID, text string) protocol.Event {
	return protocol.Event{
		ChatID:    chatID,
		ChatTitle: "Acme",
		IsGroup:   true,
		MessageID: h.nextID(),
		Sender:    protocol.Sender{ID: "42", Username: "alice"},
		Content:   protocol.Content{Kind: protocol.KindText, Text: text},
	}
}

// staff builds a responder-side text event replying to messageID.
func (h *harness) staff(replyTo, text string) protocol.Event {
	return protocol.Event{
		ChatID:    responderChat,
		ChatTitle: "Staff",
		IsGroup:   true,
		MessageID: h.nextID(),
		Sender:    protocol.Sender{ID: "7", Username: "bob"},
		Content:   protocol.Content{Kind: protocol.KindText, Text: text},
		ReplyTo:   h.tr.replyTo(replyTo),
	}
}

func (h *harness) handle(ev protocol.Event) {
	h.t.Helper()
	_ = h.d.Handle(context.Background(), ev)
}

// open creates a ticket from chatID through the dispatcher and returns it.
func (h *harness) open(chatID, text string) *protocol.Ticket {
	h.t.Helper()
	ev := h.customer(chatID, text)
	ev.Mentioned = true
	require.NoError(h.t, h.d.Handle(context.Background(), ev))

	wrapper := h.tr.last(responderChat)
	tk, err := h.store.GetByResponderAnchor(context.Background(), wrapper.MessageID)
	require.NoError(h.t, err)
	return tk
}

func (h *harness) reload(tk *protocol.Ticket) *protocol.Ticket {
	h.t.Helper()
	got, err := h.store.GetByResponderAnchor(context.Background(), tk.ResponderAnchorID)
	require.NoError(h.t, err)
	return got
}
