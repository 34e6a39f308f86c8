package relay

import "context"

// Format selects how outbound text is rendered by the transport.
type Format int

const (
	FormatPlain Format = iota
	FormatMarkdown
)

// SendOptions controls a text send.
type SendOptions struct {
	ReplyTo string // message id to reply to; empty for none
	Format  Format
}

// CopyOptions controls a content copy.
type CopyOptions struct {
	ReplyTo string
	Caption *string // replaces the original caption when non-nil
	Format  Format  // applies to Caption
}

// Transport is the chat platform as seen by the relay. Every call may block
// on the network; ids returned are the new message's id in the target chat.
type Transport interface {
	SendText(ctx context.Context, chatID, text string, opts SendOptions) (string, error)
	CopyContent(ctx context.Context, fromChatID, messageID, toChatID string, opts CopyOptions) (string, error)
	// Mention renders a Markdown mention of a user that notifies them.
	Mention(userID, name string) string
	// Username is the bot's own username, without "@".
	Username() string
}
