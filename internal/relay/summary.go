package relay

import (
	"fmt"
	"strings"

	"github.com/h1v3-io/relay/pkg/protocol"
)

var (
	wrapperRule      = strings.Repeat("─", 30)
	continuationRule = strings.Repeat("─", 20)
)

// summaries renders non-text content for the responder channel. Kinds not
// listed fall through to the generic label in Summarize.
var summaries = map[protocol.ContentKind]func(protocol.Content) string{
	protocol.KindText: func(c protocol.Content) string { return c.Text },
	protocol.KindPhoto: func(c protocol.Content) string {
		return withCaption("📷 Photo attachment", c.Caption)
	},
	protocol.KindVideo: func(c protocol.Content) string {
		return withCaption("🎬 Video attachment", c.Caption)
	},
	protocol.KindDocument: func(c protocol.Content) string {
		name := c.FileName
		if name == "" {
			name = "Unnamed file"
		}
		return withCaption("📎 File attachment: "+name, c.Caption)
	},
	protocol.KindVoice: func(c protocol.Content) string {
		return fmt.Sprintf("🎤 Voice message (%ds)", c.Duration)
	},
	protocol.KindAudio: func(c protocol.Content) string {
		if c.Title != "" {
			return "🎵 Audio: " + c.Title
		}
		return "🎵 Audio attachment"
	},
	protocol.KindVideoNote: func(protocol.Content) string { return "🎥 Video message" },
	protocol.KindSticker: func(c protocol.Content) string {
		return "🎭 Sticker: " + c.Emoji
	},
	protocol.KindAnimation: func(protocol.Content) string { return "🎞️ GIF animation" },
}

// Summarize renders content as text for the responder channel. Every kind,
// including ones the transport adds later, yields a label.
func Summarize(c protocol.Content) string {
	if render, ok := summaries[c.Kind]; ok {
		return render(c)
	}
	kind := string(c.Kind)
	if kind == "" {
		kind = string(protocol.KindUnknown)
	}
	return fmt.Sprintf("📦 %s type message", kind)
}

func withCaption(label, caption string) string {
	if caption == "" {
		return label
	}
	return label + "\nCaption: " + caption
}

// wrapperText is the responder-channel message that anchors a new ticket.
func wrapperText(id int64, chatTitle, requester string, c protocol.Content) string {
	return fmt.Sprintf("🎫 Ticket #%d\n📍 From group: %s\n👤 User: %s\n%s\n%s",
		id, chatTitle, requester, wrapperRule, Summarize(c))
}

const continuationFormat = "💬 Continued message (Ticket #%d)\n👤 %s\n%s\n"

func continuationHeader(id int64, requester string) string {
	return fmt.Sprintf(continuationFormat, id, requester, continuationRule)
}

func staffReplyHeader(id int64, mention string) string {
	return fmt.Sprintf("💬 Staff reply (Ticket #%d)\n📢 %s\n%s\n", id, mention, wrapperRule)
}
