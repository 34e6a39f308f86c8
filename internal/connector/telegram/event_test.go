package telegram

import (
	"slices"
	"testing"
	"unicode/utf16"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/h1v3-io/relay/pkg/protocol"
)

func groupMessage(text string) *tgbotapi.Message {
	return &tgbotapi.Message{
		MessageID: 10,
		From:      &tgbotapi.User{ID: 42, FirstName: "Alice", LastName: "Liddell", UserName: "alice"},
		Chat:      &tgbotapi.Chat{ID: -100, Type: "supergroup", Title: "Acme"},
		Text:      text,
	}
}

func withCommand(msg *tgbotapi.Message, length int) *tgbotapi.Message {
	msg.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: length}}
	return msg
}

func TestEventFromMessage_Basics(t *testing.T) {
	ev, ok := eventFromMessage(groupMessage("hello"), testSelf)
	if !ok {
		t.Fatal("expected event")
	}
	if ev.ChatID != "-100" || ev.ChatTitle != "Acme" || !ev.IsGroup || ev.MessageID != "10" {
		t.Errorf("chat fields: %+v", ev)
	}
	if ev.Sender.ID != "42" || ev.Sender.Username != "alice" || ev.Sender.FullName != "Alice Liddell" {
		t.Errorf("sender: %+v", ev.Sender)
	}
	if ev.Content.Kind != protocol.KindText || ev.Content.Text != "hello" {
		t.Errorf("content: %+v", ev.Content)
	}
	if ev.ReplyTo != nil || ev.Command != "" || ev.Mentioned {
		t.Errorf("unexpected extras: %+v", ev)
	}
}

func TestEventFromMessage_NoSender(t *testing.T) {
	msg := groupMessage("channel post")
	msg.From = nil
	if _, ok := eventFromMessage(msg, testSelf); ok {
		t.Error("channel posts should be dropped")
	}
}

func TestEventFromMessage_Private(t *testing.T) {
	msg := groupMessage("hi")
	msg.Chat = &tgbotapi.Chat{ID: 42, Type: "private"}
	ev, _ := eventFromMessage(msg, testSelf)
	if ev.IsGroup {
		t.Error("private chat reported as group")
	}
}

func TestEventFromMessage_Reply(t *testing.T) {
	msg := groupMessage("thanks")
	msg.ReplyToMessage = &tgbotapi.Message{
		MessageID: 9,
		From:      &tgbotapi.User{ID: testSelf.ID, IsBot: true},
		Caption:   "💬 Staff reply (Ticket #123)",
	}
	ev, _ := eventFromMessage(msg, testSelf)
	if ev.ReplyTo == nil {
		t.Fatal("expected reply ref")
	}
	if ev.ReplyTo.MessageID != "9" || !ev.ReplyTo.FromSelf || ev.ReplyTo.Text != "" || ev.ReplyTo.Body() != "💬 Staff reply (Ticket #123)" {
		t.Errorf("reply: %+v", ev.ReplyTo)
	}

	msg.ReplyToMessage.From = &tgbotapi.User{ID: 7}
	ev, _ = eventFromMessage(msg, testSelf)
	if ev.ReplyTo.FromSelf {
		t.Error("reply to a human marked as self")
	}
}

func TestEventFromMessage_Commands(t *testing.T) {
	tests := []struct {
		text     string
		length   int
		wantCmd  string
		wantArgs string
	}{
		{"/t 123 more info", 2, "t", "123 more info"},
		{"/ASK help me", 4, "ask", "help me"},
		{"/close@RelayBot", 15, "close", ""},
		{"/close@otherbot", 15, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			ev, _ := eventFromMessage(withCommand(groupMessage(tt.text), tt.length), testSelf)
			if ev.Command != tt.wantCmd || ev.CommandArgs != tt.wantArgs {
				t.Errorf("got %q %q, want %q %q", ev.Command, ev.CommandArgs, tt.wantCmd, tt.wantArgs)
			}
		})
	}
}

// withMention marks every occurrence of handle as a mention entity, the way
// Telegram does for "@name" tokens.
func withMention(msg *tgbotapi.Message, handle string) *tgbotapi.Message {
	text, entities := msg.Text, &msg.Entities
	if text == "" {
		text, entities = msg.Caption, &msg.CaptionEntities
	}
	units := utf16.Encode([]rune(text))
	want := utf16.Encode([]rune(handle))
	for i := 0; i+len(want) <= len(units); i++ {
		if slices.Equal(units[i:i+len(want)], want) {
			*entities = append(*entities, tgbotapi.MessageEntity{Type: "mention", Offset: i, Length: len(want)})
		}
	}
	return msg
}

func TestEventFromMessage_Mentions(t *testing.T) {
	photo := groupMessage("")
	photo.Photo = []tgbotapi.PhotoSize{{FileID: "p"}}
	photo.Caption = "📷 @RelayBot see screenshot"

	tests := []struct {
		name string
		msg  *tgbotapi.Message
		want bool
	}{
		{"text mention", withMention(groupMessage("hey @relaybot the app crashed"), "@relaybot"), true},
		{"after emoji", withMention(groupMessage("🔥🔥 @RelayBot down"), "@RelayBot"), true},
		{"caption mention", withMention(photo, "@RelayBot"), true},
		{"other bot", withMention(groupMessage("@otherbot hi"), "@otherbot"), false},
		{"longer handle", withMention(groupMessage("@RelayBot_fan hi"), "@RelayBot_fan"), false},
		{"email address", groupMessage("write to support@RelayBot.com please"), false},
		{"text without entity", groupMessage("@relaybot typed but not parsed"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, _ := eventFromMessage(tt.msg, testSelf)
			if ev.Mentioned != tt.want {
				t.Errorf("mentioned = %v, want %v", ev.Mentioned, tt.want)
			}
		})
	}
}

func TestMentions_BadOffsets(t *testing.T) {
	entities := []tgbotapi.MessageEntity{{Type: "mention", Offset: 5, Length: 40}, {Type: "mention", Offset: -1, Length: 3}}
	if mentions("@relaybot", entities, "RelayBot") {
		t.Error("out-of-range entity matched")
	}
}

func TestContentOf(t *testing.T) {
	tests := []struct {
		name string
		msg  tgbotapi.Message
		want protocol.Content
	}{
		{"photo", tgbotapi.Message{Photo: []tgbotapi.PhotoSize{{}}, Caption: "c"},
			protocol.Content{Kind: protocol.KindPhoto, Caption: "c"}},
		{"animation before document", tgbotapi.Message{Animation: &tgbotapi.Animation{}, Document: &tgbotapi.Document{FileName: "a.gif"}},
			protocol.Content{Kind: protocol.KindAnimation}},
		{"document", tgbotapi.Message{Document: &tgbotapi.Document{FileName: "log.txt"}},
			protocol.Content{Kind: protocol.KindDocument, FileName: "log.txt"}},
		{"voice", tgbotapi.Message{Voice: &tgbotapi.Voice{Duration: 4}},
			protocol.Content{Kind: protocol.KindVoice, Duration: 4}},
		{"audio", tgbotapi.Message{Audio: &tgbotapi.Audio{Title: "Song", Duration: 60}},
			protocol.Content{Kind: protocol.KindAudio, Title: "Song", Duration: 60}},
		{"video note", tgbotapi.Message{VideoNote: &tgbotapi.VideoNote{Duration: 3}},
			protocol.Content{Kind: protocol.KindVideoNote, Duration: 3}},
		{"sticker", tgbotapi.Message{Sticker: &tgbotapi.Sticker{Emoji: "🔥"}},
			protocol.Content{Kind: protocol.KindSticker, Emoji: "🔥"}},
		{"venue before location", tgbotapi.Message{Venue: &tgbotapi.Venue{}, Location: &tgbotapi.Location{}},
			protocol.Content{Kind: protocol.KindVenue}},
		{"location", tgbotapi.Message{Location: &tgbotapi.Location{}},
			protocol.Content{Kind: protocol.KindLocation}},
		{"contact", tgbotapi.Message{Contact: &tgbotapi.Contact{}},
			protocol.Content{Kind: protocol.KindContact}},
		{"poll", tgbotapi.Message{Poll: &tgbotapi.Poll{}},
			protocol.Content{Kind: protocol.KindPoll}},
		{"dice", tgbotapi.Message{Dice: &tgbotapi.Dice{Emoji: "🎲"}},
			protocol.Content{Kind: protocol.KindDice, Emoji: "🎲"}},
		{"unknown", tgbotapi.Message{},
			protocol.Content{Kind: protocol.KindUnknown}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := contentOf(&tt.msg); got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}
