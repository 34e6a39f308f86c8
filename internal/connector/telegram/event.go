package telegram

import (
	"strconv"
	"strings"
	"unicode/utf16"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/h1v3-io/relay/pkg/protocol"
)

// eventFromMessage converts a Telegram message into a protocol.Event.
// Messages without a sender (channel posts) are dropped.
func eventFromMessage(msg *tgbotapi.Message, self tgbotapi.User) (protocol.Event, bool) {
	if msg == nil || msg.From == nil || msg.Chat == nil {
		return protocol.Event{}, false
	}

	ev := protocol.Event{
		ChatID:    strconv.FormatInt(msg.Chat.ID, 10),
		ChatTitle: msg.Chat.Title,
		IsGroup:   msg.Chat.IsGroup() || msg.Chat.IsSuperGroup(),
		MessageID: strconv.Itoa(msg.MessageID),
		Sender: protocol.Sender{
			ID:       strconv.FormatInt(msg.From.ID, 10),
			Username: msg.From.UserName,
			FullName: strings.TrimSpace(msg.From.FirstName + " " + msg.From.LastName),
			IsBot:    msg.From.IsBot,
		},
		Content: contentOf(msg),
	}

	if r := msg.ReplyToMessage; r != nil {
		ev.ReplyTo = &protocol.ReplyRef{
			MessageID: strconv.Itoa(r.MessageID),
			Text:      r.Text,
			Caption:   r.Caption,
			FromSelf:  r.From != nil && r.From.ID == self.ID,
		}
	}

	if msg.IsCommand() && addressedToSelf(msg.CommandWithAt(), self.UserName) {
		ev.Command = strings.ToLower(msg.Command())
		ev.CommandArgs = msg.CommandArguments()
	}

	if self.UserName != "" {
		ev.Mentioned = mentions(msg.Text, msg.Entities, self.UserName) ||
			mentions(msg.Caption, msg.CaptionEntities, self.UserName)
	}
	return ev, true
}

// mentions reports whether a mention entity in text is exactly @username.
// Entity offsets count UTF-16 units.
func mentions(text string, entities []tgbotapi.MessageEntity, username string) bool {
	var units []uint16
	for _, e := range entities {
		if !e.IsMention() {
			continue
		}
		if units == nil {
			units = utf16.Encode([]rune(text))
		}
		if e.Offset < 0 || e.Length <= 0 || e.Offset+e.Length > len(units) {
			continue
		}
		name := string(utf16.Decode(units[e.Offset : e.Offset+e.Length]))
		if strings.EqualFold(name, "@"+username) {
			return true
		}
	}
	return false
}

// addressedToSelf reports whether "/cmd" or "/cmd@name" targets this bot.
func addressedToSelf(commandWithAt, username string) bool {
	i := strings.IndexByte(commandWithAt, '@')
	if i < 0 {
		return true
	}
	return strings.EqualFold(commandWithAt[i+1:], username)
}

func contentOf(msg *tgbotapi.Message) protocol.Content {
	c := protocol.Content{Caption: msg.Caption}
	switch {
	case msg.Text != "":
		c.Kind = protocol.KindText
		c.Text = msg.Text
	// Animations also carry a Document; check them first.
	case msg.Animation != nil:
		c.Kind = protocol.KindAnimation
	case len(msg.Photo) > 0:
		c.Kind = protocol.KindPhoto
	case msg.Video != nil:
		c.Kind = protocol.KindVideo
	case msg.Document != nil:
		c.Kind = protocol.KindDocument
		c.FileName = msg.Document.FileName
	case msg.Voice != nil:
		c.Kind = protocol.KindVoice
		c.Duration = msg.Voice.Duration
	case msg.Audio != nil:
		c.Kind = protocol.KindAudio
		c.Duration = msg.Audio.Duration
		c.Title = msg.Audio.Title
	case msg.VideoNote != nil:
		c.Kind = protocol.KindVideoNote
		c.Duration = msg.VideoNote.Duration
	case msg.Sticker != nil:
		c.Kind = protocol.KindSticker
		c.Emoji = msg.Sticker.Emoji
	// Venues also carry a Location.
	case msg.Venue != nil:
		c.Kind = protocol.KindVenue
	case msg.Location != nil:
		c.Kind = protocol.KindLocation
	case msg.Contact != nil:
		c.Kind = protocol.KindContact
	case msg.Poll != nil:
		c.Kind = protocol.KindPoll
	case msg.Dice != nil:
		c.Kind = protocol.KindDice
		c.Emoji = msg.Dice.Emoji
	case msg.Game != nil:
		c.Kind = protocol.KindGame
	default:
		c.Kind = protocol.KindUnknown
	}
	return c
}
