package protocol

// ContentKind is the transport's classification of a message payload.
// Transports may report kinds not listed here; consumers must treat
// unknown kinds as opaque.
type ContentKind string

const (
	KindText      ContentKind = "text"
	KindPhoto     ContentKind = "photo"
	KindVideo     ContentKind = "video"
	KindDocument  ContentKind = "document"
	KindVoice     ContentKind = "voice"
	KindAudio     ContentKind = "audio"
	KindVideoNote ContentKind = "video_note"
	KindSticker   ContentKind = "sticker"
	KindAnimation ContentKind = "animation"
	KindLocation  ContentKind = "location"
	KindVenue     ContentKind = "venue"
	KindContact   ContentKind = "contact"
	KindPoll      ContentKind = "poll"
	KindDice      ContentKind = "dice"
	KindGame      ContentKind = "game"
	KindUnknown   ContentKind = "unknown"
)

// SupportsCaption reports whether content of this kind can carry a caption
// when copied. Unknown kinds are assumed not to.
func (k ContentKind) SupportsCaption() bool {
	switch k {
	case KindPhoto, KindVideo, KindDocument, KindVoice, KindAudio, KindAnimation:
		return true
	}
	return false
}

// Content is the payload of an inbound message. Only the fields relevant to
// Kind are populated.
type Content struct {
	Kind     ContentKind `json:"kind"`
	Text     string      `json:"text,omitempty"`
	Caption  string      `json:"caption,omitempty"`
	FileName string      `json:"file_name,omitempty"` // document
	Duration int         `json:"duration,omitempty"`  // voice, audio, video_note (seconds)
	Title    string      `json:"title,omitempty"`     // audio
	Emoji    string      `json:"emoji,omitempty"`     // sticker, dice
}

// Body returns the text of a text message or the caption of anything else.
func (c Content) Body() string {
	if c.Kind == KindText {
		return c.Text
	}
	return c.Caption
}

// Sender identifies the human (or bot) behind an inbound message.
type Sender struct {
	ID       string `json:"id"`
	Username string `json:"username,omitempty"`
	FullName string `json:"full_name,omitempty"`
	IsBot    bool   `json:"is_bot,omitempty"`
}

// DisplayName is the username when present, otherwise the full name.
func (s Sender) DisplayName() string {
	if s.Username != "" {
		return s.Username
	}
	return s.FullName
}

// Handle is "@username" when present, otherwise the full name.
func (s Sender) Handle() string {
	if s.Username != "" {
		return "@" + s.Username
	}
	return s.FullName
}

// ReplyRef describes the message an inbound event replies to.
type ReplyRef struct {
	MessageID string `json:"message_id"`
	Text      string `json:"text,omitempty"`
	Caption   string `json:"caption,omitempty"`
	FromSelf  bool   `json:"from_self,omitempty"`
}

// Body returns the text of the replied-to message, or its caption when it
// has no text.
func (r ReplyRef) Body() string {
	if r.Text != "" {
		return r.Text
	}
	return r.Caption
}

// Event is one inbound message as reported by a transport.
type Event struct {
	ChatID      string    `json:"chat_id"`
	ChatTitle   string    `json:"chat_title,omitempty"`
	IsGroup     bool      `json:"is_group"`
	MessageID   string    `json:"message_id"`
	Sender      Sender    `json:"sender"`
	Content     Content   `json:"content"`
	ReplyTo     *ReplyRef `json:"reply_to,omitempty"`
	Command     string    `json:"command,omitempty"` // lower-case, without "/" or "@bot"
	CommandArgs string    `json:"command_args,omitempty"`
	Mentioned   bool      `json:"mentioned,omitempty"` // the transport's own identity was mentioned
}
