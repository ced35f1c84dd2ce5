package models

// Attachment kinds accepted on a message.
const (
	AttachmentImage = "image"
	AttachmentFile  = "file"
	AttachmentAudio = "audio"
	AttachmentVideo = "video"
)

// ValidAttachmentType reports whether t is one of the accepted kinds.
func ValidAttachmentType(t string) bool {
	switch t {
	case AttachmentImage, AttachmentFile, AttachmentAudio, AttachmentVideo:
		return true
	}
	return false
}

type Message struct {
	ID      string `json:"id"`
	Thread  string `json:"thread,omitempty"`
	Channel string `json:"channel,omitempty"`
	// Sender is always a concrete user id; guest callers are materialized
	// into user records before a message is created.
	Sender string `json:"sender"`
	// Receiver is empty for broadcast/room-scoped messages.
	Receiver string `json:"receiver,omitempty"`
	Content  string `json:"content"`
	// ReplyTo references a strictly earlier message in the same thread.
	ReplyTo     string       `json:"reply_to,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`

	IsRead bool  `json:"is_read"`
	ReadTS int64 `json:"read_ts,omitempty"`
	// DeletedTS non-zero marks a soft delete; the row stays queryable by
	// id but is excluded from listings.
	DeletedTS int64 `json:"deleted_ts,omitempty"`
	CreatedTS int64 `json:"created_ts"`
	UpdatedTS int64 `json:"updated_ts"`

	IsEdited  bool `json:"is_edited,omitempty"`
	EditCount int  `json:"edit_count,omitempty"`
}

type Attachment struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	URL       string `json:"url"`
	Name      string `json:"name,omitempty"`
	Size      int64  `json:"size,omitempty"`
	MimeType  string `json:"mime_type,omitempty"`
	Thumbnail string `json:"thumbnail,omitempty"`
}

// EditRecord is one entry of a message's append-only edit history.
// Records are immutable once appended.
type EditRecord struct {
	PreviousContent string `json:"previous_content"`
	TS              int64  `json:"ts"`
}

type Reaction struct {
	ID       string `json:"id"`
	Emoji    string `json:"emoji"`
	User     string `json:"user"`
	UserName string `json:"user_name,omitempty"`
	TS       int64  `json:"ts"`
}

// TypingIndicator is ephemeral: it exists only as an event payload and
// is never persisted.
type TypingIndicator struct {
	User     string `json:"user"`
	UserName string `json:"user_name,omitempty"`
	Thread   string `json:"thread"`
	IsTyping bool   `json:"is_typing"`
	TS       int64  `json:"ts"`
}

// ConversationStats is a derived aggregate recomputed per query.
// AverageResponseTime is a reserved field and stays null.
type ConversationStats struct {
	TotalMessages       int64    `json:"total_messages"`
	SentMessages        int64    `json:"sent_messages"`
	ReceivedMessages    int64    `json:"received_messages"`
	UnreadCount         int64    `json:"unread_count"`
	AverageResponseTime *float64 `json:"average_response_time"`
}
