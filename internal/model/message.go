package model

import "time"

type AttachmentCategory string

const (
	CategoryImage    AttachmentCategory = "image"
	CategoryVideo    AttachmentCategory = "video"
	CategoryDocument AttachmentCategory = "document"
	CategoryOther    AttachmentCategory = "other"
)

// Attachment is one file attached to a message. URL is server-assigned and
// empty until the durable store has acknowledged the message.
type Attachment struct {
	FileName  string             `json:"file_name"`
	MIMEType  string             `json:"mime_type,omitempty"`
	Category  AttachmentCategory `json:"category"`
	SizeBytes int64              `json:"size_bytes"`
	URL       string             `json:"url,omitempty"`
}

// Message is a chat message. ID is empty until the durable store assigns it;
// ClientTempID identifies the message locally in the meantime. A message with
// a given ID reaches the visible list at most once even when it arrives via
// both the store response and the realtime echo.
type Message struct {
	ID           string       `json:"id,omitempty"`
	RoomID       string       `json:"room_id"`
	SenderID     string       `json:"sender_id"`
	Content      string       `json:"content"`
	Attachments  []Attachment `json:"attachments,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	ClientTempID string       `json:"client_temp_id,omitempty"`
}

// Key returns the identity used for deduplication: the server-assigned ID,
// falling back to the client temp ID for not-yet-acknowledged messages.
func (m *Message) Key() string {
	if m.ID != "" {
		return m.ID
	}
	return m.ClientTempID
}
