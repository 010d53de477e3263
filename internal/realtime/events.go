package realtime

import (
	"encoding/json"

	"github.com/hoaqhienn/admin-tech-home-sub000/internal/model"
)

type EventType string

// Wire vocabulary shared with the realtime collaborator.
const (
	EventUserOnline     EventType = "userOnline"
	EventUserOffline    EventType = "userOffline"
	EventJoinChat       EventType = "joinChat"
	EventLeaveChat      EventType = "outChat"
	EventSendMessage    EventType = "sendMessage"
	EventInitiateDelete EventType = "initiateDelete"
	EventReceiveMessage EventType = "receiveMessage"
	EventMessageDeleted EventType = "messageDeleted"
)

// Envelope wraps every frame on the wire.
type Envelope struct {
	Event EventType       `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals a payload into an envelope. Marshal errors cannot occur
// for the payload types used here, so they are swallowed into an empty Data.
func NewEnvelope(event EventType, payload any) Envelope {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{Event: event}
	}
	return Envelope{Event: event, Data: data}
}

// PresencePayload travels with userOnline/userOffline.
type PresencePayload struct {
	UserID string `json:"user_id"`
}

// RoomPayload travels with joinChat/outChat.
type RoomPayload struct {
	RoomID string `json:"room_id"`
}

// MessagePayload travels with sendMessage and receiveMessage.
type MessagePayload struct {
	RoomID  string        `json:"room_id,omitempty"`
	Message model.Message `json:"message"`
}

// DeletePayload travels with initiateDelete and messageDeleted.
type DeletePayload struct {
	RoomID    string `json:"room_id,omitempty"`
	MessageID string `json:"message_id"`
}
