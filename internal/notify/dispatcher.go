// Package notify decides whether an incoming message warrants a user-facing
// notification and hands accepted ones to a notification surface.
package notify

import (
	"context"
	"unicode/utf8"

	"github.com/hoaqhienn/admin-tech-home-sub000/internal/model"
)

const maxBodyLen = 120

// Notification is what a surface renders. Target is the click-through link
// into the chat view.
type Notification struct {
	Title  string `json:"title"`
	Body   string `json:"body"`
	Icon   string `json:"icon,omitempty"`
	Target string `json:"target"`
}

// Surface renders notifications. Fire-and-forget: no result is consumed.
type Surface interface {
	Show(ctx context.Context, n Notification)
}

// ShouldNotify reports whether a message should raise a notification. Own
// messages never notify, and neither do messages for the room the user is
// already looking at — the active-room rule applies regardless of sender.
func ShouldNotify(msg *model.Message, activeRoomID, currentUserID string) bool {
	if msg.SenderID == currentUserID {
		return false
	}
	if msg.RoomID == activeRoomID {
		return false
	}
	return true
}

// Dispatcher composes and shows notifications for messages that pass
// ShouldNotify.
type Dispatcher struct {
	surface Surface
}

func NewDispatcher(surface Surface) *Dispatcher {
	return &Dispatcher{surface: surface}
}

// Dispatch shows a notification for msg if the rules allow it. senderName is
// the display name resolved by the caller; empty falls back to a generic title.
func (d *Dispatcher) Dispatch(ctx context.Context, msg *model.Message, senderName, activeRoomID, currentUserID string) {
	if d.surface == nil || !ShouldNotify(msg, activeRoomID, currentUserID) {
		return
	}
	d.surface.Show(ctx, Compose(msg, senderName))
}

// Compose builds the notification content for a message. When the content is
// empty but attachments exist, the body falls back to a placeholder.
func Compose(msg *model.Message, senderName string) Notification {
	title := senderName
	if title == "" {
		title = "New message"
	}
	body := msg.Content
	if body == "" && len(msg.Attachments) > 0 {
		body = "Sent an attachment"
	}
	if len(body) > maxBodyLen {
		// Back up to a rune boundary so the cut never splits a multi-byte rune.
		cut := maxBodyLen - 3
		for cut > 0 && !utf8.RuneStart(body[cut]) {
			cut--
		}
		body = body[:cut] + "..."
	}
	return Notification{
		Title:  title,
		Body:   body,
		Target: "/chat?room=" + msg.RoomID,
	}
}
