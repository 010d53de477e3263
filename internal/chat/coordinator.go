// Package chat turns compose actions into durable messages and folds inbound
// realtime traffic into a timestamp-ordered visible list for the active room.
package chat

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hoaqhienn/admin-tech-home-sub000/internal/attach"
	"github.com/hoaqhienn/admin-tech-home-sub000/internal/gesture"
	"github.com/hoaqhienn/admin-tech-home-sub000/internal/logger"
	"github.com/hoaqhienn/admin-tech-home-sub000/internal/model"
	"github.com/hoaqhienn/admin-tech-home-sub000/internal/notify"
)

// ErrEmptyMessage is returned when a compose action carries neither text nor
// any attachment that passed validation. No network call is made.
var ErrEmptyMessage = errors.New("chat: message has no content or attachments")

const (
	dedupCapacity   = 1024
	maxRetained     = 500
	historyPageSize = 50
)

// Store is the durable-store surface the pipeline needs.
type Store interface {
	SendMessage(ctx context.Context, roomID, tempID, text string, files []attach.Result) (*model.Message, error)
	Messages(ctx context.Context, roomID string, offset, limit int) ([]model.Message, error)
}

// Realtime is the connection surface the pipeline needs. The manager mutates
// connection state; the coordinator only reads status and invokes intents.
type Realtime interface {
	ActiveRoom() string
	SetActiveRoom(roomID string)
	AnnounceMessage(roomID string, msg *model.Message)
	AnnounceDelete(roomID, messageID string)
	OnMessage(fn func(*model.Message))
	OnMessageDeleted(fn func(messageID string))
}

// Coordinator is the message dispatch pipeline plus the visible message list
// of the active room. A message with a given ID reaches the list at most once
// regardless of whether the store response or the realtime echo lands first,
// and the list stays ordered by authoritative timestamp, not arrival order.
type Coordinator struct {
	store     Store
	rt        Realtime
	validator *attach.Validator
	notifier  *notify.Dispatcher
	session   model.Session

	mu      sync.Mutex
	dedup   *dedupCache
	visible []model.Message
	names   map[string]string // memberID -> display name
}

func NewCoordinator(st Store, rt Realtime, validator *attach.Validator, notifier *notify.Dispatcher, session model.Session) *Coordinator {
	c := &Coordinator{
		store:     st,
		rt:        rt,
		validator: validator,
		notifier:  notifier,
		session:   session,
		dedup:     newDedupCache(dedupCapacity),
		names:     make(map[string]string),
	}
	rt.OnMessage(c.handleIncoming)
	rt.OnMessageDeleted(c.handleDeleted)
	return c
}

// SetMemberNames records display names used for notification titles.
func (c *Coordinator) SetMemberNames(members []model.Member) {
	c.mu.Lock()
	for _, m := range members {
		c.names[m.ID] = m.DisplayName
	}
	c.mu.Unlock()
}

// OpenRoom switches the active room and hydrates its history from the store.
// An empty roomID closes the current room.
func (c *Coordinator) OpenRoom(ctx context.Context, roomID string) error {
	c.rt.SetActiveRoom(roomID)
	c.mu.Lock()
	c.visible = nil
	c.mu.Unlock()
	if roomID == "" {
		return nil
	}

	page, err := c.store.Messages(ctx, roomID, 0, historyPageSize)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	// The page is authoritative: the list was just cleared, so hydration only
	// dedups within the page itself. The global cache would wrongly drop
	// messages seen on an earlier visit to this room; it is still marked so
	// realtime echoes of hydrated messages stay deduplicated.
	inPage := make(map[string]struct{}, len(page))
	for i := range page {
		msg := page[i]
		key := msg.Key()
		if msg.RoomID != roomID {
			continue
		}
		if _, dup := inPage[key]; dup {
			continue
		}
		inPage[key] = struct{}{}
		c.dedup.Mark(key)
		c.insertLocked(msg)
	}
	return nil
}

// Messages returns a snapshot of the visible list, ordered by timestamp.
func (c *Coordinator) Messages() []model.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.Message, len(c.visible))
	copy(out, c.visible)
	return out
}

// Send validates attachments, submits to the durable store and appends the
// authoritative message. On store failure nothing is mutated, so retrying
// with the same inputs is always safe. Rejected attachment names are reported
// alongside whichever outcome the send had.
func (c *Coordinator) Send(ctx context.Context, roomID, text string, files []attach.File) (*model.Message, []attach.Rejection, error) {
	defer logger.DeferLogDuration("chat.Send", time.Now())()

	accepted, rejected := c.validator.ValidateAll(files)
	if strings.TrimSpace(text) == "" && len(accepted) == 0 {
		return nil, rejected, ErrEmptyMessage
	}

	tempID := uuid.New().String()
	msg, err := c.store.SendMessage(ctx, roomID, tempID, text, accepted)
	if err != nil {
		return nil, rejected, err
	}

	c.mu.Lock()
	if !c.dedup.Seen(msg.ID) {
		// The realtime echo did not beat us here; this insert is the one.
		c.dedup.Mark(msg.ID)
		if roomID == c.rt.ActiveRoom() {
			c.insertLocked(*msg)
		}
	}
	c.dedup.Mark(tempID)
	c.mu.Unlock()

	// At-most-once realtime announce; dropped while disconnected.
	c.rt.AnnounceMessage(roomID, msg)
	return msg, rejected, nil
}

// Delete optimistically removes the message locally and announces the
// deletion. Fire-and-forget: failures beyond this point are logged, never
// rolled back, because deletion is not safety-critical state.
func (c *Coordinator) Delete(ctx context.Context, roomID, messageID string) {
	_ = ctx
	c.mu.Lock()
	c.removeLocked(messageID)
	c.mu.Unlock()
	c.rt.AnnounceDelete(roomID, messageID)
}

// CanDelete reports whether the local user is allowed to start a delete
// gesture on the message.
func (c *Coordinator) CanDelete(msg *model.Message) bool {
	return msg.SenderID == c.session.UserID
}

// NewDeleteGesture returns a press-and-hold machine whose completed hold
// deletes the held message in roomID.
func (c *Coordinator) NewDeleteGesture(roomID string) *gesture.Machine {
	return gesture.NewMachine(gesture.DefaultHoldDuration, gesture.DefaultTickInterval, func(messageID string) {
		c.Delete(context.Background(), roomID, messageID)
	})
}

// handleIncoming folds a realtime message in: duplicates of anything already
// delivered (by ID, or temp ID before acknowledgment) are dropped; messages
// for other rooms never reach the visible list but may still notify.
func (c *Coordinator) handleIncoming(msg *model.Message) {
	activeRoom := c.rt.ActiveRoom()

	c.mu.Lock()
	if c.dedup.Seen(msg.ID) || c.dedup.Seen(msg.ClientTempID) {
		c.mu.Unlock()
		return
	}
	c.dedup.Mark(msg.Key())
	if msg.RoomID == activeRoom {
		c.insertLocked(*msg)
	}
	senderName := c.names[msg.SenderID]
	c.mu.Unlock()

	if c.notifier != nil {
		c.notifier.Dispatch(context.Background(), msg, senderName, activeRoom, c.session.UserID)
	}
}

// handleDeleted applies a peer-initiated deletion to the visible list.
func (c *Coordinator) handleDeleted(messageID string) {
	c.mu.Lock()
	c.removeLocked(messageID)
	c.mu.Unlock()
}

// insertLocked places a message at its timestamp-ordered position (stable:
// equal timestamps sort by ID) and trims the retained window.
func (c *Coordinator) insertLocked(msg model.Message) {
	i := sort.Search(len(c.visible), func(i int) bool {
		a := c.visible[i]
		if !a.CreatedAt.Equal(msg.CreatedAt) {
			return a.CreatedAt.After(msg.CreatedAt)
		}
		return a.ID > msg.ID
	})
	c.visible = append(c.visible, model.Message{})
	copy(c.visible[i+1:], c.visible[i:])
	c.visible[i] = msg
	if len(c.visible) > maxRetained {
		c.visible = c.visible[len(c.visible)-maxRetained:]
	}
}

func (c *Coordinator) removeLocked(messageID string) {
	for i := range c.visible {
		if c.visible[i].ID == messageID {
			c.visible = append(c.visible[:i], c.visible[i+1:]...)
			return
		}
	}
}
