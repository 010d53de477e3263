package backend

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/hoaqhienn/admin-tech-home-sub000/internal/logger"
	"github.com/hoaqhienn/admin-tech-home-sub000/internal/model"
	"github.com/hoaqhienn/admin-tech-home-sub000/internal/realtime"
)

// Directory is the membership and deletion surface the hub needs. Satisfied
// by *Repository.
type Directory interface {
	IsMember(ctx context.Context, roomID, memberID string) (bool, error)
	RoomMembers(ctx context.Context, roomID string) ([]model.Member, error)
	DeleteMessage(ctx context.Context, messageID, senderID string) error
}

// Hub relays envelopes between console connections. Messages reach every
// connected room member (members not looking at the room still need them for
// notifications); deletions reach only clients joined to the room, since they
// only affect the visible list.
type Hub struct {
	mu       sync.RWMutex
	clients  map[string]map[*Client]struct{}
	total    int
	maxConns int

	repo       Directory
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

func NewHub(repo Directory, maxConns int) *Hub {
	if maxConns <= 0 {
		maxConns = 10000
	}
	return &Hub{
		clients:    make(map[string]map[*Client]struct{}),
		maxConns:   maxConns,
		repo:       repo,
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

func (h *Hub) shutdown() {
	// Collect all clients under the lock, do NOT perform I/O under mutex.
	h.mu.Lock()
	allClients := make([]*Client, 0, h.total)
	for _, clients := range h.clients {
		for c := range clients {
			allClients = append(allClients, c)
		}
	}
	h.clients = make(map[string]map[*Client]struct{})
	h.total = 0
	h.mu.Unlock()

	for _, c := range allClients {
		c.Close()
	}
	for _, c := range allClients {
		c.Wait()
	}
}

func (h *Hub) Register(c *Client)   { h.register <- c }
func (h *Hub) Unregister(c *Client) { h.unregister <- c }

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	if h.total >= h.maxConns {
		h.mu.Unlock()
		logger.Errorf("ws connection limit reached (%d), rejecting user=%s", h.maxConns, c.userID)
		c.Close()
		return
	}
	if _, ok := h.clients[c.userID]; !ok {
		h.clients[c.userID] = make(map[*Client]struct{})
	}
	h.clients[c.userID][c] = struct{}{}
	h.total++
	h.mu.Unlock()
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	clients, ok := h.clients[c.userID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, exists := clients[c]; !exists {
		h.mu.Unlock()
		return
	}
	delete(clients, c)
	h.total--
	lastClient := len(clients) == 0
	if lastClient {
		delete(h.clients, c.userID)
	}
	h.mu.Unlock()

	// Network I/O outside the lock.
	c.Close()

	// A console that vanished without a userOffline frame still goes offline
	// for everyone else once its last connection drops.
	if lastClient {
		h.broadcastPresence(c.userID, false)
	}
}

// HandleEnvelope dispatches an inbound frame from a console connection.
func (h *Hub) HandleEnvelope(ctx context.Context, c *Client, env realtime.Envelope) {
	switch env.Event {
	case realtime.EventUserOnline:
		h.broadcastPresence(c.userID, true)
	case realtime.EventUserOffline:
		h.broadcastPresence(c.userID, false)
	case realtime.EventJoinChat:
		h.handleJoin(ctx, c, env)
	case realtime.EventLeaveChat:
		h.setRoom(c, "")
	case realtime.EventSendMessage:
		h.handleSendMessage(ctx, c, env)
	case realtime.EventInitiateDelete:
		h.handleInitiateDelete(ctx, c, env)
	default:
		logger.Errorf("ws unknown event %q user=%s", env.Event, c.userID)
	}
}

func (h *Hub) handleJoin(ctx context.Context, c *Client, env realtime.Envelope) {
	var payload realtime.RoomPayload
	if err := json.Unmarshal(env.Data, &payload); err != nil || payload.RoomID == "" {
		logger.Errorf("ws join payload user=%s: %v", c.userID, err)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	isMember, err := h.repo.IsMember(ctx, payload.RoomID, c.userID)
	if err != nil {
		logger.Errorf("ws check membership room=%s user=%s: %v", payload.RoomID, c.userID, err)
		return
	}
	if !isMember {
		logger.Errorf("ws join rejected room=%s user=%s: not a member", payload.RoomID, c.userID)
		return
	}
	h.setRoom(c, payload.RoomID)
}

func (h *Hub) setRoom(c *Client, roomID string) {
	h.mu.Lock()
	c.room = roomID
	h.mu.Unlock()
}

// handleSendMessage relays an already-persisted message to every connected
// member of its room, the sender's own connections included (the console
// deduplicates the echo by message ID).
func (h *Hub) handleSendMessage(ctx context.Context, c *Client, env realtime.Envelope) {
	defer logger.DeferLogDuration("ws.handleSendMessage", time.Now())()
	var payload realtime.MessagePayload
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		logger.Errorf("ws sendMessage payload user=%s: %v", c.userID, err)
		return
	}
	msg := payload.Message
	if msg.RoomID == "" || msg.ID == "" || msg.SenderID != c.userID {
		logger.Errorf("ws sendMessage rejected user=%s room=%s id=%s", c.userID, msg.RoomID, msg.ID)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	members, err := h.repo.RoomMembers(ctx, msg.RoomID)
	if err != nil {
		logger.Errorf("ws get members room=%s: %v", msg.RoomID, err)
		return
	}

	out := realtime.NewEnvelope(realtime.EventReceiveMessage, realtime.MessagePayload{
		RoomID:  msg.RoomID,
		Message: msg,
	})
	for _, m := range members {
		h.sendToUser(m.ID, out)
	}
}

func (h *Hub) handleInitiateDelete(ctx context.Context, c *Client, env realtime.Envelope) {
	defer logger.DeferLogDuration("ws.handleInitiateDelete", time.Now())()
	var payload realtime.DeletePayload
	if err := json.Unmarshal(env.Data, &payload); err != nil || payload.MessageID == "" {
		logger.Errorf("ws initiateDelete payload user=%s: %v", c.userID, err)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := h.repo.DeleteMessage(ctx, payload.MessageID, c.userID); err != nil {
		// Not found covers both an unknown ID and a foreign sender; the
		// console already removed its local copy, so nothing to relay.
		logger.Errorf("ws delete message=%s user=%s: %v", payload.MessageID, c.userID, err)
		return
	}

	out := realtime.NewEnvelope(realtime.EventMessageDeleted, realtime.DeletePayload{
		RoomID:    payload.RoomID,
		MessageID: payload.MessageID,
	})
	h.broadcastToRoom(payload.RoomID, out)
}

func (h *Hub) broadcastPresence(userID string, online bool) {
	event := realtime.EventUserOffline
	if online {
		event = realtime.EventUserOnline
	}
	out := realtime.NewEnvelope(event, realtime.PresencePayload{UserID: userID})

	h.mu.RLock()
	targets := make([]*Client, 0, h.total)
	for uid, clients := range h.clients {
		if uid == userID {
			continue
		}
		for c := range clients {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.sendToClient(c, out)
	}
}

func (h *Hub) broadcastToRoom(roomID string, env realtime.Envelope) {
	if roomID == "" {
		return
	}
	h.mu.RLock()
	targets := make([]*Client, 0, h.total)
	for _, clients := range h.clients {
		for c := range clients {
			if c.room == roomID {
				targets = append(targets, c)
			}
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.sendToClient(c, env)
	}
}

func (h *Hub) sendToUser(userID string, env realtime.Envelope) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients[userID]))
	for c := range h.clients[userID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.sendToClient(c, env)
	}
}

// sendToClient never blocks: a slow consumer loses the frame and will catch
// up from history on its next room open.
func (h *Hub) sendToClient(c *Client, env realtime.Envelope) {
	select {
	case <-c.done:
	case c.send <- env:
	default:
		logger.Errorf("ws send buffer full user=%s, dropping %s", c.userID, env.Event)
	}
}
