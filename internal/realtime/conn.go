// Package realtime owns the persistent connection to the chat transport: one
// connection per authenticated session, with auth handshake, presence
// announcements, bounded reconnection and a typed event bus for inbound
// frames. Inbound handlers are invoked from a single goroutine (the read
// loop), so connection-driven state mutation is serialized without locks on
// the caller's side.
package realtime

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hoaqhienn/admin-tech-home-sub000/internal/config"
	"github.com/hoaqhienn/admin-tech-home-sub000/internal/logger"
	"github.com/hoaqhienn/admin-tech-home-sub000/internal/model"
)

// ErrNoSession is returned when Acquire is called without a valid session.
var ErrNoSession = errors.New("realtime: no valid session")

type Status int

const (
	Disconnected Status = iota
	Connecting
	Connected
	Reconnecting
)

func (s Status) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

// Options configures a Manager.
type Options struct {
	URL            string
	Session        model.Session
	Reconnect      config.ReconnectConfig
	WriteTimeout   time.Duration
	PongTimeout    time.Duration
	MaxMessageSize int64
}

func (o *Options) fillDefaults() {
	if o.Reconnect.MaxAttempts <= 0 {
		o.Reconnect.MaxAttempts = 5
	}
	if o.Reconnect.BaseDelay <= 0 {
		o.Reconnect.BaseDelay = 500 * time.Millisecond
	}
	if o.Reconnect.MaxDelay <= 0 {
		o.Reconnect.MaxDelay = 10 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.PongTimeout <= 0 {
		o.PongTimeout = 60 * time.Second
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = 65536
	}
}

// Manager owns exactly one Connection for its Session. Acquire is idempotent:
// a second caller reuses the running connection instead of opening a
// duplicate. Outbound intents are silently dropped (not queued) while the
// status is anything but Connected; realtime announcements are at-most-once.
type Manager struct {
	opts Options

	mu          sync.Mutex
	status      Status
	conn        *websocket.Conn
	attempts    int
	lastErr     error
	started     bool
	desiredRoom string
	joinedRoom  string
	online      map[string]struct{}

	onMessage  func(*model.Message)
	onDeleted  func(messageID string)
	onStatus   func(Status)
	onPresence func(userID string, online bool)

	// writeMu serializes all writes to the underlying connection (gorilla
	// connections allow one concurrent writer).
	writeMu sync.Mutex

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func NewManager(opts Options) *Manager {
	opts.fillDefaults()
	return &Manager{
		opts:   opts,
		status: Disconnected,
		online: make(map[string]struct{}),
		done:   make(chan struct{}),
	}
}

// Acquire starts the connection loop if it is not already running. Requires a
// valid session; idempotent otherwise.
func (m *Manager) Acquire() error {
	if !m.opts.Session.Valid() {
		return ErrNoSession
	}
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	m.mu.Unlock()

	m.wg.Add(1)
	go m.run()
	return nil
}

// Close tears the connection down: userOffline is announced exactly once (and
// only if the connection was up), then the transport is closed. Safe to call
// multiple times; teardown is guaranteed, not best-effort.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		close(m.done)
		m.mu.Lock()
		conn := m.conn
		wasConnected := m.status == Connected
		m.conn = nil
		m.mu.Unlock()

		if conn != nil {
			if wasConnected {
				if err := m.write(conn, NewEnvelope(EventUserOffline, PresencePayload{UserID: m.opts.Session.UserID})); err != nil {
					logger.Errorf("realtime: announce offline: %v", err)
				}
			}
			m.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(m.opts.WriteTimeout))
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			m.writeMu.Unlock()
			conn.Close()
		}
		m.setStatus(Disconnected)
	})
	m.wg.Wait()
}

// Status reports the current connection status.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// LastError reports the most recent transport error, if any.
func (m *Manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// OnMessage sets the handler for inbound messages. One registration point per
// event: a new handler replaces the previous one and survives reconnects.
func (m *Manager) OnMessage(fn func(*model.Message)) {
	m.mu.Lock()
	m.onMessage = fn
	m.mu.Unlock()
}

// OnMessageDeleted sets the handler for peer-initiated deletions.
func (m *Manager) OnMessageDeleted(fn func(messageID string)) {
	m.mu.Lock()
	m.onDeleted = fn
	m.mu.Unlock()
}

// OnStatusChange sets the handler observing connection status transitions.
func (m *Manager) OnStatusChange(fn func(Status)) {
	m.mu.Lock()
	m.onStatus = fn
	m.mu.Unlock()
}

// OnPresence sets the handler for peer online/offline events.
func (m *Manager) OnPresence(fn func(userID string, online bool)) {
	m.mu.Lock()
	m.onPresence = fn
	m.mu.Unlock()
}

// IsOnline reports whether a peer announced presence on this connection.
func (m *Manager) IsOnline(userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.online[userID]
	return ok
}

// AnnounceMessage broadcasts a sent message over the realtime transport.
// Dropped when not connected.
func (m *Manager) AnnounceMessage(roomID string, msg *model.Message) {
	m.sendIfConnected(NewEnvelope(EventSendMessage, MessagePayload{RoomID: roomID, Message: *msg}))
}

// AnnounceDelete broadcasts a deletion. Dropped when not connected.
func (m *Manager) AnnounceDelete(roomID, messageID string) {
	m.sendIfConnected(NewEnvelope(EventInitiateDelete, DeletePayload{RoomID: roomID, MessageID: messageID}))
}

func (m *Manager) sendIfConnected(env Envelope) {
	m.mu.Lock()
	conn := m.conn
	connected := m.status == Connected
	m.mu.Unlock()
	if !connected || conn == nil {
		return
	}
	if err := m.write(conn, env); err != nil {
		logger.Errorf("realtime: write %s: %v", env.Event, err)
	}
}

func (m *Manager) write(conn *websocket.Conn, env Envelope) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(m.opts.WriteTimeout))
	return conn.WriteJSON(env)
}

func (m *Manager) setStatus(s Status) {
	m.mu.Lock()
	if m.status == s {
		m.mu.Unlock()
		return
	}
	m.status = s
	fn := m.onStatus
	m.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

func (m *Manager) isClosed() bool {
	select {
	case <-m.done:
		return true
	default:
		return false
	}
}

func (m *Manager) run() {
	defer m.wg.Done()
	first := true
	for {
		if m.isClosed() {
			return
		}
		if first {
			m.setStatus(Connecting)
		} else {
			m.setStatus(Reconnecting)
		}

		conn, err := m.dial()
		if err != nil {
			m.mu.Lock()
			m.attempts++
			m.lastErr = err
			attempts := m.attempts
			m.mu.Unlock()
			logger.Errorf("realtime: connect attempt %d: %v", attempts, err)
			if attempts >= m.opts.Reconnect.MaxAttempts {
				logger.Errorf("realtime: giving up after %d attempts", attempts)
				m.setStatus(Disconnected)
				return
			}
			select {
			case <-m.done:
				return
			case <-time.After(m.backoffDelay(attempts)):
			}
			continue
		}
		first = false

		m.mu.Lock()
		if m.isClosed() {
			m.mu.Unlock()
			conn.Close()
			return
		}
		m.conn = conn
		m.attempts = 0
		m.lastErr = nil
		m.joinedRoom = "" // a fresh transport has no joined room
		m.mu.Unlock()
		m.setStatus(Connected)

		// Presence strictly after Connected, then the deferred room intent.
		if err := m.write(conn, NewEnvelope(EventUserOnline, PresencePayload{UserID: m.opts.Session.UserID})); err != nil {
			logger.Errorf("realtime: announce online: %v", err)
		}
		m.joinDesired(conn)

		connDone := make(chan struct{})
		go m.pingLoop(conn, connDone)
		m.readLoop(conn)
		close(connDone)

		m.mu.Lock()
		if m.conn == conn {
			m.conn = nil
			m.joinedRoom = ""
		}
		m.mu.Unlock()
		conn.Close()
	}
}

func (m *Manager) dial() (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	hdr := http.Header{}
	hdr.Set("Authorization", "Bearer "+m.opts.Session.Token)
	conn, _, err := dialer.Dial(m.opts.URL, hdr)
	return conn, err
}

func (m *Manager) backoffDelay(attempt int) time.Duration {
	delay := m.opts.Reconnect.BaseDelay << (attempt - 1)
	if delay > m.opts.Reconnect.MaxDelay || delay <= 0 {
		delay = m.opts.Reconnect.MaxDelay
	}
	return delay
}

func (m *Manager) pingLoop(conn *websocket.Conn, connDone chan struct{}) {
	pingPeriod := m.opts.PongTimeout * 9 / 10
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-connDone:
			return
		case <-m.done:
			return
		case <-ticker.C:
			m.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(m.opts.WriteTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			m.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// readLoop reads frames until the connection dies. It is the only goroutine
// that invokes inbound handlers.
func (m *Manager) readLoop(conn *websocket.Conn) {
	conn.SetReadLimit(m.opts.MaxMessageSize)
	if err := conn.SetReadDeadline(time.Now().Add(m.opts.PongTimeout)); err != nil {
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(m.opts.PongTimeout))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) && !m.isClosed() {
				logger.Errorf("realtime: read: %v", err)
			}
			m.mu.Lock()
			m.lastErr = err
			m.mu.Unlock()
			return
		}
		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			logger.Errorf("realtime: unmarshal frame: %v", err)
			continue
		}
		m.dispatch(env)
	}
}

func (m *Manager) dispatch(env Envelope) {
	switch env.Event {
	case EventReceiveMessage:
		var p MessagePayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			logger.Errorf("realtime: receiveMessage payload: %v", err)
			return
		}
		m.mu.Lock()
		fn := m.onMessage
		m.mu.Unlock()
		if fn != nil {
			msg := p.Message
			fn(&msg)
		}
	case EventMessageDeleted:
		var p DeletePayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			logger.Errorf("realtime: messageDeleted payload: %v", err)
			return
		}
		m.mu.Lock()
		fn := m.onDeleted
		m.mu.Unlock()
		if fn != nil {
			fn(p.MessageID)
		}
	case EventUserOnline, EventUserOffline:
		var p PresencePayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return
		}
		online := env.Event == EventUserOnline
		m.mu.Lock()
		if online {
			m.online[p.UserID] = struct{}{}
		} else {
			delete(m.online, p.UserID)
		}
		fn := m.onPresence
		m.mu.Unlock()
		if fn != nil {
			fn(p.UserID, online)
		}
	default:
		logger.Infof("realtime: ignoring frame %q", env.Event)
	}
}
