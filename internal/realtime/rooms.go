package realtime

import "github.com/gorilla/websocket"

// Room subscription state. At most one room is joined per connection; joining
// a new room implicitly leaves the previous one, and the leave notice is
// always emitted before the join notice so messages for two rooms are never
// received simultaneously.

// SetActiveRoom switches the subscription to roomID; "" leaves the current
// room and subscribes to nothing. While the connection is down the desired
// room is remembered and joined automatically once the status becomes
// Connected (a deferred intent, not an error).
func (m *Manager) SetActiveRoom(roomID string) {
	m.mu.Lock()
	m.desiredRoom = roomID
	conn := m.conn
	connected := m.status == Connected
	prev := m.joinedRoom
	if !connected || conn == nil || prev == roomID {
		m.mu.Unlock()
		return
	}
	// Nothing is joined until both frames land; a failed write must not leave
	// joinedRoom claiming a room the server never heard about.
	m.joinedRoom = ""
	m.mu.Unlock()

	if prev != "" {
		if err := m.write(conn, NewEnvelope(EventLeaveChat, RoomPayload{RoomID: prev})); err != nil {
			return
		}
	}
	if roomID != "" {
		if err := m.write(conn, NewEnvelope(EventJoinChat, RoomPayload{RoomID: roomID})); err != nil {
			return
		}
	}

	m.mu.Lock()
	if m.conn == conn && m.desiredRoom == roomID {
		m.joinedRoom = roomID
	}
	m.mu.Unlock()
}

// ActiveRoom returns the room the user is currently looking at (the desired
// subscription, which may briefly lead the joined one during reconnects).
func (m *Manager) ActiveRoom() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.desiredRoom
}

// JoinedRoom returns the room actually joined on the live connection, if any.
func (m *Manager) JoinedRoom() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.joinedRoom
}

// joinDesired joins the remembered room on a fresh connection.
func (m *Manager) joinDesired(conn *websocket.Conn) {
	m.mu.Lock()
	room := m.desiredRoom
	m.mu.Unlock()
	if room == "" {
		return
	}
	if err := m.write(conn, NewEnvelope(EventJoinChat, RoomPayload{RoomID: room})); err != nil {
		return
	}
	m.mu.Lock()
	if m.conn == conn && m.desiredRoom == room {
		m.joinedRoom = room
	}
	m.mu.Unlock()
}
