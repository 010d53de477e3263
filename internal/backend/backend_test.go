package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/hoaqhienn/admin-tech-home-sub000/internal/config"
	"github.com/hoaqhienn/admin-tech-home-sub000/internal/model"
	"github.com/hoaqhienn/admin-tech-home-sub000/internal/realtime"
)

// fakeStore implements Store, Directory and TokenSource in memory.
type fakeStore struct {
	mu       sync.Mutex
	tokens   map[string]string            // token -> user
	members  map[string][]model.Member    // room -> members
	messages map[string][]model.Message   // room -> messages
	deleted  map[string]string            // message -> sender who deleted
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		tokens:   map[string]string{"tok-7": "7", "tok-9": "9"},
		members:  map[string][]model.Member{"100": {{ID: "7", DisplayName: "Admin"}, {ID: "9", DisplayName: "Operator"}}},
		messages: make(map[string][]model.Message),
		deleted:  make(map[string]string),
	}
}

func (f *fakeStore) UserForToken(_ context.Context, token string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tokens[token], nil
}

func (f *fakeStore) IsMember(_ context.Context, roomID, memberID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.members[roomID] {
		if m.ID == memberID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) RoomMembers(_ context.Context, roomID string) ([]model.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Member(nil), f.members[roomID]...), nil
}

func (f *fakeStore) RoomsForMember(_ context.Context, memberID string) ([]model.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var rooms []model.Room
	for id, members := range f.members {
		for _, m := range members {
			if m.ID == memberID {
				rooms = append(rooms, model.Room{ID: id, DisplayName: "Room " + id, Kind: model.RoomKindGroup, Members: members})
				break
			}
		}
	}
	return rooms, nil
}

func (f *fakeStore) Messages(_ context.Context, roomID string, offset, limit int) ([]model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := f.messages[roomID]
	if offset >= len(msgs) {
		return nil, nil
	}
	end := offset + limit
	if end > len(msgs) {
		end = len(msgs)
	}
	return append([]model.Message(nil), msgs[offset:end]...), nil
}

func (f *fakeStore) CreateMessage(_ context.Context, m *model.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages[m.RoomID] = append(f.messages[m.RoomID], *m)
	return nil
}

func (f *fakeStore) AddMember(_ context.Context, roomID, memberID, displayName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.members[roomID] {
		if m.ID == memberID {
			return nil
		}
	}
	f.members[roomID] = append(f.members[roomID], model.Member{ID: memberID, DisplayName: displayName})
	return nil
}

func (f *fakeStore) RemoveMember(_ context.Context, roomID, memberID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	members := f.members[roomID]
	for i, m := range members {
		if m.ID == memberID {
			f.members[roomID] = append(members[:i], members[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

func (f *fakeStore) DeleteMessage(_ context.Context, messageID, senderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, msgs := range f.messages {
		for _, m := range msgs {
			if m.ID == messageID {
				if m.SenderID != senderID {
					return ErrNotFound
				}
				f.deleted[messageID] = senderID
				return nil
			}
		}
	}
	return ErrNotFound
}

type testServer struct {
	store *fakeStore
	hub   *Hub
	srv   *httptest.Server
	stop  context.CancelFunc
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := newFakeStore()
	hub := NewHub(store, 100)
	hubCtx, hubCancel := context.WithCancel(context.Background())
	go hub.Run(hubCtx)

	cfg := &config.Config{
		Attachment:         config.AttachmentConfig{MaxSizeBytes: 1 << 20},
		UploadDir:          t.TempDir(),
		CORSAllowedOrigins: "*",
	}
	h := NewHandler(store, hub, cfg)

	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(store))
		h.Routes(r)
	})
	srv := httptest.NewServer(r)

	ts := &testServer{store: store, hub: hub, srv: srv, stop: hubCancel}
	t.Cleanup(func() {
		srv.Close()
		hubCancel()
	})
	return ts
}

func (ts *testServer) request(t *testing.T, method, path, token string, body io.Reader, contentType string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, ts.srv.URL+path, body)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func (ts *testServer) dialWS(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/ws"
	hdr := http.Header{"Authorization": {"Bearer " + token}}
	conn, _, err := websocket.DefaultDialer.Dial(url, hdr)
	if err != nil {
		t.Fatalf("dial ws: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) realtime.Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env realtime.Envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read envelope: %v", err)
	}
	return env
}

func TestAuthRequired(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.request(t, http.MethodGet, "/chats", "", nil, "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("no token: status = %d", resp.StatusCode)
	}

	resp = ts.request(t, http.MethodGet, "/chats", "bogus", nil, "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad token: status = %d", resp.StatusCode)
	}
}

func TestGetRooms(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.request(t, http.MethodGet, "/chats", "tok-7", nil, "")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var rooms []model.Room
	if err := json.NewDecoder(resp.Body).Decode(&rooms); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(rooms) != 1 || rooms[0].ID != "100" || len(rooms[0].Members) != 2 {
		t.Fatalf("rooms = %+v", rooms)
	}
}

func TestMembershipGate(t *testing.T) {
	ts := newTestServer(t)
	ts.store.mu.Lock()
	ts.store.tokens["tok-5"] = "5" // not a member of room 100
	ts.store.mu.Unlock()

	resp := ts.request(t, http.MethodGet, "/chats/100/messages", "tok-5", nil, "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("outsider read: status = %d", resp.StatusCode)
	}
}

func TestPostMessageMultipart(t *testing.T) {
	ts := newTestServer(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	mw.WriteField("content", "hello from the console")
	mw.WriteField("client_temp_id", "temp-1")
	part, err := mw.CreateFormFile("files", "shot.png")
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	part.Write([]byte("png-bytes"))
	mw.Close()

	resp := ts.request(t, http.MethodPost, "/chats/100/messages", "tok-7", &body, mw.FormDataContentType())
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		raw, _ := io.ReadAll(resp.Body)
		t.Fatalf("status = %d body = %s", resp.StatusCode, raw)
	}
	var msg model.Message
	if err := json.NewDecoder(resp.Body).Decode(&msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.ID == "" || msg.SenderID != "7" || msg.ClientTempID != "temp-1" {
		t.Fatalf("message = %+v", msg)
	}
	if len(msg.Attachments) != 1 || msg.Attachments[0].FileName != "shot.png" || msg.Attachments[0].Category != model.CategoryImage {
		t.Fatalf("attachments = %+v", msg.Attachments)
	}
	if !strings.HasPrefix(msg.Attachments[0].URL, "/files/") {
		t.Fatalf("attachment url = %q", msg.Attachments[0].URL)
	}

	// History now serves the persisted message.
	resp2 := ts.request(t, http.MethodGet, "/chats/100/messages?offset=0&limit=50", "tok-7", nil, "")
	defer resp2.Body.Close()
	var msgs []model.Message
	if err := json.NewDecoder(resp2.Body).Decode(&msgs); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(msgs) != 1 || msgs[0].ID != msg.ID {
		t.Fatalf("history = %+v", msgs)
	}
}

func TestPostEmptyMessageRejected(t *testing.T) {
	ts := newTestServer(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	mw.WriteField("content", "   ")
	mw.Close()

	resp := ts.request(t, http.MethodPost, "/chats/100/messages", "tok-7", &body, mw.FormDataContentType())
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestMemberAddRemove(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.request(t, http.MethodPost, "/chats/100/members/11", "tok-7", nil, "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("add: status = %d", resp.StatusCode)
	}

	resp = ts.request(t, http.MethodDelete, "/chats/100/members/11", "tok-7", nil, "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("remove: status = %d", resp.StatusCode)
	}

	resp = ts.request(t, http.MethodDelete, "/chats/100/members/11", "tok-7", nil, "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("remove absent: status = %d", resp.StatusCode)
	}
}

func TestHubRelaysMessagesToMembers(t *testing.T) {
	ts := newTestServer(t)

	sender := ts.dialWS(t, "tok-7")
	receiver := ts.dialWS(t, "tok-9")
	waitForClients(t, ts.hub, 2)

	receiver.WriteJSON(realtime.NewEnvelope(realtime.EventUserOnline, realtime.PresencePayload{UserID: "9"}))
	env := readEnvelope(t, sender) // presence relayed to the other console
	if env.Event != realtime.EventUserOnline {
		t.Fatalf("expected presence, got %s", env.Event)
	}

	msg := model.Message{ID: "m1", RoomID: "100", SenderID: "7", Content: "hi", CreatedAt: time.Now().UTC()}
	sender.WriteJSON(realtime.NewEnvelope(realtime.EventSendMessage, realtime.MessagePayload{RoomID: "100", Message: msg}))

	got := readEnvelope(t, receiver)
	if got.Event != realtime.EventReceiveMessage {
		t.Fatalf("receiver got %s", got.Event)
	}
	var payload realtime.MessagePayload
	json.Unmarshal(got.Data, &payload)
	if payload.Message.ID != "m1" || payload.Message.Content != "hi" {
		t.Fatalf("payload = %+v", payload)
	}

	// The sender's own connection receives the echo too.
	echo := readEnvelope(t, sender)
	if echo.Event != realtime.EventReceiveMessage {
		t.Fatalf("sender got %s", echo.Event)
	}
}

func TestHubRejectsForgedSender(t *testing.T) {
	ts := newTestServer(t)

	sender := ts.dialWS(t, "tok-9")
	receiver := ts.dialWS(t, "tok-7")
	waitForClients(t, ts.hub, 2)

	// tok-9 authenticates as user 9 but claims the message is from user 7.
	msg := model.Message{ID: "m2", RoomID: "100", SenderID: "7", Content: "forged"}
	sender.WriteJSON(realtime.NewEnvelope(realtime.EventSendMessage, realtime.MessagePayload{RoomID: "100", Message: msg}))

	receiver.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	var env realtime.Envelope
	if err := receiver.ReadJSON(&env); err == nil {
		t.Fatalf("forged message was relayed: %s", env.Event)
	}
}

func TestHubDeleteReachesJoinedClients(t *testing.T) {
	ts := newTestServer(t)
	ts.store.mu.Lock()
	ts.store.messages["100"] = []model.Message{{ID: "m3", RoomID: "100", SenderID: "7", Content: "bye"}}
	ts.store.mu.Unlock()

	deleter := ts.dialWS(t, "tok-7")
	watcher := ts.dialWS(t, "tok-9")

	watcher.WriteJSON(realtime.NewEnvelope(realtime.EventJoinChat, realtime.RoomPayload{RoomID: "100"}))
	// Joining is processed by the watcher's read loop; give the hub a moment
	// before firing the delete.
	waitForJoin(t, ts.hub, "9", "100")

	deleter.WriteJSON(realtime.NewEnvelope(realtime.EventInitiateDelete, realtime.DeletePayload{RoomID: "100", MessageID: "m3"}))

	env := readEnvelope(t, watcher)
	if env.Event != realtime.EventMessageDeleted {
		t.Fatalf("watcher got %s", env.Event)
	}
	var payload realtime.DeletePayload
	json.Unmarshal(env.Data, &payload)
	if payload.MessageID != "m3" {
		t.Fatalf("payload = %+v", payload)
	}

	ts.store.mu.Lock()
	defer ts.store.mu.Unlock()
	if ts.store.deleted["m3"] != "7" {
		t.Fatal("delete was not persisted")
	}
}

func TestHubDeleteForeignMessageIgnored(t *testing.T) {
	ts := newTestServer(t)
	ts.store.mu.Lock()
	ts.store.messages["100"] = []model.Message{{ID: "m4", RoomID: "100", SenderID: "7", Content: "mine"}}
	ts.store.mu.Unlock()

	intruder := ts.dialWS(t, "tok-9")
	watcher := ts.dialWS(t, "tok-7")
	watcher.WriteJSON(realtime.NewEnvelope(realtime.EventJoinChat, realtime.RoomPayload{RoomID: "100"}))
	waitForJoin(t, ts.hub, "7", "100")

	intruder.WriteJSON(realtime.NewEnvelope(realtime.EventInitiateDelete, realtime.DeletePayload{RoomID: "100", MessageID: "m4"}))

	watcher.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	var env realtime.Envelope
	if err := watcher.ReadJSON(&env); err == nil {
		t.Fatalf("foreign delete was relayed: %s", env.Event)
	}
	ts.store.mu.Lock()
	defer ts.store.mu.Unlock()
	if _, ok := ts.store.deleted["m4"]; ok {
		t.Fatal("foreign delete was persisted")
	}
}

func TestShutdownClosesConnections(t *testing.T) {
	ts := newTestServer(t)

	a := ts.dialWS(t, "tok-7")
	b := ts.dialWS(t, "tok-9")
	waitForClients(t, ts.hub, 2)

	ts.stop()

	// Every connection must be torn down promptly; a write pump stuck on a
	// deadline-less close frame would hold this open.
	for _, conn := range []*websocket.Conn{a, b} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		if _, _, err := conn.ReadMessage(); err == nil {
			t.Fatal("connection still serving frames after shutdown")
		} else if e, ok := err.(net.Error); ok && e.Timeout() {
			t.Fatal("connection not closed within shutdown window")
		}
	}

	select {
	case <-ts.hub.done:
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not finish shutdown")
	}
}

func waitForJoin(t *testing.T, hub *Hub, userID, roomID string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		hub.mu.RLock()
		for c := range hub.clients[userID] {
			if c.room == roomID {
				hub.mu.RUnlock()
				return
			}
		}
		hub.mu.RUnlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("user %s never joined room %s", userID, roomID)
}

func waitForClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		hub.mu.RLock()
		total := hub.total
		hub.mu.RUnlock()
		if total >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("hub never reached %d clients", n)
}
