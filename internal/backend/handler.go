package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/hoaqhienn/admin-tech-home-sub000/internal/attach"
	"github.com/hoaqhienn/admin-tech-home-sub000/internal/config"
	"github.com/hoaqhienn/admin-tech-home-sub000/internal/logger"
	"github.com/hoaqhienn/admin-tech-home-sub000/internal/model"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 200
	multipartMemory  = 4 << 20
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Errorf("writeJSON encode: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func queryInt(r *http.Request, key string, defaultVal int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}

// Store is the persistence surface the REST handlers need. Satisfied by
// *Repository.
type Store interface {
	RoomsForMember(ctx context.Context, memberID string) ([]model.Room, error)
	Messages(ctx context.Context, roomID string, offset, limit int) ([]model.Message, error)
	CreateMessage(ctx context.Context, m *model.Message) error
	AddMember(ctx context.Context, roomID, memberID, displayName string) error
	RemoveMember(ctx context.Context, roomID, memberID string) error
	IsMember(ctx context.Context, roomID, memberID string) (bool, error)
}

// Handler serves the REST surface of the chat store.
type Handler struct {
	repo      Store
	hub       *Hub
	validator *attach.Validator
	uploadDir string
	origins   string
}

func NewHandler(repo Store, hub *Hub, cfg *config.Config) *Handler {
	return &Handler{
		repo:      repo,
		hub:       hub,
		validator: attach.NewValidator(cfg.Attachment.MaxSizeBytes, nil),
		uploadDir: cfg.UploadDir,
		origins:   strings.TrimSpace(cfg.CORSAllowedOrigins),
	}
}

// Routes mounts every endpoint on the router. The caller wraps the group in
// BearerAuth.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/chats", h.GetRooms)
	r.Get("/chats/{chatId}/messages", h.GetMessages)
	r.Post("/chats/{chatId}/messages", h.PostMessage)
	r.Post("/chats/{chatId}/members/{memberId}", h.AddMember)
	r.Delete("/chats/{chatId}/members/{memberId}", h.RemoveMember)
	r.Get("/files/{filename}", h.ServeFile)
	r.Get("/ws", h.ServeWS)
}

func (h *Handler) GetRooms(w http.ResponseWriter, r *http.Request) {
	defer logger.DeferLogDuration("handler.GetRooms", time.Now())()
	rooms, err := h.repo.RoomsForMember(r.Context(), GetUserID(r.Context()))
	if err != nil {
		logger.Errorf("get rooms: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if rooms == nil {
		rooms = []model.Room{}
	}
	writeJSON(w, http.StatusOK, rooms)
}

func (h *Handler) GetMessages(w http.ResponseWriter, r *http.Request) {
	defer logger.DeferLogDuration("handler.GetMessages", time.Now())()
	roomID := chi.URLParam(r, "chatId")
	if ok := h.requireMember(w, r, roomID); !ok {
		return
	}

	offset := queryInt(r, "offset", 0)
	limit := queryInt(r, "limit", defaultPageLimit)
	if limit <= 0 || limit > maxPageLimit {
		limit = defaultPageLimit
	}
	if offset < 0 {
		offset = 0
	}

	msgs, err := h.repo.Messages(r.Context(), roomID, offset, limit)
	if err != nil {
		logger.Errorf("get messages room=%s: %v", roomID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if msgs == nil {
		msgs = []model.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

// PostMessage accepts multipart form data: content, client_temp_id, plus any
// number of "files" parts. Attachments are revalidated server-side; a request
// whose every part fails validation is rejected as empty unless it carries text.
func (h *Handler) PostMessage(w http.ResponseWriter, r *http.Request) {
	defer logger.DeferLogDuration("handler.PostMessage", time.Now())()
	roomID := chi.URLParam(r, "chatId")
	userID := GetUserID(r.Context())
	if ok := h.requireMember(w, r, roomID); !ok {
		return
	}

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		writeError(w, http.StatusBadRequest, "malformed multipart body")
		return
	}
	content := r.FormValue("content")
	tempID := r.FormValue("client_temp_id")

	var files []attach.File
	var parts []io.ReadCloser
	if r.MultipartForm != nil {
		for _, fh := range r.MultipartForm.File["files"] {
			src, err := fh.Open()
			if err != nil {
				writeError(w, http.StatusBadRequest, "unreadable attachment")
				return
			}
			parts = append(parts, src)
			files = append(files, attach.File{
				Name:         fh.Filename,
				DeclaredMIME: fh.Header.Get("Content-Type"),
				SizeBytes:    fh.Size,
				Source:       src,
			})
		}
	}
	defer func() {
		for _, p := range parts {
			p.Close()
		}
	}()

	accepted, _ := h.validator.ValidateAll(files)
	if strings.TrimSpace(content) == "" && len(accepted) == 0 {
		writeError(w, http.StatusBadRequest, "message has no content or attachments")
		return
	}

	msg := &model.Message{
		ID:           uuid.New().String(),
		RoomID:       roomID,
		SenderID:     userID,
		Content:      content,
		ClientTempID: tempID,
		CreatedAt:    time.Now().UTC(),
	}
	for _, res := range accepted {
		att, err := h.storeFile(res)
		if err != nil {
			logger.Errorf("store attachment %s: %v", res.File.Name, err)
			writeError(w, http.StatusInternalServerError, "failed to store attachment")
			return
		}
		msg.Attachments = append(msg.Attachments, att)
	}

	if err := h.repo.CreateMessage(r.Context(), msg); err != nil {
		logger.Errorf("create message room=%s: %v", roomID, err)
		writeError(w, http.StatusInternalServerError, "failed to save message")
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

// storeFile writes an accepted attachment under the upload directory with a
// collision-free name and returns its metadata.
func (h *Handler) storeFile(res attach.Result) (model.Attachment, error) {
	if err := os.MkdirAll(h.uploadDir, 0o755); err != nil {
		return model.Attachment{}, err
	}
	stored := uuid.New().String() + filepath.Ext(res.File.Name)
	dst, err := os.Create(filepath.Join(h.uploadDir, stored))
	if err != nil {
		return model.Attachment{}, err
	}
	defer dst.Close()
	if res.File.Source != nil {
		if _, err := io.Copy(dst, res.File.Source); err != nil {
			return model.Attachment{}, err
		}
	}
	return model.Attachment{
		FileName:  res.File.Name,
		MIMEType:  res.File.DeclaredMIME,
		Category:  res.Category,
		SizeBytes: res.File.SizeBytes,
		URL:       "/files/" + stored,
	}, nil
}

func (h *Handler) AddMember(w http.ResponseWriter, r *http.Request) {
	defer logger.DeferLogDuration("handler.AddMember", time.Now())()
	roomID := chi.URLParam(r, "chatId")
	memberID := chi.URLParam(r, "memberId")
	if ok := h.requireMember(w, r, roomID); !ok {
		return
	}
	// Display name defaults to the ID; a profile service would refine it.
	if err := h.repo.AddMember(r.Context(), roomID, memberID, memberID); err != nil {
		logger.Errorf("add member room=%s member=%s: %v", roomID, memberID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	defer logger.DeferLogDuration("handler.RemoveMember", time.Now())()
	roomID := chi.URLParam(r, "chatId")
	memberID := chi.URLParam(r, "memberId")
	if ok := h.requireMember(w, r, roomID); !ok {
		return
	}
	err := h.repo.RemoveMember(r.Context(), roomID, memberID)
	if errors.Is(err, ErrNotFound) {
		writeError(w, http.StatusNotFound, "not a member")
		return
	}
	if err != nil {
		logger.Errorf("remove member room=%s member=%s: %v", roomID, memberID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ServeFile(w http.ResponseWriter, r *http.Request) {
	filename := filepath.Base(chi.URLParam(r, "filename"))
	http.ServeFile(w, r, filepath.Join(h.uploadDir, filename))
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.origins == "*" || h.origins == "" {
		return true
	}
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	for _, o := range strings.Split(h.origins, ",") {
		if strings.TrimSpace(o) == origin {
			return true
		}
	}
	return false
}

// ServeWS upgrades the request and hands the connection to the hub.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID := GetUserID(r.Context())
	if userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if !h.checkOrigin(r) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(r *http.Request) bool { return h.checkOrigin(r) },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Errorf("ws upgrade: %v", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	client := newClient(h.hub, conn, userID)
	client.start(ctx, cancel)
	h.hub.Register(client)
}

// requireMember rejects requests from non-members with 403 and reports whether
// the caller may proceed.
func (h *Handler) requireMember(w http.ResponseWriter, r *http.Request, roomID string) bool {
	if roomID == "" {
		writeError(w, http.StatusBadRequest, "missing chat id")
		return false
	}
	isMember, err := h.repo.IsMember(r.Context(), roomID, GetUserID(r.Context()))
	if err != nil {
		logger.Errorf("check membership room=%s: %v", roomID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return false
	}
	if !isMember {
		writeError(w, http.StatusForbidden, "not a member")
		return false
	}
	return true
}
