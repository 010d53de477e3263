package store

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hoaqhienn/admin-tech-home-sub000/internal/attach"
	"github.com/hoaqhienn/admin-tech-home-sub000/internal/model"
)

func TestSendMessageMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chats/room-1/messages" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok-7" {
			t.Errorf("auth header = %q", got)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		if got := r.FormValue("content"); got != "hello" {
			t.Errorf("content = %q", got)
		}
		tempID := r.FormValue("client_temp_id")
		if tempID == "" {
			t.Error("client_temp_id missing")
		}
		fhs := r.MultipartForm.File["files"]
		if len(fhs) != 1 {
			t.Fatalf("got %d files, want 1", len(fhs))
		}
		if fhs[0].Filename != "pic.png" {
			t.Errorf("filename = %q", fhs[0].Filename)
		}
		f, err := fhs[0].Open()
		if err != nil {
			t.Fatalf("open part: %v", err)
		}
		data, _ := io.ReadAll(f)
		f.Close()
		if string(data) != "PNGDATA" {
			t.Errorf("file bytes = %q", data)
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(model.Message{
			ID:           "42",
			RoomID:       "room-1",
			SenderID:     "7",
			Content:      "hello",
			ClientTempID: tempID,
			CreatedAt:    time.Now().UTC(),
			Attachments:  []model.Attachment{{FileName: "pic.png", Category: model.CategoryImage, URL: "/files/abc.png"}},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok-7")
	files := []attach.Result{{
		File:     attach.File{Name: "pic.png", DeclaredMIME: "image/png", SizeBytes: 7, Source: strings.NewReader("PNGDATA")},
		Accepted: true,
		Category: model.CategoryImage,
	}}
	msg, err := c.SendMessage(context.Background(), "room-1", "tmp-1", "hello", files)
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if msg.ID != "42" || msg.ClientTempID != "tmp-1" {
		t.Fatalf("authoritative message = %+v", msg)
	}
}

func TestMessagesPaging(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chats/room-9/messages" {
			t.Errorf("path = %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("offset") != "20" || q.Get("limit") != "10" {
			t.Errorf("query = %s", r.URL.RawQuery)
		}
		json.NewEncoder(w).Encode([]model.Message{{ID: "1", RoomID: "room-9", SenderID: "2", Content: "a"}})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok")
	msgs, err := c.Messages(context.Background(), "room-9", 20, 10)
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].ID != "1" {
		t.Fatalf("msgs = %+v", msgs)
	}
}

func TestStatusErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/chats":
			w.WriteHeader(http.StatusUnauthorized)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "bad")
	if _, err := c.Rooms(context.Background()); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("Rooms error = %v, want ErrUnauthorized", err)
	}
	if _, err := c.Messages(context.Background(), "nope", 0, 10); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Messages error = %v, want ErrNotFound", err)
	}
	if err := c.RemoveMember(context.Background(), "nope", "m"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("RemoveMember error = %v, want ErrNotFound", err)
	}
}
