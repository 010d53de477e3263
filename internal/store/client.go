// Package store is the client for the durable chat store (REST collaborator).
// It owns no state: every message it returns is authoritative, carrying the
// server-assigned identifier.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hoaqhienn/admin-tech-home-sub000/internal/attach"
	"github.com/hoaqhienn/admin-tech-home-sub000/internal/model"
)

var (
	ErrUnauthorized = errors.New("store: unauthorized")
	ErrNotFound     = errors.New("store: not found")
)

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a store client authenticating with the session token.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	req.Header.Set("Authorization", "Bearer "+c.token)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		resp.Body.Close()
		return nil, ErrUnauthorized
	case http.StatusNotFound:
		resp.Body.Close()
		return nil, ErrNotFound
	}
	return resp, nil
}

// Rooms lists the rooms the session's user belongs to.
func (c *Client) Rooms(ctx context.Context) ([]model.Room, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/chats", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("store: list rooms: %d", resp.StatusCode)
	}
	var rooms []model.Room
	if err := json.NewDecoder(resp.Body).Decode(&rooms); err != nil {
		return nil, fmt.Errorf("store: decode rooms: %w", err)
	}
	return rooms, nil
}

// Messages fetches one ordered page of a room's history.
func (c *Client) Messages(ctx context.Context, roomID string, offset, limit int) ([]model.Message, error) {
	u := fmt.Sprintf("%s/chats/%s/messages?offset=%d&limit=%d",
		c.baseURL, url.PathEscape(roomID), offset, limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("store: get messages: %d", resp.StatusCode)
	}
	var msgs []model.Message
	if err := json.NewDecoder(resp.Body).Decode(&msgs); err != nil {
		return nil, fmt.Errorf("store: decode messages: %w", err)
	}
	return msgs, nil
}

// SendMessage submits text plus accepted attachments as multipart form data
// and returns the authoritative message. The request body is streamed through
// an io.Pipe so attachment bytes are never buffered whole in memory.
func (c *Client) SendMessage(ctx context.Context, roomID, tempID, text string, files []attach.Result) (*model.Message, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		err := writeMessageForm(mw, tempID, text, files)
		if closeErr := mw.Close(); err == nil {
			err = closeErr
		}
		pw.CloseWithError(err)
	}()

	u := c.baseURL + "/chats/" + url.PathEscape(roomID) + "/messages"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, pr)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("store: send message: %d", resp.StatusCode)
	}
	var msg model.Message
	if err := json.NewDecoder(resp.Body).Decode(&msg); err != nil {
		return nil, fmt.Errorf("store: decode message: %w", err)
	}
	return &msg, nil
}

func writeMessageForm(mw *multipart.Writer, tempID, text string, files []attach.Result) error {
	if err := mw.WriteField("content", text); err != nil {
		return err
	}
	if err := mw.WriteField("client_temp_id", tempID); err != nil {
		return err
	}
	for _, f := range files {
		hdr := make(textproto.MIMEHeader)
		hdr.Set("Content-Disposition",
			fmt.Sprintf(`form-data; name="files"; filename=%s`, strconv.Quote(f.File.Name)))
		if f.File.DeclaredMIME != "" {
			hdr.Set("Content-Type", f.File.DeclaredMIME)
		}
		part, err := mw.CreatePart(hdr)
		if err != nil {
			return err
		}
		if f.File.Source == nil {
			continue
		}
		if _, err := io.Copy(part, f.File.Source); err != nil {
			return fmt.Errorf("attachment %s: %w", f.File.Name, err)
		}
	}
	return nil
}

// AddMember adds a user to a room.
func (c *Client) AddMember(ctx context.Context, roomID, memberID string) error {
	return c.memberOp(ctx, http.MethodPost, roomID, memberID)
}

// RemoveMember removes a user from a room.
func (c *Client) RemoveMember(ctx context.Context, roomID, memberID string) error {
	return c.memberOp(ctx, http.MethodDelete, roomID, memberID)
}

func (c *Client) memberOp(ctx context.Context, method, roomID, memberID string) error {
	u := c.baseURL + "/chats/" + url.PathEscape(roomID) + "/members/" + url.PathEscape(memberID)
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return err
	}
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("store: member %s: %d", strings.ToLower(method), resp.StatusCode)
	}
	return nil
}
