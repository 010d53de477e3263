package memory

import (
	"context"
	"sync"
	"time"

	"github.com/hoaqhienn/admin-tech-home-sub000/internal/model"
)

const (
	sessionTTL  = 30 * 24 * time.Hour
	presenceTTL = 60 * time.Second
)

type Client struct {
	mu         sync.RWMutex
	session    model.Session
	sessionExp time.Time
	presence   map[string]time.Time
}

func New() *Client {
	return &Client{presence: make(map[string]time.Time)}
}

func (c *Client) Close() error { return nil }

func (c *Client) SaveSession(ctx context.Context, s model.Session) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session = s
	c.sessionExp = time.Now().Add(sessionTTL)
	return nil
}

func (c *Client) LoadSession(ctx context.Context) (model.Session, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if time.Now().After(c.sessionExp) {
		return model.Session{}, nil
	}
	return c.session, nil
}

func (c *Client) ClearSession(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session = model.Session{}
	c.sessionExp = time.Time{}
	return nil
}

func (c *Client) TouchPresence(ctx context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.presence[userID] = time.Now()
	return nil
}

func (c *Client) LastSeen(ctx context.Context, userID string) (time.Time, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.presence[userID]
	if !ok || time.Since(t) > presenceTTL {
		return time.Time{}, nil
	}
	return t, nil
}
