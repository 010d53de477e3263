// Package session persists the signed-in session so a console restart can
// resume without re-authenticating.
package session

import (
	"context"
	"time"

	"github.com/hoaqhienn/admin-tech-home-sub000/internal/model"
)

// Store keeps the current session and last-seen presence stamps.
// Implementations: redis.Client, memory.Client (for -dev without Redis).
type Store interface {
	SaveSession(ctx context.Context, s model.Session) error
	// LoadSession returns the zero Session when none is stored.
	LoadSession(ctx context.Context) (model.Session, error)
	ClearSession(ctx context.Context) error
	TouchPresence(ctx context.Context, userID string) error
	LastSeen(ctx context.Context, userID string) (time.Time, error)
	Close() error
}
