package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hoaqhienn/admin-tech-home-sub000/internal/model"
)

// Session TTL 30 days (a restart within that window resumes silently);
// presence stamps expire after 60 seconds without a heartbeat.
const (
	SessionTTL  = 30 * 24 * time.Hour
	PresenceTTL = 60 * time.Second
)

const sessionKey = "console:session"

type Client struct {
	cli *redis.Client
}

func New(ctx context.Context, url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{cli: cli}, nil
}

func (c *Client) Close() error {
	return c.cli.Close()
}

func (c *Client) SaveSession(ctx context.Context, s model.Session) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	return c.cli.Set(ctx, sessionKey, raw, SessionTTL).Err()
}

func (c *Client) LoadSession(ctx context.Context) (model.Session, error) {
	raw, err := c.cli.Get(ctx, sessionKey).Bytes()
	if err == redis.Nil {
		return model.Session{}, nil
	}
	if err != nil {
		return model.Session{}, err
	}
	var s model.Session
	if err := json.Unmarshal(raw, &s); err != nil {
		// A corrupted entry is dropped rather than blocking sign-in.
		c.cli.Del(ctx, sessionKey)
		return model.Session{}, nil
	}
	return s, nil
}

func (c *Client) ClearSession(ctx context.Context) error {
	return c.cli.Del(ctx, sessionKey).Err()
}

func (c *Client) TouchPresence(ctx context.Context, userID string) error {
	return c.cli.Set(ctx, "presence:"+userID, time.Now().UTC().Format(time.RFC3339Nano), PresenceTTL).Err()
}

// LastSeen returns the zero time when no stamp exists or it expired.
func (c *Client) LastSeen(ctx context.Context, userID string) (time.Time, error) {
	val, err := c.cli.Get(ctx, "presence:"+userID).Result()
	if err == redis.Nil {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339Nano, val)
}
