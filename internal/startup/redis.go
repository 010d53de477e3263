package startup

import (
	"context"
	"time"

	"github.com/hoaqhienn/admin-tech-home-sub000/internal/logger"
	sessionredis "github.com/hoaqhienn/admin-tech-home-sub000/internal/session/redis"
)

// ConnectRedisWithRetry connects the session store with retries. Returns nil
// once maxWait elapses; the caller falls back to the in-memory store.
func ConnectRedisWithRetry(redisURL string, maxWait time.Duration) *sessionredis.Client {
	deadline := time.Now().Add(maxWait)
	backoff := 2 * time.Second
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		client, err := sessionredis.New(ctx, redisURL)
		cancel()
		if err == nil {
			return client
		}
		if time.Now().After(deadline) {
			logger.Errorf("redis (gave up after %v): %v", maxWait, err)
			return nil
		}
		logger.Errorf("redis connect failed, retry in %v: %v", backoff, err)
		time.Sleep(backoff)
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}
