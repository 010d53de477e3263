package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hoaqhienn/admin-tech-home-sub000/internal/attach"
	"github.com/hoaqhienn/admin-tech-home-sub000/internal/chat"
	"github.com/hoaqhienn/admin-tech-home-sub000/internal/config"
	"github.com/hoaqhienn/admin-tech-home-sub000/internal/logger"
	"github.com/hoaqhienn/admin-tech-home-sub000/internal/model"
	"github.com/hoaqhienn/admin-tech-home-sub000/internal/notify"
	"github.com/hoaqhienn/admin-tech-home-sub000/internal/realtime"
	"github.com/hoaqhienn/admin-tech-home-sub000/internal/session"
	sessionmemory "github.com/hoaqhienn/admin-tech-home-sub000/internal/session/memory"
	"github.com/hoaqhienn/admin-tech-home-sub000/internal/startup"
	"github.com/hoaqhienn/admin-tech-home-sub000/internal/store"
)

const presenceHeartbeat = 30 * time.Second

func main() {
	logger.SetPrefix("console")
	userID := flag.String("user", "", "sign in as this user ID (with -token); otherwise the stored session is resumed")
	token := flag.String("token", "", "session token for -user")
	roomID := flag.String("room", "", "room to open on start")
	subFile := flag.String("push-subscription", "", "JSON file with a Web Push subscription; enables push notifications")
	flag.Parse()

	logger.Info("starting chat console")
	cfg := config.Load()

	sessions := openSessionStore(cfg)
	defer sessions.Close()

	sess := resolveSession(sessions, *userID, *token)
	if !sess.Valid() {
		logger.Error("no session: pass -user and -token, or sign in once so the stored session can be resumed")
		os.Exit(1)
	}
	logger.Infof("signed in as user %s", sess.UserID)

	storeClient := store.NewClient(cfg.StoreBaseURL, sess.Token)
	manager := realtime.NewManager(realtime.Options{
		URL:            cfg.RealtimeURL,
		Session:        sess,
		Reconnect:      cfg.Reconnect,
		WriteTimeout:   time.Duration(cfg.WSWriteTimeout) * time.Second,
		PongTimeout:    time.Duration(cfg.WSPongTimeout) * time.Second,
		MaxMessageSize: int64(cfg.WSMaxMessageSize),
	})
	manager.OnStatusChange(func(s realtime.Status) {
		logger.Infof("connection status: %s", s)
	})
	manager.OnPresence(func(userID string, online bool) {
		state := "offline"
		if online {
			state = "online"
		}
		logger.Infof("presence: user %s is %s", userID, state)
	})

	coordinator := chat.NewCoordinator(
		storeClient,
		manager,
		attach.NewValidator(cfg.Attachment.MaxSizeBytes, nil),
		notify.NewDispatcher(buildSurface(cfg, *subFile)),
		sess,
	)

	if err := manager.Acquire(); err != nil {
		logger.Errorf("acquire realtime connection: %v", err)
		os.Exit(1)
	}
	defer manager.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if rooms, err := storeClient.Rooms(ctx); err != nil {
		logger.Errorf("list rooms: %v", err)
	} else {
		for _, room := range rooms {
			logger.Infof("room %s (%s, %d members)", room.DisplayName, room.ID, len(room.Members))
			coordinator.SetMemberNames(room.Members)
		}
	}

	if *roomID != "" {
		if err := coordinator.OpenRoom(ctx, *roomID); err != nil {
			logger.Errorf("open room %s: %v", *roomID, err)
		} else {
			logger.Infof("opened room %s (%d messages)", *roomID, len(coordinator.Messages()))
		}
	}

	go heartbeat(ctx, sessions, sess.UserID)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutdown signal received")
}

// openSessionStore prefers Redis and falls back to the in-memory store, which
// only lives as long as the process.
func openSessionStore(cfg *config.Config) session.Store {
	if cfg.Redis.URL != "" {
		if client := startup.ConnectRedisWithRetry(cfg.Redis.URL, 10*time.Second); client != nil {
			return client
		}
		logger.Error("session store: redis unavailable, falling back to in-memory store")
	}
	return sessionmemory.New()
}

// resolveSession signs in with explicit credentials (persisting them) or
// resumes the stored session.
func resolveSession(sessions session.Store, userID, token string) model.Session {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if userID != "" && token != "" {
		sess := model.Session{UserID: userID, Token: token}
		if err := sessions.SaveSession(ctx, sess); err != nil {
			logger.Errorf("save session: %v", err)
		}
		return sess
	}

	sess, err := sessions.LoadSession(ctx)
	if err != nil {
		logger.Errorf("load session: %v", err)
		return model.Session{}
	}
	return sess
}

// buildSurface picks the notification surface: Web Push when a subscription
// and VAPID material are available, the log otherwise.
func buildSurface(cfg *config.Config, subFile string) notify.Surface {
	if subFile == "" || cfg.Push.Subject == "" {
		return notify.LogSurface{}
	}
	data, err := os.ReadFile(subFile)
	if err != nil {
		logger.Errorf("push: read subscription %s: %v (using log surface)", subFile, err)
		return notify.LogSurface{}
	}
	var sub notify.Subscription
	if err := json.Unmarshal(data, &sub); err != nil {
		logger.Errorf("push: parse subscription: %v (using log surface)", err)
		return notify.LogSurface{}
	}

	pub, priv := cfg.Push.VAPIDPublicKey, cfg.Push.VAPIDPrivateKey
	if pub == "" || priv == "" {
		keys, err := notify.EnsureVAPIDKeys("")
		if err != nil {
			logger.Errorf("push: VAPID keys: %v (using log surface)", err)
			return notify.LogSurface{}
		}
		pub, priv = keys.PublicKey, keys.PrivateKey
	}
	return notify.NewWebPushSurface(sub, cfg.Push.Subject, pub, priv)
}

// heartbeat stamps presence while the console runs so peers with access to
// the session store can tell the user is around.
func heartbeat(ctx context.Context, sessions session.Store, userID string) {
	ticker := time.NewTicker(presenceHeartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := sessions.TouchPresence(ctx, userID); err != nil {
				logger.Errorf("presence heartbeat: %v", err)
			}
		}
	}
}
