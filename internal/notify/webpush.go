package notify

import (
	"context"
	"encoding/json"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/hoaqhienn/admin-tech-home-sub000/internal/logger"
)

// Subscription is the browser-side push subscription for the console user.
type Subscription struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

// WebPushSurface delivers notifications over Web Push. Errors are logged only:
// a missed notification is not worth failing the message path for.
type WebPushSurface struct {
	sub  Subscription
	opts *webpush.Options
}

// NewWebPushSurface builds a surface for one subscription. subject is the
// VAPID subject (mailto: or https: URL).
func NewWebPushSurface(sub Subscription, subject, vapidPublic, vapidPrivate string) *WebPushSurface {
	return &WebPushSurface{
		sub: sub,
		opts: &webpush.Options{
			Subscriber:      subject,
			VAPIDPublicKey:  vapidPublic,
			VAPIDPrivateKey: vapidPrivate,
			TTL:             60,
		},
	}
}

func (s *WebPushSurface) Show(ctx context.Context, n Notification) {
	payload, err := json.Marshal(n)
	if err != nil {
		logger.Errorf("push: marshal notification: %v", err)
		return
	}
	wpSub := &webpush.Subscription{
		Endpoint: s.sub.Endpoint,
		Keys:     webpush.Keys{P256dh: s.sub.Keys.P256dh, Auth: s.sub.Keys.Auth},
	}
	resp, err := webpush.SendNotificationWithContext(ctx, payload, wpSub, s.opts)
	if err != nil {
		logger.Errorf("push: send: %v", err)
		return
	}
	resp.Body.Close()
	if resp.StatusCode >= 400 {
		logger.Errorf("push: endpoint returned %d", resp.StatusCode)
	}
}

// LogSurface writes notifications to the log. Used when push is not
// configured and in development.
type LogSurface struct{}

func (LogSurface) Show(_ context.Context, n Notification) {
	logger.Infof("notification: %s: %s (%s)", n.Title, n.Body, n.Target)
}
