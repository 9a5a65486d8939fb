// Package push web-push delivery backed by the VAPID protocol.
package push

import (
	"errors"
	"log"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/Tyrowin/presenced/internal/protocol"
)

const deliveryTTL = 60 // seconds

// VAPIDConfig holds the credentials for signed web-push delivery.
type VAPIDConfig struct {
	PublicKey  string
	PrivateKey string
	// Contact is the subscriber address advertised to push services,
	// e.g. "mailto:ops@example.com".
	Contact string
}

// Configured reports whether a usable key pair is present.
func (c VAPIDConfig) Configured() bool {
	return c.PublicKey != "" && c.PrivateKey != ""
}

// WebPushSender delivers notifications through push services using VAPID
// signatures.
type WebPushSender struct {
	cfg VAPIDConfig
}

// NewWebPushSender creates a sender with the given credentials.
func NewWebPushSender(cfg VAPIDConfig) *WebPushSender {
	return &WebPushSender{cfg: cfg}
}

// Send pushes one payload to one subscription.
func (s *WebPushSender) Send(sub *protocol.PushSubscription, payload []byte) error {
	if sub == nil {
		return errors.New("nil push subscription")
	}
	resp, err := webpush.SendNotification(payload, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			Auth:   sub.Keys.Auth,
			P256dh: sub.Keys.P256dh,
		},
	}, &webpush.Options{
		Subscriber:      s.cfg.Contact,
		VAPIDPublicKey:  s.cfg.PublicKey,
		VAPIDPrivateKey: s.cfg.PrivateKey,
		TTL:             deliveryTTL,
	})
	if err != nil {
		return err
	}
	return resp.Body.Close()
}

// NopSender drops every notification. Used when no VAPID key pair is
// configured so the rest of the server keeps working.
type NopSender struct{}

// Send logs and discards the payload.
func (NopSender) Send(sub *protocol.PushSubscription, _ []byte) error {
	log.Println("Push delivery disabled (no VAPID keys configured); dropping notification")
	return nil
}
