package domain

import (
	"crypto/rand"
	"encoding/hex"
	"net/url"
	"time"

	"github.com/google/uuid"
)

// WebhookSubscription is a merchant-configured webhook target plus its
// delivery policy. The signing secret is immutable after creation and is
// never logged or listed; it is shown once, at creation time.
type WebhookSubscription struct {
	ID          uuid.UUID     `json:"id"`
	OwnerID     uuid.UUID     `json:"owner_id"`
	URL         string        `json:"url"`
	Events      []EventName   `json:"events"`
	Secret      string        `json:"-"`
	MaxAttempts int           `json:"max_attempts"`
	Timeout     time.Duration `json:"timeout"`
	Active      bool          `json:"active"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// SubscribedTo reports whether the subscription wants the given event.
func (s *WebhookSubscription) SubscribedTo(event EventName) bool {
	for _, e := range s.Events {
		if e == event {
			return true
		}
	}
	return false
}

// ValidTargetURL reports whether raw is an absolute http(s) URL.
func ValidTargetURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "https" || u.Scheme == "http") && u.Host != ""
}

// NewSubscriptionSecret generates an opaque 256-bit signing secret.
func NewSubscriptionSecret() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		panic("crypto/rand unavailable: " + err.Error())
	}
	return "whsec_" + hex.EncodeToString(buf)
}
