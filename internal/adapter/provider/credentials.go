package provider

import (
	"context"
	"sync"
	"time"

	"pesabridge/internal/core/ports"

	"github.com/rs/zerolog"
)

// fetchFunc obtains a fresh bearer token and its lifetime from the provider.
type fetchFunc func(ctx context.Context) (token string, ttl time.Duration, err error)

// bearerTokenSource caches a short-lived bearer credential obtained via a
// client-credentials handshake. The mutex is held across the refresh call on
// purpose: it serializes concurrent refresh attempts so at most one handshake
// is in flight at a time. An optional shared CredentialStore lets replicas
// reuse a token across processes.
type bearerTokenSource struct {
	mu     sync.Mutex
	fetch  fetchFunc
	store  ports.CredentialStore // may be nil
	key    string
	skew   time.Duration
	token  string
	expiry time.Time
	log    zerolog.Logger
}

func newBearerTokenSource(fetch fetchFunc, store ports.CredentialStore, key string, skew time.Duration, log zerolog.Logger) *bearerTokenSource {
	if skew <= 0 {
		skew = 30 * time.Second
	}
	return &bearerTokenSource{fetch: fetch, store: store, key: key, skew: skew, log: log}
}

// Token returns a valid bearer token, refreshing transparently when expired
// or within the skew window of expiry.
func (s *bearerTokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if s.token != "" && now.Before(s.expiry.Add(-s.skew)) {
		return s.token, nil
	}

	if s.store != nil {
		tok, ttl, err := s.store.Get(ctx, s.key)
		if err != nil {
			s.log.Warn().Err(err).Str("key", s.key).Msg("credential store read failed, refreshing directly")
		} else if tok != "" && ttl > s.skew {
			s.token = tok
			s.expiry = now.Add(ttl)
			return tok, nil
		}
	}

	tok, ttl, err := s.fetch(ctx)
	if err != nil {
		return "", err
	}
	s.token = tok
	s.expiry = now.Add(ttl)

	if s.store != nil {
		if err := s.store.Set(ctx, s.key, tok, ttl); err != nil {
			s.log.Warn().Err(err).Str("key", s.key).Msg("credential store write failed")
		}
	}
	return tok, nil
}

// Invalidate drops the cached token, forcing a refresh on next use.
// Called after the provider answers 401 to a supposedly valid token.
func (s *bearerTokenSource) Invalidate() {
	s.mu.Lock()
	s.token = ""
	s.expiry = time.Time{}
	s.mu.Unlock()
}
