// Package vault issues and retires the short-lived session key pairs used
// to receive one encrypted export each. Private key material never leaves
// this package except through Consume, and each key is usable exactly
// once.
package vault

import (
	"crypto/rsa"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/axobase001/axobase/observability"
	"github.com/google/uuid"
)

// ErrNotFound is returned for unknown, expired and already-consumed
// sessions alike. Collapsing the reasons keeps a caller from probing why a
// session is unusable.
var ErrNotFound = errors.New("vault: session not found")

const (
	DefaultTTL           = 5 * time.Minute
	defaultSweepInterval = time.Minute
)

type session struct {
	ownerID   string
	priv      *rsa.PrivateKey
	expiresAt time.Time
	consumed  bool
}

type Vault struct {
	mu       sync.Mutex
	sessions map[string]*session

	ttl           time.Duration
	sweepInterval time.Duration
	now           func() time.Time
	log           *slog.Logger

	done      chan struct{}
	closeOnce sync.Once
}

type Config struct {
	TTL           time.Duration `mapstructure:"ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

func New(cfg Config, log *slog.Logger) *Vault {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaultSweepInterval
	}
	if log == nil {
		log = slog.Default()
	}
	v := &Vault{
		sessions:      make(map[string]*session),
		ttl:           cfg.TTL,
		sweepInterval: cfg.SweepInterval,
		now:           time.Now,
		log:           log.With("component", "vault"),
		done:          make(chan struct{}),
	}
	go v.sweepLoop()
	return v
}

// Issue generates a fresh key pair and returns the session id plus the
// public half as PEM. The private half stays in memory until consumed,
// invalidated or expired.
func (v *Vault) Issue(ownerID string) (string, string, error) {
	priv, err := GenerateKey()
	if err != nil {
		return "", "", err
	}
	pubPEM, err := EncodePublicKeyPEM(priv)
	if err != nil {
		return "", "", err
	}

	id := uuid.NewString()
	v.mu.Lock()
	v.sessions[id] = &session{
		ownerID:   ownerID,
		priv:      priv,
		expiresAt: v.now().Add(v.ttl),
	}
	v.sweepLocked()
	v.mu.Unlock()

	observability.RecordSession("issued")
	v.log.Debug("session issued", "session_id", id, "owner_id", ownerID, "ttl", v.ttl)
	return id, pubPEM, nil
}

// Consume atomically retrieves and invalidates the private key for a live,
// unconsumed session. Any failure condition yields ErrNotFound.
func (v *Vault) Consume(sessionID string) (*rsa.PrivateKey, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	s, ok := v.sessions[sessionID]
	if !ok || s.consumed || !v.now().Before(s.expiresAt) {
		observability.RecordSession("rejected")
		return nil, ErrNotFound
	}
	s.consumed = true
	observability.RecordSession("consumed")
	return s.priv, nil
}

// Invalidate unconditionally removes a session, e.g. when a user cancels
// or requests a fresh key superseding the old one.
func (v *Vault) Invalidate(sessionID string) {
	v.mu.Lock()
	if _, ok := v.sessions[sessionID]; ok {
		delete(v.sessions, sessionID)
		observability.RecordSession("invalidated")
	}
	v.mu.Unlock()
}

// TTL reports the configured session lifetime, for API responses.
func (v *Vault) TTL() time.Duration { return v.ttl }

func (v *Vault) Close() {
	v.closeOnce.Do(func() { close(v.done) })
}

func (v *Vault) sweepLoop() {
	ticker := time.NewTicker(v.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-v.done:
			return
		case <-ticker.C:
			v.mu.Lock()
			v.sweepLocked()
			v.mu.Unlock()
		}
	}
}

// sweepLocked removes expired and consumed entries. Consumed sessions are
// kept until expiry so a duplicate consume maps to the same ErrNotFound as
// an expired one, then dropped to bound memory.
func (v *Vault) sweepLocked() {
	now := v.now()
	for id, s := range v.sessions {
		if !now.Before(s.expiresAt) {
			delete(v.sessions, id)
			if !s.consumed {
				observability.RecordSession("expired")
			}
		}
	}
}
