// Package broker implements the server side of the SSO broker protocol:
// short-lived broker sessions and the command dispatcher that operates on
// them.
package broker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// ErrSessionNotFound is returned by a SessionStore when no live session
// exists for a key. The dispatcher maps it to ErrUnauthorized.
var ErrSessionNotFound = errors.New("broker: session not found")

// ErrSessionExists is returned when attaching over a key that is already
// attached.
var ErrSessionExists = errors.New("broker: session already exists")

// Session is one broker-initiated exchange. Username stays empty until a
// login command binds a user.
type Session struct {
	Token       string    `json:"token"`
	BrokerAppID string    `json:"broker_app_id"`
	Username    string    `json:"username,omitempty"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// SessionStore persists broker sessions. Create must be atomic
// (check-and-set) so two concurrent attaches for the same key cannot both
// succeed.
type SessionStore interface {
	Create(ctx context.Context, key string, sess Session, ttl time.Duration) error
	Get(ctx context.Context, key string) (*Session, error)
	Update(ctx context.Context, key string, sess Session) error
	Delete(ctx context.Context, key string) error
}

// SessionKey derives the storage key for a broker session. It folds in the
// broker's shared secret, so a stolen token cannot address the session from
// another broker.
func SessionKey(appID, token, secret string) string {
	sum := sha256.Sum256([]byte(appID + ":" + token + ":" + secret))
	return hex.EncodeToString(sum[:])
}

// AttachChecksum computes the checksum a broker must present with an attach
// command: hex(sha256("attach" + token + secret)).
func AttachChecksum(token, secret string) string {
	sum := sha256.Sum256([]byte("attach" + token + secret))
	return hex.EncodeToString(sum[:])
}

// MemorySessionStore is a process-local SessionStore for development and
// tests. Expired entries are skipped on read and reclaimed by Sweep.
type MemorySessionStore struct {
	mu       sync.Mutex
	clock    clockwork.Clock
	sessions map[string]memorySession
}

type memorySession struct {
	sess      Session
	expiresAt time.Time
}

// NewMemorySessionStore creates an empty in-memory store.
func NewMemorySessionStore(clock clockwork.Clock) *MemorySessionStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemorySessionStore{
		clock:    clock,
		sessions: make(map[string]memorySession),
	}
}

// Create stores a new session, failing if a live one already exists.
func (s *MemorySessionStore) Create(ctx context.Context, key string, sess Session, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.sessions[key]; ok && s.clock.Now().Before(existing.expiresAt) {
		return ErrSessionExists
	}
	s.sessions[key] = memorySession{sess: sess, expiresAt: s.clock.Now().Add(ttl)}
	return nil
}

// Get returns the live session for key, or ErrSessionNotFound.
func (s *MemorySessionStore) Get(ctx context.Context, key string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.sessions[key]
	if !ok || !s.clock.Now().Before(entry.expiresAt) {
		delete(s.sessions, key)
		return nil, ErrSessionNotFound
	}
	sess := entry.sess
	return &sess, nil
}

// Update replaces a live session, preserving its expiry.
func (s *MemorySessionStore) Update(ctx context.Context, key string, sess Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.sessions[key]
	if !ok || !s.clock.Now().Before(entry.expiresAt) {
		delete(s.sessions, key)
		return ErrSessionNotFound
	}
	entry.sess = sess
	s.sessions[key] = entry
	return nil
}

// Delete removes a session. Deleting an absent session is not an error.
func (s *MemorySessionStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, key)
	return nil
}

// Sweep reclaims expired entries and reports how many were removed. The
// redis-backed store expires keys server-side and has no equivalent.
func (s *MemorySessionStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	now := s.clock.Now()
	for key, entry := range s.sessions {
		if !now.Before(entry.expiresAt) {
			delete(s.sessions, key)
			removed++
		}
	}
	return removed
}

// Len reports the number of stored sessions, expired entries included.
func (s *MemorySessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
