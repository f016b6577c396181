// store.go -- In-memory session store with sliding expiration.
//
// Sessions map an opaque token to a user and the mood of their most recent
// submission. The map never leaves this package; callers get copies.
package session

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
)

// Mood is the mood state cached for feedback reconstruction.
// Genre is the canonical (encoder) label, not the catalog search term.
type Mood struct {
	Valence float64 `json:"valence"`
	Arousal float64 `json:"arousal"`
	Genre   string  `json:"genre"`
}

// Session is a snapshot of one entry. Mood is nil until a submission is cached.
type Session struct {
	Token     string
	UserID    uuid.UUID
	Username  string
	CreatedAt time.Time
	ExpiresAt time.Time
	Mood      *Mood
}

// Store holds sessions keyed by token. Safe for concurrent use.
type Store struct {
	ttl time.Duration
	now func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewStore returns an empty store whose sessions live for ttl after last access.
func NewStore(ttl time.Duration) *Store {
	return &Store{
		ttl:      ttl,
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
}

// SetClock replaces the time source. Tests only.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// GenerateToken returns a 256-bit random token, base64url encoded (no padding).
func GenerateToken() (string, error) {
	var raw [32]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", fmt.Errorf("generating token with rand: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// Create stores a new session for userID and returns its token.
func (s *Store) Create(userID uuid.UUID, username string) (string, error) {
	token, err := GenerateToken()
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.sessions[token] = &Session{
		Token:     token,
		UserID:    userID,
		Username:  username,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	return token, nil
}

// Get returns a copy of the session for token, sliding its expiry forward.
// Unknown and expired tokens return false; expired entries are removed.
func (s *Store) Get(token string) (Session, bool) {
	if token == "" {
		return Session{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[token]
	if !ok {
		return Session{}, false
	}
	now := s.now()
	if !now.Before(sess.ExpiresAt) {
		delete(s.sessions, token)
		return Session{}, false
	}
	sess.ExpiresAt = now.Add(s.ttl)
	return sess.copy(), true
}

// UpdateMood caches mood on a live session. Returns false if the session is
// gone or expired; callers treat that as "mood not cached", not a failure.
// Does not slide expiry.
func (s *Store) UpdateMood(token string, mood Mood) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[token]
	if !ok || !s.now().Before(sess.ExpiresAt) {
		return false
	}
	m := mood
	sess.Mood = &m
	return true
}

// Delete removes token. Returns whether it existed; safe to call repeatedly.
func (s *Store) Delete(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[token]
	delete(s.sessions, token)
	return ok
}

// Sweep removes every expired session and returns how many were removed.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	n := 0
	for token, sess := range s.sessions {
		if !now.Before(sess.ExpiresAt) {
			delete(s.sessions, token)
			n++
		}
	}
	return n
}

// Len reports how many sessions are held, expired or not.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (sess *Session) copy() Session {
	out := *sess
	if sess.Mood != nil {
		m := *sess.Mood
		out.Mood = &m
	}
	return out
}
