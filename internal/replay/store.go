// Package replay suppresses duplicate paid requests. A request is
// identified by the pair (idempotency key, request hash): the same key
// with the same hash inside the TTL window is a replay and must not be
// charged or forwarded again.
package replay

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Fingerprint identifies one paid request.
type Fingerprint struct {
	IdempotencyKey string
	RequestHash    string
}

type entry struct {
	expiresAt time.Time
}

// Store is an in-memory fingerprint set with TTL expiry. A background
// sweeper evicts stale entries so memory stays bounded.
type Store struct {
	mu      sync.Mutex
	entries map[Fingerprint]entry
	ttl     time.Duration

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}

	logger zerolog.Logger
	now    func() time.Time
}

// NewStore builds a store and starts its sweeper. The sweep interval is
// half the TTL so an expired fingerprint lingers at most ttl/2 past its
// expiry.
func NewStore(ttl time.Duration, logger zerolog.Logger) *Store {
	s := &Store{
		entries: make(map[Fingerprint]entry),
		ttl:     ttl,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		logger:  logger.With().Str("component", "replay").Logger(),
		now:     time.Now,
	}
	go s.sweep()
	return s
}

// HashRequest produces the canonical request hash: hex SHA-256 over
// method, path and body, newline-separated.
func HashRequest(method, path string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{'\n'})
	h.Write([]byte(path))
	h.Write([]byte{'\n'})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// CheckAndStore records the fingerprint if unseen and reports whether it
// was already present. Check and insert happen under one lock so two
// concurrent replays cannot both pass.
func (s *Store) CheckAndStore(fp Fingerprint) (replayed bool) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[fp]; ok && now.Before(e.expiresAt) {
		return true
	}
	s.entries[fp] = entry{expiresAt: now.Add(s.ttl)}
	return false
}

// TTL reports the current replay window.
func (s *Store) TTL() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ttl
}

// SetTTL changes the replay window for fingerprints stored from now on.
// Existing entries keep the expiry they were stored with.
func (s *Store) SetTTL(ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ttl > 0 {
		s.ttl = ttl
	}
}

// Len reports the number of live fingerprints.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Stop terminates the sweeper and waits for it to exit.
func (s *Store) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
		<-s.done
	})
}

func (s *Store) sweep() {
	defer close(s.done)

	interval := s.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.evictExpired()
		}
	}
}

func (s *Store) evictExpired() {
	now := s.now()

	s.mu.Lock()
	removed := 0
	for fp, e := range s.entries {
		if !now.Before(e.expiresAt) {
			delete(s.entries, fp)
			removed++
		}
	}
	remaining := len(s.entries)
	s.mu.Unlock()

	if removed > 0 {
		s.logger.Debug().
			Int("removed", removed).
			Int("remaining", remaining).
			Msg("replay.sweep")
	}
}
