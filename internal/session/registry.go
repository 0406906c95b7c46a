package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

var ErrNotFound = errors.New("session not found")

// Registry keeps live sessions in memory and drops idle ones after a TTL
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	ttl      time.Duration
	logger   *zap.Logger
}

// NewRegistry creates a registry. A zero ttl disables sweeping.
func NewRegistry(ttl time.Duration, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		logger:   logger,
	}
}

// Put registers a session
func (r *Registry) Put(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = s
}

// Get looks a session up by id
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// Len returns the number of live sessions
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Sweep removes sessions untouched for longer than the TTL. A session with
// a spin awaiting resolution is kept until the TTL has run past its reveal
// time.
func (r *Registry) Sweep(now time.Time) int {
	if r.ttl <= 0 {
		return 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, s := range r.sessions {
		idle, spinning := s.idleSince()
		if now.Sub(idle) < r.ttl {
			continue
		}
		if spinning {
			r.logger.Warn("evicting session with unresolved spin",
				zap.String("session_id", id), zap.String("merchant_id", s.MerchantID))
		}
		delete(r.sessions, id)
		removed++
	}
	return removed
}

// StartCleanup sweeps on every interval until ctx is cancelled. A
// non-positive interval starts nothing.
func (r *Registry) StartCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		r.logger.Warn("session cleanup disabled", zap.Duration("interval", interval))
		return
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				if n := r.Sweep(now); n > 0 {
					r.logger.Debug("swept idle sessions", zap.Int("removed", n), zap.Int("live", r.Len()))
				}
			}
		}
	}()
}
