package memory

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"pulsequiz-sync/internal/domain"
)

// PreferenceStore is an in-memory implementation of app.PreferenceStore.
type PreferenceStore struct {
	clock clockwork.Clock

	mu     sync.RWMutex
	values map[string]preference
}

type preference struct {
	value     string
	expiresAt time.Time
}

func NewPreferenceStore(clock clockwork.Clock) *PreferenceStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &PreferenceStore{
		clock:  clock,
		values: make(map[string]preference),
	}
}

func (s *PreferenceStore) Get(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	p, ok := s.values[key]
	s.mu.RUnlock()
	if !ok {
		return "", domain.ErrPreferenceNotFound
	}
	if !p.expiresAt.IsZero() && !p.expiresAt.After(s.clock.Now()) {
		s.mu.Lock()
		delete(s.values, key)
		s.mu.Unlock()
		return "", domain.ErrPreferenceNotFound
	}
	return p.value, nil
}

// Set stores a value. A zero ttl keeps it until deleted.
func (s *PreferenceStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	p := preference{value: value}
	if ttl > 0 {
		p.expiresAt = s.clock.Now().Add(ttl)
	}
	s.mu.Lock()
	s.values[key] = p
	s.mu.Unlock()
	return nil
}

func (s *PreferenceStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.values, key)
	s.mu.Unlock()
	return nil
}
