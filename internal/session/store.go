// Package session keeps the latest prediction result and model per browser
// session.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/estate-predictor/backend/internal/prediction"
)

var ErrNotFound = errors.New("no prediction result for session")

// Store holds one Result per session id. Implementations are safe for
// concurrent use.
type Store interface {
	Save(ctx context.Context, id string, result *prediction.Result) error
	Load(ctx context.Context, id string) (*prediction.Result, error)
	Clear(ctx context.Context, id string) error
}

func NewID() string {
	return uuid.New().String()
}

type memoryEntry struct {
	result  *prediction.Result
	expires time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expires.IsZero() && now.After(e.expires)
}

type MemoryStore struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.RWMutex
	entries map[string]memoryEntry
	sweeper *sweeper
}

// NewMemoryStore keeps results for ttl; a zero ttl keeps them until cleared.
// With a ttl, expired entries are swept in the background until Stop.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	s := &MemoryStore{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]memoryEntry),
	}
	if every := sweepInterval(ttl); every > 0 {
		s.sweeper = startSweeper(every, func() { s.Sweep() })
	}
	return s
}

func (s *MemoryStore) Save(_ context.Context, id string, result *prediction.Result) error {
	e := memoryEntry{result: result}
	if s.ttl > 0 {
		e.expires = s.now().Add(s.ttl)
	}

	s.mu.Lock()
	s.entries[id] = e
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Load(_ context.Context, id string) (*prediction.Result, error) {
	s.mu.RLock()
	e, ok := s.entries[id]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrNotFound
	}
	if e.expired(s.now()) {
		s.mu.Lock()
		delete(s.entries, id)
		s.mu.Unlock()
		return nil, ErrNotFound
	}
	return e.result, nil
}

func (s *MemoryStore) Clear(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.entries, id)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Sweep removes expired entries and returns how many were removed.
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	removed := 0
	for id, e := range s.entries {
		if e.expired(now) {
			delete(s.entries, id)
			removed++
		}
	}
	return removed
}

func (s *MemoryStore) Stop() {
	s.sweeper.Stop()
}
