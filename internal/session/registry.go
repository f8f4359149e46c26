package session

import (
	"sync"
	"time"

	"github.com/estate-predictor/backend/internal/model"
)

type registryEntry struct {
	model   *model.Trained
	expires time.Time
}

// Registry holds the full-fit model of each session in process memory.
// Models are not serialized, so single-record inference is served by the
// replica that ran the upload. Entries expire ttl after Put, matching the
// session result they belong to.
type Registry struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.RWMutex
	models  map[string]registryEntry
	sweeper *sweeper
}

// NewRegistry keeps models for ttl; a zero ttl keeps them until deleted.
func NewRegistry(ttl time.Duration) *Registry {
	r := &Registry{
		ttl:    ttl,
		now:    time.Now,
		models: make(map[string]registryEntry),
	}
	if every := sweepInterval(ttl); every > 0 {
		r.sweeper = startSweeper(every, func() { r.Sweep() })
	}
	return r
}

func (r *Registry) Put(id string, m *model.Trained) {
	e := registryEntry{model: m}
	if r.ttl > 0 {
		e.expires = r.now().Add(r.ttl)
	}
	r.mu.Lock()
	r.models[id] = e
	r.mu.Unlock()
}

func (r *Registry) Get(id string) (*model.Trained, bool) {
	r.mu.RLock()
	e, ok := r.models[id]
	r.mu.RUnlock()
	if !ok || r.expired(e) {
		return nil, false
	}
	return e.model, true
}

func (r *Registry) Delete(id string) {
	r.mu.Lock()
	delete(r.models, id)
	r.mu.Unlock()
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.models)
}

// Sweep drops expired models and returns how many were dropped.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, e := range r.models {
		if r.expired(e) {
			delete(r.models, id)
			removed++
		}
	}
	return removed
}

func (r *Registry) Stop() {
	r.sweeper.Stop()
}

func (r *Registry) expired(e registryEntry) bool {
	return !e.expires.IsZero() && r.now().After(e.expires)
}
