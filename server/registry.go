package server

import (
	"sync"

	"github.com/samber/lo"
	uuid "github.com/satori/go.uuid"
)

// Registry holds the open connections of a server.
// This type is thread-safe.
type Registry struct {
	conns map[uuid.UUID]*ConnContext
	mu    sync.RWMutex
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[uuid.UUID]*ConnContext),
	}
}

func (r *Registry) Add(cc *ConnContext) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[cc.ID] = cc
}

func (r *Registry) Remove(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, id)
}

func (r *Registry) Get(id uuid.UUID) (*ConnContext, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cc, ok := r.conns[id]
	return cc, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Snapshot returns the connections open at the time of the call. Later
// additions and removals do not affect the returned slice.
func (r *Registry) Snapshot() []*ConnContext {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Values(r.conns)
}
