package server

import (
	"sync"

	"github.com/Serguei-P/http-sub000/message"
)

// Addon observes connection lifecycle events. Callbacks run on the
// connection's worker goroutine and must not block it for long.
type Addon interface {
	// A client connection was accepted.
	ConnectionOpened(*ConnContext)

	// The TLS handshake with the client has been completed successfully.
	TLSEstablished(*ConnContext)

	// A request head was read. At this point, the body has not been consumed.
	RequestRead(*ConnContext, *message.Request)

	// The connection has been closed and removed from the registry.
	ConnectionClosed(*ConnContext)
}

// BaseAddon provides default no-op implementations of all Addon methods.
type BaseAddon struct{}

func (*BaseAddon) ConnectionOpened(*ConnContext)              {}
func (*BaseAddon) TLSEstablished(*ConnContext)                {}
func (*BaseAddon) RequestRead(*ConnContext, *message.Request) {}
func (*BaseAddon) ConnectionClosed(*ConnContext)              {}

type addonRegistry struct {
	addons []Addon
	mu     sync.RWMutex
}

func (m *addonRegistry) Add(addon Addon) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addons = append(m.addons, addon)
}

// Get returns a copy of the current addon list.
func (m *addonRegistry) Get() []Addon {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]Addon, len(m.addons))
	copy(result, m.addons)
	return result
}
