package channel

import (
	"fmt"
	"sync"

	"sidecar/internal/logging"
)

var (
	// globalRegistry is the global channel registry
	globalRegistry = &Registry{
		channels: make(map[string]Channel),
	}
)

// Registry manages channel registration and retrieval
type Registry struct {
	mu       sync.RWMutex
	channels map[string]Channel
}

// Register adds a channel to the global registry.
// This is typically called from channel init() functions.
func Register(c Channel) {
	globalRegistry.mu.Lock()
	defer globalRegistry.mu.Unlock()

	name := c.Name()
	if _, exists := globalRegistry.channels[name]; exists {
		panic(fmt.Sprintf("channel %s already registered", name))
	}

	globalRegistry.channels[name] = c
	logging.Subsystem("channel").WithField("channel", name).Debug("registered channel")
}

// GetRegistry returns the global channel registry
func GetRegistry() *Registry {
	return globalRegistry
}

// Get retrieves a channel by name
func (r *Registry) Get(name string) (Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, exists := r.channels[name]
	return c, exists
}

// All returns all registered channels
func (r *Registry) All() []Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()

	channels := make([]Channel, 0, len(r.channels))
	for _, c := range r.channels {
		channels = append(channels, c)
	}
	return channels
}

// Names returns the names of all registered channels
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.channels))
	for name := range r.channels {
		names = append(names, name)
	}
	return names
}

// Count returns the number of registered channels
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.channels)
}

// Clear removes all channels from the registry.
// This is primarily useful for testing.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.channels = make(map[string]Channel)
}
