package plugin

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Registry is an immutable snapshot of one load pass: the plugins in
// discovery order, their resolved hook registrations, and the merged
// gateway handler table. A Registry is never mutated after construction;
// reload always produces a new one, so callers holding an old reference
// keep a consistent, frozen view until they drop it.
type Registry struct {
	generation string
	createdAt  time.Time
	plugins    []*Plugin
	hooks      []HookRegistration
	gateway    map[string]GatewayHandler
}

// newRegistry assembles a Registry from a completed load pass
func newRegistry(plugins []*Plugin, hooks []HookRegistration, gateway map[string]GatewayHandler) *Registry {
	return &Registry{
		generation: uuid.NewString(),
		createdAt:  time.Now(),
		plugins:    plugins,
		hooks:      hooks,
		gateway:    gateway,
	}
}

// Generation returns the registry's unique generation id
func (r *Registry) Generation() string {
	return r.generation
}

// CreatedAt returns when the registry was assembled
func (r *Registry) CreatedAt() time.Time {
	return r.createdAt
}

// Plugins returns the plugins in discovery order
func (r *Registry) Plugins() []*Plugin {
	out := make([]*Plugin, len(r.plugins))
	copy(out, r.plugins)
	return out
}

// Plugin retrieves a plugin by id
func (r *Registry) Plugin(id string) (*Plugin, bool) {
	for _, p := range r.plugins {
		if p.ID == id {
			return p, true
		}
	}
	return nil, false
}

// Hooks returns the resolved hook registrations in discovery order
func (r *Registry) Hooks() []HookRegistration {
	out := make([]HookRegistration, len(r.hooks))
	copy(out, r.hooks)
	return out
}

// HookCount returns the number of resolved hook registrations
func (r *Registry) HookCount() int {
	return len(r.hooks)
}

// Gateway retrieves the handler for a gateway method
func (r *Registry) Gateway(method string) (GatewayHandler, bool) {
	h, ok := r.gateway[method]
	return h, ok
}

// GatewayMethods returns the names of all served gateway methods
func (r *Registry) GatewayMethods() []string {
	methods := make([]string, 0, len(r.gateway))
	for m := range r.gateway {
		methods = append(methods, m)
	}
	return methods
}

// LoadedCount returns the number of plugins with status loaded
func (r *Registry) LoadedCount() int {
	n := 0
	for _, p := range r.plugins {
		if p.Status == StatusLoaded {
			n++
		}
	}
	return n
}

// SourcePaths returns the source paths of every plugin in the registry,
// the keys a later reload purges from the module cache.
func (r *Registry) SourcePaths() []string {
	paths := make([]string, 0, len(r.plugins))
	for _, p := range r.plugins {
		if p.Source != "" {
			paths = append(paths, p.Source)
		}
	}
	return paths
}

// active is the process-wide pointer to the currently live Registry.
// It is initialized by the first successful load, replaced only by a
// single atomic store at the end of a successful reload, and read
// concurrently by request and hook dispatch code throughout the host.
var active atomic.Pointer[Registry]

// emptyRegistry is what Active returns before the first successful
// load, so callers never see nil.
var emptyRegistry = newRegistry(nil, nil, map[string]GatewayHandler{})

// Active returns the currently live Registry. Before the first
// successful load it returns a stable empty Registry. Readers either
// see an old, fully consistent Registry or the new one; never a mix.
func Active() *Registry {
	if r := active.Load(); r != nil {
		return r
	}
	return emptyRegistry
}

// publishActive atomically replaces the live Registry. Called only by
// the reload orchestrator on success.
func publishActive(r *Registry) {
	active.Store(r)
}

// SwapActive replaces the live Registry and returns the previous one.
// It exists so tests can install and restore a known registry; runtime
// code publishes exclusively through the reload orchestrator.
func SwapActive(r *Registry) *Registry {
	return active.Swap(r)
}

// commandSink holds the process-wide sink that receives plugin commands.
var (
	sinkMu      sync.RWMutex
	commandSink CommandSink
)

// SetCommandSink installs the process-wide command sink. The command
// registry calls this from its init.
func SetCommandSink(sink CommandSink) {
	sinkMu.Lock()
	defer sinkMu.Unlock()
	commandSink = sink
}

// getCommandSink returns the installed sink, or nil when none is set
func getCommandSink() CommandSink {
	sinkMu.RLock()
	defer sinkMu.RUnlock()
	return commandSink
}
