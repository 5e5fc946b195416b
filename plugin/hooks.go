package plugin

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"sidecar/internal/logging"
)

// HookRunner dispatches host events to plugin hooks. It compiles a
// dispatch index from the active Registry lazily on first use; the index
// never outlives the registry generation it was derived from. A single
// process-wide runner serves the whole host.
type HookRunner struct {
	index   atomic.Pointer[dispatchIndex]
	buildMu sync.Mutex
	log     logrus.FieldLogger
}

// dispatchIndex is derived, rebuildable state: hooks grouped by event
// name, ordered by priority then owning plugin id.
type dispatchIndex struct {
	byEvent map[string][]HookRegistration
	source  *Registry
}

var hookRunner = NewHookRunner()

// Hooks returns the process-wide hook runner
func Hooks() *HookRunner {
	return hookRunner
}

// NewHookRunner creates an uninitialized hook runner
func NewHookRunner() *HookRunner {
	return &HookRunner{
		log: logging.Subsystem("hooks"),
	}
}

// Dispatch invokes all hooks registered for the event's name, in
// priority order. Handler errors are logged and collected; a failing
// hook never prevents later hooks from running. Dispatches that started
// before a Reset complete against the index snapshot captured here.
func (r *HookRunner) Dispatch(ctx context.Context, ev Event) error {
	idx := r.ensureIndex()

	regs := idx.byEvent[ev.Name]
	if len(regs) == 0 {
		return nil
	}

	var errs []error
	for _, reg := range regs {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := reg.Handler(ctx, ev); err != nil {
			r.log.Warnf("Hook %s from plugin %s failed: %v", ev.Name, reg.Plugin, err)
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Reset drops all derived dispatch state, returning the runner to an
// uninitialized state. The next dispatch re-derives the index from
// whatever Registry is then active. Safe to call at any time, including
// before any hook has ever run.
func (r *HookRunner) Reset() {
	r.index.Store(nil)
}

// ensureIndex returns a dispatch index derived from the currently
// active Registry, rebuilding when none exists or when the registry
// generation has moved on since the index was built.
func (r *HookRunner) ensureIndex() *dispatchIndex {
	current := Active()

	if idx := r.index.Load(); idx != nil && idx.source == current {
		return idx
	}

	r.buildMu.Lock()
	defer r.buildMu.Unlock()

	if idx := r.index.Load(); idx != nil && idx.source == current {
		return idx
	}

	idx := compileIndex(current)
	r.index.Store(idx)
	r.log.Debugf("Compiled hook index: %d event(s), %d registration(s)",
		len(idx.byEvent), current.HookCount())

	return idx
}

// compileIndex groups a registry's hooks by event name and orders each
// group by priority, then owning plugin id for a stable tie-break.
func compileIndex(reg *Registry) *dispatchIndex {
	byEvent := make(map[string][]HookRegistration)
	for _, h := range reg.hooks {
		byEvent[h.Name] = append(byEvent[h.Name], h)
	}

	for name := range byEvent {
		regs := byEvent[name]
		sort.SliceStable(regs, func(i, j int) bool {
			if regs[i].Priority != regs[j].Priority {
				return regs[i].Priority < regs[j].Priority
			}
			return regs[i].Plugin < regs[j].Plugin
		})
		byEvent[name] = regs
	}

	return &dispatchIndex{
		byEvent: byEvent,
		source:  reg,
	}
}
