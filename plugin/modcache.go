package plugin

import (
	"context"
	"path/filepath"
	"sync"
)

// ModuleCache is the process-wide store of imported plugin modules,
// keyed by canonical absolute source path. Without it every load pass
// would re-evaluate every plugin; with it, a reload must purge the
// entries for changed sources or the next pass silently reuses stale
// code.
type ModuleCache struct {
	mu      sync.RWMutex
	modules map[string]*Module
}

var moduleCache = NewModuleCache()

// Modules returns the process-wide module cache
func Modules() *ModuleCache {
	return moduleCache
}

// NewModuleCache creates an empty module cache
func NewModuleCache() *ModuleCache {
	return &ModuleCache{
		modules: make(map[string]*Module),
	}
}

// GetOrImport returns the cached module for source, importing it with
// imp on a miss and caching the result.
func (c *ModuleCache) GetOrImport(ctx context.Context, source string, imp Importer) (*Module, error) {
	key := canonicalPath(source)

	c.mu.RLock()
	mod, ok := c.modules[key]
	c.mu.RUnlock()
	if ok {
		return mod, nil
	}

	mod, err := imp.Import(ctx, source)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	// Another caller may have imported meanwhile; keep the first entry
	// so cached references stay stable.
	if existing, ok := c.modules[key]; ok {
		mod = existing
	} else {
		c.modules[key] = mod
	}
	c.mu.Unlock()

	return mod, nil
}

// Purge removes the cache entries matching the given source paths and
// returns the number of entries removed. Both cache keys and arguments
// are resolved to canonical absolute form before comparison. Purging
// paths not present in the cache is a no-op, not an error.
func (c *ModuleCache) Purge(sourcePaths []string) int {
	if len(sourcePaths) == 0 {
		return 0
	}

	targets := make(map[string]bool, len(sourcePaths))
	for _, p := range sourcePaths {
		targets[canonicalPath(p)] = true
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key := range c.modules {
		if targets[key] {
			delete(c.modules, key)
			removed++
		}
	}

	return removed
}

// Len returns the number of cached modules
func (c *ModuleCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.modules)
}

// canonicalPath resolves a path to a canonical absolute form. Symlinks
// are resolved best-effort; a path that cannot be resolved still yields
// a stable cleaned absolute form.
func canonicalPath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved
	}
	return filepath.Clean(abs)
}
