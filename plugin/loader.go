package plugin

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"sidecar/internal/config"
	"sidecar/internal/logging"
)

// loaderCacheSize bounds the number of cached registries; one entry per
// distinct parameter set is the common case.
const loaderCacheSize = 8

// Params are the effective load parameters
type Params struct {
	// Config drives discovery roots, disabled ids, and plugin settings
	Config *config.Config

	// WorkspaceDir is the optional workspace whose plugins/ dir is searched
	WorkspaceDir string

	// Logger overrides the loader's subsystem logger when set
	Logger logrus.FieldLogger

	// CoreGateway holds host-provided gateway handlers that plugin
	// handlers extend but must not shadow
	CoreGateway map[string]GatewayHandler

	// Importer evaluates plugin code; nil selects the declarative importer
	Importer Importer

	// Cache enables the loader-level registry cache: repeated loads with
	// equivalent parameters return the same Registry reference. The
	// reload path always passes false and never touches the cache.
	Cache bool
}

// ClearOptions control what ClearCaches invalidates
type ClearOptions struct {
	// SourcePaths are additionally purged from the module cache so the
	// next load pass re-imports fresh code for exactly those plugins
	SourcePaths []string
}

// Loader validates manifests, imports plugin code, and assembles
// registries. Safe for concurrent use.
type Loader struct {
	cache *lru.Cache[string, *Registry]
	log   logrus.FieldLogger
}

var defaultLoader = NewLoader()

// Default returns the process-wide loader
func Default() *Loader {
	return defaultLoader
}

// NewLoader creates a loader with an empty cache
func NewLoader() *Loader {
	cache, _ := lru.New[string, *Registry](loaderCacheSize)
	return &Loader{
		cache: cache,
		log:   logging.Subsystem("loader"),
	}
}

// Load runs a load pass and returns the assembled Registry.
//
// With Cache=true, a prior Registry produced for equivalent parameters is
// returned by reference. With Cache=false the pass is always fresh and
// the cache is neither read nor written.
//
// A plugin whose manifest is invalid or whose import fails is recorded
// with status error and does not abort the pass; the returned Registry
// still includes every successfully loaded plugin. Load fails as a whole
// only when the context is cancelled.
func (l *Loader) Load(ctx context.Context, p Params) (*Registry, error) {
	log := p.Logger
	if log == nil {
		log = l.log
	}
	cfg := p.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	candidates := Discover(SearchRoots(p.WorkspaceDir, cfg), log)

	var key string
	if p.Cache {
		key = fingerprint(p.WorkspaceDir, cfg, candidates, p.CoreGateway)
		if reg, ok := l.cache.Get(key); ok {
			log.Debugf("Loader cache hit for %d candidate(s)", len(candidates))
			return reg, nil
		}
	}

	reg, err := l.loadFresh(ctx, cfg, p, candidates, log)
	if err != nil {
		return nil, err
	}

	if p.Cache {
		l.cache.Add(key, reg)
	}

	return reg, nil
}

// ClearCaches invalidates the loader-level registry cache and, when
// source paths are given, purges those entries from the module cache.
// The coupling exists so the reload orchestrator can clear both layers
// in one step; the loader itself never imports through stale modules
// afterwards.
func (l *Loader) ClearCaches(opts ClearOptions) {
	l.cache.Purge()

	if len(opts.SourcePaths) > 0 {
		purged := Modules().Purge(opts.SourcePaths)
		l.log.Infof("Cleared loader cache, purged %d cached module(s)", purged)
		return
	}
	l.log.Info("Cleared loader cache")
}

// loadFresh performs one full pass over the candidates. Per-candidate
// failures are folded into the result, never short-circuited.
func (l *Loader) loadFresh(ctx context.Context, cfg *config.Config, p Params, candidates []Candidate, log logrus.FieldLogger) (*Registry, error) {
	imp := p.Importer
	if imp == nil {
		imp = DefaultImporter()
	}

	gateway := make(map[string]GatewayHandler, len(p.CoreGateway))
	for method, handler := range p.CoreGateway {
		gateway[method] = handler
	}

	var (
		plugins []*Plugin
		hooks   []HookRegistration
	)
	seen := make(map[string]bool)
	sink := getCommandSink()

	for _, cand := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("load pass aborted: %w", err)
		}

		pl := l.loadOne(ctx, cfg, cand, imp, gateway, seen, sink, log)
		plugins = append(plugins, pl)

		switch pl.Status {
		case StatusLoaded:
			hooks = append(hooks, pl.Hooks...)
		case StatusError:
			log.Warnf("Plugin %s failed to load: %s", pl.ID, pl.Err)
		case StatusDisabled:
			log.Debugf("Plugin %s skipped: %s", pl.ID, pl.Err)
		}
	}

	reg := newRegistry(plugins, hooks, gateway)
	log.Infof("Load pass complete: %d loaded, %d total, %d hook(s)",
		reg.LoadedCount(), len(plugins), len(hooks))

	return reg, nil
}

// loadOne resolves a single candidate into a Plugin record
func (l *Loader) loadOne(ctx context.Context, cfg *config.Config, cand Candidate, imp Importer, gateway map[string]GatewayHandler, seen map[string]bool, sink CommandSink, log logrus.FieldLogger) *Plugin {
	source := canonicalPath(cand.ManifestPath)
	fallbackID := filepath.Base(cand.Root)

	manifest, err := LoadManifestFromDir(cand.Root)
	if err != nil {
		return &Plugin{ID: fallbackID, Source: source, Status: StatusError, Err: err.Error()}
	}

	if verrs := ValidateManifest(manifest); len(verrs) > 0 {
		msgs := make([]string, len(verrs))
		for i, v := range verrs {
			msgs[i] = v.Error()
		}
		id := manifest.ID
		if id == "" {
			id = fallbackID
		}
		return &Plugin{
			ID:     id,
			Source: source,
			Status: StatusError,
			Err:    "invalid manifest: " + strings.Join(msgs, "; "),
		}
	}

	id := manifest.ID
	if seen[id] {
		return &Plugin{ID: id, Source: source, Status: StatusError, Err: "duplicate plugin id"}
	}
	seen[id] = true

	if manifest.Disabled {
		return &Plugin{ID: id, Version: manifest.Version, Source: source, Status: StatusDisabled, Err: "disabled in manifest"}
	}
	if cfg.IsPluginDisabled(id) {
		return &Plugin{ID: id, Version: manifest.Version, Source: source, Status: StatusDisabled, Err: "disabled in config"}
	}

	if err := checkerForManifest(manifest, log).Check(ctx); err != nil {
		return &Plugin{ID: id, Version: manifest.Version, Source: source, Status: StatusDisabled, Err: err.Error()}
	}

	if _, err := manifest.ValidateSettings(cfg.PluginSettings(id)); err != nil {
		return &Plugin{ID: id, Version: manifest.Version, Source: source, Status: StatusError, Err: fmt.Sprintf("invalid settings: %v", err)}
	}

	mod, err := Modules().GetOrImport(ctx, source, imp)
	if err != nil {
		return &Plugin{ID: id, Version: manifest.Version, Source: source, Status: StatusError, Err: fmt.Sprintf("import failed: %v", err)}
	}

	// Conflict detection before any merge: a plugin must not shadow a
	// core method or another plugin's method.
	methods := make([]string, 0, len(mod.Gateway))
	for method := range mod.Gateway {
		if _, exists := gateway[method]; exists {
			return &Plugin{
				ID:      id,
				Version: manifest.Version,
				Source:  source,
				Status:  StatusError,
				Err:     fmt.Sprintf("gateway method conflict: %s already registered", method),
			}
		}
		methods = append(methods, method)
	}
	sort.Strings(methods)

	cmds := make([]*Command, len(mod.Commands))
	for i, c := range mod.Commands {
		owned := *c
		owned.Plugin = id
		cmds[i] = &owned
	}
	if sink != nil && len(cmds) > 0 {
		if err := sink.Add(cmds...); err != nil {
			return &Plugin{ID: id, Version: manifest.Version, Source: source, Status: StatusError, Err: err.Error()}
		}
	}

	for method, handler := range mod.Gateway {
		gateway[method] = handler
	}

	hooks := make([]HookRegistration, len(mod.Hooks))
	for i, h := range mod.Hooks {
		h.Plugin = id
		hooks[i] = h
	}

	log.Debugf("Loaded plugin %s v%s (%d hook(s), %d command(s), %d gateway method(s))",
		id, manifest.Version, len(hooks), len(cmds), len(methods))

	return &Plugin{
		ID:       id,
		Version:  manifest.Version,
		Source:   source,
		Status:   StatusLoaded,
		Hooks:    hooks,
		Commands: cmds,
		Gateway:  methods,
	}
}

// fingerprint derives a stable cache key from the effective load
// parameters: workspace, discovered candidate set, plugin configuration,
// and the core gateway surface.
func fingerprint(workspaceDir string, cfg *config.Config, candidates []Candidate, core map[string]GatewayHandler) string {
	h := sha256.New()

	io.WriteString(h, workspaceDir)
	h.Write([]byte{0})

	for _, c := range candidates {
		io.WriteString(h, c.Root)
		h.Write([]byte{0})
		io.WriteString(h, c.ManifestPath)
		h.Write([]byte{0})
	}

	if data, err := yaml.Marshal(cfg.Plugins); err == nil {
		h.Write(data)
	}
	h.Write([]byte{0})

	methods := make([]string, 0, len(core))
	for m := range core {
		methods = append(methods, m)
	}
	sort.Strings(methods)
	for _, m := range methods {
		io.WriteString(h, m)
		h.Write([]byte{0})
	}

	return hex.EncodeToString(h.Sum(nil))
}
