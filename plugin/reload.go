package plugin

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"sidecar/internal/config"
	"sidecar/internal/logging"
)

// Options configure one reload invocation
type Options struct {
	// Config is the configuration driving discovery and loading
	Config *config.Config

	// WorkspaceDir is the workspace whose plugins are reloaded
	WorkspaceDir string

	// Logger overrides the reload subsystem logger when set
	Logger logrus.FieldLogger

	// CoreGateway holds the host-provided gateway handlers
	CoreGateway map[string]GatewayHandler

	// Importer evaluates plugin code; nil selects the declarative importer
	Importer Importer
}

// Result is the sole externally observable outcome of a reload
type Result struct {
	// OK reports whether the reload succeeded and the new Registry is live
	OK bool

	// Registry is the published Registry on success, nil on failure
	Registry *Registry

	// PluginCount counts plugins with status loaded
	PluginCount int

	// HookCount is the length of the new Registry's hook sequence
	HookCount int

	// Duration is the wall time the reload took
	Duration time.Duration

	// Err is a non-empty error string on failure
	Err string
}

// Reload replaces the live plugin set: discover candidates, clear the
// loader and module caches, clear plugin commands, reset the hook
// runner, run a fresh load pass, and atomically publish the resulting
// Registry.
//
// On any failure the active registry is left untouched, so a failed
// reload never replaces a working plugin set with nothing or with a
// half-built one. Nothing escapes as a panic; all failure modes
// terminate in the returned Result. Callers must serialize reload
// invocations; the subsystem assumes, but does not enforce, non-overlap.
func Reload(ctx context.Context, opts Options) Result {
	start := time.Now()
	log := opts.Logger
	if log == nil {
		log = logging.Subsystem("reload")
	}
	log = log.WithField("reload_id", shortID())

	log.Infof("Reload starting (workspace: %s)", displayPath(opts.WorkspaceDir))

	reg, err := runReload(ctx, opts, log)
	duration := time.Since(start)

	if err != nil {
		log.Errorf("Reload failed after %s: %v", duration.Round(time.Millisecond), err)
		return Result{
			OK:       false,
			Duration: duration,
			Err:      err.Error(),
		}
	}

	result := Result{
		OK:          true,
		Registry:    reg,
		PluginCount: reg.LoadedCount(),
		HookCount:   reg.HookCount(),
		Duration:    duration,
	}

	log.Infof("Reload complete: %d plugin(s), %d hook(s) in %s",
		result.PluginCount, result.HookCount, duration.Round(time.Millisecond))

	return result
}

// runReload performs the fallible middle of a reload. A panic anywhere
// inside is converted into an ordinary error so the caller's rollback
// guarantee holds.
func runReload(ctx context.Context, opts Options, log logrus.FieldLogger) (reg *Registry, err error) {
	defer func() {
		if r := recover(); r != nil {
			reg = nil
			err = fmt.Errorf("reload panicked: %v", r)
		}
	}()

	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	candidates := Discover(SearchRoots(opts.WorkspaceDir, cfg), log)

	sources := make([]string, 0, len(candidates))
	for _, c := range candidates {
		sources = append(sources, c.ManifestPath)
	}
	sources = append(sources, Active().SourcePaths()...)

	Default().ClearCaches(ClearOptions{SourcePaths: sources})

	if sink := getCommandSink(); sink != nil {
		sink.Clear()
	}
	Hooks().Reset()

	log.Debugf("Caches cleared (%d source path(s)), loading fresh", len(sources))

	reg, err = Default().Load(ctx, Params{
		Config:       cfg,
		WorkspaceDir: opts.WorkspaceDir,
		Logger:       opts.Logger,
		CoreGateway:  opts.CoreGateway,
		Importer:     opts.Importer,
		Cache:        false,
	})
	if err != nil {
		return nil, err
	}

	// The single atomic publish: readers see the old registry or this
	// one, never a mix.
	publishActive(reg)

	return reg, nil
}

// Refresh is the thinner reload entry point: it purges the module cache
// for the previous active registry's recorded sources, clears the
// loader cache, forces a fresh load, and publishes on success. It
// shares all primitives with Reload and exists for callers that already
// know nothing but plugin sources changed.
func Refresh(ctx context.Context, opts Options) (*Registry, error) {
	log := opts.Logger
	if log == nil {
		log = logging.Subsystem("reload")
	}

	Default().ClearCaches(ClearOptions{SourcePaths: Active().SourcePaths()})

	if sink := getCommandSink(); sink != nil {
		sink.Clear()
	}
	Hooks().Reset()

	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	reg, err := Default().Load(ctx, Params{
		Config:       cfg,
		WorkspaceDir: opts.WorkspaceDir,
		Logger:       opts.Logger,
		CoreGateway:  opts.CoreGateway,
		Importer:     opts.Importer,
		Cache:        false,
	})
	if err != nil {
		return nil, err
	}

	publishActive(reg)
	log.Infof("Refresh complete: %d plugin(s) live", reg.LoadedCount())

	return reg, nil
}

// shortID returns a compact id for correlating a reload's log lines
func shortID() string {
	return uuid.NewString()[:8]
}

// displayPath renders an optional path for logs
func displayPath(path string) string {
	if path == "" {
		return "<none>"
	}
	return path
}
