package plugin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sidecar/internal/config"
)

// newWorkspace creates a workspace directory with an empty plugins/ dir
func newWorkspace(t *testing.T) (string, string) {
	t.Helper()
	ws := t.TempDir()
	dir := filepath.Join(ws, WorkspacePluginDir)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	return ws, dir
}

// recordingSink captures plugin commands handed to the command sink
type recordingSink struct {
	added   []*Command
	cleared int
	failFor string
}

func (s *recordingSink) Add(cmds ...*Command) error {
	for _, c := range cmds {
		if c.Plugin == s.failFor {
			return fmt.Errorf("command %s already registered", c.Name)
		}
	}
	s.added = append(s.added, cmds...)
	return nil
}

func (s *recordingSink) Clear() {
	s.cleared++
	s.added = nil
}

func TestLoadAssemblesRegistry(t *testing.T) {
	ws, plugins := newWorkspace(t)

	writePluginDir(t, plugins, "echo", `
id: echo
version: 1.0.0
hooks:
  - name: message.received
commands:
  - name: echo
    response: echoed
gateway:
  - method: echo.ping
    result: pong
`)
	writePluginDir(t, plugins, "quiet", `
id: quiet
version: 0.2.0
`)

	core := map[string]GatewayHandler{
		"status": func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			return "up", nil
		},
	}

	reg, err := NewLoader().Load(context.Background(), Params{
		WorkspaceDir: ws,
		CoreGateway:  core,
	})
	require.NoError(t, err)

	assert.Equal(t, 2, reg.LoadedCount())
	assert.Equal(t, 1, reg.HookCount())

	echo, ok := reg.Plugin("echo")
	require.True(t, ok)
	assert.Equal(t, StatusLoaded, echo.Status)
	assert.Equal(t, "1.0.0", echo.Version)
	assert.Equal(t, []string{"echo.ping"}, echo.Gateway)

	// Core and plugin gateway methods are both served
	_, ok = reg.Gateway("status")
	assert.True(t, ok)
	handler, ok := reg.Gateway("echo.ping")
	require.True(t, ok)
	result, err := handler(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "pong", result)
}

func TestLoadCacheReturnsSameRegistry(t *testing.T) {
	ws, plugins := newWorkspace(t)
	writePluginDir(t, plugins, "echo", "id: echo\n")

	loader := NewLoader()
	p := Params{WorkspaceDir: ws, Cache: true}

	first, err := loader.Load(context.Background(), p)
	require.NoError(t, err)
	second, err := loader.Load(context.Background(), p)
	require.NoError(t, err)

	assert.Same(t, first, second)
}

func TestLoadWithoutCacheIsAlwaysFresh(t *testing.T) {
	ws, plugins := newWorkspace(t)
	writePluginDir(t, plugins, "echo", "id: echo\n")

	loader := NewLoader()
	p := Params{WorkspaceDir: ws, Cache: false}

	first, err := loader.Load(context.Background(), p)
	require.NoError(t, err)
	second, err := loader.Load(context.Background(), p)
	require.NoError(t, err)

	assert.NotSame(t, first, second)
	assert.NotEqual(t, first.Generation(), second.Generation())
}

func TestLoadCacheKeyCoversConfig(t *testing.T) {
	ws, plugins := newWorkspace(t)
	writePluginDir(t, plugins, "echo", "id: echo\n")

	loader := NewLoader()

	base, err := loader.Load(context.Background(), Params{WorkspaceDir: ws, Cache: true})
	require.NoError(t, err)

	cfg := config.DefaultConfig()
	cfg.Plugins.Disabled = []string{"echo"}
	other, err := loader.Load(context.Background(), Params{WorkspaceDir: ws, Config: cfg, Cache: true})
	require.NoError(t, err)

	assert.NotSame(t, base, other)
	assert.Equal(t, 0, other.LoadedCount())
}

func TestClearCachesForcesFreshRegistry(t *testing.T) {
	ws, plugins := newWorkspace(t)
	writePluginDir(t, plugins, "echo", "id: echo\n")

	loader := NewLoader()
	p := Params{WorkspaceDir: ws, Cache: true}

	first, err := loader.Load(context.Background(), p)
	require.NoError(t, err)

	loader.ClearCaches(ClearOptions{})

	second, err := loader.Load(context.Background(), p)
	require.NoError(t, err)

	assert.NotSame(t, first, second)
}

func TestLoadPartialFailure(t *testing.T) {
	ws, plugins := newWorkspace(t)

	writePluginDir(t, plugins, "good", "id: good\n")
	writePluginDir(t, plugins, "bad", "version: not-semver\n")

	reg, err := NewLoader().Load(context.Background(), Params{WorkspaceDir: ws})
	require.NoError(t, err)

	assert.Len(t, reg.Plugins(), 2)
	assert.Equal(t, 1, reg.LoadedCount())

	bad, ok := reg.Plugin("bad")
	require.True(t, ok)
	assert.Equal(t, StatusError, bad.Status)
	assert.Contains(t, bad.Err, "invalid manifest")
}

func TestLoadDuplicateID(t *testing.T) {
	ws, plugins := newWorkspace(t)

	writePluginDir(t, plugins, "aaa", "id: twin\n")
	writePluginDir(t, plugins, "bbb", "id: twin\n")

	reg, err := NewLoader().Load(context.Background(), Params{WorkspaceDir: ws})
	require.NoError(t, err)

	assert.Equal(t, 1, reg.LoadedCount())

	var dup *Plugin
	for _, p := range reg.Plugins() {
		if p.Status == StatusError {
			dup = p
		}
	}
	require.NotNil(t, dup)
	assert.Equal(t, "duplicate plugin id", dup.Err)
}

func TestLoadDisabledPlugins(t *testing.T) {
	ws, plugins := newWorkspace(t)

	writePluginDir(t, plugins, "manifest-off", "id: manifest-off\ndisabled: true\n")
	writePluginDir(t, plugins, "config-off", "id: config-off\n")

	cfg := config.DefaultConfig()
	cfg.Plugins.Disabled = []string{"config-off"}

	reg, err := NewLoader().Load(context.Background(), Params{WorkspaceDir: ws, Config: cfg})
	require.NoError(t, err)

	assert.Equal(t, 0, reg.LoadedCount())
	for _, p := range reg.Plugins() {
		assert.Equal(t, StatusDisabled, p.Status)
	}
	assert.Equal(t, 0, reg.HookCount())
}

func TestLoadUnmetRequirements(t *testing.T) {
	ws, plugins := newWorkspace(t)

	writePluginDir(t, plugins, "needs-env", `
id: needs-env
requires:
  env:
    - SIDECAR_TEST_SURELY_UNSET
`)

	reg, err := NewLoader().Load(context.Background(), Params{WorkspaceDir: ws})
	require.NoError(t, err)

	p, ok := reg.Plugin("needs-env")
	require.True(t, ok)
	assert.Equal(t, StatusDisabled, p.Status)
	assert.Contains(t, p.Err, "SIDECAR_TEST_SURELY_UNSET")
}

func TestLoadSettingsValidation(t *testing.T) {
	ws, plugins := newWorkspace(t)

	writePluginDir(t, plugins, "cfgd", `
id: cfgd
config_schema:
  port:
    type: int
    required: true
`)

	cfg := config.DefaultConfig()
	cfg.Plugins.Settings = map[string]map[string]interface{}{
		"cfgd": {"port": "not-a-number"},
	}

	reg, err := NewLoader().Load(context.Background(), Params{WorkspaceDir: ws, Config: cfg})
	require.NoError(t, err)

	p, ok := reg.Plugin("cfgd")
	require.True(t, ok)
	assert.Equal(t, StatusError, p.Status)
	assert.Contains(t, p.Err, "invalid settings")
}

func TestLoadGatewayConflictWithCore(t *testing.T) {
	ws, plugins := newWorkspace(t)

	writePluginDir(t, plugins, "shadow", `
id: shadow
gateway:
  - method: status
    result: fake
`)

	core := map[string]GatewayHandler{
		"status": func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			return "real", nil
		},
	}

	reg, err := NewLoader().Load(context.Background(), Params{WorkspaceDir: ws, CoreGateway: core})
	require.NoError(t, err)

	p, ok := reg.Plugin("shadow")
	require.True(t, ok)
	assert.Equal(t, StatusError, p.Status)
	assert.Contains(t, p.Err, "gateway method conflict")

	// The core handler is untouched
	handler, ok := reg.Gateway("status")
	require.True(t, ok)
	result, err := handler(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "real", result)
}

func TestLoadGatewayConflictBetweenPlugins(t *testing.T) {
	ws, plugins := newWorkspace(t)

	writePluginDir(t, plugins, "aaa", `
id: aaa
gateway:
  - method: shared.method
    result: first
`)
	writePluginDir(t, plugins, "bbb", `
id: bbb
gateway:
  - method: shared.method
    result: second
`)

	reg, err := NewLoader().Load(context.Background(), Params{WorkspaceDir: ws})
	require.NoError(t, err)

	first, _ := reg.Plugin("aaa")
	second, _ := reg.Plugin("bbb")
	assert.Equal(t, StatusLoaded, first.Status)
	assert.Equal(t, StatusError, second.Status)
	assert.Contains(t, second.Err, "shared.method")
}

func TestLoadCancelledContext(t *testing.T) {
	ws, plugins := newWorkspace(t)
	writePluginDir(t, plugins, "echo", "id: echo\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewLoader().Load(ctx, Params{WorkspaceDir: ws})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLoadRegistersCommandsWithSink(t *testing.T) {
	ws, plugins := newWorkspace(t)

	writePluginDir(t, plugins, "cmds", `
id: cmds
commands:
  - name: greet
    response: hi
`)

	sink := &recordingSink{}
	SetCommandSink(sink)
	defer SetCommandSink(nil)

	reg, err := NewLoader().Load(context.Background(), Params{WorkspaceDir: ws})
	require.NoError(t, err)

	require.Len(t, sink.added, 1)
	assert.Equal(t, "greet", sink.added[0].Name)
	assert.Equal(t, "cmds", sink.added[0].Plugin)

	p, _ := reg.Plugin("cmds")
	assert.Equal(t, StatusLoaded, p.Status)
}

func TestLoadSinkRejectionFailsPlugin(t *testing.T) {
	ws, plugins := newWorkspace(t)

	writePluginDir(t, plugins, "clash", `
id: clash
commands:
  - name: help
`)

	sink := &recordingSink{failFor: "clash"}
	SetCommandSink(sink)
	defer SetCommandSink(nil)

	reg, err := NewLoader().Load(context.Background(), Params{WorkspaceDir: ws})
	require.NoError(t, err)

	p, ok := reg.Plugin("clash")
	require.True(t, ok)
	assert.Equal(t, StatusError, p.Status)
	assert.Contains(t, p.Err, "already registered")
}
