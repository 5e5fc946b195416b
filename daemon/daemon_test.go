package daemon

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sidecar/internal/config"
	"sidecar/plugin"
)

// newPluginWorkspace creates a workspace with one declarative plugin
func newPluginWorkspace(t *testing.T) string {
	t.Helper()
	ws := t.TempDir()
	dir := filepath.Join(ws, plugin.WorkspacePluginDir, "echo")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	manifest := `
id: echo
version: 1.0.0
hooks:
  - name: message.received
gateway:
  - method: echo.ping
    result: pong
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, plugin.ManifestName), []byte(manifest), 0o644))
	return ws
}

// isolateRegistry restores the published registry after the test
func isolateRegistry(t *testing.T) {
	t.Helper()
	prev := plugin.SwapActive(nil)
	t.Cleanup(func() {
		plugin.SwapActive(prev)
		plugin.Hooks().Reset()
	})
}

func TestTriggerReload(t *testing.T) {
	isolateRegistry(t)

	d := New(config.DefaultConfig(), newPluginWorkspace(t))

	notifications := d.GetBroker().Subscribe("test", 4, "notification")

	res := d.TriggerReload(context.Background(), "test trigger")

	require.True(t, res.OK, "reload failed: %s", res.Err)
	assert.Equal(t, 1, res.PluginCount)
	assert.Equal(t, 1, res.HookCount)

	// The outcome is announced on the broker
	select {
	case msg := <-notifications:
		assert.Equal(t, "daemon", msg.Source)
		assert.Equal(t, true, msg.Metadata["ok"])
	case <-time.After(time.Second):
		t.Fatal("expected reload notification")
	}
}

func TestTriggerReloadRejectsOverlap(t *testing.T) {
	isolateRegistry(t)

	d := New(config.DefaultConfig(), newPluginWorkspace(t))

	d.reloading.Store(true)
	res := d.TriggerReload(context.Background(), "second")
	d.reloading.Store(false)

	require.False(t, res.OK)
	assert.Contains(t, res.Err, "already in progress")

	// Once the first reload finishes a trigger works again
	res = d.TriggerReload(context.Background(), "third")
	assert.True(t, res.OK)
}

func TestCallGateway(t *testing.T) {
	isolateRegistry(t)

	d := New(config.DefaultConfig(), newPluginWorkspace(t))
	require.True(t, d.TriggerReload(context.Background(), "setup").OK)

	// Plugin-declared method
	result, err := d.CallGateway(context.Background(), "echo.ping", nil)
	require.NoError(t, err)
	assert.Equal(t, "pong", result)

	// Host core method
	result, err = d.CallGateway(context.Background(), "status", nil)
	require.NoError(t, err)
	status, ok := result.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, 1, status["plugins"])

	_, err = d.CallGateway(context.Background(), "no.such.method", nil)
	assert.ErrorContains(t, err, "unknown gateway method")
}

func TestCoreGatewayReload(t *testing.T) {
	isolateRegistry(t)

	d := New(config.DefaultConfig(), newPluginWorkspace(t))
	require.True(t, d.TriggerReload(context.Background(), "setup").OK)

	result, err := d.CallGateway(context.Background(), "reload", map[string]interface{}{"reason": "gateway test"})
	require.NoError(t, err)

	out, ok := result.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, true, out["ok"])
	assert.Equal(t, 1, out["plugins"])
}

func TestGetStatus(t *testing.T) {
	isolateRegistry(t)

	d := New(config.DefaultConfig(), newPluginWorkspace(t))
	require.True(t, d.TriggerReload(context.Background(), "setup").OK)

	status := d.GetStatus(context.Background())
	assert.Contains(t, status, "State: idle")
	assert.Contains(t, status, "Plugins: 1 loaded")
}

func TestWatcherDetectsManifestChange(t *testing.T) {
	ws := newPluginWorkspace(t)

	changed := make(chan string, 1)
	w, err := NewWatcher(ws, func(path string) {
		select {
		case changed <- path:
		default:
		}
	})
	require.NoError(t, err)

	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	manifest := filepath.Join(ws, plugin.WorkspacePluginDir, "echo", plugin.ManifestName)
	require.NoError(t, os.WriteFile(manifest, []byte("id: echo\nversion: 2.0.0\n"), 0o644))

	select {
	case path := <-changed:
		assert.Equal(t, manifest, path)
	case <-time.After(3 * time.Second):
		t.Fatal("watcher did not report manifest change")
	}
}

func TestWatcherMissingDir(t *testing.T) {
	w, err := NewWatcher(t.TempDir(), nil)
	require.NoError(t, err)

	// Workspace without plugins/ has nothing to watch
	assert.Error(t, w.Start(context.Background()))
}
