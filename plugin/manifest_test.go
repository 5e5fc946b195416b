package plugin

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ManifestName)

	data := `
id: echo
version: 1.2.0
description: Echo plugin
hooks:
  - name: message.received
    priority: 10
commands:
  - name: echo
    description: Echo back the input
    response: echoed
gateway:
  - method: echo.ping
    result: pong
config_schema:
  greeting:
    type: string
    default: hello
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	m, err := LoadManifest(path)
	require.NoError(t, err)

	assert.Equal(t, "echo", m.ID)
	assert.Equal(t, "1.2.0", m.Version)
	require.Len(t, m.Hooks, 1)
	assert.Equal(t, "message.received", m.Hooks[0].Name)
	assert.Equal(t, 10, m.Hooks[0].Priority)
	require.Len(t, m.Commands, 1)
	assert.Equal(t, "echoed", m.Commands[0].Response)
	require.Len(t, m.Gateway, 1)
	assert.Equal(t, "echo.ping", m.Gateway[0].Method)
	assert.Equal(t, "hello", m.ConfigSchema["greeting"].Default)
}

func TestLoadManifestMissingFile(t *testing.T) {
	_, err := LoadManifest(filepath.Join(t.TempDir(), ManifestName))
	assert.Error(t, err)
}

func TestLoadManifestMalformedYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ManifestName)
	require.NoError(t, os.WriteFile(path, []byte("id: [unclosed"), 0o644))

	_, err := LoadManifest(path)
	assert.Error(t, err)
}

func TestValidateManifest(t *testing.T) {
	tests := []struct {
		name     string
		manifest Manifest
		wantErrs int
	}{
		{
			name:     "valid minimal",
			manifest: Manifest{ID: "ok"},
			wantErrs: 0,
		},
		{
			name:     "valid with semver",
			manifest: Manifest{ID: "ok", Version: "v1.0.0-beta.1"},
			wantErrs: 0,
		},
		{
			name:     "missing id",
			manifest: Manifest{},
			wantErrs: 1,
		},
		{
			name:     "id with path traversal",
			manifest: Manifest{ID: "../escape"},
			wantErrs: 1,
		},
		{
			name:     "id with separator",
			manifest: Manifest{ID: "a/b"},
			wantErrs: 1,
		},
		{
			name:     "bad version",
			manifest: Manifest{ID: "ok", Version: "not-semver"},
			wantErrs: 1,
		},
		{
			name: "bad schema type",
			manifest: Manifest{
				ID:           "ok",
				ConfigSchema: map[string]SettingSpec{"x": {Type: "object"}},
			},
			wantErrs: 1,
		},
		{
			name:     "unnamed hook",
			manifest: Manifest{ID: "ok", Hooks: []HookDecl{{}}},
			wantErrs: 1,
		},
		{
			name:     "unnamed command",
			manifest: Manifest{ID: "ok", Commands: []CommandDecl{{}}},
			wantErrs: 1,
		},
		{
			name:     "unnamed gateway method",
			manifest: Manifest{ID: "ok", Gateway: []GatewayDecl{{}}},
			wantErrs: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := ValidateManifest(&tt.manifest)
			assert.Len(t, errs, tt.wantErrs)
		})
	}
}

func TestValidateSettings(t *testing.T) {
	m := &Manifest{
		ID: "cfg",
		ConfigSchema: map[string]SettingSpec{
			"host":    {Type: "string", Required: true},
			"port":    {Type: "int", Default: 8080},
			"verbose": {Type: "bool"},
		},
	}

	t.Run("defaults applied", func(t *testing.T) {
		effective, err := m.ValidateSettings(map[string]interface{}{"host": "localhost"})
		require.NoError(t, err)
		assert.Equal(t, "localhost", effective["host"])
		assert.Equal(t, 8080, effective["port"])
		_, ok := effective["verbose"]
		assert.False(t, ok)
	})

	t.Run("missing required", func(t *testing.T) {
		_, err := m.ValidateSettings(map[string]interface{}{})
		assert.ErrorContains(t, err, "missing required setting: host")
	})

	t.Run("wrong type", func(t *testing.T) {
		_, err := m.ValidateSettings(map[string]interface{}{"host": "x", "port": "eighty"})
		assert.ErrorContains(t, err, "expected int")
	})

	t.Run("unknown setting rejected", func(t *testing.T) {
		_, err := m.ValidateSettings(map[string]interface{}{"host": "x", "bogus": 1})
		assert.ErrorContains(t, err, "unknown setting: bogus")
	})
}

func TestSaveManifestRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ManifestName)

	m := &Manifest{
		ID:      "saved",
		Version: "0.1.0",
		Hooks:   []HookDecl{{Name: "daemon.start"}},
	}
	require.NoError(t, SaveManifest(m, path))

	loaded, err := LoadManifest(path)
	require.NoError(t, err)
	assert.Equal(t, m.ID, loaded.ID)
	assert.Equal(t, m.Version, loaded.Version)
	require.Len(t, loaded.Hooks, 1)
	assert.Equal(t, "daemon.start", loaded.Hooks[0].Name)
}
