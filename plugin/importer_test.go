package plugin

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeclarativeImporter(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, ManifestName)
	manifest := `
id: decl
hooks:
  - name: daemon.start
    priority: 3
commands:
  - name: greet
    response: hello there
  - name: nod
gateway:
  - method: decl.version
    result: "1.0"
`
	require.NoError(t, os.WriteFile(source, []byte(manifest), 0o644))

	mod, err := DefaultImporter().Import(context.Background(), source)
	require.NoError(t, err)

	require.Len(t, mod.Hooks, 1)
	assert.Equal(t, "daemon.start", mod.Hooks[0].Name)
	assert.Equal(t, 3, mod.Hooks[0].Priority)
	assert.NoError(t, mod.Hooks[0].Handler(context.Background(), Event{Name: "daemon.start"}))

	require.Len(t, mod.Commands, 2)
	result, err := mod.Commands[0].Handler(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "hello there", result.Output)

	// Commands without a declared response reply with a default
	result, err = mod.Commands[1].Handler(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", result.Output)

	handler, ok := mod.Gateway["decl.version"]
	require.True(t, ok)
	out, err := handler(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "1.0", out)
}

func TestDeclarativeImporterMissingManifest(t *testing.T) {
	_, err := DefaultImporter().Import(context.Background(), filepath.Join(t.TempDir(), ManifestName))
	assert.Error(t, err)
}
