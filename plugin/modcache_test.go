package plugin

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingImporter counts Import calls and returns a fresh Module each time
type countingImporter struct {
	calls int
	err   error
}

func (ci *countingImporter) Import(ctx context.Context, source string) (*Module, error) {
	ci.calls++
	if ci.err != nil {
		return nil, ci.err
	}
	return &Module{Gateway: map[string]GatewayHandler{}}, nil
}

func TestModuleCacheGetOrImport(t *testing.T) {
	cache := NewModuleCache()
	imp := &countingImporter{}
	source := filepath.Join(t.TempDir(), "p", ManifestName)

	first, err := cache.GetOrImport(context.Background(), source, imp)
	require.NoError(t, err)

	second, err := cache.GetOrImport(context.Background(), source, imp)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, imp.calls)
	assert.Equal(t, 1, cache.Len())
}

func TestModuleCacheImportError(t *testing.T) {
	cache := NewModuleCache()
	imp := &countingImporter{err: errors.New("syntax error")}
	source := filepath.Join(t.TempDir(), "p", ManifestName)

	_, err := cache.GetOrImport(context.Background(), source, imp)
	assert.Error(t, err)

	// Failed imports are not cached; the next attempt retries
	assert.Equal(t, 0, cache.Len())
	imp.err = nil
	_, err = cache.GetOrImport(context.Background(), source, imp)
	require.NoError(t, err)
	assert.Equal(t, 2, imp.calls)
}

func TestModuleCachePurgeCountsRemovals(t *testing.T) {
	cache := NewModuleCache()
	imp := &countingImporter{}
	base := t.TempDir()

	a := filepath.Join(base, "a", ManifestName)
	b := filepath.Join(base, "b", ManifestName)
	c := filepath.Join(base, "c", ManifestName)

	for _, s := range []string{a, b, c} {
		_, err := cache.GetOrImport(context.Background(), s, imp)
		require.NoError(t, err)
	}
	require.Equal(t, 3, cache.Len())

	removed := cache.Purge([]string{a, b})
	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, cache.Len())

	// Purging absent paths removes nothing
	removed = cache.Purge([]string{a, filepath.Join(base, "never", ManifestName)})
	assert.Equal(t, 0, removed)
	assert.Equal(t, 1, cache.Len())
}

func TestModuleCachePurgeEmptyList(t *testing.T) {
	cache := NewModuleCache()
	assert.Equal(t, 0, cache.Purge(nil))
}

func TestModuleCachePurgeNonCanonicalPath(t *testing.T) {
	cache := NewModuleCache()
	imp := &countingImporter{}
	base := t.TempDir()

	source := filepath.Join(base, "p", ManifestName)
	_, err := cache.GetOrImport(context.Background(), source, imp)
	require.NoError(t, err)

	// The same path spelled with a redundant segment still matches
	indirect := filepath.Join(base, "p", "..", "p", ManifestName)
	assert.Equal(t, 1, cache.Purge([]string{indirect}))
}
