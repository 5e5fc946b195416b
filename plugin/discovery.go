package plugin

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/sirupsen/logrus"

	"sidecar/internal/config"
)

// WorkspacePluginDir is the plugin directory name inside a workspace
const WorkspacePluginDir = "plugins"

// Candidate is a discovered plugin root and its manifest path.
// Produced per load pass, never persisted.
type Candidate struct {
	// Root is the absolute plugin root directory
	Root string

	// ManifestPath is the absolute path of the root's manifest file
	ManifestPath string
}

// SearchRoots assembles the ordered list of directories searched for
// plugin roots: workspace-local plugins, the bundled directory, then any
// configured extra load paths.
func SearchRoots(workspaceDir string, cfg *config.Config) []string {
	var roots []string

	if workspaceDir != "" {
		roots = append(roots, filepath.Join(workspaceDir, WorkspacePluginDir))
	}
	if cfg != nil {
		if bundled := cfg.BundledPluginDir(); bundled != "" {
			roots = append(roots, bundled)
		}
		roots = append(roots, cfg.Plugins.LoadPaths...)
	}

	return roots
}

// Discover enumerates plugin candidates under the given search roots.
// Each immediate subdirectory of a root that contains a manifest becomes
// a candidate. Nonexistent or unreadable roots are skipped, not errors.
// The result is ordered lexicographically by root path and deduplicated,
// so downstream behavior is reproducible across runs.
func Discover(searchRoots []string, log logrus.FieldLogger) []Candidate {
	seen := make(map[string]bool)
	var candidates []Candidate

	for _, root := range searchRoots {
		abs, err := filepath.Abs(root)
		if err != nil {
			continue
		}

		entries, err := os.ReadDir(abs)
		if err != nil {
			if !os.IsNotExist(err) && log != nil {
				log.Warnf("Skipping unreadable plugin path %s: %v", abs, err)
			}
			continue
		}

		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}

			pluginRoot := filepath.Join(abs, entry.Name())
			manifestPath := filepath.Join(pluginRoot, ManifestName)
			if _, err := os.Stat(manifestPath); err != nil {
				continue
			}

			if seen[pluginRoot] {
				continue
			}
			seen[pluginRoot] = true

			candidates = append(candidates, Candidate{
				Root:         pluginRoot,
				ManifestPath: manifestPath,
			})
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Root < candidates[j].Root
	})

	return candidates
}
