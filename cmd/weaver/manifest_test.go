package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"weaver/internal/registry"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "modules.yaml", `
modules:
  - id: style-guide
    content: prefer short functions
    priority: high
    domain: engineering
    tags: [go, style]
    version: "2"
`)

	manifest, err := loadManifest(path)
	require.NoError(t, err)
	require.Len(t, manifest.Modules, 1)

	m := manifest.Modules[0]
	require.Equal(t, "style-guide", m.ID)
	require.Equal(t, "prefer short functions", m.Content)

	meta := m.Metadata()
	require.Equal(t, registry.PriorityHigh, meta.Priority)
	require.Equal(t, "engineering", meta.Domain)
	require.Equal(t, []string{"go", "style"}, meta.Tags)
	require.Equal(t, "2", meta.Version)
}

func TestLoadManifestMissingFileIsEmpty(t *testing.T) {
	manifest, err := loadManifest(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	require.Empty(t, manifest.Modules)
}

func TestLoadManifestRejectsIncompleteModules(t *testing.T) {
	path := writeFile(t, t.TempDir(), "bad.yaml", "modules:\n  - id: only-id\n")
	_, err := loadManifest(path)
	require.Error(t, err)
}

func TestManifestMergeAndRemove(t *testing.T) {
	manifest := Manifest{Modules: []ManifestModule{
		{ID: "a", Content: "old a"},
		{ID: "b", Content: "b"},
	}}

	added, replaced := manifest.merge(Manifest{Modules: []ManifestModule{
		{ID: "a", Content: "new a"},
		{ID: "c", Content: "c"},
	}})
	require.Equal(t, 1, added)
	require.Equal(t, 1, replaced)
	require.Len(t, manifest.Modules, 3)
	for _, m := range manifest.Modules {
		if m.ID == "a" {
			require.Equal(t, "new a", m.Content, "merge must replace by id")
		}
	}

	require.True(t, manifest.remove("b"))
	require.False(t, manifest.remove("b"), "second remove of the same id")
	require.Len(t, manifest.Modules, 2)
}

func TestSaveManifestRoundtripSortsByID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "modules.yaml")
	err := saveManifest(path, Manifest{Modules: []ManifestModule{
		{ID: "zeta", Content: "z"},
		{ID: "alpha", Content: "a"},
	}})
	require.NoError(t, err)

	loaded, err := loadManifest(path)
	require.NoError(t, err)
	require.Len(t, loaded.Modules, 2)
	require.Equal(t, "alpha", loaded.Modules[0].ID)
	require.Equal(t, "zeta", loaded.Modules[1].ID)
}

func TestLoadRules(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "rules.yaml", `
rules:
  - intent: question
    topics: [deploy]
    module_ids: [deploy-runbook]
`)

	rules, err := loadRules(path)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	require.Equal(t, []string{"deploy-runbook"}, rules[0].ModuleIDs)
	require.Equal(t, []string{"deploy"}, rules[0].Topics)

	none, err := loadRules(filepath.Join(dir, "absent.yaml"))
	require.NoError(t, err)
	require.Nil(t, none)
}
