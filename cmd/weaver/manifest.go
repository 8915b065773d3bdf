package main

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"weaver/internal/registry"
	"weaver/internal/retrieval"
)

// ManifestModule is one knowledge module as declared in a YAML manifest.
type ManifestModule struct {
	ID       string   `yaml:"id"`
	Content  string   `yaml:"content"`
	Priority string   `yaml:"priority"`
	Domain   string   `yaml:"domain"`
	Tags     []string `yaml:"tags"`
	Version  string   `yaml:"version"`
}

// Metadata converts the manifest fields to registry metadata.
func (m ManifestModule) Metadata() registry.Metadata {
	return registry.Metadata{
		Priority: registry.Priority(m.Priority),
		Domain:   m.Domain,
		Tags:     m.Tags,
		Version:  m.Version,
	}
}

// Manifest is the on-disk module collection the CLI registers at startup.
type Manifest struct {
	Modules []ManifestModule `yaml:"modules"`
}

// loadManifest reads a manifest file. A missing file is an empty manifest.
func loadManifest(path string) (Manifest, error) {
	var manifest Manifest
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return manifest, nil
		}
		return manifest, fmt.Errorf("read manifest %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return manifest, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	for _, m := range manifest.Modules {
		if m.ID == "" || m.Content == "" {
			return manifest, fmt.Errorf("manifest %s: every module needs an id and content", path)
		}
	}
	return manifest, nil
}

// saveManifest writes the manifest back, modules sorted by id.
func saveManifest(path string, manifest Manifest) error {
	sort.Slice(manifest.Modules, func(i, j int) bool {
		return manifest.Modules[i].ID < manifest.Modules[j].ID
	})
	data, err := yaml.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write manifest %s: %w", path, err)
	}
	return nil
}

// merge upserts the entries from other into the manifest, by id.
func (m *Manifest) merge(other Manifest) (added, replaced int) {
	byID := make(map[string]int, len(m.Modules))
	for i, mod := range m.Modules {
		byID[mod.ID] = i
	}
	for _, mod := range other.Modules {
		if i, ok := byID[mod.ID]; ok {
			m.Modules[i] = mod
			replaced++
		} else {
			byID[mod.ID] = len(m.Modules)
			m.Modules = append(m.Modules, mod)
			added++
		}
	}
	return added, replaced
}

// remove deletes a module by id, reporting whether it existed.
func (m *Manifest) remove(id string) bool {
	for i, mod := range m.Modules {
		if mod.ID == id {
			m.Modules = append(m.Modules[:i], m.Modules[i+1:]...)
			return true
		}
	}
	return false
}

// loadRules reads the retrieval rule set. A missing file means no rules.
func loadRules(path string) (retrieval.RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read rules %s: %w", path, err)
	}
	var wrapper struct {
		Rules retrieval.RuleSet `yaml:"rules"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, fmt.Errorf("parse rules %s: %w", path, err)
	}
	return wrapper.Rules, nil
}
