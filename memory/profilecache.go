package memory

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"cellwright/atomicfile"
	"cellwright/profile"
)

// ProfileCache persists one profile file per variable name under
// Scope's "profiles" subdirectory, so Error Enrichment and repeated
// `profile` invocations can reuse a prior run without re-probing the
// interpreter (spec.md §4.9 / §4.6).
type ProfileCache struct {
	scope Scope
}

// Profiles returns the cache bound to s.
func (s Scope) Profiles() ProfileCache { return ProfileCache{scope: s} }

func (c ProfileCache) path(variable string) string {
	return filepath.Join(c.scope.profilesDir(), sanitize(variable)+".yaml")
}

func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, name)
}

// Load returns the cached TableProfile for variable, if one exists and
// parses cleanly.
func (c ProfileCache) Load(variable string) (profile.TableProfile, bool) {
	data, err := atomicfile.ReadOrEmpty(c.path(variable))
	if err != nil || data == nil {
		return profile.TableProfile{}, false
	}
	var tp profile.TableProfile
	if yaml.Unmarshal(data, &tp) != nil {
		return profile.TableProfile{}, false
	}
	return tp, true
}

// Save atomically persists tp under its own Variable name.
func (c ProfileCache) Save(tp profile.TableProfile) error {
	data, err := yaml.Marshal(tp)
	if err != nil {
		return fmt.Errorf("memory: marshal profile: %w", err)
	}
	if err := os.MkdirAll(c.scope.profilesDir(), 0o755); err != nil {
		return fmt.Errorf("memory: mkdir profiles: %w", err)
	}
	return atomicfile.Write(c.path(tp.Variable), data, 0o644)
}

// List returns the variable names with a cached profile, sorted.
func (c ProfileCache) List() []string {
	entries, err := os.ReadDir(c.scope.profilesDir())
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".yaml"))
	}
	return names
}
