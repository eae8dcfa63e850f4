// pkg/registry/registry.go
package registry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/arc-language/winpkg/pkg/winget"
)

// Backend is the key winget identifiers are stored under.
const Backend = "winget"

// ErrNotFound means the registry has no entry for a name.
var ErrNotFound = errors.New("registry: package not found")

// Entry represents a single <name>/index.toml file
type Entry struct {
	Name        string            `toml:"name"`
	DisplayName string            `toml:"display_name"`
	Source      string            `toml:"source"`
	Backends    map[string]string `toml:"backends"`
}

// Registry maps friendly package names to winget identities. It reads a
// directory tree of <name>/index.toml files.
type Registry struct {
	dir string
}

// New creates a Registry rooted at dir
func New(dir string) *Registry {
	return &Registry{dir: dir}
}

// Identity resolves name to a winget identity. Names without an entry are
// taken to be winget identifiers already; other lookup failures are errors.
func (r *Registry) Identity(name string) (winget.PackageIdentity, error) {
	if r == nil || r.dir == "" {
		return winget.PackageIdentity{ID: name}, nil
	}
	entry, err := r.Load(name)
	if errors.Is(err, ErrNotFound) {
		return winget.PackageIdentity{ID: name}, nil
	}
	if err != nil {
		return winget.PackageIdentity{}, err
	}
	id, ok := entry.Backends[Backend]
	if !ok || id == "" {
		return winget.PackageIdentity{}, fmt.Errorf("registry: package '%s' has no entry for backend '%s'", name, Backend)
	}
	return winget.PackageIdentity{ID: id, Source: entry.Source, DisplayName: entry.DisplayName}, nil
}

// Load reads and parses <name>/index.toml.
func (r *Registry) Load(name string) (*Entry, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return nil, fmt.Errorf("registry: invalid name %q", name)
	}

	path := filepath.Join(r.dir, strings.ToLower(name), "index.toml")
	data, err := os.ReadFile(path)
	if err != nil {
		// Check if the directory exists, to give a better error message.
		if _, statErr := os.Stat(filepath.Dir(path)); statErr == nil {
			return nil, fmt.Errorf("registry: found package '%s' directory, but missing index.toml", name)
		}
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	var entry Entry
	if _, err := toml.Decode(string(data), &entry); err != nil {
		return nil, fmt.Errorf("registry: failed to parse '%s': %w", name, err)
	}
	if entry.Name == "" {
		entry.Name = name
	}

	return &entry, nil
}

// Names lists the aliases present in the registry.
func (r *Registry) Names() ([]string, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("registry: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(r.dir, e.Name(), "index.toml")); err == nil {
			names = append(names, e.Name())
		}
	}
	return names, nil
}
