package home

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	// DefaultDirName is the default name for the reask home directory.
	DefaultDirName = ".reask"

	// DataDirName is the subdirectory for the call database.
	DataDirName = "data"

	// DefinitionsDirName is the subdirectory for extraction definitions.
	DefinitionsDirName = "definitions"

	// ConfigFileName is the default config file name.
	ConfigFileName = "config.yaml"

	// CallsDBName is the attempt trace database file name.
	CallsDBName = "calls.db"
)

// Dir represents the reask home directory structure.
type Dir struct {
	path string
}

// New creates a new Dir with the given path.
// If path is empty, uses the default (~/.reask).
func New(path string) (*Dir, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		path = filepath.Join(home, DefaultDirName)
	}

	return &Dir{path: path}, nil
}

// Path returns the root path of the home directory.
func (d *Dir) Path() string {
	return d.path
}

// DataPath returns the path to the data directory.
func (d *Dir) DataPath() string {
	return filepath.Join(d.path, DataDirName)
}

// ConfigPath returns the path to the default config file.
func (d *Dir) ConfigPath() string {
	return filepath.Join(d.path, ConfigFileName)
}

// CallsDBPath returns the path to the attempt trace database.
func (d *Dir) CallsDBPath() string {
	return filepath.Join(d.DataPath(), CallsDBName)
}

// DefinitionsPath returns the directory holding named definitions.
func (d *Dir) DefinitionsPath() string {
	return filepath.Join(d.path, DefinitionsDirName)
}

// EnsureExists creates the home directory and subdirectories if they don't exist.
func (d *Dir) EnsureExists() error {
	// Create data directory (this also creates the parent)
	if err := os.MkdirAll(d.DataPath(), 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	if err := os.MkdirAll(d.DefinitionsPath(), 0o755); err != nil {
		return fmt.Errorf("failed to create definitions directory: %w", err)
	}
	return nil
}

// Exists returns true if the home directory exists.
func (d *Dir) Exists() bool {
	_, err := os.Stat(d.path)
	return err == nil
}

// ConfigExists returns true if the config file exists in the home directory.
func (d *Dir) ConfigExists() bool {
	_, err := os.Stat(d.ConfigPath())
	return err == nil
}

// ResolveDefinition maps a definition reference to a file path. A reference
// that names an existing file is returned as is; otherwise it is looked up
// as {definitions}/{ref}.yaml, .yml or .json.
func (d *Dir) ResolveDefinition(ref string) (string, error) {
	if ref == "" {
		return "", fmt.Errorf("definition name is required")
	}
	if info, err := os.Stat(ref); err == nil && !info.IsDir() {
		return ref, nil
	}
	for _, ext := range []string{".yaml", ".yml", ".json"} {
		candidate := filepath.Join(d.DefinitionsPath(), ref+ext)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("definition %q not found (looked in %s)", ref, d.DefinitionsPath())
}

// ListDefinitions returns the names of definitions in the definitions
// directory, sorted. A missing directory yields an empty list.
func (d *Dir) ListDefinitions() ([]string, error) {
	entries, err := os.ReadDir(d.DefinitionsPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read definitions directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		switch ext {
		case ".yaml", ".yml", ".json":
			names = append(names, strings.TrimSuffix(e.Name(), ext))
		}
	}
	sort.Strings(names)
	return names, nil
}
