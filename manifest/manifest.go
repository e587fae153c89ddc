// Package manifest handles peridot.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/peridot-lang/peridot/pkg/bytecode"
)

// Manifest represents a peridot.toml project configuration.
type Manifest struct {
	Project  Project        `toml:"project"`
	Build    BuildConfig    `toml:"build"`
	Run      RunConfig      `toml:"run"`
	Compiler CompilerConfig `toml:"compiler"`

	// Dir is the directory containing the peridot.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
}

// BuildConfig configures image output and the compile cache.
type BuildConfig struct {
	Entry  string `toml:"entry"`  // image the run command executes by default
	Cache  string `toml:"cache"`  // cache database path; empty disables caching
	Output string `toml:"output"` // image output path for build tooling
}

// RunConfig carries runtime knobs.
type RunConfig struct {
	Trace        bool `toml:"trace"`
	MaxCallDepth int  `toml:"max-call-depth"`
}

// CompilerConfig carries compile-time policy.
type CompilerConfig struct {
	// TraitConflict is "error" (default) or "precedence".
	TraitConflict string `toml:"trait-conflict"`
}

// Load parses a peridot.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, "peridot.toml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	if err := m.validate(path); err != nil {
		return nil, err
	}
	return &m, nil
}

// FindAndLoad walks up from startDir to find a peridot.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, "peridot.toml")
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

func (m *Manifest) validate(path string) error {
	switch m.Compiler.TraitConflict {
	case "", "error", "precedence":
	default:
		return fmt.Errorf("%s: compiler.trait-conflict must be \"error\" or \"precedence\", got %q",
			path, m.Compiler.TraitConflict)
	}
	if m.Run.MaxCallDepth < 0 {
		return fmt.Errorf("%s: run.max-call-depth must not be negative", path)
	}
	return nil
}

// TraitPolicy maps the manifest setting to the compiler's policy value.
func (m *Manifest) TraitPolicy() bytecode.TraitPolicy {
	if m.Compiler.TraitConflict == "precedence" {
		return bytecode.TraitConflictPrecedence
	}
	return bytecode.TraitConflictError
}

// EntryPath returns the absolute path of the configured entry image, or
// empty when the manifest declares none.
func (m *Manifest) EntryPath() string {
	if m.Build.Entry == "" {
		return ""
	}
	return m.abs(m.Build.Entry)
}

// CachePath returns the absolute cache database path, or empty when
// caching is disabled.
func (m *Manifest) CachePath() string {
	if m.Build.Cache == "" {
		return ""
	}
	return m.abs(m.Build.Cache)
}

func (m *Manifest) abs(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(m.Dir, p)
}
