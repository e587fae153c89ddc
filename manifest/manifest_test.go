package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/peridot-lang/peridot/pkg/bytecode"
)

func writeManifest(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, "peridot.toml"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[project]
name = "test-app"
version = "0.1.0"

[build]
entry = "out/main.pdi"
cache = ".peridot/cache.db"

[run]
trace = true
max-call-depth = 512

[compiler]
trait-conflict = "precedence"
`)

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if m.Project.Name != "test-app" {
		t.Errorf("project name = %q, want test-app", m.Project.Name)
	}
	if !m.Run.Trace {
		t.Error("run.trace not parsed")
	}
	if m.Run.MaxCallDepth != 512 {
		t.Errorf("max-call-depth = %d, want 512", m.Run.MaxCallDepth)
	}
	if m.TraitPolicy() != bytecode.TraitConflictPrecedence {
		t.Errorf("trait policy = %v, want precedence", m.TraitPolicy())
	}
	if got, want := m.EntryPath(), filepath.Join(m.Dir, "out/main.pdi"); got != want {
		t.Errorf("EntryPath = %q, want %q", got, want)
	}
	if got, want := m.CachePath(), filepath.Join(m.Dir, ".peridot/cache.db"); got != want {
		t.Errorf("CachePath = %q, want %q", got, want)
	}
}

func TestManifestDefaults(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[project]
name = "bare"
`)

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if m.TraitPolicy() != bytecode.TraitConflictError {
		t.Errorf("default trait policy = %v, want error", m.TraitPolicy())
	}
	if m.EntryPath() != "" {
		t.Errorf("EntryPath = %q, want empty", m.EntryPath())
	}
	if m.CachePath() != "" {
		t.Errorf("CachePath = %q, want empty", m.CachePath())
	}
}

func TestManifestBadTraitPolicy(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[compiler]
trait-conflict = "whatever"
`)

	if _, err := Load(dir); err == nil {
		t.Fatal("expected validation error for bad trait-conflict value")
	}
}

func TestFindAndLoad(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, `
[project]
name = "nested"
`)
	sub := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(sub, 0755); err != nil {
		t.Fatal(err)
	}

	m, err := FindAndLoad(sub)
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	if m == nil {
		t.Fatal("FindAndLoad found nothing")
	}
	if m.Project.Name != "nested" {
		t.Errorf("project name = %q, want nested", m.Project.Name)
	}
}

func TestFindAndLoadMissing(t *testing.T) {
	dir := t.TempDir()
	m, err := FindAndLoad(dir)
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	if m != nil {
		t.Fatalf("expected nil manifest, got %+v", m)
	}
}
