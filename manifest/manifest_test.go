package manifest

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	tomlContent := `
[heap]
nodes = 4096
vector-cells = 8192

[machine]
ports = 8
macro-depth = 100
print-depth = 64

[image]
path = "build/app.image"
compress = true

[source]
prelude = "boot.ls9"
load = ["a.ls9", "/abs/b.ls9"]

[log]
verbosity = 2
file = "ls9.log"
`
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(tomlContent), 0644); err != nil {
		t.Fatal(err)
	}

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if m.Heap.Nodes != 4096 || m.Heap.VectorCells != 8192 {
		t.Errorf("heap = %+v", m.Heap)
	}
	if m.Machine.Ports != 8 {
		t.Errorf("ports = %d, want 8", m.Machine.Ports)
	}
	if m.Machine.MacroDepth != 100 {
		t.Errorf("macro depth = %d, want 100", m.Machine.MacroDepth)
	}
	if m.Machine.TraceDepth != 10 {
		t.Errorf("trace depth = %d, want default 10", m.Machine.TraceDepth)
	}
	if !m.Image.Compress {
		t.Error("image compress = false, want true")
	}
	if got := m.ImagePath(); got != filepath.Join(m.Dir, "build", "app.image") {
		t.Errorf("ImagePath = %q", got)
	}
	if got := m.PreludePath(); got != filepath.Join(m.Dir, "boot.ls9") {
		t.Errorf("PreludePath = %q", got)
	}
	paths := m.LoadPaths()
	if len(paths) != 2 || paths[0] != filepath.Join(m.Dir, "a.ls9") || paths[1] != "/abs/b.ls9" {
		t.Errorf("LoadPaths = %v", paths)
	}
	if m.Log.Verbosity != 2 || m.LogPath() != filepath.Join(m.Dir, "ls9.log") {
		t.Errorf("log = %+v", m.Log)
	}

	cfg := m.VMConfig()
	if cfg.Nodes != 4096 || cfg.Ports != 8 || cfg.MacroDepth != 100 || !cfg.CompressImage {
		t.Errorf("VMConfig = %+v", cfg)
	}
	if cfg.ImagePath != m.ImagePath() {
		t.Errorf("VMConfig image path = %q", cfg.ImagePath)
	}
}

func TestLoadManifestDefaults(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte("[heap]\nnodes = 1024\n"), 0644); err != nil {
		t.Fatal(err)
	}

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	want := Default(m.Dir)
	want.Heap.Nodes = 1024
	if m.Heap != want.Heap || m.Machine != want.Machine || m.Image != want.Image {
		t.Errorf("got %+v, want %+v", m, want)
	}
	if m.Source.Prelude != "ls9.ls9" || len(m.Source.Load) != 0 {
		t.Errorf("source = %+v", m.Source)
	}
	if m.Log.File != "" || m.LogPath() != "" {
		t.Errorf("log file = %q, want stderr", m.Log.File)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		invalid bool
	}{
		{"syntax", "[heap\nnodes = 1", false},
		{"wrong type", "[heap]\nnodes = \"many\"", false},
		{"unknown key", "[heap]\nnodez = 5", true},
		{"unknown table", "[extras]\nx = 1", true},
		{"zero nodes", "[heap]\nnodes = 0", true},
		{"negative macro depth", "[machine]\nmacro-depth = -1", true},
		{"too few ports", "[machine]\nports = 2", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.text, "/tmp")
			if err == nil {
				t.Fatal("expected error")
			}
			if got := errors.Is(err, ErrInvalid); got != tt.invalid {
				t.Errorf("errors.Is(err, ErrInvalid) = %v, want %v (%v)", got, tt.invalid, err)
			}
		})
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load(t.TempDir())
	if err == nil {
		t.Fatal("expected error for missing ls9.toml")
	}
	if !strings.Contains(err.Error(), FileName) {
		t.Errorf("error %q does not name the file", err)
	}
}

func TestFindAndLoad(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, FileName), []byte("[machine]\ntrace-depth = 3\n"), 0644); err != nil {
		t.Fatal(err)
	}

	nested := filepath.Join(root, "src", "sub")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}

	m, err := FindAndLoad(nested)
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	if m == nil {
		t.Fatal("FindAndLoad returned nil")
	}
	if m.Machine.TraceDepth != 3 {
		t.Errorf("trace depth = %d, want 3", m.Machine.TraceDepth)
	}
	absRoot, _ := filepath.Abs(root)
	if m.Dir != absRoot {
		t.Errorf("dir = %q, want %q", m.Dir, absRoot)
	}
}

func TestFindAndLoadNotFound(t *testing.T) {
	dir := t.TempDir()

	m, err := FindAndLoad(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// There may be an ls9.toml above the temp dir on some systems.
	if m != nil && m.Dir == dir {
		t.Error("expected no manifest in an empty directory")
	}
}
