// Package manifest handles ls9.toml configuration.
package manifest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/chazu/ls9/heap"
	"github.com/chazu/ls9/printer"
	"github.com/chazu/ls9/vm"
)

// FileName is the name of the configuration file.
const FileName = "ls9.toml"

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Manifest represents an ls9.toml configuration. Keys missing from the
// file keep their defaults.
type Manifest struct {
	Heap    HeapConfig    `toml:"heap"`
	Machine MachineConfig `toml:"machine"`
	Image   ImageConfig   `toml:"image"`
	Source  SourceConfig  `toml:"source"`
	Log     LogConfig     `toml:"log"`

	// Dir is the directory containing the ls9.toml file (set at load time).
	Dir string `toml:"-"`
}

// HeapConfig sizes the two pools.
type HeapConfig struct {
	Nodes       int `toml:"nodes"`
	VectorCells int `toml:"vector-cells"`
}

// MachineConfig holds the limits of the virtual machine.
type MachineConfig struct {
	Ports         int `toml:"ports"`
	StackSize     int `toml:"stack-size"`
	MaxFrameDepth int `toml:"max-frame-depth"`
	MacroDepth    int `toml:"macro-depth"`
	TraceDepth    int `toml:"trace-depth"`
	PrintDepth    int `toml:"print-depth"`
}

// ImageConfig configures heap images.
type ImageConfig struct {
	Path     string `toml:"path"`
	Compress bool   `toml:"compress"`
}

// SourceConfig names source files. Prelude replaces the embedded prelude
// when the file exists; Load files are evaluated after boot.
type SourceConfig struct {
	Prelude string   `toml:"prelude"`
	Load    []string `toml:"load"`
}

// LogConfig configures logging. Verbosity follows commonlog: 0 logs
// notices and above, 1 adds info, 2 adds debug, negative values are
// quieter.
type LogConfig struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// Default returns the built-in configuration rooted at dir.
func Default(dir string) *Manifest {
	return &Manifest{
		Heap: HeapConfig{
			Nodes:       heap.DefaultNodes,
			VectorCells: heap.DefaultVectorCells,
		},
		Machine: MachineConfig{
			Ports:         vm.DefaultPorts,
			StackSize:     vm.DefaultStackSize,
			MaxFrameDepth: vm.DefaultMaxFrameDepth,
			MacroDepth:    vm.DefaultMacroDepth,
			TraceDepth:    vm.DefaultTraceDepth,
			PrintDepth:    printer.DefaultMaxDepth,
		},
		Image: ImageConfig{
			Path: "ls9.image",
		},
		Source: SourceConfig{
			Prelude: "ls9.ls9",
		},
		Dir: dir,
	}
}

// Load parses the ls9.toml file in the given directory.
func Load(dir string) (*Manifest, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	path := filepath.Join(abs, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	m, err := Parse(string(data), abs)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// Parse decodes configuration text over the defaults. Unknown keys are
// rejected.
func Parse(text, dir string) (*Manifest, error) {
	m := Default(dir)
	md, err := toml.Decode(text, m)
	if err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("%w: unknown keys %s", ErrInvalid, strings.Join(keys, ", "))
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// FindAndLoad walks up from startDir to find an ls9.toml file, then
// loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}

// Validate checks that every limit is usable.
func (m *Manifest) Validate() error {
	positive := []struct {
		key string
		v   int
	}{
		{"heap.nodes", m.Heap.Nodes},
		{"heap.vector-cells", m.Heap.VectorCells},
		{"machine.ports", m.Machine.Ports},
		{"machine.stack-size", m.Machine.StackSize},
		{"machine.max-frame-depth", m.Machine.MaxFrameDepth},
		{"machine.macro-depth", m.Machine.MacroDepth},
		{"machine.trace-depth", m.Machine.TraceDepth},
		{"machine.print-depth", m.Machine.PrintDepth},
	}
	for _, p := range positive {
		if p.v <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %d", ErrInvalid, p.key, p.v)
		}
	}
	if m.Machine.Ports < 3 {
		return fmt.Errorf("%w: machine.ports must leave room for the standard ports", ErrInvalid)
	}
	return nil
}

// resolve makes p absolute relative to the manifest directory.
func (m *Manifest) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(m.Dir, p)
}

// ImagePath returns the absolute image path.
func (m *Manifest) ImagePath() string {
	return m.resolve(m.Image.Path)
}

// PreludePath returns the absolute path of the prelude override.
func (m *Manifest) PreludePath() string {
	return m.resolve(m.Source.Prelude)
}

// LoadPaths returns absolute paths for the files loaded after boot.
func (m *Manifest) LoadPaths() []string {
	var paths []string
	for _, p := range m.Source.Load {
		paths = append(paths, m.resolve(p))
	}
	return paths
}

// LogPath returns the absolute log file path, or "" for stderr.
func (m *Manifest) LogPath() string {
	return m.resolve(m.Log.File)
}

// VMConfig converts the manifest into a machine configuration. Standard
// streams and arguments are left for the caller.
func (m *Manifest) VMConfig() vm.Config {
	return vm.Config{
		Nodes:         m.Heap.Nodes,
		VectorCells:   m.Heap.VectorCells,
		Ports:         m.Machine.Ports,
		StackSize:     m.Machine.StackSize,
		MaxFrameDepth: m.Machine.MaxFrameDepth,
		MacroDepth:    m.Machine.MacroDepth,
		TraceDepth:    m.Machine.TraceDepth,
		ImagePath:     m.ImagePath(),
		CompressImage: m.Image.Compress,
	}
}
