// Package manifest handles jvmcore.toml configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/chazu/jvmcore/vm"
)

// FileName is the name of the configuration file.
const FileName = "jvmcore.toml"

// Manifest represents a jvmcore.toml configuration.
type Manifest struct {
	VM      VMConfig      `toml:"vm"`
	Trace   TraceConfig   `toml:"trace"`
	Profile ProfileConfig `toml:"profile"`
	Log     LogConfig     `toml:"log"`
	Run     RunConfig     `toml:"run"`

	// Dir is the directory containing the jvmcore.toml file (set at load time).
	Dir string `toml:"-"`
}

// VMConfig sizes the arena and thread stacks.
type VMConfig struct {
	ArenaSlots int `toml:"arena-slots"`
	StackSlots int `toml:"stack-slots"`
	Quantum    int `toml:"quantum"`
}

// TraceConfig controls instruction tracing.
type TraceConfig struct {
	Instructions bool   `toml:"instructions"`
	Frames       bool   `toml:"frames"`
	Database     string `toml:"database"`
	// Log sends trace lines to the debug log as well.
	Log bool `toml:"log"`
}

// ProfileConfig configures the method profiler.
type ProfileConfig struct {
	HotThreshold uint64 `toml:"hot-threshold"`
}

// LogConfig configures logging.
type LogConfig struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// RunConfig names what to run when the command line does not.
type RunConfig struct {
	Image   string `toml:"image"`
	Entry   string `toml:"entry"`
	Timeout string `toml:"timeout"`
}

// Default returns the configuration used when no file is found.
func Default() *Manifest {
	m := &Manifest{}
	m.applyDefaults()
	return m
}

func (m *Manifest) applyDefaults() {
	if m.VM.ArenaSlots <= 0 {
		m.VM.ArenaSlots = vm.DefaultArenaSlots
	}
	if m.VM.StackSlots <= 0 {
		m.VM.StackSlots = vm.DefaultStackSlots
	}
	if m.VM.Quantum < 0 {
		m.VM.Quantum = 0
	}
	if m.Profile.HotThreshold == 0 {
		m.Profile.HotThreshold = 100
	}
}

// Load parses a jvmcore.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
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
	if m.VM.StackSlots > 0 && m.VM.ArenaSlots > 0 && m.VM.StackSlots > m.VM.ArenaSlots {
		return nil, fmt.Errorf("%s: stack-slots %d exceeds arena-slots %d", path, m.VM.StackSlots, m.VM.ArenaSlots)
	}

	m.applyDefaults()
	return &m, nil
}

// FindAndLoad walks up from startDir to find a jvmcore.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
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
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// Path resolves p relative to the manifest's directory. Absolute and empty
// paths are returned unchanged.
func (m *Manifest) Path(p string) string {
	if p == "" || filepath.IsAbs(p) || m.Dir == "" {
		return p
	}
	return filepath.Join(m.Dir, p)
}

// VMOptions converts the configuration into options for vm.New. Trace
// writers are attached by the caller.
func (m *Manifest) VMOptions() []vm.Option {
	return []vm.Option{
		vm.WithArenaSlots(m.VM.ArenaSlots),
		vm.WithStackSlots(m.VM.StackSlots),
		vm.WithHotThreshold(m.Profile.HotThreshold),
		vm.WithFrameTrace(m.Trace.Frames),
	}
}
