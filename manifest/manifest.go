// Package manifest handles relay.toml configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// FileName is the name of the configuration file.
const FileName = "relay.toml"

// Manifest represents a relay.toml configuration.
type Manifest struct {
	Agent  AgentConfig  `toml:"agent"`
	Worker WorkerConfig `toml:"worker"`
	Log    LogConfig    `toml:"log"`

	// Dir is the directory containing the relay.toml file (set at load time).
	Dir string `toml:"-"`
}

// AgentConfig configures the agents relay creates.
type AgentConfig struct {
	CanBlock *bool `toml:"can-block"`
}

// WorkerConfig configures workers.
type WorkerConfig struct {
	// Wire sends portable messages through the CBOR wire form.
	Wire bool `toml:"wire"`
	// Programs limits which builtin programs may be started. Empty allows all.
	Programs []string `toml:"programs"`
}

// LogConfig configures commonlog.
type LogConfig struct {
	Verbosity *int   `toml:"verbosity"`
	File      string `toml:"file"`
}

// Default returns the configuration used when no relay.toml exists.
func Default() *Manifest {
	m := &Manifest{}
	m.applyDefaults()
	return m
}

func (m *Manifest) applyDefaults() {
	if m.Agent.CanBlock == nil {
		canBlock := true
		m.Agent.CanBlock = &canBlock
	}
	if m.Log.Verbosity == nil {
		verbosity := 0
		m.Log.Verbosity = &verbosity
	}
}

// CanBlock reports whether agents may block in Atomics.wait.
func (m *Manifest) CanBlock() bool { return *m.Agent.CanBlock }

// Verbosity returns the commonlog verbosity level.
func (m *Manifest) Verbosity() int { return *m.Log.Verbosity }

// LogPath returns the absolute log file path, or "" for stderr.
func (m *Manifest) LogPath() string {
	if m.Log.File == "" || filepath.IsAbs(m.Log.File) {
		return m.Log.File
	}
	return filepath.Join(m.Dir, m.Log.File)
}

// Load parses a relay.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	md, err := toml.Decode(string(data), &m)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown key %q in %s", undecoded[0].String(), path)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	m.applyDefaults()
	if *m.Log.Verbosity < 0 {
		return nil, fmt.Errorf("%s: log verbosity must not be negative", path)
	}
	return &m, nil
}

// FindAndLoad walks up from startDir to find a relay.toml file,
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
