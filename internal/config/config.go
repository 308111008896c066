// Package config loads the replica settings from a YAML file.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/systemshift/diffsync/internal/dag"
	"github.com/systemshift/diffsync/internal/diffsync"
)

// Backend names accepted in the backend field.
const (
	BackendFile   = "file"
	BackendBadger = "badger"
	BackendKubo   = "kubo"
	BackendMemory = "memory"
)

// DefaultKuboAPI is the RPC address of a local Kubo daemon.
const DefaultKuboAPI = "http://127.0.0.1:5001/api/v0"

// PeerConfig seeds one roster entry.
type PeerConfig struct {
	DID   string `yaml:"did"`
	Alias string `yaml:"alias,omitempty"`
	URL   string `yaml:"url,omitempty"`
}

// Config holds every setting of one replica. Zero values are filled from
// Default when loading a file.
type Config struct {
	DataDir      string `yaml:"data_dir"`
	Backend      string `yaml:"backend"`
	KuboAPI      string `yaml:"kubo_api"`
	IdentityPath string `yaml:"identity_path,omitempty"`

	SnapshotInterval    int           `yaml:"snapshot_interval"`
	ChunkSize           int           `yaml:"chunk_size"`
	ActiveAgentDuration time.Duration `yaml:"active_agent_duration"`
	EnableSignals       bool          `yaml:"enable_signals"`
	SyncInterval        time.Duration `yaml:"sync_interval"`

	ListenAddr  string `yaml:"listen_addr"`
	MetricsAddr string `yaml:"metrics_addr,omitempty"`

	Peers []PeerConfig `yaml:"peers,omitempty"`
}

// Default returns the settings used when no file is given.
func Default() Config {
	return Config{
		DataDir:             ".",
		Backend:             BackendFile,
		KuboAPI:             DefaultKuboAPI,
		SnapshotInterval:    diffsync.DefaultSnapshotInterval,
		ChunkSize:           diffsync.DefaultChunkSize,
		ActiveAgentDuration: diffsync.DefaultActiveAgentDuration,
		EnableSignals:       true,
		SyncInterval:        5 * time.Minute,
		ListenAddr:          ":7420",
	}
}

// Load reads the YAML file at path over Default. Unknown keys are an error.
func Load(path string) (Config, error) {
	cfg := Default()
	f, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg as YAML.
func (c Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return dag.SafeWrite(path, data, 0644, dag.CreateDirs(0755))
}

// Validate reports the first setting that cannot work.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendFile, BackendBadger, BackendMemory:
	case BackendKubo:
		if c.KuboAPI == "" {
			return errors.New("kubo backend needs kubo_api")
		}
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	if c.Backend != BackendMemory && c.DataDir == "" {
		return errors.New("data_dir is required")
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk_size must be positive, got %d", c.ChunkSize)
	}
	if c.SnapshotInterval < 0 {
		return fmt.Errorf("snapshot_interval must not be negative, got %d", c.SnapshotInterval)
	}
	if c.ActiveAgentDuration <= 0 {
		return errors.New("active_agent_duration must be positive")
	}
	if c.SyncInterval <= 0 {
		return errors.New("sync_interval must be positive")
	}
	for i, p := range c.Peers {
		if p.DID == "" {
			return fmt.Errorf("peers[%d]: did is required", i)
		}
	}
	return nil
}

// NodeOptions maps the settings onto diffsync options.
func (c Config) NodeOptions() diffsync.Options {
	return diffsync.Options{
		SnapshotInterval: c.SnapshotInterval,
		ChunkSize:        c.ChunkSize,
	}
}
