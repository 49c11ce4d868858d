// Package daemon manages the krill node lifecycle and configuration.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/krill-network/krill/internal/observability"
)

// Config holds all node configuration.
type Config struct {
	Node      NodeConfig              `toml:"node"`
	API       APIConfig               `toml:"api"`
	P2P       P2PConfig               `toml:"p2p"`
	Resources ResourcesConfig         `toml:"resources"`
	Logging   observability.LogConfig `toml:"logging"`
}

// NodeConfig identifies this node on the network.
type NodeConfig struct {
	Name       string `toml:"name"`
	EthAccount string `toml:"eth_account"` // account rewards are paid to
	DataDir    string `toml:"data_dir"`
}

// APIConfig controls the local HTTP control API.
type APIConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// P2PConfig controls the peer listener.
type P2PConfig struct {
	Host        string   `toml:"host"`
	Port        int      `toml:"port"`
	KnownPeers  []string `toml:"known_peers"` // seed addresses
	DialTimeout string   `toml:"dial_timeout"`
}

// ResourcesConfig controls resource and result-package transfers.
type ResourcesConfig struct {
	Dir           string `toml:"dir"`            // shared transfer tree
	OutputDir     string `toml:"output_dir"`     // pulled result packages
	MaxConcurrent int64  `toml:"max_concurrent"` // parallel transfers
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() Config {
	homeDir := krillHome()
	return Config{
		Node: NodeConfig{
			Name:    "krill-node",
			DataDir: filepath.Join(homeDir, "data"),
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 40110,
		},
		P2P: P2PConfig{
			Host:        "0.0.0.0",
			Port:        40102,
			DialTimeout: "10s",
		},
		Resources: ResourcesConfig{
			Dir:           filepath.Join(homeDir, "resources"),
			OutputDir:     filepath.Join(homeDir, "output"),
			MaxConcurrent: 4,
		},
		Logging: observability.LogConfig{
			Level:      "info",
			Format:     "console",
			File:       filepath.Join(homeDir, "krill.log"),
			MaxSizeMB:  50,
			MaxBackups: 5,
		},
	}
}

// LoadConfig reads config from ~/.krill/config.toml, falling back to
// defaults.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	path := filepath.Join(krillHome(), "config.toml")

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes the config to ~/.krill/config.toml.
func SaveConfig(cfg Config) error {
	path := filepath.Join(krillHome(), "config.toml")
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	return encoder.Encode(cfg)
}

// krillHome returns the krill data directory.
func krillHome() string {
	if env := os.Getenv("KRILL_HOME"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".krill")
}

// KrillHome is exported for use by other packages.
func KrillHome() string {
	return krillHome()
}
