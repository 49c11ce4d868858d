package daemon

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.API.Port != 40110 || cfg.P2P.Port != 40102 {
		t.Fatalf("default ports = %d, %d", cfg.API.Port, cfg.P2P.Port)
	}
	if cfg.Resources.MaxConcurrent <= 0 {
		t.Fatal("default transfer concurrency must be positive")
	}
	if cfg.Logging.Level != "info" {
		t.Fatalf("default log level = %q", cfg.Logging.Level)
	}
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("KRILL_HOME", t.TempDir())
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.API.Port != DefaultConfig().API.Port {
		t.Fatalf("port = %d", cfg.API.Port)
	}
}

func TestSaveAndLoadConfig(t *testing.T) {
	home := t.TempDir()
	t.Setenv("KRILL_HOME", home)

	cfg := DefaultConfig()
	cfg.Node.Name = "test-node"
	cfg.API.Port = 41110
	cfg.P2P.KnownPeers = []string{"10.0.0.1:40102"}
	if err := SaveConfig(cfg); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}
	if _, err := os.Stat(filepath.Join(home, "config.toml")); err != nil {
		t.Fatalf("config file missing: %v", err)
	}

	loaded, err := LoadConfig()
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Node.Name != "test-node" || loaded.API.Port != 41110 {
		t.Fatalf("loaded = %+v", loaded)
	}
	if len(loaded.P2P.KnownPeers) != 1 {
		t.Fatalf("known peers = %v", loaded.P2P.KnownPeers)
	}
}

func TestPartialConfigOverlay(t *testing.T) {
	home := t.TempDir()
	t.Setenv("KRILL_HOME", home)

	partial := `[api]
port = 50000
`
	if err := os.WriteFile(filepath.Join(home, "config.toml"), []byte(partial), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.API.Port != 50000 {
		t.Fatalf("overridden port = %d", cfg.API.Port)
	}
	// Untouched sections keep their defaults.
	if cfg.P2P.Port != DefaultConfig().P2P.Port {
		t.Fatalf("p2p port = %d", cfg.P2P.Port)
	}
}
