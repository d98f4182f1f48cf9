package main

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// NodeConfig is the persisted node identity file
// (<data_dir>/node.yaml): durable per-node settings that `node start`
// needs to rejoin the cluster it was last part of without the operator
// re-specifying bind address or peer list on every restart.
type NodeConfig struct {
	NodeID   string   `yaml:"node_id"`
	BindAddr string   `yaml:"bind_addr"`
	DataDir  string   `yaml:"data_dir"`
	Peers    []string `yaml:"peers,omitempty"`
}

func nodeConfigPath(dataDir string) string {
	return filepath.Join(dataDir, "node.yaml")
}

// SaveNodeConfig writes cfg to <dataDir>/node.yaml.
func SaveNodeConfig(cfg NodeConfig) error {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return err
	}
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(nodeConfigPath(cfg.DataDir), b, 0644)
}

// LoadNodeConfig reads <dataDir>/node.yaml.
func LoadNodeConfig(dataDir string) (NodeConfig, error) {
	var cfg NodeConfig
	b, err := os.ReadFile(nodeConfigPath(dataDir))
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
