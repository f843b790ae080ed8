package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	log "github.com/sirupsen/logrus"
)

// GenesisConfig describes the chain's initial state.
type GenesisConfig struct {
	ChainID string `json:"chain_id" toml:"chain_id"`
	// InitLedger runs the InitLedger operation inside block 0.
	InitLedger bool `json:"init_ledger" toml:"init_ledger"`
}

// TLSConfig holds PEM paths for the RPC listener. With CACert set, clients
// must present a certificate signed by it.
type TLSConfig struct {
	CACert string `json:"ca_cert" toml:"ca_cert"`
	Cert   string `json:"cert" toml:"cert"`
	Key    string `json:"key" toml:"key"`
}

// Config holds all node configuration.
type Config struct {
	NodeID       string        `json:"node_id" toml:"node_id"`
	DataDir      string        `json:"data_dir" toml:"data_dir"`
	DBBackend    string        `json:"db_backend" toml:"db_backend"` // "leveldb" (default) or "bolt"
	RPCPort      int           `json:"rpc_port" toml:"rpc_port"`
	RPCAuthToken string        `json:"rpc_auth_token" toml:"rpc_auth_token"` // empty disables Bearer auth
	LogLevel     string        `json:"log_level" toml:"log_level"`
	Metrics      bool          `json:"metrics" toml:"metrics"` // serve /metrics on the RPC port
	TLS          *TLSConfig    `json:"tls,omitempty" toml:"tls,omitempty"`
	Genesis      GenesisConfig `json:"genesis" toml:"genesis"`
}

// DefaultConfig returns a single-node development configuration.
func DefaultConfig() *Config {
	return &Config{
		NodeID:    "node0",
		DataDir:   "./data",
		DBBackend: "leveldb",
		RPCPort:   8545,
		LogLevel:  "info",
		Metrics:   true,
		Genesis: GenesisConfig{
			ChainID:    "lottochain-dev",
			InitLedger: true,
		},
	}
}

// Load reads a config file from path. Files ending in .toml are decoded as
// TOML, everything else as JSON. Fields absent from the file keep their
// defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if isTOML(path) {
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	} else if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config to path, as TOML or JSON depending on the extension.
func Save(cfg *Config, path string) error {
	if isTOML(path) {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		return toml.NewEncoder(f).Encode(cfg)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Validate checks the fields that have a closed set of values.
func (c *Config) Validate() error {
	switch c.DBBackend {
	case "", "leveldb", "bolt":
	default:
		return fmt.Errorf("db_backend must be leveldb or bolt, got %q", c.DBBackend)
	}
	if c.RPCPort < 0 || c.RPCPort > 65535 {
		return fmt.Errorf("rpc_port %d out of range", c.RPCPort)
	}
	if c.LogLevel != "" {
		if _, err := log.ParseLevel(c.LogLevel); err != nil {
			return fmt.Errorf("log_level: %w", err)
		}
	}
	return nil
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}
