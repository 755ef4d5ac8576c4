package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the top-level node configuration loaded from file/env.
type Config struct {
	// NodeID names this node in the cluster. Empty selects the hostname.
	NodeID string `json:"nodeId" yaml:"nodeId"`

	// WSAddr is the consumer-facing WebSocket listen address.
	WSAddr string `json:"wsAddr" yaml:"wsAddr"`
	// WSPath is the WebSocket upgrade path.
	WSPath string `json:"wsPath" yaml:"wsPath"`
	// HTTPAddr is the admin/introspection listen address.
	HTTPAddr string `json:"httpAddr" yaml:"httpAddr"`

	// NATSURL connects the node to the cluster. Empty runs the node
	// standalone with an in-process location table.
	NATSURL string `json:"natsUrl" yaml:"natsUrl"`
	// LocationBucket is the JetStream KV bucket holding service locations.
	LocationBucket string `json:"locationBucket" yaml:"locationBucket"`

	// StateCacheDir persists producer topic states. Empty disables the
	// cache; "auto" selects a directory under the OS data dir.
	StateCacheDir string `json:"stateCacheDir" yaml:"stateCacheDir"`

	// WriteBuffer is the per-connection outbound queue depth. It doubles as
	// the consumer demand window.
	WriteBuffer int `json:"writeBuffer" yaml:"writeBuffer"`
	// PingIntervalMs spaces server-initiated liveness pings.
	PingIntervalMs int `json:"pingIntervalMs" yaml:"pingIntervalMs"`
	// SignalRatePerSec caps inbound signals per connection; SignalBurst is
	// the accompanying burst allowance.
	SignalRatePerSec float64 `json:"signalRatePerSec" yaml:"signalRatePerSec"`
	SignalBurst      int     `json:"signalBurst" yaml:"signalBurst"`

	// LogLevel and LogFormat configure the process logger.
	LogLevel  string `json:"logLevel" yaml:"logLevel"`
	LogFormat string `json:"logFormat" yaml:"logFormat"`
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		WSAddr:           ":7470",
		WSPath:           "/stream",
		HTTPAddr:         ":7471",
		LocationBucket:   "rs_locations",
		WriteBuffer:      64,
		PingIntervalMs:   15000,
		SignalRatePerSec: 100,
		SignalBurst:      50,
		LogLevel:         "info",
		LogFormat:        "text",
	}
}

// Load reads configuration from a JSON or YAML file (by extension). If path
// is empty, returns defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	return cfg, nil
}

// EffectiveNodeID resolves the node id, falling back to the hostname.
func (c Config) EffectiveNodeID() string {
	if c.NodeID != "" {
		return c.NodeID
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "node-local"
	}
	return host
}
