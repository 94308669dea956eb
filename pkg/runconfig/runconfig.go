// Package runconfig loads and saves the flat JSON run configuration
// cmd/robolink's subcommands share across invocations, in the same
// style the reference host app keeps its own lerobot.json: a small
// struct, encoding/json, and a default filename.
package runconfig

import (
	"encoding/json"
	"os"
)

// DefaultConfigFile is read by every cmd/robolink subcommand unless
// -run-config points elsewhere.
const DefaultConfigFile = "robolink.json"

// JointCurrent overrides one joint's stiff-mode drive currents.
// pkg/jointconfig's grouped file format never carries these (neither
// does the original JointConfiguration.cpp's QSettings loader; see
// DESIGN.md), so they live here instead, set once by `configure` and
// reused by every later command that opens a connection.
type JointCurrent struct {
	HoldCurrent int `json:"hold_current"`
	MaxCurrent  int `json:"max_current"`
}

// Config is the per-run state cmd/robolink persists between
// invocations: which ports to try, which joint file to load, the
// per-joint currents `configure` settled on, and where to optionally
// mirror telemetry.
type Config struct {
	Ports         []string                `json:"ports,omitempty"`
	JointsFile    string                  `json:"joints_file,omitempty"`
	Currents      map[string]JointCurrent `json:"currents,omitempty"`
	MQTTBroker    string                  `json:"mqtt_broker,omitempty"`
	WebSocketAddr string                  `json:"websocket_addr,omitempty"`
}

// LoadConfig loads configuration from the default config file.
func LoadConfig() (*Config, error) {
	return LoadConfigFrom(DefaultConfigFile)
}

// LoadConfigFrom loads configuration from a specific file.
func LoadConfigFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save saves configuration to the default config file.
func (c *Config) Save() error {
	return c.SaveTo(DefaultConfigFile)
}

// SaveTo saves configuration to a specific file.
func (c *Config) SaveTo(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ConfigExists reports whether the default config file exists.
func ConfigExists() bool {
	_, err := os.Stat(DefaultConfigFile)
	return err == nil
}
