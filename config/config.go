// Package config provides configuration management for the VPN session
// controller. It handles loading, saving, and validating settings.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yllada/vpn-session/common"
)

// Config represents the application configuration.
// All settings are persisted to a YAML file in the user's config directory.
type Config struct {
	// Bus selects the D-Bus bus the daemon listens on: "session" or "system".
	Bus string `yaml:"bus"`
	// Creator is stamped into every launched profile as its creator identity.
	Creator string `yaml:"creator"`
	// Engine configures the OpenVPN engine.
	Engine EngineConfig `yaml:"engine"`
	// DNS holds the engine-default DNS servers used when a caller omits them.
	DNS DNSConfig `yaml:"dns"`
	// Permission configures how launch permission is requested.
	Permission PermissionConfig `yaml:"permission"`
	// History configures the attempt journal.
	History HistoryConfig `yaml:"history"`
	// Log configures logging.
	Log LogConfig `yaml:"log"`
	// ShowNotifications enables desktop notifications from the tray.
	ShowNotifications bool `yaml:"show_notifications"`
	// KillSwitchCommand opens the host VPN settings surface.
	KillSwitchCommand []string `yaml:"kill_switch_command"`
}

// EngineConfig configures the OpenVPN process engine.
type EngineConfig struct {
	// Binary is the openvpn executable name or path.
	Binary string `yaml:"binary"`
	// UsePkexec runs the engine through pkexec when not root.
	UsePkexec bool `yaml:"use_pkexec"`
	// RuntimeDir holds the rendered profile, credentials and status file.
	// Empty selects $XDG_RUNTIME_DIR/vpn-session/run.
	RuntimeDir string `yaml:"runtime_dir,omitempty"`
	// StatusInterval is how often telemetry is refreshed.
	StatusInterval time.Duration `yaml:"status_interval"`
	// Verbosity is passed to openvpn --verb.
	Verbosity int `yaml:"verbosity"`
}

// DNSConfig holds default DNS servers.
type DNSConfig struct {
	Primary   string `yaml:"primary"`
	Secondary string `yaml:"secondary"`
}

// PermissionConfig configures the launch-permission prompter.
type PermissionConfig struct {
	// Mode is one of "auto", "polkit", "terminal", "external", "none".
	Mode string `yaml:"mode"`
	// ActionID is the polkit action checked in polkit mode.
	ActionID string `yaml:"action_id"`
}

// HistoryConfig configures the SQLite attempt journal.
type HistoryConfig struct {
	Enabled bool `yaml:"enabled"`
	// Path of the database file. Empty selects the config directory.
	Path string `yaml:"path,omitempty"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `yaml:"level"`
	File  bool   `yaml:"file"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Bus:     common.BusSession,
		Creator: common.AppID,
		Engine: EngineConfig{
			Binary:         "openvpn",
			UsePkexec:      true,
			StatusInterval: common.StatusInterval,
			Verbosity:      3,
		},
		DNS: DNSConfig{
			Primary:   common.DefaultDNS1,
			Secondary: common.DefaultDNS2,
		},
		Permission: PermissionConfig{
			Mode:     common.PermissionAuto,
			ActionID: common.PolkitActionID,
		},
		History: HistoryConfig{
			Enabled: true,
		},
		Log: LogConfig{
			Level: "info",
			File:  true,
		},
		ShowNotifications: true,
		KillSwitchCommand: []string{"gnome-control-center", "network"},
	}
}

// Load loads the configuration from the default config file.
// If the file doesn't exist, it creates one with default values.
func Load() (*Config, error) {
	configPath, err := DefaultPath()
	if err != nil {
		return nil, err
	}
	return LoadFrom(configPath)
}

// LoadFrom loads the configuration from path, writing defaults there
// when the file does not exist yet.
func LoadFrom(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		if err := cfg.SaveTo(configPath); err != nil {
			return cfg, err
		}
		return cfg, nil
	}

	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrConfigLoad, err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true) // reject unknown fields

	config := DefaultConfig()
	if err := decoder.Decode(config); err != nil {
		return nil, fmt.Errorf("%w: error parsing %s: %v", common.ErrConfigLoad, configPath, err)
	}

	config.validate()
	return config, nil
}

// validate replaces invalid values with their defaults.
func (c *Config) validate() {
	def := DefaultConfig()

	if c.Bus != common.BusSession && c.Bus != common.BusSystem {
		c.Bus = def.Bus
	}
	if c.Creator == "" {
		c.Creator = def.Creator
	}
	if c.Engine.Binary == "" {
		c.Engine.Binary = def.Engine.Binary
	}
	if c.Engine.StatusInterval <= 0 {
		c.Engine.StatusInterval = def.Engine.StatusInterval
	}
	if c.Engine.Verbosity < 0 || c.Engine.Verbosity > 11 {
		c.Engine.Verbosity = def.Engine.Verbosity
	}
	if c.DNS.Primary == "" {
		c.DNS.Primary = def.DNS.Primary
	}
	if c.DNS.Secondary == "" {
		c.DNS.Secondary = def.DNS.Secondary
	}

	validModes := []string{
		common.PermissionAuto,
		common.PermissionPolkit,
		common.PermissionTerminal,
		common.PermissionExternal,
		common.PermissionNone,
	}
	if !common.StringInSlice(c.Permission.Mode, validModes) {
		c.Permission.Mode = def.Permission.Mode
	}
	if c.Permission.ActionID == "" {
		c.Permission.ActionID = def.Permission.ActionID
	}
}

// Save saves the configuration to the default config file.
func (c *Config) Save() error {
	configPath, err := DefaultPath()
	if err != nil {
		return err
	}
	return c.SaveTo(configPath)
}

// SaveTo saves the configuration to configPath.
func (c *Config) SaveTo(configPath string) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0700); err != nil {
		return fmt.Errorf("%w: creating config directory: %v", common.ErrConfigSave, err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("%w: serializing configuration: %v", common.ErrConfigSave, err)
	}

	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("%w: %v", common.ErrConfigSave, err)
	}

	return nil
}

// HistoryPath returns the journal database path.
func (c *Config) HistoryPath() (string, error) {
	if c.History.Path != "" {
		return c.History.Path, nil
	}
	dir, err := common.GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, common.HistoryFileName), nil
}

// DefaultPath returns the path of the default config file.
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("error getting home directory: %w", err)
	}

	return filepath.Join(homeDir, ".config", common.ConfigDirName, common.ConfigFileName), nil
}
