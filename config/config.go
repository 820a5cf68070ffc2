// Package config provides configuration management for OpenVPN Manager.
// It handles loading, saving, and validating application settings.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yllada/openvpn-manager/common"
)

// Config represents the application configuration.
// All settings are persisted to a YAML file in the user's config directory.
type Config struct {
	// OpenVPNBinary is the VPN client executable.
	OpenVPNBinary string `yaml:"openvpn_binary"`
	// Escalation is the privilege-escalation command prefix, e.g. ["sudo"].
	// An empty list runs the binary directly.
	Escalation []string `yaml:"escalation"`
	// SweepEnabled runs a privileged kill-by-name after disconnect.
	SweepEnabled bool `yaml:"sweep_enabled"`

	// PublicIPEndpoint returns the caller's IPv4 address as plain text.
	PublicIPEndpoint string        `yaml:"public_ip_endpoint"`
	PublicIPTimeout  time.Duration `yaml:"public_ip_timeout"`
	// DNSServers are used when the system resolver cannot resolve a
	// profile's remote host. Empty means /etc/resolv.conf.
	DNSServers []string `yaml:"dns_servers,omitempty"`

	PromptTimeout    time.Duration `yaml:"prompt_timeout"`
	AuthGrace        time.Duration `yaml:"auth_grace"`
	SettleDelay      time.Duration `yaml:"settle_delay"`
	TerminateTimeout time.Duration `yaml:"terminate_timeout"`
	// LogCapacity is the number of OpenVPN output lines kept in memory.
	LogCapacity int `yaml:"log_capacity"`

	// Notifications enables desktop notifications for connection events.
	Notifications bool `yaml:"notifications"`
	// AutoReconnect reconnects with a saved password when the tunnel dies.
	AutoReconnect   bool          `yaml:"auto_reconnect"`
	MonitorInterval time.Duration `yaml:"monitor_interval"`
	// HistoryEnabled records sessions in the history database.
	HistoryEnabled bool `yaml:"history_enabled"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		OpenVPNBinary:    "openvpn",
		Escalation:       []string{"sudo"},
		SweepEnabled:     true,
		PublicIPEndpoint: common.DefaultPublicIPEndpoint,
		PublicIPTimeout:  common.PublicIPTimeout,
		PromptTimeout:    common.PromptTimeout,
		AuthGrace:        common.AuthGrace,
		SettleDelay:      common.SettleDelay,
		TerminateTimeout: common.TerminateTimeout,
		LogCapacity:      common.LogCapacity,
		Notifications:    true,
		AutoReconnect:    false,
		MonitorInterval:  common.MonitorInterval,
		HistoryEnabled:   true,
	}
}

// DefaultPath returns the configuration file location.
func DefaultPath() (string, error) {
	dir, err := common.GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, common.ConfigFileName), nil
}

// Load loads the configuration from path.
// If the file doesn't exist, it is created with default values.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := DefaultConfig()
		if err := cfg.Save(path); err != nil {
			return cfg, err
		}
		return cfg, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrConfigLoad, err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true) // Strict validation: reject unknown fields

	config := DefaultConfig()
	if err := decoder.Decode(config); err != nil {
		return nil, fmt.Errorf("%w: error parsing %s: %v", common.ErrConfigLoad, path, err)
	}

	config.validate()
	return config, nil
}

// validate replaces out-of-range values with defaults.
func (c *Config) validate() {
	def := DefaultConfig()
	if c.OpenVPNBinary == "" {
		c.OpenVPNBinary = def.OpenVPNBinary
	}
	if c.PublicIPEndpoint == "" {
		c.PublicIPEndpoint = def.PublicIPEndpoint
	}
	if c.PublicIPTimeout <= 0 {
		c.PublicIPTimeout = def.PublicIPTimeout
	}
	if c.PromptTimeout <= 0 {
		c.PromptTimeout = def.PromptTimeout
	}
	if c.AuthGrace <= 0 || c.AuthGrace > common.AuthGrace {
		c.AuthGrace = def.AuthGrace
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = def.SettleDelay
	}
	if c.TerminateTimeout <= 0 {
		c.TerminateTimeout = def.TerminateTimeout
	}
	if c.LogCapacity <= 0 {
		c.LogCapacity = def.LogCapacity
	}
	if c.MonitorInterval <= 0 {
		c.MonitorInterval = def.MonitorInterval
	}
}

// Save writes the configuration to path.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("%w: error creating config directory: %v", common.ErrConfigSave, err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("%w: error serializing configuration: %v", common.ErrConfigSave, err)
	}

	if err := common.WriteFileAtomic(path, data, 0600); err != nil {
		return fmt.Errorf("%w: %v", common.ErrConfigSave, err)
	}
	return nil
}
