package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// BundledDirEnv overrides the bundled-plugins directory when set.
const BundledDirEnv = "SIDECAR_BUNDLED_PLUGINS"

// Mode represents the execution mode of the host
type Mode string

const (
	// ModeDaemon represents background daemon mode
	ModeDaemon Mode = "daemon"
	// ModeInteractive represents interactive mode with user input
	ModeInteractive Mode = "interactive"
)

// Config represents the application configuration
type Config struct {
	// Daemon configuration
	Daemon DaemonConfig `yaml:"daemon"`

	// Plugins configures discovery and loading of workspace plugins
	Plugins PluginsConfig `yaml:"plugins"`

	// Channels configures the bundled channel adapters
	Channels map[string]ChannelConfig `yaml:"channels"`

	// Mode specifies the execution mode
	Mode Mode `yaml:"mode"`
}

// DaemonConfig contains daemon-specific configuration
type DaemonConfig struct {
	// LogLevel specifies the logging level (debug, info, warn, error)
	LogLevel string `yaml:"log_level"`

	// BrokerBufferSize is the default buffer size for message broker subscriptions
	BrokerBufferSize int `yaml:"broker_buffer_size"`

	// PublishTimeout is the timeout for publishing messages (in seconds)
	PublishTimeout int `yaml:"publish_timeout"`
}

// PluginsConfig controls where plugins are discovered and how they load
type PluginsConfig struct {
	// LoadPaths lists extra directories searched for plugin roots
	LoadPaths []string `yaml:"load_paths"`

	// BundledDir is the directory holding plugins shipped with the host.
	// The SIDECAR_BUNDLED_PLUGINS environment variable takes precedence.
	BundledDir string `yaml:"bundled_dir"`

	// Watch enables the workspace watcher that triggers a reload when
	// plugin manifests change on disk
	Watch bool `yaml:"watch"`

	// Disabled lists plugin ids that must not be loaded
	Disabled []string `yaml:"disabled"`

	// Settings holds per-plugin settings, validated against each
	// plugin's declared config schema at load time
	Settings map[string]map[string]interface{} `yaml:"settings"`
}

// ChannelConfig contains configuration for a bundled channel adapter
type ChannelConfig struct {
	// Enabled indicates if the channel should be started
	Enabled bool `yaml:"enabled"`

	// Settings contains channel-specific settings
	Settings map[string]interface{} `yaml:"settings"`
}

// Load loads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// LoadOrDefault loads configuration from a file or returns default config
func LoadOrDefault(path string) (*Config, error) {
	if path == "" || !fileExists(path) {
		return DefaultConfig(), nil
	}
	return Load(path)
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	cfg := &Config{
		Daemon: DaemonConfig{
			LogLevel:         "info",
			BrokerBufferSize: 100,
			PublishTimeout:   5,
		},
		Mode: ModeDaemon,
	}
	cfg.applyDefaults()
	return cfg
}

// applyDefaults applies default values to missing configuration
func (c *Config) applyDefaults() {
	if c.Daemon.LogLevel == "" {
		c.Daemon.LogLevel = "info"
	}
	if c.Daemon.BrokerBufferSize == 0 {
		c.Daemon.BrokerBufferSize = 100
	}
	if c.Daemon.PublishTimeout == 0 {
		c.Daemon.PublishTimeout = 5
	}

	if c.Mode == "" {
		c.Mode = ModeDaemon
	}

	if c.Channels == nil {
		c.Channels = make(map[string]ChannelConfig)
	}
	if c.Plugins.Settings == nil {
		c.Plugins.Settings = make(map[string]map[string]interface{})
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Mode != ModeDaemon && c.Mode != ModeInteractive {
		return fmt.Errorf("invalid mode: %s (must be 'daemon' or 'interactive')", c.Mode)
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Daemon.LogLevel] {
		return fmt.Errorf("invalid log level: %s", c.Daemon.LogLevel)
	}

	if c.Daemon.BrokerBufferSize < 1 {
		return fmt.Errorf("broker buffer size must be at least 1")
	}

	if c.Daemon.PublishTimeout < 1 {
		return fmt.Errorf("publish timeout must be at least 1 second")
	}

	return nil
}

// BundledPluginDir resolves the bundled-plugins directory. The environment
// variable takes precedence over the configured value.
func (c *Config) BundledPluginDir() string {
	if dir := os.Getenv(BundledDirEnv); dir != "" {
		return dir
	}
	return c.Plugins.BundledDir
}

// IsPluginDisabled checks if a plugin id is disabled in the configuration
func (c *Config) IsPluginDisabled(id string) bool {
	for _, d := range c.Plugins.Disabled {
		if d == id {
			return true
		}
	}
	return false
}

// PluginSettings returns the configured settings for a plugin id.
// Returns an empty map when nothing is configured.
func (c *Config) PluginSettings(id string) map[string]interface{} {
	settings, ok := c.Plugins.Settings[id]
	if !ok {
		return map[string]interface{}{}
	}
	return settings
}

// IsChannelEnabled checks if a channel adapter is enabled in the configuration
func (c *Config) IsChannelEnabled(name string) bool {
	cfg, exists := c.Channels[name]
	if !exists {
		// If not specified in config, assume enabled
		return true
	}
	return cfg.Enabled
}

// GetChannelSetting retrieves a specific setting for a channel
func (c *Config) GetChannelSetting(channel, setting string) (interface{}, bool) {
	cfg, exists := c.Channels[channel]
	if !exists || cfg.Settings == nil {
		return nil, false
	}

	val, exists := cfg.Settings[setting]
	return val, exists
}

// GetChannelSettingString retrieves a string setting for a channel
func (c *Config) GetChannelSettingString(channel, setting string) (string, bool) {
	val, exists := c.GetChannelSetting(channel, setting)
	if !exists {
		return "", false
	}

	str, ok := val.(string)
	return str, ok
}

// GetChannelSettingInt retrieves an int setting for a channel
func (c *Config) GetChannelSettingInt(channel, setting string) (int, bool) {
	val, exists := c.GetChannelSetting(channel, setting)
	if !exists {
		return 0, false
	}

	// YAML unmarshals integers as int
	if i, ok := val.(int); ok {
		return i, true
	}

	return 0, false
}

// GetChannelSettingBool retrieves a bool setting for a channel
func (c *Config) GetChannelSettingBool(channel, setting string) (bool, bool) {
	val, exists := c.GetChannelSetting(channel, setting)
	if !exists {
		return false, false
	}

	b, ok := val.(bool)
	return b, ok
}

// Save writes the configuration to a YAML file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// fileExists checks if a file exists
func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
