package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Load loads configuration from a file path
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	// If path is empty, search for default config files
	if path == "" {
		for _, p := range ConfigPaths() {
			if _, err := os.Stat(p); err == nil {
				path = p
				break
			}
		}
	}

	// If no config file found, warn and return defaults
	if path == "" {
		log.Printf("Warning: No configuration file found in default locations")
		log.Printf("Default locations checked:")
		for _, p := range ConfigPaths() {
			log.Printf("  - %s", p)
		}
		log.Printf("Using default configuration")
		log.Printf("Create a config with: veebot init")
		return cfg, nil
	}

	// Read the file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse TOML using BurntSushi/toml library
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Apply environment variable overrides
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// LoadOrDie loads configuration or exits on error
func LoadOrDie(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// applyEnvOverrides applies environment variable overrides to the configuration
func applyEnvOverrides(cfg *Config) error {
	// Discord overrides
	if v := os.Getenv("VEEBOT_DISCORD_TOKEN"); v != "" {
		cfg.Discord.Token = v
	}
	if v := os.Getenv("VEEBOT_DISCORD_CLIENT_ID"); v != "" {
		cfg.Discord.ClientID = v
	}
	if v := os.Getenv("VEEBOT_COMMAND_PREFIX"); v != "" {
		cfg.Discord.CommandPrefix = v
	}

	// YouTube overrides
	if v := os.Getenv("VEEBOT_YOUTUBE_API_KEY"); v != "" {
		cfg.YouTube.APIKey = v
	}

	// Derpibooru overrides
	if v := os.Getenv("VEEBOT_DERPI_BASE_URL"); v != "" {
		cfg.Derpi.BaseURL = v
	}
	if v := os.Getenv("VEEBOT_DERPI_FILTER"); v != "" {
		cfg.Derpi.Filter = v
	}

	// HTTP overrides
	if v := os.Getenv("VEEBOT_HTTP_TIMEOUT"); v != "" {
		var timeout int
		if _, err := fmt.Sscanf(v, "%d", &timeout); err == nil {
			cfg.HTTP.TimeoutSeconds = timeout
		}
	}

	// Player overrides
	if v := os.Getenv("VEEBOT_PLAYER_MAX_QUEUE"); v != "" {
		var size int
		if _, err := fmt.Sscanf(v, "%d", &size); err == nil {
			cfg.Player.MaxQueueSize = size
		}
	}
	if v := os.Getenv("VEEBOT_PLAYER_IDLE_TIMEOUT"); v != "" {
		cfg.Player.IdleTimeout = v
	}
	if v := os.Getenv("VEEBOT_PLAYER_STREAM_COMMAND"); v != "" {
		cfg.Player.StreamCommand = v
	}

	// Metrics overrides
	if v := os.Getenv("VEEBOT_METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("VEEBOT_METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
	}

	// Logging overrides
	if v := os.Getenv("VEEBOT_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("VEEBOT_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("VEEBOT_LOG_OUTPUT"); v != "" {
		cfg.Logging.Output = v
	}
	if v := os.Getenv("VEEBOT_LOG_FILE"); v != "" {
		cfg.Logging.File = v
	}

	return nil
}

// Save saves the configuration to a file
func Save(cfg *Config, path string) error {
	// Validate before saving
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("cannot save invalid configuration: %w", err)
	}

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Normalize paths for TOML compatibility (forward slashes, no backslashes)
	// This fixes Windows path parsing issues where \U is interpreted as Unicode escape
	cfgCopy := *cfg // Make a shallow copy
	if cfgCopy.Logging.File != "" {
		cfgCopy.Logging.File = filepath.ToSlash(cfgCopy.Logging.File)
	}

	// Marshal to TOML using BurntSushi/toml library
	data, err := toml.Marshal(&cfgCopy)
	if err != nil {
		return fmt.Errorf("failed to marshal configuration: %w", err)
	}

	// Write to file
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// GenerateExampleConfig generates an example configuration file
func GenerateExampleConfig(path string) error {
	cfg := DefaultConfig()

	// Add example values
	cfg.Discord.Token = "change-me"
	cfg.Discord.ClientID = "000000000000000000"
	cfg.YouTube.APIKey = "change-me"
	cfg.Logging.Level = "info"

	return Save(cfg, path)
}
