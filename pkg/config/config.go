// Package config provides configuration management for veebot.
// Supports TOML configuration files with environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/veebot/veebot/pkg/httpjson"
)

var (
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingValue  = errors.New("missing required configuration value")
)

// Config holds all bot configuration
type Config struct {
	// Discord configuration
	Discord DiscordConfig `toml:"discord"`

	// YouTube configuration
	YouTube YouTubeConfig `toml:"youtube"`

	// Derpibooru configuration
	Derpi DerpiConfig `toml:"derpi"`

	// HTTP client configuration
	HTTP HTTPConfig `toml:"http"`

	// Player configuration
	Player PlayerConfig `toml:"player"`

	// Metrics configuration
	Metrics MetricsConfig `toml:"metrics"`

	// Logging configuration
	Logging LoggingConfig `toml:"logging"`
}

// DiscordConfig holds Discord-specific configuration
type DiscordConfig struct {
	// Token is the bot token used for the gateway and the REST API
	Token string `toml:"token" env:"VEEBOT_DISCORD_TOKEN"`

	// ClientID is the application id, used to build the invite URL
	ClientID string `toml:"client_id" env:"VEEBOT_DISCORD_CLIENT_ID"`

	// CommandPrefix is the prefix that marks a message as a command
	CommandPrefix string `toml:"command_prefix" env:"VEEBOT_COMMAND_PREFIX"`

	// InvitePermissions is the permission bitset requested by the invite URL
	InvitePermissions int64 `toml:"invite_permissions"`
}

// YouTubeConfig holds YouTube Data API configuration
type YouTubeConfig struct {
	// APIKey is the YouTube Data API v3 key used for video search
	APIKey string `toml:"api_key" env:"VEEBOT_YOUTUBE_API_KEY"`
}

// DerpiConfig holds derpibooru configuration
type DerpiConfig struct {
	// BaseURL is the derpibooru instance to query
	BaseURL string `toml:"base_url" env:"VEEBOT_DERPI_BASE_URL"`

	// Filter is the derpibooru filter id applied to searches (empty = site default)
	Filter string `toml:"filter" env:"VEEBOT_DERPI_FILTER"`

	// AlwaysOnTags are appended to every image search
	AlwaysOnTags []string `toml:"always_on_tags"`
}

// HTTPConfig holds outbound HTTP client configuration
type HTTPConfig struct {
	// TimeoutSeconds bounds connection establishment and whole requests
	TimeoutSeconds int `toml:"timeout_seconds" env:"VEEBOT_HTTP_TIMEOUT"`
}

// PlayerConfig holds music player configuration
type PlayerConfig struct {
	// MaxQueueSize caps the number of tracks queued per guild
	MaxQueueSize int `toml:"max_queue_size" env:"VEEBOT_PLAYER_MAX_QUEUE"`

	// IdleTimeout is how long the bot stays in an idle voice channel
	// before disconnecting (Go duration string)
	IdleTimeout string `toml:"idle_timeout" env:"VEEBOT_PLAYER_IDLE_TIMEOUT"`

	// StreamCommand is the shell pipeline that turns a track URL into a
	// DCA stream on stdout. {{url}} is replaced with the track URL.
	StreamCommand string `toml:"stream_command" env:"VEEBOT_PLAYER_STREAM_COMMAND"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	// Enabled controls whether the metrics endpoint is served
	Enabled bool `toml:"enabled" env:"VEEBOT_METRICS_ENABLED"`

	// Addr is the listen address of the metrics endpoint
	Addr string `toml:"addr" env:"VEEBOT_METRICS_ADDR"`
}

// LoggingConfig holds logging-specific configuration
type LoggingConfig struct {
	// Level is the log level (debug, info, warn, error)
	Level string `toml:"level" env:"VEEBOT_LOG_LEVEL"`

	// Format is the log format (json, text)
	Format string `toml:"format" env:"VEEBOT_LOG_FORMAT"`

	// Output is the log output (stdout, stderr, file)
	Output string `toml:"output" env:"VEEBOT_LOG_OUTPUT"`

	// File is the log file path when output is "file"
	File string `toml:"file" env:"VEEBOT_LOG_FILE"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Discord: DiscordConfig{
			Token:         "",
			ClientID:      "",
			CommandPrefix: "!",
			// View channels, send messages, embed links, read history,
			// connect, speak
			InvitePermissions: 3230720,
		},
		YouTube: YouTubeConfig{
			APIKey: "",
		},
		Derpi: DerpiConfig{
			BaseURL:      "https://derpibooru.org",
			Filter:       "",
			AlwaysOnTags: []string{"safe"},
		},
		HTTP: HTTPConfig{
			TimeoutSeconds: 30,
		},
		Player: PlayerConfig{
			MaxQueueSize:  100,
			IdleTimeout:   "5m",
			StreamCommand: "yt-dlp -q -f bestaudio -o - {{url}} | dca",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9900",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
			File:   "",
		},
	}
}

// ConfigPaths returns the list of default configuration file paths to check
func ConfigPaths() []string {
	homeDir, _ := os.UserHomeDir()
	return []string{
		filepath.Join(homeDir, ".veebot", "config.toml"),
		filepath.Join("/etc", "veebot", "config.toml"),
		"./veebot.toml",
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Validate discord configuration
	if c.Discord.Token == "" {
		return fmt.Errorf("%w: discord.token is required", ErrInvalidConfig)
	}
	if c.Discord.CommandPrefix == "" {
		return fmt.Errorf("%w: discord.command_prefix must not be empty", ErrInvalidConfig)
	}

	// Validate youtube configuration
	if c.YouTube.APIKey == "" {
		return fmt.Errorf("%w: youtube.api_key is required", ErrInvalidConfig)
	}

	// Validate derpibooru configuration
	if c.Derpi.BaseURL == "" {
		return fmt.Errorf("%w: derpi.base_url is required", ErrInvalidConfig)
	}

	// Validate http configuration
	if c.HTTP.TimeoutSeconds < 1 {
		return fmt.Errorf("%w: http.timeout_seconds must be at least 1", ErrInvalidConfig)
	}

	// Validate player configuration
	if c.Player.MaxQueueSize < 1 {
		return fmt.Errorf("%w: player.max_queue_size must be at least 1", ErrInvalidConfig)
	}
	if _, err := time.ParseDuration(c.Player.IdleTimeout); err != nil {
		return fmt.Errorf("%w: player.idle_timeout is not a valid duration: %v", ErrInvalidConfig, err)
	}
	if !strings.Contains(c.Player.StreamCommand, "{{url}}") {
		return fmt.Errorf("%w: player.stream_command must contain the {{url}} placeholder", ErrInvalidConfig)
	}

	// Validate metrics configuration
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("%w: metrics.addr is required when metrics are enabled", ErrInvalidConfig)
	}

	// Validate logging configuration
	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("%w: logging.level must be one of: debug, info, warn, error", ErrInvalidConfig)
	}

	validFormats := map[string]bool{
		"json": true,
		"text": true,
	}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("%w: logging.format must be one of: json, text", ErrInvalidConfig)
	}

	validOutputs := map[string]bool{
		"stdout": true,
		"stderr": true,
		"file":   true,
	}
	if !validOutputs[c.Logging.Output] {
		return fmt.Errorf("%w: logging.output must be one of: stdout, stderr, file", ErrInvalidConfig)
	}

	if c.Logging.Output == "file" && c.Logging.File == "" {
		return fmt.Errorf("%w: logging.file is required when logging.output is 'file'", ErrInvalidConfig)
	}

	return nil
}

// ToHTTPConfig converts the Config to httpjson.Config
func (c *Config) ToHTTPConfig() httpjson.Config {
	return httpjson.Config{
		Timeout: time.Duration(c.HTTP.TimeoutSeconds) * time.Second,
	}
}

// GetIdleTimeout returns the player idle timeout as a Duration
func (c *Config) GetIdleTimeout() time.Duration {
	d, err := time.ParseDuration(c.Player.IdleTimeout)
	if err != nil {
		return 5 * time.Minute
	}
	return d
}

// LogOutput resolves the logging output to what the logger expects:
// "stdout", "stderr", or a file path
func (c *Config) LogOutput() string {
	if c.Logging.Output == "file" {
		return c.Logging.File
	}
	return c.Logging.Output
}
