// Package config provides configuration management for the application.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration.
type Config struct {
	Telegram TelegramConfig `mapstructure:"telegram"`
	Poll     PollConfig     `mapstructure:"poll"`
	GitHub   GitHubConfig   `mapstructure:"github"`
	Database DatabaseConfig `mapstructure:"database"`
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
}

// TelegramConfig holds Telegram bot configuration.
type TelegramConfig struct {
	Token string `mapstructure:"token"`
	Debug bool   `mapstructure:"debug"`
}

// PollConfig holds repository polling configuration.
type PollConfig struct {
	Interval        int `mapstructure:"interval"`         // Seconds between poll cycles
	CleanupInterval int `mapstructure:"cleanup_interval"` // Seconds between orphan cleanup runs
	Concurrency     int `mapstructure:"concurrency"`      // Max repositories polled at once
	RemoteTimeout   int `mapstructure:"remote_timeout"`   // Per-repository ls-remote timeout in seconds
}

// GitHubConfig holds optional GitHub API configuration used to enrich
// pull request notifications for github.com repositories.
type GitHubConfig struct {
	Token string `mapstructure:"token"`
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// Load reads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults. Keys with no natural default still get an empty one
	// so that environment-only values are picked up by Unmarshal.
	v.SetDefault("telegram.token", "")
	v.SetDefault("github.token", "")
	v.SetDefault("log.file", "")
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("database.path", "./data/bot.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("telegram.debug", false)
	v.SetDefault("poll.interval", 60)
	v.SetDefault("poll.cleanup_interval", 3600)
	v.SetDefault("poll.concurrency", 4)
	v.SetDefault("poll.remote_timeout", 30)

	// Read config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Read environment variables
	v.SetEnvPrefix("GITNOTIFY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks if all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Telegram.Token == "" {
		return fmt.Errorf("telegram token is required")
	}
	if c.Poll.Concurrency < 1 {
		return fmt.Errorf("poll concurrency must be at least 1")
	}
	return nil
}

// ServerAddress returns the full server address.
func (c *Config) ServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// PollInterval returns the poll interval as a duration, clamped to a
// minimum of 30 seconds to avoid hammering remote hosts.
func (c *Config) PollInterval() time.Duration {
	interval := time.Duration(c.Poll.Interval) * time.Second
	if interval < 30*time.Second {
		interval = 30 * time.Second
	}
	return interval
}

// CleanupInterval returns the orphan cleanup interval as a duration.
func (c *Config) CleanupInterval() time.Duration {
	return time.Duration(c.Poll.CleanupInterval) * time.Second
}

// RemoteTimeout returns the per-repository remote query timeout.
func (c *Config) RemoteTimeout() time.Duration {
	return time.Duration(c.Poll.RemoteTimeout) * time.Second
}
