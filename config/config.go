// Package config defines talkberry's client configuration and TOML
// loading.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the main configuration for a talkberry client.
type Config struct {
	Socket        SocketConfig        `toml:"socket"`
	Chain         ChainConfig         `toml:"chain"`
	Notifications NotificationsConfig `toml:"notifications"`
	Logging       LoggingConfig       `toml:"logging"`
	Metrics       MetricsConfig       `toml:"metrics"`
}

// SocketConfig describes the node's IPC endpoint.
type SocketConfig struct {
	// Path is the filesystem path of the node's unix-domain socket.
	// This is the only required setting.
	Path string `toml:"path"`

	// DialTimeout bounds socket connection establishment.
	DialTimeout Duration `toml:"dial_timeout"`

	// HandshakeTimeout bounds the protocol hello exchange.
	HandshakeTimeout Duration `toml:"handshake_timeout"`

	// MaxFrameSize is the largest accepted wire frame in bytes.
	MaxFrameSize uint32 `toml:"max_frame_size"`
}

// ChainConfig contains chain facade settings.
type ChainConfig struct {
	// BlockCacheSize is the number of immutable blocks cached by hash.
	// 0 disables the cache.
	BlockCacheSize int `toml:"block_cache_size"`
}

// NotificationsConfig contains notification engine settings.
type NotificationsConfig struct {
	// DispatchBuffer is the number of inbound pushes queued ahead of
	// handler dispatch before the session reader applies backpressure.
	DispatchBuffer int `toml:"dispatch_buffer"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is one of "debug", "info", "warn", "error".
	Level string `toml:"level"`

	// Format is "text" or "json".
	Format string `toml:"format"`
}

// MetricsConfig contains metrics configuration.
type MetricsConfig struct {
	// Enabled turns on Prometheus metrics collection.
	Enabled bool `toml:"enabled"`

	// Namespace is the Prometheus namespace prefix.
	Namespace string `toml:"namespace"`
}

// DefaultConfig returns a Config with sensible defaults. The socket path
// must still be set by the caller.
func DefaultConfig() *Config {
	return &Config{
		Socket: SocketConfig{
			DialTimeout:      Duration(5 * time.Second),
			HandshakeTimeout: Duration(10 * time.Second),
			MaxFrameSize:     16 << 20,
		},
		Chain: ChainConfig{
			BlockCacheSize: 128,
		},
		Notifications: NotificationsConfig{
			DispatchBuffer: 64,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled:   false,
			Namespace: "talkberry",
		},
	}
}

// Load reads a TOML config file, applying defaults for unset fields.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("loading config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config to a TOML file.
func (c *Config) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating config file: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(c); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Socket.Path == "" {
		return errors.New("socket.path is required")
	}
	if c.Socket.MaxFrameSize == 0 {
		return errors.New("socket.max_frame_size must be positive")
	}
	if c.Chain.BlockCacheSize < 0 {
		return errors.New("chain.block_cache_size cannot be negative")
	}
	if c.Notifications.DispatchBuffer < 1 {
		return errors.New("notifications.dispatch_buffer must be at least 1")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q is not one of text, json", c.Logging.Format)
	}
	return nil
}

// Duration is a time.Duration that marshals as a string in TOML.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler for Duration.
func (d *Duration) UnmarshalText(text []byte) error {
	duration, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(duration)
	return nil
}

// MarshalText implements encoding.TextMarshaler for Duration.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}
