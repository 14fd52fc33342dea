package config

import (
	"errors"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dshills/tandem/internal/engine/buffer"
	"github.com/dshills/tandem/internal/logging"
)

// Config is the complete tandem configuration.
type Config struct {
	Replica ReplicaConfig `toml:"replica" yaml:"replica"`
	Logging LoggingConfig `toml:"logging" yaml:"logging"`
	History HistoryConfig `toml:"history" yaml:"history"`
	Server  ServerConfig  `toml:"server" yaml:"server"`
	Redis   RedisConfig   `toml:"redis" yaml:"redis"`
}

// ReplicaConfig configures each document replica.
type ReplicaConfig struct {
	// LineEnding is "lf", "crlf", "cr" or "preserve".
	LineEnding        string `toml:"line_ending" yaml:"line_ending"`
	TabWidth          int    `toml:"tab_width" yaml:"tab_width"`
	ConsistencyChecks bool   `toml:"consistency_checks" yaml:"consistency_checks"`
}

// LoggingConfig configures the logger.
type LoggingConfig struct {
	Level  string `toml:"level" yaml:"level"`
	Prefix string `toml:"prefix" yaml:"prefix"`
}

// HistoryConfig configures undo history.
type HistoryConfig struct {
	MaxEntries int `toml:"max_entries" yaml:"max_entries"`
}

// ServerConfig configures the collaboration server.
type ServerConfig struct {
	Addr            string   `toml:"addr" yaml:"addr"`
	WriteTimeout    Duration `toml:"write_timeout" yaml:"write_timeout"`
	PingInterval    Duration `toml:"ping_interval" yaml:"ping_interval"`
	ShutdownTimeout Duration `toml:"shutdown_timeout" yaml:"shutdown_timeout"`
	MaxMessageBytes int64    `toml:"max_message_bytes" yaml:"max_message_bytes"`
	SendQueue       int      `toml:"send_queue" yaml:"send_queue"`
	// PolicyScript is an optional Lua script vetting every edit peers send.
	PolicyScript string `toml:"policy_script" yaml:"policy_script"`
}

// RedisConfig configures cross-instance fan-out.
type RedisConfig struct {
	Enabled       bool   `toml:"enabled" yaml:"enabled"`
	Addr          string `toml:"addr" yaml:"addr"`
	Password      string `toml:"password" yaml:"password"`
	DB            int    `toml:"db" yaml:"db"`
	ChannelPrefix string `toml:"channel_prefix" yaml:"channel_prefix"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Replica: ReplicaConfig{
			LineEnding: "lf",
			TabWidth:   4,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Prefix: "tandem",
		},
		History: HistoryConfig{
			MaxEntries: 1000,
		},
		Server: ServerConfig{
			Addr:            ":7420",
			WriteTimeout:    Duration{10 * time.Second},
			PingInterval:    Duration{30 * time.Second},
			ShutdownTimeout: Duration{5 * time.Second},
			MaxMessageBytes: 1 << 20,
			SendQueue:       256,
		},
		Redis: RedisConfig{
			Addr:          "localhost:6379",
			ChannelPrefix: "tandem:doc:",
		},
	}
}

// Validate checks every setting and joins all failures.
func (c *Config) Validate() error {
	var errs []error
	bad := func(path, msg string, v any) {
		errs = append(errs, &ValidationError{Path: path, Message: msg, Value: v})
	}

	if _, err := buffer.ParseLineEnding(c.Replica.LineEnding); err != nil {
		bad("replica.line_ending", "must be lf, crlf, cr or preserve", c.Replica.LineEnding)
	}
	if c.Replica.TabWidth < 1 || c.Replica.TabWidth > 16 {
		bad("replica.tab_width", "must be between 1 and 16", c.Replica.TabWidth)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		bad("logging.level", "must be debug, info, warn or error", c.Logging.Level)
	}
	if c.History.MaxEntries < 1 {
		bad("history.max_entries", "must be positive", c.History.MaxEntries)
	}
	if c.Server.Addr == "" {
		bad("server.addr", "must not be empty", c.Server.Addr)
	}
	if c.Server.WriteTimeout.Duration <= 0 {
		bad("server.write_timeout", "must be positive", c.Server.WriteTimeout)
	}
	if c.Server.PingInterval.Duration <= 0 {
		bad("server.ping_interval", "must be positive", c.Server.PingInterval)
	}
	if c.Server.MaxMessageBytes < 1024 {
		bad("server.max_message_bytes", "must be at least 1024", c.Server.MaxMessageBytes)
	}
	if c.Server.SendQueue < 1 {
		bad("server.send_queue", "must be positive", c.Server.SendQueue)
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		bad("redis.addr", "required when redis is enabled", c.Redis.Addr)
	}
	return errors.Join(errs...)
}

// LineEnding returns the parsed replica line ending.
func (c *Config) LineEnding() buffer.LineEnding {
	le, _ := buffer.ParseLineEnding(c.Replica.LineEnding)
	return le
}

// LogLevel returns the parsed log level.
func (c *Config) LogLevel() logging.LogLevel {
	return logging.ParseLogLevel(c.Logging.Level)
}

// Duration is a time.Duration written as a string such as "30s".
type Duration struct {
	time.Duration
}

// UnmarshalText parses a duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText formats the duration.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalYAML parses a duration scalar.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be a scalar, got %v", node.Tag)
	}
	return d.UnmarshalText([]byte(node.Value))
}
