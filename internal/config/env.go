package config

import (
	"fmt"
	"strconv"
)

// EnvPrefix prefixes every environment variable the loader reads.
const EnvPrefix = "TANDEM_"

type envSetting struct {
	path string
	set  func(c *Config, v string) error
}

func str(dst func(*Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error {
		*dst(c) = v
		return nil
	}
}

func integer(dst func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*dst(c) = n
		return nil
	}
}

func integer64(dst func(*Config) *int64) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return err
		}
		*dst(c) = n
		return nil
	}
}

func boolean(dst func(*Config) *bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*dst(c) = b
		return nil
	}
}

func duration(dst func(*Config) *Duration) func(*Config, string) error {
	return func(c *Config, v string) error {
		return dst(c).UnmarshalText([]byte(v))
	}
}

// envSettings maps TANDEM_* variables, without the prefix, to settings.
var envSettings = map[string]envSetting{
	"LINE_ENDING":        {"replica.line_ending", str(func(c *Config) *string { return &c.Replica.LineEnding })},
	"TAB_WIDTH":          {"replica.tab_width", integer(func(c *Config) *int { return &c.Replica.TabWidth })},
	"CONSISTENCY_CHECKS": {"replica.consistency_checks", boolean(func(c *Config) *bool { return &c.Replica.ConsistencyChecks })},

	"LOG_LEVEL":  {"logging.level", str(func(c *Config) *string { return &c.Logging.Level })},
	"LOG_PREFIX": {"logging.prefix", str(func(c *Config) *string { return &c.Logging.Prefix })},

	"HISTORY_MAX_ENTRIES": {"history.max_entries", integer(func(c *Config) *int { return &c.History.MaxEntries })},

	"SERVER_ADDR":              {"server.addr", str(func(c *Config) *string { return &c.Server.Addr })},
	"SERVER_WRITE_TIMEOUT":     {"server.write_timeout", duration(func(c *Config) *Duration { return &c.Server.WriteTimeout })},
	"SERVER_PING_INTERVAL":     {"server.ping_interval", duration(func(c *Config) *Duration { return &c.Server.PingInterval })},
	"SERVER_SHUTDOWN_TIMEOUT":  {"server.shutdown_timeout", duration(func(c *Config) *Duration { return &c.Server.ShutdownTimeout })},
	"SERVER_MAX_MESSAGE_BYTES": {"server.max_message_bytes", integer64(func(c *Config) *int64 { return &c.Server.MaxMessageBytes })},
	"SERVER_SEND_QUEUE":        {"server.send_queue", integer(func(c *Config) *int { return &c.Server.SendQueue })},
	"SERVER_POLICY_SCRIPT":     {"server.policy_script", str(func(c *Config) *string { return &c.Server.PolicyScript })},

	"REDIS_ENABLED":        {"redis.enabled", boolean(func(c *Config) *bool { return &c.Redis.Enabled })},
	"REDIS_ADDR":           {"redis.addr", str(func(c *Config) *string { return &c.Redis.Addr })},
	"REDIS_PASSWORD":       {"redis.password", str(func(c *Config) *string { return &c.Redis.Password })},
	"REDIS_DB":             {"redis.db", integer(func(c *Config) *int { return &c.Redis.DB })},
	"REDIS_CHANNEL_PREFIX": {"redis.channel_prefix", str(func(c *Config) *string { return &c.Redis.ChannelPrefix })},
}

// applyEnv overrides settings from the environment. Empty values count as
// set.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	for name, s := range envSettings {
		v, ok := lookup(EnvPrefix + name)
		if !ok {
			continue
		}
		if err := s.set(cfg, v); err != nil {
			return &ParseError{Path: EnvPrefix + name, Err: fmt.Errorf("%s: %w", s.path, err)}
		}
	}
	return nil
}
