package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dshills/tandem/internal/engine/buffer"
	"github.com/dshills/tandem/internal/logging"
)

func noEnv(string) (string, bool) { return "", false }

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
}

func TestLoadTOML(t *testing.T) {
	path := writeFile(t, "tandem.toml", `
[replica]
line_ending = "crlf"
tab_width = 8

[logging]
level = "debug"

[server]
addr = "127.0.0.1:9000"
write_timeout = "2s"

[redis]
enabled = true
addr = "redis:6379"
`)
	cfg, err := load(path, noEnv)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LineEnding() != buffer.LineEndingCRLF || cfg.Replica.TabWidth != 8 {
		t.Errorf("replica = %+v", cfg.Replica)
	}
	if cfg.LogLevel() != logging.LogLevelDebug {
		t.Errorf("level = %v", cfg.LogLevel())
	}
	if cfg.Server.Addr != "127.0.0.1:9000" || cfg.Server.WriteTimeout.Duration != 2*time.Second {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Server.SendQueue != Default().Server.SendQueue {
		t.Error("unset keys should keep their defaults")
	}
	if !cfg.Redis.Enabled || cfg.Redis.Addr != "redis:6379" {
		t.Errorf("redis = %+v", cfg.Redis)
	}
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "tandem.yaml", `
history:
  max_entries: 50
server:
  ping_interval: 1m
`)
	cfg, err := load(path, noEnv)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.History.MaxEntries != 50 || cfg.Server.PingInterval.Duration != time.Minute {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		target  error
	}{
		{"unknown extension", "tandem.ini", "x=1", ErrUnsupportedFormat},
		{"unknown toml key", "tandem.toml", "[replica]\nwidth = 3\n", nil},
		{"bad yaml duration", "tandem.yml", "server:\n  write_timeout: soon\n", nil},
		{"invalid value", "tandem.toml", "[replica]\ntab_width = 0\n", ErrValidationFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := load(writeFile(t, tt.file, tt.content), noEnv)
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.target != nil && !errors.Is(err, tt.target) {
				t.Errorf("error = %v, want %v", err, tt.target)
			}
			var perr *ParseError
			if tt.target == nil && !errors.As(err, &perr) {
				t.Errorf("error = %v, want *ParseError", err)
			}
		})
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := load(filepath.Join(t.TempDir(), "absent.toml"), noEnv)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Addr != Default().Server.Addr {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeFile(t, "tandem.toml", "[logging]\nlevel = \"error\"\n")
	cfg, err := load(path, envMap(map[string]string{
		"TANDEM_LOG_LEVEL":            "warn",
		"TANDEM_REDIS_DB":             "3",
		"TANDEM_SERVER_WRITE_TIMEOUT": "750ms",
		"TANDEM_CONSISTENCY_CHECKS":   "true",
		"TANDEM_SERVER_POLICY_SCRIPT": "/etc/tandem/policy.lua",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Logging.Level != "warn" || cfg.Redis.DB != 3 || !cfg.Replica.ConsistencyChecks {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Server.WriteTimeout.Duration != 750*time.Millisecond {
		t.Errorf("write timeout = %v", cfg.Server.WriteTimeout)
	}
	if cfg.Server.PolicyScript != "/etc/tandem/policy.lua" {
		t.Errorf("policy script = %q", cfg.Server.PolicyScript)
	}

	_, err = load("", envMap(map[string]string{"TANDEM_TAB_WIDTH": "wide"}))
	var perr *ParseError
	if !errors.As(err, &perr) || perr.Path != "TANDEM_TAB_WIDTH" {
		t.Errorf("bad env value error = %v", err)
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.Replica.LineEnding = "unix"
	cfg.Logging.Level = "loud"
	cfg.Redis.Enabled = true
	cfg.Redis.Addr = ""

	err := cfg.Validate()
	for _, path := range []string{"replica.line_ending", "logging.level", "redis.addr"} {
		found := false
		for _, e := range err.(interface{ Unwrap() []error }).Unwrap() {
			var verr *ValidationError
			if errors.As(e, &verr) && verr.Path == path {
				found = true
			}
		}
		if !found {
			t.Errorf("missing validation error for %s in %v", path, err)
		}
	}
}

func TestWatcherReloads(t *testing.T) {
	path := writeFile(t, "tandem.toml", "[logging]\nlevel = \"info\"\n")
	initial, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	w, err := NewWatcher(path, initial, WithDebounce(10*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	changed := make(chan *Config, 4)
	w.OnChange(func(cfg *Config) { changed <- cfg })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	// An invalid edit is ignored.
	if err := os.WriteFile(path, []byte("[logging]\nlevel = \"loud\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)
	if w.Current() != initial {
		t.Fatal("invalid config replaced the current one")
	}

	if err := os.WriteFile(path, []byte("[logging]\nlevel = \"debug\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	select {
	case cfg := <-changed:
		if cfg.Logging.Level != "debug" {
			t.Errorf("reloaded level = %q", cfg.Logging.Level)
		}
		if w.Current() != cfg {
			t.Error("Current() not updated")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload observed")
	}
}
