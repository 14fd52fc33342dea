package logging

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func newTestLogger(level LogLevel) (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	l := New(Config{Level: level, Output: &buf, Prefix: "test"})
	l.sink.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }
	return l, &buf
}

func TestLogLevel_String(t *testing.T) {
	tests := []struct {
		level    LogLevel
		expected string
	}{
		{LogLevelDebug, "DEBUG"},
		{LogLevelInfo, "INFO"},
		{LogLevelWarn, "WARN"},
		{LogLevelError, "ERROR"},
		{LogLevel(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := tt.level.String(); got != tt.expected {
			t.Errorf("LogLevel(%d).String() = %q, expected %q", tt.level, got, tt.expected)
		}
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected LogLevel
	}{
		{"debug", LogLevelDebug},
		{"DEBUG", LogLevelDebug},
		{"info", LogLevelInfo},
		{"Warning", LogLevelWarn},
		{"warn", LogLevelWarn},
		{"ERROR", LogLevelError},
		{"unknown", LogLevelInfo},
		{"", LogLevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLogLevel(tt.input); got != tt.expected {
			t.Errorf("ParseLogLevel(%q) = %v, expected %v", tt.input, got, tt.expected)
		}
	}
}

func TestLogger_Format(t *testing.T) {
	l, buf := newTestLogger(LogLevelDebug)
	l.WithFields(map[string]any{"replica": 3, "doc": "a"}).Info("applied %d ops", 2)

	want := "2024-01-02T03:04:05.000 [INFO] test: applied 2 ops {doc=a, replica=3}\n"
	if buf.String() != want {
		t.Errorf("got %q\nwant %q", buf.String(), want)
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	l, buf := newTestLogger(LogLevelWarn)
	l.Debug("hidden")
	l.Info("hidden")
	l.Warn("shown")
	l.Error("shown")

	if n := strings.Count(buf.String(), "\n"); n != 2 {
		t.Errorf("wrote %d lines, want 2:\n%s", n, buf.String())
	}
	if strings.Contains(buf.String(), "hidden") {
		t.Error("filtered message was written")
	}
}

func TestLogger_SetLevelReachesChildren(t *testing.T) {
	l, buf := newTestLogger(LogLevelInfo)
	child := l.WithComponent("engine")

	child.Debug("before")
	l.SetLevel(LogLevelDebug)
	child.Debug("after")

	if strings.Contains(buf.String(), "before") {
		t.Error("debug message logged before level change")
	}
	if !strings.Contains(buf.String(), "after {component=engine}") {
		t.Errorf("child did not pick up new level: %q", buf.String())
	}
}

func TestLogger_WithFieldDoesNotMutateParent(t *testing.T) {
	l, buf := newTestLogger(LogLevelInfo)
	_ = l.WithField("k", "v")
	l.Info("plain")
	if strings.Contains(buf.String(), "k=v") {
		t.Errorf("parent picked up child field: %q", buf.String())
	}
}

func TestLogger_Disable(t *testing.T) {
	l, buf := newTestLogger(LogLevelDebug)
	l.Disable()
	l.Error("nothing")
	if buf.Len() != 0 {
		t.Errorf("disabled logger wrote %q", buf.String())
	}
	l.Enable()
	l.Error("something")
	if buf.Len() == 0 {
		t.Error("re-enabled logger wrote nothing")
	}
}

func TestNewNull(t *testing.T) {
	l := NewNull()
	if l.Enabled(LogLevelError) {
		t.Error("null logger should be disabled")
	}
	l.Error("ignored")
}

func TestDefault(t *testing.T) {
	if Default() == nil {
		t.Fatal("Default() returned nil")
	}
	l, _ := newTestLogger(LogLevelError)
	prev := Default()
	SetDefault(l)
	defer SetDefault(prev)
	if Default() != l {
		t.Error("SetDefault did not replace the default logger")
	}
}
