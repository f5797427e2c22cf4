package log

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"
)

func jsonRecord(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	line := strings.TrimSpace(buf.String())
	if i := strings.LastIndex(line, "\n"); i >= 0 {
		line = line[i+1:]
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(line), &m); err != nil {
		t.Fatalf("unmarshal log line %q: %v", line, err)
	}
	return m
}

func newTestLogger(t *testing.T, buf *bytes.Buffer, opts Options) Logger {
	t.Helper()
	opts.Writer = buf
	opts.JsonFormat = true
	l, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return l
}

// ParseLevel

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{" warn ", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if err != nil {
			t.Fatalf("ParseLevel(%q): %v", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseLevel_Invalid(t *testing.T) {
	if _, err := ParseLevel("verbose"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

// slog backend

func TestNew_BaseAttrs(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{App: "contentsync", Component: "syncer"})

	l.Info(context.Background(), "hello", "tab", "home")

	m := jsonRecord(t, &buf)
	if m["msg"] != "hello" {
		t.Fatalf("msg = %v, want hello", m["msg"])
	}
	if m["app"] != "contentsync" {
		t.Fatalf("app = %v", m["app"])
	}
	if m["component"] != "syncer" {
		t.Fatalf("component = %v", m["component"])
	}
	if m["tab"] != "home" {
		t.Fatalf("tab = %v", m["tab"])
	}
}

func TestNew_RespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{App: "test", Level: slog.LevelWarn})

	l.Info(context.Background(), "dropped")
	if buf.Len() != 0 {
		t.Fatalf("info should be filtered at warn level, got %q", buf.String())
	}
	l.Warn(context.Background(), "kept")
	if !strings.Contains(buf.String(), "kept") {
		t.Fatalf("warn missing: %q", buf.String())
	}
}

func TestError_AddsErrorFields(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{App: "test"})

	base := errors.New("connection refused")
	l.Error(context.Background(), fmt.Errorf("fetch tab home: %w", base), "sync failed")

	m := jsonRecord(t, &buf)
	if m["err"] == nil {
		t.Fatal("err field missing")
	}
	if m["cause_type"] != "*errors.errorString" {
		t.Fatalf("cause_type = %v", m["cause_type"])
	}
	if _, ok := m["error_chain"]; !ok {
		t.Fatal("error_chain missing for wrapped error")
	}
	if _, ok := m["stack"]; !ok {
		t.Fatal("stack missing at error level")
	}
}

func TestWith_CopyOnWrite(t *testing.T) {
	var buf bytes.Buffer
	parent := newTestLogger(t, &buf, Options{App: "test"})
	child := parent.With("scope", "colors")

	parent.Info(context.Background(), "parent")
	if strings.Contains(buf.String(), "colors") {
		t.Fatal("child attrs leaked into parent")
	}
	buf.Reset()
	child.Info(context.Background(), "child")
	if m := jsonRecord(t, &buf); m["scope"] != "colors" {
		t.Fatalf("scope = %v", m["scope"])
	}
}

// context / nop

func TestFromContext_Empty_ReturnsNop(t *testing.T) {
	l := FromContext(context.Background())
	if l == nil {
		t.Fatal("FromContext returned nil")
	}
	l.Error(context.Background(), errors.New("x"), "safe")
}

func TestFromContext_ReturnsStored(t *testing.T) {
	l := &nopLogger{}
	ctx := WithContext(context.Background(), l)
	if got := FromContext(ctx); got != l {
		t.Fatal("FromContext returned a different logger")
	}
}

func TestOrNop(t *testing.T) {
	if OrNop(nil) == nil {
		t.Fatal("OrNop(nil) returned nil")
	}
	l := Nop()
	if OrNop(l) != l {
		t.Fatal("OrNop should pass through non-nil loggers")
	}
}
