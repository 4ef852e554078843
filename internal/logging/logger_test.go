package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":   Debug,
		"":        Info,
		"INFO":    Info,
		"warning": Warn,
		" error ": Error,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		if err != nil {
			t.Fatalf("ParseLevel(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestTextLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(Warn, Text, &buf)
	l.Info("hidden")
	l.Warn("shown", Field{Key: "key", Value: "zva_address"})

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info entry leaked through warn logger: %q", out)
	}
	if !strings.Contains(out, "[WARN] shown key=zva_address") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestSubsystemLevelOverride(t *testing.T) {
	var buf bytes.Buffer
	l := New(Debug, Text, &buf, WithSubsystemLevel("scpi", Warn))
	scpi := l.With(Subsystem("scpi"))

	scpi.Info("write", Field{Key: "cmd", Value: "*IDN?"})
	scpi.Error("timeout")
	l.Debug("model ready")

	out := buf.String()
	if strings.Contains(out, "*IDN?") {
		t.Fatalf("scpi info entry should be filtered: %q", out)
	}
	if !strings.Contains(out, "timeout") || !strings.Contains(out, "model ready") {
		t.Fatalf("expected error and unrelated debug entries, got %q", out)
	}
}

func TestJSONLoggerEncodesErrors(t *testing.T) {
	var buf bytes.Buffer
	l := New(Info, JSON, &buf)
	l.Error("load failed", Field{Key: "error", Value: errors.New("boom")})

	line := strings.TrimSpace(buf.String())
	idx := strings.Index(line, "{")
	if idx < 0 {
		t.Fatalf("no json payload in %q", line)
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(line[idx:]), &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload["error"] != "boom" || payload["level"] != "ERROR" {
		t.Fatalf("unexpected payload %v", payload)
	}
}
