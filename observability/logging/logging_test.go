package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestNewEmitsServiceFields(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, Options{Service: "presaled", Env: "test", Level: "warn"})
	logger.Info("dropped")
	logger.Warn("kept", "buyer", "0x01")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one line, got %d: %q", len(lines), buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if entry["message"] != "kept" || entry["severity"] != "WARN" || entry["service"] != "presaled" || entry["env"] != "test" {
		t.Fatalf("unexpected entry %v", entry)
	}
	if _, ok := entry["timestamp"]; !ok {
		t.Fatalf("timestamp missing: %v", entry)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":        slog.LevelInfo,
		"DEBUG":   slog.LevelDebug,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for raw, want := range cases {
		if got := ParseLevel(raw); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", raw, got, want)
		}
	}
}

func TestMaskFieldAndURL(t *testing.T) {
	if attr := MaskField("jwtSecret", "hunter2"); attr.Value.String() != RedactedValue {
		t.Fatalf("secret not masked: %v", attr)
	}
	if attr := MaskField("currency", "BNB"); attr.Value.String() != "BNB" {
		t.Fatalf("allowlisted key masked: %v", attr)
	}
	attr := MaskURL("dsn", "postgres://user:pass@db:5432/presale?sslmode=disable")
	if got := attr.Value.String(); strings.Contains(got, "pass") || strings.Contains(got, "sslmode") {
		t.Fatalf("credentials leaked: %s", got)
	}
	if attr := MaskURL("dsn", "not a url"); attr.Value.String() != RedactedValue {
		t.Fatalf("unparseable value not masked: %v", attr)
	}
}
