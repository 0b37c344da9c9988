package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func newBufferLogger(level string, jsonFormat bool) (*Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	l := New(&Config{Level: level, Component: "test", JSONFormat: jsonFormat})
	l.output = buf
	return l, buf
}

// TestSetDefaultSticks verifies an installed default survives later
// Default() calls
func TestSetDefaultSticks(t *testing.T) {
	installed := New(&Config{Level: "DEBUG", Component: "wired"})
	SetDefault(installed)

	if Default() != installed {
		t.Error("Default() should return the installed logger")
	}
	if Default() != installed {
		t.Error("Repeated Default() calls should return the installed logger")
	}
}

// TestLevelFiltering verifies entries below the configured level are dropped
func TestLevelFiltering(t *testing.T) {
	l, buf := newBufferLogger("WARN", false)

	l.Debug("dropped")
	l.Info("dropped")
	l.Warn("kept")

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Errorf("Sub-level entries should be filtered: %q", out)
	}
	if !strings.Contains(out, "kept") {
		t.Errorf("WARN entry should be written: %q", out)
	}
}

// TestJSONStructuredFields verifies key-value args land in the fields map
func TestJSONStructuredFields(t *testing.T) {
	l, buf := newBufferLogger("INFO", true)

	l.Info("seeded", "symbols", 42)

	var entry LogEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Output should be valid JSON: %v", err)
	}
	if entry.Message != "seeded" || entry.Component != "test" {
		t.Errorf("Unexpected entry %+v", entry)
	}
	if got, ok := entry.Fields["symbols"]; !ok || got != float64(42) {
		t.Errorf("Expected symbols field 42, got %v", entry.Fields)
	}
}

// TestPrintfStyleArgs verifies odd arg counts format into the message
func TestPrintfStyleArgs(t *testing.T) {
	l, buf := newBufferLogger("INFO", true)

	l.Info("seeded %d symbols", 42)

	var entry LogEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Output should be valid JSON: %v", err)
	}
	if entry.Message != "seeded 42 symbols" {
		t.Errorf("Expected formatted message, got %q", entry.Message)
	}
}

// TestParseLevelFallback verifies unknown strings default to INFO
func TestParseLevelFallback(t *testing.T) {
	if got := ParseLevel("verbose"); got != INFO {
		t.Errorf("Unknown level should parse as INFO, got %v", got)
	}
	if got := ParseLevel("warning"); got != WARN {
		t.Errorf("warning should parse as WARN, got %v", got)
	}
}
