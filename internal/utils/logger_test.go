package utils

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"testing"
)

func captureLogger(t *testing.T, level LogLevel) (*Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	SetLogOutput(&buf)
	t.Cleanup(func() { SetLogOutput(os.Stdout) })
	return NewLogger("ledger", level), &buf
}

func TestLogger_WritesStructuredFields(t *testing.T) {
	logger, buf := captureLogger(t, Info)

	logger.Info("balance updated", "account", "acct-1", "amount", 12, "error", errors.New("boom"))

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v (%s)", err, buf.String())
	}
	if entry["component"] != "ledger" {
		t.Errorf("component = %v, want ledger", entry["component"])
	}
	if entry["message"] != "balance updated" {
		t.Errorf("message = %v, want 'balance updated'", entry["message"])
	}
	if entry["account"] != "acct-1" {
		t.Errorf("account = %v, want acct-1", entry["account"])
	}
	if entry["amount"] != float64(12) {
		t.Errorf("amount = %v, want 12", entry["amount"])
	}
	if entry["error"] != "boom" {
		t.Errorf("error = %v, want boom", entry["error"])
	}
	if entry["level"] != "info" {
		t.Errorf("level = %v, want info", entry["level"])
	}
}

func TestLogger_RespectsLevel(t *testing.T) {
	logger, buf := captureLogger(t, Warning)

	logger.Debug("hidden")
	logger.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("expected no output below warning, got %s", buf.String())
	}

	logger.Warn("shown")
	logger.Error("shown too")
	if lines := strings.Count(buf.String(), "\n"); lines != 2 {
		t.Errorf("expected 2 lines, got %d: %s", lines, buf.String())
	}

	buf.Reset()
	logger.SetLogLevel(Debug)
	logger.Debug("now visible")
	if !strings.Contains(buf.String(), "now visible") {
		t.Errorf("expected debug output after SetLogLevel, got %s", buf.String())
	}
}

func TestLogger_DropsDanglingKey(t *testing.T) {
	logger, buf := captureLogger(t, Info)

	logger.Info("odd keyvals", "key1", "v1", "dangling")

	if strings.Contains(buf.String(), "dangling") {
		t.Errorf("dangling key should be dropped: %s", buf.String())
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  LogLevel
	}{
		{"debug", Debug},
		{"INFO", Info},
		{"warn", Warning},
		{"warning", Warning},
		{"error", Error},
		{"fatal", Critical},
		{"", Warning},
		{"verbose", Warning},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ParseLogLevel(tt.input); got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}
