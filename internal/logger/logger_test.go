package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNewProductionIsJSON(t *testing.T) {
	var buf bytes.Buffer
	log, flush := New(&buf, false, "")
	defer flush()

	log.Debug("hidden")
	log.Info("visible")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1: %q", len(lines), buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("not JSON: %v", err)
	}
	if entry["msg"] != "visible" || entry["service"] != "filevault" {
		t.Errorf("entry = %v", entry)
	}
}

func TestNewDevelopmentLogsDebug(t *testing.T) {
	var buf bytes.Buffer
	log, _ := New(&buf, true, "")

	log.Debug("trace me")
	if !strings.Contains(buf.String(), "trace me") {
		t.Errorf("debug record missing: %q", buf.String())
	}
}

func TestNewInvalidSentryDSNFallsBack(t *testing.T) {
	var buf bytes.Buffer
	log, flush := New(&buf, false, "not a dsn")
	defer flush()

	log.Error("still logged")
	if !strings.Contains(buf.String(), "still logged") {
		t.Errorf("record missing: %q", buf.String())
	}
}
