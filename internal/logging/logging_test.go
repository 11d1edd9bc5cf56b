package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestNewWithWriter_TagsService(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, "orderflow-api", "debug")
	l.Debug("order created", "action", "order_create", "order_id", "o1")

	var rec map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("log line is not json: %v (%s)", err, buf.String())
	}
	if rec["service"] != "orderflow-api" {
		t.Fatalf("expected service tag, got %v", rec["service"])
	}
	if rec["action"] != "order_create" || rec["order_id"] != "o1" {
		t.Fatalf("missing attributes: %v", rec)
	}
}

func TestParseLevel(t *testing.T) {
	if ParseLevel("ERROR") != slog.LevelError {
		t.Fatalf("expected error level")
	}
	if ParseLevel("bogus") != slog.LevelInfo {
		t.Fatalf("expected info fallback")
	}
}
