package logger

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestNewWritesStructuredLines(t *testing.T) {
	var buf bytes.Buffer
	log := Component(New(Config{Level: "debug", Output: &buf}), "chapter")
	log.Info().Str("key", "s:c").Msg("activated")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected JSON line, got %q: %v", buf.String(), err)
	}
	if line["service"] != "quill" || line["component"] != "chapter" || line["key"] != "s:c" {
		t.Fatalf("unexpected fields %v", line)
	}
	if line["message"] != "activated" {
		t.Fatalf("unexpected message %v", line["message"])
	}
}

func TestNewFiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "warn", Output: &buf})
	log.Info().Msg("hidden")
	if buf.Len() != 0 {
		t.Fatalf("info must be filtered at warn level, got %q", buf.String())
	}
	log.Warn().Msg("shown")
	if buf.Len() == 0 {
		t.Fatal("warn must be written")
	}
}

func TestNewDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "bogus", Output: &buf})
	log.Debug().Msg("hidden")
	if buf.Len() != 0 {
		t.Fatalf("debug must be filtered by default, got %q", buf.String())
	}
}
