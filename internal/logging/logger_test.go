package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestLoggerWritesToConsole(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(Options{Console: &buf})
	l.Component("cache").Info().Str("ns", "dir").Msg("hit")

	out := buf.String()
	if !strings.Contains(out, "hit") {
		t.Errorf("Expected message in output, got %q", out)
	}
	if !strings.Contains(out, "cache") {
		t.Errorf("Expected component field in output, got %q", out)
	}
}

func TestLoggerWritesRotatingFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "docbrowse.log")

	l := NewLogger(Options{Console: &bytes.Buffer{}, File: file})
	l.Info().Msg("to file")
	if err := l.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(file)
	if err != nil {
		t.Fatalf("Expected log file: %v", err)
	}
	if !strings.Contains(string(data), `"message":"to file"`) {
		t.Errorf("Expected JSON line in file, got %q", string(data))
	}
}

func TestSetOutputRedirects(t *testing.T) {
	var first, second bytes.Buffer
	l := NewLogger(Options{Console: &first})
	l.SetOutput(&second)
	l.Warn().Msg("moved")

	if first.Len() != 0 {
		t.Error("Expected nothing on the original writer")
	}
	if !strings.Contains(second.String(), "moved") {
		t.Error("Expected message on the new writer")
	}
	if l.Output() != &second {
		t.Error("Expected Output to return the new writer")
	}
}

func TestParseLevel(t *testing.T) {
	if ParseLevel("debug") != zerolog.DebugLevel {
		t.Error("Expected debug level")
	}
	if ParseLevel(" WARN ") != zerolog.WarnLevel {
		t.Error("Expected warn level")
	}
	if ParseLevel("nonsense") != zerolog.InfoLevel {
		t.Error("Expected info fallback")
	}
	if ParseLevel("") != zerolog.InfoLevel {
		t.Error("Expected info for empty")
	}
}

func TestNopAndNilComponent(t *testing.T) {
	Nop().Error().Msg("discarded")
	var l *Logger
	l.Component("x").Info().Msg("discarded")
}
