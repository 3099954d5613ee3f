package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestLevel(t *testing.T) {
	tests := []struct {
		name string
		want zerolog.Level
	}{
		{"trace", zerolog.TraceLevel},
		{"debug", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{" WARN ", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"verbose", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		if got := level(tt.name); got != tt.want {
			t.Errorf("level(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestNewWritesRotatedFile(t *testing.T) {
	dir := t.TempDir()

	log := New(Config{Level: "debug", Format: "json", Dir: dir, Filename: "run.log"})
	log.Info().Str("command", "tasks").Msg("started")
	if err := log.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "run.log"))
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !strings.Contains(string(data), `"command":"tasks"`) {
		t.Errorf("log file missing entry, got %q", data)
	}
}

func TestNewWithoutDirHasNoRotator(t *testing.T) {
	log := New(Config{Level: "info"})
	if log.rotator != nil {
		t.Error("rotator should not be opened without a directory")
	}
	if err := log.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
