// Package logger configures the process-wide zerolog output: console lines
// on stderr plus an optional rotated file under the data directory. Stdout
// is left to command output.
package logger

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Rotation bounds for the on-disk log. The file lives under the user's data
// directory, so history is kept short.
const (
	defaultFilename   = "panelctl.log"
	defaultMaxSizeMB  = 5
	defaultMaxBackups = 3
	defaultMaxAgeDays = 14
)

// Config describes where log lines go and how verbose they are.
type Config struct {
	Level      string
	Format     string // "console" or "json"
	Dir        string // directory for the rotated log file; empty disables file output
	Filename   string // file name inside Dir (default "panelctl.log")
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Logger owns the root zerolog instance and the rotated file, if any.
// Components derive their own loggers via With().Str("component", ...).
type Logger struct {
	zerolog.Logger
	rotator *lumberjack.Logger
}

// New builds the root logger from cfg.
func New(cfg Config) *Logger {
	var console io.Writer = zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	}
	if cfg.Format == "json" {
		console = os.Stderr
	}

	out := console
	var rotator *lumberjack.Logger
	if cfg.Dir != "" {
		if err := os.MkdirAll(cfg.Dir, 0o755); err == nil {
			rotator = fileWriter(cfg)
			out = io.MultiWriter(console, rotator)
		}
	}

	root := zerolog.New(out).Level(level(cfg.Level)).With().Timestamp().Logger()
	return &Logger{Logger: root, rotator: rotator}
}

// Close closes the rotated log file, if one was opened.
func (l *Logger) Close() error {
	if l.rotator == nil {
		return nil
	}
	return l.rotator.Close()
}

func fileWriter(cfg Config) *lumberjack.Logger {
	name := cfg.Filename
	if name == "" {
		name = defaultFilename
	}
	maxSize := cfg.MaxSizeMB
	if maxSize <= 0 {
		maxSize = defaultMaxSizeMB
	}
	maxBackups := cfg.MaxBackups
	if maxBackups <= 0 {
		maxBackups = defaultMaxBackups
	}
	maxAge := cfg.MaxAgeDays
	if maxAge <= 0 {
		maxAge = defaultMaxAgeDays
	}

	return &lumberjack.Logger{
		Filename:   filepath.Join(cfg.Dir, name),
		MaxSize:    maxSize,
		MaxBackups: maxBackups,
		MaxAge:     maxAge,
		Compress:   cfg.Compress,
		LocalTime:  true,
	}
}

// level maps a configured name onto a zerolog level. Unknown or empty names
// fall back to info.
func level(name string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(name)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}
