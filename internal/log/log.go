// Package log provides structured logging for go-duckiebot.
// It wraps slog with sensible defaults for on-vehicle use.
package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	logger *slog.Logger
	mu     sync.Mutex
	closer io.Closer
)

// Config controls the global logger.
type Config struct {
	// Level is one of "debug", "info", "warn", "error".
	Level string `yaml:"level" json:"level"`

	// Format is "text" or "json". Empty selects json when GO_ENV=production.
	Format string `yaml:"format" json:"format"`

	// File, when set, receives a copy of every record with size-based rotation.
	File       string `yaml:"file" json:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" json:"max_age_days"`
}

// DefaultConfig returns info-level text logging to stdout.
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		MaxSizeMB:  20,
		MaxBackups: 3,
		MaxAgeDays: 7,
	}
}

// Validate checks the logging configuration.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log: unknown level %q", c.Level)
	}
	switch c.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("log: format must be 'text' or 'json', got %q", c.Format)
	}
	if c.File != "" && c.MaxSizeMB <= 0 {
		return fmt.Errorf("log: max_size_mb must be positive when file is set")
	}
	return nil
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Init initializes the global logger with the specified level.
// Valid levels: "debug", "info", "warn", "error"
func Init(level string) {
	cfg := DefaultConfig()
	cfg.Level = level
	Setup(cfg)
}

// Setup (re)configures the global logger and makes it the slog default.
func Setup(cfg Config) {
	mu.Lock()
	defer mu.Unlock()

	if closer != nil {
		closer.Close()
		closer = nil
	}

	var out io.Writer = os.Stdout
	if cfg.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}
		closer = rotator
		out = io.MultiWriter(os.Stdout, rotator)
	}

	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	format := cfg.Format
	if format == "" && os.Getenv("GO_ENV") == "production" {
		format = "json"
	}

	if format == "json" {
		logger = slog.New(slog.NewJSONHandler(out, opts))
	} else {
		logger = slog.New(slog.NewTextHandler(out, opts))
	}

	slog.SetDefault(logger)
}

// Close flushes and closes the rotating log file, if any.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if closer == nil {
		return nil
	}
	err := closer.Close()
	closer = nil
	return err
}

// L returns the global logger instance.
func L() *slog.Logger {
	mu.Lock()
	l := logger
	mu.Unlock()
	if l == nil {
		Init("info")
		mu.Lock()
		l = logger
		mu.Unlock()
	}
	return l
}

// Component returns l, or the global logger when l is nil, tagged with a
// component attribute.
func Component(l *slog.Logger, name string) *slog.Logger {
	if l == nil {
		l = L()
	}
	return l.With("component", name)
}

// Debug logs at debug level.
func Debug(msg string, args ...any) {
	L().Debug(msg, args...)
}

// Info logs at info level.
func Info(msg string, args ...any) {
	L().Info(msg, args...)
}

// Warn logs at warn level.
func Warn(msg string, args ...any) {
	L().Warn(msg, args...)
}

// Error logs at error level.
func Error(msg string, args ...any) {
	L().Error(msg, args...)
}

// With returns a logger with the given attributes.
func With(args ...any) *slog.Logger {
	return L().With(args...)
}
