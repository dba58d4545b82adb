package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

type Logger struct {
	*slog.Logger
}

// ProfileState is the per-profile view dumped by TrackerState.
type ProfileState struct {
	Name      string
	Exists    bool
	IsRunning bool
}

func New(logLevel string) *Logger {
	return NewWithWriter(logLevel, os.Stdout)
}

// NewWithWriter builds a JSON logger writing to w.
func NewWithWriter(logLevel string, w io.Writer) *Logger {
	opts := &slog.HandlerOptions{
		Level:     parseLogLevel(logLevel),
		AddSource: logLevel == "debug",
	}

	handler := slog.NewJSONHandler(w, opts)

	return &Logger{
		Logger: slog.New(handler),
	}
}

// Discard returns a logger that drops every record.
func Discard() *Logger {
	return NewWithWriter("error", io.Discard)
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ValidLevel reports whether level is one of the names parseLogLevel knows.
func ValidLevel(level string) bool {
	switch strings.ToLower(level) {
	case "debug", "info", "warn", "error":
		return true
	}
	return false
}

func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		Logger: l.Logger.With("component", component),
	}
}

func (l *Logger) WithFields(fields ...interface{}) *Logger {
	return &Logger{
		Logger: l.Logger.With(fields...),
	}
}

func (l *Logger) ProfileOperation(operation, profile string, duration int64, success bool) {
	l.Info("Profile operation completed",
		slog.String("operation", operation),
		slog.String("profile", profile),
		slog.Int64("duration_ms", duration),
		slog.Bool("success", success))
}

func (l *Logger) ActionStarted(action string, menu bool, mode string) {
	l.Info("Kill switch action started",
		slog.String("action", action),
		slog.Bool("menu", menu),
		slog.String("killswitch_mode", mode))
}

func (l *Logger) ActionCompleted(action string, duration int64, err error) {
	if err != nil {
		l.Error("Kill switch action failed",
			slog.String("action", action),
			slog.Int64("duration_ms", duration),
			slog.String("error", err.Error()))
		return
	}
	l.Info("Kill switch action completed",
		slog.String("action", action),
		slog.Int64("duration_ms", duration))
}

// TrackerState logs the full tracked state at error level.
func (l *Logger) TrackerState(states []ProfileState) {
	args := make([]interface{}, 0, len(states))
	for _, s := range states {
		args = append(args, slog.Group(s.Name,
			slog.Bool("exists", s.Exists),
			slog.Bool("is_running", s.IsRunning)))
	}
	l.Error("Interface state tracker", args...)
}

func (l *Logger) ConfigLoaded(file, mode string) {
	l.Info("Configuration loaded",
		slog.String("config_file", file),
		slog.String("killswitch_mode", mode))
}

func (l *Logger) Performance(operation string, metrics map[string]interface{}) {
	args := []interface{}{
		"operation", operation,
	}

	for k, v := range metrics {
		args = append(args, k, v)
	}

	l.Debug("performance metrics", args...)
}
