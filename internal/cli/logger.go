package cli

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	auth "github.com/resmoai/resmo-auth"
)

// Logger adapts slog to the printf style auth.Logger. Output goes to the
// given writer so command results on stdout stay clean.
type Logger struct {
	logger *slog.Logger
}

var _ auth.Logger = (*Logger)(nil)

// NewLogger creates a text logger at the named level.
func NewLogger(w io.Writer, level string) (*Logger, error) {
	var slogLevel slog.Level
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		slogLevel = slog.LevelDebug
	case "", "info":
		slogLevel = slog.LevelInfo
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		return nil, fmt.Errorf("invalid log level: %s", level)
	}

	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: slogLevel})
	return &Logger{logger: slog.New(handler)}, nil
}

func (l *Logger) Debug(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *Logger) Info(format string, args ...any) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *Logger) Warn(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *Logger) Error(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}
