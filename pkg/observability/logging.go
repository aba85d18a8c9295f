package observability

import (
	"log/slog"
	"os"
	"strings"
)

// NewLogger builds a JSON slog logger at the named level (DEBUG, INFO,
// WARN, ERROR; unknown levels fall back to INFO).
func NewLogger(level string) *slog.Logger {
	var l slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		l = slog.LevelDebug
	case "WARN":
		l = slog.LevelWarn
	case "ERROR":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
