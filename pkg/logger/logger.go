package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

var Log *slog.Logger

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Init installs the global text logger on stdout. An empty level falls back
// to CHATSYNC_LOG_LEVEL, then info.
func Init(level string) {
	if strings.TrimSpace(level) == "" {
		level = os.Getenv("CHATSYNC_LOG_LEVEL")
	}
	InitWriter(os.Stdout, level)
}

// InitWriter is Init with an explicit sink; tests use it to capture output.
func InitWriter(w io.Writer, level string) {
	Log = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: parseLevel(level)}))
}

func Debug(msg string, args ...any) {
	if Log == nil {
		return
	}
	Log.Debug(msg, args...)
}

func Info(msg string, args ...any) {
	if Log == nil {
		return
	}
	Log.Info(msg, args...)
}

func Warn(msg string, args ...any) {
	if Log == nil {
		return
	}
	Log.Warn(msg, args...)
}

func Error(msg string, args ...any) {
	if Log == nil {
		return
	}
	Log.Error(msg, args...)
}

// LogConfigSummary prints a compact block to stdout regardless of level so
// start-up settings stay visible.
func LogConfigSummary(title string, items []string) {
	if len(items) == 0 {
		return
	}
	header := "== " + strings.ReplaceAll(title, "_", " ") + " "
	const width = 60
	if len(header) < width {
		header += strings.Repeat("=", width-len(header))
	}
	fmt.Fprintln(os.Stdout, header)
	for _, it := range items {
		fmt.Fprintln(os.Stdout, "- "+it)
	}
	fmt.Fprintln(os.Stdout)
}
