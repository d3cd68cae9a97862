package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/kingrea/cadence/internal/config"
)

// Logger appends timestamped lines to .cadence/logs/cadence.log so users
// can inspect failures after the terminal UI has closed. Printf serves
// line-oriented consumers; Slog serves structured ones. Both write to the
// same file.
type Logger struct {
	mu   sync.Mutex
	file *os.File
	slog *slog.Logger
}

// New creates (or reuses) the log file for the current project directory.
// The structured level comes from CADENCE_LOG_LEVEL (debug, info, warn,
// error), defaulting to info.
func New(projectDir string) (*Logger, error) {
	logDir := filepath.Join(projectDir, config.CadenceDir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("logging: ensure log dir: %w", err)
	}
	path := filepath.Join(logDir, "cadence.log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("logging: open log file: %w", err)
	}
	l := &Logger{file: f}
	handler := slog.NewTextHandler(lockedWriter{l}, &slog.HandlerOptions{Level: ParseLevel(os.Getenv("CADENCE_LOG_LEVEL"))})
	l.slog = slog.New(handler)
	return l, nil
}

// Discard returns a structured logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ParseLevel maps a level name to slog.Level; unknown names are info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
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

// Close releases the file handle.
func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	err := l.file.Close()
	l.file = nil
	return err
}

// Slog returns the structured logger writing to the same file.
func (l *Logger) Slog() *slog.Logger {
	if l == nil || l.slog == nil {
		return Discard()
	}
	return l.slog
}

// Printf writes a single timestamped line to the log file.
func (l *Logger) Printf(format string, args ...any) {
	if l == nil {
		return
	}
	line := fmt.Sprintf(format, args...)
	line = strings.TrimRight(line, "\n")
	timestamp := time.Now().Format(time.RFC3339)
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return
	}
	fmt.Fprintf(l.file, "[%s] %s\n", timestamp, line)
}

type lockedWriter struct{ l *Logger }

func (w lockedWriter) Write(p []byte) (int, error) {
	w.l.mu.Lock()
	defer w.l.mu.Unlock()
	if w.l.file == nil {
		return len(p), nil
	}
	return w.l.file.Write(p)
}
