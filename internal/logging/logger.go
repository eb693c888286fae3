package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const FileName = "rewardcraft.log"

// Logger appends timestamped lines to a log file so a build can be inspected
// after the terminal that ran it is gone. Component loggers share one sink.
type Logger struct {
	sink   *sink
	prefix string
}

type sink struct {
	mu  sync.Mutex
	w   io.Writer
	c   io.Closer
	now func() time.Time
}

// New creates (or reuses) the log file under dir.
func New(dir string) (*Logger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("logging: ensure log dir: %w", err)
	}
	path := filepath.Join(dir, FileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("logging: open log file: %w", err)
	}
	return &Logger{sink: &sink{w: f, c: f, now: time.Now}}, nil
}

// NewWriter logs to w; Close leaves w open.
func NewWriter(w io.Writer) *Logger {
	return &Logger{sink: &sink{w: w, now: time.Now}}
}

// With returns a logger that tags every line with [component].
func (l *Logger) With(component string) *Logger {
	if l == nil {
		return nil
	}
	return &Logger{sink: l.sink, prefix: "[" + component + "] "}
}

// Close releases the file handle.
func (l *Logger) Close() error {
	if l == nil || l.sink == nil || l.sink.c == nil {
		return nil
	}
	return l.sink.c.Close()
}

// Printf writes a single timestamped line.
func (l *Logger) Printf(format string, args ...any) {
	if l == nil || l.sink == nil {
		return
	}
	line := fmt.Sprintf(format, args...)
	line = strings.TrimRight(line, "\n")

	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	timestamp := l.sink.now().Format(time.RFC3339)
	fmt.Fprintf(l.sink.w, "[%s] %s%s\n", timestamp, l.prefix, line)
}
