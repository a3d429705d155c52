package logging

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"lautenbacher.net/sdcart/config"
)

// teeWriter holds log output back while a TUI owns the terminal and
// copies every record to an optional log file.
type teeWriter struct {
	mu        sync.Mutex
	pending   bytes.Buffer
	target    io.Writer
	file      *os.File
	buffering bool
}

func (w *teeWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var firstErr error
	switch {
	case w.buffering:
		w.pending.Write(p)
	case w.target != nil:
		if _, err := w.target.Write(p); err != nil {
			firstErr = err
		}
	}
	if w.file != nil {
		if _, err := w.file.Write(p); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return len(p), firstErr
}

var writer = &teeWriter{target: os.Stderr}

// ParseLevel maps DEBUG, INFO, WARN and ERROR (any case) to a slog level.
// Anything else is INFO.
func ParseLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Init installs the default slog logger. With bufferOutput set nothing
// reaches stderr until SetOutput names a destination.
func Init(conf config.LoggingConfig, bufferOutput bool) error {
	w := &teeWriter{buffering: bufferOutput}
	if !bufferOutput {
		w.target = os.Stderr
	}
	if conf.File != "" {
		file, err := os.OpenFile(conf.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
		if err != nil {
			return fmt.Errorf("failed to open log file %s: %w", conf.File, err)
		}
		w.file = file
	}

	opts := &slog.HandlerOptions{Level: ParseLevel(conf.Level)}
	var handler slog.Handler
	if strings.ToLower(conf.Format) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	writer = w
	slog.SetDefault(slog.New(handler))
	return nil
}

// Component returns the default logger tagged with a component name.
func Component(name string) *slog.Logger {
	return slog.Default().With("component", name)
}

// SetOutput flushes everything held back to target and logs to it live
// from then on.
func SetOutput(target io.Writer) error {
	writer.mu.Lock()
	defer writer.mu.Unlock()

	if writer.pending.Len() > 0 {
		if _, err := target.Write(writer.pending.Bytes()); err != nil {
			return fmt.Errorf("failed to flush buffered log: %w", err)
		}
		writer.pending.Reset()
	}
	writer.target = target
	writer.buffering = false
	return nil
}

// BufferOutput detaches the live target and holds records back again.
func BufferOutput() {
	writer.mu.Lock()
	defer writer.mu.Unlock()

	writer.target = nil
	writer.buffering = true
}

// Close releases the log file. Records still held back go to stderr when
// there is no file that already has them.
func Close() error {
	writer.mu.Lock()
	defer writer.mu.Unlock()

	var firstErr error
	if writer.file != nil {
		if err := writer.file.Close(); err != nil {
			firstErr = err
		}
		writer.file = nil
	} else if writer.pending.Len() > 0 {
		if _, err := os.Stderr.Write(writer.pending.Bytes()); err != nil {
			firstErr = err
		}
	}
	writer.pending.Reset()
	writer.buffering = false
	writer.target = os.Stderr
	return firstErr
}
