package logging

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"go.uber.org/multierr"
	"lautenbacher.net/regbus/config"
)

// holdWriter passes log output to a live target, or holds it back while
// a full screen view owns the terminal. A log file, if any, always gets
// every line.
type holdWriter struct {
	mu      sync.Mutex
	held    bytes.Buffer
	target  io.Writer
	file    *os.File
	holding bool
}

func (w *holdWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var err error
	switch {
	case w.holding:
		w.held.Write(p)
	case w.target != nil:
		_, err = w.target.Write(p)
	}
	if w.file != nil {
		_, ferr := w.file.Write(p)
		err = multierr.Append(err, ferr)
	}
	return len(p), err
}

var writer = &holdWriter{target: os.Stderr}

// ParseLevel maps a configured level name to a slog level. Unknown names
// fall back to INFO.
func ParseLevel(name string) slog.Level {
	switch strings.ToUpper(name) {
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

// Init installs the default slog logger as described by cfg. Console
// output goes to stderr until Hold is called.
func Init(cfg config.LoggingConfig) error {
	w := &holdWriter{target: os.Stderr}
	if cfg.File != "" {
		file, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
		if err != nil {
			return err
		}
		w.file = file
	}
	writer = w

	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}
	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	slog.SetDefault(slog.New(handler))
	return nil
}

// Release writes everything held back to target and continues live.
func Release(target io.Writer) error {
	writer.mu.Lock()
	defer writer.mu.Unlock()

	if writer.held.Len() > 0 {
		if _, err := target.Write(writer.held.Bytes()); err != nil {
			return err
		}
		writer.held.Reset()
	}
	writer.target = target
	writer.holding = false
	return nil
}

// Hold stops console output until the next Release.
func Hold() {
	writer.mu.Lock()
	defer writer.mu.Unlock()
	writer.holding = true
}

// Close closes the log file. Held lines already went to the file; without
// one they end up on stderr so nothing is lost at shutdown.
func Close() error {
	writer.mu.Lock()
	defer writer.mu.Unlock()

	var err error
	if writer.file == nil && writer.held.Len() > 0 {
		_, err = os.Stderr.Write(writer.held.Bytes())
	}
	writer.held.Reset()
	if writer.file != nil {
		err = multierr.Append(err, writer.file.Close())
		writer.file = nil
	}
	return err
}
