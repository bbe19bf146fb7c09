package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// tbHandler writes every record at or above fileLevel to the log file as
//
//	<timestamp>\t<level>\t<opID>\t<message>\t<key=value ...>
//
// and records at or above consoleLevel to the console as
//
//	<level>: <message> key=value ...
//
// so warnings show up between the command's own output while the file keeps
// the full run.
type tbHandler struct {
	file         io.Writer
	console      io.Writer
	opID         string
	fileLevel    slog.Level
	consoleLevel slog.Level
	attrs        []slog.Attr
}

func (h *tbHandler) Enabled(_ context.Context, level slog.Level) bool {
	if level >= h.fileLevel && h.file != nil {
		return true
	}
	return level >= h.consoleLevel && h.console != nil
}

func (h *tbHandler) Handle(_ context.Context, r slog.Record) error {
	var attrs []string
	for _, a := range h.attrs {
		attrs = append(attrs, a.Key+"="+a.Value.String())
	}
	r.Attrs(func(a slog.Attr) bool {
		attrs = append(attrs, a.Key+"="+a.Value.String())
		return true
	})

	if h.file != nil && r.Level >= h.fileLevel {
		line := strings.Join([]string{r.Time.UTC().Format("2006-01-02T15:04:05Z"), r.Level.String(), h.opID, r.Message}, "\t")
		if len(attrs) > 0 {
			line += "\t" + strings.Join(attrs, "\t")
		}
		if _, err := fmt.Fprintln(h.file, line); err != nil {
			return err
		}
	}

	if h.console != nil && r.Level >= h.consoleLevel {
		line := strings.ToLower(r.Level.String()) + ": " + r.Message
		if len(attrs) > 0 {
			line += " " + strings.Join(attrs, " ")
		}
		if _, err := fmt.Fprintln(h.console, line); err != nil {
			return err
		}
	}
	return nil
}

func (h *tbHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &next
}

func (h *tbHandler) WithGroup(string) slog.Handler { return h }

// newLogger creates a logger writing to logDir/tb.log and console. The file
// gets info and above and the console warnings and above; verbose lowers
// both to debug. It returns the open log file for the caller to close.
func newLogger(logDir, opID string, console io.Writer, verbose bool) (*slog.Logger, *os.File, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, nil, fmt.Errorf("creating log directory: %w", err)
	}

	logPath := filepath.Join(logDir, "tb.log")
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}

	h := &tbHandler{
		file:         f,
		console:      console,
		opID:         opID,
		fileLevel:    slog.LevelInfo,
		consoleLevel: slog.LevelWarn,
	}
	if verbose {
		h.fileLevel, h.consoleLevel = slog.LevelDebug, slog.LevelDebug
	}
	return slog.New(h), f, nil
}

// slogAdapter wraps *slog.Logger to satisfy the tb.Logger interface.
type slogAdapter struct {
	l *slog.Logger
}

func (a *slogAdapter) Debug(msg string, args ...any) { a.l.Debug(msg, args...) }
func (a *slogAdapter) Info(msg string, args ...any)  { a.l.Info(msg, args...) }
func (a *slogAdapter) Warn(msg string, args ...any)  { a.l.Warn(msg, args...) }
func (a *slogAdapter) Error(msg string, args ...any) { a.l.Error(msg, args...) }
