// Package logging provides the per-VM provisioning log. Every step writes
// full detail (commands, tool output, errors) to <workdir>/<name>.log;
// the terminal gets short status lines unless verbose mode mirrors the
// full log to stderr.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/logr/funcr"
)

// VMLog couples the structured logger with the short-status terminal output.
type VMLog struct {
	logr.Logger

	out     io.Writer
	path    string
	verbose bool
	file    *os.File
	sink    io.Writer
}

// Open creates or appends to the log file at path. With verbose set, every
// log line is mirrored to stderr in addition to the file.
func Open(path string, verbose bool) (*VMLog, error) {
	l := &VMLog{out: os.Stdout, path: path, verbose: verbose}
	if err := l.openFile(); err != nil {
		return nil, err
	}

	l.Logger = funcr.New(func(prefix, args string) {
		ts := time.Now().Format(time.RFC3339)
		if prefix != "" {
			fmt.Fprintf(l.sink, "%s %s: %s\n", ts, prefix, args)
			return
		}
		fmt.Fprintf(l.sink, "%s %s\n", ts, args)
	}, funcr.Options{})

	return l, nil
}

func (l *VMLog) openFile() error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file %s: %w", l.path, err)
	}
	l.file = f
	l.sink = f
	if l.verbose {
		l.sink = io.MultiWriter(f, os.Stderr)
	}
	return nil
}

// Reopen recreates the log file after its directory was deleted out from
// under it, as happens when an existing VM is torn down before being
// recreated. Without it, every later line would land on the unlinked inode
// and vanish. A no-op on a file-less log.
func (l *VMLog) Reopen() error {
	if l.file == nil {
		return nil
	}
	_ = l.file.Close()
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("failed to recreate log directory for %s: %w", l.path, err)
	}
	return l.openFile()
}

// Discard returns a log that drops everything. Used by tests.
func Discard() *VMLog {
	return &VMLog{Logger: logr.Discard(), out: io.Discard}
}

// Statusf prints a short status line for the operator and records it in
// the log as well.
func (l *VMLog) Statusf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(l.out, msg)
	l.Info(msg)
}

// Close flushes and closes the underlying log file.
func (l *VMLog) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}
