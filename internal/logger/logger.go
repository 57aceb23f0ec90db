// Package logger provides process-wide logging for debatepipe.
// Debug and Info messages are printed only in verbose mode (--verbose);
// warnings and errors are always printed. Output goes to stderr through
// zerolog, as console lines by default or JSON with --log-format json.
package logger

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Output formats accepted by SetFormat.
const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

var (
	mu      sync.RWMutex
	verbose bool
	format  string
	output  io.Writer
	sink    io.Writer
	zl      zerolog.Logger
)

func init() {
	format = FormatConsole
	output = os.Stderr
	rebuild()
}

// SetVerbose enables or disables verbose logging.
func SetVerbose(v bool) {
	mu.Lock()
	defer mu.Unlock()
	verbose = v
	rebuild()
}

// IsVerbose returns true if verbose mode is enabled.
func IsVerbose() bool {
	mu.RLock()
	defer mu.RUnlock()
	return verbose
}

// SetOutput sets the output writer. Defaults to os.Stderr.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	output = w
	rebuild()
}

// SetFormat switches between console and JSON output.
func SetFormat(f string) error {
	if f != FormatConsole && f != FormatJSON {
		return fmt.Errorf("unknown log format %q (want %s or %s)", f, FormatConsole, FormatJSON)
	}
	mu.Lock()
	defer mu.Unlock()
	format = f
	rebuild()
	return nil
}

// Debug prints a message if verbose mode is enabled.
func Debug(msg string, args ...any) {
	mu.RLock()
	defer mu.RUnlock()
	zl.Debug().Msgf(msg, args...)
}

// Info prints an informational message if verbose mode is enabled.
func Info(msg string, args ...any) {
	mu.RLock()
	defer mu.RUnlock()
	zl.Info().Msgf(msg, args...)
}

// Warn prints a warning message.
func Warn(msg string, args ...any) {
	mu.RLock()
	defer mu.RUnlock()
	zl.Warn().Msgf(msg, args...)
}

// Error prints an error message.
func Error(msg string, args ...any) {
	mu.RLock()
	defer mu.RUnlock()
	zl.Error().Msgf(msg, args...)
}

// Section prints a section header if verbose mode is enabled.
func Section(name string) {
	mu.RLock()
	defer mu.RUnlock()
	if !verbose {
		return
	}
	if format == FormatJSON {
		zl.Info().Str("section", name).Send()
		return
	}
	fmt.Fprintf(sink, "\n=== %s ===\n", name)
}

// Stage logs an event for a (document, stage) pair at info level.
func Stage(documentID, stage, msg string, args ...any) {
	mu.RLock()
	defer mu.RUnlock()
	zl.Info().Str("document", documentID).Str("stage", stage).Msgf(msg, args...)
}

// rebuild recreates the zerolog logger from the current settings (caller must hold lock).
func rebuild() {
	sink = zerolog.SyncWriter(output)

	level := zerolog.WarnLevel
	if verbose {
		level = zerolog.DebugLevel
	}

	var l zerolog.Logger
	if format == FormatJSON {
		l = zerolog.New(sink)
	} else {
		l = zerolog.New(zerolog.ConsoleWriter{Out: sink, NoColor: true, TimeFormat: time.TimeOnly})
	}
	zl = l.Level(level).With().Timestamp().Logger()
}
