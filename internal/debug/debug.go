// Package debug owns the process logger and the verbose/quiet switches.
package debug

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	charmLog "github.com/charmbracelet/log"
)

var (
	enabled     = os.Getenv("WITM_DEBUG") != ""
	verboseMode = false
	quietMode   = false

	loggerMu sync.Mutex
	logger   *charmLog.Logger
	output   io.Writer = os.Stderr
)

func Enabled() bool {
	return enabled || verboseMode
}

// SetVerbose enables verbose/debug output
func SetVerbose(verbose bool) {
	verboseMode = verbose
	applyLevel()
}

// SetQuiet enables quiet mode (suppress non-essential output)
func SetQuiet(quiet bool) {
	quietMode = quiet
	applyLevel()
}

// IsQuiet returns true if quiet mode is enabled
func IsQuiet() bool {
	return quietMode
}

// Level returns the log level implied by the current switches.
// Debug wins over quiet.
func Level() charmLog.Level {
	switch {
	case Enabled():
		return charmLog.DebugLevel
	case quietMode:
		return charmLog.WarnLevel
	default:
		return charmLog.InfoLevel
	}
}

// Logger returns the shared process logger, creating it on first use.
func Logger() *charmLog.Logger {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	if logger == nil {
		logger = New(output, "witm")
	}
	return logger
}

// SetOutput redirects the shared logger. Mostly for tests.
func SetOutput(w io.Writer) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	if w == nil {
		w = io.Discard
	}
	output = w
	logger = New(w, "witm")
}

// New builds a text logger at the current level.
func New(w io.Writer, prefix string) *charmLog.Logger {
	return charmLog.NewWithOptions(w, charmLog.Options{
		Level:           Level(),
		Prefix:          prefix,
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Formatter:       charmLog.TextFormatter,
	})
}

func applyLevel() {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	if logger != nil {
		logger.SetLevel(Level())
	}
}

func Logf(format string, args ...interface{}) {
	if enabled || verboseMode {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}

// PrintNormal prints output unless quiet mode is enabled
func PrintNormal(format string, args ...interface{}) {
	if !quietMode {
		fmt.Printf(format, args...)
	}
}

// PrintlnNormal prints a line unless quiet mode is enabled
func PrintlnNormal(args ...interface{}) {
	if !quietMode {
		fmt.Println(args...)
	}
}
