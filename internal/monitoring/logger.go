// Package monitoring holds process-level logging helpers shared by the
// command-line tools.
package monitoring

import (
	"fmt"
	"io"
	"log"
	"strings"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Level selects how many of the ops/diag/trace log streams are enabled.
type Level int

const (
	LevelOps   Level = iota // actionable warnings and failures only
	LevelDiag               // plus state transitions and tuning context
	LevelTrace              // plus per-frame telemetry
)

// ParseLevel maps "ops", "diag" or "trace" (case-insensitive) to a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "ops":
		return LevelOps, nil
	case "diag":
		return LevelDiag, nil
	case "trace":
		return LevelTrace, nil
	}
	return LevelOps, fmt.Errorf("unknown log level %q (want ops, diag or trace)", s)
}

// StreamWriters returns the writers to hand to a package's SetLogWriters for
// the given level. Disabled streams are nil.
func StreamWriters(level Level, w io.Writer) (ops, diag, trace io.Writer) {
	ops = w
	if level >= LevelDiag {
		diag = w
	}
	if level >= LevelTrace {
		trace = w
	}
	return ops, diag, trace
}
