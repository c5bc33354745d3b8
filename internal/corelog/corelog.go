// Package corelog provides leveled wrappers around log.Printf, in the
// bracketed-tag style used across this core's subsystems (e.g. "[router]",
// "[predictor]"), behind a single process-wide verbosity level set once from
// config/--log-level at startup. The subsystems call log.Printf directly, so
// the level gates only messages logged through this package's functions.
package corelog

import (
	"log"
	"strings"
	"sync/atomic"
)

type Level int32

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var current atomic.Int32

func init() {
	current.Store(int32(LevelInfo))
}

// SetLevel parses one of debug/info/warn/error (case-insensitive), defaulting
// to info on an unrecognized value.
func SetLevel(name string) {
	switch strings.ToLower(name) {
	case "debug":
		current.Store(int32(LevelDebug))
	case "warn", "warning":
		current.Store(int32(LevelWarn))
	case "error":
		current.Store(int32(LevelError))
	default:
		current.Store(int32(LevelInfo))
	}
}

func enabled(l Level) bool { return l >= Level(current.Load()) }

func Debugf(format string, args ...any) {
	if enabled(LevelDebug) {
		log.Printf(format, args...)
	}
}

func Infof(format string, args ...any) {
	if enabled(LevelInfo) {
		log.Printf(format, args...)
	}
}

func Warnf(format string, args ...any) {
	if enabled(LevelWarn) {
		log.Printf(format, args...)
	}
}

func Errorf(format string, args ...any) {
	if enabled(LevelError) {
		log.Printf(format, args...)
	}
}
