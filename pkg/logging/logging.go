// Package logging provides a small leveled wrapper around the standard
// library logger, driven by --log-level / MULTISOCKS_LOG_LEVEL.
package logging

import (
	"log"
	"os"
	"strings"
	"sync/atomic"
)

type Level int32

const (
	Error Level = iota
	Warn
	Info
	Debug
	Trace
)

var current Level = Info

// colorEnabled controls whether Warnf/Errorf wrap their output in ANSI
// color codes. SetInteractive turns it on only when the destination is a
// real terminal, so piped/redirected output stays plain and parseable.
var colorEnabled int32

const (
	ansiYellow = "\x1b[33m"
	ansiRed    = "\x1b[31m"
	ansiReset  = "\x1b[0m"
)

// SetInteractive configures output formatting for an interactive terminal
// versus a redirected/piped destination: an interactive terminal gets a
// short time-only timestamp and colored warning/error prefixes, while a
// non-interactive one gets a full date+time stamp and no color codes so
// downstream log tooling isn't confused by escape sequences.
func SetInteractive(interactive bool) {
	if interactive {
		log.SetFlags(log.Ltime)
		atomic.StoreInt32(&colorEnabled, 1)
	} else {
		log.SetFlags(log.Ldate | log.Ltime | log.LUTC)
		atomic.StoreInt32(&colorEnabled, 0)
	}
}

func SetLevelFromString(s string) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		atomic.StoreInt32((*int32)(&current), int32(Trace))
	case "debug":
		atomic.StoreInt32((*int32)(&current), int32(Debug))
	case "info", "":
		atomic.StoreInt32((*int32)(&current), int32(Info))
	case "warn", "warning":
		atomic.StoreInt32((*int32)(&current), int32(Warn))
	case "error", "err":
		atomic.StoreInt32((*int32)(&current), int32(Error))
	default:
		// Unknown -> keep current level
	}
}

func SetQuiet(quiet bool) {
	if quiet {
		atomic.StoreInt32((*int32)(&current), int32(Error))
	}
}

func Enabled(l Level) bool {
	return l <= Level(atomic.LoadInt32((*int32)(&current)))
}

func Tracef(format string, args ...any) {
	if Enabled(Trace) {
		log.Printf(format, args...)
	}
}

func Debugf(format string, args ...any) {
	if Enabled(Debug) {
		log.Printf(format, args...)
	}
}

func Infof(format string, args ...any) {
	if Enabled(Info) {
		log.Printf(format, args...)
	}
}

func Warnf(format string, args ...any) {
	if Enabled(Warn) {
		log.Printf(colorize(ansiYellow, format), args...)
	}
}

func Errorf(format string, args ...any) {
	if Enabled(Error) {
		log.Printf(colorize(ansiRed, format), args...)
	}
}

func colorize(color, format string) string {
	if atomic.LoadInt32(&colorEnabled) == 0 {
		return format
	}
	return color + format + ansiReset
}

// InitFromEnv allows setting level via env var MULTISOCKS_LOG_LEVEL and
// quiet mode via MULTISOCKS_QUIET.
func InitFromEnv() {
	if v := os.Getenv("MULTISOCKS_LOG_LEVEL"); v != "" {
		SetLevelFromString(v)
	}
	if os.Getenv("MULTISOCKS_QUIET") == "1" || strings.EqualFold(os.Getenv("MULTISOCKS_QUIET"), "true") {
		SetQuiet(true)
	}
}
