// Package xlog is concur's structured-logging facade. It exists so that
// internal/pool, internal/reactor, internal/objpool, and internal/syncmap
// never import a logging backend directly: they log through the package-level
// functions here, and a caller of concur wires in a real sink (or leaves the
// no-op default) once, at process startup.
//
// The facade itself is a thin adapter over github.com/rs/zerolog rather than
// a hand-rolled formatter, in keeping with the rest of this toolkit's policy
// of reaching for a real third-party library over a bespoke one.
package xlog

import (
	"os"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Category tags a log line with the subsystem that emitted it, mirroring the
// teacher's LogEntry.Category convention ("timer", "promise", "microtask",
// "poll") with this toolkit's own subsystem names.
type Category string

const (
	CategoryPool    Category = "pool"
	CategorySteal   Category = "steal"
	CategoryPoll    Category = "poll"
	CategoryConn    Category = "conn"
	CategoryMap     Category = "map"
	CategoryObjPool Category = "objpool"
	CategoryFiber   Category = "fiber"
)

var (
	mu      sync.RWMutex
	logger  = zerolog.New(os.Stderr).Level(zerolog.Disabled)
	enabled atomic.Bool
)

// SetLogger installs the zerolog.Logger used for all subsequent log calls
// from concur's internal packages. Passing a disabled-level logger (the
// package default) silences output entirely with no formatting overhead.
func SetLogger(l zerolog.Logger) {
	mu.Lock()
	defer mu.Unlock()
	logger = l
	enabled.Store(l.GetLevel() != zerolog.Disabled)
}

func current() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// Enabled reports whether logging is currently configured above Disabled,
// letting hot paths skip field construction entirely when nobody is
// listening.
func Enabled() bool {
	return enabled.Load()
}

// Event returns a zerolog.Event for the given category and level, already
// tagged with "category". Callers chain fields and call Msg/Msgf as usual.
// It is always safe to call even when logging is disabled: zerolog's
// disabled event is a cheap no-op.
func Event(cat Category, level zerolog.Level) *zerolog.Event {
	return current().WithLevel(level).Str("category", string(cat))
}

// Debug is a convenience wrapper for Event(cat, zerolog.DebugLevel).
func Debug(cat Category) *zerolog.Event { return Event(cat, zerolog.DebugLevel) }

// Info is a convenience wrapper for Event(cat, zerolog.InfoLevel).
func Info(cat Category) *zerolog.Event { return Event(cat, zerolog.InfoLevel) }

// Warn is a convenience wrapper for Event(cat, zerolog.WarnLevel).
func Warn(cat Category) *zerolog.Event { return Event(cat, zerolog.WarnLevel) }

// Error is a convenience wrapper for Event(cat, zerolog.ErrorLevel).
func Error(cat Category) *zerolog.Event { return Event(cat, zerolog.ErrorLevel) }
