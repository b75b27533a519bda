// Package gid recovers the calling goroutine's runtime-assigned id, the
// same well-known idiom the wider Go ecosystem's goroutine-id helpers use
// in the absence of any public goroutine-local storage API: parse the
// leading "goroutine N [...]:" line out of a runtime.Stack dump taken on
// the current goroutine.
//
// Both internal/fiber (keying its current-fiber registry) and
// internal/objpool (keying shard affinity) need a stable per-goroutine
// identity and would otherwise each hand-roll the same parse; this package
// exists purely to avoid that duplication.
package gid

import (
	"bytes"
	"runtime"
	"strconv"
)

// Current returns the calling goroutine's runtime id, or 0 if it could not
// be parsed (which should not happen on any supported Go runtime).
func Current() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	b := bytes.TrimPrefix(buf[:n], []byte("goroutine "))
	end := bytes.IndexByte(b, ' ')
	if end < 0 {
		return 0
	}
	id, err := strconv.ParseInt(string(b[:end]), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
