// Command echoserver is a minimal driver wiring the reactor, the split
// map, and structured logging together: it echoes every request back to
// the sender, after bumping a single process-wide request counter (key
// "requests") kept in a syncmap.Map so the three subsystems exercise each
// other the way
// SPEC_FULL.md's package map intends.
package main

import (
	"context"
	"flag"
	"os"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/kestrelnet/concur/internal/reactor"
	"github.com/kestrelnet/concur/internal/syncmap"
	"github.com/kestrelnet/concur/internal/xlog"
)

func main() {
	port := flag.Int("port", 9000, "listen port")
	threads := flag.Int("threads", 8, "worker pool size")
	verbose := flag.Bool("v", false, "enable structured logging on stderr")
	flag.Parse()

	if *verbose {
		xlog.SetLogger(zerolog.New(os.Stderr).With().Timestamp().Logger())
	}

	var counter syncmap.Map[string, *atomic.Int64]

	srv, err := reactor.New(*port, func(req []byte) []byte {
		n, _ := counter.Load("requests")
		if n == nil {
			n = new(atomic.Int64)
			counter.Store("requests", n)
		}
		n.Add(1)
		return req
	}, reactor.WithThreads(*threads))
	if err != nil {
		xlog.Error(xlog.CategoryConn).Err(err).Msg("failed to start reactor")
		os.Exit(1)
	}
	defer srv.Close()

	// Serve's own self-pipe already turns a delivered SIGINT/SIGTERM into a
	// clean return, so a bare background context is enough here.
	if err := srv.Serve(context.Background()); err != nil {
		xlog.Error(xlog.CategoryConn).Err(err).Msg("reactor exited with error")
		os.Exit(1)
	}
}
