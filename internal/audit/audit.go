// Package audit provides asynchronous, off-critical-path logging of peer
// lifecycle events. It exists so the hub's hot broadcast/route path is
// never blocked by log I/O — the same reason the teacher's server package
// runs message persistence through a worker pool instead of inline. Here
// the pool's payload is a lifecycle event, not chat content: nothing that
// passes through this package is read back by the hub, so it carries no
// durable state and no message history (spec's persistence Non-goal is
// untouched).
package audit

import (
	"context"
	"log/slog"
	"sync"
)

// Event describes a peer lifecycle transition worth logging.
type Event struct {
	Kind     string // "join", "rename" or "leave"; dropped outbound frames are not reported
	PeerID   string
	PeerName string
	Detail   string
}

// Sink asynchronously logs Events via a bounded pool of goroutines, so
// Submit never blocks the caller's hot path.
type Sink struct {
	jobs chan Event
	wg   sync.WaitGroup
	log  *slog.Logger
}

// NewSink starts n worker goroutines draining a bounded job queue into log.
func NewSink(n int, log *slog.Logger) *Sink {
	s := &Sink{
		jobs: make(chan Event, 1024),
		log:  log,
	}
	for i := 0; i < n; i++ {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for ev := range s.jobs {
				s.record(ev)
			}
		}()
	}
	return s
}

func (s *Sink) record(ev Event) {
	s.log.LogAttrs(context.Background(), slog.LevelInfo, "peer event",
		slog.String("kind", ev.Kind),
		slog.String("peer_id", ev.PeerID),
		slog.String("peer_name", ev.PeerName),
		slog.String("detail", ev.Detail),
	)
}

// Submit hands ev to the worker pool. Non-blocking: if the queue is full
// the event is dropped (and that drop itself is logged synchronously,
// since it is rare and worth knowing about immediately).
func (s *Sink) Submit(ev Event) {
	select {
	case s.jobs <- ev:
	default:
		s.log.Warn("audit queue full, dropping event", slog.String("kind", ev.Kind), slog.String("peer_id", ev.PeerID))
	}
}

// Stop drains remaining jobs and waits for all workers to exit.
func (s *Sink) Stop() {
	close(s.jobs)
	s.wg.Wait()
}
