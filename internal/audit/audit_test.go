package audit

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestSinkLogsSubmittedEvents(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))

	sink := NewSink(1, log)
	sink.Submit(Event{Kind: "join", PeerID: "p1", PeerName: "Alice"})
	sink.Stop()

	out := buf.String()
	if !strings.Contains(out, "kind=join") || !strings.Contains(out, "peer_id=p1") {
		t.Errorf("expected log output to mention the event, got: %s", out)
	}
}

func TestSinkSubmitNeverBlocks(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))

	// Zero workers: nothing ever drains the queue. Submit must still return
	// promptly once the bounded queue is full, rather than blocking forever.
	sink := NewSink(0, log)
	done := make(chan struct{})
	go func() {
		for i := 0; i < 2000; i++ {
			sink.Submit(Event{Kind: "join", PeerID: "p"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Submit blocked despite a full, undrained queue")
	}
}
