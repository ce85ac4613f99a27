package router

import (
	"errors"
	"sync"
	"testing"

	"signalhub/internal/registry"
)

type fakeWriter struct {
	mu     sync.Mutex
	out    [][]byte
	accept bool
}

func newFakeWriter(accept bool) *fakeWriter { return &fakeWriter{accept: accept} }

func (w *fakeWriter) Enqueue(payload []byte) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.accept {
		return false
	}
	w.out = append(w.out, payload)
	return true
}

func (w *fakeWriter) received() [][]byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([][]byte(nil), w.out...)
}

func TestSendToDelivers(t *testing.T) {
	reg := registry.New()
	bob := newFakeWriter(true)
	reg.Insert(&registry.Peer{ID: "bob", Name: "Bob", Conn: bob})

	r := New(reg)
	if err := r.SendTo("bob", []byte("hello")); err != nil {
		t.Fatalf("SendTo: %v", err)
	}
	if got := bob.received(); len(got) != 1 || string(got[0]) != "hello" {
		t.Fatalf("expected bob to receive [hello], got %v", got)
	}
}

func TestSendToNoSuchPeer(t *testing.T) {
	r := New(registry.New())
	err := r.SendTo("ghost", []byte("x"))
	if !errors.Is(err, ErrNoSuchPeer) {
		t.Fatalf("expected ErrNoSuchPeer, got %v", err)
	}
}

func TestSendToNotReady(t *testing.T) {
	reg := registry.New()
	reg.Insert(&registry.Peer{ID: "bob", Name: "Bob", Conn: newFakeWriter(false)})

	r := New(reg)
	err := r.SendTo("bob", []byte("x"))
	if !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
}

func TestBroadcastExcludesSelfAndIgnoresFailures(t *testing.T) {
	reg := registry.New()
	alice := newFakeWriter(true)
	bob := newFakeWriter(true)
	deadPeer := newFakeWriter(false)
	reg.Insert(&registry.Peer{ID: "alice", Name: "Alice", Conn: alice})
	reg.Insert(&registry.Peer{ID: "bob", Name: "Bob", Conn: bob})
	reg.Insert(&registry.Peer{ID: "dead", Name: "Dead", Conn: deadPeer})

	r := New(reg)
	r.Broadcast([]byte("arrived"), "alice") // must not panic despite dead's failure

	if got := alice.received(); len(got) != 0 {
		t.Errorf("expected alice (excluded) to receive nothing, got %v", got)
	}
	if got := bob.received(); len(got) != 1 || string(got[0]) != "arrived" {
		t.Errorf("expected bob to receive [arrived], got %v", got)
	}
}
