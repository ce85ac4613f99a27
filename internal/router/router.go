// Package router implements the hub's two delivery primitives on top of the
// registry: directed send and broadcast. Both snapshot the registry first
// and perform outbound writes outside of any lock, per spec §9's
// "snapshot then send" guidance — the teacher's Hub.Run broadcast case does
// the snapshot-then-send shape too, just inline inside its own select loop.
package router

import (
	"errors"
	"fmt"

	"signalhub/internal/registry"
)

// ErrNoSuchPeer is returned by SendTo when target-id names no live peer.
var ErrNoSuchPeer = errors.New("router: no such peer")

// ErrNotReady is returned by SendTo when the target peer exists but its
// outbound pipeline rejected the write (e.g. its outbound queue is full).
var ErrNotReady = errors.New("router: peer not ready")

// Router delivers payloads to peers tracked by a Registry.
type Router struct {
	reg *registry.Registry
}

// New returns a Router backed by reg.
func New(reg *registry.Registry) *Router {
	return &Router{reg: reg}
}

// SendTo looks up targetID and enqueues payload on its outbound pipeline.
// Returns ErrNoSuchPeer or ErrNotReady on failure; the caller (the
// originating session) is responsible for surfacing a structured error
// frame to its own peer.
func (r *Router) SendTo(targetID string, payload []byte) error {
	peer := r.reg.Lookup(targetID)
	if peer == nil {
		return fmt.Errorf("%w: %s", ErrNoSuchPeer, targetID)
	}
	if !peer.Conn.Enqueue(payload) {
		return fmt.Errorf("%w: %s", ErrNotReady, targetID)
	}
	return nil
}

// Broadcast enqueues payload to every live peer except except (pass ""
// to exclude no one). Per-peer enqueue failures are silently ignored — the
// target will be cleaned up by its own session; broadcast never fails as a
// whole.
func (r *Router) Broadcast(payload []byte, except string) {
	for _, peer := range r.reg.Targets(except) {
		peer.Conn.Enqueue(payload)
	}
}
