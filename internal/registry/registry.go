// Package registry implements the hub's concurrent peer directory:
// insert/remove/lookup/rename/snapshot, all linearizable with respect to
// one another, as required by spec invariants I1–I4.
//
// The map itself is guarded by a sync.RWMutex rather than owned by a single
// actor goroutine (contrast the teacher's Hub, which mutates its clients map
// only from inside Hub.Run). The router needs synchronous lookup/snapshot
// access from arbitrary session goroutines, so the mutex-guarded shape —
// the same one the teacher uses for its on-disk user/message store — is the
// closer fit here.
package registry

import "sync"

// Writer is the outbound handle a session exposes to the registry. The
// registry holds only what routing needs: nothing here lets a caller
// mutate the peer's own state beyond enqueuing an outbound frame.
type Writer interface {
	// Enqueue attempts to hand payload to the peer's outbound pipeline.
	// It returns false if the peer is not currently accepting writes
	// (for example, its outbound queue is full) — the caller must not
	// block.
	Enqueue(payload []byte) bool
}

// Peer is the registry's view of a live peer. The session that owns the
// peer may write every field except Name, which is mutated only through
// Registry.Rename to preserve the broadcast invariant (I4's sibling: no
// observer ever sees a partially-renamed peer).
type Peer struct {
	ID   string
	Name string
	Conn Writer
}

// Registry is the hub's live peer directory.
type Registry struct {
	mu    sync.RWMutex
	peers map[string]*Peer
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{peers: make(map[string]*Peer)}
}

// Insert adds peer if its ID is not already present. Returns false on
// collision without mutating the registry.
func (r *Registry) Insert(peer *Peer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.peers[peer.ID]; exists {
		return false
	}
	r.peers[peer.ID] = peer
	return true
}

// Remove deletes id from the registry. Returns whether it was actually
// present — callers use this to guarantee at-most-once teardown (spec
// §4.4: "only if this returns removed do we proceed").
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.peers[id]; !exists {
		return false
	}
	delete(r.peers, id)
	return true
}

// Lookup returns the peer for id, or nil if absent. The returned *Peer is
// shared with the registry; callers must not mutate Name directly — use
// Rename.
func (r *Registry) Lookup(id string) *Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.peers[id]
}

// Rename atomically updates a peer's display name. Returns false if id is
// not present.
func (r *Registry) Rename(id, newName string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, exists := r.peers[id]
	if !exists {
		return false
	}
	p.Name = newName
	return true
}

// Snapshot returns an independent copy of every live peer's {id, name},
// excluding except if non-empty. Safe to iterate without further locking —
// it is a value, not a view into the registry's map.
func (r *Registry) Snapshot(except string) []Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Peer, 0, len(r.peers))
	for id, p := range r.peers {
		if id == except {
			continue
		}
		out = append(out, Peer{ID: p.ID, Name: p.Name})
	}
	return out
}

// Len returns the current number of live peers. Used by tests asserting
// P1 (|registry| == number of active sessions).
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

// Targets returns an independent slice of the live *Peer pointers (pointers
// into registry-owned state), excluding except if non-empty. Unlike
// Snapshot, this is for the router's internal use: it needs the Writer
// handle, not just {id, name}. The slice itself is a copy, safe to iterate
// without the registry's lock — individual Peer fields (e.g. Name) may
// still change concurrently, which is fine: the router reads only the
// Conn handle, never Name.
func (r *Registry) Targets(except string) []*Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Peer, 0, len(r.peers))
	for id, p := range r.peers {
		if id == except {
			continue
		}
		out = append(out, p)
	}
	return out
}
