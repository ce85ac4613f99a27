// Package session implements the per-connection state machine described in
// spec §4.4: opening → active → closing → closed. It owns one peer's socket
// and drives its inbound dispatch and outbound delivery.
//
// Grounded on the teacher's internal/server.Client: two cooperating
// goroutines (a reader blocking on the socket, a writer draining a buffered
// outbound channel), a mutex-guarded identity, and deferred, idempotent
// cleanup. The transport is nhooyr.io/websocket instead of a raw net.Conn,
// and dispatch targets are offer/answer/ice-candidate/get-peers/update-name
// instead of chat/search/history.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"signalhub/internal/audit"
	"signalhub/internal/ids"
	"signalhub/internal/registry"
	"signalhub/internal/router"
	"signalhub/internal/signaling"
)

// Config bundles the per-session resource limits spec §6/§7 name.
type Config struct {
	OutboundQueueDepth int
	WriteTimeout       time.Duration
	ReadIdleTimeout    time.Duration // 0 disables the idle check
}

// DefaultConfig matches the constants spec §9 recommends.
func DefaultConfig() Config {
	return Config{
		OutboundQueueDepth: 256,
		WriteTimeout:       10 * time.Second,
		ReadIdleTimeout:    5 * time.Minute,
	}
}

// Session owns one peer's socket, identity, and read/write pumps.
type Session struct {
	conn  *websocket.Conn
	reg   *registry.Registry
	rtr   *router.Router
	sink  *audit.Sink
	log   *slog.Logger
	cfg   Config

	id string // immutable after handshake

	nameMu sync.RWMutex
	name   string

	send chan []byte

	cancel       context.CancelFunc
	teardownOnce sync.Once
}

// New constructs a Session for an accepted, upgraded socket. requestedName
// is the raw (already percent-decoded) "name" query parameter; it may be
// empty. The session is not yet registered — call Run to perform the
// handshake and enter the active state.
func New(conn *websocket.Conn, requestedName string, reg *registry.Registry, rtr *router.Router, sink *audit.Sink, log *slog.Logger, cfg Config) *Session {
	return &Session{
		conn: conn,
		reg:  reg,
		rtr:  rtr,
		sink: sink,
		log:  log,
		cfg:  cfg,
		name: sanitizeName(requestedName),
		send: make(chan []byte, cfg.OutboundQueueDepth),
	}
}

func sanitizeName(raw string) string {
	name := strings.TrimSpace(raw)
	if len(name) > signaling.MaxNameLength {
		name = name[:signaling.MaxNameLength]
	}
	return name
}

// currentName returns the peer's display name under the read lock.
func (s *Session) currentName() string {
	s.nameMu.RLock()
	defer s.nameMu.RUnlock()
	return s.name
}

func (s *Session) setName(name string) {
	s.nameMu.Lock()
	s.name = name
	s.nameMu.Unlock()
}

// Enqueue implements registry.Writer. It never blocks: if the outbound
// queue is full, the payload is dropped and Enqueue returns false. It does
// not check whether the session is tearing down: once the writer has
// stopped, payloads are still accepted while the queue has room, and are
// never written.
func (s *Session) Enqueue(payload []byte) bool {
	select {
	case s.send <- payload:
		return true
	default:
		return false
	}
}

// Close signals the session to tear down, e.g. on hub shutdown. It is safe
// to call at any point in the session's lifetime, including more than once;
// called before Run has started, it has no effect.
func (s *Session) Close() {
	if s.cancel != nil {
		s.cancel()
	}
}

// Run performs the handshake and, on success, drives the session until the
// socket closes or errors, then tears down. It blocks until the session
// reaches the closed state.
func (s *Session) Run(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	s.cancel = cancel
	defer cancel()

	if err := s.handshake(ctx); err != nil {
		s.log.Warn("handshake failed", slog.String("error", err.Error()))
		s.conn.Close(websocket.StatusPolicyViolation, "handshake failed")
		return
	}

	go s.writePump(ctx)
	s.readLoop(ctx)
	s.teardown()
}

// handshake implements spec §4.4 steps 2–5 in order: generate id, insert,
// send registered, broadcast new-peer. A failure at any step leaves the
// session closed without a new-peer broadcast.
func (s *Session) handshake(ctx context.Context) error {
	id, err := ids.Retry(func(candidate string) bool {
		return s.reg.Lookup(candidate) != nil
	})
	if err != nil {
		return fmt.Errorf("session: assign id: %w", err)
	}
	s.id = id

	if s.currentName() == "" {
		s.setName(defaultName(id))
	}

	peer := &registry.Peer{ID: s.id, Name: s.currentName(), Conn: s}
	if !s.reg.Insert(peer) {
		return fmt.Errorf("session: id collision on insert: %s", s.id)
	}

	others := s.reg.Snapshot(s.id)
	registered := signaling.NewRegistered(s.id, s.currentName(), toPeerInfos(others))
	payload, err := json.Marshal(registered)
	if err != nil {
		s.reg.Remove(s.id)
		return fmt.Errorf("session: encode registered frame: %w", err)
	}
	// Sent directly (not via Enqueue) because the writer goroutine has not
	// started yet; the connection write happens before any other frame can
	// possibly reach this socket.
	wctx, wcancel := context.WithTimeout(ctx, s.cfg.WriteTimeout)
	err = s.conn.Write(wctx, websocket.MessageText, payload)
	wcancel()
	if err != nil {
		s.reg.Remove(s.id)
		return fmt.Errorf("session: write registered frame: %w", err)
	}

	arrival := signaling.NewNewPeerEvent(signaling.PeerInfo{ID: s.id, Name: s.currentName()})
	arrivalPayload, err := json.Marshal(arrival)
	if err != nil {
		s.reg.Remove(s.id)
		return fmt.Errorf("session: encode new-peer frame: %w", err)
	}
	s.rtr.Broadcast(arrivalPayload, s.id)

	s.sink.Submit(audit.Event{Kind: "join", PeerID: s.id, PeerName: s.currentName()})
	s.log.Info("peer joined", slog.String("peer_id", s.id), slog.String("peer_name", s.currentName()))
	return nil
}

func defaultName(id string) string {
	n := 6
	if len(id) < n {
		n = len(id)
	}
	return "peer-" + id[:n]
}

func toPeerInfos(peers []registry.Peer) []signaling.PeerInfo {
	out := make([]signaling.PeerInfo, len(peers))
	for i, p := range peers {
		out[i] = signaling.PeerInfo{ID: p.ID, Name: p.Name}
	}
	return out
}

// writePump drains the outbound queue and writes each payload to the
// socket under the configured write timeout. Any write failure tears the
// session down by cancelling ctx, which unblocks the reader's next Read.
func (s *Session) writePump(ctx context.Context) {
	for {
		select {
		case payload := <-s.send:
			wctx, cancel := context.WithTimeout(ctx, s.cfg.WriteTimeout)
			err := s.conn.Write(wctx, websocket.MessageText, payload)
			cancel()
			if err != nil {
				s.cancel()
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// readLoop reads frames until the socket closes, errors, or the configured
// idle timeout elapses. Each decoded frame is dispatched before the next
// read begins — in-flight messages are never queued (spec §3).
func (s *Session) readLoop(ctx context.Context) {
	for {
		readCtx := ctx
		var cancel context.CancelFunc
		if s.cfg.ReadIdleTimeout > 0 {
			readCtx, cancel = context.WithTimeout(ctx, s.cfg.ReadIdleTimeout)
		}
		_, data, err := s.conn.Read(readCtx)
		if cancel != nil {
			cancel()
		}
		if err != nil {
			return
		}
		s.dispatch(data)
	}
}

// dispatch decodes one inbound frame and routes it per spec §4.4. Parse
// failures and unknown types are non-fatal: the session stays active.
func (s *Session) dispatch(data []byte) {
	frame, err := signaling.DecodeRaw(data)
	if err != nil {
		s.sendError("Invalid message format.")
		return
	}

	typ, err := frame.Type()
	if err != nil {
		s.sendError("Invalid message format.")
		return
	}

	switch {
	case signaling.IsDirected(typ):
		s.dispatchDirected(frame)
	case typ == signaling.TypeGetPeers:
		s.handleGetPeers()
	case typ == signaling.TypeUpdateName:
		s.handleUpdateName(frame)
	default:
		s.sendError(fmt.Sprintf("unknown message type %q", typ))
	}
}

func (s *Session) dispatchDirected(frame signaling.RawFrame) {
	to, err := frame.String("to")
	if err != nil || to == "" {
		s.sendError("directed message requires a non-empty \"to\" field")
		return
	}

	annotated, err := frame.WithSender(s.id, s.currentName())
	if err != nil {
		s.sendError("failed to annotate message")
		return
	}
	payload, err := annotated.Encode()
	if err != nil {
		s.sendError("failed to encode message")
		return
	}

	if err := s.rtr.SendTo(to, payload); err != nil {
		s.sendError(fmt.Sprintf("Peer %s not available.", to))
	}
}

func (s *Session) handleGetPeers() {
	peers := s.reg.Snapshot(s.id)
	list := signaling.NewPeerList(toPeerInfos(peers))
	payload, err := json.Marshal(list)
	if err != nil {
		return
	}
	s.Enqueue(payload)
}

func (s *Session) handleUpdateName(frame signaling.RawFrame) {
	name, err := frame.String("name")
	if err != nil {
		s.sendError("update-name requires a \"name\" field")
		return
	}
	name = strings.TrimSpace(name)
	if name == "" {
		s.sendError("name must not be empty")
		return
	}
	if len(name) > signaling.MaxNameLength {
		name = name[:signaling.MaxNameLength]
	}

	if !s.reg.Rename(s.id, name) {
		// Rename on an absent id shouldn't happen from a live session;
		// spec §7 says ignore it.
		return
	}
	s.setName(name)

	event := signaling.NewPeerNameUpdatedEvent(s.id, name)
	eventPayload, err := json.Marshal(event)
	if err == nil {
		s.rtr.Broadcast(eventPayload, s.id)
	}

	ack := signaling.NewNameUpdatedAck(name)
	ackPayload, err := json.Marshal(ack)
	if err == nil {
		s.Enqueue(ackPayload)
	}

	s.sink.Submit(audit.Event{Kind: "rename", PeerID: s.id, PeerName: name})
}

func (s *Session) sendError(message string) {
	frame := signaling.NewErrorFrame(message)
	payload, err := json.Marshal(frame)
	if err != nil {
		return
	}
	s.Enqueue(payload)
}

// teardown implements spec §4.4's closing state: remove from the registry
// (only proceeding if this session actually performed the removal),
// broadcast peer-disconnected, then release the socket. Guaranteed to run
// at most once even if multiple paths call it concurrently.
func (s *Session) teardown() {
	s.teardownOnce.Do(func() {
		if s.reg.Remove(s.id) {
			event := signaling.NewPeerDisconnectedEvent(s.id)
			payload, err := json.Marshal(event)
			if err == nil {
				s.rtr.Broadcast(payload, s.id)
			}
			s.sink.Submit(audit.Event{Kind: "leave", PeerID: s.id, PeerName: s.currentName()})
			s.log.Info("peer left", slog.String("peer_id", s.id))
		}
		s.conn.Close(websocket.StatusNormalClosure, "")
	})
}
