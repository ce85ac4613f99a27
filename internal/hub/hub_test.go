package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"nhooyr.io/websocket"

	"signalhub/internal/signaling"
)

func testHub(t *testing.T) (*Hub, *httptest.Server, string) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := DefaultConfig()
	cfg.SignalingPath = "/api/signaling"
	h := New(cfg, log)
	srv := httptest.NewServer(h.Handler())
	t.Cleanup(srv.Close)
	wsURL := strings.Replace(srv.URL, "http", "ws", 1) + cfg.SignalingPath
	return h, srv, wsURL
}

func dial(t *testing.T, wsURL, name string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	full := wsURL + "?name=" + url.QueryEscape(name)
	conn, _, err := websocket.Dial(ctx, full, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", name, err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]json.RawMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var f map[string]json.RawMessage
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("unmarshal frame: %v (%s)", err, data)
	}
	return f
}

func frameType(t *testing.T, f map[string]json.RawMessage) string {
	t.Helper()
	var s string
	if err := json.Unmarshal(f["type"], &s); err != nil {
		t.Fatalf("frame missing/invalid type: %v", err)
	}
	return s
}

func frameStr(t *testing.T, f map[string]json.RawMessage, key string) string {
	t.Helper()
	raw, ok := f[key]
	if !ok {
		t.Fatalf("frame missing field %q: %v", key, f)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		t.Fatalf("field %q is not a string: %v", key, err)
	}
	return s
}

func send(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func expectNoFrame(t *testing.T, conn *websocket.Conn, wait time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()
	_, _, err := conn.Read(ctx)
	if err == nil {
		t.Fatal("expected no frame to arrive, but one did")
	}
}

// TestTwoPeerRoundTrip is spec scenario S1.
func TestTwoPeerRoundTrip(t *testing.T) {
	_, _, wsURL := testHub(t)

	alice := dial(t, wsURL, "Alice")
	aliceReg := readFrame(t, alice)
	if frameType(t, aliceReg) != "registered" {
		t.Fatalf("expected registered, got %v", aliceReg)
	}
	if frameStr(t, aliceReg, "yourName") != "Alice" {
		t.Fatalf("expected yourName Alice, got %v", aliceReg)
	}
	aliceID := frameStr(t, aliceReg, "peerId")

	bob := dial(t, wsURL, "Bob")
	bobReg := readFrame(t, bob)
	if frameType(t, bobReg) != "registered" {
		t.Fatalf("expected registered, got %v", bobReg)
	}
	bobID := frameStr(t, bobReg, "peerId")

	var peers []signaling.PeerInfo
	if err := json.Unmarshal(bobReg["peers"], &peers); err != nil {
		t.Fatalf("unmarshal peers: %v", err)
	}
	if len(peers) != 1 || peers[0].ID != aliceID || peers[0].Name != "Alice" {
		t.Fatalf("expected bob's registered snapshot to contain alice, got %+v", peers)
	}

	// Alice sees bob's arrival.
	arrival := readFrame(t, alice)
	if frameType(t, arrival) != "new-peer" {
		t.Fatalf("expected new-peer, got %v", arrival)
	}

	// Alice sends an offer to Bob.
	send(t, alice, map[string]any{"type": "offer", "to": bobID, "sdp": "X"})

	fwd := readFrame(t, bob)
	if frameType(t, fwd) != "offer" {
		t.Fatalf("expected offer, got %v", fwd)
	}
	if frameStr(t, fwd, "from") != aliceID {
		t.Fatalf("expected from=%s, got %v", aliceID, fwd)
	}
	if frameStr(t, fwd, "name") != "Alice" {
		t.Fatalf("expected name=Alice, got %v", fwd)
	}
	if frameStr(t, fwd, "sdp") != "X" {
		t.Fatalf("expected opaque sdp field preserved, got %v", fwd)
	}
}

// TestRenamePropagation is spec scenario S2.
func TestRenamePropagation(t *testing.T) {
	_, _, wsURL := testHub(t)

	alice := dial(t, wsURL, "Alice")
	readFrame(t, alice) // registered

	bob := dial(t, wsURL, "Bob")
	readFrame(t, bob)   // registered
	readFrame(t, alice) // new-peer(bob)

	send(t, alice, signaling.UpdateNamePayload{Type: signaling.TypeUpdateName, Name: "Alicia"})

	ack := readFrame(t, alice)
	if frameType(t, ack) != "name-updated-ack" || frameStr(t, ack, "name") != "Alicia" {
		t.Fatalf("expected name-updated-ack Alicia, got %v", ack)
	}

	update := readFrame(t, bob)
	if frameType(t, update) != "peer-name-updated" || frameStr(t, update, "name") != "Alicia" {
		t.Fatalf("expected peer-name-updated Alicia, got %v", update)
	}

	carol := dial(t, wsURL, "Carol")
	carolReg := readFrame(t, carol)
	var peers []signaling.PeerInfo
	json.Unmarshal(carolReg["peers"], &peers)
	found := false
	for _, p := range peers {
		if p.Name == "Alicia" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected carol's snapshot to show the renamed peer, got %+v", peers)
	}
}

// TestUnknownTarget is spec scenario S3.
func TestUnknownTarget(t *testing.T) {
	_, _, wsURL := testHub(t)

	alice := dial(t, wsURL, "Alice")
	readFrame(t, alice) // registered

	send(t, alice, map[string]any{"type": "offer", "to": "does-not-exist"})

	errFrame := readFrame(t, alice)
	if frameType(t, errFrame) != "error" {
		t.Fatalf("expected error frame, got %v", errFrame)
	}
	msg := frameStr(t, errFrame, "message")
	if !strings.Contains(msg, "does-not-exist") {
		t.Fatalf("expected error message to mention the target id, got %q", msg)
	}
}

// TestDepartureBroadcast is spec scenario S4.
func TestDepartureBroadcast(t *testing.T) {
	h, _, wsURL := testHub(t)

	alice := dial(t, wsURL, "Alice")
	aliceReg := readFrame(t, alice)
	aliceID := frameStr(t, aliceReg, "peerId")

	bob := dial(t, wsURL, "Bob")
	readFrame(t, bob)
	readFrame(t, alice) // new-peer(bob)

	alice.Close(websocket.StatusNormalClosure, "")

	departure := readFrame(t, bob)
	if frameType(t, departure) != "peer-disconnected" || frameStr(t, departure, "peerId") != aliceID {
		t.Fatalf("expected peer-disconnected for alice, got %v", departure)
	}

	deadline := time.Now().Add(2 * time.Second)
	for h.Registry().Lookup(aliceID) != nil && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	send(t, bob, map[string]any{"type": "get-peers"})
	list := readFrame(t, bob)
	if frameType(t, list) != "peer-list" {
		t.Fatalf("expected peer-list, got %v", list)
	}
	var peers []signaling.PeerInfo
	json.Unmarshal(list["peers"], &peers)
	for _, p := range peers {
		if p.ID == aliceID {
			t.Fatalf("expected alice to be absent from peer-list after departure, got %+v", peers)
		}
	}
}

// TestMalformedInput is spec scenario S5.
func TestMalformedInput(t *testing.T) {
	_, _, wsURL := testHub(t)

	alice := dial(t, wsURL, "Alice")
	readFrame(t, alice) // registered

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := alice.Write(ctx, websocket.MessageText, []byte("not-json")); err != nil {
		t.Fatalf("write raw bytes: %v", err)
	}

	errFrame := readFrame(t, alice)
	if frameType(t, errFrame) != "error" {
		t.Fatalf("expected error frame, got %v", errFrame)
	}

	// Session must remain active: a valid frame afterwards still works.
	send(t, alice, map[string]any{"type": "get-peers"})
	list := readFrame(t, alice)
	if frameType(t, list) != "peer-list" {
		t.Fatalf("expected peer-list after recovering from malformed input, got %v", list)
	}
}

// TestUnknownTypeIsNonFatal covers the "unknown type rejected at dispatch"
// requirement from spec §4.6.
func TestUnknownTypeIsNonFatal(t *testing.T) {
	_, _, wsURL := testHub(t)

	alice := dial(t, wsURL, "Alice")
	readFrame(t, alice)

	send(t, alice, map[string]any{"type": "teleport"})
	errFrame := readFrame(t, alice)
	if frameType(t, errFrame) != "error" {
		t.Fatalf("expected error frame for unknown type, got %v", errFrame)
	}

	// Session must remain active after the rejected frame.
	send(t, alice, map[string]any{"type": "get-peers"})
	list := readFrame(t, alice)
	if frameType(t, list) != "peer-list" {
		t.Fatalf("expected peer-list after an unknown type, got %v", list)
	}
}

// TestEmptyUpdateNameRejectedRegistryUntouched covers the invalid-name branch
// of update-name: an empty name yields an error frame and the registry keeps
// the peer's previous name.
func TestEmptyUpdateNameRejectedRegistryUntouched(t *testing.T) {
	h, _, wsURL := testHub(t)

	alice := dial(t, wsURL, "Alice")
	aliceReg := readFrame(t, alice)
	aliceID := frameStr(t, aliceReg, "peerId")

	send(t, alice, map[string]any{"type": "update-name", "name": ""})
	errFrame := readFrame(t, alice)
	if frameType(t, errFrame) != "error" {
		t.Fatalf("expected error frame for empty name, got %v", errFrame)
	}
	if got := h.Registry().Lookup(aliceID).Name; got != "Alice" {
		t.Fatalf("expected name to remain Alice after rejected rename, got %q", got)
	}
}

// TestShutdownDrainsAllSessions is a scaled-down version of spec scenario S6.
func TestShutdownDrainsAllSessions(t *testing.T) {
	h, _, wsURL := testHub(t)

	const n = 25
	conns := make([]*websocket.Conn, n)
	for i := 0; i < n; i++ {
		conns[i] = dial(t, wsURL, fmt.Sprintf("peer-%d", i))
		readFrame(t, conns[i]) // registered
	}

	deadline := time.Now().Add(2 * time.Second)
	for h.Registry().Len() != n && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := h.Registry().Len(); got != n {
		t.Fatalf("expected %d live peers before shutdown, got %d", n, got)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	if got := h.Registry().Len(); got != 0 {
		t.Fatalf("expected 0 live peers after shutdown, got %d", got)
	}
}

// TestConcurrentJoinsAssignUniqueIDs exercises P7 against the full hub.
func TestConcurrentJoinsAssignUniqueIDs(t *testing.T) {
	_, _, wsURL := testHub(t)

	const n = 30
	ids := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn := dial(t, wsURL, fmt.Sprintf("peer-%d", i))
			reg := readFrame(t, conn)
			ids <- frameStr(t, reg, "peerId")
		}(i)
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool)
	for id := range ids {
		if seen[id] {
			t.Fatalf("duplicate peer id assigned: %s", id)
		}
		seen[id] = true
	}
	if len(seen) != n {
		t.Fatalf("expected %d unique ids, got %d", n, len(seen))
	}
}

var _ = expectNoFrame // reserved for scenarios that assert silence
