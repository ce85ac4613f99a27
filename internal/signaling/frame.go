// Package signaling defines the wire vocabulary exchanged between peers and
// the hub: a self-describing, type-discriminated, single-line JSON record
// per frame (see the teacher's internal/protocol for the discriminated-
// envelope idiom this generalizes).
package signaling

import (
	"encoding/json"
	"fmt"
)

// MaxFrameSize bounds the size of any single encoded frame. Frames larger
// than this are rejected by the codec before they reach dispatch.
const MaxFrameSize = 64 * 1024

// MaxNameLength bounds a display name's length.
const MaxNameLength = 64

// Type identifies the kind of frame.
type Type string

const (
	// Peer → hub
	TypeOffer        Type = "offer"
	TypeAnswer       Type = "answer"
	TypeICECandidate Type = "ice-candidate"
	TypeGetPeers     Type = "get-peers"
	TypeUpdateName   Type = "update-name"

	// Hub → peer
	TypeRegistered       Type = "registered"
	TypePeerList         Type = "peer-list"
	TypeNewPeer          Type = "new-peer"
	TypePeerDisconnected Type = "peer-disconnected"
	TypePeerNameUpdated  Type = "peer-name-updated"
	TypeNameUpdatedAck   Type = "name-updated-ack"
	TypeError            Type = "error"
)

// directedTypes are the peer→hub frame types routed to exactly one target
// instead of dispatched locally.
var directedTypes = map[Type]bool{
	TypeOffer:        true,
	TypeAnswer:       true,
	TypeICECandidate: true,
}

// IsDirected reports whether t names a directed (to-addressed) frame type.
func IsDirected(t Type) bool { return directedTypes[t] }

// PeerInfo is the {id, name} pair used in roster frames.
type PeerInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// RawFrame is the opaque, field-preserving representation used for directed
// frames. The hub only ever reads "type" and "to" out of a RawFrame and only
// ever writes "from" and "name" into one — every other key's raw bytes pass
// through untouched, satisfying the "never inspect opaque payload fields"
// invariant.
type RawFrame map[string]json.RawMessage

// DecodeRaw parses line as a RawFrame, rejecting frames over MaxFrameSize.
func DecodeRaw(line []byte) (RawFrame, error) {
	if len(line) > MaxFrameSize {
		return nil, fmt.Errorf("signaling: frame exceeds %d bytes", MaxFrameSize)
	}
	var f RawFrame
	if err := json.Unmarshal(line, &f); err != nil {
		return nil, fmt.Errorf("signaling: decode: %w", err)
	}
	return f, nil
}

// Type returns the frame's "type" field.
func (f RawFrame) Type() (Type, error) {
	raw, ok := f["type"]
	if !ok {
		return "", fmt.Errorf("signaling: missing %q field", "type")
	}
	var t string
	if err := json.Unmarshal(raw, &t); err != nil {
		return "", fmt.Errorf("signaling: %q field is not a string: %w", "type", err)
	}
	return Type(t), nil
}

// String returns the string value of field key, or an error if absent or
// not a JSON string.
func (f RawFrame) String(key string) (string, error) {
	raw, ok := f[key]
	if !ok {
		return "", fmt.Errorf("signaling: missing %q field", key)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("signaling: %q field is not a string: %w", key, err)
	}
	return s, nil
}

// WithSender returns a copy of f with "from" and "name" set, leaving every
// other field's raw bytes untouched. Used by the session to annotate directed
// frames before handing them to the router (spec: "adds exactly two fields and forwards").
func (f RawFrame) WithSender(fromID, fromName string) (RawFrame, error) {
	out := make(RawFrame, len(f)+2)
	for k, v := range f {
		out[k] = v
	}
	fromRaw, err := json.Marshal(fromID)
	if err != nil {
		return nil, err
	}
	nameRaw, err := json.Marshal(fromName)
	if err != nil {
		return nil, err
	}
	out["from"] = fromRaw
	out["name"] = nameRaw
	return out, nil
}

// Encode marshals f to its wire bytes (no trailing newline).
func (f RawFrame) Encode() ([]byte, error) {
	return json.Marshal(f)
}

// ---------------------------------------------------------------------------
// Hub → peer control frames: fully typed, since the hub constructs these
// itself and never needs to preserve unknown fields.
// ---------------------------------------------------------------------------

// Registered is sent once, first, after a successful handshake.
type Registered struct {
	Type     Type       `json:"type"`
	PeerID   string     `json:"peerId"`
	YourName string     `json:"yourName"`
	Peers    []PeerInfo `json:"peers"`
}

func NewRegistered(peerID, yourName string, peers []PeerInfo) Registered {
	return Registered{Type: TypeRegistered, PeerID: peerID, YourName: yourName, Peers: peers}
}

// PeerList replies to get-peers.
type PeerList struct {
	Type  Type       `json:"type"`
	Peers []PeerInfo `json:"peers"`
}

func NewPeerList(peers []PeerInfo) PeerList {
	return PeerList{Type: TypePeerList, Peers: peers}
}

// NewPeerEvent is broadcast on arrival.
type NewPeerEvent struct {
	Type Type     `json:"type"`
	Peer PeerInfo `json:"peer"`
}

func NewNewPeerEvent(peer PeerInfo) NewPeerEvent {
	return NewPeerEvent{Type: TypeNewPeer, Peer: peer}
}

// PeerDisconnectedEvent is broadcast on departure.
type PeerDisconnectedEvent struct {
	Type   Type   `json:"type"`
	PeerID string `json:"peerId"`
}

func NewPeerDisconnectedEvent(peerID string) PeerDisconnectedEvent {
	return PeerDisconnectedEvent{Type: TypePeerDisconnected, PeerID: peerID}
}

// PeerNameUpdatedEvent is broadcast on rename.
type PeerNameUpdatedEvent struct {
	Type   Type   `json:"type"`
	PeerID string `json:"peerId"`
	Name   string `json:"name"`
}

func NewPeerNameUpdatedEvent(peerID, name string) PeerNameUpdatedEvent {
	return PeerNameUpdatedEvent{Type: TypePeerNameUpdated, PeerID: peerID, Name: name}
}

// NameUpdatedAck is sent to the renaming peer only.
type NameUpdatedAck struct {
	Type Type   `json:"type"`
	Name string `json:"name"`
}

func NewNameUpdatedAck(name string) NameUpdatedAck {
	return NameUpdatedAck{Type: TypeNameUpdatedAck, Name: name}
}

// ErrorFrame is a non-fatal, per-request diagnostic.
type ErrorFrame struct {
	Type    Type   `json:"type"`
	Message string `json:"message"`
}

func NewErrorFrame(message string) ErrorFrame {
	return ErrorFrame{Type: TypeError, Message: message}
}

// ---------------------------------------------------------------------------
// Peer → hub control payloads.
// ---------------------------------------------------------------------------

// UpdateNamePayload carries the requested new display name.
type UpdateNamePayload struct {
	Type Type   `json:"type"`
	Name string `json:"name"`
}
