// WebRTC negotiation for the reference peer client.
//
// Grounded on bureau-foundation-bureau's transport/webrtc.go for the shape
// of a pion PeerConnection lifecycle (OnDataChannel, OnICEConnectionStateChange,
// CreateOffer/CreateAnswer, SetLocalDescription/SetRemoteDescription). Unlike
// that transport, signaling here is a live, bidirectional connection rather
// than a polled store, so candidates are sent as they're gathered (trickle
// ICE) instead of waiting for gathering to complete.
package main

import (
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// rtcSession is the WebRTC state for one negotiation with a single remote
// peer. The hub only ever sees opaque offer/answer/ice-candidate frames
// addressed to this peer's id; it never inspects rtcSession directly.
type rtcSession struct {
	peerID   string
	peerName string
	pc       *webrtc.PeerConnection
	dc       *webrtc.DataChannel

	// events delivers rtc-originated tea.Msg values (channel open, incoming
	// text, channel closed) back into the Bubbletea event loop. Shared
	// across all sessions a model owns.
	events chan any

	// outbound delivers signaling frames (offer/answer/ice-candidate) this
	// session wants sent to the hub. Shared across all sessions.
	outbound chan []byte
}

func newPeerConnection() (*webrtc.PeerConnection, error) {
	config := webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		},
	}
	return webrtc.NewPeerConnection(config)
}

// outgoingFrame mirrors the top-level shape of a directed signaling frame.
// candidate/sdpMid/sdpMLineIndex are only populated for ice-candidate
// frames; sdp only for offer/answer.
type outgoingFrame struct {
	Type          string  `json:"type"`
	To            string  `json:"to"`
	SDP           string  `json:"sdp,omitempty"`
	Candidate     string  `json:"candidate,omitempty"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

// rtcDataMsg is delivered to the Bubbletea loop for each inbound data
// channel text message.
type rtcDataMsg struct {
	peerID, peerName, text string
}

// rtcOpenMsg reports a data channel transitioning to the open state.
type rtcOpenMsg struct {
	peerID string
}

// rtcClosedMsg reports a data channel or its PeerConnection closing.
type rtcClosedMsg struct {
	peerID string
}

func newSession(peerID, peerName string, events chan any, outbound chan []byte) (*rtcSession, error) {
	pc, err := newPeerConnection()
	if err != nil {
		return nil, fmt.Errorf("peer: new connection: %w", err)
	}
	s := &rtcSession{peerID: peerID, peerName: peerName, pc: pc, events: events, outbound: outbound}
	s.wireICE()
	s.wireConnectionState()
	return s, nil
}

// wireICE forwards every locally gathered candidate to the peer as soon as
// it's available. A nil candidate marks end-of-candidates and is not sent.
func (s *rtcSession) wireICE() {
	s.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		init := c.ToJSON()
		frame := outgoingFrame{
			Type:          "ice-candidate",
			To:            s.peerID,
			Candidate:     init.Candidate,
			SDPMid:        init.SDPMid,
			SDPMLineIndex: init.SDPMLineIndex,
		}
		data, err := json.Marshal(frame)
		if err != nil {
			return
		}
		s.outbound <- data
	})
}

func (s *rtcSession) wireConnectionState() {
	s.pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		switch state {
		case webrtc.ICEConnectionStateFailed, webrtc.ICEConnectionStateClosed:
			s.events <- rtcClosedMsg{peerID: s.peerID}
		}
	})
}

// wireDataChannel attaches the open/message/close handlers shared by both
// the offering and answering sides.
func (s *rtcSession) wireDataChannel(dc *webrtc.DataChannel) {
	s.dc = dc
	dc.OnOpen(func() {
		s.events <- rtcOpenMsg{peerID: s.peerID}
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		s.events <- rtcDataMsg{peerID: s.peerID, peerName: s.peerName, text: string(msg.Data)}
	})
	dc.OnClose(func() {
		s.events <- rtcClosedMsg{peerID: s.peerID}
	})
}

// startOffer creates a data channel, builds the SDP offer, and enqueues it
// as an outbound offer frame. ICE candidates are sent separately as
// wireICE's callback fires.
func startOffer(peerID, peerName string, events chan any, outbound chan []byte) (*rtcSession, error) {
	s, err := newSession(peerID, peerName, events, outbound)
	if err != nil {
		return nil, err
	}

	dc, err := s.pc.CreateDataChannel("chat", nil)
	if err != nil {
		s.pc.Close()
		return nil, fmt.Errorf("peer: create data channel: %w", err)
	}
	s.wireDataChannel(dc)

	offer, err := s.pc.CreateOffer(nil)
	if err != nil {
		s.pc.Close()
		return nil, fmt.Errorf("peer: create offer: %w", err)
	}
	if err := s.pc.SetLocalDescription(offer); err != nil {
		s.pc.Close()
		return nil, fmt.Errorf("peer: set local description: %w", err)
	}

	frame := outgoingFrame{Type: "offer", To: peerID, SDP: offer.SDP}
	data, err := json.Marshal(frame)
	if err != nil {
		s.pc.Close()
		return nil, err
	}
	outbound <- data
	return s, nil
}

// acceptOffer answers an inbound offer and enqueues the answer frame.
func acceptOffer(peerID, peerName, sdp string, events chan any, outbound chan []byte) (*rtcSession, error) {
	s, err := newSession(peerID, peerName, events, outbound)
	if err != nil {
		return nil, err
	}
	s.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		s.wireDataChannel(dc)
	})

	remote := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}
	if err := s.pc.SetRemoteDescription(remote); err != nil {
		s.pc.Close()
		return nil, fmt.Errorf("peer: set remote description: %w", err)
	}

	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		s.pc.Close()
		return nil, fmt.Errorf("peer: create answer: %w", err)
	}
	if err := s.pc.SetLocalDescription(answer); err != nil {
		s.pc.Close()
		return nil, fmt.Errorf("peer: set local description: %w", err)
	}

	frame := outgoingFrame{Type: "answer", To: peerID, SDP: answer.SDP}
	data, err := json.Marshal(frame)
	if err != nil {
		s.pc.Close()
		return nil, err
	}
	outbound <- data
	return s, nil
}

// acceptAnswer completes a negotiation this peer offered.
func (s *rtcSession) acceptAnswer(sdp string) error {
	remote := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}
	if err := s.pc.SetRemoteDescription(remote); err != nil {
		return fmt.Errorf("peer: set remote description: %w", err)
	}
	return nil
}

// addCandidate applies a trickled remote ICE candidate.
func (s *rtcSession) addCandidate(candidate string, sdpMid *string, sdpMLineIndex *uint16) error {
	init := webrtc.ICECandidateInit{
		Candidate:     candidate,
		SDPMid:        sdpMid,
		SDPMLineIndex: sdpMLineIndex,
	}
	return s.pc.AddICECandidate(init)
}

// send writes text to the open data channel.
func (s *rtcSession) send(text string) error {
	if s.dc == nil {
		return fmt.Errorf("peer: data channel not yet open")
	}
	return s.dc.SendText(text)
}

func (s *rtcSession) close() {
	if s.dc != nil {
		s.dc.Close()
	}
	if s.pc != nil {
		s.pc.Close()
	}
}
