// Reference peer client TUI.
//
// Screens
// -------
//   statePeers – list of peers currently known to the hub; select one to
//                start (or resume) a WebRTC negotiation with it
//   stateChat  – entered as soon as a peer is selected: a scrollable
//                transcript plus a single-line input, usable once the
//                data channel to that peer is open
//
// Concurrency
// -----------
// Grounded on the teacher's cmd/client/main.go bridge: a goroutine reads
// JSON frames (one per websocket message) and forwards raw bytes
// to pkts; the Bubbletea loop drains one packet at a time via waitForPkt,
// immediately re-arming the read. A second bridge, events, carries
// messages originating from pion's own callback goroutines (data channel
// open/message/close) using the same re-arming pattern.
package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"signalhub/internal/signaling"
)

var (
	purple = lipgloss.Color("99")
	cyan   = lipgloss.Color("86")
	green  = lipgloss.Color("82")
	red    = lipgloss.Color("196")
	yellow = lipgloss.Color("220")
	gray   = lipgloss.Color("241")
	white  = lipgloss.Color("255")
	orange = lipgloss.Color("214")
	blue   = lipgloss.Color("75")

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Background(purple).
			Foreground(white).
			Padding(0, 1)

	footerBorderStyle = lipgloss.NewStyle().
				Border(lipgloss.NormalBorder(), true, false, false, false).
				BorderForeground(gray).
				Padding(0, 1)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(purple).
			Padding(0, 2)

	hintStyle = lipgloss.NewStyle().
			Foreground(gray).
			Italic(true)

	selectedStyle = lipgloss.NewStyle().Bold(true).Foreground(cyan)
	normalStyle   = lipgloss.NewStyle().Foreground(white)
	statusOK      = lipgloss.NewStyle().Foreground(green)
	statusErr     = lipgloss.NewStyle().Foreground(red)
	sysStyle      = lipgloss.NewStyle().Foreground(yellow).Italic(true)
	myNameStyle   = lipgloss.NewStyle().Bold(true).Foreground(orange)
	peerNameStyle = lipgloss.NewStyle().Bold(true).Foreground(blue)
)

// ---------------------------------------------------------------------------
// Bubbletea message types
// ---------------------------------------------------------------------------

type serverPktMsg []byte
type disconnectedMsg struct{}
type appEventMsg struct{ msg any }

// ---------------------------------------------------------------------------
// Application state
// ---------------------------------------------------------------------------

type appState int

const (
	statePeers appState = iota
	stateChat
)

type model struct {
	send     func([]byte) error // writes one frame to the hub
	pkts     chan []byte
	events   chan any
	outbound chan []byte // frames startOffer/acceptOffer produce, drained below

	state appState
	ready bool

	selfID, selfName string
	peers            []signaling.PeerInfo
	cursor           int

	active map[string]*rtcSession // peerID -> live negotiation/session

	renaming    bool
	renameInput textinput.Model

	// chat screen
	chatPeerID    string
	chatPeerName  string
	viewport      viewport.Model
	chatInput     textinput.Model
	chatLines     []string
	statusMsg     string
	statusIsError bool

	width, height int
}

func newModel(send func([]byte) error, pkts chan []byte, events chan any) model {
	ci := textinput.New()
	ci.Placeholder = "Type a message… (only usable once the data channel is open)"

	ri := textinput.New()
	ri.Placeholder = "new display name"
	ri.CharLimit = 64

	return model{
		send:        send,
		pkts:        pkts,
		events:      events,
		outbound:    make(chan []byte, 16),
		active:      make(map[string]*rtcSession),
		chatInput:   ci,
		renameInput: ri,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, waitForPkt(m.pkts), waitForEvent(m.events), waitForOutbound(m.outbound, m.send))
}

// ---------------------------------------------------------------------------
// Update
// ---------------------------------------------------------------------------

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		if !m.ready {
			m.viewport = viewport.New(msg.Width, m.vpHeight())
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = m.vpHeight()
		}
		m.chatInput.Width = msg.Width - 4
		return m, nil

	case serverPktMsg:
		m = m.handleServerPkt([]byte(msg))
		return m, waitForPkt(m.pkts)

	case disconnectedMsg:
		m.statusMsg, m.statusIsError = "disconnected from the hub", true
		return m, tea.Quit

	case appEventMsg:
		m = m.handleAppEvent(msg.msg)
		return m, waitForEvent(m.events)

	case outboundSentMsg:
		return m, waitForOutbound(m.outbound, m.send)

	case tea.KeyMsg:
		if m.renaming {
			return m.handleRenameKey(msg)
		}
		switch m.state {
		case statePeers:
			return m.handlePeersKey(msg)
		case stateChat:
			return m.handleChatKey(msg)
		}
	}
	return m, nil
}

func (m model) vpHeight() int {
	h := m.height - 3
	if h < 1 {
		h = 1
	}
	return h
}

// ---------------------------------------------------------------------------
// Key handlers
// ---------------------------------------------------------------------------

func (m model) handlePeersKey(msg tea.KeyMsg) (model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC:
		return m, tea.Quit

	case tea.KeyUp:
		if m.cursor > 0 {
			m.cursor--
		}
		return m, nil

	case tea.KeyDown:
		if m.cursor < len(m.peers)-1 {
			m.cursor++
		}
		return m, nil

	case tea.KeyEnter:
		if len(m.peers) == 0 {
			return m, nil
		}
		target := m.peers[m.cursor]
		return m.openChat(target)

	case tea.KeyRunes:
		if len(msg.Runes) == 1 && msg.Runes[0] == 'r' {
			m.renaming = true
			m.renameInput.SetValue(m.selfName)
			m.renameInput.Focus()
			return m, textinput.Blink
		}
	}
	return m, nil
}

func (m model) handleRenameKey(msg tea.KeyMsg) (model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC:
		return m, tea.Quit

	case tea.KeyEsc:
		m.renaming = false
		return m, nil

	case tea.KeyEnter:
		name := strings.TrimSpace(m.renameInput.Value())
		m.renaming = false
		if name == "" {
			return m, nil
		}
		payload, err := json.Marshal(map[string]string{"type": "update-name", "name": name})
		if err == nil {
			m.send(payload)
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.renameInput, cmd = m.renameInput.Update(msg)
	return m, cmd
}

// openChat switches to the chat screen for target, starting a WebRTC offer
// if no session exists yet for that peer.
func (m model) openChat(target signaling.PeerInfo) (model, tea.Cmd) {
	m.state = stateChat
	m.chatPeerID, m.chatPeerName = target.ID, target.Name
	m.chatLines = nil
	m.chatInput.Reset()
	m.chatInput.Focus()
	m.statusMsg, m.statusIsError = "", false

	if _, ok := m.active[target.ID]; !ok {
		sess, err := startOffer(target.ID, target.Name, m.events, m.outbound)
		if err != nil {
			m.statusMsg, m.statusIsError = fmt.Sprintf("negotiation failed: %v", err), true
			return m, textinput.Blink
		}
		m.active[target.ID] = sess
		m.statusMsg = "negotiating…"
	}
	return m, textinput.Blink
}

func (m model) handleChatKey(msg tea.KeyMsg) (model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC:
		return m, tea.Quit

	case tea.KeyEsc:
		m.state = statePeers
		return m, nil

	case tea.KeyEnter:
		text := strings.TrimSpace(m.chatInput.Value())
		if text == "" {
			return m, nil
		}
		sess, ok := m.active[m.chatPeerID]
		if !ok {
			m.statusMsg, m.statusIsError = "no active session with this peer", true
			return m, nil
		}
		if err := sess.send(text); err != nil {
			m.statusMsg, m.statusIsError = fmt.Sprintf("send failed: %v", err), true
			return m, nil
		}
		m.appendChat(myNameStyle.Render(m.selfName) + ": " + text)
		m.chatInput.Reset()
		return m, nil

	case tea.KeyPgUp:
		m.viewport.HalfViewUp()
		return m, nil

	case tea.KeyPgDown:
		m.viewport.HalfViewDown()
		return m, nil
	}

	var cmd tea.Cmd
	m.chatInput, cmd = m.chatInput.Update(msg)
	return m, cmd
}

// ---------------------------------------------------------------------------
// Hub frame handling
// ---------------------------------------------------------------------------

func (m model) handleServerPkt(data []byte) model {
	frame, err := signaling.DecodeRaw(data)
	if err != nil {
		return m
	}
	typ, err := frame.Type()
	if err != nil {
		return m
	}

	switch typ {
	case signaling.TypeRegistered:
		var reg signaling.Registered
		if json.Unmarshal(data, &reg) == nil {
			m.selfID, m.selfName = reg.PeerID, reg.YourName
			m.peers = reg.Peers
		}

	case signaling.TypePeerList:
		var list signaling.PeerList
		if json.Unmarshal(data, &list) == nil {
			m.peers = list.Peers
		}

	case signaling.TypeNewPeer:
		var ev signaling.NewPeerEvent
		if json.Unmarshal(data, &ev) == nil {
			m.peers = append(m.peers, ev.Peer)
		}

	case signaling.TypePeerDisconnected:
		var ev signaling.PeerDisconnectedEvent
		if json.Unmarshal(data, &ev) == nil {
			m.peers = removePeer(m.peers, ev.PeerID)
			if sess, ok := m.active[ev.PeerID]; ok {
				sess.close()
				delete(m.active, ev.PeerID)
			}
			if m.cursor >= len(m.peers) && m.cursor > 0 {
				m.cursor--
			}
		}

	case signaling.TypePeerNameUpdated:
		var ev signaling.PeerNameUpdatedEvent
		if json.Unmarshal(data, &ev) == nil {
			for i := range m.peers {
				if m.peers[i].ID == ev.PeerID {
					m.peers[i].Name = ev.Name
				}
			}
		}

	case signaling.TypeNameUpdatedAck:
		var ack signaling.NameUpdatedAck
		if json.Unmarshal(data, &ack) == nil {
			m.selfName = ack.Name
		}

	case signaling.TypeError:
		var ef signaling.ErrorFrame
		if json.Unmarshal(data, &ef) == nil {
			m.statusMsg, m.statusIsError = ef.Message, true
		}

	case signaling.TypeOffer:
		m = m.handleIncomingOffer(frame)

	case signaling.TypeAnswer:
		m = m.handleIncomingAnswer(frame)

	case signaling.TypeICECandidate:
		m = m.handleIncomingCandidate(frame)
	}
	return m
}

func (m model) handleIncomingOffer(frame signaling.RawFrame) model {
	fromID, err := frame.String("from")
	if err != nil {
		return m
	}
	fromName, _ := frame.String("name")
	sdp, err := frame.String("sdp")
	if err != nil {
		return m
	}

	if old, ok := m.active[fromID]; ok {
		old.close()
	}
	sess, err := acceptOffer(fromID, fromName, sdp, m.events, m.outbound)
	if err != nil {
		m.statusMsg, m.statusIsError = fmt.Sprintf("failed to answer offer from %s: %v", fromName, err), true
		return m
	}
	m.active[fromID] = sess
	return m
}

func (m model) handleIncomingAnswer(frame signaling.RawFrame) model {
	fromID, err := frame.String("from")
	if err != nil {
		return m
	}
	sdp, err := frame.String("sdp")
	if err != nil {
		return m
	}
	sess, ok := m.active[fromID]
	if !ok {
		return m
	}
	if err := sess.acceptAnswer(sdp); err != nil {
		m.statusMsg, m.statusIsError = fmt.Sprintf("failed to apply answer: %v", err), true
	}
	return m
}

func (m model) handleIncomingCandidate(frame signaling.RawFrame) model {
	fromID, err := frame.String("from")
	if err != nil {
		return m
	}
	candidate, err := frame.String("candidate")
	if err != nil {
		return m
	}
	sess, ok := m.active[fromID]
	if !ok {
		return m
	}
	sdpMid, _ := frame.String("sdpMid")
	var sdpMidPtr *string
	if sdpMid != "" {
		sdpMidPtr = &sdpMid
	}
	if err := sess.addCandidate(candidate, sdpMidPtr, nil); err != nil {
		m.statusMsg, m.statusIsError = fmt.Sprintf("failed to apply ice candidate: %v", err), true
	}
	return m
}

func removePeer(peers []signaling.PeerInfo, id string) []signaling.PeerInfo {
	out := peers[:0]
	for _, p := range peers {
		if p.ID != id {
			out = append(out, p)
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// rtc event handling
// ---------------------------------------------------------------------------

func (m model) handleAppEvent(ev any) model {
	switch ev := ev.(type) {
	case rtcOpenMsg:
		if ev.peerID == m.chatPeerID {
			m.statusMsg, m.statusIsError = "data channel open", false
		}
	case rtcDataMsg:
		if ev.peerID == m.chatPeerID {
			m.appendChat(peerNameStyle.Render(ev.peerName) + ": " + ev.text)
		}
	case rtcClosedMsg:
		delete(m.active, ev.peerID)
		if ev.peerID == m.chatPeerID {
			m.statusMsg, m.statusIsError = "data channel closed", true
		}
	}
	return m
}

func (m *model) appendChat(line string) {
	m.chatLines = append(m.chatLines, line)
	m.viewport.SetContent(strings.Join(m.chatLines, "\n"))
	m.viewport.GotoBottom()
}

// ---------------------------------------------------------------------------
// View
// ---------------------------------------------------------------------------

func (m model) View() string {
	switch m.state {
	case statePeers:
		return m.viewPeers()
	case stateChat:
		return m.viewChat()
	}
	return ""
}

func (m model) viewPeers() string {
	if m.width == 0 {
		return "\n  Connecting…"
	}

	title := titleStyle.Render(fmt.Sprintf("  Peers  ·  you are %s (%s)  ", m.selfName, m.selfID))

	var lines []string
	if len(m.peers) == 0 {
		lines = append(lines, hintStyle.Render("  (no other peers online)"))
	}
	for i, p := range m.peers {
		line := fmt.Sprintf("  %s  (%s)", p.Name, p.ID)
		if i == m.cursor {
			line = selectedStyle.Render("➤ " + strings.TrimPrefix(line, "  "))
		} else {
			line = normalStyle.Render(line)
		}
		lines = append(lines, line)
	}

	hint := "↑/↓: select   Enter: negotiate & open chat   r: rename   Ctrl+C: quit"
	extra := ""
	if m.renaming {
		hint = "Enter: confirm   Esc: cancel"
		extra = "\n  New name: " + m.renameInput.View()
	}

	body := lipgloss.JoinVertical(lipgloss.Left,
		title,
		"",
		strings.Join(lines, "\n"),
		extra,
		hintStyle.Render(hint),
		"",
		m.renderStatus(),
	)
	return lipgloss.Place(m.width, m.height, lipgloss.Left, lipgloss.Top, body)
}

func (m model) viewChat() string {
	if !m.ready {
		return "\n  Loading…"
	}

	hdr := headerStyle.
		Width(m.width).
		Render(fmt.Sprintf(" Chat with %s  ·  Esc: back  PgUp/Dn: scroll  Ctrl+C: quit", m.chatPeerName))

	footer := footerBorderStyle.
		Width(m.width - 2).
		Render(m.chatInput.View())

	status := m.renderStatus()
	var parts []string
	parts = append(parts, hdr, m.viewport.View())
	if status != "" {
		parts = append(parts, status)
	}
	parts = append(parts, footer)
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (m model) renderStatus() string {
	if m.statusMsg == "" {
		return ""
	}
	if m.statusIsError {
		return statusErr.Render("  ⚠ " + m.statusMsg)
	}
	return sysStyle.Render("  ⚡ " + m.statusMsg)
}

// ---------------------------------------------------------------------------
// Bridges
// ---------------------------------------------------------------------------

func waitForPkt(ch <-chan []byte) tea.Cmd {
	return func() tea.Msg {
		data, ok := <-ch
		if !ok {
			return disconnectedMsg{}
		}
		return serverPktMsg(data)
	}
}

func waitForEvent(ch <-chan any) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return nil
		}
		return appEventMsg{msg: ev}
	}
}

type outboundSentMsg struct{}

// waitForOutbound drains the signaling frames rtc sessions produce (offers
// and answers from startOffer/acceptOffer, trickled ICE candidates from
// pion callbacks) and writes them to the hub. Kept separate
// from the Bubbletea Update loop's own goroutine so a slow write never
// blocks key handling.
func waitForOutbound(ch <-chan []byte, send func([]byte) error) tea.Cmd {
	return func() tea.Msg {
		data, ok := <-ch
		if !ok {
			return nil
		}
		send(data)
		return outboundSentMsg{}
	}
}
