// Package client implements the conferencing client session core: the login
// handshake with RTT-calibrated timeouts, a reader goroutine that routes
// synchronous responses and asynchronous broadcasts onto separate channels,
// and the multi-tab room state.
package client

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"confchat/internal/protocol"
)

const (
	// MaxTabs is the number of tab slots; each tab holds at most one room
	// membership.
	MaxTabs = 4

	// timeoutRTTMult scales the login round trip into the socket timeout.
	timeoutRTTMult = 3

	// minTimeout floors the calibrated timeout when the measured RTT is below
	// the clock's useful resolution.
	minTimeout = 2500 * time.Microsecond
)

var (
	ErrNotConnected = errors.New("client: not logged in")
	ErrConnected    = errors.New("client: already logged in")
	ErrTimeout      = errors.New("client: timed out waiting for server")
	ErrClosed       = errors.New("client: connection closed")
	ErrTabInRoom    = errors.New("client: active tab already in a session")
	ErrTabIdle      = errors.New("client: active tab not in a session")
)

// ServerError carries a NAK body back to the caller.
type ServerError struct {
	Type protocol.Type
	Body string
}

func (e *ServerError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("server rejected request (type %d)", e.Type)
	}
	return e.Body
}

// Event is one broadcast delivered by the background listener.
type Event struct {
	Room   string
	Sender string
	Text   string
	Tab    int // matching tab index, or -1 when no tab has joined Room
}

// Session is the client side of one server connection.
//
// A single reader goroutine decodes every inbound packet and routes MESSAGE
// broadcasts onto Events and everything else onto an internal response
// channel, so the foreground never shares a recv with the listener.  A mutex
// still serialises whole request/response spans: two commands cannot
// interleave their synchronous responses.
type Session struct {
	mu      sync.Mutex // serialises request/response spans
	conn    net.Conn
	timeout time.Duration

	resp   chan *protocol.Packet
	events chan Event
	done   chan struct{}
	alive  atomic.Bool

	stateMu  sync.Mutex
	clientID string
	tabs     [MaxTabs]string // joined room per tab, "" = idle
	active   int
}

// NewSession returns a disconnected Session.
func NewSession() *Session {
	return &Session{}
}

// Connected reports whether a login handshake has succeeded and the listener
// is still running.
func (s *Session) Connected() bool {
	return s.alive.Load()
}

// ClientID returns the identity recorded at login, or "".
func (s *Session) ClientID() string {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.clientID
}

// Timeout returns the RTT-derived socket timeout.
func (s *Session) Timeout() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timeout
}

// SetTimeout overrides the calibrated socket timeout.
func (s *Session) SetTimeout(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timeout = d
}

// Events exposes the broadcast stream.  The channel is closed when the
// listener exits (logout or server EOF).
func (s *Session) Events() <-chan Event {
	return s.events
}

// Login dials the server and authenticates.  The LO_ACK round trip is timed
// and the socket timeout set to timeoutRTTMult times the measured RTT,
// floored at minTimeout.  On success the background listener starts.
func (s *Session) Login(clientID, password, host, port string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.alive.Load() {
		return ErrConnected
	}
	if s.conn != nil {
		// Left over from a listener that died on server EOF.
		s.conn.Close()
		s.conn = nil
	}

	conn, err := net.Dial("tcp", net.JoinHostPort(host, port))
	if err != nil {
		return err
	}

	wire, err := protocol.NewLogin(clientID, password).Encode()
	if err != nil {
		conn.Close()
		return err
	}

	dec := protocol.NewDecoder(conn)
	start := time.Now()
	if _, err := conn.Write(wire); err != nil {
		conn.Close()
		return err
	}
	resp, err := dec.Next()
	rtt := time.Since(start)
	if err != nil {
		conn.Close()
		return err
	}

	s.timeout = timeoutRTTMult * rtt
	if s.timeout < minTimeout {
		s.timeout = minTimeout
	}

	if resp.Type != protocol.TypeLoginAck {
		conn.Close()
		return &ServerError{Type: resp.Type, Body: string(resp.Data)}
	}

	s.conn = conn
	s.resp = make(chan *protocol.Packet, 1)
	s.events = make(chan Event, 64)
	s.done = make(chan struct{})
	s.alive.Store(true)

	s.stateMu.Lock()
	s.clientID = string(resp.Data)
	s.tabs = [MaxTabs]string{}
	s.active = 0
	s.stateMu.Unlock()

	go s.listen(dec)
	return nil
}

// Logout sends EXIT and closes the socket.  Logout is fire-and-forget: the
// server sends no response.
func (s *Session) Logout() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.alive.Load() {
		return ErrNotConnected
	}

	if wire, err := protocol.NewExit(s.ClientID()).Encode(); err == nil {
		s.conn.SetWriteDeadline(time.Now().Add(s.timeout))
		s.conn.Write(wire)
	}
	s.conn.Close()
	s.conn = nil
	// The listener never blocks on its channels, so closing the socket
	// guarantees it exits.
	<-s.done

	s.stateMu.Lock()
	s.clientID = ""
	s.tabs = [MaxTabs]string{}
	s.stateMu.Unlock()
	return nil
}

// listen is the background listener: it frames every inbound packet, routes
// broadcasts onto the events channel, and hands everything else to the
// request in flight.
func (s *Session) listen(dec *protocol.Decoder) {
	defer func() {
		s.alive.Store(false)
		close(s.done)
		close(s.events)
	}()

	for {
		pkt, err := dec.Next()
		if err != nil {
			return
		}
		if pkt.Type == protocol.TypeMessage {
			room, text, ok := protocol.SplitMessage(pkt.Data)
			if !ok {
				continue
			}
			ev := Event{Room: room, Sender: pkt.Source, Text: text, Tab: s.tabFor(room)}
			select {
			case s.events <- ev:
			default: // UI is not draining; drop rather than stall the socket
			}
			continue
		}
		select {
		case s.resp <- pkt:
		default: // unsolicited response, no request waiting
		}
	}
}

// request performs one synchronous request/response exchange.  Both the send
// and the wait are bounded by the RTT-derived timeout.
func (s *Session) request(p *protocol.Packet, ack protocol.Type) (*protocol.Packet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.alive.Load() {
		return nil, ErrNotConnected
	}

	// Discard any stale response left by a timed-out predecessor.
	select {
	case <-s.resp:
	default:
	}

	wire, err := p.Encode()
	if err != nil {
		return nil, err
	}
	s.conn.SetWriteDeadline(time.Now().Add(s.timeout))
	if _, err := s.conn.Write(wire); err != nil {
		return nil, err
	}

	select {
	case resp := <-s.resp:
		if resp.Type != ack {
			return nil, &ServerError{Type: resp.Type, Body: string(resp.Data)}
		}
		return resp, nil
	case <-s.done:
		return nil, ErrClosed
	case <-time.After(s.timeout):
		return nil, ErrTimeout
	}
}

// ---------------------------------------------------------------------------
// Room operations (active tab)
// ---------------------------------------------------------------------------

// CreateRoom creates and joins a room on the active tab.  The active tab must
// be idle.
func (s *Session) CreateRoom(room string) error {
	if s.CurrentRoom() != "" {
		return ErrTabInRoom
	}
	resp, err := s.request(protocol.NewSession(s.ClientID(), room), protocol.TypeNewSessionAck)
	if err != nil {
		return err
	}
	s.setActiveRoom(string(resp.Data))
	return nil
}

// JoinRoom joins a room on the active tab, replacing any previous membership
// shown there.
func (s *Session) JoinRoom(room string) error {
	resp, err := s.request(protocol.NewJoin(s.ClientID(), room), protocol.TypeJoinAck)
	if err != nil {
		return err
	}
	s.setActiveRoom(string(resp.Data))
	return nil
}

// LeaveRoom leaves the active tab's room.
func (s *Session) LeaveRoom() error {
	room := s.CurrentRoom()
	if room == "" {
		return ErrTabIdle
	}
	if _, err := s.request(protocol.NewLeave(s.ClientID(), room), protocol.TypeLeaveAck); err != nil {
		return err
	}
	s.setActiveRoom("")
	return nil
}

// List fetches the room listing.
func (s *Session) List() (string, error) {
	resp, err := s.request(protocol.NewQuery(s.ClientID()), protocol.TypeQueryAck)
	if err != nil {
		return "", err
	}
	return string(resp.Data), nil
}

// SendText delivers one line of text to the active tab's room.
func (s *Session) SendText(text string) error {
	room := s.CurrentRoom()
	if room == "" {
		return ErrTabIdle
	}
	_, err := s.request(protocol.NewMessage(s.ClientID(), room, text), protocol.TypeMessageAck)
	return err
}

// ---------------------------------------------------------------------------
// Tab state
// ---------------------------------------------------------------------------

// ActiveTab returns the active tab index (0-based).
func (s *Session) ActiveTab() int {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.active
}

// CurrentRoom returns the active tab's room, or "".
func (s *Session) CurrentRoom() string {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.tabs[s.active]
}

// TabRoom returns the room joined on tab i, or "".
func (s *Session) TabRoom(i int) string {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if i < 0 || i >= MaxTabs {
		return ""
	}
	return s.tabs[i]
}

// SwitchTab jumps to tab i (0-based).  Out-of-range indices are rejected.
func (s *Session) SwitchTab(i int) error {
	if i < 0 || i >= MaxTabs {
		return fmt.Errorf("client: tab %d out of range 1..%d", i+1, MaxTabs)
	}
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	s.active = i
	return nil
}

// NextTab cycles to the following tab and returns its index.
func (s *Session) NextTab() int {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	s.active = (s.active + 1) % MaxTabs
	return s.active
}

// Prompt renders the active tab's prompt.
func (s *Session) Prompt() string {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if room := s.tabs[s.active]; room != "" {
		return fmt.Sprintf("Tab %d '%s'> ", s.active+1, room)
	}
	return fmt.Sprintf("Tab %d> ", s.active+1)
}

func (s *Session) setActiveRoom(room string) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	s.tabs[s.active] = room
}

// tabFor returns the index of the tab joined to room, or -1.
func (s *Session) tabFor(room string) int {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	for i, r := range s.tabs {
		if r != "" && r == room {
			return i
		}
	}
	return -1
}
