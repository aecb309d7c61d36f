// Package server implements the conferencing server: a bounded accept loop,
// one worker per TCP connection, and a shared room registry.
//
// Concurrency overview
// --------------------
//
//	Acceptor goroutine
//	  Reserves an admission slot (weighted semaphore, at most MaxConnections
//	  live workers), accepts, and spawns readPump + writePump per connection.
//
//	Connection workers
//	  readPump frames requests and dispatches them; writePump serialises all
//	  writes to its socket.  Fan-out enqueues onto the destination workers'
//	  send channels, so no worker ever writes to another worker's socket.
//
//	Registry (one mutex)
//	  Rooms, memberships, logged-in identities, and the connection list.
package server

import (
	"context"
	"net"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"confchat/internal/protocol"
	"confchat/internal/store"
)

// MaxConnections is the default admission bound: the accept loop admits at
// most this many live workers and blocks once the bound is reached.
const MaxConnections = 16

// Server ties together the acceptor, the registry, and the credential store.
type Server struct {
	registry *Registry
	users    *store.Store
	sem      *semaphore.Weighted
	log      zerolog.Logger

	lnMu     sync.Mutex
	listener net.Listener
	closing  atomic.Bool
}

// New creates a Server authenticating against users.  maxConns bounds the
// number of simultaneously served connections; values < 1 fall back to
// MaxConnections.
func New(users *store.Store, maxConns int, log zerolog.Logger) *Server {
	if maxConns < 1 {
		maxConns = MaxConnections
	}
	return &Server{
		registry: NewRegistry(),
		users:    users,
		sem:      semaphore.NewWeighted(int64(maxConns)),
		log:      log,
	}
}

// ListenAndServe binds addr and serves it until Shutdown.
func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown.  Each accept first reserves
// an admission slot; when all slots are held the loop blocks until a worker
// terminates and releases one.
func (s *Server) Serve(ln net.Listener) error {
	s.lnMu.Lock()
	s.listener = ln
	s.lnMu.Unlock()
	s.log.Info().Str("addr", ln.Addr().String()).Msg("listening")

	for {
		if err := s.sem.Acquire(context.Background(), 1); err != nil {
			return err
		}
		conn, err := ln.Accept()
		if err != nil {
			s.sem.Release(1)
			if s.closing.Load() {
				return nil
			}
			s.log.Error().Err(err).Msg("accept")
			continue
		}
		s.serveConn(conn)
	}
}

// Shutdown stops accepting.  Live workers run until their clients disconnect.
func (s *Server) Shutdown() {
	s.closing.Store(true)
	s.lnMu.Lock()
	ln := s.listener
	s.lnMu.Unlock()
	if ln != nil {
		ln.Close()
	}
}

// serveConn registers a Client for conn and launches its pumps.  The worker
// owns the admission slot until its readPump returns.
func (s *Server) serveConn(conn net.Conn) {
	c := newClient(uuid.NewString(), conn, s)
	s.registry.AddConn(c)
	c.log.Info().Msg("connected")

	go c.writePump()
	go c.readPump()
}

// release returns a worker's admission slot to the acceptor.
func (s *Server) release() {
	s.sem.Release(1)
}

// ---------------------------------------------------------------------------
// Dispatch
// ---------------------------------------------------------------------------

const notLoggedIn = "Not logged in."

// nakFor maps a request type to the NAK variant its failures answer with.
func nakFor(t protocol.Type) protocol.Type {
	switch t {
	case protocol.TypeJoin:
		return protocol.TypeJoinNak
	case protocol.TypeLeave:
		return protocol.TypeLeaveNak
	case protocol.TypeNewSession:
		return protocol.TypeNewSessionNak
	case protocol.TypeQuery:
		return protocol.TypeQueryNak
	case protocol.TypeMessage:
		return protocol.TypeMessageNak
	default:
		return protocol.TypeUnknown
	}
}

// handlePacket dispatches one request and returns false when the connection
// must terminate (EXIT).
func (s *Server) handlePacket(c *Client, pkt *protocol.Packet) bool {
	switch pkt.Type {
	case protocol.TypeLogin:
		s.handleLogin(c, pkt)
		return true
	case protocol.TypeExit:
		s.registry.RemoveClient(c)
		c.log.Info().Str("client", pkt.Source).Msg("exit")
		return false
	}

	// Every other request requires the packet source to match the identity
	// recorded at login.
	if !c.authenticated() || pkt.Source != c.identity() {
		c.respond(nakFor(pkt.Type), notLoggedIn)
		return true
	}

	switch pkt.Type {
	case protocol.TypeJoin:
		s.handleJoin(c, pkt)
	case protocol.TypeLeave:
		s.handleLeave(c, pkt)
	case protocol.TypeNewSession:
		s.handleNewSession(c, pkt)
	case protocol.TypeQuery:
		c.respond(protocol.TypeQueryAck, s.registry.Listing())
	case protocol.TypeMessage:
		s.handleMessage(c, pkt)
	default:
		c.respond(protocol.TypeUnknown, "Unknown request.")
	}
	return true
}

// handleLogin verifies the password first, then that the identity is not
// already held by a live connection.
func (s *Server) handleLogin(c *Client, pkt *protocol.Packet) {
	_, password, ok := strings.Cut(string(pkt.Data), ",")
	if !ok || pkt.Source == "" || !s.users.Authenticate(pkt.Source, password) {
		c.respond(protocol.TypeLoginNak, "")
		return
	}
	if err := s.registry.Login(c, pkt.Source); err != nil {
		c.respond(protocol.TypeLoginNak, "")
		return
	}
	c.setIdentity(pkt.Source)
	c.log.Info().Str("client", pkt.Source).Msg("logged in")
	c.respond(protocol.TypeLoginAck, pkt.Source)
}

func (s *Server) handleJoin(c *Client, pkt *protocol.Packet) {
	room := string(pkt.Data)
	if err := s.registry.JoinRoom(c, room); err != nil {
		c.respond(protocol.TypeJoinNak, err.Error())
		return
	}
	c.log.Info().Str("room", room).Msg("joined session")
	c.respond(protocol.TypeJoinAck, room)
}

func (s *Server) handleLeave(c *Client, pkt *protocol.Packet) {
	room := string(pkt.Data)
	if err := s.registry.LeaveRoom(c, room); err != nil {
		c.respond(protocol.TypeLeaveNak, err.Error())
		return
	}
	c.log.Info().Str("room", room).Msg("left session")
	c.respond(protocol.TypeLeaveAck, "")
}

func (s *Server) handleNewSession(c *Client, pkt *protocol.Packet) {
	room := string(pkt.Data)
	if err := s.registry.CreateRoom(c, room); err != nil {
		c.respond(protocol.TypeNewSessionNak, err.Error())
		return
	}
	c.log.Info().Str("room", room).Msg("created session")
	c.respond(protocol.TypeNewSessionAck, room)
}

// handleMessage relays the request to every other member of the named room.
// Delivery is best-effort per destination; one full queue does not abort the
// loop.
func (s *Server) handleMessage(c *Client, pkt *protocol.Packet) {
	room, _, ok := protocol.SplitMessage(pkt.Data)
	if !ok {
		c.respond(protocol.TypeMessageNak, "Cannot send message, not in session")
		return
	}
	members, ok := s.registry.OtherMembers(c, room)
	if !ok {
		c.respond(protocol.TypeMessageNak, "Cannot send message, not in session")
		return
	}

	wire, err := pkt.Encode()
	if err != nil {
		c.respond(protocol.TypeMessageNak, "Cannot send message, not in session")
		return
	}
	for _, m := range members {
		m.enqueue(wire)
	}
	c.log.Debug().Str("room", room).Int("fanout", len(members)).Msg("relayed message")
	c.respond(protocol.TypeMessageAck, "")
}
