package server

import (
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"confchat/internal/protocol"
)

const (
	sendBufSize  = 256 // buffered send channel capacity
	writeTimeout = 10 * time.Second
)

// Client represents one accepted TCP connection.
//
// Two goroutines run per client:
//
//	readPump  – frames packets off the TCP connection and dispatches them to
//	            the Server until EXIT or EOF.
//	writePump – drains the send channel and writes packets to the TCP
//	            connection.
//
// The send channel serialises all writes to the socket: the worker's own
// responses and fan-out packets enqueued by other workers travel the same
// queue, so bytes from different senders never interleave on the wire.
type Client struct {
	id   string // connection identifier, assigned on accept
	conn net.Conn
	srv  *Server
	send chan []byte
	done chan struct{}
	log  zerolog.Logger

	// Identity and room state.  Written by the owning readPump after a
	// successful login / join, read by workers broadcasting into rooms and by
	// the registry listing.
	mu          sync.RWMutex
	clientID    string // empty until LO_ACK
	currentRoom string // empty when not in a room
}

func newClient(id string, conn net.Conn, srv *Server) *Client {
	return &Client{
		id:   id,
		conn: conn,
		srv:  srv,
		send: make(chan []byte, sendBufSize),
		done: make(chan struct{}),
		log: srv.log.With().
			Str("conn", id).
			Str("remote", conn.RemoteAddr().String()).
			Logger(),
	}
}

func (c *Client) identity() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.clientID
}

func (c *Client) authenticated() bool {
	return c.identity() != ""
}

func (c *Client) setIdentity(clientID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clientID = clientID
}

func (c *Client) room() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.currentRoom
}

func (c *Client) setRoom(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.currentRoom = name
}

// readPump frames packets off the connection and dispatches each to the
// Server.  It returns on EXIT, EOF, or an unframeable stream, then tears the
// connection down.
func (c *Client) readPump() {
	defer func() {
		c.srv.registry.RemoveClient(c)
		close(c.done) // writePump flushes and closes the socket
		c.srv.release()
		c.log.Info().Msg("disconnected")
	}()

	dec := protocol.NewDecoder(c.conn)
	for {
		pkt, err := dec.Next()
		if err != nil {
			c.log.Debug().Err(err).Msg("read loop ended")
			return
		}
		if !c.srv.handlePacket(c, pkt) {
			return
		}
	}
}

// writePump drains the send channel and writes each packet to the connection.
// A write deadline bounds every write so a stuck peer cannot wedge the pump.
// The pump owns the socket's close: it exits only after readPump signalled
// done (flushing what is queued) or after a failed write.
func (c *Client) writePump() {
	defer c.conn.Close()
	for {
		select {
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if _, err := c.conn.Write(data); err != nil {
				return
			}
		case <-c.done:
			// Flush whatever is already queued before exiting.
			for {
				select {
				case data := <-c.send:
					c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
					if _, err := c.conn.Write(data); err != nil {
						return
					}
				default:
					return
				}
			}
		}
	}
}

// enqueue hands wire bytes to the writePump.  Delivery is best-effort: a
// closed or slow destination drops the packet rather than blocking the
// sender.
func (c *Client) enqueue(data []byte) {
	select {
	case <-c.done:
	case c.send <- data:
	default:
		c.log.Warn().Msg("send queue full, packet dropped")
	}
}

// respond encodes a response packet (empty source) and queues it on this
// connection.
func (c *Client) respond(t protocol.Type, body string) {
	pkt := &protocol.Packet{Type: t, Data: []byte(body)}
	data, err := pkt.Encode()
	if err != nil {
		c.log.Error().Err(err).Msg("encode response")
		return
	}
	c.enqueue(data)
}
