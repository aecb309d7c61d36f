package server

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
)

// Semantic failures surfaced to clients as NAK bodies.
var (
	ErrNoRoom        = errors.New("Session does not exist.")
	ErrRoomExists    = errors.New("Session already exists.")
	ErrDuplicateUser = errors.New("user already logged in")
)

// Room is a named broadcast group.  Members are kept in join order.  A room
// never exists empty: every removal path evicts the room when its last member
// leaves.
type Room struct {
	name    string
	members []*Client
}

// Registry is the process-wide shared state: live connections, logged-in
// identities, and rooms with their memberships.  One mutex guards all of it,
// spanning every lookup+mutate sequence so workers never observe a room
// between two steps of a membership change.
type Registry struct {
	mu    sync.Mutex
	conns []*Client          // every accepted connection, in accept order
	ids   map[string]*Client // logged-in client id → connection
	rooms map[string]*Room
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		ids:   make(map[string]*Client),
		rooms: make(map[string]*Room),
	}
}

// AddConn records a freshly accepted connection.
func (r *Registry) AddConn(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns = append(r.conns, c)
}

// Login binds clientID to c.  It fails when another live connection already
// holds that identity.
func (r *Registry) Login(c *Client, clientID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.ids[clientID]; taken {
		return ErrDuplicateUser
	}
	r.ids[clientID] = c
	return nil
}

// CreateRoom makes a new room with c as its first member.
func (r *Registry) CreateRoom(c *Client, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.rooms[name]; exists {
		return ErrRoomExists
	}
	r.rooms[name] = &Room{name: name, members: []*Client{c}}
	c.setRoom(name)
	return nil
}

// JoinRoom adds c to the named room.  Joining a room the connection is
// already a member of is a no-op that still succeeds.
func (r *Registry) JoinRoom(c *Client, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[name]
	if !ok {
		return ErrNoRoom
	}
	if !slices.Contains(room.members, c) {
		room.members = append(room.members, c)
	}
	c.setRoom(name)
	return nil
}

// LeaveRoom removes c from the named room, evicting the room if it empties.
// A room that does not exist is an error; a room c is not a member of removes
// nothing and still succeeds (the client treats the ACK as "clear this tab").
func (r *Registry) LeaveRoom(c *Client, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[name]
	if !ok {
		return ErrNoRoom
	}
	r.removeMember(room, c)
	if c.room() == name {
		c.setRoom("")
	}
	return nil
}

// OtherMembers returns every member of the named room except c, provided c
// itself is a member.  The snapshot is taken under the lock; delivery happens
// outside it.
func (r *Registry) OtherMembers(c *Client, name string) ([]*Client, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[name]
	if !ok || !slices.Contains(room.members, c) {
		return nil, false
	}
	others := make([]*Client, 0, len(room.members)-1)
	for _, m := range room.members {
		if m != c {
			others = append(others, m)
		}
	}
	return others, true
}

// RemoveClient tears down a connection: it is purged from every room (evicting
// rooms it empties), its identity is released, and it leaves the connection
// list.  Must run before the connection is discarded so no room holds a stale
// reference.
func (r *Registry) RemoveClient(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, room := range r.rooms {
		r.removeMember(room, c)
	}
	if id := c.identity(); id != "" && r.ids[id] == c {
		delete(r.ids, id)
	}
	if i := slices.Index(r.conns, c); i >= 0 {
		r.conns = slices.Delete(r.conns, i, i+1)
	}
	c.setRoom("")
}

// removeMember drops c from room and evicts the room when it empties.  The
// room name is captured from the room itself, not from any connection state
// that may already be cleared.  Caller holds r.mu.
func (r *Registry) removeMember(room *Room, c *Client) {
	i := slices.Index(room.members, c)
	if i < 0 {
		return
	}
	room.members = slices.Delete(room.members, i, i+1)
	if len(room.members) == 0 {
		delete(r.rooms, room.name)
	}
}

// Listing renders every room as a header line followed by one indented line
// per member:
//
//	'<name>': <count> users
//		<clientid>
//
// Rooms are listed in name order so the output is stable.
func (r *Registry) Listing() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.rooms))
	for name := range r.rooms {
		names = append(names, name)
	}
	slices.Sort(names)

	var b strings.Builder
	for _, name := range names {
		room := r.rooms[name]
		fmt.Fprintf(&b, "'%s': %d users\n", room.name, len(room.members))
		for _, m := range room.members {
			fmt.Fprintf(&b, "\t%s\n", m.identity())
		}
	}
	return b.String()
}

// RoomCount returns the number of live rooms.
func (r *Registry) RoomCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}
