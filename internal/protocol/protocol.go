// Package protocol defines the wire format for all client-server communication.
// A packet on the wire is a text header followed by a binary payload:
//
//	<type>:<size>:<source>:<payload bytes>
//
// <type> and <size> are ASCII decimal integers, <source> is the sender's
// identity (at most MaxName bytes, never containing ':'), and the payload is
// exactly <size> raw bytes.  The three ':' separators delimit the header only;
// the payload is not escaped and may contain any byte, including ':' and NUL.
package protocol

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Packet size limits.
const (
	MaxName = 64   // maximum length of the source field
	MaxData = 2048 // maximum payload length
)

// Type identifies what kind of packet is being sent.  The numeric values are
// fixed by the wire protocol and shared with every peer implementation.
type Type uint

const (
	TypeLogin         Type = 1
	TypeLoginAck      Type = 2
	TypeLoginNak      Type = 3
	TypeExit          Type = 4
	TypeJoin          Type = 5
	TypeJoinAck       Type = 6
	TypeJoinNak       Type = 7
	TypeLeave         Type = 8
	TypeLeaveAck      Type = 9
	TypeLeaveNak      Type = 10
	TypeNewSession    Type = 11
	TypeNewSessionAck Type = 12
	TypeNewSessionNak Type = 13
	TypeMessage       Type = 14
	TypeMessageAck    Type = 15
	TypeMessageNak    Type = 16
	TypeQuery         Type = 17
	TypeQueryAck      Type = 18
	TypeQueryNak      Type = 19
	TypeUnknown       Type = 20
)

// ErrMalformed is returned when bytes cannot be framed or parsed as a packet.
var ErrMalformed = errors.New("protocol: malformed packet")

// Packet is the unit of communication.  The wire-level size field is derived
// from len(Data) on encode.
type Packet struct {
	Type   Type
	Source string
	Data   []byte
}

// Encode serialises p into wire bytes: the formatted header followed by the
// payload verbatim.
func (p *Packet) Encode() ([]byte, error) {
	if len(p.Data) > MaxData {
		return nil, fmt.Errorf("protocol: payload %d bytes exceeds %d", len(p.Data), MaxData)
	}
	if len(p.Source) > MaxName {
		return nil, fmt.Errorf("protocol: source %d bytes exceeds %d", len(p.Source), MaxName)
	}
	if strings.ContainsRune(p.Source, ':') {
		return nil, fmt.Errorf("protocol: source %q contains ':'", p.Source)
	}
	buf := make([]byte, 0, len(p.Source)+len(p.Data)+16)
	buf = strconv.AppendUint(buf, uint64(p.Type), 10)
	buf = append(buf, ':')
	buf = strconv.AppendInt(buf, int64(len(p.Data)), 10)
	buf = append(buf, ':')
	buf = append(buf, p.Source...)
	buf = append(buf, ':')
	buf = append(buf, p.Data...)
	return buf, nil
}

// Parse decodes a complete packet from b.  It fails when fewer than three ':'
// separators are present, when the header fields do not parse, when the source
// exceeds MaxName, or when b holds fewer payload bytes than the header's size
// field declares.
func Parse(b []byte) (*Packet, error) {
	rest := b
	var fields [3]string
	for i := range fields {
		sep := bytes.IndexByte(rest, ':')
		if sep < 0 {
			return nil, fmt.Errorf("%w: missing ':' separator", ErrMalformed)
		}
		fields[i] = string(rest[:sep])
		rest = rest[sep+1:]
	}

	typ, err := strconv.ParseUint(fields[0], 10, 32)
	if err != nil {
		return nil, fmt.Errorf("%w: bad type %q", ErrMalformed, fields[0])
	}
	size, err := strconv.Atoi(fields[1])
	if err != nil || size < 0 || size > MaxData {
		return nil, fmt.Errorf("%w: bad size %q", ErrMalformed, fields[1])
	}
	if len(fields[2]) > MaxName {
		return nil, fmt.Errorf("%w: source exceeds %d bytes", ErrMalformed, MaxName)
	}
	if len(rest) < size {
		return nil, fmt.Errorf("%w: %d payload bytes declared, %d present", ErrMalformed, size, len(rest))
	}
	data := make([]byte, size)
	copy(data, rest[:size])
	return &Packet{Type: Type(typ), Source: fields[2], Data: data}, nil
}

// Decoder frames packets off a byte stream.  TCP delivers no record
// boundaries, so the decoder reads the three header fields byte-wise and then
// exactly the declared number of payload bytes.
type Decoder struct {
	r *bufio.Reader
}

// NewDecoder returns a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

// Next blocks until a full packet is read.  It returns io.EOF when the stream
// ends cleanly between packets, and a wrapped ErrMalformed when the stream
// cannot be framed (the caller should drop the connection: there is no packet
// boundary to resynchronise on).
func (d *Decoder) Next() (*Packet, error) {
	field, err := d.readField(10)
	if err != nil {
		return nil, err
	}
	typ, err := strconv.ParseUint(field, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("%w: bad type %q", ErrMalformed, field)
	}

	if field, err = d.readField(10); err != nil {
		return nil, unexpectedEOF(err)
	}
	size, err := strconv.Atoi(field)
	if err != nil || size < 0 || size > MaxData {
		return nil, fmt.Errorf("%w: bad size %q", ErrMalformed, field)
	}

	source, err := d.readField(MaxName)
	if err != nil {
		return nil, unexpectedEOF(err)
	}

	data := make([]byte, size)
	if _, err := io.ReadFull(d.r, data); err != nil {
		return nil, unexpectedEOF(err)
	}
	return &Packet{Type: Type(typ), Source: source, Data: data}, nil
}

// readField consumes bytes up to the next ':' separator, refusing fields
// longer than max bytes.
func (d *Decoder) readField(max int) (string, error) {
	var field []byte
	for {
		b, err := d.r.ReadByte()
		if err != nil {
			if len(field) > 0 && err == io.EOF {
				return "", io.ErrUnexpectedEOF
			}
			return "", err
		}
		if b == ':' {
			return string(field), nil
		}
		if len(field) >= max {
			return "", fmt.Errorf("%w: header field exceeds %d bytes", ErrMalformed, max)
		}
		field = append(field, b)
	}
}

func unexpectedEOF(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}

// ---------------------------------------------------------------------------
// Request constructors
// ---------------------------------------------------------------------------

// NewLogin builds a LOGIN request carrying "<user>,<pass>".
func NewLogin(clientID, password string) *Packet {
	return &Packet{
		Type:   TypeLogin,
		Source: clientID,
		Data:   []byte(clientID + "," + password),
	}
}

// NewExit builds an EXIT request with an empty body.
func NewExit(clientID string) *Packet {
	return &Packet{Type: TypeExit, Source: clientID}
}

// NewQuery builds a QUERY request.  The body echoes the client id; the server
// ignores it.
func NewQuery(clientID string) *Packet {
	return &Packet{Type: TypeQuery, Source: clientID, Data: []byte(clientID)}
}

// NewMessage builds a MESSAGE request carrying "<room>;<text>".
func NewMessage(clientID, room, text string) *Packet {
	return &Packet{
		Type:   TypeMessage,
		Source: clientID,
		Data:   []byte(room + ";" + text),
	}
}

// NewSession builds a NEW_SESS request carrying the room name.
func NewSession(clientID, room string) *Packet {
	return &Packet{Type: TypeNewSession, Source: clientID, Data: []byte(room)}
}

// NewJoin builds a JOIN request carrying the room name.
func NewJoin(clientID, room string) *Packet {
	return &Packet{Type: TypeJoin, Source: clientID, Data: []byte(room)}
}

// NewLeave builds a LEAVE_SESS request carrying the room name.
func NewLeave(clientID, room string) *Packet {
	return &Packet{Type: TypeLeave, Source: clientID, Data: []byte(room)}
}

// SplitMessage splits a MESSAGE body "<room>;<text>" at the first ';'.  The
// ok result is false when no separator is present.
func SplitMessage(data []byte) (room, text string, ok bool) {
	s := string(data)
	if sep := strings.IndexByte(s, ';'); sep >= 0 {
		return s[:sep], s[sep+1:], true
	}
	return "", "", false
}
