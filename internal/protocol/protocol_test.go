package protocol

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstructorRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		pkt  *Packet
	}{
		{"login", NewLogin("alice", "pw")},
		{"exit", NewExit("alice")},
		{"query", NewQuery("alice")},
		{"message", NewMessage("alice", "room1", "hello world")},
		{"new_sess", NewSession("alice", "room1")},
		{"join", NewJoin("bob", "room1")},
		{"leave", NewLeave("bob", "room1")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wire, err := tt.pkt.Encode()
			require.NoError(t, err)

			got, err := Parse(wire)
			require.NoError(t, err)
			assert.Equal(t, tt.pkt.Type, got.Type)
			assert.Equal(t, tt.pkt.Source, got.Source)
			assert.Equal(t, append([]byte{}, tt.pkt.Data...), got.Data)
		})
	}
}

func TestConstructorBodies(t *testing.T) {
	assert.Equal(t, []byte("alice,pw"), NewLogin("alice", "pw").Data)
	assert.Empty(t, NewExit("alice").Data)
	assert.Equal(t, []byte("alice"), NewQuery("alice").Data)
	assert.Equal(t, []byte("room1;hi there"), NewMessage("alice", "room1", "hi there").Data)
	assert.Equal(t, []byte("r"), NewSession("alice", "r").Data)
}

func TestBinarySafePayload(t *testing.T) {
	// Embedded NUL, ':' and ';' bytes must survive untouched: the third ':'
	// terminates the header and everything after it is payload.
	data := []byte("a:b\x00c;d::e\xff")
	p := &Packet{Type: TypeMessage, Source: "alice", Data: data}

	wire, err := p.Encode()
	require.NoError(t, err)

	got, err := Parse(wire)
	require.NoError(t, err)
	assert.Equal(t, data, got.Data)
	assert.Equal(t, "alice", got.Source)
}

func TestEmptySource(t *testing.T) {
	// Server responses carry an empty source.
	p := &Packet{Type: TypeLoginAck, Data: []byte("alice")}
	wire, err := p.Encode()
	require.NoError(t, err)
	assert.Equal(t, []byte("2:5::alice"), wire)

	got, err := Parse(wire)
	require.NoError(t, err)
	assert.Equal(t, TypeLoginAck, got.Type)
	assert.Equal(t, "", got.Source)
	assert.Equal(t, []byte("alice"), got.Data)
}

func TestEncodeRejectsInvalid(t *testing.T) {
	_, err := (&Packet{Type: TypeMessage, Source: "a:b"}).Encode()
	assert.Error(t, err)

	_, err = (&Packet{Type: TypeMessage, Data: make([]byte, MaxData+1)}).Encode()
	assert.Error(t, err)

	long := bytes.Repeat([]byte("x"), MaxName+1)
	_, err = (&Packet{Type: TypeMessage, Source: string(long)}).Encode()
	assert.Error(t, err)
}

func TestParseRejectsMalformed(t *testing.T) {
	tests := []struct {
		name string
		wire string
	}{
		{"no separators", "garbage"},
		{"two separators", "14:5:alice"},
		{"bad type", "x:0:alice:"},
		{"bad size", "14:x:alice:"},
		{"negative size", "14:-1:alice:"},
		{"oversized size", "14:99999:alice:"},
		{"truncated payload", "14:10:alice:hi"},
		{"oversized source", "14:0:" + string(bytes.Repeat([]byte("s"), MaxName+1)) + ":"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.wire))
			assert.Error(t, err)
		})
	}
}

func TestParseClampsTrailingBytes(t *testing.T) {
	// Extra bytes past the declared size belong to the next packet and must
	// not leak into this one.
	got, err := Parse([]byte("14:2:alice:hi14:0:alice:"))
	require.NoError(t, err)
	assert.Equal(t, []byte("hi"), got.Data)
}

func TestDecoderStream(t *testing.T) {
	var stream bytes.Buffer
	want := []*Packet{
		NewLogin("alice", "pw"),
		NewMessage("alice", "room1", "hello"),
		{Type: TypeMessageAck},
		NewExit("alice"),
	}
	for _, p := range want {
		wire, err := p.Encode()
		require.NoError(t, err)
		stream.Write(wire)
	}

	d := NewDecoder(&stream)
	for i, w := range want {
		got, err := d.Next()
		require.NoError(t, err, "packet %d", i)
		assert.Equal(t, w.Type, got.Type, "packet %d", i)
		assert.Equal(t, w.Source, got.Source, "packet %d", i)
		assert.Equal(t, append([]byte{}, w.Data...), got.Data, "packet %d", i)
	}

	_, err := d.Next()
	assert.ErrorIs(t, err, io.EOF)
}

// slowReader hands out one byte at a time to exercise framing across short
// reads.
type slowReader struct {
	data []byte
}

func (r *slowReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, io.EOF
	}
	p[0] = r.data[0]
	r.data = r.data[1:]
	return 1, nil
}

func TestDecoderShortReads(t *testing.T) {
	wire, err := NewMessage("alice", "room1", "hello world").Encode()
	require.NoError(t, err)

	d := NewDecoder(&slowReader{data: wire})
	got, err := d.Next()
	require.NoError(t, err)
	assert.Equal(t, TypeMessage, got.Type)
	assert.Equal(t, []byte("room1;hello world"), got.Data)
}

func TestDecoderTruncatedStream(t *testing.T) {
	wire, err := NewMessage("alice", "room1", "hello").Encode()
	require.NoError(t, err)

	d := NewDecoder(bytes.NewReader(wire[:len(wire)-2]))
	_, err = d.Next()
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestDecoderUnframeableStream(t *testing.T) {
	d := NewDecoder(bytes.NewReader(bytes.Repeat([]byte("q"), 64)))
	_, err := d.Next()
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestSplitMessage(t *testing.T) {
	room, text, ok := SplitMessage([]byte("room1;hello;world"))
	require.True(t, ok)
	assert.Equal(t, "room1", room)
	assert.Equal(t, "hello;world", text)

	_, _, ok = SplitMessage([]byte("no separator"))
	assert.False(t, ok)
}
