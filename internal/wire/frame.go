// Package wire implements MySQL client/server packet framing and the binary
// codec used to encode and decode every packet type in the command phase.
package wire

import (
	"fmt"
	"io"
)

// MaxPacketSize is the largest payload a single MySQL packet may carry
// before it must be split across multiple packets sharing one logical
// message (the "2^24 - 1" rule).
const MaxPacketSize = 1<<24 - 1

// UnexpectedEOFError reports a socket closing before a framed read was
// satisfied.
type UnexpectedEOFError struct {
	Expected int
	Got      int
}

func (e *UnexpectedEOFError) Error() string {
	return fmt.Sprintf("mysql: unexpected EOF reading packet: expected %d bytes, got %d", e.Expected, e.Got)
}

// Conn is the minimal byte-stream contract Framer needs. net.Conn and
// crypto/tls.Conn both satisfy it, which is how the TLS upgrade hands a
// framed socket a new underlying stream without the framer knowing about TLS.
type Conn interface {
	io.Reader
	io.Writer
}

// Framer reads and writes MySQL packets: a 3-byte little-endian length, a
// 1-byte sequence id, and the payload. It is not safe for concurrent use —
// callers serialize access with their own protocol mutex. A Framer is never
// read from or written to without that mutex held; see the invariant note on
// the mysqlclient.Connection doc comment for the single reachability path
// that guarantees this.
type Framer struct {
	conn Conn
	seq  byte
	carry []byte
}

// NewFramer wraps conn for packet-oriented I/O starting at sequence id 0.
func NewFramer(conn Conn) *Framer {
	return &Framer{conn: conn}
}

// Reset sets the sequence counter back to 0, as required at the start of
// every client-initiated command.
func (f *Framer) Reset() {
	f.seq = 0
}

// Sequence returns the next sequence id that will be sent or expected.
func (f *Framer) Sequence() byte {
	return f.seq
}

// SetConn swaps the underlying stream, used by the TLS negotiator to hand
// the framer a tls.Conn mid-handshake. The sequence counter is preserved.
func (f *Framer) SetConn(conn Conn) {
	f.conn = conn
}

// read pulls exactly n bytes from the carry buffer and the underlying
// stream, in arbitrary-sized chunks.
func (f *Framer) read(n int) ([]byte, error) {
	buf := make([]byte, n)
	got := 0
	if len(f.carry) > 0 {
		c := copy(buf, f.carry)
		got += c
		f.carry = f.carry[c:]
	}
	for got < n {
		m, err := f.conn.Read(buf[got:])
		got += m
		if err != nil {
			if got < n {
				return nil, &UnexpectedEOFError{Expected: n, Got: got}
			}
			break
		}
	}
	return buf, nil
}

// ReceivePacket reads one logical packet, reassembling it from consecutive
// max-size chunks when the payload was split at encode time.
func (f *Framer) ReceivePacket() ([]byte, error) {
	var payload []byte
	for {
		hdr, err := f.read(4)
		if err != nil {
			return nil, err
		}
		length := int(hdr[0]) | int(hdr[1])<<8 | int(hdr[2])<<16
		seq := hdr[3]
		if seq != f.seq {
			return nil, &ProtocolError{Msg: fmt.Sprintf("sequence id mismatch: expected %d, got %d", f.seq, seq)}
		}
		f.seq++

		var chunk []byte
		if length > 0 {
			chunk, err = f.read(length)
			if err != nil {
				return nil, err
			}
		}
		payload = append(payload, chunk...)

		if length < MaxPacketSize {
			return payload, nil
		}
		// Exactly MaxPacketSize bytes: another chunk (possibly a
		// zero-length terminator) follows under the next sequence id.
	}
}

// SendPacket writes payload as one or more packets, splitting at
// MaxPacketSize and emitting a trailing zero-length chunk when the payload
// is an exact multiple of MaxPacketSize.
func (f *Framer) SendPacket(payload []byte) error {
	for {
		n := len(payload)
		if n > MaxPacketSize {
			n = MaxPacketSize
		}
		hdr := make([]byte, 4)
		hdr[0] = byte(n)
		hdr[1] = byte(n >> 8)
		hdr[2] = byte(n >> 16)
		hdr[3] = f.seq
		f.seq++

		if _, err := f.conn.Write(hdr); err != nil {
			return err
		}
		if n > 0 {
			if _, err := f.conn.Write(payload[:n]); err != nil {
				return err
			}
		}

		payload = payload[n:]
		if n < MaxPacketSize {
			return nil
		}
	}
}
