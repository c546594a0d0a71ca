package wire

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
)

// compressThreshold is the MySQL-defined minimum uncompressed packet size
// below which a compressed packet is sent verbatim (uncompressed length 0).
const compressThreshold = 50

// CompressedConn wraps a Conn with the CLIENT_COMPRESS framing: each write
// is wrapped in a 7-byte compressed-packet header (3-byte compressed
// length, 1-byte compression sequence id, 3-byte uncompressed length)
// around either a raw copy (small packets) or a zlib-deflated copy. Reads
// reverse the process, buffering any bytes decoded past what the caller
// asked for.
type CompressedConn struct {
	conn    Conn
	seq     byte
	readBuf bytes.Buffer
}

// NewCompressedConn wraps conn so that Framer can keep speaking plain
// packet framing while compression happens underneath.
func NewCompressedConn(conn Conn) *CompressedConn {
	return &CompressedConn{conn: conn}
}

// ResetSequence resets the compression sequence id to 0, done at the same
// points the inner Framer resets its own sequence id.
func (c *CompressedConn) ResetSequence() { c.seq = 0 }

// Close closes the wrapped conn if it implements io.Closer, so a
// CompressedConn can stand in for the raw/TLS conn it was built from
// without the caller needing to unwrap it first.
func (c *CompressedConn) Close() error {
	if cl, ok := c.conn.(io.Closer); ok {
		return cl.Close()
	}
	return nil
}

// Write implements io.Writer by emitting one compressed packet per call.
func (c *CompressedConn) Write(p []byte) (int, error) {
	var body []byte
	uncompressedLen := 0
	if len(p) < compressThreshold {
		body = p
	} else {
		var buf bytes.Buffer
		zw := zlib.NewWriter(&buf)
		if _, err := zw.Write(p); err != nil {
			return 0, fmt.Errorf("mysql: compressing packet: %w", err)
		}
		if err := zw.Close(); err != nil {
			return 0, fmt.Errorf("mysql: compressing packet: %w", err)
		}
		body = buf.Bytes()
		uncompressedLen = len(p)
	}

	hdr := make([]byte, 7)
	n := len(body)
	hdr[0] = byte(n)
	hdr[1] = byte(n >> 8)
	hdr[2] = byte(n >> 16)
	hdr[3] = c.seq
	c.seq++
	hdr[4] = byte(uncompressedLen)
	hdr[5] = byte(uncompressedLen >> 8)
	hdr[6] = byte(uncompressedLen >> 16)

	if _, err := c.conn.Write(hdr); err != nil {
		return 0, err
	}
	if _, err := c.conn.Write(body); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Read implements io.Reader, decompressing whole compressed packets into an
// internal buffer and serving callers from it.
func (c *CompressedConn) Read(p []byte) (int, error) {
	if c.readBuf.Len() == 0 {
		if err := c.fill(); err != nil {
			return 0, err
		}
	}
	return c.readBuf.Read(p)
}

func (c *CompressedConn) fill() error {
	hdr := make([]byte, 7)
	if _, err := io.ReadFull(c.conn, hdr); err != nil {
		return err
	}
	compLen := int(hdr[0]) | int(hdr[1])<<8 | int(hdr[2])<<16
	uncompressedLen := int(hdr[4]) | int(hdr[5])<<8 | int(hdr[6])<<16

	body := make([]byte, compLen)
	if _, err := io.ReadFull(c.conn, body); err != nil {
		return err
	}

	if uncompressedLen == 0 {
		c.readBuf.Write(body)
		return nil
	}
	zr, err := zlib.NewReader(bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("mysql: decompressing packet: %w", err)
	}
	defer zr.Close()
	if _, err := io.Copy(&c.readBuf, zr); err != nil {
		return fmt.Errorf("mysql: decompressing packet: %w", err)
	}
	return nil
}
