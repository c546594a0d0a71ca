package mysqlclient

import (
	"io"
	"net"
	"testing"

	"github.com/dbbouncer/mysqlclient/internal/wire"
)

// fakeOKServer answers every packet it receives with a minimal OK packet
// until conn is closed.
func fakeOKServer(conn net.Conn) {
	framer := wire.NewFramer(conn)
	okPayload := []byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}
	for {
		if _, err := framer.ReceivePacket(); err != nil {
			return
		}
		framer.Reset()
		if err := framer.SendPacket(okPayload); err != nil {
			return
		}
	}
}

func TestExecReturnsAffectedRows(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	conn := NewTestConnection(client, wire.ClientProtocol41)

	serverFramer := wire.NewFramer(server)
	errc := make(chan error, 1)
	go func() {
		if _, err := serverFramer.ReceivePacket(); err != nil {
			errc <- err
			return
		}
		serverFramer.Reset()
		// OK packet: affected_rows=3, last_insert_id=0, status=0, warnings=0
		w := wire.NewWriter(16)
		w.Byte(0x00)
		w.LengthEncodedInt(3)
		w.LengthEncodedInt(0)
		w.Uint16(0)
		w.Uint16(0)
		errc <- serverFramer.SendPacket(w.Bytes())
	}()

	result, err := conn.Exec("DELETE FROM t WHERE 1")
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if result.AffectedRows != 3 {
		t.Errorf("expected 3 affected rows, got %d", result.AffectedRows)
	}
	if err := <-errc; err != nil {
		t.Fatalf("fake server: %v", err)
	}
}

func TestQueryStreamsRowsThenEOF(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	conn := NewTestConnection(client, wire.ClientProtocol41)

	serverFramer := wire.NewFramer(server)
	errc := make(chan error, 1)
	go func() {
		if _, err := serverFramer.ReceivePacket(); err != nil {
			errc <- err
			return
		}
		serverFramer.Reset()

		colCount := wire.NewWriter(4)
		colCount.LengthEncodedInt(1)
		if err := serverFramer.SendPacket(colCount.Bytes()); err != nil {
			errc <- err
			return
		}
		if err := serverFramer.SendPacket(buildColumnDef("n", wire.TypeLong)); err != nil {
			errc <- err
			return
		}
		// EOF after column defs (ClientDeprecateEOF not negotiated).
		if err := serverFramer.SendPacket([]byte{wire.TagEOF, 0x00, 0x00, 0x00, 0x00}); err != nil {
			errc <- err
			return
		}

		row := wire.NewWriter(4)
		row.LengthEncodedString("42")
		if err := serverFramer.SendPacket(row.Bytes()); err != nil {
			errc <- err
			return
		}
		errc <- serverFramer.SendPacket([]byte{wire.TagEOF, 0x00, 0x00, 0x00, 0x00})
	}()

	rs, err := conn.Query("SELECT n FROM t")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	row, err := rs.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if row[0] != int64(42) {
		t.Errorf("expected int64(42), got %#v", row[0])
	}
	if _, err := rs.Next(); err != io.EOF {
		t.Errorf("expected io.EOF after the one row, got %v", err)
	}
	if err := <-errc; err != nil {
		t.Fatalf("fake server: %v", err)
	}
}

func TestQueryReturnsSqlErrorOnErrPacket(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	conn := NewTestConnection(client, wire.ClientProtocol41)

	serverFramer := wire.NewFramer(server)
	go func() {
		if _, err := serverFramer.ReceivePacket(); err != nil {
			return
		}
		serverFramer.Reset()
		payload := []byte{wire.TagErr, 0x20, 0x04, '#', '4', '2', 'S', '0', '2'}
		payload = append(payload, []byte("Table 't' doesn't exist")...)
		serverFramer.SendPacket(payload)
	}()

	_, err := conn.Query("SELECT * FROM t")
	if err == nil {
		t.Fatal("expected an error")
	}
	sqlErr, ok := err.(*SqlError)
	if !ok {
		t.Fatalf("expected *SqlError, got %T: %v", err, err)
	}
	if sqlErr.SQLState != "42S02" {
		t.Errorf("expected SQLSTATE 42S02, got %q", sqlErr.SQLState)
	}
}

func TestPingSucceeds(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()
	go fakeOKServer(server)

	conn := NewTestConnection(client, wire.ClientProtocol41)
	if err := conn.Ping(); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	conn := NewTestConnection(client, wire.ClientProtocol41)
	go serverDrain(server)

	if err := conn.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func serverDrain(conn net.Conn) {
	buf := make([]byte, 256)
	for {
		if _, err := conn.Read(buf); err != nil {
			return
		}
	}
}
