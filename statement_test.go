package mysqlclient

import (
	"net"
	"testing"

	"github.com/dbbouncer/mysqlclient/internal/wire"
)

func buildColumnDef(name string, typ wire.ColumnType) []byte {
	w := wire.NewWriter(32)
	w.LengthEncodedString("def")
	w.LengthEncodedString("") // schema
	w.LengthEncodedString("") // table
	w.LengthEncodedString("") // org_table
	w.LengthEncodedString(name)
	w.LengthEncodedString("") // org_name
	w.LengthEncodedInt(0x0c)
	w.Uint16(33) // charset
	w.Uint32(11) // column length
	w.Byte(byte(typ))
	w.Uint16(0) // flags
	w.Byte(0)   // decimals
	w.Zero(2)   // filler
	return w.Bytes()
}

func buildStmtPrepareOK(stmtID uint32, cols, params uint16) []byte {
	w := wire.NewWriter(16)
	w.Byte(0x00)
	w.Uint32(stmtID)
	w.Uint16(cols)
	w.Uint16(params)
	w.Byte(0) // filler
	w.Uint16(0) // warnings
	return w.Bytes()
}

func TestPrepareReadsParamAndColumnDefs(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	conn := NewTestConnection(client, wire.ClientProtocol41|wire.ClientDeprecateEOF)

	serverFramer := wire.NewFramer(server)
	errc := make(chan error, 1)
	go func() {
		if _, err := serverFramer.ReceivePacket(); err != nil {
			errc <- err
			return
		}
		serverFramer.Reset()
		if err := serverFramer.SendPacket(buildStmtPrepareOK(7, 1, 1)); err != nil {
			errc <- err
			return
		}
		if err := serverFramer.SendPacket(buildColumnDef("p1", wire.TypeLong)); err != nil {
			errc <- err
			return
		}
		errc <- serverFramer.SendPacket(buildColumnDef("c1", wire.TypeVarchar))
	}()

	stmt, err := conn.Prepare("SELECT ? FROM t")
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if stmt.id != 7 {
		t.Errorf("expected statement id 7, got %d", stmt.id)
	}
	if stmt.ParamCount != 1 || stmt.ColumnCount != 1 {
		t.Errorf("expected 1 param and 1 column, got %d/%d", stmt.ParamCount, stmt.ColumnCount)
	}
	if len(stmt.Columns) != 1 || stmt.Columns[0].Name != "c1" {
		t.Errorf("expected column named c1, got %+v", stmt.Columns)
	}
	if err := <-errc; err != nil {
		t.Fatalf("fake server: %v", err)
	}
}

func TestExecuteRejectsWrongParamCount(t *testing.T) {
	stmt := &PreparedStatement{ParamCount: 2}
	_, err := stmt.Execute(wire.ParamValue{})
	if err == nil {
		t.Fatal("expected an error when parameter counts mismatch")
	}
}

func TestExecuteRejectsClosedStatement(t *testing.T) {
	stmt := &PreparedStatement{closed: true}
	_, err := stmt.Execute()
	if err == nil {
		t.Fatal("expected an error when the statement is already closed")
	}
}

func TestStatementCloseIsIdempotent(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	conn := NewTestConnection(client, wire.ClientProtocol41)
	stmt := &PreparedStatement{conn: conn, id: 3}

	serverFramer := wire.NewFramer(server)
	go serverFramer.ReceivePacket() // COM_STMT_CLOSE, no response expected

	if err := stmt.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !stmt.closed {
		t.Error("expected stmt.closed to be true after Close")
	}
	// A second Close must be a no-op, not attempt another write.
	if err := stmt.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
