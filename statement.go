package mysqlclient

import (
	"fmt"
	"time"

	"github.com/dbbouncer/mysqlclient/internal/wire"
)

// PreparedStatement is a server-side prepared statement, per spec.md §3's
// PreparedStatement type. Its lifecycle is tied to the connection that
// created it; it is closed explicitly via Close or implicitly when the
// connection is evicted.
type PreparedStatement struct {
	conn        *Connection
	id          uint32
	ParamCount  int
	ColumnCount int
	Columns     []ColumnInfo
	cursor      bool
	closed      bool
}

// Prepare sends COM_STMT_PREPARE and reads back the statement handle plus
// its parameter and result column metadata, per spec.md §4.4.
func (c *Connection) Prepare(sql string) (*PreparedStatement, error) {
	c.mu.Lock()
	if err := c.sendCommand(wire.BuildComStmtPrepare(sql)); err != nil {
		c.mu.Unlock()
		return nil, err
	}

	payload, err := c.framer.ReceivePacket()
	if err != nil {
		c.poison()
		c.mu.Unlock()
		return nil, &IoError{Op: "reading prepare response", Err: err}
	}
	if len(payload) > 0 && payload[0] == wire.TagErr {
		ep, decErr := wire.DecodeErrPacket(payload, c.caps)
		c.mu.Unlock()
		if decErr != nil {
			return nil, &ProtocolError{Err: decErr}
		}
		return nil, &SqlError{Code: ep.Code, SQLState: ep.SQLState, Message: ep.Message}
	}
	header, err := wire.DecodeStmtPrepareOK(payload)
	if err != nil {
		c.poison()
		c.mu.Unlock()
		return nil, &ProtocolError{Err: err}
	}

	if err := c.skipDefs(int(header.ParamCount)); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	columns, err := c.readDefs(int(header.ColumnCount))
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}
	c.mu.Unlock()

	useCursor := c.cfg.UseCursorFetch && c.cfg.UseServerPrepStmts && header.ColumnCount > 0
	return &PreparedStatement{
		conn:        c,
		id:          header.StatementID,
		ParamCount:  int(header.ParamCount),
		ColumnCount: int(header.ColumnCount),
		Columns:     columns,
		cursor:      useCursor,
	}, nil
}

// skipDefs reads and discards n column-definition packets plus the
// trailing EOF when DEPRECATE_EOF is not negotiated — used for the
// parameter-definitions block of a COM_STMT_PREPARE response, which this
// client has no use for beyond its count.
func (c *Connection) skipDefs(n int) error {
	if n == 0 {
		return nil
	}
	for i := 0; i < n; i++ {
		if _, err := c.framer.ReceivePacket(); err != nil {
			c.poison()
			return &IoError{Op: "reading parameter definition", Err: err}
		}
	}
	if !c.caps.Has(wire.ClientDeprecateEOF) {
		if _, err := c.framer.ReceivePacket(); err != nil {
			c.poison()
			return &IoError{Op: "reading parameter definitions EOF", Err: err}
		}
	}
	return nil
}

func (c *Connection) readDefs(n int) ([]ColumnInfo, error) {
	if n == 0 {
		return nil, nil
	}
	columns := make([]ColumnInfo, n)
	for i := 0; i < n; i++ {
		payload, err := c.framer.ReceivePacket()
		if err != nil {
			c.poison()
			return nil, &IoError{Op: "reading column definition", Err: err}
		}
		cd, err := wire.DecodeColumnDefinition41(payload)
		if err != nil {
			c.poison()
			return nil, &ProtocolError{Err: err}
		}
		columns[i] = ColumnInfo{Name: cd.Name, Table: cd.Table, Type: cd.Type, Flags: cd.Flags, Decimals: cd.Decimals, CharacterSet: cd.CharacterSet}
	}
	if !c.caps.Has(wire.ClientDeprecateEOF) {
		if _, err := c.framer.ReceivePacket(); err != nil {
			c.poison()
			return nil, &IoError{Op: "reading column definitions EOF", Err: err}
		}
	}
	return columns, nil
}

// Execute sends COM_STMT_EXECUTE with the bound parameters and returns the
// resulting binary-protocol ResultSet. A read-only cursor is opened when
// the statement was prepared with cursor fetching enabled, per spec.md §9.
func (stmt *PreparedStatement) Execute(params ...wire.ParamValue) (*ResultSet, error) {
	if stmt.closed {
		return nil, fmt.Errorf("mysql: statement is closed")
	}
	if len(params) != stmt.ParamCount {
		return nil, fmt.Errorf("mysql: statement expects %d parameters, got %d", stmt.ParamCount, len(params))
	}
	c := stmt.conn
	cursorType := wire.CursorTypeNoCursor
	if stmt.cursor {
		cursorType = wire.CursorTypeReadOnly
	}

	start := time.Now()
	c.mu.Lock()
	if err := c.sendCommand(wire.BuildComStmtExecute(stmt.id, cursorType, params)); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	rs, result, err := c.readResultSetHeader(true, stmt)
	if err != nil {
		return nil, err
	}
	if rs == nil {
		// no column set: the statement was a DML/DDL, not a SELECT. The
		// mutex was already released by readResultSetHeader.
		rs = &ResultSet{conn: c, binary: true, caps: c.caps, done: true, result: result, opName: "execute", queryStart: start}
		rs.recordMetrics()
		return rs, nil
	}
	rs.opName = "execute"
	rs.queryStart = start
	return rs, nil
}

// Close sends COM_STMT_CLOSE. No response is expected from the server.
func (stmt *PreparedStatement) Close() error {
	if stmt.closed {
		return nil
	}
	stmt.closed = true
	c := stmt.conn
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sendCommand(wire.BuildComStmtClose(stmt.id))
}

// Reset sends COM_STMT_RESET, clearing any buffered parameter data and
// cursor state while keeping the statement prepared.
func (stmt *PreparedStatement) Reset() error {
	c := stmt.conn
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.sendCommand(wire.BuildComStmtReset(stmt.id)); err != nil {
		return err
	}
	_, err := c.readGenericResponse()
	return err
}

// SendLongData streams a chunk of data for a parameter too large to bind
// directly, via COM_STMT_SEND_LONG_DATA. No response is expected.
func (stmt *PreparedStatement) SendLongData(paramIndex uint16, data []byte) error {
	c := stmt.conn
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sendCommand(wire.BuildComStmtSendLongData(stmt.id, paramIndex, data))
}
