package mysqlclient

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dbbouncer/mysqlclient/internal/auth"
	"github.com/dbbouncer/mysqlclient/internal/wire"
)

// Connection owns a framer and the session state described in spec.md §3:
// autocommit, isolation level, read-only flag, current catalog, server
// status, warnings, negotiated capability flags, and charset. Every
// command-phase operation is serialized by mu, the protocol mutex held
// across the full request/response exchange — no suspension is permitted
// between writing a command and reading its terminal packet while mu is
// held, per spec.md §5. mu is the only reachable path to the framer's
// ReceivePacket/SendPacket; there is no raw read/write exposed without it.
type Connection struct {
	mu     sync.Mutex
	conn   wire.Conn
	framer *wire.Framer
	caps   wire.CapabilityFlags
	cfg    DialConfig
	logger *slog.Logger

	ID        string
	createdAt time.Time

	broken atomic.Bool
	closed atomic.Bool

	autocommit bool
	readOnly   bool
	catalog    string
}

func newConnection(conn wire.Conn, framer *wire.Framer, caps wire.CapabilityFlags, cfg DialConfig) *Connection {
	id := uuid.NewString()
	return &Connection{
		conn:       conn,
		framer:     framer,
		caps:       caps,
		cfg:        cfg,
		logger:     cfg.Logger.With("conn_id", id),
		ID:         id,
		createdAt:  time.Now(),
		autocommit: true,
		catalog:    cfg.Database,
	}
}

// Dial opens a single unpooled connection to the server described by cfg.
func Dial(ctx context.Context, cfg DialConfig) (*Connection, error) {
	return dial(ctx, cfg)
}

// Broken reports whether a fatal I/O or protocol error has poisoned this
// connection; the pool removes it on release instead of returning it to
// the idle set.
func (c *Connection) Broken() bool { return c.broken.Load() }

func (c *Connection) poison() { c.broken.Store(true) }

// sequenceResetter is implemented by CompressedConn: the compression
// sequence id is independent of the inner packet sequence id but resets at
// the same points.
type sequenceResetter interface{ ResetSequence() }

// sendCommand resets the sequence id and writes a single request packet,
// per spec.md §4.4's "each command starts by resetting the sequence id to
// 0". Callers must hold mu.
func (c *Connection) sendCommand(payload []byte) error {
	c.framer.Reset()
	if sr, ok := c.conn.(sequenceResetter); ok {
		sr.ResetSequence()
	}
	if err := c.framer.SendPacket(payload); err != nil {
		c.poison()
		return &IoError{Op: "sending command", Err: err}
	}
	return nil
}

// readGenericResponse reads a single OK/ERR response, used by commands that
// never return a result set (COM_INIT_DB, COM_PING, COM_RESET_CONNECTION,
// COM_STMT_RESET). Callers must hold mu and release it themselves.
func (c *Connection) readGenericResponse() (*wire.OKPacket, error) {
	payload, err := c.framer.ReceivePacket()
	if err != nil {
		c.poison()
		return nil, &IoError{Op: "reading response", Err: err}
	}
	if len(payload) == 0 {
		c.poison()
		return nil, &ProtocolError{Err: fmt.Errorf("empty response packet")}
	}
	switch payload[0] {
	case wire.TagOK:
		return wire.DecodeOKPacket(payload, c.caps)
	case wire.TagErr:
		ep, err := wire.DecodeErrPacket(payload, c.caps)
		if err != nil {
			c.poison()
			return nil, &ProtocolError{Err: err}
		}
		return nil, &SqlError{Code: ep.Code, SQLState: ep.SQLState, Message: ep.Message}
	default:
		c.poison()
		return nil, &ProtocolError{Err: fmt.Errorf("unexpected response tag 0x%02x", payload[0])}
	}
}

// readResultSetHeader reads the response to a command that may return
// rows (COM_QUERY, COM_STMT_EXECUTE): an OK packet, an ERR packet, a
// LOCAL INFILE request (aborted per spec.md §9), or a column count
// followed by column definitions. Callers must hold mu; on every path
// except the successful column-set path, mu is released before returning.
func (c *Connection) readResultSetHeader(binary bool, stmt *PreparedStatement) (*ResultSet, Result, error) {
	payload, err := c.framer.ReceivePacket()
	if err != nil {
		c.poison()
		c.mu.Unlock()
		return nil, Result{}, &IoError{Op: "reading command response", Err: err}
	}
	if len(payload) == 0 {
		c.poison()
		c.mu.Unlock()
		return nil, Result{}, &ProtocolError{Err: fmt.Errorf("empty command response")}
	}

	switch {
	case payload[0] == wire.TagOK || (payload[0] == wire.TagEOF && len(payload) <= 8 && c.caps.Has(wire.ClientDeprecateEOF)):
		ok, decErr := wire.DecodeOKPacket(payload, c.caps)
		c.mu.Unlock()
		if decErr != nil {
			return nil, Result{}, &ProtocolError{Err: decErr}
		}
		return nil, Result{AffectedRows: ok.AffectedRows, LastInsertID: ok.LastInsertID, Warnings: ok.Warnings, StatusFlags: ok.StatusFlags, Info: ok.Info}, nil

	case payload[0] == wire.TagErr:
		ep, decErr := wire.DecodeErrPacket(payload, c.caps)
		c.mu.Unlock()
		if decErr != nil {
			return nil, Result{}, &ProtocolError{Err: decErr}
		}
		return nil, Result{}, &SqlError{Code: ep.Code, SQLState: ep.SQLState, Message: ep.Message}

	case payload[0] == wire.TagLocalInfile:
		abortErr := c.framer.SendPacket(nil)
		if abortErr == nil {
			_, _ = c.framer.ReceivePacket() // server's terminal ERR for the aborted transfer
		}
		c.mu.Unlock()
		if abortErr != nil {
			return nil, Result{}, &IoError{Op: "aborting LOCAL INFILE", Err: abortErr}
		}
		return nil, Result{}, fmt.Errorf("mysql: server requested LOCAL INFILE, which this client does not support")

	default:
		r := wire.NewReader(payload)
		n, ok, decErr := r.LengthEncodedInt()
		if decErr != nil || !ok {
			c.poison()
			c.mu.Unlock()
			if decErr != nil {
				return nil, Result{}, &ProtocolError{Err: decErr}
			}
			return nil, Result{}, &ProtocolError{Err: fmt.Errorf("malformed column count")}
		}
		columns, err := c.readDefs(int(n))
		if err != nil {
			c.mu.Unlock()
			return nil, Result{}, err
		}

		rs := &ResultSet{Columns: columns, conn: c, binary: binary, caps: c.caps, stmt: stmt}
		if stmt != nil && stmt.cursor {
			cursorExists, err := c.readCursorMarker()
			if err != nil {
				c.mu.Unlock()
				return nil, Result{}, err
			}
			rs.needsFirstFetch = cursorExists
			if !cursorExists {
				// Cursor negotiation is only meaningful under DEPRECATE_EOF;
				// without it the EOF consumed by readDefs already served as
				// the marker and rows follow immediately.
			}
		}
		return rs, Result{}, nil
	}
}

// readCursorMarker reads the EOF-shaped packet MySQL sends after column
// definitions for a cursor-backed COM_STMT_EXECUTE even when
// DEPRECATE_EOF is negotiated, reporting whether SERVER_STATUS_CURSOR_EXISTS
// was set (meaning no rows were sent and COM_STMT_FETCH is required).
func (c *Connection) readCursorMarker() (bool, error) {
	if !c.caps.Has(wire.ClientDeprecateEOF) {
		return false, nil // readDefs already consumed the EOF for this path
	}
	payload, err := c.framer.ReceivePacket()
	if err != nil {
		c.poison()
		return false, &IoError{Op: "reading cursor marker", Err: err}
	}
	eof, err := wire.DecodeEOFPacket(payload)
	if err != nil {
		c.poison()
		return false, &ProtocolError{Err: err}
	}
	return eof.StatusFlags&wire.ServerStatusCursorExists != 0, nil
}

// Query sends COM_QUERY and returns a ResultSet streaming the response,
// per spec.md §4.4. For a statement with no result columns, the returned
// ResultSet is already drained and LastResult reports the affected rows.
func (c *Connection) Query(sql string) (*ResultSet, error) {
	start := time.Now()
	c.mu.Lock()
	if err := c.sendCommand(wire.BuildComQuery(sql)); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	rs, result, err := c.readResultSetHeader(false, nil)
	if err != nil {
		return nil, err
	}
	if rs == nil {
		rs = &ResultSet{conn: c, caps: c.caps, done: true, result: result, opName: "query", queryStart: start}
		rs.recordMetrics()
		return rs, nil
	}
	rs.opName = "query"
	rs.queryStart = start
	return rs, nil
}

// Exec runs sql and returns its Result, discarding any row set (useful for
// DML/DDL where no rows are expected).
func (c *Connection) Exec(sql string) (Result, error) {
	rs, err := c.Query(sql)
	if err != nil {
		return Result{}, err
	}
	if err := rs.Close(); err != nil {
		return Result{}, err
	}
	return rs.LastResult(), nil
}

// InitDB selects the default database/catalog via COM_INIT_DB.
func (c *Connection) InitDB(schema string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.sendCommand(wire.BuildComInitDB(schema)); err != nil {
		return err
	}
	if _, err := c.readGenericResponse(); err != nil {
		return err
	}
	c.catalog = schema
	return nil
}

// Ping sends COM_PING, verifying the server is reachable.
func (c *Connection) Ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.sendCommand(wire.BuildSimpleCommand(wire.ComPing)); err != nil {
		return err
	}
	_, err := c.readGenericResponse()
	return err
}

// ResetSession sends COM_RESET_CONNECTION, clearing session state
// (transaction, temp tables, prepared statements) while keeping the
// socket and authentication.
func (c *Connection) ResetSession() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.sendCommand(wire.BuildSimpleCommand(wire.ComResetConnection)); err != nil {
		return err
	}
	if _, err := c.readGenericResponse(); err != nil {
		return err
	}
	c.autocommit = true
	c.readOnly = false
	return nil
}

// Statistics sends COM_STATISTICS and returns the server's plain-text
// status line.
func (c *Connection) Statistics() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.sendCommand(wire.BuildSimpleCommand(wire.ComStatistics)); err != nil {
		return "", err
	}
	payload, err := c.framer.ReceivePacket()
	if err != nil {
		c.poison()
		return "", &IoError{Op: "reading statistics", Err: err}
	}
	return string(payload), nil
}

// SetMultiStatements toggles MYSQL_OPTION_MULTI_STATEMENTS via
// COM_SET_OPTION.
func (c *Connection) SetMultiStatements(on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.sendCommand(wire.BuildComSetOption(on)); err != nil {
		return err
	}
	_, err := c.readGenericResponse()
	return err
}

// ChangeUser re-authenticates the connection as a different user via
// COM_CHANGE_USER, resetting all session state.
func (c *Connection) ChangeUser(username, password, database string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	// mysql_native_password requires a fresh scramble that only the
	// server's AuthSwitchRequest provides, so the initial response sent
	// here is empty; completeAuthExchange drives the switch to whatever
	// plugin the server names, same as the initial handshake.
	if err := c.sendCommand(wire.BuildComChangeUser(username, nil, database, defaultCharset, "mysql_native_password")); err != nil {
		return err
	}
	pubKeyFn := func() ([]byte, error) {
		if !c.cfg.AllowPublicKeyRetrieval {
			return nil, &AuthError{Message: "server requested RSA public key retrieval but AllowPublicKeyRetrieval is false"}
		}
		return requestPublicKey(c.framer)
	}
	if _, err := completeAuthExchange(c.framer, auth.NativePassword{}, password, nil, false, pubKeyFn, c.caps); err != nil {
		return err
	}
	c.catalog = database
	c.autocommit = true
	c.readOnly = false
	return nil
}

// Commit issues COMMIT as a COM_QUERY.
func (c *Connection) Commit() error {
	_, err := c.Exec("COMMIT")
	return err
}

// Rollback issues ROLLBACK as a COM_QUERY.
func (c *Connection) Rollback() error {
	_, err := c.Exec("ROLLBACK")
	return err
}

// SetAutocommit issues SET autocommit=0/1 and tracks the local state.
func (c *Connection) SetAutocommit(on bool) error {
	sql := "SET autocommit=0"
	if on {
		sql = "SET autocommit=1"
	}
	if _, err := c.Exec(sql); err != nil {
		return err
	}
	c.autocommit = on
	return nil
}

// SetReadOnly issues SET TRANSACTION READ ONLY/READ WRITE and tracks the
// local state.
func (c *Connection) SetReadOnly(readOnly bool) error {
	sql := "SET TRANSACTION READ WRITE"
	if readOnly {
		sql = "SET TRANSACTION READ ONLY"
	}
	if _, err := c.Exec(sql); err != nil {
		return err
	}
	c.readOnly = readOnly
	return nil
}

// SetIsolation issues SET TRANSACTION ISOLATION LEVEL <level>. level must
// be a valid MySQL isolation level string, e.g. "REPEATABLE READ".
func (c *Connection) SetIsolation(level string) error {
	_, err := c.Exec(fmt.Sprintf("SET TRANSACTION ISOLATION LEVEL %s", level))
	return err
}

// Savepoint issues SAVEPOINT <name>.
func (c *Connection) Savepoint(name string) error {
	_, err := c.Exec(fmt.Sprintf("SAVEPOINT %s", name))
	return err
}

// ReleaseSavepoint issues RELEASE SAVEPOINT <name>.
func (c *Connection) ReleaseSavepoint(name string) error {
	_, err := c.Exec(fmt.Sprintf("RELEASE SAVEPOINT %s", name))
	return err
}

// RollbackToSavepoint issues ROLLBACK TO SAVEPOINT <name>.
func (c *Connection) RollbackToSavepoint(name string) error {
	_, err := c.Exec(fmt.Sprintf("ROLLBACK TO SAVEPOINT %s", name))
	return err
}

// Autocommit reports the last-known autocommit state.
func (c *Connection) Autocommit() bool { return c.autocommit }

// ReadOnly reports the last-known read-only state.
func (c *Connection) ReadOnly() bool { return c.readOnly }

// Catalog reports the current default database/catalog.
func (c *Connection) Catalog() string { return c.catalog }

// Close sends COM_QUIT and closes the underlying socket. No response is
// expected. Safe to call more than once.
func (c *Connection) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.framer.Reset()
	_ = c.framer.SendPacket(wire.BuildSimpleCommand(wire.ComQuit))
	return closeConn(c.conn)
}

// NewTestConnection wraps conn as a ready-to-use Connection without dialing
// or authenticating, for tests that need a Connection whose network side is
// a net.Pipe or similar fake. Mirrors the teacher's InjectTestConn escape
// hatch for the pool's idle list.
func NewTestConnection(conn wire.Conn, caps wire.CapabilityFlags) *Connection {
	return newConnection(conn, wire.NewFramer(conn), caps, DialConfig{}.withPoolDefaults())
}

func closeConn(conn wire.Conn) error {
	type closer interface{ Close() error }
	if cl, ok := conn.(closer); ok {
		return cl.Close()
	}
	return nil
}
