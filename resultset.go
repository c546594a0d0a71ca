package mysqlclient

import (
	"context"
	"fmt"
	"io"
	"math"
	"strconv"
	"time"

	"github.com/dbbouncer/mysqlclient/internal/telemetry"
	"github.com/dbbouncer/mysqlclient/internal/wire"
)

// ColumnInfo describes one result-set column, trimmed from
// wire.ColumnDefinition41 to what callers need to interpret row values.
type ColumnInfo struct {
	Name         string
	Table        string
	Type         wire.ColumnType
	Flags        uint16
	Decimals     byte
	CharacterSet uint16
}

// Row is one decoded row; each element is nil (SQL NULL), string, []byte,
// int64, uint64, float32, float64, or Temporal depending on the column
// type and the protocol (text vs binary) that produced it.
type Row []any

// Result carries the outcome of a command that did not return rows.
type Result struct {
	AffectedRows uint64
	LastInsertID uint64
	Warnings     uint16
	StatusFlags  uint16
	Info         string
}

// ResultSet streams rows from a command-phase response that returned a
// column set, per spec.md §4.4. Exactly one ResultSet may be open on a
// Connection at a time; the connection's protocol mutex is held from the
// moment the command was sent until the ResultSet is fully drained or
// explicitly closed, per the protocol-mutex invariant in spec.md §5.
type ResultSet struct {
	Columns []ColumnInfo

	conn            *Connection
	binary          bool
	caps            wire.CapabilityFlags
	stmt            *PreparedStatement // non-nil when produced by a cursor-backed Execute
	needsFirstFetch bool
	done            bool
	result          Result

	opName     string
	queryStart time.Time
	rowCount   int64
}

// Next decodes the next row, returning io.EOF once the result set is
// exhausted. The final Result (affected rows are meaningless for a row set,
// but warnings/status flags are populated) is available via LastResult
// after io.EOF.
func (rs *ResultSet) Next() (Row, error) {
	if rs.done {
		return nil, io.EOF
	}
	if rs.needsFirstFetch {
		rs.needsFirstFetch = false
		return rs.fetchMore()
	}
	payload, err := rs.conn.framer.ReceivePacket()
	if err != nil {
		rs.conn.poison()
		rs.finish()
		return nil, &IoError{Op: "reading row", Err: err}
	}
	if len(payload) == 0 {
		rs.conn.poison()
		rs.finish()
		return nil, &ProtocolError{Err: fmt.Errorf("empty row packet")}
	}

	switch {
	case payload[0] == wire.TagErr:
		ep, decErr := wire.DecodeErrPacket(payload, rs.caps)
		rs.finish()
		if decErr != nil {
			rs.conn.poison()
			return nil, &ProtocolError{Err: decErr}
		}
		return nil, &SqlError{Code: ep.Code, SQLState: ep.SQLState, Message: ep.Message}
	case rs.caps.Has(wire.ClientDeprecateEOF) && payload[0] == wire.TagEOF:
		ok, decErr := wire.DecodeOKPacket(payload, rs.caps)
		if decErr != nil {
			rs.conn.poison()
			rs.finish()
			return nil, &ProtocolError{Err: decErr}
		}
		rs.result = Result{AffectedRows: ok.AffectedRows, LastInsertID: ok.LastInsertID, Warnings: ok.Warnings, StatusFlags: ok.StatusFlags, Info: ok.Info}
		if rs.cursorMoreRows(ok.StatusFlags) {
			return rs.fetchMore()
		}
		rs.finish()
		return nil, io.EOF
	case wire.IsEOFPacket(payload, rs.caps):
		eof, decErr := wire.DecodeEOFPacket(payload)
		if decErr != nil {
			rs.conn.poison()
			rs.finish()
			return nil, &ProtocolError{Err: decErr}
		}
		rs.result = Result{Warnings: eof.Warnings, StatusFlags: eof.StatusFlags}
		if rs.cursorMoreRows(eof.StatusFlags) {
			return rs.fetchMore()
		}
		rs.finish()
		return nil, io.EOF
	}

	var row Row
	var decErr error
	if rs.binary {
		row, decErr = decodeBinaryRow(payload, rs.Columns)
	} else {
		row, decErr = decodeTextRow(payload, rs.Columns)
	}
	if decErr != nil {
		rs.conn.poison()
		rs.finish()
		return nil, &ProtocolError{Err: decErr}
	}
	rs.rowCount++
	return row, nil
}

// cursorMoreRows reports whether a cursor-backed statement has more rows
// to fetch via COM_STMT_FETCH, per spec.md §9's cursor/prep-stmt decision.
func (rs *ResultSet) cursorMoreRows(status uint16) bool {
	if rs.stmt == nil {
		return false
	}
	return status&wire.ServerStatusCursorExists != 0 && status&wire.ServerStatusLastRowSent == 0
}

func (rs *ResultSet) fetchMore() (Row, error) {
	if err := rs.conn.sendCommand(wire.BuildComStmtFetch(rs.stmt.id, 1)); err != nil {
		rs.conn.poison()
		rs.finish()
		return nil, err
	}
	return rs.Next()
}

// LastResult returns the OK/EOF-carried status after the result set has
// been fully drained (Next returned io.EOF).
func (rs *ResultSet) LastResult() Result { return rs.result }

// Close drains any remaining rows and releases the connection's protocol
// mutex. Safe to call more than once.
func (rs *ResultSet) Close() error {
	for !rs.done {
		if _, err := rs.Next(); err != nil {
			if err == io.EOF {
				break
			}
			return err
		}
	}
	return nil
}

func (rs *ResultSet) finish() {
	if rs.done {
		return
	}
	rs.done = true
	rs.recordMetrics()
	rs.conn.mu.Unlock()
}

// recordMetrics reports this result set's duration and row count through
// the connection's telemetry facade, per spec.md §4.6. Called once per
// ResultSet, either from finish() once draining completes or directly by
// the issuing command when no column set was ever opened.
func (rs *ResultSet) recordMetrics() {
	ctx := context.Background()
	attr := telemetry.String("operation", rs.opName)
	rs.conn.cfg.Telemetry.RecordOperationDuration(ctx, time.Since(rs.queryStart), attr)
	rs.conn.cfg.Telemetry.RecordReturnedRows(ctx, rs.rowCount, attr)
}

func decodeTextRow(payload []byte, columns []ColumnInfo) (Row, error) {
	r := wire.NewReader(payload)
	row := make(Row, len(columns))
	for i, col := range columns {
		s, ok, err := r.LengthEncodedString()
		if err != nil {
			return nil, err
		}
		if !ok {
			row[i] = nil
			continue
		}
		row[i] = convertTextValue(col, s)
	}
	return row, nil
}

func convertTextValue(col ColumnInfo, s string) any {
	unsigned := col.Flags&wire.ColumnFlagUnsigned != 0
	switch col.Type {
	case wire.TypeTiny, wire.TypeShort, wire.TypeLong, wire.TypeInt24, wire.TypeLongLong, wire.TypeYear:
		if unsigned {
			if v, err := strconv.ParseUint(s, 10, 64); err == nil {
				return v
			}
			return s
		}
		if v, err := strconv.ParseInt(s, 10, 64); err == nil {
			return v
		}
		return s
	case wire.TypeFloat:
		if v, err := strconv.ParseFloat(s, 32); err == nil {
			return float32(v)
		}
		return s
	case wire.TypeDouble:
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			return v
		}
		return s
	default:
		return s
	}
}

func decodeBinaryRow(payload []byte, columns []ColumnInfo) (Row, error) {
	r := wire.NewReader(payload)
	if _, err := r.Byte(); err != nil { // leading 0x00
		return nil, err
	}
	bitmapLen := (len(columns) + 7 + 2) / 8
	bitmap, err := r.FixedBytes(bitmapLen)
	if err != nil {
		return nil, err
	}
	row := make(Row, len(columns))
	for i, col := range columns {
		bytePos := (i + 2) / 8
		bitPos := uint((i + 2) % 8)
		if bitmap[bytePos]&(1<<bitPos) != 0 {
			row[i] = nil
			continue
		}
		v, err := decodeBinaryValue(r, col)
		if err != nil {
			return nil, err
		}
		row[i] = v
	}
	return row, nil
}

func decodeBinaryValue(r *wire.Reader, col ColumnInfo) (any, error) {
	unsigned := col.Flags&wire.ColumnFlagUnsigned != 0
	switch col.Type {
	case wire.TypeTiny:
		b, err := r.Byte()
		if err != nil {
			return nil, err
		}
		if unsigned {
			return uint64(b), nil
		}
		return int64(int8(b)), nil
	case wire.TypeShort, wire.TypeYear:
		v, err := r.Uint16()
		if err != nil {
			return nil, err
		}
		if unsigned {
			return uint64(v), nil
		}
		return int64(int16(v)), nil
	case wire.TypeLong, wire.TypeInt24:
		v, err := r.Uint32()
		if err != nil {
			return nil, err
		}
		if unsigned {
			return uint64(v), nil
		}
		return int64(int32(v)), nil
	case wire.TypeLongLong:
		v, err := r.Uint64()
		if err != nil {
			return nil, err
		}
		if unsigned {
			return v, nil
		}
		return int64(v), nil
	case wire.TypeFloat:
		v, err := r.Uint32()
		if err != nil {
			return nil, err
		}
		return math.Float32frombits(v), nil
	case wire.TypeDouble:
		v, err := r.Uint64()
		if err != nil {
			return nil, err
		}
		return math.Float64frombits(v), nil
	case wire.TypeDate, wire.TypeDatetime, wire.TypeTimestamp:
		n, err := r.Byte()
		if err != nil {
			return nil, err
		}
		return wire.DecodeDatetime(r, n)
	case wire.TypeTime:
		n, err := r.Byte()
		if err != nil {
			return nil, err
		}
		return wire.DecodeTime(r, n)
	default:
		b, ok, err := r.LengthEncodedBytes()
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, nil
		}
		return b, nil
	}
}
