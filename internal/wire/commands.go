package wire

// Command codes for the COM_* request packets.
const (
	ComQuit             byte = 0x01
	ComInitDB           byte = 0x02
	ComQuery            byte = 0x03
	ComStatistics       byte = 0x09
	ComPing             byte = 0x0e
	ComChangeUser       byte = 0x11
	ComStmtPrepare      byte = 0x16
	ComStmtExecute      byte = 0x17
	ComStmtSendLongData byte = 0x18
	ComStmtClose        byte = 0x19
	ComStmtReset        byte = 0x1a
	ComSetOption        byte = 0x1b
	ComStmtFetch        byte = 0x1c
	ComResetConnection  byte = 0x1f
)

// cursor type flags for COM_STMT_EXECUTE.
const (
	CursorTypeNoCursor  byte = 0x00
	CursorTypeReadOnly  byte = 0x01
)

// BuildSimpleCommand builds a single-byte-opcode command packet (COM_QUIT,
// COM_PING, COM_RESET_CONNECTION, COM_STATISTICS).
func BuildSimpleCommand(cmd byte) []byte {
	return []byte{cmd}
}

// BuildComQuery builds a COM_QUERY request.
func BuildComQuery(sql string) []byte {
	w := NewWriter(len(sql) + 1)
	w.Byte(ComQuery)
	w.RawString(sql)
	return w.Bytes()
}

// BuildComInitDB builds a COM_INIT_DB request.
func BuildComInitDB(schema string) []byte {
	w := NewWriter(len(schema) + 1)
	w.Byte(ComInitDB)
	w.RawString(schema)
	return w.Bytes()
}

// BuildComStmtPrepare builds a COM_STMT_PREPARE request.
func BuildComStmtPrepare(sql string) []byte {
	w := NewWriter(len(sql) + 1)
	w.Byte(ComStmtPrepare)
	w.RawString(sql)
	return w.Bytes()
}

// BuildComStmtClose builds a COM_STMT_CLOSE request. No response is expected.
func BuildComStmtClose(stmtID uint32) []byte {
	w := NewWriter(5)
	w.Byte(ComStmtClose)
	w.Uint32(stmtID)
	return w.Bytes()
}

// BuildComStmtReset builds a COM_STMT_RESET request.
func BuildComStmtReset(stmtID uint32) []byte {
	w := NewWriter(5)
	w.Byte(ComStmtReset)
	w.Uint32(stmtID)
	return w.Bytes()
}

// BuildComStmtSendLongData builds a COM_STMT_SEND_LONG_DATA request. No
// response is expected.
func BuildComStmtSendLongData(stmtID uint32, paramIndex uint16, data []byte) []byte {
	w := NewWriter(7 + len(data))
	w.Byte(ComStmtSendLongData)
	w.Uint32(stmtID)
	w.Uint16(paramIndex)
	w.FixedBytes(data)
	return w.Bytes()
}

// BuildComStmtFetch builds a COM_STMT_FETCH request for n rows.
func BuildComStmtFetch(stmtID uint32, n uint32) []byte {
	w := NewWriter(9)
	w.Byte(ComStmtFetch)
	w.Uint32(stmtID)
	w.Uint32(n)
	return w.Bytes()
}

// BuildComChangeUser builds a COM_CHANGE_USER request.
func BuildComChangeUser(username string, authResponse []byte, database string, charset byte, authPluginName string) []byte {
	w := NewWriter(32 + len(username) + len(authResponse) + len(database))
	w.Byte(ComChangeUser)
	w.NullTerminatedString(username)
	w.Byte(byte(len(authResponse)))
	w.FixedBytes(authResponse)
	w.NullTerminatedString(database)
	w.Uint16(uint16(charset))
	w.NullTerminatedString(authPluginName)
	return w.Bytes()
}

// BuildComSetOption builds a COM_SET_OPTION request. optOn selects
// MYSQL_OPTION_MULTI_STATEMENTS_ON (0) vs _OFF (1).
func BuildComSetOption(optOn bool) []byte {
	w := NewWriter(3)
	w.Byte(ComSetOption)
	if optOn {
		w.Uint16(0)
	} else {
		w.Uint16(1)
	}
	return w.Bytes()
}

// ParamValue is one bound parameter for COM_STMT_EXECUTE: a MySQL binary
// column type code plus its already-encoded binary representation.
type ParamValue struct {
	Type     ColumnType
	Unsigned bool
	Null     bool
	Data     []byte
}

// BuildComStmtExecute builds a COM_STMT_EXECUTE request carrying bound
// parameters in the binary protocol's null-bitmap + typed-value layout.
func BuildComStmtExecute(stmtID uint32, cursorType byte, params []ParamValue) []byte {
	w := NewWriter(64)
	w.Byte(ComStmtExecute)
	w.Uint32(stmtID)
	w.Byte(cursorType)
	w.Uint32(1) // iteration count, always 1

	if len(params) > 0 {
		bitmapLen := (len(params) + 7) / 8
		bitmap := make([]byte, bitmapLen)
		for i, p := range params {
			if p.Null {
				bitmap[i/8] |= 1 << uint(i%8)
			}
		}
		w.FixedBytes(bitmap)
		w.Byte(1) // new-params-bound flag
		for _, p := range params {
			typeByte := byte(p.Type)
			if p.Unsigned {
				typeByte |= 0x80
			}
			w.Byte(typeByte)
			w.Byte(0) // reserved flag byte
		}
		for _, p := range params {
			if !p.Null {
				w.FixedBytes(p.Data)
			}
		}
	}
	return w.Bytes()
}
