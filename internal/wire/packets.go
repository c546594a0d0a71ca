package wire

import "fmt"

// Packet tag bytes that discriminate a response within the command phase.
const (
	TagOK            byte = 0x00
	TagEOF           byte = 0xfe
	TagErr           byte = 0xff
	TagLocalInfile   byte = 0xfb
	TagAuthSwitch    byte = 0xfe
	TagAuthMoreData  byte = 0x01
)

// InitialHandshake is Protocol::HandshakeV10, the first packet the server
// sends on connect.
type InitialHandshake struct {
	ProtocolVersion byte
	ServerVersion   string
	ConnectionID    uint32
	AuthPluginData  []byte
	Capabilities    CapabilityFlags
	Charset         byte
	StatusFlags     uint16
	AuthPluginName  string
}

// DecodeInitialHandshake parses Protocol::HandshakeV10 from a packet payload.
func DecodeInitialHandshake(payload []byte) (*InitialHandshake, error) {
	r := NewReader(payload)
	ver, err := r.Byte()
	if err != nil {
		return nil, err
	}
	if ver != 10 {
		return nil, &ProtocolError{Msg: fmt.Sprintf("unsupported protocol version %d", ver)}
	}
	serverVersion, err := r.NullTerminatedString()
	if err != nil {
		return nil, err
	}
	connID, err := r.Uint32()
	if err != nil {
		return nil, err
	}
	authData1, err := r.FixedBytes(8)
	if err != nil {
		return nil, err
	}
	if err := r.Skip(1); err != nil { // filler
		return nil, err
	}
	capLow, err := r.Uint16()
	if err != nil {
		return nil, err
	}
	charset, err := r.Byte()
	if err != nil {
		return nil, err
	}
	status, err := r.Uint16()
	if err != nil {
		return nil, err
	}
	capHigh, err := r.Uint16()
	if err != nil {
		return nil, err
	}
	caps := CapabilityFlags(uint32(capLow) | uint32(capHigh)<<16)

	var authDataLen int
	if caps.Has(ClientPluginAuth) {
		b, err := r.Byte()
		if err != nil {
			return nil, err
		}
		authDataLen = int(b)
	} else {
		if err := r.Skip(1); err != nil {
			return nil, err
		}
	}
	if err := r.Skip(10); err != nil { // reserved
		return nil, err
	}

	authData := append([]byte{}, authData1...)
	if caps.Has(ClientSecureConnection) {
		part2Len := authDataLen - 8
		if part2Len < 13 {
			part2Len = 13
		}
		if part2Len > r.Len() {
			part2Len = r.Len()
		}
		part2, err := r.FixedBytes(part2Len)
		if err != nil {
			return nil, err
		}
		if len(part2) > 0 && part2[len(part2)-1] == 0 {
			part2 = part2[:len(part2)-1]
		}
		authData = append(authData, part2...)
	}

	var pluginName string
	if caps.Has(ClientPluginAuth) && r.Len() > 0 {
		pluginName, err = r.NullTerminatedString()
		if err != nil {
			// Some servers omit the trailing NUL on the plugin name.
			pluginName = string(r.Remaining())
		}
	}

	return &InitialHandshake{
		ProtocolVersion: ver,
		ServerVersion:   serverVersion,
		ConnectionID:    connID,
		AuthPluginData:  authData,
		Capabilities:    caps,
		Charset:         charset,
		StatusFlags:     status,
		AuthPluginName:  pluginName,
	}, nil
}

// HandshakeResponse41 is the client's reply to InitialHandshake.
type HandshakeResponse41 struct {
	Capabilities   CapabilityFlags
	MaxPacketSize  uint32
	Charset        byte
	Username       string
	AuthResponse   []byte
	Database       string
	AuthPluginName string
	ConnectAttrs   map[string]string
}

// Encode builds the wire bytes for a HandshakeResponse41.
func (h *HandshakeResponse41) Encode() []byte {
	w := NewWriter(64 + len(h.Username) + len(h.AuthResponse) + len(h.Database))
	w.Uint32(uint32(h.Capabilities))
	w.Uint32(h.MaxPacketSize)
	w.Byte(h.Charset)
	w.Zero(23)
	w.NullTerminatedString(h.Username)

	if h.Capabilities.Has(ClientPluginAuthLenencClientData) {
		w.LengthEncodedBytes(h.AuthResponse)
	} else if h.Capabilities.Has(ClientSecureConnection) {
		w.Byte(byte(len(h.AuthResponse)))
		w.FixedBytes(h.AuthResponse)
	} else {
		w.FixedBytes(h.AuthResponse)
		w.Byte(0)
	}

	if h.Capabilities.Has(ClientConnectWithDB) {
		w.NullTerminatedString(h.Database)
	}
	if h.Capabilities.Has(ClientPluginAuth) {
		w.NullTerminatedString(h.AuthPluginName)
	}
	if h.Capabilities.Has(ClientConnectAttrs) && len(h.ConnectAttrs) > 0 {
		attrsW := NewWriter(32)
		for k, v := range h.ConnectAttrs {
			attrsW.LengthEncodedString(k)
			attrsW.LengthEncodedString(v)
		}
		w.LengthEncodedBytes(attrsW.Bytes())
	}
	return w.Bytes()
}

// SSLRequest is sent before HandshakeResponse41 when upgrading to TLS.
type SSLRequest struct {
	Capabilities  CapabilityFlags
	MaxPacketSize uint32
	Charset       byte
}

// Encode builds the wire bytes for an SSLRequest packet.
func (s *SSLRequest) Encode() []byte {
	w := NewWriter(32)
	w.Uint32(uint32(s.Capabilities))
	w.Uint32(s.MaxPacketSize)
	w.Byte(s.Charset)
	w.Zero(23)
	return w.Bytes()
}

// AuthSwitchRequest asks the client to restart authentication with a
// different plugin and a fresh scramble.
type AuthSwitchRequest struct {
	PluginName string
	PluginData []byte
}

// DecodeAuthSwitchRequest parses an AuthSwitchRequest payload, including
// its leading 0xFE tag byte.
func DecodeAuthSwitchRequest(payload []byte) (*AuthSwitchRequest, error) {
	r := NewReader(payload)
	if err := r.Skip(1); err != nil { // tag 0xfe
		return nil, err
	}
	name, err := r.NullTerminatedString()
	if err != nil {
		return nil, err
	}
	data := append([]byte{}, r.Remaining()...)
	if len(data) > 0 && data[len(data)-1] == 0 {
		data = data[:len(data)-1]
	}
	return &AuthSwitchRequest{PluginName: name, PluginData: data}, nil
}

// AuthMoreData is a server-sent Auth-More-Data packet (tag 0x01) used by
// caching_sha2_password and sha256_password.
type AuthMoreData struct {
	Data []byte
}

// DecodeAuthMoreData parses an Auth-More-Data payload, including its
// leading 0x01 tag byte.
func DecodeAuthMoreData(payload []byte) (*AuthMoreData, error) {
	if len(payload) < 1 {
		return nil, &ProtocolError{Msg: "empty Auth-More-Data packet"}
	}
	return &AuthMoreData{Data: payload[1:]}, nil
}

// OKPacket carries the result of a successful command.
type OKPacket struct {
	AffectedRows uint64
	LastInsertID uint64
	StatusFlags  uint16
	Warnings     uint16
	Info         string
}

// DecodeOKPacket parses an OK packet (also used for the DEPRECATE_EOF
// variant of EOF, which has the same layout).
func DecodeOKPacket(payload []byte, caps CapabilityFlags) (*OKPacket, error) {
	r := NewReader(payload)
	if err := r.Skip(1); err != nil { // 0x00 or 0xfe
		return nil, err
	}
	affected, _, err := r.LengthEncodedInt()
	if err != nil {
		return nil, err
	}
	lastID, _, err := r.LengthEncodedInt()
	if err != nil {
		return nil, err
	}
	ok := &OKPacket{AffectedRows: affected, LastInsertID: lastID}
	if caps.Has(ClientProtocol41) {
		status, err := r.Uint16()
		if err != nil {
			return nil, err
		}
		warnings, err := r.Uint16()
		if err != nil {
			return nil, err
		}
		ok.StatusFlags = status
		ok.Warnings = warnings
	} else if caps.Has(ClientTransactions) {
		status, err := r.Uint16()
		if err != nil {
			return nil, err
		}
		ok.StatusFlags = status
	}
	if r.Len() > 0 {
		ok.Info = r.RestOfPacketString()
	}
	return ok, nil
}

// EOFPacket is the legacy terminal packet between column defs and rows
// (absent entirely when DEPRECATE_EOF is negotiated).
type EOFPacket struct {
	Warnings    uint16
	StatusFlags uint16
}

// DecodeEOFPacket parses a (short) EOF packet.
func DecodeEOFPacket(payload []byte) (*EOFPacket, error) {
	r := NewReader(payload)
	if err := r.Skip(1); err != nil { // 0xfe
		return nil, err
	}
	warnings, err := r.Uint16()
	if err != nil {
		return nil, err
	}
	status, err := r.Uint16()
	if err != nil {
		return nil, err
	}
	return &EOFPacket{Warnings: warnings, StatusFlags: status}, nil
}

// IsEOFPacket distinguishes a short legacy EOF packet (tag 0xFE, length <= 8
// counting the tag byte) from a length-encoded-integer column count that
// happens to start with 0xFE for very large column counts.
func IsEOFPacket(payload []byte, caps CapabilityFlags) bool {
	return len(payload) > 0 && payload[0] == TagEOF && len(payload) < 9 && !caps.Has(ClientDeprecateEOF)
}

// ErrPacket carries a server-reported SQL error.
type ErrPacket struct {
	Code     uint16
	SQLState string
	Message  string
}

// DecodeErrPacket parses an ERR packet.
func DecodeErrPacket(payload []byte, caps CapabilityFlags) (*ErrPacket, error) {
	r := NewReader(payload)
	if err := r.Skip(1); err != nil { // 0xff
		return nil, err
	}
	code, err := r.Uint16()
	if err != nil {
		return nil, err
	}
	e := &ErrPacket{Code: code}
	if caps.Has(ClientProtocol41) {
		marker, err := r.Byte()
		if err != nil {
			return nil, err
		}
		if marker == '#' {
			state, err := r.FixedBytes(5)
			if err != nil {
				return nil, err
			}
			e.SQLState = string(state)
		}
	}
	e.Message = r.RestOfPacketString()
	return e, nil
}

// ColumnDefinition41 describes one result-set column.
type ColumnDefinition41 struct {
	Catalog      string
	Schema       string
	Table        string
	OrgTable     string
	Name         string
	OrgName      string
	CharacterSet uint16
	ColumnLength uint32
	Type         ColumnType
	Flags        uint16
	Decimals     byte
}

// DecodeColumnDefinition41 parses a Column Definition packet.
func DecodeColumnDefinition41(payload []byte) (*ColumnDefinition41, error) {
	r := NewReader(payload)
	fields := make([]string, 6)
	for i := range fields {
		s, _, err := r.LengthEncodedString()
		if err != nil {
			return nil, err
		}
		fields[i] = s
	}
	if _, _, err := r.LengthEncodedInt(); err != nil { // length of fixed fields, always 0x0c
		return nil, err
	}
	charset, err := r.Uint16()
	if err != nil {
		return nil, err
	}
	colLen, err := r.Uint32()
	if err != nil {
		return nil, err
	}
	typ, err := r.Byte()
	if err != nil {
		return nil, err
	}
	flags, err := r.Uint16()
	if err != nil {
		return nil, err
	}
	decimals, err := r.Byte()
	if err != nil {
		return nil, err
	}
	return &ColumnDefinition41{
		Catalog:      fields[0],
		Schema:       fields[1],
		Table:        fields[2],
		OrgTable:     fields[3],
		Name:         fields[4],
		OrgName:      fields[5],
		CharacterSet: charset,
		ColumnLength: colLen,
		Type:         ColumnType(typ),
		Flags:        flags,
		Decimals:     decimals,
	}, nil
}

// StmtPrepareOK is the response header to COM_STMT_PREPARE, followed by
// parameter and column definitions the caller reads separately.
type StmtPrepareOK struct {
	StatementID  uint32
	ColumnCount  uint16
	ParamCount   uint16
	Warnings     uint16
}

// DecodeStmtPrepareOK parses the OK-Prepare header.
func DecodeStmtPrepareOK(payload []byte) (*StmtPrepareOK, error) {
	r := NewReader(payload)
	if err := r.Skip(1); err != nil { // 0x00
		return nil, err
	}
	stmtID, err := r.Uint32()
	if err != nil {
		return nil, err
	}
	cols, err := r.Uint16()
	if err != nil {
		return nil, err
	}
	params, err := r.Uint16()
	if err != nil {
		return nil, err
	}
	if err := r.Skip(1); err != nil { // filler
		return nil, err
	}
	warnings, err := r.Uint16()
	if err != nil {
		return nil, err
	}
	return &StmtPrepareOK{StatementID: stmtID, ColumnCount: cols, ParamCount: params, Warnings: warnings}, nil
}
