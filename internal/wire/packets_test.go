package wire

import (
	"bytes"
	"testing"
)

func buildFakeInitialHandshake(pluginName string, scramble []byte) []byte {
	w := NewWriter(64)
	w.Byte(10)
	w.NullTerminatedString("8.0.34-fake")
	w.Uint32(42)
	w.FixedBytes(scramble[:8])
	w.Byte(0) // filler
	caps := uint32(DefaultClientCapabilities | ClientPluginAuth)
	w.Uint16(uint16(caps))
	w.Byte(0x21)  // charset
	w.Uint16(0x0002)
	w.Uint16(uint16(caps >> 16))
	w.Byte(byte(len(scramble) + 1))
	w.Zero(10)
	rest := append(append([]byte{}, scramble[8:]...), 0)
	w.FixedBytes(rest)
	w.NullTerminatedString(pluginName)
	return w.Bytes()
}

func TestDecodeInitialHandshakeRoundTrip(t *testing.T) {
	scramble := []byte("01234567890123456789")
	payload := buildFakeInitialHandshake("mysql_native_password", scramble)

	hs, err := DecodeInitialHandshake(payload)
	if err != nil {
		t.Fatal(err)
	}
	if hs.ProtocolVersion != 10 {
		t.Errorf("protocol version: got %d", hs.ProtocolVersion)
	}
	if hs.ServerVersion != "8.0.34-fake" {
		t.Errorf("server version: got %q", hs.ServerVersion)
	}
	if hs.ConnectionID != 42 {
		t.Errorf("connection id: got %d", hs.ConnectionID)
	}
	if hs.AuthPluginName != "mysql_native_password" {
		t.Errorf("plugin name: got %q", hs.AuthPluginName)
	}
	if !bytes.Equal(hs.AuthPluginData, scramble) {
		t.Errorf("auth plugin data: got %q, want %q", hs.AuthPluginData, scramble)
	}
}

func TestHandshakeResponse41EncodeDecodeShape(t *testing.T) {
	resp := &HandshakeResponse41{
		Capabilities:   DefaultClientCapabilities | ClientConnectWithDB,
		MaxPacketSize:  1 << 24,
		Charset:        0x21,
		Username:       "alice",
		AuthResponse:   []byte{1, 2, 3, 4},
		Database:       "testdb",
		AuthPluginName: "mysql_native_password",
	}
	encoded := resp.Encode()

	r := NewReader(encoded)
	caps, _ := r.Uint32()
	if CapabilityFlags(caps) != resp.Capabilities {
		t.Fatalf("capabilities round trip: got %x want %x", caps, resp.Capabilities)
	}
	maxPkt, _ := r.Uint32()
	if maxPkt != resp.MaxPacketSize {
		t.Fatalf("max packet size: got %d", maxPkt)
	}
	charset, _ := r.Byte()
	if charset != resp.Charset {
		t.Fatalf("charset: got %x", charset)
	}
	r.Skip(23)
	user, err := r.NullTerminatedString()
	if err != nil || user != "alice" {
		t.Fatalf("username: got %q err=%v", user, err)
	}
	authLen, _ := r.Byte()
	if int(authLen) != len(resp.AuthResponse) {
		t.Fatalf("auth response length: got %d", authLen)
	}
	authResp, _ := r.FixedBytes(int(authLen))
	if !bytes.Equal(authResp, resp.AuthResponse) {
		t.Fatalf("auth response: got %v", authResp)
	}
	db, err := r.NullTerminatedString()
	if err != nil || db != "testdb" {
		t.Fatalf("database: got %q err=%v", db, err)
	}
	plugin, err := r.NullTerminatedString()
	if err != nil || plugin != "mysql_native_password" {
		t.Fatalf("plugin name: got %q err=%v", plugin, err)
	}
}

func TestDecodeOKPacket(t *testing.T) {
	w := NewWriter(16)
	w.Byte(0x00)
	w.LengthEncodedInt(5)
	w.LengthEncodedInt(99)
	w.Uint16(ServerStatusAutocommit)
	w.Uint16(0)

	ok, err := DecodeOKPacket(w.Bytes(), ClientProtocol41)
	if err != nil {
		t.Fatal(err)
	}
	if ok.AffectedRows != 5 || ok.LastInsertID != 99 {
		t.Fatalf("got %+v", ok)
	}
	if ok.StatusFlags != ServerStatusAutocommit {
		t.Fatalf("status flags: got %x", ok.StatusFlags)
	}
}

func TestDecodeErrPacket(t *testing.T) {
	w := NewWriter(16)
	w.Byte(0xff)
	w.Uint16(1045)
	w.Byte('#')
	w.RawString("28000")
	w.RawString("Access denied")

	e, err := DecodeErrPacket(w.Bytes(), ClientProtocol41)
	if err != nil {
		t.Fatal(err)
	}
	if e.Code != 1045 || e.SQLState != "28000" || e.Message != "Access denied" {
		t.Fatalf("got %+v", e)
	}
}

func TestIsEOFPacketDistinguishesFromBigColumnCount(t *testing.T) {
	shortEOF := []byte{0xfe, 0, 0, 0, 0}
	if !IsEOFPacket(shortEOF, ClientProtocol41) {
		t.Fatal("expected short 0xfe packet to be recognized as EOF")
	}
	if IsEOFPacket(shortEOF, ClientProtocol41|ClientDeprecateEOF) {
		t.Fatal("DEPRECATE_EOF sessions never see a real EOF packet")
	}
	bigColumnCount := []byte{0xfe, 0, 0, 0, 1, 0, 0, 0, 0}
	if IsEOFPacket(bigColumnCount, ClientProtocol41) {
		t.Fatal("9-byte 0xfe length-encoded column count mistaken for EOF")
	}
}

func TestDecodeAuthSwitchRequest(t *testing.T) {
	w := NewWriter(16)
	w.Byte(0xfe)
	w.NullTerminatedString("mysql_native_password")
	w.FixedBytes([]byte("newscramble1234567890"))

	req, err := DecodeAuthSwitchRequest(w.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if req.PluginName != "mysql_native_password" {
		t.Fatalf("got %q", req.PluginName)
	}
	if string(req.PluginData) != "newscramble1234567890" {
		t.Fatalf("got %q", req.PluginData)
	}
}

func TestDecodeStmtPrepareOK(t *testing.T) {
	w := NewWriter(16)
	w.Byte(0x00)
	w.Uint32(7)
	w.Uint16(2)
	w.Uint16(1)
	w.Byte(0)
	w.Uint16(0)

	ok, err := DecodeStmtPrepareOK(w.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if ok.StatementID != 7 || ok.ColumnCount != 2 || ok.ParamCount != 1 {
		t.Fatalf("got %+v", ok)
	}
}
