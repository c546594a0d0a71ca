package mysqlclient

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/dbbouncer/mysqlclient/internal/auth"
	"github.com/dbbouncer/mysqlclient/internal/tlsupgrade"
	"github.com/dbbouncer/mysqlclient/internal/wire"
)

const defaultCharset = 0x21 // utf8_general_ci

// dial opens a raw TCP connection, performs the handshake and
// authentication exchange, and returns a ready-to-use Connection. It
// mirrors the teacher's authenticateMySQL, generalized to every auth
// plugin and the TLS upgrade.
func dial(ctx context.Context, cfg DialConfig) (*Connection, error) {
	cfg = cfg.withPoolDefaults()

	dialer := net.Dialer{Timeout: cfg.ConnectTimeout, KeepAlive: 30 * time.Second}
	rawConn, err := dialer.DialContext(ctx, "tcp", cfg.addr())
	if err != nil {
		return nil, &IoError{Op: "dial", Err: err}
	}

	framer := wire.NewFramer(rawConn)
	hsPayload, err := framer.ReceivePacket()
	if err != nil {
		rawConn.Close()
		return nil, &IoError{Op: "reading initial handshake", Err: err}
	}
	if len(hsPayload) > 0 && hsPayload[0] == wire.TagErr {
		rawConn.Close()
		errPkt, decErr := wire.DecodeErrPacket(hsPayload, 0)
		if decErr != nil {
			return nil, &ProtocolError{Err: decErr}
		}
		return nil, &AuthError{SQLState: errPkt.SQLState, Message: errPkt.Message}
	}
	handshake, err := wire.DecodeInitialHandshake(hsPayload)
	if err != nil {
		rawConn.Close()
		return nil, &ProtocolError{Err: err}
	}

	effectiveCaps := wire.DefaultClientCapabilities & handshake.Capabilities
	if cfg.Database != "" {
		effectiveCaps |= wire.ClientConnectWithDB
	}
	if cfg.Compress && handshake.Capabilities.Has(wire.ClientCompress) {
		effectiveCaps |= wire.ClientCompress
	}

	var conn wire.Conn = rawConn
	if cfg.SSL != SSLNone {
		tlsConn, err := tlsupgrade.Upgrade(framer, rawConn, cfg.tlsConfig(), cfg.SSL.toPolicy(),
			handshake.Capabilities, &effectiveCaps, 1<<24-1, defaultCharset)
		if err != nil {
			rawConn.Close()
			return nil, &TlsError{Err: err}
		}
		conn = tlsConn
	}

	plugin, err := auth.ByName(handshake.AuthPluginName)
	if err != nil {
		rawConn.Close()
		return nil, &AuthError{Message: err.Error(), Err: err}
	}
	authResp, err := plugin.InitialResponse(cfg.Password, handshake.AuthPluginData)
	if err != nil {
		rawConn.Close()
		return nil, &AuthError{Message: "computing initial auth response", Err: err}
	}

	resp := &wire.HandshakeResponse41{
		Capabilities:   effectiveCaps,
		MaxPacketSize:  1<<24 - 1,
		Charset:        defaultCharset,
		Username:       cfg.User,
		AuthResponse:   authResp,
		Database:       cfg.Database,
		AuthPluginName: plugin.Name(),
	}
	if err := framer.SendPacket(resp.Encode()); err != nil {
		rawConn.Close()
		return nil, &IoError{Op: "sending handshake response", Err: err}
	}

	if effectiveCaps.Has(wire.ClientCompress) {
		compConn := wire.NewCompressedConn(conn)
		framer.SetConn(compConn)
		conn = compConn
	}

	tlsActive := cfg.SSL != SSLNone && effectiveCaps.Has(wire.ClientSSL)
	pubKeyFn := func() ([]byte, error) {
		if !cfg.AllowPublicKeyRetrieval {
			return nil, &AuthError{Message: "server requested RSA public key retrieval but AllowPublicKeyRetrieval is false"}
		}
		return requestPublicKey(framer)
	}

	finalCaps, err := completeAuthExchange(framer, plugin, cfg.Password, handshake.AuthPluginData, tlsActive, pubKeyFn, effectiveCaps)
	if err != nil {
		rawConn.Close()
		return nil, err
	}

	c := newConnection(conn, framer, finalCaps, cfg)
	return c, nil
}

// completeAuthExchange drives the Auth-Switch / Auth-More-Data state
// machine from spec.md §4.3 until a terminal OK or ERR packet arrives.
func completeAuthExchange(framer *wire.Framer, plugin auth.Plugin, password string, scramble []byte, tlsActive bool, pubKeyFn func() ([]byte, error), caps wire.CapabilityFlags) (wire.CapabilityFlags, error) {
	for {
		payload, err := framer.ReceivePacket()
		if err != nil {
			return caps, &IoError{Op: "reading auth response", Err: err}
		}
		if len(payload) == 0 {
			return caps, &ProtocolError{Err: fmt.Errorf("empty packet during authentication")}
		}
		switch payload[0] {
		case wire.TagOK:
			return caps, nil
		case wire.TagErr:
			ep, decErr := wire.DecodeErrPacket(payload, caps)
			if decErr != nil {
				return caps, &ProtocolError{Err: decErr}
			}
			return caps, &AuthError{SQLState: ep.SQLState, Message: ep.Message}
		case wire.TagAuthSwitch:
			asr, decErr := wire.DecodeAuthSwitchRequest(payload)
			if decErr != nil {
				return caps, &ProtocolError{Err: decErr}
			}
			newPlugin, err := auth.ByName(asr.PluginName)
			if err != nil {
				return caps, &AuthError{Message: err.Error(), Err: err}
			}
			plugin = newPlugin
			scramble = asr.PluginData
			resp, err := plugin.InitialResponse(password, scramble)
			if err != nil {
				return caps, &AuthError{Message: "computing switched auth response", Err: err}
			}
			if err := framer.SendPacket(resp); err != nil {
				return caps, &IoError{Op: "sending auth-switch response", Err: err}
			}
		case wire.TagAuthMoreData:
			fp, ok := plugin.(auth.FollowUpPlugin)
			if !ok {
				return caps, &ProtocolError{Err: fmt.Errorf("plugin %s received unexpected Auth-More-Data", plugin.Name())}
			}
			amd, decErr := wire.DecodeAuthMoreData(payload)
			if decErr != nil {
				return caps, &ProtocolError{Err: decErr}
			}
			resp, done, err := fp.FollowUp(amd.Data, password, scramble, tlsActive, pubKeyFn)
			if err != nil {
				return caps, &AuthError{Message: "auth follow-up", Err: err}
			}
			if done {
				continue // fast-path success; terminal OK still follows
			}
			if err := framer.SendPacket(resp); err != nil {
				return caps, &IoError{Op: "sending auth follow-up response", Err: err}
			}
		default:
			return caps, &ProtocolError{Err: fmt.Errorf("unexpected packet tag 0x%02x during authentication", payload[0])}
		}
	}
}

// requestPublicKey sends the single-byte 0x02 request and returns the
// PEM-encoded RSA public key from the server's Auth-More-Data reply.
func requestPublicKey(framer *wire.Framer) ([]byte, error) {
	if err := framer.SendPacket([]byte{0x02}); err != nil {
		return nil, &IoError{Op: "requesting public key", Err: err}
	}
	payload, err := framer.ReceivePacket()
	if err != nil {
		return nil, &IoError{Op: "reading public key", Err: err}
	}
	if len(payload) > 0 && payload[0] == wire.TagErr {
		ep, decErr := wire.DecodeErrPacket(payload, 0)
		if decErr != nil {
			return nil, &ProtocolError{Err: decErr}
		}
		return nil, &AuthError{SQLState: ep.SQLState, Message: ep.Message}
	}
	amd, err := wire.DecodeAuthMoreData(payload)
	if err != nil {
		return nil, &ProtocolError{Err: err}
	}
	return amd.Data, nil
}
