// Package tlsupgrade performs the MySQL "short handshake" TLS upgrade: an
// SSLRequest packet followed by handing the raw socket to a TLS client,
// with subsequent traffic (including the real HandshakeResponse41) flowing
// over the encrypted stream.
package tlsupgrade

import (
	"crypto/tls"
	"fmt"
	"net"

	"github.com/dbbouncer/mysqlclient/internal/wire"
)

// Policy controls how the TLS upgrade reacts to the server's advertised
// capabilities, mirroring the `ssl` configuration surface in spec.md §6.
type Policy int

const (
	// PolicyNone never attempts a TLS upgrade.
	PolicyNone Policy = iota
	// PolicyPrefer upgrades when the server advertises SSL, continuing in
	// plaintext otherwise.
	PolicyPrefer
	// PolicyRequire fails with ErrTLSRequired if the server does not
	// advertise SSL.
	PolicyRequire
	// PolicyVerified requires TLS and additionally verifies the server
	// certificate against the configured CA / hostname.
	PolicyVerified
)

// ErrTLSRequired is returned when Policy is Require or Verified but the
// server did not advertise CLIENT_SSL.
var ErrTLSRequired = fmt.Errorf("mysql: TLS required but server did not advertise SSL support")

// Upgrade performs the handshake upgrade when the policy and the server's
// advertised capabilities call for it. It writes an SSLRequest packet over
// the framer's current (plaintext) connection, then replaces that
// connection with a TLS client connection via framer.SetConn, preserving
// the framer's sequence counter across the swap — the sequence id is never
// reset by a TLS upgrade (spec.md §4.2).
//
// effectiveCaps is updated in place to add ClientSSL when an upgrade
// happens, since the caller's HandshakeResponse41 must advertise it too.
func Upgrade(f *wire.Framer, rawConn wire.Conn, tlsConfig *tls.Config, policy Policy, serverCaps wire.CapabilityFlags, effectiveCaps *wire.CapabilityFlags, maxPacketSize uint32, charset byte) (wire.Conn, error) {
	if policy == PolicyNone {
		return rawConn, nil
	}
	serverSupportsSSL := serverCaps.Has(wire.ClientSSL)
	if !serverSupportsSSL {
		if policy == PolicyRequire || policy == PolicyVerified {
			return nil, ErrTLSRequired
		}
		return rawConn, nil // PolicyPrefer: continue in plaintext
	}

	*effectiveCaps |= wire.ClientSSL
	req := &wire.SSLRequest{
		Capabilities:  *effectiveCaps,
		MaxPacketSize: maxPacketSize,
		Charset:       charset,
	}
	if err := f.SendPacket(req.Encode()); err != nil {
		return nil, fmt.Errorf("mysql: sending SSLRequest: %w", err)
	}

	cfg := tlsConfig
	if cfg == nil {
		cfg = &tls.Config{}
	}
	if policy != PolicyVerified {
		cfg = cfg.Clone()
		cfg.InsecureSkipVerify = true
	}

	netConn, ok := rawConn.(net.Conn)
	if !ok {
		return nil, fmt.Errorf("mysql: underlying connection does not support a TLS upgrade")
	}
	tlsConn := tls.Client(netConn, cfg)
	if err := tlsConn.Handshake(); err != nil {
		return nil, fmt.Errorf("mysql: TLS handshake: %w", err)
	}

	f.SetConn(tlsConn)
	return tlsConn, nil
}
