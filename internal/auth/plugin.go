// Package auth implements the MySQL client authentication plugins
// (mysql_native_password, caching_sha2_password, sha256_password,
// mysql_clear_password) and the state machine that dispatches between them
// as the server requests.
package auth

import "fmt"

// State names the stage of an in-progress authentication exchange.
type State int

// States mirror spec.md §3's AuthState: Initial -(send response)->
// AwaitingMoreData -{0x03}-> Authenticated | {0x04,TLS}-> send clear ->
// Authenticated/Failed | {0x04,plain}-> AwaitingPublicKey -> send
// encrypted -> Authenticated/Failed | {0xFE}-> AwaitingSwitch -> Initial'.
const (
	StateInitial State = iota
	StateAwaitingMoreData
	StateAwaitingPublicKey
	StateAwaitingSwitch
	StateAuthenticated
	StateFailed
)

// FailedError reports an authentication-plugin-level failure distinct from
// a server-reported ERR packet (e.g. an RSA operation failing locally).
type FailedError struct {
	Reason string
}

func (e *FailedError) Error() string { return "mysql: authentication failed: " + e.Reason }

// Plugin computes the plugin-specific response bytes for an initial or
// switched authentication challenge. Each plugin is a pure transform from
// (password, scramble) to response bytes; plugins needing a follow-up
// round (caching_sha2_password, sha256_password) implement FollowUp too.
type Plugin interface {
	// Name is the MySQL plugin name as sent on the wire, e.g.
	// "mysql_native_password".
	Name() string
	// InitialResponse computes the auth-response bytes sent in
	// HandshakeResponse41 (or after an Auth-Switch-Request).
	InitialResponse(password string, scramble []byte) ([]byte, error)
}

// FollowUpPlugin is implemented by plugins that may require additional
// round trips after Auth-More-Data (0x01) packets.
type FollowUpPlugin interface {
	Plugin
	// FollowUp is called when the server sends Auth-More-Data. tlsActive
	// tells the plugin whether it may send secrets in clear text. pubKeyFn
	// is invoked if the plugin needs to request the server's RSA public
	// key (it performs the 0x02-byte request/response round trip and
	// returns the PEM-encoded key).
	FollowUp(data []byte, password string, scramble []byte, tlsActive bool, pubKeyFn func() ([]byte, error)) (response []byte, done bool, err error)
}

// ByName returns the registered plugin for the given MySQL plugin name.
func ByName(name string) (Plugin, error) {
	switch name {
	case "mysql_native_password":
		return NativePassword{}, nil
	case "caching_sha2_password":
		return CachingSHA2Password{}, nil
	case "sha256_password":
		return SHA256Password{}, nil
	case "mysql_clear_password":
		return ClearPassword{}, nil
	default:
		return nil, fmt.Errorf("mysql: unsupported authentication plugin %q", name)
	}
}
