package mysqlclient

import (
	"bytes"
	"net"
	"testing"

	"github.com/dbbouncer/mysqlclient/internal/auth"
	"github.com/dbbouncer/mysqlclient/internal/wire"
)

func TestCompleteAuthExchangeImmediateOK(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	serverFramer := wire.NewFramer(server)
	go func() {
		serverFramer.SendPacket([]byte{wire.TagOK, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00})
	}()

	clientFramer := wire.NewFramer(client)
	caps, err := completeAuthExchange(clientFramer, auth.NativePassword{}, "secret", nil, false, nil, wire.ClientProtocol41)
	if err != nil {
		t.Fatalf("completeAuthExchange: %v", err)
	}
	if caps != wire.ClientProtocol41 {
		t.Errorf("expected caps unchanged, got %v", caps)
	}
}

func TestCompleteAuthExchangeAuthSwitch(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	scramble := bytes.Repeat([]byte{0x41}, 20)
	serverFramer := wire.NewFramer(server)
	errc := make(chan error, 1)
	go func() {
		asr := append([]byte{wire.TagAuthSwitch}, []byte("mysql_native_password")...)
		asr = append(asr, 0x00)
		asr = append(asr, scramble...)
		asr = append(asr, 0x00)
		if err := serverFramer.SendPacket(asr); err != nil {
			errc <- err
			return
		}
		// The client must answer with a non-empty scrambled response
		// before the server considers auth complete.
		if _, err := serverFramer.ReceivePacket(); err != nil {
			errc <- err
			return
		}
		errc <- serverFramer.SendPacket([]byte{wire.TagOK, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00})
	}()

	clientFramer := wire.NewFramer(client)
	_, err := completeAuthExchange(clientFramer, auth.NativePassword{}, "secret", nil, false, nil, wire.ClientProtocol41)
	if err != nil {
		t.Fatalf("completeAuthExchange: %v", err)
	}
	if err := <-errc; err != nil {
		t.Fatalf("fake server: %v", err)
	}
}

func TestCompleteAuthExchangeErrPacket(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	serverFramer := wire.NewFramer(server)
	go func() {
		payload := []byte{wire.TagErr, 0x15, 0x04, '#', '2', '8', '0', '0', '0'}
		payload = append(payload, []byte("Access denied")...)
		serverFramer.SendPacket(payload)
	}()

	clientFramer := wire.NewFramer(client)
	_, err := completeAuthExchange(clientFramer, auth.NativePassword{}, "secret", nil, false, nil, wire.ClientProtocol41)
	if err == nil {
		t.Fatal("expected an error for an ERR packet during authentication")
	}
	authErr, ok := err.(*AuthError)
	if !ok {
		t.Fatalf("expected *AuthError, got %T: %v", err, err)
	}
	if authErr.Message != "Access denied" {
		t.Errorf("expected message %q, got %q", "Access denied", authErr.Message)
	}
}

func TestRequestPublicKey(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	pemBytes := []byte("-----BEGIN PUBLIC KEY-----\nfake\n-----END PUBLIC KEY-----\n")
	serverFramer := wire.NewFramer(server)
	errc := make(chan error, 1)
	go func() {
		req, err := serverFramer.ReceivePacket()
		if err != nil {
			errc <- err
			return
		}
		if len(req) != 1 || req[0] != 0x02 {
			errc <- err
			return
		}
		errc <- serverFramer.SendPacket(append([]byte{0x01}, pemBytes...))
	}()

	clientFramer := wire.NewFramer(client)
	key, err := requestPublicKey(clientFramer)
	if err != nil {
		t.Fatalf("requestPublicKey: %v", err)
	}
	if !bytes.Equal(key, pemBytes) {
		t.Errorf("expected key %q, got %q", pemBytes, key)
	}
	if err := <-errc; err != nil {
		t.Fatalf("fake server: %v", err)
	}
}
