package wire

import (
	"net"
	"testing"
)

func TestFramerSendReceiveRoundTrip(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	cf := NewFramer(client)
	sf := NewFramer(server)

	done := make(chan error, 1)
	go func() {
		done <- cf.SendPacket([]byte("hello"))
	}()

	got, err := sf.ReceivePacket()
	if err != nil {
		t.Fatal(err)
	}
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello" {
		t.Fatalf("got %q", got)
	}
	if sf.Sequence() != 1 || cf.Sequence() != 1 {
		t.Fatalf("sequence ids not advanced: client=%d server=%d", cf.Sequence(), sf.Sequence())
	}
}

func TestFramerSequenceResetAtCommandBoundary(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	cf := NewFramer(client)
	sf := NewFramer(server)

	go func() {
		cf.SendPacket([]byte("one"))
		cf.Reset()
		cf.SendPacket([]byte("two"))
	}()

	if _, err := sf.ReceivePacket(); err != nil {
		t.Fatal(err)
	}
	sf.Reset()
	if _, err := sf.ReceivePacket(); err != nil {
		t.Fatal(err)
	}
}

func TestFramerSequenceMismatchIsProtocolError(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	cf := NewFramer(client)
	sf := NewFramer(server)
	sf.seq = 5 // force a mismatch against the client's starting sequence of 0

	go cf.SendPacket([]byte("x"))

	_, err := sf.ReceivePacket()
	if _, ok := err.(*ProtocolError); !ok {
		t.Fatalf("expected *ProtocolError, got %T (%v)", err, err)
	}
}

func TestFramerSplitsOversizedPackets(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	cf := NewFramer(client)
	sf := NewFramer(server)

	payload := make([]byte, MaxPacketSize+10)
	for i := range payload {
		payload[i] = byte(i)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- cf.SendPacket(payload) }()

	got, err := sf.ReceivePacket()
	if err != nil {
		t.Fatal(err)
	}
	if err := <-errCh; err != nil {
		t.Fatal(err)
	}
	if len(got) != len(payload) {
		t.Fatalf("got %d bytes, want %d", len(got), len(payload))
	}
	// Two chunks were sent: one MaxPacketSize-sized plus a short remainder,
	// so the sequence id should have advanced by 2.
	if sf.Sequence() != 2 {
		t.Fatalf("sequence id after split packet: got %d, want 2", sf.Sequence())
	}
}

func TestFramerExactMultipleSendsZeroLengthTerminator(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	cf := NewFramer(client)
	sf := NewFramer(server)

	payload := make([]byte, MaxPacketSize)

	go cf.SendPacket(payload)

	got, err := sf.ReceivePacket()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(payload) {
		t.Fatalf("got %d bytes, want %d", len(got), len(payload))
	}
	if sf.Sequence() != 2 {
		t.Fatalf("expected a zero-length terminator chunk to bump sequence to 2, got %d", sf.Sequence())
	}
}

func TestFramerUnexpectedEOF(t *testing.T) {
	client, server := net.Pipe()
	sf := NewFramer(server)

	go func() {
		client.Write([]byte{10, 0, 0, 0}) // claims a 10-byte payload
		client.Close()
	}()

	_, err := sf.ReceivePacket()
	if _, ok := err.(*UnexpectedEOFError); !ok {
		t.Fatalf("expected *UnexpectedEOFError, got %T (%v)", err, err)
	}
}
