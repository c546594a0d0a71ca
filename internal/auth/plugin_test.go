package auth

import (
	"bytes"
	"crypto/sha1" //nolint:gosec
	"testing"
)

func TestNativePasswordEmptyPassword(t *testing.T) {
	resp, err := NativePassword{}.InitialResponse("", []byte("scramblescramblescra"))
	if err != nil {
		t.Fatal(err)
	}
	if len(resp) != 0 {
		t.Fatalf("expected empty response, got %v", resp)
	}
}

func TestNativePasswordKnownVector(t *testing.T) {
	scramble := []byte("01234567890123456789")
	resp, err := NativePassword{}.InitialResponse("secret", scramble)
	if err != nil {
		t.Fatal(err)
	}
	if len(resp) != 20 {
		t.Fatalf("expected 20-byte SHA-1 response, got %d", len(resp))
	}

	// Recompute by hand and compare, proving the XOR formula matches
	// spec.md §4.3 exactly.
	h1 := sha1.Sum([]byte("secret")) //nolint:gosec
	h2 := sha1.Sum(h1[:])            //nolint:gosec
	h := sha1.New()                  //nolint:gosec
	h.Write(scramble)
	h.Write(h2[:])
	h3 := h.Sum(nil)
	want := make([]byte, 20)
	for i := range want {
		want[i] = h1[i] ^ h3[i]
	}
	if !bytes.Equal(resp, want) {
		t.Fatalf("got %x, want %x", resp, want)
	}
}

func TestCachingSHA2PasswordEmptyPassword(t *testing.T) {
	resp, err := CachingSHA2Password{}.InitialResponse("", []byte("scramble"))
	if err != nil {
		t.Fatal(err)
	}
	if len(resp) != 0 {
		t.Fatalf("expected empty response, got %v", resp)
	}
}

func TestCachingSHA2PasswordFastPathSuccess(t *testing.T) {
	resp, done, err := CachingSHA2Password{}.FollowUp([]byte{0x03}, "pw", nil, false, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !done || resp != nil {
		t.Fatalf("fast-path success should be terminal with no response, got done=%v resp=%v", done, resp)
	}
}

func TestCachingSHA2PasswordFullAuthOverTLS(t *testing.T) {
	resp, done, err := CachingSHA2Password{}.FollowUp([]byte{0x04}, "pw", nil, true, nil)
	if err != nil {
		t.Fatal(err)
	}
	if done {
		t.Fatal("full-auth-over-TLS sends the clear password and awaits OK/ERR, so done should be false")
	}
	if string(resp) != "pw\x00" {
		t.Fatalf("got %q", resp)
	}
}

func TestClearPasswordAppendsNUL(t *testing.T) {
	resp, err := ClearPassword{}.InitialResponse("token123", nil)
	if err != nil {
		t.Fatal(err)
	}
	if string(resp) != "token123\x00" {
		t.Fatalf("got %q", resp)
	}
}

func TestByNameUnknownPlugin(t *testing.T) {
	if _, err := ByName("client_ed25519"); err == nil {
		t.Fatal("expected an error for an unsupported plugin")
	}
}

func TestByNameAllFourPlugins(t *testing.T) {
	for _, name := range []string{
		"mysql_native_password",
		"caching_sha2_password",
		"sha256_password",
		"mysql_clear_password",
	} {
		p, err := ByName(name)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if p.Name() != name {
			t.Fatalf("got %q, want %q", p.Name(), name)
		}
	}
}
