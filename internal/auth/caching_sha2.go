package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1" //nolint:gosec // MySQL's RSA password exchange is defined in terms of SHA-1 OAEP
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"fmt"
)

// CachingSHA2Password implements caching_sha2_password: a fast path backed
// by a server-side scramble cache, falling back to a full RSA-protected
// exchange on cache miss.
type CachingSHA2Password struct{}

// Name returns the MySQL plugin name.
func (CachingSHA2Password) Name() string { return "caching_sha2_password" }

// InitialResponse computes SHA256(pw) XOR SHA256(SHA256(SHA256(pw)) || scramble).
func (CachingSHA2Password) InitialResponse(password string, scramble []byte) ([]byte, error) {
	if password == "" {
		return []byte{}, nil
	}
	return scrambleSHA256(password, scramble), nil
}

func scrambleSHA256(password string, scramble []byte) []byte {
	pw := []byte(password)
	h1 := sha256.Sum256(pw)
	h2 := sha256.Sum256(h1[:])

	h := sha256.New()
	h.Write(h2[:])
	h.Write(scramble)
	h3 := h.Sum(nil)

	result := make([]byte, len(h1))
	for i := range result {
		result[i] = h1[i] ^ h3[i]
	}
	return result
}

// FollowUp handles the Auth-More-Data responses caching_sha2_password sends
// after the initial scramble: 0x03 signals fast-path success (the caller
// simply waits for the terminal OK), 0x04 requires a full auth round trip.
func (CachingSHA2Password) FollowUp(data []byte, password string, scramble []byte, tlsActive bool, pubKeyFn func() ([]byte, error)) ([]byte, bool, error) {
	if len(data) == 0 {
		return nil, false, &FailedError{Reason: "empty Auth-More-Data payload"}
	}
	switch data[0] {
	case 0x03: // fast-path success, terminal OK packet follows
		return nil, true, nil
	case 0x04: // full authentication required
		if tlsActive {
			resp := append([]byte(password), 0)
			return resp, false, nil
		}
		pem, err := pubKeyFn()
		if err != nil {
			return nil, false, fmt.Errorf("requesting RSA public key: %w", err)
		}
		ciphertext, err := rsaEncryptPassword(pem, password, scramble)
		if err != nil {
			return nil, false, err
		}
		return ciphertext, false, nil
	default:
		return nil, false, &FailedError{Reason: fmt.Sprintf("unexpected Auth-More-Data tag 0x%02x", data[0])}
	}
}

// xorWithRepeatingScramble XORs src against scramble repeated/truncated to
// src's length, as used by the RSA-protected password exchange.
func xorWithRepeatingScramble(src, scramble []byte) []byte {
	out := make([]byte, len(src))
	for i := range out {
		out[i] = src[i] ^ scramble[i%len(scramble)]
	}
	return out
}

// rsaEncryptPassword RSA-OAEP-encrypts (password||0x00) XOR
// scramble_repeated using the server's PEM-encoded RSA public key, per
// spec.md §4.3's caching_sha2_password / sha256_password full-auth path.
func rsaEncryptPassword(pemBytes []byte, password string, scramble []byte) ([]byte, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, &FailedError{Reason: "server public key is not valid PEM"}
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing server public key: %w", err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, &FailedError{Reason: "server public key is not an RSA key"}
	}

	plain := append([]byte(password), 0)
	masked := xorWithRepeatingScramble(plain, scramble)

	ciphertext, err := rsa.EncryptOAEP(sha1.New(), rand.Reader, rsaPub, masked, nil) //nolint:gosec
	if err != nil {
		return nil, fmt.Errorf("RSA-OAEP encrypt: %w", err)
	}
	return ciphertext, nil
}
