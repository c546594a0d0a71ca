package auth

import (
	"crypto/sha1" //nolint:gosec // mysql_native_password is defined in terms of SHA-1
)

// NativePassword implements mysql_native_password:
// SHA1(password) XOR SHA1(scramble || SHA1(SHA1(password))).
type NativePassword struct{}

// Name returns the MySQL plugin name.
func (NativePassword) Name() string { return "mysql_native_password" }

// InitialResponse computes the scrambled password hash. An empty password
// produces an empty response, per spec.md §4.3.
func (NativePassword) InitialResponse(password string, scramble []byte) ([]byte, error) {
	if password == "" {
		return []byte{}, nil
	}
	pw := []byte(password)
	h1 := sha1.Sum(pw) //nolint:gosec
	h2 := sha1.Sum(h1[:]) //nolint:gosec

	h := sha1.New() //nolint:gosec
	h.Write(scramble)
	h.Write(h2[:])
	h3 := h.Sum(nil)

	result := make([]byte, len(h1))
	for i := range result {
		result[i] = h1[i] ^ h3[i]
	}
	return result, nil
}
