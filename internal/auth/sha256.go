package auth

import "fmt"

// SHA256Password implements sha256_password: the initial auth-response is
// empty when the client has no cached server key, which forces the server
// to send Auth-More-Data so the client can request the RSA public key.
type SHA256Password struct{}

// Name returns the MySQL plugin name.
func (SHA256Password) Name() string { return "sha256_password" }

// InitialResponse always returns an empty response; the real exchange
// happens in FollowUp once the server key is known.
func (SHA256Password) InitialResponse(password string, scramble []byte) ([]byte, error) {
	return []byte{}, nil
}

// FollowUp requests the server's RSA public key (if not already supplied)
// and sends the RSA-OAEP-encrypted password, mirroring
// caching_sha2_password's full-auth path minus the fast-path cache.
func (SHA256Password) FollowUp(data []byte, password string, scramble []byte, tlsActive bool, pubKeyFn func() ([]byte, error)) ([]byte, bool, error) {
	if tlsActive {
		resp := append([]byte(password), 0)
		return resp, false, nil
	}
	if len(data) == 1 && data[0] == 0x01 {
		// Server is asking us to request the public key explicitly.
		pem, err := pubKeyFn()
		if err != nil {
			return nil, false, fmt.Errorf("requesting RSA public key: %w", err)
		}
		ciphertext, err := rsaEncryptPassword(pem, password, scramble)
		if err != nil {
			return nil, false, err
		}
		return ciphertext, false, nil
	}
	// data already contains the PEM-encoded public key.
	ciphertext, err := rsaEncryptPassword(data, password, scramble)
	if err != nil {
		return nil, false, err
	}
	return ciphertext, false, nil
}
