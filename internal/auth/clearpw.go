package auth

// ClearPassword implements mysql_clear_password: the password sent as-is,
// NUL-terminated. Used directly, and by the IAM/RDS token collaborator
// (out of scope here) which supplies a freshly generated token in place of
// a static password — from this plugin's perspective the two are
// indistinguishable.
type ClearPassword struct{}

// Name returns the MySQL plugin name.
func (ClearPassword) Name() string { return "mysql_clear_password" }

// InitialResponse returns password with a trailing NUL byte.
func (ClearPassword) InitialResponse(password string, scramble []byte) ([]byte, error) {
	return append([]byte(password), 0), nil
}
