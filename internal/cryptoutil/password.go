// Package cryptoutil implements the credential, envelope and hashing
// primitives used by the account store and the transfer protocol.
package cryptoutil

import (
	"crypto/rand"
	"crypto/sha512"
	"crypto/subtle"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// SaltSize is the length of a credential salt in bytes.
	SaltSize = 32

	// KeySize is the length of a derived login key in bytes.
	KeySize = 64

	// Iterations is the PBKDF2 iteration count.
	Iterations = 10000
)

// Credentials is a salted login key: PBKDF2-HMAC-SHA512 over the
// password with a per-account random salt.
type Credentials struct {
	Salt []byte
	Key  []byte
}

// NewCredentials derives fresh credentials for a password.
func NewCredentials(password string) (Credentials, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return Credentials{}, err
	}
	return Credentials{
		Salt: salt,
		Key:  DeriveKey(password, salt),
	}, nil
}

// DeriveKey computes the login key for a password and salt.
func DeriveKey(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, Iterations, KeySize, sha512.New)
}

// Verify reports whether the password matches the stored credentials.
// The comparison is constant time.
func (c Credentials) Verify(password string) bool {
	derived := DeriveKey(password, c.Salt)
	return subtle.ConstantTimeCompare(derived, c.Key) == 1
}
