package crypto

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

const saltLength = 16

// NewSalt returns a fresh hex-encoded random salt.
func NewSalt() string {
	return hex.EncodeToString(randomBytes(saltLength))
}

// HashPasscode returns hex(SHA256(salt || plaintext)). The salt is hashed in
// its decoded form.
func HashPasscode(salt, plaintext string) string {
	raw, err := hex.DecodeString(salt)
	if err != nil {
		raw = []byte(salt)
	}
	h := sha256.New()
	h.Write(raw)
	h.Write([]byte(plaintext))
	return hex.EncodeToString(h.Sum(nil))
}

// EqualHash compares two hex digests in constant time.
func EqualHash(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
