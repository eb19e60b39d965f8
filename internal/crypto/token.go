package crypto

import (
	"crypto/rand"
	"encoding/base64"
)

// DefaultTokenBytes yields an 8 character token.
const DefaultTokenBytes = 6

// GenerateToken returns a URL-safe random token built from n random bytes.
func GenerateToken(n int) string {
	if n <= 0 {
		n = DefaultTokenBytes
	}
	return base64.RawURLEncoding.EncodeToString(randomBytes(n))
}

func randomBytes(n int) []byte {
	bytes := make([]byte, n)
	if _, err := rand.Read(bytes); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return bytes
}
