// Package token issues subscription confirmation secrets.
package token

import (
	"crypto/rand"
	"fmt"
)

// Length is the number of characters in a confirmation token.
const Length = 25

const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// maxUnbiased is the largest multiple of len(alphabet) that fits in a byte;
// bytes at or above it are redrawn to keep the distribution uniform.
const maxUnbiased = 256 - (256 % len(alphabet))

// Generator produces confirmation tokens. Generate satisfies it.
type Generator func() string

// Generate returns a URL-safe alphanumeric token drawn from crypto/rand.
// It panics if the system randomness source fails.
func Generate() string {
	out := make([]byte, 0, Length)
	buf := make([]byte, Length*2)
	for len(out) < Length {
		if _, err := rand.Read(buf); err != nil {
			panic(fmt.Sprintf("token: read random bytes: %v", err))
		}
		for _, b := range buf {
			if int(b) >= maxUnbiased {
				continue
			}
			out = append(out, alphabet[int(b)%len(alphabet)])
			if len(out) == Length {
				break
			}
		}
	}
	return string(out)
}

// IsWellFormed reports whether s has the shape of a generated token.
func IsWellFormed(s string) bool {
	if len(s) != Length {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z' || c >= '0' && c <= '9') {
			return false
		}
	}
	return true
}
