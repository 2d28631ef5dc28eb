package room

import (
	"crypto/rand"
	"fmt"
	"strings"
)

// codeAlphabet deliberately sticks to characters that survive being read
// aloud or typed on a phone keyboard.
const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

const DefaultCodeLength = 6

// Normalize maps a user-typed room code to its canonical form. Lookups are
// case-insensitive; storage is uppercase.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// GenerateCode returns a fresh random room code of the given length.
// Uniqueness is enforced by the store, not here.
func GenerateCode(length int) (string, error) {
	if length <= 0 {
		length = DefaultCodeLength
	}
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate room code: %w", err)
	}
	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(buf), nil
}
