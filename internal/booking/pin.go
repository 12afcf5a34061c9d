package booking

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
)

// GeneratePIN returns a random 6-digit one-time pickup code.
func GeneratePIN() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// pinMatches compares in constant time so response timing leaks nothing
// about the stored code.
func pinMatches(want, got string) bool {
	if len(want) != len(got) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(want), []byte(got)) == 1
}
