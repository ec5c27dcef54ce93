package refcode

import (
	"crypto/rand"
	"encoding/base32"
)

// Generate creates a random 10-character payout reference using base32
// uppercase letters/digits, prefixed so references are recognizable in
// back-office exports.
func Generate() (string, error) {
	var buf [6]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	code := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf[:])
	if len(code) > 8 {
		code = code[:8]
	}
	return "WD" + code, nil
}
