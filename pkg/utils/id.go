// Package utils holds the id helpers shared by rooms and players.
package utils

import (
	"crypto/rand"
	"encoding/base64"
)

// GenShortID returns an 8-character URL-safe room id, or "" if the system RNG fails.
func GenShortID() string {
	b := make([]byte, 6) // 6 bytes encode to 8 base64 chars
	if _, err := rand.Read(b); err != nil {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

// Label builds a display name like "Player 1a2b" from the first four characters of id.
func Label(prefix, id string) string {
	short := id
	if len(short) > 4 {
		short = short[:4]
	}
	return prefix + " " + short
}
