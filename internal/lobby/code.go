// internal/lobby/code.go
package lobby

import (
	"crypto/rand"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

// Human-facing lobby codes omit visually ambiguous glyphs (I, O, 0, 1).
const (
	codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	codeLength   = 6
	codeRetries  = 10
)

// newLobbyCode draws a random 6-character code from the code alphabet.
// The alphabet has 32 entries, so masking a random byte keeps the draw
// uniform.
func newLobbyCode() string {
	var buf [codeLength]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return fallbackCode()
	}
	for i := range buf {
		buf[i] = codeAlphabet[buf[i]&31]
	}
	return string(buf[:])
}

// fallbackCode is used after repeated collisions: the first 6 uppercase
// hex characters of a fresh random 128-bit value.
func fallbackCode() string {
	id := uuid.New()
	return strings.ToUpper(hex.EncodeToString(id[:]))[:codeLength]
}
