package claim

import (
	"crypto/rand"
	"fmt"
	"regexp"
	"time"
)

const (
	numeroSuffixLen = 9
	base36Alphabet  = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

// NumeroPattern matches a generated claim number: the four-digit year
// followed by nine uppercase base36 characters.
var NumeroPattern = regexp.MustCompile(`^\d{4}[0-9A-Z]{9}$`)

// generateNumero produces a candidate claim number. Uniqueness is
// probabilistic; callers must check the store and retry on collision.
func generateNumero(now time.Time) (string, error) {
	b := make([]byte, numeroSuffixLen)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate claim number: %w", err)
	}
	for i := range b {
		b[i] = base36Alphabet[int(b[i])%len(base36Alphabet)]
	}
	return fmt.Sprintf("%d%s", now.Year(), b), nil
}
