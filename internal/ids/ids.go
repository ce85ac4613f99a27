// Package ids generates short, collision-resistant peer identifiers.
package ids

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// alphabet is base36: lowercase letters and digits, 36 symbols.
const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// Length is the number of symbols per generated identifier. At 36^12
// candidates, collision probability within any single hub's live
// population is negligible.
const Length = 12

// New returns a fresh random identifier. Callers that need uniqueness
// against a shared namespace (the registry) should retry on collision via
// Retry rather than trusting a single call.
func New() (string, error) {
	buf := make([]byte, Length)
	max := big.NewInt(int64(len(alphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("ids: read entropy: %w", err)
		}
		buf[i] = alphabet[n.Int64()]
	}
	return string(buf), nil
}

// MaxRetries bounds the number of collision retries before giving up.
// A collision on a 12-symbol base36 identifier is so unlikely that
// exhausting this budget indicates a broken entropy source, not bad luck.
const MaxRetries = 8

// Retry calls New up to MaxRetries times, handing each candidate to taken
// until it returns false (the candidate is free) or the budget runs out.
func Retry(taken func(id string) bool) (string, error) {
	var lastErr error
	for attempt := 0; attempt < MaxRetries; attempt++ {
		id, err := New()
		if err != nil {
			lastErr = err
			continue
		}
		if !taken(id) {
			return id, nil
		}
	}
	if lastErr != nil {
		return "", fmt.Errorf("ids: exhausted retries: %w", lastErr)
	}
	return "", fmt.Errorf("ids: exhausted %d retries against a colliding namespace", MaxRetries)
}
