package services

import (
	"crypto/rand"
	"fmt"
	"net/http"

	apperrors "github.com/charlesng35/dropwire/pkg/errors"
)

const (
	codeAlphabet    = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	codeLength      = 6
	maxCodeAttempts = 10
)

// ErrCapacityExhausted is returned when no free pairing code could be found
// within the attempt budget. With a 36^6 code space this indicates something
// is badly wrong, not a full server.
var ErrCapacityExhausted = apperrors.New(
	"CAPACITY_EXHAUSTED",
	"Unable to allocate a pairing code",
	http.StatusServiceUnavailable,
)

// GeneratePairingCode draws 6-character uppercase alphanumeric codes until
// one passes the taken predicate, capped at maxCodeAttempts.
func GeneratePairingCode(taken func(string) bool) (string, error) {
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := randomCode()
		if err != nil {
			return "", err
		}
		if taken == nil || !taken(code) {
			return code, nil
		}
	}
	return "", ErrCapacityExhausted
}

func randomCode() (string, error) {
	// Reject bytes above the largest multiple of the alphabet size so every
	// symbol is drawn uniformly.
	const rejectAbove = 256 - 256%len(codeAlphabet)

	code := make([]byte, 0, codeLength)
	buf := make([]byte, 2*codeLength)
	for len(code) < codeLength {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("pairing: read random: %w", err)
		}
		for _, b := range buf {
			if int(b) >= rejectAbove {
				continue
			}
			code = append(code, codeAlphabet[int(b)%len(codeAlphabet)])
			if len(code) == codeLength {
				break
			}
		}
	}
	return string(code), nil
}
