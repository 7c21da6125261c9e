package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// Fingerprint is the hex SHA-256 of an uploaded file. It is stored with the
// audit row and used as the archive object name.
func Fingerprint(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Matcher compares content against a fingerprint the sender computed, so a
// file damaged in transit is refused before any row is read.
type Matcher struct {
	expected string
}

func NewMatcher(expected string) *Matcher {
	return &Matcher{expected: strings.ToLower(strings.TrimSpace(expected))}
}

func (m *Matcher) Match(data []byte) (bool, error) {
	if m.expected == "" {
		return false, errors.New("expected fingerprint is not set")
	}
	return Fingerprint(data) == m.expected, nil
}
