package arcade

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

const (
	minNameRunes = 2
	maxNameRunes = 50
)

// ErrInvalidName wraps every display-name rejection so callers can map it to
// a 400 without inspecting the detail text.
var ErrInvalidName = errors.New("invalid display name")

// NormalizeName canonicalizes a requested display name: NFC normalization,
// whitespace trim, control characters rejected, 2-50 code points.
func NormalizeName(raw string) (string, error) {
	name := strings.TrimSpace(norm.NFC.String(raw))
	if !utf8.ValidString(name) {
		return "", fmt.Errorf("%w: not valid UTF-8", ErrInvalidName)
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return "", fmt.Errorf("%w: control characters not allowed", ErrInvalidName)
		}
	}
	n := utf8.RuneCountInString(name)
	if n < minNameRunes || n > maxNameRunes {
		return "", fmt.Errorf("%w: must be %d-%d characters", ErrInvalidName, minNameRunes, maxNameRunes)
	}
	return name, nil
}

// DedupeName makes the name unique among taken names, case-insensitively,
// by appending #2, #3, ... on collision.
func DedupeName(taken []string, name string) string {
	lower := make(map[string]struct{}, len(taken))
	for _, t := range taken {
		lower[strings.ToLower(t)] = struct{}{}
	}
	if _, dup := lower[strings.ToLower(name)]; !dup {
		return name
	}
	for i := 2; ; i++ {
		candidate := fmt.Sprintf("%s#%d", name, i)
		if _, dup := lower[strings.ToLower(candidate)]; !dup {
			return candidate
		}
	}
}
