// Package identity canonicalizes sender identifiers. Every store lookup,
// host comparison, and audit key uses the canonical E.164 form produced
// here; raw input never leaves the boundary.
package identity

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/nyaruka/phonenumbers"
)

// ErrInvalidIdentity is returned when input cannot be parsed as a phone
// number.
var ErrInvalidIdentity = errors.New("invalid identity")

// Normalize parses a phone-number-like string and returns its E.164 form.
// region is the ISO 3166-1 alpha-2 default region for numbers without a
// country code (e.g. "US"). Possible-length checking is deliberate:
// reserved and fictional ranges still canonicalize, they just never match
// a real guest.
func Normalize(raw, region string) (string, error) {
	parsed, err := phonenumbers.Parse(raw, region)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidIdentity, raw)
	}
	if !phonenumbers.IsPossibleNumber(parsed) {
		return "", fmt.Errorf("%w: %q", ErrInvalidIdentity, raw)
	}
	return phonenumbers.Format(parsed, phonenumbers.E164), nil
}

var phoneCandidate = regexp.MustCompile(`\+?\d[\d\s().\-]{6,}\d`)

// ExtractFromText finds the first phone number in free text and returns
// it in E.164 form, or "" when none is present.
func ExtractFromText(text, region string) string {
	for _, candidate := range phoneCandidate.FindAllString(text, -1) {
		if normalized, err := Normalize(candidate, region); err == nil {
			return normalized
		}
	}
	return ""
}

// Mask partially hides a canonical identity for guest-facing listings,
// keeping the prefix and last four digits.
func Mask(identity string) string {
	if len(identity) <= 7 {
		return identity
	}
	prefix := 5
	if len(identity)-4 < prefix {
		prefix = len(identity) - 4
	}
	return identity[:prefix] + "***" + identity[len(identity)-4:]
}
