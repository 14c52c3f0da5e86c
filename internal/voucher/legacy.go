// internal/voucher/legacy.go
package voucher

import (
	"regexp"
	"strings"
	"unicode"

	apperrors "github.com/Corphon/PickupDesk/internal/errors"
)

// Separator joins the parts of a printed pickup code
const Separator = "-"

var (
	elevenDigits    = regexp.MustCompile(`^\d{11}$`)
	fourDigitGroups = regexp.MustCompile(`(\d+)-(\d+)-(\d+)-(\d+)`)
)

// ParseLegacy normalizes a printed or hand-typed garment pickup code into
// (itemID, secondaryKey). Accepted layouts:
//
//	A-B-C-D        -> (A, "B-C-D")
//	A-01031860505  -> (A, "010-3186-0505")
//	A-B            -> (A, B)
//
// Otherwise the first run of four dash-separated digit groups is used.
// On failure both values are empty and the error is a parse error.
func ParseLegacy(text string) (string, string, error) {
	s := strings.TrimSpace(text)
	parts := strings.Split(s, Separator)
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}

	switch len(parts) {
	case 4:
		if nonEmpty(parts) {
			return parts[0], strings.Join(parts[1:], Separator), nil
		}
	case 2:
		if nonEmpty(parts) {
			if elevenDigits.MatchString(parts[1]) {
				return parts[0], FormatPhone(parts[1]), nil
			}
			return parts[0], parts[1], nil
		}
	}

	if m := fourDigitGroups.FindStringSubmatch(s); m != nil {
		return m[1], strings.Join(m[2:5], Separator), nil
	}
	return "", "", apperrors.NewParseError("invalid pickup code format", nil)
}

// FormatPhone regroups an 11-digit number as 3-4-4; other input is returned unchanged
func FormatPhone(digits string) string {
	if !elevenDigits.MatchString(digits) {
		return digits
	}
	return digits[:3] + Separator + digits[3:7] + Separator + digits[7:]
}

// NormalizeSecondaryKey folds case and drops separators so keys compare by content
func NormalizeSecondaryKey(key string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(key) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func nonEmpty(parts []string) bool {
	for _, p := range parts {
		if p == "" {
			return false
		}
	}
	return true
}
