package card

import (
	"errors"
	"regexp"
	"strings"
)

var digitsOnly = regexp.MustCompile(`^\d+$`)

// ValidatePAN validates a Primary Account Number using the Luhn algorithm.
func ValidatePAN(pan string) error {
	pan = normalize(pan)

	// Valid card numbers are 13-19 digits.
	if len(pan) < 13 || len(pan) > 19 {
		return errors.New("PAN must be 13-19 digits")
	}

	if !digitsOnly.MatchString(pan) {
		return errors.New("PAN must contain only digits")
	}

	if !Luhn(pan) {
		return errors.New("PAN failed Luhn check")
	}

	return nil
}

// Luhn reports whether a digit string passes the Luhn checksum.
func Luhn(pan string) bool {
	sum := 0
	double := false
	for i := len(pan) - 1; i >= 0; i-- {
		d := int(pan[i] - '0')
		if d < 0 || d > 9 {
			return false
		}
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

// Mask reduces a card number to its first six and last four digits, the only
// PAN digits allowed in logs, persisted records, and audit payloads. Inputs
// that are not plausible PANs are fully masked. Mask is total and never
// returns the input unchanged.
func Mask(pan string) string {
	p := normalize(pan)

	if len(p) >= 13 && len(p) <= 19 && digitsOnly.MatchString(p) {
		return p[:6] + strings.Repeat("*", len(p)-10) + p[len(p)-4:]
	}

	if p == "" {
		return ""
	}
	return strings.Repeat("*", len(p))
}

var panPattern = regexp.MustCompile(`\d{13,19}`)

// MaskText masks every PAN-length digit run inside free-form text. Used
// before logging raw wire payloads that failed to decode.
func MaskText(s string) string {
	return panPattern.ReplaceAllStringFunc(s, Mask)
}

func normalize(pan string) string {
	pan = strings.ReplaceAll(pan, " ", "")
	return strings.ReplaceAll(pan, "-", "")
}
