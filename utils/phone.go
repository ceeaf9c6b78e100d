package utils

import (
	"errors"
	"strings"
)

var ErrInvalidPhone = errors.New("invalid phone number")

// NormalizePhone converts a phone number to E.164. Russian local forms
// (8XXXXXXXXXX and bare 10-digit numbers) are mapped to +7.
func NormalizePhone(raw string) (string, error) {
	var b strings.Builder
	for _, r := range strings.TrimSpace(raw) {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	switch {
	case len(digits) == 11 && digits[0] == '8':
		digits = "7" + digits[1:]
	case len(digits) == 10 && digits[0] == '9':
		digits = "7" + digits
	}
	if len(digits) < 11 || len(digits) > 15 || digits[0] == '0' {
		return "", ErrInvalidPhone
	}
	return "+" + digits, nil
}
