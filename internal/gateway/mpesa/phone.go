package mpesa

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidPhone = errors.New("invalid phone number")

// NormalizePhone converts local formats ("0712 345 678", "712345678",
// "+254712345678") to the international digits-only form the gateway
// expects ("254712345678").
func NormalizePhone(phone, countryCode string) (string, error) {
	var b strings.Builder
	plus := false
	for _, r := range strings.TrimSpace(phone) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '(' || r == ')':
		case r == '+' && !plus && b.Len() == 0:
			plus = true
		default:
			return "", fmt.Errorf("%w: %q", ErrInvalidPhone, phone)
		}
	}
	digits := b.String()

	switch {
	case strings.HasPrefix(digits, countryCode):
	case strings.HasPrefix(digits, "0"):
		digits = countryCode + digits[1:]
	case len(digits) == 9:
		digits = countryCode + digits
	}

	subscriber := len(digits) - len(countryCode)
	if !strings.HasPrefix(digits, countryCode) || subscriber < 9 || subscriber > 10 {
		return "", fmt.Errorf("%w: %q", ErrInvalidPhone, phone)
	}
	return digits, nil
}
