package mpesa

import (
	"strings"
)

const (
	CountryCode    = "254"
	TrunkPrefix    = "0"
	SubscriberLen  = 9
	CanonicalPhone = len(CountryCode) + SubscriberLen
)

// NormalizePhone converts a Kenyan mobile number to 2547XXXXXXXX form.
// Local ("0712345678"), bare ("712345678"), "+254 712 345 678" and
// canonical inputs all normalise to the same string.
func NormalizePhone(raw string) (string, error) {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if digits == "" {
		return "", ErrInvalidPhone
	}

	if strings.HasPrefix(digits, TrunkPrefix) {
		digits = CountryCode + digits[len(TrunkPrefix):]
	}
	if !strings.HasPrefix(digits, CountryCode) {
		digits = CountryCode + digits
	}

	if len(digits) != CanonicalPhone {
		return "", ErrInvalidPhone
	}
	return digits, nil
}
