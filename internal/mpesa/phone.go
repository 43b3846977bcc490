package mpesa

import (
	"errors"
	"regexp"
	"strings"
)

// ErrInvalidPhone is returned for numbers that do not map to a Kenyan MSISDN.
var ErrInvalidPhone = errors.New("mpesa: invalid phone number format")

var (
	msisdnPattern  = regexp.MustCompile(`^254[17]\d{8}$`)
	contactPattern = regexp.MustCompile(`^\+254\d{9}$`)
)

// NormalizePhone maps 0XXXXXXXXX, XXXXXXXXX (leading 7 or 1), 254XXXXXXXXX and
// +254XXXXXXXXX onto the 254XXXXXXXXX form the gateway expects. Spaces and
// dashes are ignored.
func NormalizePhone(raw string) (string, error) {
	s := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "").Replace(strings.TrimSpace(raw))
	s = strings.TrimPrefix(s, "+")
	switch {
	case len(s) == 10 && strings.HasPrefix(s, "0"):
		s = "254" + s[1:]
	case len(s) == 9 && (s[0] == '7' || s[0] == '1'):
		s = "254" + s
	}
	if !msisdnPattern.MatchString(s) {
		return "", ErrInvalidPhone
	}
	return s, nil
}

// ValidateContactNumber enforces the +254XXXXXXXXX form used for tenant and
// location contact numbers.
func ValidateContactNumber(raw string) error {
	if !contactPattern.MatchString(strings.TrimSpace(raw)) {
		return ErrInvalidPhone
	}
	return nil
}
