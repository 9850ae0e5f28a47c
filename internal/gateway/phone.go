package gateway

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var ErrInvalidPhone = errors.New("invalid phone number")

// Accepted subscriber formats: international with country code, or national
// with a leading zero. Both carry exactly nine subscriber digits.
var (
	internationalPhone = regexp.MustCompile(`^\+233\d{9}$`)
	nationalPhone      = regexp.MustCompile(`^0\d{9}$`)
)

// NormalizePhone validates a Ghanaian MSISDN and returns it in the
// international form the provider expects (no leading plus).
func NormalizePhone(raw string) (string, error) {
	phone := strings.TrimSpace(raw)
	switch {
	case internationalPhone.MatchString(phone):
		return strings.TrimPrefix(phone, "+"), nil
	case nationalPhone.MatchString(phone):
		return "233" + phone[1:], nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPhone, raw)
	}
}
