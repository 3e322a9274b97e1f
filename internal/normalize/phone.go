package normalize

import (
	"errors"
	"strings"
)

// ErrBadPhone is returned when a phone value is present but cannot be mapped
// to an 11-digit canonical number.
var ErrBadPhone = errors.New("phone does not resolve to 11 digits")

// Phone converts a free-form phone string to the canonical "+7XXXXXXXXXX" form.
//
// Rules:
//   - all non-digits are stripped
//   - 11 digits with a leading "8" become leading "7"
//   - a bare 10-digit number gets a leading "7"
//   - anything that is not exactly 11 digits afterwards is rejected
//
// An empty (or digit-free) input yields ("", nil): a missing phone is not an
// error.
func Phone(raw string) (string, error) {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	switch {
	case digits == "":
		return "", nil
	case len(digits) == 10:
		digits = "7" + digits
	case len(digits) == 11 && digits[0] == '8':
		digits = "7" + digits[1:]
	}
	if len(digits) != 11 {
		return "", ErrBadPhone
	}
	return "+" + digits, nil
}
