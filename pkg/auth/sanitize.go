package auth

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/tendant/simple-accounts/pkg/domain"
)

// Profile field limits.
const (
	maxDisplayNameLength = 100
	maxPhotoURLLength    = 2048
)

// SanitizeName trims a display name and strips control characters. Values are
// stored as given otherwise; escaping is left to whoever renders them.
func SanitizeName(name string) string {
	return strings.TrimSpace(removeControlChars(name))
}

// ValidateStringLength checks that value has between min and max characters.
// A zero bound is not enforced.
func ValidateStringLength(field, value string, min, max int) error {
	length := utf8.RuneCountInString(value)

	if min > 0 && length < min {
		return domain.NewValidationError(field, fmt.Sprintf("%s must be at least %d characters long", field, min))
	}

	if max > 0 && length > max {
		return domain.NewValidationError(field, fmt.Sprintf("%s must be at most %d characters long", field, max))
	}

	return nil
}

// removeControlChars removes control characters except newline and tab.
func removeControlChars(s string) string {
	return strings.Map(func(r rune) rune {
		// Keep newline, carriage return, and tab
		if r == '\n' || r == '\r' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}
