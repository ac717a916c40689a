package auth

import (
	"fmt"
	"net/mail"
	"regexp"
	"strings"

	"github.com/tendant/simple-accounts/pkg/domain"
)

// maxEmailLength is the SMTP path limit from RFC 5321.
const maxEmailLength = 254

// Throwaway-inbox providers refused when BLOCK_DISPOSABLE_EMAIL is set.
var disposableDomains = map[string]struct{}{
	"tempmail.com":      {},
	"10minutemail.com":  {},
	"guerrillamail.com": {},
	"mailinator.com":    {},
	"throwaway.email":   {},
}

// strictEmail admits only dot-atom local parts and LDH host labels. net/mail
// alone lets through hosts such as "-example.com".
var strictEmail = regexp.MustCompile(`^[a-zA-Z0-9.!#$%&'*+/=?^_` + "`" + `{|}~-]+@[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(?:\.[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)*$`)

// ValidateEmail checks an account email before it is normalized and stored.
// Only a bare address is accepted; "Name <addr>" forms are refused. Every
// failure wraps domain.ErrInvalidEmail.
func ValidateEmail(email string, strict bool, blockDisposable bool) error {
	if email == "" {
		return fmt.Errorf("%w: address is required", domain.ErrInvalidEmail)
	}
	if len(email) > maxEmailLength {
		return fmt.Errorf("%w: address is too long (max %d characters)", domain.ErrInvalidEmail, maxEmailLength)
	}

	address := NormalizeEmail(email)
	parsed, err := mail.ParseAddress(address)
	if err != nil || parsed.Address != address {
		return domain.ErrInvalidEmail
	}
	if strict && !strictEmail.MatchString(address) {
		return domain.ErrInvalidEmail
	}
	if blockDisposable {
		if _, blocked := disposableDomains[emailHost(address)]; blocked {
			return fmt.Errorf("%w: disposable addresses are not allowed", domain.ErrInvalidEmail)
		}
	}
	return nil
}

// NormalizeEmail is the stored form of an address: trimmed and lowercased.
// Lookups by email go through it too.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func emailHost(address string) string {
	_, host, ok := strings.Cut(address, "@")
	if !ok {
		return ""
	}
	return host
}
