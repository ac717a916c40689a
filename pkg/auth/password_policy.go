package auth

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/tendant/simple-accounts/internal/config"
	"github.com/tendant/simple-accounts/pkg/domain"
)

// DefaultMinPasswordLength applies when no policy is configured.
const DefaultMinPasswordLength = 6

// PasswordPolicy is the set of rules a new password must satisfy. Length is
// counted in UTF-16 code units, matching the site's forms.
type PasswordPolicy struct {
	MinLength        int
	RequireUppercase bool
	RequireLowercase bool
	RequireNumber    bool
	RequireSpecial   bool
}

// NewPasswordPolicy builds the policy from the PASSWORD_* settings.
func NewPasswordPolicy(cfg config.PasswordPolicyConfig) *PasswordPolicy {
	return &PasswordPolicy{
		MinLength:        cfg.MinLength,
		RequireUppercase: cfg.RequireUppercase,
		RequireLowercase: cfg.RequireLowercase,
		RequireNumber:    cfg.RequireNumber,
		RequireSpecial:   cfg.RequireSpecial,
	}
}

type characterRule struct {
	enabled bool
	label   string
	match   func(rune) bool
}

func (p *PasswordPolicy) characterRules() []characterRule {
	return []characterRule{
		{p.RequireUppercase, "one uppercase letter", unicode.IsUpper},
		{p.RequireLowercase, "one lowercase letter", unicode.IsLower},
		{p.RequireNumber, "one number", unicode.IsDigit},
		{p.RequireSpecial, "one special character", isSpecial},
	}
}

// ValidatePassword reports the first rule password breaks, wrapped in
// domain.ErrWeakPassword.
func (p *PasswordPolicy) ValidatePassword(password string) error {
	if p.MinLength > 0 && domain.TextLength(password) < p.MinLength {
		return fmt.Errorf("%w: must be at least %d characters long", domain.ErrWeakPassword, p.MinLength)
	}
	for _, rule := range p.characterRules() {
		if rule.enabled && strings.IndexFunc(password, rule.match) < 0 {
			return fmt.Errorf("%w: must contain at least %s", domain.ErrWeakPassword, rule.label)
		}
	}
	return nil
}

// Requirements describes the policy for the password-policy endpoint.
func (p *PasswordPolicy) Requirements() string {
	var contains []string
	for _, rule := range p.characterRules() {
		if rule.enabled {
			contains = append(contains, rule.label)
		}
	}

	var parts []string
	if p.MinLength > 0 {
		parts = append(parts, fmt.Sprintf("be at least %d characters", p.MinLength))
	}
	if len(contains) > 0 {
		parts = append(parts, "contain "+strings.Join(contains, ", "))
	}
	if len(parts) == 0 {
		return "No password requirements"
	}
	return "Password must " + strings.Join(parts, " and ")
}

func isSpecial(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsDigit(r) && !unicode.IsSpace(r)
}
