// Package validation checks the fields of the site's registration form and
// produces the feedback shown next to each field.
package validation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/tendant/simple-accounts/pkg/domain"
)

// DefaultPublicBaseURL is where a user's files are served from.
const DefaultPublicBaseURL = "https://deepseek.ilovexxh.com"

// Form field names.
const (
	FieldAccountName     = "accountName"
	FieldEmail           = "email"
	FieldPassword        = "password"
	FieldConfirmPassword = "confirmPassword"
)

const (
	minAccountNameLength = 3
	maxAccountNameLength = 20
	minPasswordLength    = 6
)

var (
	accountNameRegex = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)
	emailRegex       = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
)

// FieldResult is the outcome for one field. Message is shown to the user in
// both the valid and the invalid case.
type FieldResult struct {
	Valid   bool   `json:"valid"`
	Message string `json:"message"`
}

func valid(msg string) FieldResult   { return FieldResult{Valid: true, Message: msg} }
func invalid(msg string) FieldResult { return FieldResult{Valid: false, Message: msg} }

// RegistrationForm holds the raw values submitted by the register page.
type RegistrationForm struct {
	AccountName     string `json:"accountName"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

// Normalize trims the account name and email. Passwords are kept verbatim.
func (f RegistrationForm) Normalize() RegistrationForm {
	f.AccountName = strings.TrimSpace(f.AccountName)
	f.Email = strings.TrimSpace(f.Email)
	return f
}

// Result is the per-field outcome of validating a form.
type Result map[string]FieldResult

// Valid reports whether every field passed.
func (r Result) Valid() bool {
	for _, fr := range r {
		if !fr.Valid {
			return false
		}
	}
	return true
}

// Errors returns the messages of the failing fields.
func (r Result) Errors() map[string]string {
	out := make(map[string]string)
	for field, fr := range r {
		if !fr.Valid {
			out[field] = fr.Message
		}
	}
	return out
}

// Validator validates registration forms.
type Validator struct {
	publicBaseURL string
}

// NewValidator creates a validator. An empty base URL selects
// DefaultPublicBaseURL.
func NewValidator(publicBaseURL string) *Validator {
	if publicBaseURL == "" {
		publicBaseURL = DefaultPublicBaseURL
	}
	return &Validator{publicBaseURL: strings.TrimRight(publicBaseURL, "/")}
}

// Validate normalizes and checks every field of the form.
func (v *Validator) Validate(form RegistrationForm) Result {
	form = form.Normalize()
	return Result{
		FieldAccountName:     v.AccountName(form.AccountName),
		FieldEmail:           Email(form.Email),
		FieldPassword:        Password(form.Password),
		FieldConfirmPassword: ConfirmPassword(form.ConfirmPassword, form.Password),
	}
}

// AccountName checks the account name, which becomes part of the user's
// public URL.
func (v *Validator) AccountName(name string) FieldResult {
	if name == "" {
		return invalid("please enter an account name")
	}

	length := domain.TextLength(name)
	if length < minAccountNameLength || length > maxAccountNameLength {
		return invalid(fmt.Sprintf("account name must be %d-%d characters long",
			minAccountNameLength, maxAccountNameLength))
	}

	if !accountNameRegex.MatchString(name) {
		return invalid("account name may only contain letters, digits and underscores")
	}

	return valid(fmt.Sprintf("account name looks good! Your address will be: %s",
		v.PublicURL(name, "<file>")))
}

// PublicURL returns the address a user's file is served from.
func (v *Validator) PublicURL(accountName, file string) string {
	return v.publicBaseURL + "/" + accountName + "/" + file
}

// Email checks the email format.
func Email(email string) FieldResult {
	if email == "" {
		return invalid("please enter an email")
	}
	if !emailRegex.MatchString(email) {
		return invalid("please enter a valid email address")
	}
	return valid("email looks good")
}

// Password checks the password length.
func Password(password string) FieldResult {
	if password == "" {
		return invalid("please enter a password")
	}
	if domain.TextLength(password) < minPasswordLength {
		return invalid(fmt.Sprintf("password must be at least %d characters", minPasswordLength))
	}
	return valid("password looks good")
}

// ConfirmPassword checks that the confirmation matches the password.
func ConfirmPassword(confirm, password string) FieldResult {
	if confirm == "" {
		return invalid("please confirm your password")
	}
	if confirm != password {
		return invalid("the two passwords do not match")
	}
	return valid("passwords match")
}
