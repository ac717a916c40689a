package domain

import "errors"

// Account store errors. The messages are meant to be shown to the user as-is.
var (
	ErrValidation         = errors.New("invalid input")
	ErrDuplicateEmail     = errors.New("this email is already registered")
	ErrUserNotFound       = errors.New("user does not exist")
	ErrInvalidCredentials = errors.New("incorrect password")
	ErrNotAuthenticated   = errors.New("user is not logged in")
	ErrFederatedLogin     = errors.New("google sign-in failed, please try again later")
)

// Identity service errors
var (
	ErrInvalidEmail        = errors.New("invalid email address")
	ErrWeakPassword        = errors.New("weak password")
	ErrRequiresRecentLogin = errors.New("this operation requires a recent login")
	ErrInvalidToken        = errors.New("invalid token")
	ErrDocumentNotFound    = errors.New("document not found")
	ErrPermissionDenied    = errors.New("permission denied")
)

// ValidationError reports a missing or malformed input. It matches ErrValidation
// with errors.Is.
type ValidationError struct {
	Field   string
	Message string
}

// NewValidationError creates a validation error for field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Is makes errors.Is(err, ErrValidation) true for every ValidationError.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}
