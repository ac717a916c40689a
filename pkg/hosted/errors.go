package hosted

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/tendant/simple-accounts/pkg/domain"
)

// ProviderError is an error reported by the hosted identity or document
// service.
type ProviderError struct {
	Code    string
	Message string
	// Status is the HTTP status of the failed call, or 0 when the call never
	// got a response.
	Status int
}

func (e *ProviderError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return e.Message
}

// Is matches another ProviderError with the same code, and the domain error
// the code stands for.
func (e *ProviderError) Is(target error) bool {
	if other, ok := target.(*ProviderError); ok {
		return other.Code == e.Code
	}
	if sentinel, ok := codeErrors[e.Code]; ok {
		return target == sentinel
	}
	return false
}

// ErrProfileNotFound is returned by Store.Profile when the user has no
// document.
var ErrProfileNotFound = &ProviderError{Code: "documents/not-found", Message: "user profile does not exist"}

var codeErrors = map[string]error{
	"auth/email-already-in-use":   domain.ErrDuplicateEmail,
	"auth/invalid-email":          domain.ErrInvalidEmail,
	"auth/weak-password":          domain.ErrWeakPassword,
	"auth/user-not-found":         domain.ErrUserNotFound,
	"auth/wrong-password":         domain.ErrInvalidCredentials,
	"auth/requires-recent-login":  domain.ErrRequiresRecentLogin,
	"auth/unauthenticated":        domain.ErrNotAuthenticated,
	"auth/invalid-token":          domain.ErrInvalidToken,
	"documents/not-found":         domain.ErrDocumentNotFound,
	"documents/permission-denied": domain.ErrPermissionDenied,
	"request/invalid":             domain.ErrValidation,
}

func networkError(op string, err error) *ProviderError {
	return &ProviderError{Code: "network-request-failed", Message: fmt.Sprintf("%s: %v", op, err)}
}

func parseUserID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, domain.NewValidationError("userId", "invalid user id")
	}
	return id, nil
}
