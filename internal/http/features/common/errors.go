// Package common holds helpers shared by the hosted service's handlers.
package common

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/tendant/simple-accounts/internal/httputil"
	"github.com/tendant/simple-accounts/pkg/domain"
)

// Error codes of the hosted API.
const (
	CodeEmailInUse       = "auth/email-already-in-use"
	CodeInvalidEmail     = "auth/invalid-email"
	CodeWeakPassword     = "auth/weak-password"
	CodeUserNotFound     = "auth/user-not-found"
	CodeWrongPassword    = "auth/wrong-password"
	CodeRequiresRecent   = "auth/requires-recent-login"
	CodeUnauthenticated  = "auth/unauthenticated"
	CodeInvalidToken     = "auth/invalid-token"
	CodeDocumentNotFound = "documents/not-found"
	CodePermissionDenied = "documents/permission-denied"
	CodeInvalidRequest   = "request/invalid"
	CodeRequestTooLarge  = "request/too-large"
	CodeInternal         = "internal"
)

type errorMapping struct {
	err    error
	status int
	code   string
}

var errorMappings = []errorMapping{
	{domain.ErrDuplicateEmail, http.StatusConflict, CodeEmailInUse},
	{domain.ErrInvalidEmail, http.StatusBadRequest, CodeInvalidEmail},
	{domain.ErrWeakPassword, http.StatusBadRequest, CodeWeakPassword},
	{domain.ErrUserNotFound, http.StatusNotFound, CodeUserNotFound},
	{domain.ErrInvalidCredentials, http.StatusUnauthorized, CodeWrongPassword},
	{domain.ErrRequiresRecentLogin, http.StatusForbidden, CodeRequiresRecent},
	{domain.ErrNotAuthenticated, http.StatusUnauthorized, CodeUnauthenticated},
	{domain.ErrInvalidToken, http.StatusUnauthorized, CodeInvalidToken},
	{domain.ErrDocumentNotFound, http.StatusNotFound, CodeDocumentNotFound},
	{domain.ErrPermissionDenied, http.StatusForbidden, CodePermissionDenied},
	{domain.ErrValidation, http.StatusBadRequest, CodeInvalidRequest},
	{httputil.ErrBodyTooLarge, http.StatusRequestEntityTooLarge, CodeRequestTooLarge},
}

// Classify returns the HTTP status and error code for err. Unknown errors map
// to 500 "internal".
func Classify(err error) (int, string) {
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, CodeInternal
}

// WriteError writes err in the API's error envelope. Internal errors are
// logged and their detail is not sent to the client.
func WriteError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status, code := Classify(err)
	if status == http.StatusInternalServerError {
		logger.Error("request failed", "error", err)
		httputil.ErrorCode(w, status, code, "internal error")
		return
	}
	httputil.ErrorCode(w, status, code, err.Error())
}

// BadRequest writes a request/invalid error, or request/too-large when err
// reports an oversized body.
func BadRequest(w http.ResponseWriter, err error) {
	if errors.Is(err, httputil.ErrBodyTooLarge) {
		httputil.ErrorCode(w, http.StatusRequestEntityTooLarge, CodeRequestTooLarge, err.Error())
		return
	}
	httputil.ErrorCode(w, http.StatusBadRequest, CodeInvalidRequest, err.Error())
}
