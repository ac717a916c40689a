package repository

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tendant/simple-accounts/pkg/domain"
)

// IdentityRepository stores identities. Lookups of a missing identity return
// domain.ErrUserNotFound; creating or renaming onto a taken email returns
// domain.ErrDuplicateEmail.
type IdentityRepository interface {
	Create(ctx context.Context, identity *domain.Identity) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Identity, error)
	GetByEmail(ctx context.Context, email string) (*domain.Identity, error)
	Update(ctx context.Context, identity *domain.Identity) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// DocumentRepository stores one document per user. Reads and merges of a
// missing document return domain.ErrDocumentNotFound.
type DocumentRepository interface {
	Get(ctx context.Context, userID uuid.UUID) (*domain.Document, error)
	// Put creates or replaces the document.
	Put(ctx context.Context, userID uuid.UUID, fields map[string]any, now time.Time) (*domain.Document, error)
	// Merge overwrites the given top-level fields and keeps the rest.
	Merge(ctx context.Context, userID uuid.UUID, fields map[string]any, now time.Time) (*domain.Document, error)
	Delete(ctx context.Context, userID uuid.UUID) error
}

// CheckFieldNames rejects document field names that are empty or that a
// document database would read as an operator or a nested path.
func CheckFieldNames(fields map[string]any) error {
	for k := range fields {
		if k == "" || strings.HasPrefix(k, "$") || strings.Contains(k, ".") {
			return domain.NewValidationError(k, "invalid field name")
		}
	}
	return nil
}
