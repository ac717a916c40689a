package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/tendant/simple-accounts/pkg/domain"
)

// IdentitiesRepository handles identity persistence in Postgres.
type IdentitiesRepository struct {
	db *sql.DB
}

// NewIdentitiesRepository creates a new identities repository.
func NewIdentitiesRepository(db *sql.DB) *IdentitiesRepository {
	return &IdentitiesRepository{db: db}
}

const identityColumns = `id, email, password_hash, display_name, photo_url, provider, created_at, updated_at`

// Create inserts a new identity.
func (r *IdentitiesRepository) Create(ctx context.Context, identity *domain.Identity) error {
	return r.CreateTx(ctx, r.db, identity)
}

// CreateTx inserts a new identity using q.
func (r *IdentitiesRepository) CreateTx(ctx context.Context, q Querier, identity *domain.Identity) error {
	query := `
		INSERT INTO identities (` + identityColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := q.ExecContext(ctx, query,
		identity.ID, identity.Email, nullString(identity.PasswordHash),
		identity.DisplayName, identity.PhotoURL, identity.Provider,
		identity.CreatedAt, identity.UpdatedAt,
	)
	return mapUniqueViolation(err)
}

// GetByID retrieves an identity by ID.
func (r *IdentitiesRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Identity, error) {
	query := `SELECT ` + identityColumns + ` FROM identities WHERE id = $1`
	return scanIdentity(r.db.QueryRowContext(ctx, query, id))
}

// GetByEmail retrieves an identity by exact email.
func (r *IdentitiesRepository) GetByEmail(ctx context.Context, email string) (*domain.Identity, error) {
	query := `SELECT ` + identityColumns + ` FROM identities WHERE email = $1`
	return scanIdentity(r.db.QueryRowContext(ctx, query, email))
}

// Update writes every mutable column of identity.
func (r *IdentitiesRepository) Update(ctx context.Context, identity *domain.Identity) error {
	query := `
		UPDATE identities
		SET email = $2, password_hash = $3, display_name = $4, photo_url = $5,
		    provider = $6, updated_at = $7
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, query,
		identity.ID, identity.Email, nullString(identity.PasswordHash),
		identity.DisplayName, identity.PhotoURL, identity.Provider, identity.UpdatedAt,
	)
	if err != nil {
		return mapUniqueViolation(err)
	}
	return expectRow(res)
}

// Delete removes an identity.
func (r *IdentitiesRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM identities WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return expectRow(res)
}

func scanIdentity(row *sql.Row) (*domain.Identity, error) {
	identity := &domain.Identity{}
	var passwordHash sql.NullString
	err := row.Scan(
		&identity.ID, &identity.Email, &passwordHash, &identity.DisplayName,
		&identity.PhotoURL, &identity.Provider, &identity.CreatedAt, &identity.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	identity.PasswordHash = passwordHash.String
	return identity, nil
}

func expectRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// mapUniqueViolation turns the email unique constraint error into
// domain.ErrDuplicateEmail.
func mapUniqueViolation(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return domain.ErrDuplicateEmail
	}
	return err
}
