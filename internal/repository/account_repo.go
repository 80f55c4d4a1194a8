package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"evcharge/internal/domain"
)

// AccountRepository define el contrato de persistencia para cuentas.
type AccountRepository interface {
	Create(ctx context.Context, account domain.Account) error
	GetByID(ctx context.Context, id string) (domain.Account, error)
	GetByEmail(ctx context.Context, email string) (domain.Account, error)
	UpdateEmail(ctx context.Context, id, email string, updatedAt time.Time) error
	UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error
	UpdateRole(ctx context.Context, id string, role domain.Role, updatedAt time.Time) error
}

// PgAccountRepository implementa AccountRepository usando pgxpool.
type PgAccountRepository struct {
	pool *pgxpool.Pool
}

func NewPgAccountRepository(pool *pgxpool.Pool) *PgAccountRepository {
	return &PgAccountRepository{pool: pool}
}

func (r *PgAccountRepository) Create(ctx context.Context, account domain.Account) error {
	const query = `
		INSERT INTO accounts (id, email, password_hash, role, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.pool.Exec(ctx, query,
		account.ID,
		domain.NormalizeEmail(account.Email),
		account.PasswordHash,
		string(account.Role),
		account.CreatedAt,
		account.UpdatedAt,
	)
	if isUniqueViolation(err, accountEmailConstraint) {
		return domain.ErrEmailTaken
	}
	return err
}

func (r *PgAccountRepository) GetByID(ctx context.Context, id string) (domain.Account, error) {
	if !validID(id) {
		return domain.Account{}, domain.ErrAccountNotFound
	}
	const query = `
		SELECT id::text, email, password_hash, role, created_at, updated_at
		FROM accounts
		WHERE id = $1
	`
	return r.scanOne(r.pool.QueryRow(ctx, query, id))
}

func (r *PgAccountRepository) GetByEmail(ctx context.Context, email string) (domain.Account, error) {
	const query = `
		SELECT id::text, email, password_hash, role, created_at, updated_at
		FROM accounts
		WHERE lower(email) = $1
	`
	return r.scanOne(r.pool.QueryRow(ctx, query, domain.NormalizeEmail(email)))
}

func (r *PgAccountRepository) UpdateEmail(ctx context.Context, id, email string, updatedAt time.Time) error {
	const query = `UPDATE accounts SET email = $2, updated_at = $3 WHERE id = $1`
	return r.exec(ctx, query, id, domain.NormalizeEmail(email), updatedAt)
}

func (r *PgAccountRepository) UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error {
	const query = `UPDATE accounts SET password_hash = $2, updated_at = $3 WHERE id = $1`
	return r.exec(ctx, query, id, passwordHash, updatedAt)
}

func (r *PgAccountRepository) UpdateRole(ctx context.Context, id string, role domain.Role, updatedAt time.Time) error {
	const query = `UPDATE accounts SET role = $2, updated_at = $3 WHERE id = $1`
	return r.exec(ctx, query, id, string(role), updatedAt)
}

func (r *PgAccountRepository) exec(ctx context.Context, query, id string, args ...any) error {
	if !validID(id) {
		return domain.ErrAccountNotFound
	}
	tag, err := r.pool.Exec(ctx, query, append([]any{id}, args...)...)
	if err != nil {
		if isUniqueViolation(err, accountEmailConstraint) {
			return domain.ErrEmailTaken
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAccountNotFound
	}
	return nil
}

func (r *PgAccountRepository) scanOne(row pgx.Row) (domain.Account, error) {
	var (
		a    domain.Account
		role string
	)
	err := row.Scan(&a.ID, &a.Email, &a.PasswordHash, &role, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Account{}, domain.ErrAccountNotFound
	}
	if err != nil {
		return domain.Account{}, err
	}
	a.Role = domain.Role(role)
	return a, nil
}
