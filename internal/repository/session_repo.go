package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"evcharge/internal/domain"
)

// SessionRepository persiste sesiones de login. El puntero ChargerInUse es
// informativo y el almacén no lo sincroniza con el registro de estaciones.
type SessionRepository interface {
	Create(ctx context.Context, session domain.Session) error
	GetByID(ctx context.Context, id string) (domain.Session, error)
	GetByToken(ctx context.Context, token string) (domain.Session, error)
	Deactivate(ctx context.Context, token string) error
	SetChargerInUse(ctx context.Context, id string, stationID *string) error
}

type PgSessionRepository struct {
	pool *pgxpool.Pool
}

func NewPgSessionRepository(pool *pgxpool.Pool) *PgSessionRepository {
	return &PgSessionRepository{pool: pool}
}

const sessionColumns = `id::text, account_id::text, token, is_active, charger_in_use::text, expires_at, created_at, updated_at`

func (r *PgSessionRepository) Create(ctx context.Context, session domain.Session) error {
	const query = `
		INSERT INTO sessions (id, account_id, token, is_active, charger_in_use, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.pool.Exec(ctx, query,
		session.ID,
		session.AccountID,
		session.Token,
		session.Active,
		session.ChargerInUse,
		session.ExpiresAt,
		session.CreatedAt,
		session.UpdatedAt,
	)
	return err
}

func (r *PgSessionRepository) GetByID(ctx context.Context, id string) (domain.Session, error) {
	if !validID(id) {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`
	return scanSession(r.pool.QueryRow(ctx, query, id))
}

func (r *PgSessionRepository) GetByToken(ctx context.Context, token string) (domain.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE token = $1`
	return scanSession(r.pool.QueryRow(ctx, query, token))
}

func (r *PgSessionRepository) Deactivate(ctx context.Context, token string) error {
	const query = `
		UPDATE sessions
		SET is_active = FALSE, updated_at = $2
		WHERE token = $1
	`
	tag, err := r.pool.Exec(ctx, query, token, time.Now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

func (r *PgSessionRepository) SetChargerInUse(ctx context.Context, id string, stationID *string) error {
	if !validID(id) {
		return domain.ErrSessionNotFound
	}
	if stationID != nil && !validID(*stationID) {
		return domain.ErrStationNotFound
	}
	const query = `
		UPDATE sessions
		SET charger_in_use = $2, updated_at = $3
		WHERE id = $1
	`
	tag, err := r.pool.Exec(ctx, query, id, stationID, time.Now().UTC())
	if isForeignKeyViolation(err) {
		return domain.ErrStationNotFound
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

func scanSession(row pgx.Row) (domain.Session, error) {
	var s domain.Session
	err := row.Scan(
		&s.ID,
		&s.AccountID,
		&s.Token,
		&s.Active,
		&s.ChargerInUse,
		&s.ExpiresAt,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	return s, err
}
