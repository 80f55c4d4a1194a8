package repository

import (
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrHolderBusy indica que la cuenta ya retiene otra estación; quien llama
// decide cómo informar del conflicto.
var ErrHolderBusy = errors.New("holder already has a booking")

const (
	uniqueViolation        = "23505"
	foreignKeyViolation    = "23503"
	bookedByConstraint     = "stations_booked_by_key"
	accountEmailConstraint = "accounts_email_key"
)

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == uniqueViolation && (constraint == "" || pgErr.ConstraintName == constraint)
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation
}

// validID evita enviar a Postgres identificadores que no son UUID.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
