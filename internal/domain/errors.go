package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("not found")
	ErrUnauthenticated   = errors.New("unauthenticated")
	ErrForbidden         = errors.New("forbidden")
	ErrConflict          = errors.New("conflict")
	ErrInvalidTransition = errors.New("invalid transition")
)

var (
	ErrStationNotFound = kindError{kind: ErrNotFound, msg: "station not found"}
	ErrAccountNotFound = kindError{kind: ErrNotFound, msg: "account not found"}
	ErrSessionNotFound = kindError{kind: ErrNotFound, msg: "session not found"}
	ErrEmailTaken      = kindError{kind: ErrConflict, msg: "email already registered"}
	ErrMissingToken    = kindError{kind: ErrUnauthenticated, msg: "missing token"}
	ErrInvalidToken    = kindError{kind: ErrUnauthenticated, msg: "invalid token"}
	ErrSessionExpired  = kindError{kind: ErrUnauthenticated, msg: "session expired or inactive"}
	ErrTokenExpired    = kindError{kind: ErrUnauthenticated, msg: "token expired"}
	ErrBadCredentials  = kindError{kind: ErrUnauthenticated, msg: "invalid login credentials"}
	ErrRoleMismatch    = kindError{kind: ErrForbidden, msg: "invalid role for this user"}
	ErrNotAvailable    = &TransitionError{Reason: "station is not available"}
	ErrNotBookedByYou  = &TransitionError{Reason: "this station is not booked by you"}
)

// RoleRequiredError indica una identidad válida sin el rol exigido.
type RoleRequiredError struct {
	Role Role
}

func (e *RoleRequiredError) Error() string {
	return fmt.Sprintf("access denied. %s role required", e.Role)
}

func (e *RoleRequiredError) Is(target error) bool {
	return target == ErrForbidden
}

// kindError asocia un mensaje legible a una de las categorías de error.
type kindError struct {
	kind error
	msg  string
}

func (e kindError) Error() string { return e.msg }
func (e kindError) Unwrap() error { return e.kind }

// FieldError describe un problema sobre un campo concreto de la entrada.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError agrupa los errores por campo de una escritura rechazada.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Add(field, message string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message})
}

// Err devuelve nil si no se acumuló ningún error.
func (e *ValidationError) Err() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		msgs = append(msgs, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// NewValidationError construye un ValidationError de un solo campo.
func NewValidationError(field, message string) *ValidationError {
	v := &ValidationError{}
	v.Add(field, message)
	return v
}

// ConflictError se devuelve cuando la cuenta ya tiene otra estación reservada.
type ConflictError struct {
	HeldStationID   string
	HeldStationName string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("you have already booked station: %s. Please release it first", e.HeldStationName)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// TransitionError explica por qué una transición de estado no es legal.
type TransitionError struct {
	Reason string
}

func (e *TransitionError) Error() string {
	return e.Reason
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}
