package domain

import (
	"strings"
	"time"
)

type Account struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// NormalizeEmail deja el email en minúsculas y sin espacios.
func NormalizeEmail(email string) string {
	return normalize(email)
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
