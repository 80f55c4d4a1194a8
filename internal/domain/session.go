package domain

import "time"

// Session es un login revocable y acotado en el tiempo.
// ChargerInUse es solo informativo: la reserva real vive en Station.BookedBy.
type Session struct {
	ID           string    `json:"id"`
	AccountID    string    `json:"account_id"`
	Token        string    `json:"-"`
	Active       bool      `json:"is_active"`
	ChargerInUse *string   `json:"charger_in_use"`
	ExpiresAt    time.Time `json:"expires_at"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Usable indica si la sesión sigue activa y sin expirar en el instante dado.
func (s Session) Usable(now time.Time) bool {
	return s.Active && now.Before(s.ExpiresAt)
}
