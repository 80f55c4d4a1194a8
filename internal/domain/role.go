package domain

// Role determina qué operaciones puede invocar una cuenta.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAdmin:
		return true
	default:
		return false
	}
}

// ParseRole normaliza un rol recibido como texto.
func ParseRole(s string) (Role, bool) {
	r := Role(normalize(s))
	return r, r.Valid()
}
