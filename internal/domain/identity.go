package domain

// Identity es el resultado de resolver un token bearer. Session solo está
// presente cuando el gate opera en modo sesión.
type Identity struct {
	AccountID string
	Email     string
	Role      Role
	SessionID string
	Session   *Session
	Account   *Account
}

// Policy decide si una identidad puede invocar una operación.
type Policy func(Identity) error

// RequireRole exige exactamente el rol dado.
func RequireRole(role Role) Policy {
	return func(id Identity) error {
		if id.AccountID == "" {
			return ErrMissingToken
		}
		if id.Role != role {
			return &RoleRequiredError{Role: role}
		}
		return nil
	}
}
