package domain

import (
	"errors"
	"testing"
)

func TestRequireRole(t *testing.T) {
	tests := []struct {
		name string
		id   Identity
		role Role
		want error
	}{
		{name: "anonymous", id: Identity{}, role: RoleAdmin, want: ErrUnauthenticated},
		{name: "user on admin op", id: Identity{AccountID: "a", Role: RoleUser}, role: RoleAdmin, want: ErrForbidden},
		{name: "admin on user op", id: Identity{AccountID: "a", Role: RoleAdmin}, role: RoleUser, want: ErrForbidden},
		{name: "admin on admin op", id: Identity{AccountID: "a", Role: RoleAdmin}, role: RoleAdmin},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := RequireRole(tt.role)(tt.id)
			if tt.want == nil {
				if err != nil {
					t.Fatalf("expected allowed, got %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestErrorKinds(t *testing.T) {
	if !errors.Is(ErrNotAvailable, ErrInvalidTransition) || !errors.Is(ErrNotBookedByYou, ErrInvalidTransition) {
		t.Fatalf("transition errors must match ErrInvalidTransition")
	}
	if !errors.Is(ErrEmailTaken, ErrConflict) {
		t.Fatalf("email taken must be a conflict")
	}
	conflict := &ConflictError{HeldStationID: "s1", HeldStationName: "Centro"}
	if !errors.Is(conflict, ErrConflict) || conflict.Error() != "you have already booked station: Centro. Please release it first" {
		t.Fatalf("unexpected conflict error: %v", conflict)
	}
	var v ValidationError
	if v.Err() != nil {
		t.Fatalf("empty validation error must be nil")
	}
	v.Add("name", "required")
	if !errors.Is(v.Err(), ErrValidation) {
		t.Fatalf("expected validation kind")
	}
}

func TestParseRole(t *testing.T) {
	if r, ok := ParseRole(" Admin "); !ok || r != RoleAdmin {
		t.Fatalf("expected admin, got %q %v", r, ok)
	}
	if _, ok := ParseRole("root"); ok {
		t.Fatalf("expected unknown role rejected")
	}
}
