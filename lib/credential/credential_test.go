package credential

import (
	"errors"
	"testing"
)

func TestAuthenticate(t *testing.T) {
	a := New("the-id", "the-secret")

	for _, tt := range []struct {
		name  string
		value string
		role  Role
		want  bool
	}{
		{name: "identifier matches", value: "the-id", role: RoleIdentifier, want: true},
		{name: "secret matches", value: "the-secret", role: RoleSecret, want: true},
		{name: "identifier mismatch", value: "wrong", role: RoleIdentifier, want: false},
		{name: "secret mismatch", value: "wrong", role: RoleSecret, want: false},
		{name: "empty identifier", value: "", role: RoleIdentifier, want: false},
		{name: "roles are not interchangeable (secret as identifier)", value: "the-secret", role: RoleIdentifier, want: false},
		{name: "roles are not interchangeable (identifier as secret)", value: "the-id", role: RoleSecret, want: false},
	} {
		t.Run(tt.name, func(t *testing.T) {
			got, err := a.Authenticate(tt.value, tt.role)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("Authenticate(%q, %v): wanted %v, got %v", tt.value, tt.role, tt.want, got)
			}
		})
	}
}

func TestInvalidRole(t *testing.T) {
	a := New("the-id", "the-secret")

	ok, err := a.Authenticate("the-id", Role(42))
	if !errors.Is(err, ErrInvalidRole) {
		t.Errorf("wanted %v, got: %v", ErrInvalidRole, err)
	}
	if ok {
		t.Error("an invalid role must never authenticate")
	}
}
