// Package credential validates presented API credentials against the pair
// configured at process start.
//
// The pair has two roles that are never interchangeable: the public
// identifier authorizes challenge creation and solving, the private secret
// authorizes token verification. Presenting one where the other is expected
// always fails.
package credential

import (
	"crypto/subtle"
	"errors"
	"fmt"
)

// Role selects which half of the configured pair a value is checked against.
type Role int

const (
	// RoleIdentifier is the public credential role.
	RoleIdentifier Role = iota
	// RoleSecret is the private credential role.
	RoleSecret
)

// ErrInvalidRole is returned when a caller passes a role that does not
// exist. This is a programming error, not an authentication failure, and
// must never be reachable from request input.
var ErrInvalidRole = errors.New("credential: invalid role")

// Authenticator holds the configured credential pair. Values are immutable
// after construction.
type Authenticator struct {
	id     []byte
	secret []byte
}

func New(id, secret string) *Authenticator {
	return &Authenticator{
		id:     []byte(id),
		secret: []byte(secret),
	}
}

// Authenticate reports whether value exactly matches the configured
// credential for the given role. Comparison takes constant time.
func (a *Authenticator) Authenticate(value string, role Role) (bool, error) {
	switch role {
	case RoleIdentifier:
		return subtle.ConstantTimeCompare([]byte(value), a.id) == 1, nil
	case RoleSecret:
		return subtle.ConstantTimeCompare([]byte(value), a.secret) == 1, nil
	default:
		return false, fmt.Errorf("%w: %d", ErrInvalidRole, role)
	}
}
