// Package identity resolves usernames to identity attributes and verifies
// user credentials against the backing user store.
package identity

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no user record exists for a username.
var ErrNotFound = errors.New("identity: user not found")

// ErrInvalidCredentials is returned for a failed authentication attempt.
// It deliberately does not distinguish an unknown username from a wrong
// password.
var ErrInvalidCredentials = errors.New("identity: invalid credentials")

// Identity is a read-only snapshot of a user's attributes.
type Identity struct {
	Email       string   `json:"email"`
	DisplayName string   `json:"name"`
	Roles       []string `json:"roles,omitempty"`
}

// Resolver looks up and authenticates users. Implementations are backed by
// an external user store; callers must treat both operations as bounded by
// the supplied context.
type Resolver interface {
	// Lookup returns the identity for username, or ErrNotFound.
	Lookup(ctx context.Context, username string) (*Identity, error)

	// Authenticate verifies username/password and returns the identity on
	// success, or ErrInvalidCredentials.
	Authenticate(ctx context.Context, username, password string) (*Identity, error)
}
