package identity

import (
	"context"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// MemoryResolver is an in-memory user store for development and tests.
type MemoryResolver struct {
	mu    sync.RWMutex
	users map[string]memoryUser
}

type memoryUser struct {
	identity     Identity
	passwordHash []byte
}

// NewMemoryResolver creates an empty in-memory resolver.
func NewMemoryResolver() *MemoryResolver {
	return &MemoryResolver{users: make(map[string]memoryUser)}
}

// NewSeededResolver creates a resolver preloaded with a handful of
// development users, all sharing the password "password".
func NewSeededResolver() *MemoryResolver {
	r := NewMemoryResolver()
	seed := []struct {
		email, name string
		roles       []string
	}{
		{"alice@example.com", "Alice Liddell", []string{"admin"}},
		{"bob@example.com", "Bob Hart", []string{"member"}},
		{"carol@example.com", "Carol Danvers", nil},
	}
	for _, u := range seed {
		// Seed users only exist in development; errors cannot occur for
		// a fixed valid password.
		_ = r.AddUser(Identity{Email: u.email, DisplayName: u.name, Roles: u.roles}, "password")
	}
	return r
}

// AddUser registers a user with the given password.
func (r *MemoryResolver) AddUser(ident Identity, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[ident.Email] = memoryUser{identity: ident, passwordHash: hash}
	return nil
}

// Lookup returns the identity for username, or ErrNotFound.
func (r *MemoryResolver) Lookup(ctx context.Context, username string) (*Identity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.users[username]
	if !ok {
		return nil, ErrNotFound
	}
	ident := u.identity
	return &ident, nil
}

// Authenticate verifies username/password against the stored bcrypt hash.
func (r *MemoryResolver) Authenticate(ctx context.Context, username, password string) (*Identity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	u, ok := r.users[username]
	r.mu.RUnlock()

	if !ok {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(u.passwordHash, []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	ident := u.identity
	return &ident, nil
}
