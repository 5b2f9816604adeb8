package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"golang.org/x/crypto/bcrypt"
)

// DefaultQueryTimeout bounds every user-store round trip so a slow database
// fails the enclosing request instead of hanging it.
const DefaultQueryTimeout = 5 * time.Second

// PostgresResolver resolves identities from the users table.
type PostgresResolver struct {
	db      *sql.DB
	timeout time.Duration
}

// NewPostgresResolver creates a resolver over an existing database handle.
func NewPostgresResolver(db *sql.DB) *PostgresResolver {
	return &PostgresResolver{
		db:      db,
		timeout: DefaultQueryTimeout,
	}
}

// Lookup returns the identity for username, or ErrNotFound.
func (r *PostgresResolver) Lookup(ctx context.Context, username string) (*Identity, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var ident Identity
	var roles pq.StringArray
	err := r.db.QueryRowContext(ctx, `
		SELECT u.email, u.name, COALESCE(array_agg(ur.role) FILTER (WHERE ur.role IS NOT NULL), '{}')
		FROM users u
		LEFT JOIN user_roles ur ON ur.user_id = u.id
		WHERE u.email = $1
		GROUP BY u.email, u.name
	`, username).Scan(&ident.Email, &ident.DisplayName, &roles)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}

	ident.Roles = []string(roles)
	return &ident, nil
}

// Authenticate verifies username/password with bcrypt. A missing user and a
// wrong password return the same ErrInvalidCredentials.
func (r *PostgresResolver) Authenticate(ctx context.Context, username, password string) (*Identity, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var hash string
	err := r.db.QueryRowContext(ctx, `
		SELECT password_hash FROM users WHERE email = $1
	`, username).Scan(&hash)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch credentials: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	ident, err := r.Lookup(ctx, username)
	if errors.Is(err, ErrNotFound) {
		// The row disappeared between queries; treat as a failed attempt.
		return nil, ErrInvalidCredentials
	}
	return ident, err
}

// Ping checks database connectivity for health probes.
func (r *PostgresResolver) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}
