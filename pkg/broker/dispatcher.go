package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fedgate/fedgate/pkg/identity"
	"github.com/fedgate/fedgate/pkg/trust"
)

// Errors surfaced by Dispatch. All are terminal for the request; the HTTP
// layer maps them to a generic JSON error body.
var (
	ErrUnknownCommand     = errors.New("broker: unknown command")
	ErrUnauthorized       = errors.New("broker: unauthorized")
	ErrInvalidCredentials = errors.New("broker: invalid credentials")
)

// Command names the fixed set of broker operations.
type Command string

const (
	CommandAttach   Command = "attach"
	CommandLogin    Command = "login"
	CommandUserInfo Command = "userinfo"
	CommandLogout   Command = "logout"
)

// Params carries the per-command request parameters. Broker and Token are
// required by every command.
type Params struct {
	Broker   string
	Token    string
	Checksum string
	Username string
	Password string
}

// Result is the outcome of a successfully dispatched command. User is set
// only by login and userinfo.
type Result struct {
	User *identity.Identity
}

// DefaultSessionTTL bounds a broker session when no TTL is configured.
const DefaultSessionTTL = 10 * time.Minute

// Dispatcher validates broker credentials and routes commands to the
// session store and identity resolver.
type Dispatcher struct {
	trust      *trust.Store
	sessions   SessionStore
	resolver   identity.Resolver
	sessionTTL time.Duration
	log        *logrus.Logger

	handlers map[Command]func(ctx context.Context, b trust.Broker, p Params) (*Result, error)
}

// NewDispatcher creates a dispatcher. A nil log falls back to the standard
// logrus logger; a zero sessionTTL falls back to DefaultSessionTTL.
func NewDispatcher(ts *trust.Store, sessions SessionStore, resolver identity.Resolver, sessionTTL time.Duration, log *logrus.Logger) *Dispatcher {
	if log == nil {
		log = logrus.New()
	}
	if sessionTTL <= 0 {
		sessionTTL = DefaultSessionTTL
	}

	d := &Dispatcher{
		trust:      ts,
		sessions:   sessions,
		resolver:   resolver,
		sessionTTL: sessionTTL,
		log:        log,
	}

	// Closed dispatch table: anything outside it is rejected before any
	// broker or session state is touched.
	d.handlers = map[Command]func(ctx context.Context, b trust.Broker, p Params) (*Result, error){
		CommandAttach:   d.attach,
		CommandLogin:    d.login,
		CommandUserInfo: d.userInfo,
		CommandLogout:   d.logout,
	}

	return d
}

// Dispatch runs one broker command. It validates the command name against
// the allow-list and the broker against the trust store before invoking any
// operation.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd Command, p Params) (*Result, error) {
	handler, ok := d.handlers[cmd]
	if !ok {
		return nil, ErrUnknownCommand
	}

	if p.Broker == "" || p.Token == "" {
		return nil, ErrUnauthorized
	}
	b, ok := d.trust.BrokerByAppID(p.Broker)
	if !ok {
		d.log.WithField("broker", p.Broker).Warn("command from unknown broker")
		return nil, ErrUnauthorized
	}

	res, err := handler(ctx, b, p)
	if err != nil {
		d.log.WithFields(logrus.Fields{
			"broker":  b.AppID,
			"command": string(cmd),
		}).WithError(err).Debug("broker command failed")
		return nil, err
	}
	return res, nil
}

// attach establishes a new broker session after checksum validation.
func (d *Dispatcher) attach(ctx context.Context, b trust.Broker, p Params) (*Result, error) {
	if p.Checksum == "" || p.Checksum != AttachChecksum(p.Token, b.Secret) {
		return nil, ErrUnauthorized
	}

	sess := Session{
		Token:       p.Token,
		BrokerAppID: b.AppID,
		ExpiresAt:   time.Now().Add(d.sessionTTL),
	}
	err := d.sessions.Create(ctx, SessionKey(b.AppID, p.Token, b.Secret), sess, d.sessionTTL)
	if errors.Is(err, ErrSessionExists) {
		// Re-attach with the same token is harmless; the session stands.
		return &Result{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return &Result{}, nil
}

// login authenticates the user and binds the identity to the session.
func (d *Dispatcher) login(ctx context.Context, b trust.Broker, p Params) (*Result, error) {
	key := SessionKey(b.AppID, p.Token, b.Secret)
	sess, err := d.sessions.Get(ctx, key)
	if errors.Is(err, ErrSessionNotFound) {
		return nil, ErrUnauthorized
	}
	if err != nil {
		return nil, err
	}

	if p.Username == "" || p.Password == "" {
		return nil, ErrInvalidCredentials
	}
	ident, err := d.resolver.Authenticate(ctx, p.Username, p.Password)
	if errors.Is(err, identity.ErrInvalidCredentials) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("authentication lookup failed: %w", err)
	}

	sess.Username = ident.Email
	if err := d.sessions.Update(ctx, key, *sess); err != nil {
		return nil, fmt.Errorf("failed to bind user to session: %w", err)
	}
	return &Result{User: ident}, nil
}

// userInfo returns a user record without re-verifying a password. The
// attached, logged-in session substitutes for re-authentication.
func (d *Dispatcher) userInfo(ctx context.Context, b trust.Broker, p Params) (*Result, error) {
	sess, err := d.sessions.Get(ctx, SessionKey(b.AppID, p.Token, b.Secret))
	if errors.Is(err, ErrSessionNotFound) {
		return nil, ErrUnauthorized
	}
	if err != nil {
		return nil, err
	}
	if sess.Username == "" {
		return nil, ErrUnauthorized
	}

	username := p.Username
	if username == "" {
		username = sess.Username
	}
	ident, err := d.resolver.Lookup(ctx, username)
	if errors.Is(err, identity.ErrNotFound) {
		return nil, identity.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("user lookup failed: %w", err)
	}
	return &Result{User: ident}, nil
}

// logout invalidates the session token.
func (d *Dispatcher) logout(ctx context.Context, b trust.Broker, p Params) (*Result, error) {
	key := SessionKey(b.AppID, p.Token, b.Secret)
	if _, err := d.sessions.Get(ctx, key); errors.Is(err, ErrSessionNotFound) {
		return nil, ErrUnauthorized
	} else if err != nil {
		return nil, err
	}

	if err := d.sessions.Delete(ctx, key); err != nil {
		return nil, fmt.Errorf("failed to delete session: %w", err)
	}
	return &Result{}, nil
}
