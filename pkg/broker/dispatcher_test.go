package broker

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fedgate/fedgate/pkg/identity"
	"github.com/fedgate/fedgate/pkg/trust"
)

const (
	testAppID  = "taskmanager"
	testSecret = "sekrit"
	testToken  = "tok-123"
)

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()

	ts, err := trust.NewStore(
		[]trust.Broker{{AppID: testAppID, Secret: testSecret}},
		nil,
	)
	require.NoError(t, err)

	resolver := identity.NewMemoryResolver()
	require.NoError(t, resolver.AddUser(identity.Identity{
		Email:       "alice@example.com",
		DisplayName: "Alice Liddell",
		Roles:       []string{"admin"},
	}, "correct horse"))

	log := logrus.New()
	log.SetOutput(io.Discard)

	return NewDispatcher(ts, NewMemorySessionStore(nil), resolver, time.Minute, log)
}

func attachParams() Params {
	return Params{
		Broker:   testAppID,
		Token:    testToken,
		Checksum: AttachChecksum(testToken, testSecret),
	}
}

func attach(t *testing.T, d *Dispatcher) {
	t.Helper()
	_, err := d.Dispatch(context.Background(), CommandAttach, attachParams())
	require.NoError(t, err)
}

func login(t *testing.T, d *Dispatcher) {
	t.Helper()
	_, err := d.Dispatch(context.Background(), CommandLogin, Params{
		Broker:   testAppID,
		Token:    testToken,
		Username: "alice@example.com",
		Password: "correct horse",
	})
	require.NoError(t, err)
}

func TestDispatchUnknownCommand(t *testing.T) {
	d := newTestDispatcher(t)

	for _, cmd := range []Command{"", "drop", "getSessionId", "Login", "shutdown"} {
		_, err := d.Dispatch(context.Background(), cmd, attachParams())
		assert.ErrorIs(t, err, ErrUnknownCommand, "command %q", cmd)
	}
}

func TestDispatchUnknownBroker(t *testing.T) {
	d := newTestDispatcher(t)

	p := attachParams()
	p.Broker = "rogue"
	_, err := d.Dispatch(context.Background(), CommandAttach, p)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestDispatchMissingCredentials(t *testing.T) {
	d := newTestDispatcher(t)

	for _, p := range []Params{
		{Token: testToken},
		{Broker: testAppID},
		{},
	} {
		_, err := d.Dispatch(context.Background(), CommandAttach, p)
		assert.ErrorIs(t, err, ErrUnauthorized)
	}
}

func TestAttachChecksumValidation(t *testing.T) {
	d := newTestDispatcher(t)

	tests := []struct {
		name     string
		checksum string
	}{
		{"missing", ""},
		{"wrong secret", AttachChecksum(testToken, "other-secret")},
		{"wrong token", AttachChecksum("other-token", testSecret)},
		{"garbage", "deadbeef"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.Dispatch(context.Background(), CommandAttach, Params{
				Broker:   testAppID,
				Token:    testToken,
				Checksum: tt.checksum,
			})
			assert.ErrorIs(t, err, ErrUnauthorized)
		})
	}
}

func TestAttachIsIdempotent(t *testing.T) {
	d := newTestDispatcher(t)
	attach(t, d)

	_, err := d.Dispatch(context.Background(), CommandAttach, attachParams())
	assert.NoError(t, err)
}

func TestLoginSuccess(t *testing.T) {
	d := newTestDispatcher(t)
	attach(t, d)

	res, err := d.Dispatch(context.Background(), CommandLogin, Params{
		Broker:   testAppID,
		Token:    testToken,
		Username: "alice@example.com",
		Password: "correct horse",
	})
	require.NoError(t, err)
	require.NotNil(t, res.User)
	assert.Equal(t, "alice@example.com", res.User.Email)
	assert.Equal(t, "Alice Liddell", res.User.DisplayName)
}

func TestLoginWrongPassword(t *testing.T) {
	d := newTestDispatcher(t)
	attach(t, d)

	res, err := d.Dispatch(context.Background(), CommandLogin, Params{
		Broker:   testAppID,
		Token:    testToken,
		Username: "alice@example.com",
		Password: "wrong",
	})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.Nil(t, res)
}

func TestLoginUnknownUserIndistinguishable(t *testing.T) {
	d := newTestDispatcher(t)
	attach(t, d)

	_, errUnknown := d.Dispatch(context.Background(), CommandLogin, Params{
		Broker:   testAppID,
		Token:    testToken,
		Username: "ghost@example.com",
		Password: "whatever",
	})
	_, errWrongPw := d.Dispatch(context.Background(), CommandLogin, Params{
		Broker:   testAppID,
		Token:    testToken,
		Username: "alice@example.com",
		Password: "wrong",
	})

	// Never reveal whether the username exists.
	assert.ErrorIs(t, errUnknown, ErrInvalidCredentials)
	assert.Equal(t, errWrongPw, errUnknown)
}

func TestLoginWithoutAttach(t *testing.T) {
	d := newTestDispatcher(t)

	_, err := d.Dispatch(context.Background(), CommandLogin, Params{
		Broker:   testAppID,
		Token:    testToken,
		Username: "alice@example.com",
		Password: "correct horse",
	})
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestUserInfoRequiresBoundUser(t *testing.T) {
	d := newTestDispatcher(t)
	attach(t, d)

	// The token is valid and the session exists, but no login happened.
	_, err := d.Dispatch(context.Background(), CommandUserInfo, Params{
		Broker:   testAppID,
		Token:    testToken,
		Username: "alice@example.com",
	})
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestUserInfoAfterLogin(t *testing.T) {
	d := newTestDispatcher(t)
	attach(t, d)
	login(t, d)

	res, err := d.Dispatch(context.Background(), CommandUserInfo, Params{
		Broker: testAppID,
		Token:  testToken,
	})
	require.NoError(t, err)
	require.NotNil(t, res.User)
	assert.Equal(t, "alice@example.com", res.User.Email)
	assert.Equal(t, []string{"admin"}, res.User.Roles)
}

func TestUserInfoUnknownToken(t *testing.T) {
	d := newTestDispatcher(t)
	attach(t, d)
	login(t, d)

	_, err := d.Dispatch(context.Background(), CommandUserInfo, Params{
		Broker: testAppID,
		Token:  "some-other-token",
	})
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestLogoutInvalidatesSession(t *testing.T) {
	d := newTestDispatcher(t)
	attach(t, d)
	login(t, d)

	_, err := d.Dispatch(context.Background(), CommandLogout, Params{
		Broker: testAppID,
		Token:  testToken,
	})
	require.NoError(t, err)

	_, err = d.Dispatch(context.Background(), CommandUserInfo, Params{
		Broker: testAppID,
		Token:  testToken,
	})
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = d.Dispatch(context.Background(), CommandLogout, Params{
		Broker: testAppID,
		Token:  testToken,
	})
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestExpiredSessionIsUnauthorized(t *testing.T) {
	ts, err := trust.NewStore([]trust.Broker{{AppID: testAppID, Secret: testSecret}}, nil)
	require.NoError(t, err)

	resolver := identity.NewSeededResolver()
	log := logrus.New()
	log.SetOutput(io.Discard)

	store := NewMemorySessionStore(nil)
	d := NewDispatcher(ts, store, resolver, time.Minute, log)
	attach(t, d)

	// Simulate expiry by removing the session out from under the broker.
	require.NoError(t, store.Delete(context.Background(), SessionKey(testAppID, testToken, testSecret)))

	_, err = d.Dispatch(context.Background(), CommandUserInfo, Params{
		Broker: testAppID,
		Token:  testToken,
	})
	assert.ErrorIs(t, err, ErrUnauthorized)
}
