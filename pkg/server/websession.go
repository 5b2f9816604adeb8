package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/fedgate/fedgate/pkg/broker"
)

const (
	sessionCookieName = "fedgate_session"

	// Browser sessions share the broker session store under their own app
	// ID, so they land in redis alongside broker sessions in production.
	webAppID = "web"
)

// webSessions manages the browser-facing login session behind the cookie.
// The cookie value is an unguessable random ID; the store key folds it
// through the same derivation brokers use.
type webSessions struct {
	store broker.SessionStore
	ttl   time.Duration
}

func newWebSessions(store broker.SessionStore, ttl time.Duration) *webSessions {
	return &webSessions{store: store, ttl: ttl}
}

func (ws *webSessions) key(cookieID string) string {
	return broker.SessionKey(webAppID, cookieID, "")
}

// start creates a session bound to username and sets the cookie.
func (ws *webSessions) start(ctx context.Context, w http.ResponseWriter, username string) (string, error) {
	cookieID := uuid.NewString()
	sess := broker.Session{
		Token:       cookieID,
		BrokerAppID: webAppID,
		Username:    username,
		ExpiresAt:   time.Now().Add(ws.ttl),
	}
	if err := ws.store.Create(ctx, ws.key(cookieID), sess, ws.ttl); err != nil {
		return "", err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    cookieID,
		Path:     "/",
		MaxAge:   int(ws.ttl.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return cookieID, nil
}

// current returns the logged-in username and session ID for the request, or
// empty strings when the browser has no live session.
func (ws *webSessions) current(ctx context.Context, r *http.Request) (username, sessionID string) {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil || cookie.Value == "" {
		return "", ""
	}
	sess, err := ws.store.Get(ctx, ws.key(cookie.Value))
	if errors.Is(err, broker.ErrSessionNotFound) {
		return "", ""
	}
	if err != nil || sess.Username == "" {
		return "", ""
	}
	return sess.Username, cookie.Value
}

// ensureBrowserCookie returns the browser's cookie ID, minting a fresh
// anonymous one when none exists. Anonymous cookies carry no login; they
// only key staged relay data.
func (s *Server) ensureBrowserCookie(w http.ResponseWriter, r *http.Request) string {
	if cookie, err := r.Cookie(sessionCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	cookieID := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    cookieID,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return cookieID
}

// end deletes the session and clears the cookie.
func (ws *webSessions) end(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	cookie, err := r.Cookie(sessionCookieName)
	if err == nil && cookie.Value != "" {
		if err := ws.store.Delete(ctx, ws.key(cookie.Value)); err != nil {
			return err
		}
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
	return nil
}
