package server

import (
	"errors"
	"net/http"

	"github.com/fedgate/fedgate/pkg/httputil"
	"github.com/fedgate/fedgate/pkg/identity"
	"github.com/fedgate/fedgate/pkg/saml"
)

// showLogin renders the login form. An already signed-in browser sees its
// session page instead.
func (s *Server) showLogin(w http.ResponseWriter, r *http.Request) {
	username, _ := s.web.current(r.Context(), r)
	if username != "" {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := pageTemplates.ExecuteTemplate(w, "signedin", map[string]string{"Username": username}); err != nil {
			s.log.WithError(err).Error("failed to render session page")
		}
		return
	}
	s.renderLogin(w, http.StatusOK, loginPage{})
}

// handleLogin authenticates the browser. When the form carries a pending
// authentication request, a successful login continues straight into
// response issuance.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	username := httputil.Param(r, "username")
	password := httputil.Param(r, "password")
	rawRequest := httputil.Param(r, "SAMLRequest")
	relayState := httputil.Param(r, "RelayState")

	if !s.allowLoginAttempt(r, username) {
		s.countLogin("throttled")
		s.renderLogin(w, http.StatusTooManyRequests, loginPage{
			Error:       "Too many attempts. Try again later.",
			SAMLRequest: rawRequest,
			RelayState:  relayState,
		})
		return
	}

	ident, err := s.resolver.Authenticate(ctx, username, password)
	if errors.Is(err, identity.ErrInvalidCredentials) {
		s.countLogin("rejected")
		// Same message for unknown user and wrong password.
		s.renderLogin(w, http.StatusUnauthorized, loginPage{
			Error:       "Incorrect email or password.",
			SAMLRequest: rawRequest,
			RelayState:  relayState,
		})
		return
	}
	if err != nil {
		s.countLogin("error")
		s.log.WithError(err).Error("login backend failure")
		s.renderErrorPage(w, http.StatusInternalServerError, "Something went wrong. Please try again.")
		return
	}
	s.countLogin("ok")

	sessionID, err := s.web.start(ctx, w, ident.Email)
	if err != nil {
		s.log.WithError(err).Error("failed to start browser session")
		s.renderErrorPage(w, http.StatusInternalServerError, "Something went wrong. Please try again.")
		return
	}

	if rawRequest == "" {
		http.Redirect(w, r, "/login", http.StatusSeeOther)
		return
	}

	req, err := saml.ParseAuthnRequest(rawRequest)
	if err != nil {
		s.log.WithError(err).Warn("rejected malformed authentication request after login")
		s.renderErrorPage(w, http.StatusBadRequest, "The authentication request could not be processed.")
		return
	}
	s.issueResponse(w, r, req, ident, sessionID, relayState)
}

// handleLogout ends the browser session.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.web.end(r.Context(), w, r); err != nil {
		s.log.WithError(err).Error("failed to end browser session")
		s.renderErrorPage(w, http.StatusInternalServerError, "Something went wrong. Please try again.")
		return
	}
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

// allowLoginAttempt rates the attempt by client address and target
// account. A limiter backend failure logs and fails open.
func (s *Server) allowLoginAttempt(r *http.Request, username string) bool {
	if s.limiter == nil {
		return true
	}
	ok, err := s.limiter.Allow(r.Context(), httputil.ClientIP(r)+"|"+username)
	if err != nil {
		s.log.WithError(err).Error("login throttle backend failed")
	}
	return ok
}

func (s *Server) countLogin(result string) {
	if s.metrics != nil {
		s.metrics.LoginAttemptsTotal.WithLabelValues(result).Inc()
	}
}
