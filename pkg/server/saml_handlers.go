package server

import (
	"errors"
	"net/http"

	"github.com/fedgate/fedgate/pkg/httputil"
	"github.com/fedgate/fedgate/pkg/identity"
	"github.com/fedgate/fedgate/pkg/saml"
)

// handleAuthnRequest receives a service provider's authentication request.
// A signed-in browser gets a response immediately; everyone else is shown
// the login form with the request carried through hidden fields.
func (s *Server) handleAuthnRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rawRequest := httputil.Param(r, "SAMLRequest")
	relayState := httputil.Param(r, "RelayState")

	req, err := saml.ParseAuthnRequest(rawRequest)
	if err != nil {
		s.countAuthnRequest("parse_error")
		s.log.WithError(err).Warn("rejected malformed authentication request")
		s.renderErrorPage(w, http.StatusBadRequest, "The authentication request could not be processed.")
		return
	}
	s.countAuthnRequest("ok")

	username, sessionID := s.web.current(ctx, r)
	if username != "" {
		ident, err := s.resolver.Lookup(ctx, username)
		if err != nil {
			s.log.WithError(err).Error("identity lookup failed")
			s.renderErrorPage(w, http.StatusInternalServerError, "Something went wrong. Please try again.")
			return
		}
		s.issueResponse(w, r, req, ident, sessionID, relayState)
		return
	}

	// An anonymous request naming its own subject is only honored when the
	// builder's fallback gate is open; otherwise it fails like any other
	// unauthenticated issuance.
	if email := httputil.Param(r, "email"); email != "" {
		s.issueResponse(w, r, req, nil, s.ensureBrowserCookie(w, r), relayState)
		return
	}

	s.renderLogin(w, http.StatusOK, loginPage{
		SAMLRequest: rawRequest,
		RelayState:  relayState,
	})
}

// issueResponse builds the signed response for the browser session and
// redirects to the relay page for POST delivery.
func (s *Server) issueResponse(w http.ResponseWriter, r *http.Request, req *saml.AuthnRequest, ident *identity.Identity, sessionID, relayState string) {
	ctx := r.Context()

	if relayState != "" {
		if err := s.carrier.StageRelayState(ctx, sessionID, relayState); err != nil {
			s.log.WithError(err).Error("failed to stage relay state")
			s.renderErrorPage(w, http.StatusInternalServerError, "Something went wrong. Please try again.")
			return
		}
	}

	resp, err := s.builder.Build(ctx, saml.BuildInput{
		Request:       req,
		Identity:      ident,
		FallbackEmail: httputil.Param(r, "email"),
		SessionID:     sessionID,
	})
	if err != nil {
		s.log.WithError(err).Warn("failed to issue response")
		status, message := samlErrorResponse(err)
		s.renderErrorPage(w, status, message)
		return
	}

	if s.metrics != nil {
		s.metrics.ResponsesIssued.WithLabelValues(resp.Audience).Inc()
	}
	http.Redirect(w, r, "/saml/relay", http.StatusSeeOther)
}

// handleRelay takes the staged envelope for the browser and renders the
// auto-submit form. Possession of the cookie is the capability; the take
// is destructive, so a reload lands on the error page instead of
// re-posting a response.
func (s *Server) handleRelay(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil || cookie.Value == "" {
		s.renderErrorPage(w, http.StatusBadRequest, "No pending response for this session.")
		return
	}

	env, err := s.carrier.TakeEnvelope(r.Context(), cookie.Value)
	if err != nil {
		s.log.WithError(err).Error("failed to take staged envelope")
		s.renderErrorPage(w, http.StatusInternalServerError, "Something went wrong. Please try again.")
		return
	}
	if env == nil {
		s.renderErrorPage(w, http.StatusBadRequest, "No pending response for this session.")
		return
	}

	if s.metrics != nil {
		s.metrics.RelayEnvelopesTaken.Inc()
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := pageTemplates.ExecuteTemplate(w, "post", env); err != nil {
		s.log.WithError(err).Error("failed to render post page")
	}
}

// samlErrorResponse maps builder errors to the generic failure page. The
// body never names the service provider or the configuration problem.
func samlErrorResponse(err error) (int, string) {
	switch {
	case errors.Is(err, saml.ErrUnknownServiceProvider),
		errors.Is(err, saml.ErrNotAuthenticated):
		return http.StatusBadRequest, "The authentication request could not be processed."
	default:
		return http.StatusInternalServerError, "Something went wrong. Please try again."
	}
}

func (s *Server) countAuthnRequest(status string) {
	if s.metrics != nil {
		s.metrics.AuthnRequestsTotal.WithLabelValues(status).Inc()
	}
}
