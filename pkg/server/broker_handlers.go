package server

import (
	"errors"
	"net/http"

	"github.com/fedgate/fedgate/pkg/broker"
	"github.com/fedgate/fedgate/pkg/httputil"
	"github.com/fedgate/fedgate/pkg/identity"
)

// handleBrokerCommand runs one broker protocol command. Every failure maps
// to a stable generic message; nothing about broker, token, or user
// existence leaks through the response body.
func (s *Server) handleBrokerCommand(w http.ResponseWriter, r *http.Request) {
	cmd := broker.Command(httputil.Param(r, "command"))
	params := broker.Params{
		Broker:   httputil.Param(r, "broker"),
		Token:    httputil.Param(r, "token"),
		Checksum: httputil.Param(r, "checksum"),
		Username: httputil.Param(r, "username"),
		Password: httputil.Param(r, "password"),
	}

	if cmd == broker.CommandLogin && !s.allowLoginAttempt(r, params.Username) {
		s.countCommand(cmd, "throttled")
		httputil.WriteErrorMessage(w, http.StatusTooManyRequests, "too many attempts")
		return
	}

	res, err := s.dispatcher.Dispatch(r.Context(), cmd, params)
	if err != nil {
		s.countCommand(cmd, "error")
		status, message := brokerErrorResponse(err)
		if status == http.StatusInternalServerError {
			s.log.WithField("command", string(cmd)).WithError(err).Error("broker command failed")
		}
		httputil.WriteErrorMessage(w, status, message)
		return
	}

	s.countCommand(cmd, "ok")
	if res.User != nil {
		httputil.WriteSuccess(w, res.User)
		return
	}
	httputil.WriteOK(w)
}

// brokerErrorResponse maps dispatcher errors to the fixed client-facing
// vocabulary. Anything outside the taxonomy is an internal failure.
func brokerErrorResponse(err error) (int, string) {
	switch {
	case errors.Is(err, broker.ErrUnknownCommand):
		return http.StatusBadRequest, "unknown command"
	case errors.Is(err, broker.ErrUnauthorized):
		return http.StatusBadRequest, "unauthorized"
	case errors.Is(err, broker.ErrInvalidCredentials):
		return http.StatusBadRequest, "invalid credentials"
	case errors.Is(err, identity.ErrNotFound):
		return http.StatusBadRequest, "not found"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

func (s *Server) countCommand(cmd broker.Command, status string) {
	if s.metrics == nil {
		return
	}
	s.metrics.BrokerCommandsTotal.WithLabelValues(string(cmd), status).Inc()
	if cmd == broker.CommandAttach && status == "ok" {
		s.metrics.BrokerSessionsCreated.Inc()
	}
}
