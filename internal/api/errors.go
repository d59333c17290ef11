package api

import (
	"net/http"

	"github.com/Iron-Ham/quorum/internal/errors"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// Codes without a failure-code counterpart in the errors package.
const (
	codeInvalidTransition = "invalid_transition"
	codeUnknownValidator  = "unknown_validator"
	codeProposalInFlight  = "proposal_in_flight"
)

// statusFor maps err to an HTTP status and a stable code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, errors.ErrInvalidTransition):
		return http.StatusConflict, codeInvalidTransition
	case errors.Is(err, errors.ErrUnknownValidator):
		return http.StatusForbidden, codeUnknownValidator
	case errors.Is(err, errors.ErrProposalInFlight):
		return http.StatusConflict, codeProposalInFlight
	}

	code := errors.CodeOf(err)
	switch code {
	case errors.CodeNotFound, errors.CodeTaskNotFound:
		return http.StatusNotFound, code
	case errors.CodeAlreadyExists, errors.CodeDuplicateVote:
		return http.StatusConflict, code
	case errors.CodeInvalidInput:
		return http.StatusBadRequest, code
	case errors.CodeQueueFull:
		return http.StatusServiceUnavailable, code
	case errors.CodeTimeout:
		return http.StatusGatewayTimeout, code
	}
	return http.StatusInternalServerError, code
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		if !errors.IsUserFacing(err) {
			msg = "internal error"
		}
	}
	writeJSON(w, status, ErrorResponse{Error: msg, Code: code})
}
