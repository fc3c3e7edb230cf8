package authapi

import (
	"context"
	"errors"
	"net/http"

	"gatehouse/cmd/internal/auth/flow"
	"gatehouse/cmd/security/password"
)

const internalErrorMessage = "Internal Server Error"

// writeFlowError maps a flow error to its HTTP status and stable code.
// Unexpected errors are logged in full; in production the client only sees a
// generic message.
func (h *Handler) writeFlowError(w http.ResponseWriter, r *http.Request, event string, err error) {
	var ve *flow.ValidationError

	switch {
	case errors.As(err, &ve):
		code := "invalid_request"
		if password.IsPolicyError(err) {
			code = "weak_password"
		}
		writeError(w, http.StatusBadRequest, code, ve.Msg)
	case errors.Is(err, flow.ErrDuplicateUsername):
		writeError(w, http.StatusBadRequest, "username_taken", "Username already exists")
	case errors.Is(err, flow.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "User not found")
	case errors.Is(err, flow.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "Invalid username or password")
	case errors.Is(err, flow.ErrInvalidOrExpiredToken):
		writeError(w, http.StatusBadRequest, "invalid_token", "Invalid or expired reset token")
	case errors.Is(err, flow.ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, "unauthenticated", "Not authenticated")
	case errors.Is(err, flow.ErrBusy):
		h.log.Warn(event, "error", err)
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, "server_busy", "please retry later")
	case errors.Is(err, context.Canceled) && r.Context().Err() != nil:
		// Client went away; nobody reads the response.
		h.log.Debug(event, "error", err)
	default:
		h.log.Error(event, "error", err, "path", r.URL.Path)
		writeError(w, http.StatusInternalServerError, "server_error", h.internalMessage(err))
	}
}

func (h *Handler) internalMessage(err error) string {
	if h.cfg.Production || err == nil {
		return internalErrorMessage
	}
	return err.Error()
}
