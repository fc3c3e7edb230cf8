package authapi

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"gatehouse/cmd/internal/auth/flow"
)

// Handler wires the JSON auth routes to the flow controller.
type Handler struct {
	log  *slog.Logger
	cfg  Config
	flow *flow.Controller
	now  func() time.Time
}

// NewHandler constructs an auth Handler.
func NewHandler(log *slog.Logger, ctl *flow.Controller, cfg Config) (*Handler, error) {
	if ctl == nil {
		return nil, errors.New("authapi: nil flow controller")
	}
	if log == nil {
		log = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Handler{
		log:  log,
		cfg:  cfg,
		flow: ctl,
		now:  func() time.Time { return time.Now().UTC() },
	}, nil
}

// Register wires auth routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("POST /api/register", h.handleRegister)
	mux.HandleFunc("POST /api/login", h.handleLogin)
	mux.HandleFunc("POST /api/logout", h.handleLogout)
	mux.HandleFunc("POST /api/forgot-password", h.handleForgotPassword)
	mux.HandleFunc("POST /api/reset-password", h.handleResetPassword)
	mux.HandleFunc("GET /api/user", h.handleCurrentUser)
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.flow.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		h.writeFlowError(w, r, "auth.register.fail", err)
		return
	}

	h.setSessionCookie(w, res.Session.ID, res.Session.ExpiresAt, h.now())
	writeJSON(w, http.StatusCreated, toAccountResponse(res.Account))
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.flow.Login(r.Context(), req.Username, req.Password, req.RememberMe)
	if err != nil {
		h.writeFlowError(w, r, "auth.login.fail", err)
		return
	}

	now := h.now()
	h.setSessionCookie(w, res.Session.ID, res.Session.ExpiresAt, now)
	if res.RememberMeToken != "" {
		h.setRememberCookie(w, res.RememberMeToken, now)
	}
	writeJSON(w, http.StatusOK, toAccountResponse(res.Account))
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := h.flow.Logout(r.Context(), h.sessionIDFromCookie(r)); err != nil {
		h.writeFlowError(w, r, "auth.logout.fail", err)
		return
	}
	h.clearSessionCookies(w)
	writeJSON(w, http.StatusOK, messageResponse{Message: "Logged out"})
}

func (h *Handler) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if !h.decode(w, r, &req) {
		return
	}

	issued, err := h.flow.ForgotPassword(r.Context(), req.Username)
	if err != nil {
		h.writeFlowError(w, r, "auth.forgot_password.fail", err)
		return
	}

	resp := forgotPasswordResponse{Message: "Password reset token generated"}
	if issued.Issued && h.cfg.ExposeResetToken {
		resp.ResetToken = issued.Token
		exp := issued.ExpiresAt
		resp.ExpiresAt = &exp
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.flow.ResetPassword(r.Context(), req.Token, req.Password); err != nil {
		h.writeFlowError(w, r, "auth.reset_password.fail", err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Password reset successful"})
}

func (h *Handler) handleCurrentUser(w http.ResponseWriter, r *http.Request) {
	acc, sess, err := h.flow.CurrentUser(r.Context(), h.sessionIDFromCookie(r))
	if err != nil {
		if errors.Is(err, flow.ErrUnauthenticated) {
			h.expireCookie(w, h.cfg.SessionCookieName)
		}
		h.writeFlowError(w, r, "auth.current_user.fail", err)
		return
	}

	// Rolling expiry: the cookie follows the refreshed session.
	h.setSessionCookie(w, sess.ID, sess.ExpiresAt, h.now())
	writeJSON(w, http.StatusOK, toAccountResponse(acc))
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	err := decodeJSON(w, r, h.cfg.MaxBodyBytes, dst)
	if err == nil {
		return true
	}

	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, "body_too_large", "request body too large")
		return false
	}
	writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
	return false
}
