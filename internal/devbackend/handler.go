// Package devbackend is an in-memory implementation of the backend API the
// session gateway talks to. It exists for local runs and end-to-end tests.
package devbackend

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"p3am/internal/platform/middleware"
	"p3am/internal/verification"
	"p3am/pkg/platform/httputil"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type registerRequest struct {
	FullName string `json:"full_name"`
	Email    string `json:"email"`
	Username string `json:"username"`
	Phone    string `json:"phone"`
	Password string `json:"password"`
}

type verifyRequest struct {
	IDToken string `json:"idToken"`
}

type forgotPasswordRequest struct {
	Username string `json:"username"`
}

type setNewPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

type Handler struct {
	users           *Users
	tokens          *Tokens
	resets          *Resets
	verificationKey []byte
	logger          *slog.Logger
}

// NewHandler builds the API. verificationKey must match the key the local
// phone verification provider signs ID tokens with.
func NewHandler(users *Users, tokens *Tokens, verificationKey string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		users:           users,
		tokens:          tokens,
		resets:          NewResets(users, defaultResetTTL),
		verificationKey: []byte(verificationKey),
		logger:          logger,
	}
}

// Resets exposes the reset token issuer so local tooling can mint tokens
// without a mail round trip.
func (h *Handler) Resets() *Resets {
	return h.resets
}

// Register mounts the API routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/login", h.handleLogin)
		r.Post("/register", h.handleRegister)
		r.Post("/verify-firebase-id-token", h.handleVerifyIDToken)
		r.Post("/forgot-password", h.handleForgotPassword)
		r.Post("/set-new-password", h.handleSetNewPassword)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuth(h.tokens, h.logger))
			r.Get("/profile", h.handleProfile)
			r.Post("/logout", h.handleLogout)
		})
	})
}

// NewRouter returns a router serving the API with request logging.
func NewRouter(h *Handler, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.Logger(logger))
	h.Register(r)
	return r
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req loginRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "bad_request", "Invalid request body.")
		return
	}

	user, err := h.users.Authenticate(req.Username, req.Password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			h.logger.InfoContext(ctx, "login rejected", "username", req.Username)
			httputil.WriteError(w, http.StatusUnauthorized, "invalid_credentials", "Invalid username or password.")
			return
		}
		h.logger.ErrorContext(ctx, "login failed", "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "internal_error", "")
		return
	}

	if user.MFA && user.Phone != "" {
		httputil.WriteJSON(w, http.StatusOK, map[string]any{
			"username":    user.Username,
			"phoneNumber": user.Phone,
			"message":     "OTP verification initiated.",
		})
		return
	}
	h.writeSession(w, r, user, "Login successful.")
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req registerRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "bad_request", "Invalid request body.")
		return
	}
	if strings.TrimSpace(req.Username) == "" || req.Password == "" || strings.TrimSpace(req.Email) == "" {
		httputil.WriteError(w, http.StatusBadRequest, "validation_error", "Username, email and password are required.")
		return
	}

	_, err := h.users.Create(SeedUser{
		Username: strings.TrimSpace(req.Username),
		Password: req.Password,
		FullName: req.FullName,
		Email:    req.Email,
		Phone:    req.Phone,
	})
	if err != nil {
		if errors.Is(err, ErrUsernameTaken) {
			httputil.WriteError(w, http.StatusConflict, "conflict", "Username already exists.")
			return
		}
		h.logger.ErrorContext(ctx, "registration failed", "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "internal_error", "")
		return
	}
	h.logger.InfoContext(ctx, "account registered", "username", req.Username)
	httputil.WriteJSON(w, http.StatusCreated, map[string]string{"message": "Registration successful."})
}

func (h *Handler) handleVerifyIDToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req verifyRequest
	if err := httputil.DecodeJSON(r, &req); err != nil || req.IDToken == "" {
		httputil.WriteError(w, http.StatusBadRequest, "bad_request", "ID token is required.")
		return
	}

	claims, err := verification.ParseIDToken(h.verificationKey, req.IDToken)
	if err != nil {
		h.logger.InfoContext(ctx, "id token rejected", "error", err)
		httputil.WriteError(w, http.StatusUnauthorized, "invalid_token", "Invalid ID token.")
		return
	}
	user, err := h.users.ByPhone(claims.PhoneNumber)
	if err != nil {
		httputil.WriteError(w, http.StatusNotFound, "not_found", "No account is linked to this phone number.")
		return
	}
	h.writeSession(w, r, user, "Login successful via OTP.")
}

// handleForgotPassword answers the same way whether or not the account
// exists. The token is only logged; there is no mailer.
func (h *Handler) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req forgotPasswordRequest
	if err := httputil.DecodeJSON(r, &req); err != nil || strings.TrimSpace(req.Username) == "" {
		httputil.WriteError(w, http.StatusBadRequest, "bad_request", "Username is required.")
		return
	}

	token, err := h.resets.Issue(strings.TrimSpace(req.Username))
	switch {
	case err == nil:
		h.logger.InfoContext(ctx, "password reset issued", "username", req.Username, "reset_token", token)
	case errors.Is(err, ErrUserNotFound):
		h.logger.InfoContext(ctx, "password reset for unknown account", "username", req.Username)
	default:
		h.logger.ErrorContext(ctx, "password reset failed", "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "internal_error", "")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"message": "If the account exists, a reset token has been issued."})
}

func (h *Handler) handleSetNewPassword(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req setNewPasswordRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "bad_request", "Invalid request body.")
		return
	}
	if req.Token == "" || req.Password == "" {
		httputil.WriteError(w, http.StatusBadRequest, "validation_error", "Reset token and new password are required.")
		return
	}

	if err := h.resets.Redeem(req.Token, req.Password); err != nil {
		if errors.Is(err, ErrInvalidResetToken) || errors.Is(err, ErrUserNotFound) {
			httputil.WriteError(w, http.StatusBadRequest, "invalid_token", "Invalid or expired reset token.")
			return
		}
		h.logger.ErrorContext(ctx, "set new password failed", "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "internal_error", "")
		return
	}
	h.logger.InfoContext(ctx, "password updated")
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"message": "Password updated successfully."})
}

func (h *Handler) handleProfile(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaims(r.Context())
	user, err := h.users.ByUsername(claims.Username)
	if err != nil {
		httputil.WriteError(w, http.StatusUnauthorized, "unauthorized", "Account no longer exists.")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, user.Profile())
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	token, _ := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if err := h.tokens.RevokeToken(token); err != nil {
		httputil.WriteError(w, http.StatusUnauthorized, "unauthorized", "Invalid or expired token")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"message": "Logged out."})
}

func (h *Handler) writeSession(w http.ResponseWriter, r *http.Request, user *User, message string) {
	token, err := h.tokens.Issue(user.Username)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to issue session token", "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "internal_error", "")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"token":    token,
		"username": user.Username,
		"user":     user.Profile(),
		"message":  message,
	})
}
