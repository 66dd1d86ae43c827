package httptransport

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/sessions"

	"p3am/internal/platform/middleware"
	"p3am/internal/session"
	"p3am/internal/session/models"
	"p3am/pkg/platform/httputil"
)

type verificationRequest struct {
	Channel string `json:"channel"`
}

type confirmRequest struct {
	Code string `json:"code"`
}

type setNewPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

// Handler exposes the session manager operations of the caller's browser
// session as JSON endpoints.
type Handler struct {
	registry *Registry
	cookies  sessions.Store
	logger   *slog.Logger
}

func NewHandler(registry *Registry, cookies sessions.Store, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{registry: registry, cookies: cookies, logger: logger}
}

// Register mounts the session routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Route("/api/v1/session", func(r chi.Router) {
		r.Get("/", h.handleSnapshot)
		r.Post("/login", h.handleLogin)
		r.Post("/register", h.handleRegister)
		r.Post("/password", h.handleSetNewPassword)
		r.Post("/verification", h.handleRequestVerification)
		r.Post("/verification/confirm", h.handleConfirmVerification)
		r.Get("/profile", h.handleProfile)
		r.Post("/logout", h.handleLogout)
	})
}

// manager resolves the caller's session manager, writing the error response
// itself when it cannot.
func (h *Handler) manager(w http.ResponseWriter, r *http.Request) (*session.Manager, string, bool) {
	ctx := r.Context()
	id, created, err := browserSessionID(h.cookies, w, r)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to establish browser session",
			"request_id", middleware.GetRequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, http.StatusInternalServerError, "internal_error", "")
		return nil, "", false
	}
	if created {
		h.logger.InfoContext(ctx, "browser session created",
			"session_id", id,
			"device", deviceLabel(middleware.GetUserAgent(ctx)),
			"client_ip", middleware.GetClientIP(ctx),
			"request_id", middleware.GetRequestID(ctx),
		)
	}

	m, err := h.registry.Get(ctx, id)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to load session",
			"session_id", id,
			"request_id", middleware.GetRequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, http.StatusServiceUnavailable, "session_unavailable", "")
		return nil, "", false
	}
	return m, id, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := httputil.DecodeJSON(r, dst); err != nil {
		h.logger.WarnContext(r.Context(), "invalid request body",
			"path", r.URL.Path,
			"request_id", middleware.GetRequestID(r.Context()),
			"error", err,
		)
		httputil.WriteError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return false
	}
	return true
}

func (h *Handler) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	m, _, ok := h.manager(w, r)
	if !ok {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, m.Snapshot())
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req models.Credentials
	if !h.decode(w, r, &req) {
		return
	}
	h.run(w, r, func(ctx context.Context, m *session.Manager) models.Result {
		return m.Login(ctx, req)
	})
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req models.Registration
	if !h.decode(w, r, &req) {
		return
	}
	h.run(w, r, func(ctx context.Context, m *session.Manager) models.Result {
		return m.Register(ctx, req)
	})
}

func (h *Handler) handleSetNewPassword(w http.ResponseWriter, r *http.Request) {
	var req setNewPasswordRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.run(w, r, func(ctx context.Context, m *session.Manager) models.Result {
		return m.SetNewPassword(ctx, req.Token, req.Password)
	})
}

func (h *Handler) handleRequestVerification(w http.ResponseWriter, r *http.Request) {
	var req verificationRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.run(w, r, func(ctx context.Context, m *session.Manager) models.Result {
		return m.RequestPhoneVerification(ctx, req.Channel)
	})
}

func (h *Handler) handleConfirmVerification(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.run(w, r, func(ctx context.Context, m *session.Manager) models.Result {
		return m.ConfirmPhoneVerification(ctx, req.Code)
	})
}

func (h *Handler) handleProfile(w http.ResponseWriter, r *http.Request) {
	m, _, ok := h.manager(w, r)
	if !ok {
		return
	}
	res := m.FetchProfile(r.Context())
	status := http.StatusOK
	if res.Unauthorized {
		status = http.StatusUnauthorized
	}
	httputil.WriteJSON(w, status, res)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	m, id, ok := h.manager(w, r)
	if !ok {
		return
	}
	res := m.Logout(r.Context())
	h.registry.Forget(id)
	httputil.WriteJSON(w, http.StatusOK, res)
}

// run executes a session operation; results always map to 200.
func (h *Handler) run(w http.ResponseWriter, r *http.Request, op func(context.Context, *session.Manager) models.Result) {
	m, _, ok := h.manager(w, r)
	if !ok {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, op(r.Context(), m))
}
