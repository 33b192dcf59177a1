package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/monateaches/assessment/internal/assessment"
	"github.com/monateaches/assessment/internal/gateway"
	appI18n "github.com/monateaches/assessment/internal/i18n"
	"github.com/monateaches/assessment/internal/model"
	"github.com/monateaches/assessment/internal/store"
)

const maxBodyBytes = 1 << 20

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	sessions *assessment.Manager
	store    *store.Store
	verifier gateway.Verifier
	notifier gateway.Notifier
	auth     *AuthService
	config   model.AssessmentConfig
}

// Deps are the collaborators of a Handler. Verifier and Notifier are
// optional; the matching gateway endpoints report them as unavailable.
type Deps struct {
	Sessions *assessment.Manager
	Store    *store.Store
	Verifier gateway.Verifier
	Notifier gateway.Notifier
	Auth     *AuthService
	Config   model.AssessmentConfig
}

// New creates a new Handler.
func New(d Deps) (*Handler, error) {
	switch {
	case d.Sessions == nil:
		return nil, errors.New("handler: session manager is required")
	case d.Store == nil:
		return nil, errors.New("handler: store is required")
	case d.Auth == nil:
		return nil, errors.New("handler: auth service is required")
	}
	if d.Config.GatewayTimeout <= 0 {
		d.Config.GatewayTimeout = gateway.DefaultTimeout
	}
	return &Handler{
		sessions: d.Sessions,
		store:    d.Store,
		verifier: d.Verifier,
		notifier: d.Notifier,
		auth:     d.Auth,
		config:   d.Config,
	}, nil
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.MethodNotAllowed(h.handleMethodNotAllowed)
	r.NotFound(h.handleNotFound)

	r.Get("/healthz", h.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Post("/sessions", h.handleCreateSession)
		r.Route("/sessions/{sessionID}", func(r chi.Router) {
			r.Get("/", h.handleGetSession)
			r.Post("/start", h.handleStartSession)
			r.Post("/advance", h.handleAdvance)
			r.Post("/back", h.handleBack)
			r.Post("/draft", h.handleDraft)
			r.Post("/submit", h.handleSubmit)
			r.Get("/result", h.handleResult)
			r.Post("/email", h.handleEmail)
		})

		r.Post("/save-submission", h.handleSaveSubmission)
		r.Post("/verify-turnstile", h.handleVerifyTurnstile)
		r.Post("/send-email", h.handleSendEmail)
		r.Post("/admin-auth", h.handleAdminAuth)

		r.Group(func(r chi.Router) {
			r.Use(h.requireAdmin)
			r.Get("/get-submissions", h.handleListSubmissions)
			r.Get("/get-submission-details", h.handleSubmissionDetails)
			r.Delete("/delete-submission", h.handleDeleteSubmission)
		})
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		slog.Error("health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "sessions": h.sessions.Len()})
}

func (h *Handler) handleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeMessage(w, http.StatusMethodNotAllowed, appI18n.T(r.Context(), "MethodNotAllowed"))
}

func (h *Handler) handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeMessage(w, http.StatusNotFound, appI18n.T(r.Context(), "NotFound"))
}

type messageResponse struct {
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, messageResponse{Message: msg})
}

// decodeJSON reads a JSON request body into v. An empty body leaves v
// untouched.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}

// parseID accepts a submission id given as a JSON number or string.
func parseID(raw string) (int64, error) {
	raw = strings.Trim(strings.TrimSpace(raw), `"`)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid submission id %q", raw)
	}
	return id, nil
}
