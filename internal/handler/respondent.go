package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/monateaches/assessment/internal/assessment"
	"github.com/monateaches/assessment/internal/gateway"
	appI18n "github.com/monateaches/assessment/internal/i18n"
	"github.com/monateaches/assessment/internal/model"
	"github.com/monateaches/assessment/internal/questionbank"
)

type startRequest struct {
	ParentName     string `json:"parentName"`
	ChildName      string `json:"childName"`
	ParentEmail    string `json:"parentEmail"`
	KeyStage       string `json:"keyStage"`
	TurnstileToken string `json:"turnstileToken"`
}

func (s startRequest) respondent() model.Respondent {
	return model.Respondent{
		ParentName:  s.ParentName,
		ChildName:   s.ChildName,
		ParentEmail: s.ParentEmail,
		KeyStage:    s.KeyStage,
	}
}

type answerRequest struct {
	Answer         string `json:"answer"`
	TurnstileToken string `json:"turnstileToken"`
}

type sessionResponse struct {
	ID       string          `json:"id"`
	View     assessment.View `json:"view"`
	Progress string          `json:"progress,omitempty"`
	Message  string          `json:"message,omitempty"`
	Field    string          `json:"field,omitempty"`
}

// progressResponse wraps an in-progress view with its answered count.
func progressResponse(r *http.Request, id string, view assessment.View) sessionResponse {
	resp := sessionResponse{ID: id, View: view}
	if view.Phase == model.PhaseInProgress {
		resp.Progress = appI18n.Tp(r.Context(), "QuestionsAnswered", view.Answered)
	}
	return resp
}

type emailResponse struct {
	Status  assessment.NotifyState `json:"status"`
	Message string                 `json:"message"`
}

func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := decodeJSON(r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, appI18n.T(r.Context(), "InvalidRequest"))
		return
	}

	sess := h.sessions.Create()
	view, err := sess.Start(r.Context(), req.respondent(), req.TurnstileToken)
	if err != nil {
		// Only a failed verification keeps the session; the client retries
		// it via /start with a fresh token.
		var vf *assessment.VerificationError
		id := sess.ID
		if !errors.As(err, &vf) {
			h.sessions.Remove(sess.ID)
			id, view.ID = "", ""
		}
		h.writeSessionError(w, r, id, view, err)
		return
	}
	writeJSON(w, http.StatusCreated, progressResponse(r, sess.ID, view))
}

func (h *Handler) handleStartSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	var req startRequest
	if err := decodeJSON(r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, appI18n.T(r.Context(), "InvalidRequest"))
		return
	}
	view, err := sess.Start(r.Context(), req.respondent(), req.TurnstileToken)
	if err != nil {
		h.writeSessionError(w, r, sess.ID, view, err)
		return
	}
	writeJSON(w, http.StatusOK, progressResponse(r, sess.ID, view))
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	view := sess.View()
	resp := progressResponse(r, sess.ID, view)
	if view.Result != nil && view.Result.Forced {
		resp.Message = appI18n.T(r.Context(), "TimeUp")
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleAdvance(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	var req answerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, appI18n.T(r.Context(), "InvalidRequest"))
		return
	}
	view, err := sess.Advance(req.Answer)
	if err != nil {
		h.writeSessionError(w, r, sess.ID, view, err)
		return
	}
	writeJSON(w, http.StatusOK, progressResponse(r, sess.ID, view))
}

func (h *Handler) handleBack(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	view, err := sess.Back()
	if err != nil {
		h.writeSessionError(w, r, sess.ID, view, err)
		return
	}
	writeJSON(w, http.StatusOK, progressResponse(r, sess.ID, view))
}

func (h *Handler) handleDraft(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	var req answerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, appI18n.T(r.Context(), "InvalidRequest"))
		return
	}
	if err := sess.Draft(req.Answer); err != nil {
		h.writeSessionError(w, r, sess.ID, sess.View(), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	var req answerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, appI18n.T(r.Context(), "InvalidRequest"))
		return
	}
	res, err := sess.Submit(r.Context(), req.Answer, req.TurnstileToken)
	if errors.Is(err, assessment.ErrAlreadySubmitted) {
		writeJSON(w, http.StatusOK, res)
		return
	}
	if err != nil {
		h.writeSessionError(w, r, sess.ID, sess.View(), err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleResult(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	res, err := sess.Result()
	if err != nil {
		h.writeSessionError(w, r, sess.ID, sess.View(), err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleEmail(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	state, err := sess.Notify(r.Context())
	ctx := r.Context()

	var ne *gateway.NotificationError
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, emailResponse{Status: state, Message: appI18n.T(ctx, "EmailSent")})
	case errors.Is(err, assessment.ErrNotifyInFlight):
		writeJSON(w, http.StatusAccepted, emailResponse{Status: state, Message: appI18n.T(ctx, "EmailSending")})
	case errors.As(err, &ne):
		msgID := "EmailFailed"
		if ne.Network {
			msgID = "EmailNetworkError"
		}
		slog.Warn("results email failed", "session", sess.ID, "error", err)
		writeJSON(w, http.StatusBadGateway, emailResponse{Status: state, Message: appI18n.T(ctx, msgID)})
	default:
		h.writeSessionError(w, r, sess.ID, sess.View(), err)
	}
}

func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*assessment.Session, bool) {
	sess, err := h.sessions.Get(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeMessage(w, http.StatusNotFound, appI18n.T(r.Context(), "SessionNotFound"))
		return nil, false
	}
	return sess, true
}

// writeSessionError maps session errors onto status codes and localized
// messages. The current view is always included so the client can redraw.
func (h *Handler) writeSessionError(w http.ResponseWriter, r *http.Request, id string, view assessment.View, err error) {
	status, msgID, field := http.StatusInternalServerError, "InternalError", ""

	var (
		ve *assessment.ValidationError
		vf *assessment.VerificationError
		le *questionbank.LoadError
	)
	switch {
	case errors.As(err, &ve):
		status, field = http.StatusBadRequest, ve.Field
		switch {
		case ve.Field == "answer":
			msgID = "AnswerRequired"
		case ve.Field == "parentEmail" && !ve.Missing:
			msgID = "InvalidEmail"
		default:
			msgID = "IntakeRequired"
		}
	case errors.As(err, &vf):
		status, msgID = http.StatusForbidden, "VerificationFailed"
		if vf.Err != nil {
			status, msgID = http.StatusServiceUnavailable, "VerificationUnavailable"
		}
	case errors.As(err, &le):
		status, msgID = http.StatusServiceUnavailable, "QuestionBankUnavailable"
	case errors.Is(err, assessment.ErrNotFound):
		status, msgID = http.StatusNotFound, "SessionNotFound"
	case errors.Is(err, assessment.ErrNotLastQuestion):
		status, msgID = http.StatusConflict, "NotLastQuestion"
	case errors.Is(err, assessment.ErrAlreadySubmitted):
		status, msgID = http.StatusConflict, "AlreadySubmitted"
	case errors.Is(err, assessment.ErrWrongPhase):
		status, msgID = http.StatusConflict, "WrongPhase"
		if view.Result != nil && view.Result.Forced {
			msgID = "TimeUp"
		}
	default:
		slog.Error("session action failed", "session", id, "error", err)
	}

	writeJSON(w, status, sessionResponse{
		ID:      id,
		View:    view,
		Message: appI18n.T(r.Context(), msgID),
		Field:   field,
	})
}
