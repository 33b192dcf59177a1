package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/monateaches/assessment/internal/gateway"
	appI18n "github.com/monateaches/assessment/internal/i18n"
	"github.com/monateaches/assessment/internal/model"
	"github.com/monateaches/assessment/internal/report"
)

type saveSubmissionResponse struct {
	Message string `json:"message"`
	ID      int64  `json:"id"`
}

func (h *Handler) handleSaveSubmission(w http.ResponseWriter, r *http.Request) {
	var req model.SubmissionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, appI18n.T(r.Context(), "InvalidRequest"))
		return
	}
	if strings.TrimSpace(req.ChildName) == "" || strings.TrimSpace(req.ParentEmail) == "" {
		writeMessage(w, http.StatusBadRequest, appI18n.T(r.Context(), "MissingFields"))
		return
	}

	sub, err := submissionFromRequest(req, time.Now())
	if err != nil {
		writeMessage(w, http.StatusBadRequest, appI18n.T(r.Context(), "InvalidRequest"))
		return
	}

	id, err := h.store.InsertSubmission(sub)
	if err != nil {
		slog.Error("error saving submission to database", "error", err)
		writeJSON(w, http.StatusInternalServerError, messageResponse{
			Message: appI18n.T(r.Context(), "SubmissionSaveFailed"),
			Error:   err.Error(),
		})
		return
	}
	slog.Info("submission saved to DB", "id", id, "child", sub.ChildName)
	writeJSON(w, http.StatusOK, saveSubmissionResponse{Message: appI18n.T(r.Context(), "SubmissionSaved"), ID: id})
}

// submissionFromRequest converts the wire payload into a store row. A
// missing or unparsable submission time falls back to now.
func submissionFromRequest(req model.SubmissionRequest, now time.Time) (model.Submission, error) {
	var detailed []byte
	if req.DetailedResults != nil {
		b, err := json.Marshal(req.DetailedResults)
		if err != nil {
			return model.Submission{}, err
		}
		detailed = b
	}

	total := req.TotalQuestions
	if total == 0 && detailed != nil {
		items, err := report.DecodeDetailed(detailed)
		if err != nil {
			return model.Submission{}, err
		}
		total = len(items)
	}

	at := now.UTC()
	if req.SubmissionTime != "" {
		if t, err := time.Parse(time.RFC3339, req.SubmissionTime); err == nil {
			at = t.UTC()
		} else {
			slog.Warn("ignoring unparsable submission time", "value", req.SubmissionTime)
		}
	}

	keyStage := strings.TrimSpace(req.KeyStage)
	if keyStage == "" {
		keyStage = gateway.DefaultKeyStage
	}

	return model.Submission{
		ParentName:      strings.TrimSpace(req.ParentName),
		ChildName:       strings.TrimSpace(req.ChildName),
		ParentEmail:     strings.TrimSpace(req.ParentEmail),
		KeyStage:        keyStage,
		Score:           req.Score,
		TotalQuestions:  total,
		Expectations:    req.Expectations,
		DetailedResults: detailed,
		SubmittedAt:     at,
	}, nil
}

type verifyRequest struct {
	TurnstileToken string `json:"turnstileToken"`
	Token          string `json:"token"`
}

type verifyResponse struct {
	Success bool     `json:"success"`
	Message string   `json:"message,omitempty"`
	Errors  []string `json:"errors,omitempty"`
}

func (h *Handler) handleVerifyTurnstile(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, appI18n.T(r.Context(), "InvalidRequest"))
		return
	}
	token := req.TurnstileToken
	if token == "" {
		token = req.Token
	}
	if h.verifier == nil {
		writeJSON(w, http.StatusOK, verifyResponse{Success: true})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.config.GatewayTimeout)
	defer cancel()

	var (
		res verifyResponse
		err error
	)
	if tv, ok := h.verifier.(*gateway.TurnstileVerifier); ok {
		var out gateway.TurnstileResult
		out, err = tv.Check(ctx, token)
		res = verifyResponse{Success: out.Success, Errors: out.ErrorCodes}
	} else {
		res.Success, err = h.verifier.Verify(ctx, token)
	}
	if err != nil {
		slog.Error("turnstile verification error", "error", err)
		writeJSON(w, http.StatusBadGateway, verifyResponse{Message: appI18n.T(r.Context(), "VerificationUnavailable")})
		return
	}
	if !res.Success {
		res.Message = appI18n.T(r.Context(), "VerificationFailed")
		writeJSON(w, http.StatusBadRequest, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleSendEmail(w http.ResponseWriter, r *http.Request) {
	var req model.NotificationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, appI18n.T(r.Context(), "InvalidRequest"))
		return
	}
	if strings.TrimSpace(req.ParentEmail) == "" || (req.ResultsText == "" && req.ResultsHTML == "") {
		writeMessage(w, http.StatusBadRequest, appI18n.T(r.Context(), "MissingFields"))
		return
	}
	if req.KeyStage == "" {
		req.KeyStage = gateway.DefaultKeyStage
	}
	if h.notifier == nil {
		writeMessage(w, http.StatusServiceUnavailable, appI18n.T(r.Context(), "EmailUnavailable"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.config.GatewayTimeout)
	defer cancel()

	if err := h.notifier.Notify(ctx, req); err != nil {
		slog.Error("failed to send results email", "to", req.ParentEmail, "error", err)
		msgID := "EmailFailed"
		var ne *gateway.NotificationError
		if errors.As(err, &ne) && ne.Network {
			msgID = "EmailNetworkError"
		}
		writeJSON(w, http.StatusBadGateway, messageResponse{Message: appI18n.T(r.Context(), msgID), Error: err.Error()})
		return
	}
	writeMessage(w, http.StatusOK, appI18n.T(r.Context(), "EmailSent"))
}
