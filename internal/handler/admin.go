package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	appI18n "github.com/monateaches/assessment/internal/i18n"
	"github.com/monateaches/assessment/internal/model"
	"github.com/monateaches/assessment/internal/report"
)

func (h *Handler) handleListSubmissions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	subs, err := h.store.ListSubmissions(model.SubmissionFilter{
		ChildName:   q.Get("childName"),
		ParentEmail: q.Get("parentEmail"),
	})
	if err != nil {
		slog.Error("failed to list submissions", "error", err)
		writeJSON(w, http.StatusInternalServerError, messageResponse{
			Message: appI18n.T(r.Context(), "InternalError"),
			Error:   err.Error(),
		})
		return
	}
	if subs == nil {
		subs = []model.Submission{}
	}
	writeJSON(w, http.StatusOK, subs)
}

func (h *Handler) handleSubmissionDetails(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r.URL.Query().Get("id"))
	if err != nil {
		writeMessage(w, http.StatusBadRequest, appI18n.T(r.Context(), "SubmissionIDRequired"))
		return
	}

	sub, err := h.store.GetSubmission(id)
	if err != nil {
		slog.Error("failed to get submission", "id", id, "error", err)
		writeMessage(w, http.StatusInternalServerError, appI18n.T(r.Context(), "InternalError"))
		return
	}
	if sub == nil {
		writeMessage(w, http.StatusNotFound, appI18n.T(r.Context(), "SubmissionNotFound"))
		return
	}

	items, err := report.DecodeDetailed(sub.DetailedResults)
	if err != nil {
		slog.Error("failed to decode detailed results", "id", id, "error", err)
		writeMessage(w, http.StatusInternalServerError, appI18n.T(r.Context(), "InternalError"))
		return
	}
	if items == nil {
		items = []model.GradedItem{}
	}
	writeJSON(w, http.StatusOK, items)
}

type deleteRequest struct {
	ID json.RawMessage `json:"id"`
}

func (h *Handler) handleDeleteSubmission(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("id")
	if raw == "" {
		var req deleteRequest
		if err := decodeJSON(r, &req); err != nil {
			writeMessage(w, http.StatusBadRequest, appI18n.T(r.Context(), "InvalidRequest"))
			return
		}
		raw = string(req.ID)
	}
	id, err := parseID(raw)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, appI18n.T(r.Context(), "SubmissionIDRequired"))
		return
	}

	ok, err := h.store.DeleteSubmission(id)
	if err != nil {
		slog.Error("failed to delete submission", "id", id, "error", err)
		writeMessage(w, http.StatusInternalServerError, appI18n.T(r.Context(), "InternalError"))
		return
	}
	if !ok {
		writeMessage(w, http.StatusNotFound, appI18n.T(r.Context(), "SubmissionNotFound"))
		return
	}
	slog.Info("submission deleted", "id", id, "by", model.AdminFromContext(r.Context()))
	writeMessage(w, http.StatusOK, appI18n.Td(r.Context(), "SubmissionDeleted", map[string]any{"ID": id}))
}
