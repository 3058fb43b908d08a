// Package handler provides HTTP handlers for the inbox API.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/tartanilla/admin-inbox/internal/inbox"
	"github.com/tartanilla/admin-inbox/internal/middleware"
	"github.com/tartanilla/admin-inbox/internal/model"
	"github.com/tartanilla/admin-inbox/pkg/logger"
)

// InboxHandler exposes one operator inbox per authenticated request.
type InboxHandler struct {
	manager *inbox.Manager
	logger  *logger.Logger
}

// NewInboxHandler creates the inbox handler.
func NewInboxHandler(manager *inbox.Manager, log *logger.Logger) *InboxHandler {
	return &InboxHandler{manager: manager, logger: log}
}

func (h *InboxHandler) controller(r *http.Request) *inbox.Controller {
	return h.manager.Controller(r.Context(), middleware.GetOperatorID(r.Context()))
}

// List handles GET /api/v1/conversations?role=&status=&q=
func (h *InboxHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := model.Filter{
		Role:   q.Get("role"),
		Status: q.Get("status"),
		Query:  q.Get("q"),
	}
	if err := middleware.ValidateStatusFilter(f.Status); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctrl := h.controller(r)
	convs, err := ctrl.ListConversations(r.Context(), f)
	if errors.Is(err, inbox.ErrStaleLoad) {
		writeInboxError(w, err)
		return
	}
	if err != nil {
		// RemoteUnavailable renders an explicit empty state, flagged so
		// the client can distinguish it from "no conversations".
		h.logger.Warn("conversation list failed", zap.Error(err))
		writeJSON(w, http.StatusOK, map[string]any{
			"conversations": []model.Conversation{},
			"load_failed":   true,
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"conversations": convs,
		"filter":        f,
	})
}

// Select handles POST /api/v1/conversations/{id}/select
func (h *InboxHandler) Select(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := middleware.ValidateConversationID(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctrl := h.controller(r)
	view, err := ctrl.SelectConversation(r.Context(), id)
	if errors.Is(err, inbox.ErrConversationNotFound) {
		writeInboxError(w, err)
		return
	}
	if err != nil {
		h.logger.Warn("transcript load failed", zap.String("conversation_id", id), zap.Error(err))
		writeJSON(w, http.StatusOK, view)
		return
	}

	writeJSON(w, http.StatusOK, view)
}

// OlderMessages handles GET /api/v1/conversations/{id}/messages?before=...
// Pagination runs against the active conversation's cursor; an explicit
// before overrides it, so a client can re-fetch a window it lost.
func (h *InboxHandler) OlderMessages(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := middleware.ValidateConversationID(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctrl := h.controller(r)
	if ctrl.ActiveConversationID() != id {
		writeError(w, http.StatusConflict, "conversation is not selected")
		return
	}

	var before *time.Time
	if raw := r.URL.Query().Get("before"); raw != "" {
		ts, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "before must be an RFC 3339 timestamp")
			return
		}
		before = &ts
	}

	page, err := ctrl.LoadOlderMessages(r.Context(), before)
	if err != nil {
		h.logger.Warn("older-messages load failed", zap.String("conversation_id", id), zap.Error(err))
		writeInboxError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, page)
}

// Send handles POST /api/v1/conversations/{id}/messages
func (h *InboxHandler) Send(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := middleware.ValidateConversationID(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req model.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateMessageBody(req.Body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctrl := h.controller(r)
	if ctrl.ActiveConversationID() != id {
		writeError(w, http.StatusConflict, "conversation is not selected")
		return
	}

	msg, err := ctrl.SendMessage(r.Context(), req.Body)
	if errors.Is(err, inbox.ErrConversationClosed) {
		writeInboxError(w, err)
		return
	}
	if err != nil {
		// The client keeps the composed text for retry.
		h.logger.Warn("send failed", zap.String("conversation_id", id), zap.Error(err))
		writeInboxError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, msg)
}

// UpdateStatus handles PUT /api/v1/conversations/{id}/status
func (h *InboxHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := middleware.ValidateConversationID(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req model.UpdateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateStatus(req.Status); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctrl := h.controller(r)
	if err := ctrl.UpdateConversationStatus(r.Context(), id, req.Status); err != nil {
		h.logger.Warn("status update failed", zap.String("conversation_id", id), zap.Error(err))
		writeInboxError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"conversation_id": id,
		"status":          req.Status,
	})
}

// Unread handles GET /api/v1/inbox/unread for the global badge.
func (h *InboxHandler) Unread(w http.ResponseWriter, r *http.Request) {
	ctrl := h.controller(r)
	total, err := ctrl.TotalUnread(r.Context())
	if err != nil {
		h.logger.Warn("unread total failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to count unread messages")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"total": total})
}

// ReleaseSession handles DELETE /api/v1/inbox/session: tears down the
// operator's session so its realtime channels unsubscribe.
func (h *InboxHandler) ReleaseSession(w http.ResponseWriter, r *http.Request) {
	h.manager.Release(middleware.GetOperatorID(r.Context()))
	w.WriteHeader(http.StatusNoContent)
}
