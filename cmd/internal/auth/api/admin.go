package authapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"passgate/cmd/identity"
	"passgate/cmd/internal/audit"
	"passgate/cmd/security/access"
)

func (h *Handler) handleListUsers(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r, access.ResourceUser, access.ActionRead, "") {
		return
	}

	users, err := h.users.ListUsers(r.Context())
	if err != nil {
		h.log.Error("admin.users.list.fail", "err", err)
		writeError(w, http.StatusInternalServerError, msgInternal)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[userResponse]{Items: mapSlice(users, toUserResponse)})
}

// handleDeleteUser removes an account with its sessions and passkeys.
func (h *Handler) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	if !h.authorize(w, r, access.ResourceUser, access.ActionDelete, id) {
		return
	}

	target, err := h.users.GetUserByID(ctx, id)
	if identity.IsNotFound(err) {
		writeError(w, http.StatusNotFound, msgUserNotFound)
		return
	}
	if err != nil {
		h.log.Error("admin.users.get.fail", "err", err)
		writeError(w, http.StatusInternalServerError, msgInternal)
		return
	}

	if err := h.users.DeleteUser(ctx, target.ID); err != nil && !identity.IsNotFound(err) {
		h.log.Error("admin.users.delete.fail", "err", err, "user_id", target.ID)
		writeError(w, http.StatusInternalServerError, msgInternal)
		return
	}
	if target.ID == current(r).User.ID {
		h.sessions.ExpireCookie(w)
	}

	h.events.KickUser(target.ID)
	h.record(r, audit.Event{
		UserID:    current(r).User.ID,
		SessionID: current(r).Session.ID,
		Action:    audit.ActionUserDeleted,
		Subject:   target.Email,
		Meta:      map[string]any{"user_id": target.ID},
	})
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

func (h *Handler) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r, access.ResourceAuditLog, access.ActionRead, "") {
		return
	}
	if h.audit == nil {
		writeJSON(w, http.StatusOK, listResponse[auditEventResponse]{Items: []auditEventResponse{}})
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = n
	}

	events, err := h.audit.List(r.Context(), audit.ClampLimit(limit))
	if err != nil {
		h.log.Error("admin.audit.list.fail", "err", err)
		writeError(w, http.StatusInternalServerError, msgInternal)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[auditEventResponse]{Items: mapSlice(events, toAuditEventResponse)})
}
