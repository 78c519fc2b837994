package authapi

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"passgate/cmd/identity"
	"passgate/cmd/internal/audit"
	"passgate/cmd/internal/auth/session"
	"passgate/cmd/internal/realtime"
	"passgate/cmd/security/access"
)

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toUserResponse(current(r).User))
}

func (h *Handler) handleDeleteMe(w http.ResponseWriter, r *http.Request) {
	cur := current(r)
	if !h.authorize(w, r, access.ResourceUser, access.ActionDelete, cur.User.ID) {
		return
	}

	if err := h.users.DeleteUser(r.Context(), cur.User.ID); err != nil && !identity.IsNotFound(err) {
		h.log.Error("auth.me.delete.fail", "err", err, "user_id", cur.User.ID)
		writeError(w, http.StatusInternalServerError, msgInternal)
		return
	}
	h.sessions.ExpireCookie(w)
	h.events.KickUser(cur.User.ID)
	h.record(r, audit.Event{
		Action:  audit.ActionUserDeleted,
		Subject: cur.User.Email,
		Meta:    map[string]any{"user_id": cur.User.ID, "self": true},
	})
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

// handleLogout is idempotent: with or without a session it answers success.
func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	cur, signedIn := session.FromContext(r.Context())

	if err := h.sessions.Destroy(r.Context(), w, r); err != nil {
		h.log.Error("session.destroy.fail", "err", err)
		writeError(w, http.StatusInternalServerError, msgInternal)
		return
	}

	if signedIn {
		h.events.KickSession(cur.Session.ID)
		h.record(r, audit.Event{
			UserID:    cur.User.ID,
			SessionID: cur.Session.ID,
			Action:    audit.ActionLogout,
		})
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

func (h *Handler) handleListPasskeys(w http.ResponseWriter, r *http.Request) {
	cur := current(r)
	if !h.authorize(w, r, access.ResourceAuthenticator, access.ActionRead, cur.User.ID) {
		return
	}

	auths, err := h.users.ListAuthenticators(r.Context(), cur.User.ID)
	if err != nil {
		h.log.Error("auth.passkeys.list.fail", "err", err)
		writeError(w, http.StatusInternalServerError, msgInternal)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[passkeyResponse]{Items: mapSlice(auths, toPasskeyResponse)})
}

func (h *Handler) handleDeletePasskey(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	a, err := h.users.GetAuthenticator(ctx, id)
	if identity.IsNotFound(err) || identity.IsInvalidInput(err) {
		writeError(w, http.StatusNotFound, msgPasskeyMissing)
		return
	}
	if err != nil {
		h.log.Error("auth.passkey.get.fail", "err", err)
		writeError(w, http.StatusInternalServerError, msgInternal)
		return
	}
	if !h.authorize(w, r, access.ResourceAuthenticator, access.ActionDelete, a.UserID) {
		return
	}

	// An account without passkeys cannot sign in again.
	remaining, err := h.users.ListAuthenticators(ctx, a.UserID)
	if err != nil {
		h.log.Error("auth.passkeys.list.fail", "err", err)
		writeError(w, http.StatusInternalServerError, msgInternal)
		return
	}
	if len(remaining) <= 1 {
		writeError(w, http.StatusConflict, msgLastPasskey)
		return
	}

	if err := h.users.DeleteAuthenticator(ctx, a.ID); err != nil && !identity.IsNotFound(err) {
		h.log.Error("auth.passkey.delete.fail", "err", err)
		writeError(w, http.StatusInternalServerError, msgInternal)
		return
	}

	h.events.Publish(a.UserID, realtime.NewEnvelope(realtime.TypePasskeyRemoved, realtime.PasskeyPayload{PasskeyID: a.ID}, timeNow()))
	h.record(r, audit.Event{
		UserID:    current(r).User.ID,
		SessionID: current(r).Session.ID,
		Action:    audit.ActionPasskeyDeleted,
		Meta:      map[string]any{"passkey_id": a.ID, "owner_id": a.UserID},
	})
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	cur := current(r)
	if !h.authorize(w, r, access.ResourceSession, access.ActionRead, cur.User.ID) {
		return
	}

	rows, err := h.sessions.List(r.Context(), cur.User.ID)
	if err != nil {
		h.log.Error("auth.sessions.list.fail", "err", err)
		writeError(w, http.StatusInternalServerError, msgInternal)
		return
	}
	maxAge := h.sessions.Config().MaxAge
	writeJSON(w, http.StatusOK, listResponse[sessionResponse]{Items: mapSlice(rows, func(row session.Row) sessionResponse {
		return toSessionResponse(row, maxAge, cur.Session.ID)
	})})
}

func (h *Handler) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cur := current(r)
	id := chi.URLParam(r, "id")

	row, err := h.sessions.Lookup(ctx, id)
	if errors.Is(err, session.ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, msgSessionMissing)
		return
	}
	if err != nil {
		h.log.Error("auth.session.get.fail", "err", err)
		writeError(w, http.StatusInternalServerError, msgInternal)
		return
	}
	if !h.authorize(w, r, access.ResourceSession, access.ActionDelete, row.UserID) {
		return
	}

	if err := h.sessions.Revoke(ctx, row.ID); err != nil {
		h.log.Error("auth.session.revoke.fail", "err", err)
		writeError(w, http.StatusInternalServerError, msgInternal)
		return
	}
	if row.ID == cur.Session.ID {
		h.sessions.ExpireCookie(w)
	}

	h.events.KickSession(row.ID)
	h.events.Publish(row.UserID, realtime.NewEnvelope(realtime.TypeSessionRevoked, realtime.SessionPayload{SessionID: row.ID}, timeNow()))
	h.record(r, audit.Event{
		UserID:    cur.User.ID,
		SessionID: cur.Session.ID,
		Action:    audit.ActionSessionRevoked,
		Meta:      map[string]any{"revoked_session_id": row.ID, "owner_id": row.UserID},
	})
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}
