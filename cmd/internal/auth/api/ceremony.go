package authapi

import (
	"errors"
	"net/http"

	"passgate/cmd/internal/auth/passkey"
)

// Ceremony messages. Login deliberately says "User not found" for unknown
// emails; registration is invite-only so there is nothing to enumerate.
const (
	msgEmailRequired    = "Email required"
	msgResponseRequired = "Response required"
	msgInviteOnly       = "Registration is invite-only."
	msgChallengeMissing = "Challenge expired or missing"
	msgVerification     = "Verification failed"
	msgDuplicatePasskey = "Passkey already registered"
	msgTooManyAttempts  = "Too many failed attempts"
	msgBodyTooLarge     = "Request body too large"
)

func (h *Handler) handleRegisterOptions(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !h.decodeValid(w, r, &req) {
		return
	}

	creation, err := h.passkeys.BeginRegistration(r.Context(), w, req.Email, viewer(r))
	if err != nil {
		h.writeCeremonyError(w, "auth.register.options.fail", err)
		return
	}
	writeJSON(w, http.StatusOK, creation)
}

func (h *Handler) handleRegisterVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if !h.decodeValid(w, r, &req) {
		return
	}

	res, err := h.passkeys.FinishRegistration(r.Context(), w, r, passkey.FinishInput{
		Email:    req.Email,
		Response: req.Response,
		Viewer:   viewer(r),
		Meta:     h.meta(r),
	})
	if err != nil {
		h.writeCeremonyError(w, "auth.register.verify.fail", err)
		return
	}
	writeJSON(w, http.StatusOK, verifyResponse{Verified: true, User: toUserResponse(res.User)})
}

func (h *Handler) handleLoginOptions(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !h.decodeValid(w, r, &req) {
		return
	}

	assertion, err := h.passkeys.BeginLogin(r.Context(), w, req.Email, h.meta(r).IP)
	if err != nil {
		h.writeCeremonyError(w, "auth.login.options.fail", err)
		return
	}
	writeJSON(w, http.StatusOK, assertion)
}

func (h *Handler) handleLoginVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if !h.decodeValid(w, r, &req) {
		return
	}

	res, err := h.passkeys.FinishLogin(r.Context(), w, r, passkey.FinishInput{
		Email:    req.Email,
		Response: req.Response,
		Meta:     h.meta(r),
	})
	if err != nil {
		h.writeCeremonyError(w, "auth.login.verify.fail", err)
		return
	}
	writeJSON(w, http.StatusOK, verifyResponse{Verified: true, User: toUserResponse(res.User)})
}

type validator interface {
	Validate() error
}

// decodeValid decodes and validates a request body, answering 400 (413 when
// oversized) on failure.
func (h *Handler) decodeValid(w http.ResponseWriter, r *http.Request, dst validator) bool {
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, dst); err != nil {
		if errors.Is(err, errBodyTooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, msgBodyTooLarge)
			return false
		}
		writeError(w, http.StatusBadRequest, msgInvalidBody)
		return false
	}
	switch err := dst.Validate(); {
	case err == nil:
		return true
	case errors.Is(err, errEmailRequired):
		writeError(w, http.StatusBadRequest, msgEmailRequired)
	case errors.Is(err, errResponseRequired):
		writeError(w, http.StatusBadRequest, msgResponseRequired)
	default:
		writeError(w, http.StatusBadRequest, msgInvalidBody)
	}
	return false
}

// writeCeremonyError maps passkey errors onto status codes and fixed messages.
func (h *Handler) writeCeremonyError(w http.ResponseWriter, event string, err error) {
	var locked *passkey.LockedError
	switch {
	case errors.Is(err, passkey.ErrEmailRequired):
		writeError(w, http.StatusBadRequest, msgEmailRequired)
	case errors.Is(err, passkey.ErrNotInvited):
		writeError(w, http.StatusForbidden, msgInviteOnly)
	case errors.Is(err, passkey.ErrChallengeMissing):
		writeError(w, http.StatusBadRequest, msgChallengeMissing)
	case errors.Is(err, passkey.ErrUserNotFound):
		writeError(w, http.StatusNotFound, msgUserNotFound)
	case passkey.IsVerification(err):
		h.log.Info(event, "err", err)
		writeError(w, http.StatusUnauthorized, msgVerification)
	case errors.Is(err, passkey.ErrDuplicateCredential):
		writeError(w, http.StatusConflict, msgDuplicatePasskey)
	case errors.As(err, &locked):
		writeRateLimitedMsg(w, locked.RetryAfter, msgTooManyAttempts)
	default:
		h.log.Error(event, "err", err)
		writeError(w, http.StatusInternalServerError, msgInternal)
	}
}
