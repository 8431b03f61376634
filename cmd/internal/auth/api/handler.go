// Package api exposes the authentication surface over HTTP: the
// device-binding ceremonies and the legacy username/password login.
package api

import (
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"ciphertalk/cmd/identity"
	"ciphertalk/cmd/internal/auth/binder"
	"ciphertalk/cmd/internal/auth/session"
	"ciphertalk/cmd/security/credential"
)

// Ceremony flows accepted by the webauthn endpoints. Matched exhaustively;
// anything else is a 400.
const (
	flowRegistration   = "registration"
	flowAuthentication = "authentication"
)

// Handler serves the auth routes.
type Handler struct {
	log      *slog.Logger
	binder   *binder.Service
	resolver identity.CredentialResolver
	ledger   *session.Ledger
}

// NewHandler constructs the auth HTTP handler.
func NewHandler(b *binder.Service, resolver identity.CredentialResolver, ledger *session.Ledger, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{log: log, binder: b, resolver: resolver, ledger: ledger}
}

// Register mounts the auth routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/auth/webauthn/start", h.handleStart)
	mux.HandleFunc("POST /api/auth/webauthn/finish", h.handleFinish)
	mux.HandleFunc("POST /api/auth/login", h.handleLogin)
	mux.HandleFunc("POST /api/auth/logout", h.handleLogout)
}

type startRequest struct {
	Flow   string `json:"flow"`
	Handle string `json:"handle,omitempty"`
}

type startResponse struct {
	ChallengeID string `json:"challengeId"`
	Challenge   string `json:"challenge"`
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}

	var (
		ch  binder.Challenge
		err error
	)
	switch req.Flow {
	case flowRegistration:
		ch, err = h.binder.StartRegistration(r.Context(), req.Handle)
	case flowAuthentication:
		ch, err = h.binder.StartAuthentication(r.Context())
	default:
		writeError(w, http.StatusBadRequest, "invalid_request", "flow must be registration or authentication")
		return
	}

	switch {
	case errors.Is(err, binder.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid_request", "handle is required")
		return
	case err != nil:
		h.log.ErrorContext(r.Context(), "auth.start.failed", "flow", req.Flow, "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "ceremony start failed")
		return
	}

	writeJSON(w, http.StatusOK, startResponse{ChallengeID: ch.ChallengeID, Challenge: ch.Challenge})
}

type finishRequest struct {
	Flow         string `json:"flow"`
	ChallengeID  string `json:"challengeId"`
	CredentialID string `json:"credentialId"`
	PublicKey    string `json:"publicKey,omitempty"` // base64url, registration only
	Signature    string `json:"signature"`           // base64url
	SignCount    uint32 `json:"signCount,omitempty"`
	Cancelled    bool   `json:"cancelled,omitempty"`
}

type sessionResponse struct {
	UserID    string    `json:"userId"`
	Handle    string    `json:"handle"`
	DeviceID  string    `json:"deviceId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (h *Handler) handleFinish(w http.ResponseWriter, r *http.Request) {
	var req finishRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}

	if req.Cancelled {
		// The client aborted the ceremony; acknowledge without a session.
		h.log.InfoContext(r.Context(), "auth.finish.cancelled", "flow", req.Flow)
		writeError(w, http.StatusBadRequest, "ceremony_cancelled", binder.ErrUserCancelled.Error())
		return
	}

	att, err := attestationFromRequest(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed attestation")
		return
	}

	var res binder.Result
	switch req.Flow {
	case flowRegistration:
		res, err = h.binder.FinishRegistration(r.Context(), req.ChallengeID, att)
	case flowAuthentication:
		res, err = h.binder.FinishAuthentication(r.Context(), req.ChallengeID, att)
	default:
		writeError(w, http.StatusBadRequest, "invalid_request", "flow must be registration or authentication")
		return
	}

	switch {
	case errors.Is(err, binder.ErrChallengeNotFound):
		writeError(w, http.StatusUnauthorized, "ceremony_expired", "challenge unknown or expired")
		return
	case errors.Is(err, identity.ErrCredentialConflict):
		writeError(w, http.StatusConflict, "credential_conflict", "credential is bound to another user")
		return
	case errors.Is(err, credential.ErrInvalidAttestation),
		errors.Is(err, credential.ErrInvalidSignature),
		errors.Is(err, credential.ErrCounterReplay),
		identity.IsNotFound(err):
		writeError(w, http.StatusUnauthorized, "unauthorized", "verification failed")
		return
	case errors.Is(err, binder.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid_request", "challengeId is required")
		return
	case err != nil:
		h.log.ErrorContext(r.Context(), "auth.finish.failed", "flow", req.Flow, "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "ceremony finish failed")
		return
	}

	writeJSON(w, http.StatusOK, sessionResponse{
		UserID:    res.User.ID,
		Handle:    res.User.Handle,
		DeviceID:  res.Device.ID,
		ExpiresAt: res.Session.ExpiresAt,
	})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// handleLogin is the legacy username/password path. It resolves through the
// same credential contract as device binding, so a password user ends up
// with the same session anchor (a device row) as a hardware user.
func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}

	res, err := h.resolver.Resolve(r.Context(), identity.PasswordCredential{
		Username: req.Username,
		Password: req.Password,
	})
	switch {
	case errors.Is(err, identity.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid_request", "username and password are required")
		return
	case errors.Is(err, identity.ErrBadCredentials):
		writeError(w, http.StatusUnauthorized, "unauthorized", "bad credentials")
		return
	case err != nil:
		h.log.ErrorContext(r.Context(), "auth.login.failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "login failed")
		return
	}

	sess, err := h.ledger.CreateOrRefresh(r.Context(), res.Device.ID, session.DefaultTTL)
	if err != nil {
		h.log.ErrorContext(r.Context(), "auth.login.session", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "session create failed")
		return
	}

	h.log.InfoContext(r.Context(), "auth.login.ok", "handle", res.User.Handle, "device_id", res.Device.ID)
	writeJSON(w, http.StatusOK, sessionResponse{
		UserID:    res.User.ID,
		Handle:    res.User.Handle,
		DeviceID:  res.Device.ID,
		ExpiresAt: sess.ExpiresAt,
	})
}

type logoutRequest struct {
	DeviceID string `json:"deviceId"`
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req logoutRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}

	err := h.ledger.RevokeByDevice(r.Context(), req.DeviceID)
	switch {
	case errors.Is(err, session.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid_request", "deviceId is required")
		return
	case err != nil:
		h.log.ErrorContext(r.Context(), "auth.logout.failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "logout failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func attestationFromRequest(req finishRequest) (credential.Attestation, error) {
	att := credential.Attestation{
		CredentialID: req.CredentialID,
		SignCount:    req.SignCount,
	}

	if req.PublicKey != "" {
		pk, err := base64.RawURLEncoding.DecodeString(req.PublicKey)
		if err != nil {
			return credential.Attestation{}, err
		}
		att.PublicKey = pk
	}
	if req.Signature != "" {
		sig, err := base64.RawURLEncoding.DecodeString(req.Signature)
		if err != nil {
			return credential.Attestation{}, err
		}
		att.Signature = sig
	}
	return att, nil
}
