package gate

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"ciphertalk/cmd/internal/auth/session"
)

// Handler serves the unlock token endpoints.
type Handler struct {
	tokens *TokenService
	ledger *session.Ledger
	log    *slog.Logger
}

// NewHandler constructs the gate HTTP handler.
func NewHandler(tokens *TokenService, ledger *session.Ledger, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{tokens: tokens, ledger: ledger, log: log}
}

// Register mounts the gate routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/gate/token/mint", h.handleMint)
	mux.HandleFunc("POST /api/gate/token/verify", h.handleVerify)
}

type mintRequest struct {
	DeviceID string `json:"deviceId"`
}

type mintResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// handleMint issues a fresh unlock token for a device with a live session.
// Minting requires a valid session: the puzzle is a second factor on top of
// an authenticated device, never a substitute for one.
func (h *Handler) handleMint(w http.ResponseWriter, r *http.Request) {
	var req mintRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}

	ok, err := h.ledger.IsValid(r.Context(), req.DeviceID)
	if err != nil {
		h.log.ErrorContext(r.Context(), "gate.mint.session_check", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "session check failed")
		return
	}
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "no valid session for device")
		return
	}

	now := time.Now().UTC()
	plain, err := h.tokens.Mint(r.Context(), req.DeviceID, now)
	if errors.Is(err, ErrInvalidInput) {
		writeError(w, http.StatusBadRequest, "invalid_request", "deviceId is required")
		return
	}
	if errors.Is(err, ErrRateLimited) {
		writeError(w, http.StatusTooManyRequests, "rate_limited", "too many mints")
		return
	}
	if err != nil {
		h.log.ErrorContext(r.Context(), "gate.mint.failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "token mint failed")
		return
	}

	writeJSON(w, http.StatusOK, mintResponse{
		Token:     plain,
		ExpiresAt: now.Add(h.tokens.ttl),
	})
}

type verifyRequest struct {
	DeviceID string `json:"deviceId"`
	Token    string `json:"token"`
}

type verifyResponse struct {
	Unlocked bool `json:"unlocked"`
}

// handleVerify consumes an unlock token. Denials are uniform 401s so a
// caller cannot probe whether a token exists, expired, or belongs to
// another device.
func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}

	err := h.tokens.Verify(r.Context(), req.Token, req.DeviceID, time.Now().UTC())
	switch {
	case errors.Is(err, ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid_request", "deviceId and token are required")
		return
	case errors.Is(err, ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "rate_limited", "too many attempts")
		return
	case errors.Is(err, ErrTokenNotFound):
		writeError(w, http.StatusUnauthorized, "unauthorized", "token invalid")
		return
	case err != nil:
		h.log.ErrorContext(r.Context(), "gate.verify.failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "token verify failed")
		return
	}

	writeJSON(w, http.StatusOK, verifyResponse{Unlocked: true})
}

// ---- local JSON helpers ----

const maxBodyBytes = 64 << 10

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{Error: code, Message: msg})
}
