package chat

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ciphertalk/cmd/identity"
	"ciphertalk/cmd/internal/auth/session"
)

// Handler serves the message endpoints. Sends are durable-first: the
// message is appended to the log, the request is answered, and only then is
// the broadcast attempted. A failed push costs nothing because every
// subscriber's poll loop re-reads the log.
type Handler struct {
	log      *slog.Logger
	store    MessageLog
	fanout   *Fanout
	ledger   *session.Ledger
	identity identity.Store
}

// NewHandler constructs the chat HTTP handler.
func NewHandler(store MessageLog, fanout *Fanout, ledger *session.Ledger, ids identity.Store, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{log: log, store: store, fanout: fanout, ledger: ledger, identity: ids}
}

// Register mounts the message routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/chat/messages", h.handleSend)
	mux.HandleFunc("GET /api/chat/messages", h.handleList)

	// Envelope-style aliases kept for older clients.
	mux.HandleFunc("POST /api/messages/send", h.handleSend)
	mux.HandleFunc("POST /api/messages/list", h.handleListEnvelope)
}

type sendRequest struct {
	DeviceID  string `json:"deviceId"`
	ThreadID  string `json:"threadId,omitempty"`
	Body      string `json:"body"`
	Nonce     string `json:"nonce,omitempty"`
	Header    string `json:"header,omitempty"`
	Ephemeral bool   `json:"ephemeral,omitempty"`
}

func (h *Handler) handleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}

	deviceID := strings.TrimSpace(req.DeviceID)
	sender, ok := h.authorize(w, r, deviceID)
	if !ok {
		return
	}

	threadID := strings.TrimSpace(req.ThreadID)
	if threadID == "" {
		threadID = DefaultThreadID
	}

	msg, err := h.store.Append(r.Context(), AppendInput{
		ThreadID:     threadID,
		SenderID:     deviceID,
		SenderHandle: sender,
		Body:         req.Body,
		Nonce:        req.Nonce,
		Header:       req.Header,
		Ephemeral:    req.Ephemeral,
		Now:          time.Now().UTC(),
	})
	switch {
	case errors.Is(err, ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid_request", "body is required")
		return
	case errors.Is(err, ErrMessageTooLong):
		writeError(w, http.StatusBadRequest, "message_too_long", "message exceeds the size limit")
		return
	case err != nil:
		h.log.ErrorContext(r.Context(), "chat.send.append", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "message store failed")
		return
	}

	h.log.InfoContext(r.Context(), "chat.message.stored",
		"message_id", msg.ID, "thread_id", msg.ThreadID, "sender_handle", msg.SenderHandle)

	// Push after durability; losses surface as poll re-deliveries.
	h.fanout.Broadcast(msg)

	writeJSON(w, http.StatusCreated, msg.Wire())
}

type listResponse struct {
	Messages []WireMessage `json:"messages"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	deviceID := strings.TrimSpace(q.Get("deviceId"))
	if _, ok := h.authorize(w, r, deviceID); !ok {
		return
	}

	threadID := strings.TrimSpace(q.Get("threadId"))
	if threadID == "" {
		threadID = DefaultThreadID
	}
	limit, _ := strconv.Atoi(q.Get("limit"))

	before, ok := parseBefore(w, q.Get("before"))
	if !ok {
		return
	}

	h.writeHistory(w, r, threadID, strings.TrimSpace(q.Get("lastMessageId")), before, limit)
}

type listEnvelopeRequest struct {
	DeviceID      string `json:"deviceId"`
	ThreadID      string `json:"threadId,omitempty"`
	LastMessageID string `json:"lastMessageId,omitempty"`
	Before        string `json:"before,omitempty"` // RFC 3339
	Limit         int    `json:"limit,omitempty"`
}

func (h *Handler) handleListEnvelope(w http.ResponseWriter, r *http.Request) {
	var req listEnvelopeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}

	deviceID := strings.TrimSpace(req.DeviceID)
	if _, ok := h.authorize(w, r, deviceID); !ok {
		return
	}

	threadID := strings.TrimSpace(req.ThreadID)
	if threadID == "" {
		threadID = DefaultThreadID
	}

	before, ok := parseBefore(w, req.Before)
	if !ok {
		return
	}

	h.writeHistory(w, r, threadID, strings.TrimSpace(req.LastMessageID), before, req.Limit)
}

// parseBefore parses the optional backward-pagination cursor (RFC 3339).
func parseBefore(w http.ResponseWriter, raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, true
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "before must be an RFC 3339 timestamp")
		return time.Time{}, false
	}
	return t, true
}

func (h *Handler) writeHistory(w http.ResponseWriter, r *http.Request, threadID, afterID string, before time.Time, limit int) {
	msgs, err := h.store.List(r.Context(), ListInput{
		ThreadID: threadID,
		AfterID:  afterID,
		Before:   before,
		Limit:    limit,
	})
	if err != nil {
		h.log.ErrorContext(r.Context(), "chat.list", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "message list failed")
		return
	}

	out := make([]WireMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Wire())
	}
	writeJSON(w, http.StatusOK, listResponse{Messages: out})
}

// authorize re-validates the session and resolves the sender handle.
// Every message operation passes through here: the gate token unlocks the
// UI, but the server trusts only the session ledger.
func (h *Handler) authorize(w http.ResponseWriter, r *http.Request, deviceID string) (string, bool) {
	if deviceID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "deviceId is required")
		return "", false
	}

	valid, err := h.ledger.IsValid(r.Context(), deviceID)
	if err != nil {
		h.log.ErrorContext(r.Context(), "chat.session_check", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "session check failed")
		return "", false
	}
	if !valid {
		writeError(w, http.StatusUnauthorized, "unauthorized", "no valid session for device")
		return "", false
	}

	handle, err := h.senderHandle(r, deviceID)
	if err != nil {
		h.log.ErrorContext(r.Context(), "chat.sender_resolve", "device_id", deviceID, "error", err)
		writeError(w, http.StatusUnauthorized, "unauthorized", "unknown device")
		return "", false
	}
	return handle, true
}

func (h *Handler) senderHandle(r *http.Request, deviceID string) (string, error) {
	dev, err := h.identity.GetDeviceByID(r.Context(), deviceID)
	if err != nil {
		return "", err
	}
	u, err := h.identity.GetUserByID(r.Context(), dev.UserID)
	if err != nil {
		return "", err
	}
	return u.Handle, nil
}

// ---- local JSON helpers ----

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
