package chat

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"ciphertalk/cmd/internal/auth/session"
)

// SSEGateway is the server-sent-events entrypoint for the message stream.
// It is the primary transport: every frame the fanout produces is written
// as one `data:` event.
type SSEGateway struct {
	log    *slog.Logger
	fanout *Fanout
	ledger *session.Ledger
}

// NewSSEGateway constructs the gateway.
func NewSSEGateway(fanout *Fanout, ledger *session.Ledger, log *slog.Logger) *SSEGateway {
	if log == nil {
		log = slog.Default()
	}
	return &SSEGateway{log: log, fanout: fanout, ledger: ledger}
}

// ServeHTTP adapter so it can be mounted as http.Handler.
func (g *SSEGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleEvents(w, r)
}

// HandleEvents streams the thread to one client until it disconnects.
//
// Query parameters:
//   - deviceId: required, must hold a live session.
//   - lastMessageId: optional resume cursor; blank replays history.
//   - threadId: optional, defaults to the global thread.
func (g *SSEGateway) HandleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	deviceID := strings.TrimSpace(r.URL.Query().Get("deviceId"))
	if deviceID == "" {
		http.Error(w, "deviceId required", http.StatusBadRequest)
		return
	}

	valid, err := g.ledger.IsValid(r.Context(), deviceID)
	if err != nil {
		g.log.ErrorContext(r.Context(), "sse.session_check", "error", err)
		http.Error(w, "session check failed", http.StatusInternalServerError)
		return
	}
	if !valid {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	threadID := strings.TrimSpace(r.URL.Query().Get("threadId"))
	if threadID == "" {
		threadID = DefaultThreadID
	}
	afterID := strings.TrimSpace(r.URL.Query().Get("lastMessageId"))

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	sub := g.fanout.Subscribe(r.Context(), threadID, afterID)
	defer g.fanout.Unsubscribe(sub)

	g.log.Info("sse.connect", "device_id", deviceID, "thread_id", threadID, "subscriber_id", sub.ID)

	if err := writeSSEFrame(w, flusher, Frame{Type: FrameConnected}); err != nil {
		return
	}

	for {
		select {
		case <-r.Context().Done():
			g.log.Info("sse.disconnect", "device_id", deviceID, "subscriber_id", sub.ID)
			return
		case <-sub.Done():
			return
		case frame := <-sub.Send:
			if err := writeSSEFrame(w, flusher, frame); err != nil {
				g.log.Info("sse.write.fail", "subscriber_id", sub.ID, "error", err)
				return
			}
		}
	}
}

func writeSSEFrame(w http.ResponseWriter, flusher http.Flusher, frame Frame) error {
	b, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	if _, err := w.Write([]byte("data: ")); err != nil {
		return err
	}
	if _, err := w.Write(b); err != nil {
		return err
	}
	if _, err := w.Write([]byte("\n\n")); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
