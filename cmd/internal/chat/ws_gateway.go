package chat

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"

	"ciphertalk/cmd/internal/auth/session"
)

const (
	wsWriteTimeout = 5 * time.Second
)

// WSGateway is the WebSocket entrypoint for the message stream. It is a
// write-only alternative to SSE carrying the same frames; sends still go
// through the HTTP message endpoint, so both transports share one
// durability path.
type WSGateway struct {
	log    *slog.Logger
	fanout *Fanout
	ledger *session.Ledger

	originPatterns []string
}

// NewWSGateway constructs the gateway. originPatterns feed
// websocket.Accept's cross-origin policy; empty means same-host only.
func NewWSGateway(fanout *Fanout, ledger *session.Ledger, log *slog.Logger, originPatterns []string) *WSGateway {
	if log == nil {
		log = slog.Default()
	}
	return &WSGateway{log: log, fanout: fanout, ledger: ledger, originPatterns: originPatterns}
}

// ServeHTTP adapter so it can be mounted as http.Handler.
func (g *WSGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS upgrades the request and streams frames until the peer goes away.
// Query parameters match the SSE gateway.
func (g *WSGateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	deviceID := strings.TrimSpace(r.URL.Query().Get("deviceId"))
	if deviceID == "" {
		http.Error(w, "deviceId required", http.StatusBadRequest)
		return
	}

	valid, err := g.ledger.IsValid(r.Context(), deviceID)
	if err != nil {
		g.log.ErrorContext(r.Context(), "ws.session_check", "error", err)
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

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: g.originPatterns,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "error", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	// The stream is one-way; CloseRead surfaces peer disconnects through
	// the returned context.
	ctx := conn.CloseRead(r.Context())

	sub := g.fanout.Subscribe(ctx, threadID, afterID)
	defer g.fanout.Unsubscribe(sub)

	g.log.Info("ws.connect", "device_id", deviceID, "thread_id", threadID, "subscriber_id", sub.ID)

	if err := writeWSFrame(ctx, conn, Frame{Type: FrameConnected}); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			g.log.Info("ws.disconnect", "device_id", deviceID, "subscriber_id", sub.ID)
			return
		case <-sub.Done():
			return
		case frame := <-sub.Send:
			if err := writeWSFrame(ctx, conn, frame); err != nil {
				g.log.Info("ws.write.fail", "subscriber_id", sub.ID, "error", err)
				return
			}
		}
	}
}

func writeWSFrame(parent context.Context, conn *websocket.Conn, frame Frame) error {
	ctx, cancel := context.WithTimeout(parent, wsWriteTimeout)
	defer cancel()

	b, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}
