// Package main provides a CI-friendly smoke test for a running CipherTalk
// server.
//
// It validates:
//   - password login -> session + device id
//   - unlock token mint -> verify (single use)
//   - WebSocket stream attach + connected frame
//   - HTTP send -> stream fanout of the same message
//   - history fetch + cursor-based resume
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"
)

const maxReadBytes = 1 << 20 // 1MiB

type frame struct {
	Type    string       `json:"type"`
	Message *wireMessage `json:"message,omitempty"`
	Error   string       `json:"error,omitempty"`
}

type wireMessage struct {
	ID           string    `json:"id"`
	Body         string    `json:"body"`
	SenderID     string    `json:"senderId"`
	SenderHandle string    `json:"senderHandle"`
	CreatedAt    time.Time `json:"createdAt"`
}

type streamClient struct {
	conn  *websocket.Conn
	inbox chan frame
	errCh chan error
}

func main() {
	var (
		base    = flag.String("base", "http://127.0.0.1:8080", "Server base URL")
		user    = flag.String("user", "gwen", "Handle to log in with")
		pass    = flag.String("pass", "110606", "Password to log in with")
		thread  = flag.String("thread", "global-chat-room", "Thread ID to stream")
		text    = flag.String("text", "hello ciphertalk", "Message body to send")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateBaseURL(*base); err != nil {
		fatalf("invalid -base: %v", err)
	}

	root := context.Background()
	hc := &http.Client{Timeout: *timeout}

	deviceID, handle := mustLogin(root, hc, *base, *user, *pass)
	if *verbose {
		fmt.Printf("logged in: handle=%s device=%s\n", handle, deviceID)
	}

	token := mustMint(root, hc, *base, deviceID)
	mustVerify(root, hc, *base, deviceID, token)
	mustVerifyRejected(root, hc, *base, deviceID, token)

	c := mustAttachStream(root, *base, deviceID, *thread, *timeout)
	defer closeWS(c.conn)

	c.mustReadType(root, "connected", *timeout)

	sent := mustSend(root, hc, *base, deviceID, *thread, *text)
	if *verbose {
		fmt.Printf("sent: id=%s\n", sent.ID)
	}

	got := c.mustReadType(root, "message", *timeout)
	if got.Message == nil {
		fatalf("message frame missing payload")
	}
	if got.Message.ID != sent.ID {
		fatalf("stream id mismatch: got=%q want=%q", got.Message.ID, sent.ID)
	}
	if got.Message.Body != *text {
		fatalf("stream body mismatch: got=%q want=%q", got.Message.Body, *text)
	}
	if got.Message.SenderHandle != handle {
		fatalf("stream sender mismatch: got=%q want=%q", got.Message.SenderHandle, handle)
	}

	mustHistoryContains(root, hc, *base, deviceID, *thread, sent.ID, *text)
	mustHistoryEmptyAfter(root, hc, *base, deviceID, *thread, sent.ID)

	fmt.Printf("OK: handle=%s device=%s thread=%s msg=%s\n", handle, deviceID, *thread, sent.ID)
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	return nil
}

func wsURL(base, deviceID, threadID string) string {
	u, err := url.Parse(base)
	if err != nil {
		fatalf("parse base url: %v", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/api/chat/ws"
	q := u.Query()
	q.Set("deviceId", deviceID)
	q.Set("threadId", threadID)
	u.RawQuery = q.Encode()
	return u.String()
}

func mustLogin(ctx context.Context, hc *http.Client, base, user, pass string) (deviceID, handle string) {
	var out struct {
		UserID   string `json:"userId"`
		Handle   string `json:"handle"`
		DeviceID string `json:"deviceId"`
	}
	status := postJSON(ctx, hc, base+"/api/auth/login", map[string]string{
		"username": user,
		"password": pass,
	}, &out)
	if status != http.StatusOK {
		fatalf("login: unexpected status %d", status)
	}
	if strings.TrimSpace(out.DeviceID) == "" {
		fatalf("login: missing deviceId")
	}
	return out.DeviceID, out.Handle
}

func mustMint(ctx context.Context, hc *http.Client, base, deviceID string) string {
	var out struct {
		Token string `json:"token"`
	}
	status := postJSON(ctx, hc, base+"/api/gate/token/mint", map[string]string{
		"deviceId": deviceID,
	}, &out)
	if status != http.StatusOK {
		fatalf("mint: unexpected status %d", status)
	}
	if strings.TrimSpace(out.Token) == "" {
		fatalf("mint: missing token")
	}
	return out.Token
}

func mustVerify(ctx context.Context, hc *http.Client, base, deviceID, token string) {
	var out struct {
		Unlocked bool `json:"unlocked"`
	}
	status := postJSON(ctx, hc, base+"/api/gate/token/verify", map[string]string{
		"deviceId": deviceID,
		"token":    token,
	}, &out)
	if status != http.StatusOK {
		fatalf("verify: unexpected status %d", status)
	}
	if !out.Unlocked {
		fatalf("verify: expected unlocked=true")
	}
}

// mustVerifyRejected asserts single-use consumption: a second verify with the
// same token must be denied.
func mustVerifyRejected(ctx context.Context, hc *http.Client, base, deviceID, token string) {
	status := postJSON(ctx, hc, base+"/api/gate/token/verify", map[string]string{
		"deviceId": deviceID,
		"token":    token,
	}, nil)
	if status != http.StatusUnauthorized {
		fatalf("verify reuse: expected 401, got %d", status)
	}
}

func mustSend(ctx context.Context, hc *http.Client, base, deviceID, threadID, text string) wireMessage {
	var out wireMessage
	status := postJSON(ctx, hc, base+"/api/chat/messages", map[string]string{
		"deviceId": deviceID,
		"threadId": threadID,
		"body":     text,
	}, &out)
	if status != http.StatusCreated {
		fatalf("send: unexpected status %d", status)
	}
	if strings.TrimSpace(out.ID) == "" {
		fatalf("send: missing message id")
	}
	if out.CreatedAt.IsZero() {
		fatalf("send: missing createdAt")
	}
	return out
}

func mustHistoryContains(ctx context.Context, hc *http.Client, base, deviceID, threadID, msgID, text string) {
	msgs := fetchHistory(ctx, hc, base, deviceID, threadID, "")
	for _, m := range msgs {
		if m.ID == msgID && m.Body == text {
			return
		}
	}
	fatalf("history missing expected message %s", msgID)
}

func mustHistoryEmptyAfter(ctx context.Context, hc *http.Client, base, deviceID, threadID, afterID string) {
	msgs := fetchHistory(ctx, hc, base, deviceID, threadID, afterID)
	if len(msgs) != 0 {
		fatalf("expected empty history after %s, got %d", afterID, len(msgs))
	}
}

func fetchHistory(ctx context.Context, hc *http.Client, base, deviceID, threadID, afterID string) []wireMessage {
	u, err := url.Parse(base + "/api/chat/messages")
	if err != nil {
		fatalf("parse history url: %v", err)
	}
	q := u.Query()
	q.Set("deviceId", deviceID)
	q.Set("threadId", threadID)
	if afterID != "" {
		q.Set("lastMessageId", afterID)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		fatalf("build history request: %v", err)
	}
	resp, err := hc.Do(req)
	if err != nil {
		fatalf("history request: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		fatalf("history: unexpected status %d", resp.StatusCode)
	}

	var out struct {
		Messages []wireMessage `json:"messages"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxReadBytes)).Decode(&out); err != nil {
		fatalf("decode history: %v", err)
	}
	return out.Messages
}

func mustAttachStream(parent context.Context, base, deviceID, threadID string, stepTimeout time.Duration) *streamClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	conn, resp, err := websocket.Dial(ctx, wsURL(base, deviceID, threadID), nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("stream attach: %v", err)
	}

	conn.SetReadLimit(maxReadBytes)

	c := &streamClient{
		conn:  conn,
		inbox: make(chan frame, 256),
		errCh: make(chan error, 1),
	}
	c.startReadLoop()
	return c
}

func (c *streamClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			mt, data, err := c.conn.Read(context.Background())
			if err != nil {
				select {
				case c.errCh <- err:
				default:
				}
				return
			}

			if mt != websocket.MessageText {
				select {
				case c.errCh <- fmt.Errorf("unsupported message type: %v", mt):
				default:
				}
				return
			}

			var f frame
			if err := json.Unmarshal(data, &f); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad json: %w", err):
				default:
				}
				return
			}

			select {
			case c.inbox <- f:
			default:
				select {
				case c.errCh <- errors.New("inbox overflow: consumer too slow"):
				default:
				}
				return
			}
		}
	}()
}

func (c *streamClient) mustReadType(parent context.Context, wantType string, stepTimeout time.Duration) frame {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %q: %v", wantType, ctx.Err())
		case err := <-c.errCh:
			if err == nil {
				fatalf("stream closed while waiting for %q", wantType)
			}
			fatalf("stream error while waiting for %q: %v", wantType, err)
		case f, ok := <-c.inbox:
			if !ok {
				fatalf("stream closed while waiting for %q", wantType)
			}
			if f.Type == "error" {
				fatalf("server error frame: %q", f.Error)
			}
			if f.Type == wantType {
				return f
			}
			fatalf("unexpected frame type: got=%q want=%q", f.Type, wantType)
		}
	}
}

func postJSON(ctx context.Context, hc *http.Client, rawURL string, body any, out any) int {
	b, err := json.Marshal(body)
	if err != nil {
		fatalf("marshal request: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(b))
	if err != nil {
		fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := hc.Do(req)
	if err != nil {
		fatalf("request %s: %v", rawURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(io.LimitReader(resp.Body, maxReadBytes)).Decode(out); err != nil {
			fatalf("decode response from %s: %v", rawURL, err)
		}
	} else {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxReadBytes))
	}
	return resp.StatusCode
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
