// Package main is a smoke test for the passgate realtime event stream.
//
// It validates:
//   - handshake + subprotocol selection with a session cookie
//   - hello carrying the session id
//   - ping -> pong
//
// With -watch it then prints every event until the duration elapses or the
// server closes the stream (for example when the session is revoked).
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"
)

const (
	subprotocol  = "passgate.events.v1"
	maxReadBytes = 1 << 16
)

// envelope mirrors the server frame.
type envelope struct {
	V       int             `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type helloPayload struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
}

func main() {
	var (
		wsURL      = flag.String("url", "ws://127.0.0.1:8080/auth/events", "WebSocket URL")
		origin     = flag.String("origin", "http://localhost:8080", "Origin header to send (browser-like WS handshake)")
		cookieName = flag.String("cookie-name", "session", "session cookie name")
		session    = flag.String("session", os.Getenv("PASSGATE_SMOKE_SESSION"), "session cookie value (id.secret)")
		timeout    = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		watch      = flag.Duration("watch", 0, "keep reading events for this long")
	)
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if strings.TrimSpace(*session) == "" {
		fatalf("missing -session (or PASSGATE_SMOKE_SESSION)")
	}

	root := context.Background()
	conn := mustConnect(root, *wsURL, *origin, *cookieName, *session, *timeout)
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	hello := mustRead(root, conn, *timeout)
	if hello.Type != "hello" {
		fatalf("first frame: got %q want hello", hello.Type)
	}
	var hp helloPayload
	if err := json.Unmarshal(hello.Payload, &hp); err != nil || hp.SessionID == "" {
		fatalf("hello payload: %s", hello.Payload)
	}

	mustWrite(root, conn, envelope{V: 1, Type: "ping", ID: "smoke-ping", TS: time.Now().UTC()}, *timeout)
	for {
		env := mustRead(root, conn, *timeout)
		if env.Type == "pong" {
			break
		}
		if env.Type == "error" {
			fatalf("server error: %s", env.Payload)
		}
	}

	fmt.Printf("OK: user=%s session=%s\n", hp.UserID, hp.SessionID)

	if *watch <= 0 {
		return
	}
	ctx, cancel := context.WithTimeout(root, *watch)
	defer cancel()
	for {
		env, err := read(ctx, conn)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return
			}
			fmt.Printf("closed: %v\n", err)
			return
		}
		fmt.Printf("%s %s %s\n", env.TS.Format(time.RFC3339), env.Type, env.Payload)
	}
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	return nil
}

func mustConnect(parent context.Context, wsURL, origin, cookieName, session string, stepTimeout time.Duration) *websocket.Conn {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}
	h.Set("Cookie", (&http.Cookie{Name: cookieName, Value: session}).String())

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			fatalf("connect: %v (status %d)", err, resp.StatusCode)
		}
		fatalf("connect: %v", err)
	}
	if got := conn.Subprotocol(); got != subprotocol {
		fatalf("subprotocol: got %q want %q", got, subprotocol)
	}

	conn.SetReadLimit(maxReadBytes)
	return conn
}

func read(ctx context.Context, conn *websocket.Conn) (envelope, error) {
	_, data, err := conn.Read(ctx)
	if err != nil {
		return envelope{}, err
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return envelope{}, fmt.Errorf("bad frame %q: %w", data, err)
	}
	return env, nil
}

func mustRead(parent context.Context, conn *websocket.Conn, timeout time.Duration) envelope {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	env, err := read(ctx, conn)
	if err != nil {
		fatalf("read: %v", err)
	}
	return env
}

func mustWrite(parent context.Context, conn *websocket.Conn, env envelope, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	data, err := json.Marshal(env)
	if err != nil {
		fatalf("marshal: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		fatalf("write: %v", err)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
