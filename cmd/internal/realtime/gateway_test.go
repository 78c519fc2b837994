package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"passgate/cmd/identity"
	"passgate/cmd/internal/auth/session"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type gwFixture struct {
	srv    *httptest.Server
	hub    *Hub
	cookie *http.Cookie
	row    session.Row
}

func newGatewayFixture(t *testing.T) *gwFixture {
	t.Helper()
	ctx := context.Background()

	users := identity.NewMemoryStore()
	u, err := users.CreateUser(ctx, identity.CreateUserInput{
		Email:      "admin@example.com",
		WebAuthnID: []byte("handle-0123456789abcdef0123456789"),
	})
	require.NoError(t, err)

	mgr := session.NewManager(session.DefaultConfig(), session.NewMemoryStore(users))
	rec := httptest.NewRecorder()
	row, err := mgr.Set(ctx, rec, u.ID, session.Meta{})
	require.NoError(t, err)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)

	hub := startHub(t)

	cfg := DefaultGatewayConfig()
	cfg.AllowedOrigins = []string{"http://localhost"}
	gw := NewGateway(nil, hub, mgr, cfg)

	mux := http.NewServeMux()
	mux.Handle("/auth/events", gw)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return &gwFixture{srv: srv, hub: hub, cookie: cookies[0], row: row}
}

func dialEvents(t *testing.T, baseURL, origin string, cookie *http.Cookie) (*websocket.Conn, *http.Response, error) {
	t.Helper()

	u, err := url.Parse(baseURL)
	require.NoError(t, err)
	u.Scheme = "ws"
	u.Path = "/auth/events"

	h := http.Header{}
	if origin != "" {
		h.Set("Origin", origin)
	}
	if cookie != nil {
		h.Set("Cookie", cookie.Name+"="+cookie.Value)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return websocket.Dial(ctx, u.String(), &websocket.DialOptions{
		Subprotocols: []string{Subprotocol},
		HTTPHeader:   h,
	})
}

func readEnv(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func TestGateway_Unauthorized(t *testing.T) {
	f := newGatewayFixture(t)

	_, resp, err := dialEvents(t, f.srv.URL, "http://localhost", nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestGateway_OriginRejected(t *testing.T) {
	f := newGatewayFixture(t)

	_, resp, err := dialEvents(t, f.srv.URL, "https://evil.example", f.cookie)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestGateway_HelloPingAndKick(t *testing.T) {
	f := newGatewayFixture(t)

	conn, resp, err := dialEvents(t, f.srv.URL, "http://localhost", f.cookie)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	require.NoError(t, err)
	defer conn.CloseNow()

	hello := readEnv(t, conn)
	require.Equal(t, TypeHello, hello.Type)
	var hp HelloPayload
	require.NoError(t, json.Unmarshal(hello.Payload, &hp))
	assert.Equal(t, f.row.ID, hp.SessionID)

	ping, _ := json.Marshal(Envelope{V: Version, Type: TypePing})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, ping))
	assert.Equal(t, TypePong, readEnv(t, conn).Type)

	f.hub.KickSession(f.row.ID)
	assert.Equal(t, TypeSessionRevoked, readEnv(t, conn).Type)

	_, _, err = conn.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusPolicyViolation, websocket.CloseStatus(err))
}

func TestDeriveOriginPatterns(t *testing.T) {
	got := deriveOriginPatterns([]string{"https://Example.com:8443", "http://localhost", ""})
	assert.Equal(t, []string{"example.com", "example.com:*", "localhost", "localhost:*"}, got)
	assert.Equal(t, []string{"*"}, deriveOriginPatterns([]string{"http://a", "*"}))
}
