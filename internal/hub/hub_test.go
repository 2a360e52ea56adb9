package hub

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"offlinekit/internal/models"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func dialWindow(t *testing.T, server *httptest.Server, pageURL string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "?url=" + url.QueryEscape(pageURL)
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.CloseNow() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var env Envelope
	require.NoError(t, wsjson.Read(ctx, conn, &env))
	return env
}

func waitForWindows(t *testing.T, h *Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return h.Count() == n }, 5*time.Second, 10*time.Millisecond)
}

func TestHub_ShowBroadcastsToEveryWindow(t *testing.T) {
	h := New(quietLogger())
	server := httptest.NewServer(h)
	defer server.Close()

	a := dialWindow(t, server, "http://localhost:8082/")
	b := dialWindow(t, server, "http://localhost:8082/contact")
	waitForWindows(t, h, 2)

	delivered, err := h.Show(context.Background(), models.Notification{Title: "Trebol Pools", Body: "Hola"})
	require.NoError(t, err)
	assert.Equal(t, 2, delivered)

	for _, conn := range []*websocket.Conn{a, b} {
		env := readEnvelope(t, conn)
		assert.Equal(t, TypeNotification, env.Type)
		var n models.Notification
		require.NoError(t, json.Unmarshal(env.Payload, &n))
		assert.Equal(t, "Hola", n.Body)
	}
}

func TestHub_MatchAllKeepsConnectionOrder(t *testing.T) {
	h := New(quietLogger())
	server := httptest.NewServer(h)
	defer server.Close()

	dialWindow(t, server, "http://localhost:8082/first")
	waitForWindows(t, h, 1)
	second := dialWindow(t, server, "http://localhost:8082/second")
	waitForWindows(t, h, 2)

	windows := h.MatchAll(context.Background())
	require.Len(t, windows, 2)
	assert.Equal(t, "http://localhost:8082/first", windows[0].URL)
	assert.Equal(t, "http://localhost:8082/second", windows[1].URL)

	ctx := context.Background()
	require.NoError(t, wsjson.Write(ctx, second, Envelope{Type: TypeNavigate, Payload: json.RawMessage(`{"url":"http://localhost:8082/moved"}`)}))
	require.Eventually(t, func() bool {
		return h.MatchAll(ctx)[1].URL == "http://localhost:8082/moved"
	}, 5*time.Second, 10*time.Millisecond)
}

func TestHub_FocusTargetsOneWindow(t *testing.T) {
	h := New(quietLogger())
	server := httptest.NewServer(h)
	defer server.Close()

	conn := dialWindow(t, server, "http://localhost:8082/")
	waitForWindows(t, h, 1)
	id := h.MatchAll(context.Background())[0].ID

	require.NoError(t, h.Focus(context.Background(), id))
	assert.Equal(t, TypeFocus, readEnvelope(t, conn).Type)
	assert.True(t, h.MatchAll(context.Background())[0].Focused)

	assert.ErrorIs(t, h.Focus(context.Background(), "missing"), ErrWindowNotFound)
}

func TestHub_ForwardsWindowMessages(t *testing.T) {
	received := make(chan json.RawMessage, 1)
	h := New(quietLogger(), WithMessageHandler(func(_ context.Context, _ string, payload json.RawMessage) error {
		received <- payload
		return nil
	}))
	server := httptest.NewServer(h)
	defer server.Close()

	conn := dialWindow(t, server, "http://localhost:8082/")
	waitForWindows(t, h, 1)

	require.NoError(t, wsjson.Write(context.Background(), conn, Envelope{Type: TypeMessage, Payload: json.RawMessage(`{"type":"SKIP_WAITING"}`)}))
	select {
	case payload := <-received:
		assert.JSONEq(t, `{"type":"SKIP_WAITING"}`, string(payload))
	case <-time.After(5 * time.Second):
		t.Fatal("message was not forwarded")
	}
}

func TestHub_ConnectHookAndDisconnect(t *testing.T) {
	connected := make(chan models.Window, 1)
	h := New(quietLogger(), WithConnectHook(func(_ context.Context, w models.Window) { connected <- w }))
	server := httptest.NewServer(h)
	defer server.Close()

	conn := dialWindow(t, server, "http://localhost:8082/start")
	select {
	case w := <-connected:
		assert.Equal(t, "http://localhost:8082/start", w.URL)
		assert.NotEmpty(t, w.ID)
	case <-time.After(5 * time.Second):
		t.Fatal("connect hook not called")
	}

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, ""))
	waitForWindows(t, h, 0)
}

func TestHub_ClaimAndOpenWindow(t *testing.T) {
	var opened string
	h := New(quietLogger(), WithOpener(func(_ context.Context, u string) error {
		opened = u
		return nil
	}))
	server := httptest.NewServer(h)
	defer server.Close()

	conn := dialWindow(t, server, "http://localhost:8082/")
	waitForWindows(t, h, 1)

	assert.Equal(t, 1, h.Claim(context.Background(), "v2"))
	env := readEnvelope(t, conn)
	assert.Equal(t, TypeControllerChange, env.Type)
	assert.JSONEq(t, `{"version":"v2"}`, string(env.Payload))

	require.NoError(t, h.OpenWindow(context.Background(), "http://localhost:8082/x"))
	assert.Equal(t, "http://localhost:8082/x", opened)

	assert.ErrorIs(t, New(quietLogger()).OpenWindow(context.Background(), "http://x"), ErrNoOpener)
}

func TestHub_ShowWithoutWindows(t *testing.T) {
	h := New(quietLogger())
	delivered, err := h.Show(context.Background(), models.Notification{Title: "t"})
	require.NoError(t, err)
	assert.Zero(t, delivered)
	assert.Empty(t, h.MatchAll(context.Background()))
}

func TestHub_PublishNotice(t *testing.T) {
	h := New(quietLogger())
	server := httptest.NewServer(h)
	defer server.Close()

	conn := dialWindow(t, server, "http://localhost:8082/contact")
	waitForWindows(t, h, 1)

	h.Publish(context.Background(), models.Notice{Kind: models.NoticeSynced, Title: "Mensajes sincronizados"})

	env := readEnvelope(t, conn)
	assert.Equal(t, TypeNotice, env.Type)
	var notice models.Notice
	require.NoError(t, json.Unmarshal(env.Payload, &notice))
	assert.Equal(t, models.NoticeSynced, notice.Kind)
}
