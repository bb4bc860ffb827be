package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, hub *Hub) string {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	t.Cleanup(server.Close)

	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func dial(t *testing.T, url string, header http.Header) (*websocket.Conn, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPHeader: header})
	if conn != nil {
		t.Cleanup(func() { _ = conn.CloseNow() })
	}

	return conn, err
}

func TestNewUpdate(t *testing.T) {
	testCases := []struct {
		name     string
		gone     bool
		expected string
	}{
		{name: "index.star", gone: false, expected: MessageChanged},
		{name: "old.star", gone: true, expected: MessageRemoved},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			msg := NewUpdate(tc.name, tc.gone)
			assert.Equal(t, tc.expected, msg.Type)
			assert.Equal(t, tc.name, msg.Target)
			assert.False(t, msg.Timestamp.IsZero())
		})
	}
}

func TestHubBroadcast(t *testing.T) {
	hub := NewHub(nil, nil)
	t.Cleanup(hub.Shutdown)
	url := newTestServer(t, hub)

	first, err := dial(t, url, nil)
	require.NoError(t, err)
	second, err := dial(t, url, nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hub.Clients() == 2 }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, hub.Broadcast(NewUpdate("blog/post.star", false)))

	for _, conn := range []*websocket.Conn{first, second} {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		msgType, data, err := conn.Read(ctx)
		cancel()
		require.NoError(t, err)
		assert.Equal(t, websocket.MessageText, msgType)

		var msg UpdateMessage
		require.NoError(t, json.Unmarshal(data, &msg))
		assert.Equal(t, MessageChanged, msg.Type)
		assert.Equal(t, "blog/post.star", msg.Target)
	}
}

func TestHubUnregistersClosedClients(t *testing.T) {
	hub := NewHub(nil, nil)
	t.Cleanup(hub.Shutdown)
	url := newTestServer(t, hub)

	conn, err := dial(t, url, nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, ""))
	assert.Eventually(t, func() bool { return hub.Clients() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestHubOrigins(t *testing.T) {
	testCases := []struct {
		name    string
		origins []string
		origin  string
		allowed bool
	}{
		{name: "no origin header", origins: nil, origin: "", allowed: true},
		{name: "foreign origin", origins: nil, origin: "http://evil.example", allowed: false},
		{name: "allowed pattern", origins: []string{"*.example.com"}, origin: "https://app.example.com", allowed: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			hub := NewHub(tc.origins, nil)
			t.Cleanup(hub.Shutdown)
			url := newTestServer(t, hub)

			header := http.Header{}
			if tc.origin != "" {
				header.Set("Origin", tc.origin)
			}
			_, err := dial(t, url, header)
			if tc.allowed {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestHubShutdown(t *testing.T) {
	hub := NewHub(nil, nil)
	url := newTestServer(t, hub)

	conn, err := dial(t, url, nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 5*time.Second, 10*time.Millisecond)

	hub.Shutdown()
	hub.Shutdown()
	assert.Equal(t, 0, hub.Clients())
	assert.ErrorIs(t, hub.Broadcast(NewUpdate("a", false)), ErrClosed)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _, err = conn.Read(ctx)
	assert.Error(t, err)

	recorder := httptest.NewRecorder()
	hub.HandleWebSocket(recorder, httptest.NewRequest(http.MethodGet, "/_events", nil))
	assert.Equal(t, http.StatusServiceUnavailable, recorder.Code)
}
