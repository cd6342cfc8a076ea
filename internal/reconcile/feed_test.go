package reconcile

import (
	"context"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestConsumeReleasesWatcherOnDisconnect(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			return
		}
		conn.Close()
	}))
	defer srv.Close()

	r := New(DefaultTTL)
	cfg := FeedConfig{URL: wsURL(srv)}
	before := runtime.NumGoroutine()

	for i := 0; i < 50; i++ {
		require.Error(t, consume(context.Background(), cfg, r))
	}

	assert.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= before+5
	}, 2*time.Second, 20*time.Millisecond,
		"connection watchers must exit when the connection drops")
}

func TestConsumeMergesUpdates(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		update := StateUpdate{DeviceSN: "R331ZEB4", Fields: map[string]any{"soc": 57.0}}
		if err := conn.WriteJSON(update); err != nil {
			return
		}
	}))
	defer srv.Close()

	r := New(DefaultTTL)
	require.Error(t, consume(context.Background(), FeedConfig{URL: wsURL(srv)}, r))

	soc, ok := r.Get("R331ZEB4", "soc")
	require.True(t, ok)
	assert.Equal(t, 57.0, soc)
}

func TestConsumeSendsBearerToken(t *testing.T) {
	upgrader := websocket.Upgrader{}
	var authHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		authHeader = req.Header.Get("Authorization")
		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			return
		}
		conn.Close()
	}))
	defer srv.Close()

	r := New(DefaultTTL)
	require.Error(t, consume(context.Background(), FeedConfig{URL: wsURL(srv), Token: "tok-1"}, r))
	assert.Equal(t, "Bearer tok-1", authHeader)
}
