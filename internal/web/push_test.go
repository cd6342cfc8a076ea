package web

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// dialTestFeed runs streamState over a loopback websocket and returns the
// client side plus a channel closed when the stream ends.
func dialTestFeed(t *testing.T, ch chan *redis.Message) (*websocket.Conn, chan struct{}) {
	t.Helper()
	finished := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		streamState(conn, ch)
		close(finished)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return client, finished
}

func TestStreamStateForwardsUpdates(t *testing.T) {
	ch := make(chan *redis.Message, 1)
	client, finished := dialTestFeed(t, ch)
	defer client.Close()

	ch <- &redis.Message{Payload: `{"device_sn":"R331ZEB4","soc":57}`}

	var frame stateUpdate
	require.NoError(t, client.ReadJSON(&frame))
	assert.Equal(t, "R331ZEB4", frame.DeviceSN)
	assert.Equal(t, 57.0, frame.Fields["soc"])
	assert.NotContains(t, frame.Fields, "device_sn")

	close(ch)
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not end after the subscription closed")
	}
}

func TestStreamStateEndsWhenClientDisconnects(t *testing.T) {
	// No publish arrives; the read pump alone must notice the disconnect.
	ch := make(chan *redis.Message)
	client, finished := dialTestFeed(t, ch)

	client.Close()

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not end after client disconnect")
	}
}
