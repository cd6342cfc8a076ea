package reconcile

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// StateUpdate is one server push on the state feed.
type StateUpdate struct {
	DeviceSN string         `json:"device_sn"`
	Fields   map[string]any `json:"fields"`
}

// FeedConfig configures the websocket state feed consumer.
type FeedConfig struct {
	URL        string // ws://host:port/ws/state
	Token      string // bearer token, optional
	RetryDelay time.Duration
}

// RunFeed connects to the server's state push feed and merges every update
// into the reconciler, reconnecting until ctx is cancelled.
func RunFeed(ctx context.Context, cfg FeedConfig, r *Reconciler) {
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 2 * time.Second
	}
	log := logrus.WithField("component", "state-feed")

	for {
		if err := consume(ctx, cfg, r); err != nil {
			log.Warnf("feed disconnected: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(cfg.RetryDelay):
		}
	}
}

func consume(ctx context.Context, cfg FeedConfig, r *Reconciler) error {
	headers := map[string][]string{}
	if cfg.Token != "" {
		headers["Authorization"] = []string{"Bearer " + cfg.Token}
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, cfg.URL, headers)
	if err != nil {
		return err
	}
	defer conn.Close()

	// The watcher must not outlive this connection: exit on either cancel
	// or the read loop returning, so dropped connections do not strand it.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var update StateUpdate
		if err := json.Unmarshal(payload, &update); err != nil {
			logrus.WithField("component", "state-feed").Warnf("bad update payload: %v", err)
			continue
		}
		r.MergeServerUpdate(update.DeviceSN, update.Fields)
	}
}
