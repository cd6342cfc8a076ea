package web

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The feed is bearer-token authed; origin checks add nothing here.
	CheckOrigin: func(*http.Request) bool { return true },
}

// stateUpdate is one push frame on the state feed, shaped for the client
// reconciler: device identity plus a flat field map.
type stateUpdate struct {
	DeviceSN string         `json:"device_sn"`
	Fields   map[string]any `json:"fields"`
}

// handleStateFeed streams every cache update to the connected client.
func (s *Server) handleStateFeed(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sub := s.cache.SubscribeState(c.Request.Context())
	defer sub.Close()

	streamState(conn, sub.Channel())
}

// streamState forwards cache updates to one websocket client until the
// client disconnects or the channel closes. The read pump exists so a
// closed client is noticed immediately instead of on the next publish.
func streamState(conn *websocket.Conn, ch <-chan *redis.Message) {
	log := logrus.WithField("component", "state-push")

	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-clientGone:
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var fields map[string]any
			if err := json.Unmarshal([]byte(msg.Payload), &fields); err != nil {
				log.Warnf("bad state payload: %v", err)
				continue
			}
			sn, _ := fields["device_sn"].(string)
			delete(fields, "device_sn")

			if err := conn.WriteJSON(stateUpdate{DeviceSN: sn, Fields: fields}); err != nil {
				log.Debugf("client gone: %v", err)
				return
			}
		}
	}
}
