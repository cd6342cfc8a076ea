package ingest

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"github.com/IvanSnezhok/ecoflow-dashboard/internal/metrics"
)

// quotaTopic matches vendor pushes: /open/<certAccount>/<serial>/quota.
const quotaTopic = "/open/+/+/quota"

// MQTTOptions configures the vendor broker connection.
type MQTTOptions struct {
	Broker   string
	ClientID string
	Username string
	Password string
}

// NewMQTTClient connects to the vendor broker.
func NewMQTTClient(opts MQTTOptions) (mqtt.Client, error) {
	clientOpts := mqtt.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetUsername(opts.Username).
		SetPassword(opts.Password).
		SetAutoReconnect(true)
	c := mqtt.NewClient(clientOpts)
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	return c, nil
}

// Subscriber turns vendor quota pushes into automation cycles.
type Subscriber struct {
	client   mqtt.Client
	pipeline *Pipeline
	log      *logrus.Entry
}

func NewSubscriber(client mqtt.Client, pipeline *Pipeline) *Subscriber {
	return &Subscriber{
		client:   client,
		pipeline: pipeline,
		log:      logrus.WithField("component", "mqtt-ingest"),
	}
}

// Start subscribes to the quota topic.
func (s *Subscriber) Start() error {
	token := s.client.Subscribe(quotaTopic, 1, s.onQuota)
	token.Wait()
	return token.Error()
}

// Stop disconnects from the broker.
func (s *Subscriber) Stop() {
	s.client.Disconnect(250)
}

type quotaMessage struct {
	Params map[string]any `json:"params"`
}

func (s *Subscriber) onQuota(_ mqtt.Client, msg mqtt.Message) {
	deviceSN := parseDeviceSN(msg.Topic())
	if deviceSN == "" {
		s.log.Warnf("unexpected topic %s", msg.Topic())
		return
	}

	var payload quotaMessage
	if err := json.Unmarshal(msg.Payload(), &payload); err != nil {
		s.log.WithField("device", deviceSN).Warnf("bad quota payload: %v", err)
		return
	}

	// A device pushing quota data is online by definition.
	m := metrics.Build(deviceSN, true, payload.Params, time.Now())
	if err := s.pipeline.HandleSnapshot(context.Background(), m); err != nil {
		s.log.WithField("device", deviceSN).Errorf("automation cycle: %v", err)
	}
}

// parseDeviceSN extracts the serial from /open/<certAccount>/<serial>/quota.
func parseDeviceSN(topic string) string {
	parts := strings.Split(strings.TrimPrefix(topic, "/"), "/")
	if len(parts) != 4 || parts[0] != "open" || parts[3] != "quota" {
		return ""
	}
	return parts[2]
}
