// Package notify delivers rule notifications over an outbound webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// Webhook posts chat messages to a configured endpoint. With no endpoint
// configured, Send is a logged no-op rather than an error.
type Webhook struct {
	url  string
	http *http.Client
	log  *logrus.Entry
}

func NewWebhook(url string) *Webhook {
	return &Webhook{
		url:  url,
		http: &http.Client{Timeout: 10 * time.Second},
		log:  logrus.WithField("component", "notify"),
	}
}

// Send posts one message as {"text": ...}.
func (w *Webhook) Send(ctx context.Context, message string) error {
	if w.url == "" {
		w.log.Infof("webhook disabled, dropping notification: %s", message)
		return nil
	}

	payload, err := json.Marshal(map[string]string{"text": message})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.http.Do(req)
	if err != nil {
		return fmt.Errorf("webhook delivery: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}
