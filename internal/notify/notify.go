// Package notify delivers fire-and-forget operator messages.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Message is a subject and plain-text body.
type Message struct {
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	Severity  string    `json:"severity,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Notifier sends a message. Implementations should not block for long;
// callers log and ignore the returned error.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// Webhook posts messages as JSON to a URL.
type Webhook struct {
	url    string
	prefix string
	client *http.Client
}

// NewWebhook creates a webhook notifier. prefix is prepended to subjects.
func NewWebhook(url, prefix string) *Webhook {
	return &Webhook{
		url:    url,
		prefix: prefix,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (w *Webhook) Notify(ctx context.Context, msg Message) error {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	if w.prefix != "" {
		msg.Subject = w.prefix + " " + msg.Subject
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return eris.Wrap(err, "notify: marshal message")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "notify: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "notify: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("notify: webhook returned status %d", resp.StatusCode)
	}

	zap.L().Info("notify: message sent",
		zap.String("subject", msg.Subject),
		zap.String("severity", msg.Severity),
	)
	return nil
}

// Log writes messages to the global logger.
type Log struct{}

func (Log) Notify(_ context.Context, msg Message) error {
	zap.L().Warn("notify: "+msg.Subject,
		zap.String("severity", msg.Severity),
		zap.String("body", msg.Body),
	)
	return nil
}

// Multi fans a message out to every notifier and returns the first error.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, msg Message) error {
	var first error
	for _, n := range m {
		if err := n.Notify(ctx, msg); err != nil {
			zap.L().Error("notify: delivery failed", zap.String("subject", msg.Subject), zap.Error(err))
			if first == nil {
				first = err
			}
		}
	}
	return first
}
