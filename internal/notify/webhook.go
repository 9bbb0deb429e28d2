// Package notify pushes alerts to external endpoints.
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tidewatch/internal/config"
	"tidewatch/internal/hub"
	"tidewatch/internal/logger"
	"tidewatch/internal/metrics"
	"tidewatch/internal/models"
)

const SignatureHeader = "X-Tidewatch-Signature"

// Payload is the JSON body posted to the webhook.
type Payload struct {
	ID        string       `json:"id"`
	Event     string       `json:"event"`
	Timestamp time.Time    `json:"timestamp"`
	Alert     models.Alert `json:"alert"`
}

// Webhook posts alerts at or above a minimum severity to a URL. It is a hub
// sink, so it sees exactly what live subscribers see, after logging.
// Delivery failures are logged and counted but never close the subscription.
type Webhook struct {
	url         string
	secret      string
	minSeverity models.Severity
	client      *http.Client
	log         zerolog.Logger
}

// NewWebhook validates cfg. MinSeverity defaults to high.
func NewWebhook(cfg config.NotifyConfig) (*Webhook, error) {
	if cfg.WebhookURL == "" {
		return nil, errors.New("webhook url is required")
	}
	minSev := models.SeverityHigh
	if cfg.MinSeverity != "" {
		minSev = models.Severity(cfg.MinSeverity)
		if !minSev.IsValid() {
			return nil, fmt.Errorf("invalid notify min_severity %q", cfg.MinSeverity)
		}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &Webhook{
		url:         cfg.WebhookURL,
		secret:      cfg.Secret,
		minSeverity: minSev,
		client:      &http.Client{Timeout: timeout},
		log:         logger.WithComponent("notify"),
	}, nil
}

// Attach subscribes w to alert events on h. Readings are filtered out before
// they reach the queue, and a full queue drops the oldest alert rather than
// closing the subscription, whatever the hub's own policy is.
func (w *Webhook) Attach(h *hub.Hub) (*hub.Subscriber, error) {
	return h.Subscribe(w,
		hub.WithEventTypes(models.EventAlert),
		hub.WithOverflow(hub.DropOldest),
	)
}

// WriteFrame implements hub.Sink.
func (w *Webhook) WriteFrame(frame []byte) error {
	var ev struct {
		Type    models.EventType `json:"type"`
		Payload json.RawMessage  `json:"payload"`
	}
	if err := json.Unmarshal(frame, &ev); err != nil || ev.Type != models.EventAlert {
		return nil
	}

	var a models.Alert
	if err := json.Unmarshal(ev.Payload, &a); err != nil {
		w.log.Warn().Err(err).Msg("undecodable alert frame")
		return nil
	}
	if a.Severity.Rank() < w.minSeverity.Rank() {
		return nil
	}

	if err := w.Notify(context.Background(), a); err != nil {
		metrics.NotificationsSent.WithLabelValues("failed").Inc()
		w.log.Error().Err(err).Uint64("alert_id", a.ID).Msg("webhook delivery failed")
		return nil
	}
	metrics.NotificationsSent.WithLabelValues("sent").Inc()
	return nil
}

// Close implements hub.Sink.
func (w *Webhook) Close() error {
	w.client.CloseIdleConnections()
	return nil
}

// Notify posts one alert, retrying once on failure.
func (w *Webhook) Notify(ctx context.Context, a models.Alert) error {
	body, err := json.Marshal(Payload{
		ID:        uuid.NewString(),
		Event:     "alert." + string(a.Severity),
		Timestamp: time.Now().UTC(),
		Alert:     a,
	})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= 2; attempt++ {
		if lastErr = w.post(ctx, body); lastErr == nil {
			return nil
		}
		if attempt < 2 {
			select {
			case <-time.After(500 * time.Millisecond):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return lastErr
}

func (w *Webhook) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if w.secret != "" {
		req.Header.Set(SignatureHeader, Sign(w.secret, body))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
