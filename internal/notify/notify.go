// Package notify delivers best-effort event notifications to a webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const defaultTimeout = 5 * time.Second

// Event names.
const (
	EventStart       = "bot_start"
	EventBuy         = "buy"
	EventBuyDry      = "buy_dry"
	EventSell        = "sell"
	EventSellDry     = "sell_dry"
	EventStaleExit   = "bot_stale_exit"
	EventCrash       = "bot_crash"
	EventAutoRestart = "bot_autorestart"
)

// Fields are the event-specific payload values.
type Fields map[string]any

// Notifier publishes events. Implementations never return delivery errors.
type Notifier interface {
	Notify(ctx context.Context, event string, fields Fields)
}

// New returns a webhook notifier, or a no-op one when url is empty.
func New(url string, l *zap.Logger) Notifier {
	if strings.TrimSpace(url) == "" {
		return Nop{}
	}
	return NewWebhook(url, l)
}

// Nop drops every event.
type Nop struct{}

// Notify implements Notifier.
func (Nop) Notify(context.Context, string, Fields) {}

// Webhook POSTs events as JSON.
type Webhook struct {
	url        string
	httpClient *http.Client
	l          *zap.Logger
}

// NewWebhook creates a webhook notifier with a 5s timeout.
func NewWebhook(url string, l *zap.Logger) *Webhook {
	if l == nil {
		l = zap.NewNop()
	}
	return &Webhook{
		url:        url,
		httpClient: &http.Client{Timeout: defaultTimeout},
		l:          l,
	}
}

// Notify sends the event and logs failures.
func (w *Webhook) Notify(ctx context.Context, event string, fields Fields) {
	if err := w.Send(ctx, event, fields); err != nil {
		w.l.Warn("Webhook delivery failed", zap.String("event", event), zap.Error(err))
		return
	}
	w.l.Info("Webhook sent", zap.String("event", event))
}

// Send delivers one event and reports the outcome.
func (w *Webhook) Send(ctx context.Context, event string, fields Fields) error {
	payload := make(map[string]any, len(fields)+2)
	for k, v := range fields {
		payload[k] = v
	}
	payload["event"] = event
	payload["text"] = Render(event, fields)

	body, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "marshal webhook payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "post webhook")
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}

// Render formats an event as a single readable line, fields sorted by name.
func Render(event string, fields Fields) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(event)
	for i, k := range keys {
		if i == 0 {
			b.WriteString(": ")
		} else {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s=%v", k, fields[k])
	}

	return b.String()
}
