package events

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/mvbraga/peertrade/internal/idgen"
	"github.com/mvbraga/peertrade/internal/metrics"
	"github.com/mvbraga/peertrade/internal/retry"
	"github.com/mvbraga/peertrade/internal/syncutil"
)

// Listener receives events in-process.
type Listener func(event *Event)

// Dispatcher delivers events to webhooks and in-process listeners.
type Dispatcher struct {
	store  Store
	client *http.Client
	logger *slog.Logger

	mu        sync.RWMutex
	listeners []Listener

	// sends serializes deliveries per subscription so a slow retry
	// cycle cannot interleave with the next event to the same endpoint.
	sends syncutil.ShardedMutex
}

// NewDispatcher creates an event dispatcher.
func NewDispatcher(store Store, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		store:  store,
		logger: logger,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// AddListener registers an in-process listener for every event.
func (d *Dispatcher) AddListener(fn Listener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners = append(d.listeners, fn)
}

// Publish assigns the event an ID and fans it out. In-process
// listeners run synchronously; webhook deliveries run in goroutines.
func (d *Dispatcher) Publish(ctx context.Context, event *Event) {
	if event.ID == "" {
		event.ID = idgen.WithPrefix("evt_")
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	d.mu.RLock()
	listeners := d.listeners
	d.mu.RUnlock()
	for _, fn := range listeners {
		fn(event)
	}

	subs, err := d.store.GetByEvent(ctx, event.Type)
	if err != nil {
		d.logger.Warn("failed to load webhook subscribers", "event", event.Type, "error", err)
		return
	}

	for _, sub := range subs {
		if !sub.Active {
			continue
		}
		go d.deliver(context.WithoutCancel(ctx), sub, event)
	}
}

// deliver posts the event to one webhook with retry. Non-2xx responses
// and transport errors are retried with backoff.
func (d *Dispatcher) deliver(ctx context.Context, sub *Subscription, event *Event) {
	unlock := d.sends.Lock(sub.ID)
	defer unlock()

	payload, err := json.Marshal(event)
	if err != nil {
		d.updateError(ctx, sub, "failed to marshal event")
		return
	}

	err = retry.Do(ctx, 3, 500*time.Millisecond, func() error {
		return d.post(ctx, sub, event, payload)
	})
	if err != nil {
		metrics.WebhookDeliveriesTotal.WithLabelValues("failure").Inc()
		d.updateError(ctx, sub, err.Error())
		d.logger.Warn("webhook delivery failed",
			"subscriptionId", sub.ID, "event", event.Type, "error", err)
		return
	}

	metrics.WebhookDeliveriesTotal.WithLabelValues("success").Inc()
	d.updateSuccess(ctx, sub)
}

func (d *Dispatcher) post(ctx context.Context, sub *Subscription, event *Event, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(payload))
	if err != nil {
		return retry.Permanent(err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Peertrade-Event", string(event.Type))
	req.Header.Set("X-Peertrade-Timestamp", fmt.Sprintf("%d", event.Timestamp.Unix()))
	if event.IdempotencyKey != "" {
		req.Header.Set("X-Peertrade-Idempotency-Key", event.IdempotencyKey)
	}
	if sub.Secret != "" {
		req.Header.Set("X-Peertrade-Signature", sign(payload, sub.Secret))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return retry.Permanent(fmt.Errorf("status %d", resp.StatusCode))
	}
	return fmt.Errorf("status %d", resp.StatusCode)
}

func sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// VerifySignature checks a received webhook signature. Exported for
// consumers building receivers against this platform.
func VerifySignature(payload []byte, secret, signature string) bool {
	expected := sign(payload, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}

func (d *Dispatcher) updateSuccess(ctx context.Context, sub *Subscription) {
	now := time.Now()
	sub.LastSuccess = &now
	sub.LastError = ""
	if err := d.store.Update(ctx, sub); err != nil {
		d.logger.Warn("failed to record webhook success", "subscriptionId", sub.ID, "error", err)
	}
}

func (d *Dispatcher) updateError(ctx context.Context, sub *Subscription, errMsg string) {
	sub.LastError = errMsg
	if err := d.store.Update(ctx, sub); err != nil {
		d.logger.Warn("failed to record webhook error", "subscriptionId", sub.ID, "error", err)
	}
}
