// Package webhooks queues and delivers analysis notifications to subscriber URLs.
package webhooks

import (
	"bytes"
	"context"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"driveguard/internal/metrics"
	"driveguard/internal/store"
)

const (
	pollInterval = time.Second
	batchSize    = 50
)

// Worker polls the store for due deliveries and POSTs them.
type Worker struct {
	Store       store.Store
	HTTP        *http.Client
	MaxAttempts int
	Logger      *zap.Logger
}

func NewWorker(s store.Store, maxAttempts int, logger *zap.Logger) *Worker {
	if maxAttempts < 1 {
		maxAttempts = 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{Store: s, HTTP: &http.Client{Timeout: 5 * time.Second}, MaxAttempts: maxAttempts, Logger: logger}
}

// Run delivers until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.processOnce(ctx)
		}
	}
}

func (w *Worker) processOnce(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, 10*time.Second)
	defer cancel()
	items, err := w.Store.FetchDueWebhookDeliveries(ctx, batchSize)
	if err != nil {
		w.Logger.Warn("fetch webhook deliveries failed", zap.Error(err))
		return
	}
	for _, it := range items {
		w.deliver(ctx, it)
	}
}

func (w *Worker) deliver(ctx context.Context, it store.WebhookDelivery) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, it.URL, bytes.NewReader(it.Payload))
	if err != nil {
		_ = w.Store.FailWebhookDelivery(ctx, it.ID, err.Error(), 0, 0)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-Type", it.EventType)
	req.Header.Set("X-Delivery-Id", it.ID)
	if it.Secret != "" {
		req.Header.Set(SignatureHeader, SignHMAC(it.Secret, it.Payload))
	}

	start := time.Now()
	resp, err := w.HTTP.Do(req)
	latency := int(time.Since(start).Milliseconds())
	code := 0
	success := false
	if err == nil {
		code = resp.StatusCode
		_ = resp.Body.Close()
		success = code >= 200 && code < 300
	}
	lastErr := ""
	switch {
	case err != nil:
		lastErr = err.Error()
	case !success:
		lastErr = "unexpected status " + strconv.Itoa(code)
	}

	outcome := store.DeliveryDelivered
	switch {
	case success:
		err = w.Store.MarkWebhookDelivery(ctx, it.ID, true, nil, "", code, latency)
	case it.Attempts+1 >= w.MaxAttempts:
		outcome = store.DeliveryFailed
		err = w.Store.FailWebhookDelivery(ctx, it.ID, lastErr, code, latency)
	default:
		outcome = store.DeliveryRetry
		next := time.Now().Add(nextBackoff(it.Attempts))
		err = w.Store.MarkWebhookDelivery(ctx, it.ID, false, &next, lastErr, code, latency)
	}
	if err != nil {
		w.Logger.Warn("record webhook delivery failed", zap.String("delivery_id", it.ID), zap.Error(err))
	}
	metrics.WebhookDeliveries.WithLabelValues(it.EventType, outcome).Inc()
	metrics.WebhookLatency.WithLabelValues(it.EventType, outcome).Observe(float64(latency))
	if outcome != store.DeliveryDelivered {
		w.Logger.Info("webhook delivery not accepted",
			zap.String("delivery_id", it.ID),
			zap.String("event_type", it.EventType),
			zap.Int("attempt", it.Attempts+1),
			zap.String("outcome", outcome),
			zap.String("error", lastErr),
		)
	}
}

func nextBackoff(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if attempts > 12 {
		attempts = 12
	}
	base := time.Second * time.Duration(1<<attempts)
	if base > time.Hour {
		base = time.Hour
	}
	return base
}
