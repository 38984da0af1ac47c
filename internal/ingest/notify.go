package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/AlfaStage/jogodobicho-api-sub000/internal/store"
)

// WebhookNotifier POSTs each committed result to an external endpoint.
// Delivery is fire-and-forget: every Notify runs in its own goroutine and
// failures are logged, never propagated to the ingestion path.
type WebhookNotifier struct {
	url        string
	client     *http.Client
	maxRetries int
	logger     *slog.Logger
}

// NewWebhookNotifier creates a notifier targeting the given URL.
func NewWebhookNotifier(url string, logger *slog.Logger) *WebhookNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookNotifier{
		url:        url,
		client:     &http.Client{Timeout: 10 * time.Second},
		maxRetries: 3,
		logger:     logger,
	}
}

// Notify delivers the result asynchronously.
func (w *WebhookNotifier) Notify(rec *store.ResultRecord) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := w.post(ctx, rec); err != nil {
			w.logger.Warn("notifier: delivery failed",
				"entity", rec.EntityID, "slot", rec.Slot, "error", err)
		}
	}()
}

func (w *WebhookNotifier) post(ctx context.Context, rec *store.ResultRecord) error {
	body, err := json.Marshal(map[string]any{
		"entity": rec.EntityID,
		"date":   rec.DrawDate,
		"slot":   rec.Slot,
		"prizes": rec.Prizes,
	})
	if err != nil {
		return fmt.Errorf("notifier: marshal: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= w.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * time.Second
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("notifier: new request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := w.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		lastErr = fmt.Errorf("notifier: status %d", resp.StatusCode)
	}
	return fmt.Errorf("notifier: all retries exhausted: %w", lastErr)
}
