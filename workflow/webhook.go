package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// WebhookNotifier posts terminal workflow transitions to the workflow's
// callback URL. Delivery is best-effort with a small retry budget; a dead
// callback endpoint never blocks or fails the workflow itself.
type WebhookNotifier struct {
	client   *http.Client
	attempts int
	backoff  time.Duration
	logger   *zap.Logger
}

// NewWebhookNotifier creates a notifier with the given per-request timeout.
func NewWebhookNotifier(timeout time.Duration, logger *zap.Logger) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookNotifier{
		client:   &http.Client{Timeout: timeout},
		attempts: 3,
		backoff:  time.Second,
		logger:   logger.With(zap.String("component", "webhook_notifier")),
	}
}

// notification is the callback payload. Step results are summarized, not
// replayed in full; callers fetch the workflow for details.
type notification struct {
	WorkflowID    string    `json:"workflow_id"`
	TenantID      string    `json:"tenant_id"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	Name          string    `json:"name,omitempty"`
	Status        Status    `json:"status"`
	CompletedAt   time.Time `json:"completed_at"`
}

// Notify posts the terminal state to the callback URL, if any.
func (n *WebhookNotifier) Notify(ctx context.Context, state *State) {
	if state.CallbackURL == "" {
		return
	}

	payload, err := json.Marshal(notification{
		WorkflowID:    state.WorkflowID,
		TenantID:      state.TenantID,
		CorrelationID: state.CorrelationID,
		Name:          state.Name,
		Status:        state.Status,
		CompletedAt:   time.Now().UTC(),
	})
	if err != nil {
		n.logger.Error("failed to marshal webhook payload", zap.Error(err))
		return
	}

	for attempt := 1; attempt <= n.attempts; attempt++ {
		if n.post(ctx, state.CallbackURL, payload) {
			return
		}
		if attempt < n.attempts {
			select {
			case <-ctx.Done():
				return
			case <-time.After(n.backoff * time.Duration(attempt)):
			}
		}
	}
	n.logger.Warn("webhook delivery failed",
		zap.String("workflow_id", state.WorkflowID),
		zap.String("callback_url", state.CallbackURL),
		zap.Int("attempts", n.attempts))
}

func (n *WebhookNotifier) post(ctx context.Context, url string, payload []byte) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < 300
}
