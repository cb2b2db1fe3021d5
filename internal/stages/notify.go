package stages

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"taxi-etl-pipeline/internal/model"
)

// Notifier delivers a run status message to an external channel.
type Notifier interface {
	Send(ctx context.Context, msg model.StatusMessage) error
}

// SlackNotifier posts run statuses to a Slack incoming webhook.
type SlackNotifier struct {
	WebhookURL string
	client     *http.Client
}

// NewSlackNotifier builds a notifier for one webhook.
func NewSlackNotifier(webhookURL string) *SlackNotifier {
	return &SlackNotifier{
		WebhookURL: webhookURL,
		client:     &http.Client{Timeout: 30 * time.Second},
	}
}

// Send renders the status as Slack message text and posts it.
func (n *SlackNotifier) Send(ctx context.Context, msg model.StatusMessage) error {
	text := fmt.Sprintf("✅ Taxi pipeline run %s for %s succeeded", msg.RunID, msg.Interval)
	if !msg.Success {
		text = fmt.Sprintf("❌ Taxi pipeline run %s for %s failed: %s", msg.RunID, msg.Interval, msg.Error)
	}
	for k, v := range msg.Metrics {
		text += fmt.Sprintf("\n• %s: %s", k, v)
	}

	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook post failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// Notify reports a finished interval to the configured channel. With no
// notifier configured the stage succeeds silently, so local runs do not need
// a webhook.
func (e *Env) Notify(ctx context.Context, interval string) ([]string, error) {
	if e.Notifier == nil {
		log.Printf("🔕 notify: no webhook configured, skipping")
		return nil, nil
	}

	msg := model.StatusMessage{Interval: interval, Success: true}
	if run, err := e.Ledger.LatestRun(interval); err == nil && run != nil {
		msg.RunID = run.ID
	}

	var metrics model.ModelMetrics
	if err := e.readJSONArtifact(interval, ArtifactMetrics, &metrics); err == nil {
		msg.Metrics = map[string]string{
			"mae_seconds":  fmt.Sprintf("%.1f", metrics.MAESeconds),
			"rmse_seconds": fmt.Sprintf("%.1f", metrics.RMSESeconds),
			"r2_score":     fmt.Sprintf("%.3f", metrics.R2Score),
		}
	}
	var receipt loadReceipt
	if err := e.readJSONArtifact(interval, ArtifactLoadReceipt, &receipt); err == nil {
		if msg.Metrics == nil {
			msg.Metrics = map[string]string{}
		}
		msg.Metrics["rows_loaded"] = fmt.Sprintf("%d", receipt.RowsLoaded)
	}

	if err := e.Notifier.Send(ctx, msg); err != nil {
		return nil, err
	}
	log.Printf("📣 notify: status for %s delivered", interval)
	return nil, nil
}
