// Package notifier implements interfaces.NotificationSender: a plain
// JSON POST to a webhook URL. Grounded on original_source's
// DiscordWebhookMessage::send (libs/foundation/src/discord/webhook.rs),
// which does nothing more than POST a JSON body with a Content-Type
// header to the webhook URL; Discord-specific message shaping (embeds,
// username/avatar fields) is an explicit Non-goal (spec §1), so this
// sender carries only the transport.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/bobmcallan/offerengine/internal/interfaces"
	"github.com/bobmcallan/offerengine/internal/models"
)

const DefaultTimeout = 10 * time.Second

// Sender implements interfaces.NotificationSender.
type Sender struct {
	httpClient *http.Client
}

// New creates a Sender.
func New(httpClient *http.Client) *Sender {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	return &Sender{httpClient: httpClient}
}

// Send POSTs n as a JSON body to webhookURL.
func (s *Sender) Send(ctx context.Context, webhookURL string, n models.Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to deliver notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("notification webhook returned status %d", resp.StatusCode)
	}
	return nil
}

var _ interfaces.NotificationSender = (*Sender)(nil)
