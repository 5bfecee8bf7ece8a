package transport

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/ignite/campaign-engine/internal/pkg/httpretry"
)

// WebhookSender POSTs a JSON payload to the stage's "url" setting, or to
// DefaultURL when the stage has none. When Secret is set the body is signed
// with HMAC-SHA256 in the X-Signature header.
type WebhookSender struct {
	client     httpretry.HTTPDoer
	DefaultURL string
	Secret     string
}

// NewWebhookSender creates a sender over client, typically a
// httpretry.RetryClient.
func NewWebhookSender(client httpretry.HTTPDoer) *WebhookSender {
	return &WebhookSender{client: client}
}

type webhookPayload struct {
	DeliveryID  string                 `json:"delivery_id"`
	TenantID    string                 `json:"tenant_id"`
	JourneyID   string                 `json:"journey_id"`
	StageID     string                 `json:"stage_id"`
	RecipientID string                 `json:"recipient_id"`
	Subject     string                 `json:"subject,omitempty"`
	Body        string                 `json:"body"`
	Recipient   map[string]interface{} `json:"recipient,omitempty"`
}

// Send implements Sender. 2xx is accepted, other 4xx are permanent and
// everything else is retryable.
func (w *WebhookSender) Send(ctx context.Context, msg Message) (Receipt, error) {
	url := msg.Setting("url")
	if url == "" {
		url = w.DefaultURL
	}
	if url == "" {
		return Receipt{}, Permanent(fmt.Errorf("stage %s has no webhook url", msg.StageID))
	}

	body, err := json.Marshal(webhookPayload{
		DeliveryID: msg.DeliveryID, TenantID: msg.TenantID, JourneyID: msg.JourneyID,
		StageID: msg.StageID, RecipientID: msg.RecipientID,
		Subject: msg.Subject, Body: msg.Body, Recipient: msg.Recipient,
	})
	if err != nil {
		return Receipt{}, Permanent(fmt.Errorf("marshal webhook payload: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Receipt{}, Permanent(fmt.Errorf("build webhook request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", msg.DeliveryID)
	if w.Secret != "" {
		mac := hmac.New(sha256.New, []byte(w.Secret))
		mac.Write(body)
		req.Header.Set("X-Signature", "sha256="+hex.EncodeToString(mac.Sum(nil)))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return Receipt{}, fmt.Errorf("webhook %s: %w", msg.StageID, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		id := resp.Header.Get("X-Message-Id")
		if id == "" {
			id = msg.DeliveryID
		}
		return Receipt{ProviderMessageID: id}, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
		return Receipt{}, Permanent(fmt.Errorf("webhook %s rejected with status %d", msg.StageID, resp.StatusCode))
	default:
		return Receipt{}, fmt.Errorf("webhook %s failed with status %d", msg.StageID, resp.StatusCode)
	}
}
