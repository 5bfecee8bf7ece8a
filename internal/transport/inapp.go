package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/campaign-engine/internal/domain"
)

// DefaultInboxSize caps how many notifications an inbox keeps.
const DefaultInboxSize = 100

// InAppSender writes notifications to a per-recipient Redis list that the
// product's inbox API reads. A push lands immediately, so receipts report
// delivered.
type InAppSender struct {
	client    redis.UniversalClient
	InboxSize int64
	now       func() time.Time
}

// NewInAppSender creates a sender over client.
func NewInAppSender(client redis.UniversalClient) *InAppSender {
	return &InAppSender{client: client, InboxSize: DefaultInboxSize, now: time.Now}
}

// InboxKey is the list holding recipientID's notifications.
func InboxKey(tenantID, recipientID string) string {
	return fmt.Sprintf("inbox:%s:%s", tenantID, recipientID)
}

// Notification is the stored inbox entry.
type Notification struct {
	ID        string    `json:"id"`
	StageID   string    `json:"stage_id"`
	Title     string    `json:"title,omitempty"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// Send implements Sender.
func (s *InAppSender) Send(ctx context.Context, msg Message) (Receipt, error) {
	data, err := json.Marshal(Notification{
		ID: msg.DeliveryID, StageID: msg.StageID, Title: msg.Subject, Body: msg.Body,
		CreatedAt: s.now().UTC(),
	})
	if err != nil {
		return Receipt{}, Permanent(err)
	}

	key := InboxKey(msg.TenantID, msg.RecipientID)
	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, s.InboxSize-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return Receipt{}, fmt.Errorf("push inbox %s: %w", key, err)
	}
	return Receipt{ProviderMessageID: msg.DeliveryID, Status: domain.DeliveryDelivered}, nil
}
