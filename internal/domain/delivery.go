package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DeliveryStatus enumerates the lifecycle of one message delivery.
type DeliveryStatus string

const (
	DeliveryQueued       DeliveryStatus = "queued"
	DeliverySending      DeliveryStatus = "sending"
	DeliverySent         DeliveryStatus = "sent"
	DeliveryDelivered    DeliveryStatus = "delivered"
	DeliveryOpened       DeliveryStatus = "opened"
	DeliveryClicked      DeliveryStatus = "clicked"
	DeliveryFailed       DeliveryStatus = "failed"
	DeliveryBounced      DeliveryStatus = "bounced"
	DeliveryRejected     DeliveryStatus = "rejected"
	DeliveryUnsubscribed DeliveryStatus = "unsubscribed"
	DeliverySpam         DeliveryStatus = "spam"
)

// deliveryRank orders the forward lifecycle. Statuses missing from the map
// are the failure terminals.
var deliveryRank = map[DeliveryStatus]int{
	DeliveryQueued:       0,
	DeliverySending:      1,
	DeliverySent:         2,
	DeliveryDelivered:    3,
	DeliveryOpened:       4,
	DeliveryClicked:      5,
	DeliveryUnsubscribed: 6,
	DeliverySpam:         6,
}

// Valid reports whether s is a known delivery status.
func (s DeliveryStatus) Valid() bool {
	_, forward := deliveryRank[s]
	return forward || s.IsFailure()
}

// IsFailure reports whether s is failed, bounced or rejected.
func (s DeliveryStatus) IsFailure() bool {
	return s == DeliveryFailed || s == DeliveryBounced || s == DeliveryRejected
}

// IsTerminal reports whether no further transition is accepted. Only the
// failure states are terminal; opens and clicks after an opt-out still count.
func (s DeliveryStatus) IsTerminal() bool {
	return s.IsFailure()
}

// IsOptOut reports whether the recipient unsubscribed or complained.
func (s DeliveryStatus) IsOptOut() bool {
	return s == DeliveryUnsubscribed || s == DeliverySpam
}

// IsAccepted reports whether the transport has taken the message.
func (s DeliveryStatus) IsAccepted() bool {
	r, ok := deliveryRank[s]
	return ok && r >= deliveryRank[DeliverySent]
}

// IsConfirmed reports whether the provider confirmed the message landed.
func (s DeliveryStatus) IsConfirmed() bool {
	r, ok := deliveryRank[s]
	return ok && r >= deliveryRank[DeliveryDelivered]
}

// MessageDelivery is one transmitted unit of content via one channel.
type MessageDelivery struct {
	ID                string                       `json:"id"`
	TenantID          string                       `json:"tenant_id"`
	BatchID           string                       `json:"batch_id"`
	JourneyID         string                       `json:"journey_id"`
	StageID           string                       `json:"stage_id"`
	ExecutionID       string                       `json:"execution_id"`
	RecipientID       string                       `json:"recipient_id"`
	Channel           Channel                      `json:"channel"`
	Status            DeliveryStatus               `json:"status"`
	ProviderMessageID string                       `json:"provider_message_id,omitempty"`
	RetryCount        int                          `json:"retry_count"`
	MaxRetries        int                          `json:"max_retries"`
	OpenCount         int                          `json:"open_count"`
	ClickCount        int                          `json:"click_count"`
	LastError         string                       `json:"last_error,omitempty"`
	StatusTimes       map[DeliveryStatus]time.Time `json:"status_times,omitempty"`
	CreatedAt         time.Time                    `json:"created_at"`
	UpdatedAt         time.Time                    `json:"updated_at"`
}

var deliveryNamespace = uuid.MustParse("e2a9c4f7-1b3d-4c8e-a5f6-7d9e0b1c2a34")

// DeliveryID is stable per stage execution.
func DeliveryID(executionID string) string {
	return uuid.NewSHA1(deliveryNamespace, []byte(executionID)).String()
}

// NewMessageDelivery creates a queued delivery for an open stage execution.
func NewMessageDelivery(j *RecipientJourney, exec *StageExecution, channel Channel, maxRetries int, at time.Time) *MessageDelivery {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &MessageDelivery{
		ID:          DeliveryID(exec.ID),
		TenantID:    j.TenantID,
		BatchID:     j.BatchID,
		JourneyID:   j.ID,
		StageID:     exec.StageID,
		ExecutionID: exec.ID,
		RecipientID: j.RecipientID,
		Channel:     channel,
		Status:      DeliveryQueued,
		MaxRetries:  maxRetries,
		StatusTimes: map[DeliveryStatus]time.Time{DeliveryQueued: at},
		CreatedAt:   at,
		UpdatedAt:   at,
	}
}

// Transition moves the delivery to status. Forward moves are accepted, a
// repeated opened/clicked only bumps its counter, failures are reachable
// from any non-terminal state. Anything else is ErrInvalidTransition.
func (d *MessageDelivery) Transition(status DeliveryStatus, at time.Time) error {
	if !status.Valid() {
		return fmt.Errorf("%w: unknown delivery status %q", ErrInvalidTransition, status)
	}
	if d.Status.IsTerminal() {
		return fmt.Errorf("%w: delivery %s is %s", ErrInvalidTransition, d.ID, d.Status)
	}

	engagement := status == DeliveryOpened || status == DeliveryClicked
	switch status {
	case DeliveryOpened:
		d.OpenCount++
	case DeliveryClicked:
		d.ClickCount++
		// A click implies at least one open.
		if d.OpenCount == 0 {
			d.OpenCount = 1
		}
	}

	if !status.IsFailure() {
		cur, next := deliveryRank[d.Status], deliveryRank[status]
		switch {
		case next > cur:
		case (engagement || status == DeliveryDelivered) && d.Status.IsAccepted():
			// Repeated or late confirmation/engagement: counted, status kept.
			d.UpdatedAt = at
			return nil
		default:
			return fmt.Errorf("%w: delivery %s %s -> %s", ErrInvalidTransition, d.ID, d.Status, status)
		}
	}

	if _, seen := d.StatusTimes[status]; !seen {
		if d.StatusTimes == nil {
			d.StatusTimes = map[DeliveryStatus]time.Time{}
		}
		d.StatusTimes[status] = at
	}
	d.Status = status
	d.UpdatedAt = at
	return nil
}

// RecordAttemptFailure counts a failed transport attempt. The delivery goes
// back to queued for the next poll while budget remains, else fails.
// It returns true when the delivery may be retried.
func (d *MessageDelivery) RecordAttemptFailure(errMsg string, at time.Time) bool {
	d.RetryCount++
	d.LastError = errMsg
	d.UpdatedAt = at
	if d.RetryCount < d.MaxRetries {
		d.Status = DeliveryQueued
		return true
	}
	_ = d.Transition(DeliveryFailed, at)
	return false
}

// Reject marks a delivery permanently refused by the transport.
func (d *MessageDelivery) Reject(errMsg string, at time.Time) error {
	d.LastError = errMsg
	return d.Transition(DeliveryRejected, at)
}

// SentAt returns when the transport accepted the delivery.
func (d *MessageDelivery) SentAt() (time.Time, bool) {
	t, ok := d.StatusTimes[DeliverySent]
	return t, ok
}
