package suppression

import (
	"context"
	"time"
)

// Reason says why a recipient is suppressed.
type Reason string

const (
	ReasonUnsubscribed Reason = "unsubscribed"
	ReasonSpam         Reason = "spam"
	ReasonBounced      Reason = "bounced"
	ReasonManual       Reason = "manual"
)

// Valid reports whether r is a known reason.
func (r Reason) Valid() bool {
	switch r {
	case ReasonUnsubscribed, ReasonSpam, ReasonBounced, ReasonManual:
		return true
	}
	return false
}

// Source says where a suppression came from.
type Source string

const (
	SourceDeliveryEvent Source = "delivery_event"
	SourceOperator      Source = "operator"
)

// Entry is one suppressed recipient of one tenant.
type Entry struct {
	TenantID    string    `json:"tenant_id"`
	RecipientID string    `json:"recipient_id"`
	Reason      Reason    `json:"reason"`
	Source      Source    `json:"source"`
	DeliveryID  string    `json:"delivery_id,omitempty"`
	Note        string    `json:"note,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Repository defines the data access contract for the suppression list.
type Repository interface {
	// IsSuppressed reports whether the recipient is on the tenant's list.
	IsSuppressed(ctx context.Context, tenantID, recipientID string) (bool, error)

	// Suppress adds an entry. If the recipient is already suppressed the
	// existing entry is preserved (idempotent).
	Suppress(ctx context.Context, e *Entry) error

	// Remove deletes an entry. Returns ErrNotFound if it doesn't exist.
	Remove(ctx context.Context, tenantID, recipientID string) error

	// List returns the tenant's entries matching the filter, newest first,
	// and the total before paging.
	List(ctx context.Context, tenantID string, filter ListFilter) ([]Entry, int, error)
}

// ListFilter controls pagination and filtering for suppression lists.
type ListFilter struct {
	Reason string
	Limit  int
	Offset int
}
