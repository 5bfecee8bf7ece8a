package suppression

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ignite/campaign-engine/internal/domain"
)

// Service implements suppression business logic. It is safe for concurrent use.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService creates a suppression service backed by the given repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: func() time.Time { return time.Now().UTC() }}
}

// IsSuppressed checks whether a recipient should be skipped.
func (s *Service) IsSuppressed(ctx context.Context, tenantID, recipientID string) (bool, error) {
	return s.repo.IsSuppressed(ctx, tenantID, strings.TrimSpace(recipientID))
}

// Suppress adds a recipient to the tenant's list. Idempotent: if the
// recipient is already suppressed, the existing entry is preserved.
func (s *Service) Suppress(ctx context.Context, e Entry) error {
	e.RecipientID = strings.TrimSpace(e.RecipientID)
	switch {
	case e.TenantID == "":
		return fmt.Errorf("%w: tenant_id is required", ErrInvalid)
	case e.RecipientID == "":
		return fmt.Errorf("%w: recipient_id is required", ErrInvalid)
	case !e.Reason.Valid():
		return fmt.Errorf("%w: unknown reason %q", ErrInvalid, e.Reason)
	}
	if e.Source == "" {
		e.Source = SourceOperator
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}
	return s.repo.Suppress(ctx, &e)
}

// ReasonFor maps a delivery status to the suppression it implies, if any.
func ReasonFor(status domain.DeliveryStatus) (Reason, bool) {
	switch status {
	case domain.DeliveryUnsubscribed:
		return ReasonUnsubscribed, true
	case domain.DeliverySpam:
		return ReasonSpam, true
	case domain.DeliveryBounced:
		return ReasonBounced, true
	}
	return "", false
}

// RecordDelivery suppresses the delivery's recipient when its status calls
// for it, and reports whether it did.
func (s *Service) RecordDelivery(ctx context.Context, d *domain.MessageDelivery) (bool, error) {
	reason, ok := ReasonFor(d.Status)
	if !ok {
		return false, nil
	}
	err := s.Suppress(ctx, Entry{
		TenantID:    d.TenantID,
		RecipientID: d.RecipientID,
		Reason:      reason,
		Source:      SourceDeliveryEvent,
		DeliveryID:  d.ID,
	})
	return err == nil, err
}

// Remove deletes a suppression entry. Returns ErrNotFound if the recipient
// is not suppressed.
func (s *Service) Remove(ctx context.Context, tenantID, recipientID string) error {
	recipientID = strings.TrimSpace(recipientID)
	if recipientID == "" {
		return fmt.Errorf("%w: recipient_id is required", ErrInvalid)
	}
	return s.repo.Remove(ctx, tenantID, recipientID)
}

// List returns suppression entries matching the given filter.
func (s *Service) List(ctx context.Context, tenantID string, filter ListFilter) ([]Entry, int, error) {
	return s.repo.List(ctx, tenantID, filter)
}

// Stats returns aggregate counts grouped by reason and source.
type Stats struct {
	Total       int            `json:"total"`
	ByReason    map[string]int `json:"by_reason"`
	BySource    map[string]int `json:"by_source"`
	Last24Hours int            `json:"last_24_hours"`
}

// GetStats computes suppression statistics for a tenant.
func (s *Service) GetStats(ctx context.Context, tenantID string) (*Stats, error) {
	entries, total, err := s.repo.List(ctx, tenantID, ListFilter{})
	if err != nil {
		return nil, err
	}

	since := s.now().Add(-24 * time.Hour)
	stats := &Stats{
		Total:    total,
		ByReason: make(map[string]int),
		BySource: make(map[string]int),
	}
	for _, e := range entries {
		stats.ByReason[string(e.Reason)]++
		stats.BySource[string(e.Source)]++
		if e.CreatedAt.After(since) {
			stats.Last24Hours++
		}
	}
	return stats, nil
}
