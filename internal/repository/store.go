package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ignite/campaign-engine/internal/domain"
)

// maxUpdateAttempts bounds read-modify-write retries on version conflicts.
const maxUpdateAttempts = 8

// Store is the typed entity repository.
type Store struct {
	backend Backend
	now     func() time.Time
}

// NewStore wraps a backend.
func NewStore(backend Backend) *Store {
	return &Store{backend: backend, now: func() time.Time { return time.Now().UTC() }}
}

// Page bounds list queries.
type Page struct {
	Limit  int
	Offset int
}

func (s *Store) put(ctx context.Context, kind Kind, id, tenantID, parentID, status string, v interface{}, expected int64) (int64, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("marshal %s %s: %w", kind, id, err)
	}
	doc := &Document{
		Kind: kind, ID: id, TenantID: tenantID, ParentID: parentID, Status: status,
		Body: body, UpdatedAt: s.now(),
	}
	if err := s.backend.Put(ctx, doc, expected); err != nil {
		if expected == 0 && errors.Is(err, ErrVersionConflict) {
			return 0, fmt.Errorf("%w: %s %s", ErrAlreadyExists, kind, id)
		}
		return 0, fmt.Errorf("put %s %s: %w", kind, id, err)
	}
	return doc.Version, nil
}

func get[T any](ctx context.Context, b Backend, kind Kind, id string) (*T, int64, error) {
	doc, err := b.Get(ctx, kind, id)
	if err != nil {
		return nil, 0, err
	}
	var v T
	if err := json.Unmarshal(doc.Body, &v); err != nil {
		return nil, 0, fmt.Errorf("unmarshal %s %s: %w", kind, id, err)
	}
	return &v, doc.Version, nil
}

func list[T any](ctx context.Context, b Backend, q Query) ([]*T, error) {
	docs, err := b.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", q.Kind, err)
	}
	out := make([]*T, 0, len(docs))
	for _, doc := range docs {
		var v T
		if err := json.Unmarshal(doc.Body, &v); err != nil {
			return nil, fmt.Errorf("unmarshal %s %s: %w", doc.Kind, doc.ID, err)
		}
		out = append(out, &v)
	}
	return out, nil
}

func batchStatuses(statuses []domain.BatchStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

// CreateMultiTenantBatch stores a new batch; ErrAlreadyExists if the id is taken.
func (s *Store) CreateMultiTenantBatch(ctx context.Context, b *domain.MultiTenantBatch) error {
	_, err := s.put(ctx, KindMultiTenantBatch, b.ID, "", "", string(b.Status), b, 0)
	return err
}

// GetMultiTenantBatch loads a batch.
func (s *Store) GetMultiTenantBatch(ctx context.Context, id string) (*domain.MultiTenantBatch, error) {
	b, _, err := get[domain.MultiTenantBatch](ctx, s.backend, KindMultiTenantBatch, id)
	return b, err
}

// UpdateMultiTenantBatch applies fn to the latest stored batch and writes it
// back, retrying fn on concurrent modification. An error from fn aborts
// without writing.
func (s *Store) UpdateMultiTenantBatch(ctx context.Context, id string, fn func(*domain.MultiTenantBatch) error) (*domain.MultiTenantBatch, error) {
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		b, version, err := get[domain.MultiTenantBatch](ctx, s.backend, KindMultiTenantBatch, id)
		if err != nil {
			return nil, err
		}
		if err := fn(b); err != nil {
			return nil, err
		}
		_, err = s.put(ctx, KindMultiTenantBatch, b.ID, "", "", string(b.Status), b, version)
		if errors.Is(err, ErrVersionConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return b, nil
	}
	return nil, fmt.Errorf("update multi-tenant batch %s: %w after %d attempts", id, ErrVersionConflict, maxUpdateAttempts)
}

// UpdateTenantResult applies fn to one tenant's result inside a batch.
func (s *Store) UpdateTenantResult(ctx context.Context, batchID, tenantID string, fn func(*domain.TenantExecutionResult)) (*domain.MultiTenantBatch, error) {
	return s.UpdateMultiTenantBatch(ctx, batchID, func(b *domain.MultiTenantBatch) error {
		r := b.Result(tenantID)
		fn(r)
		b.UpdatedAt = r.UpdatedAt
		return nil
	})
}

// ListMultiTenantBatches returns batches in any of statuses, ordered by id.
func (s *Store) ListMultiTenantBatches(ctx context.Context, statuses []domain.BatchStatus, page Page) ([]*domain.MultiTenantBatch, error) {
	return list[domain.MultiTenantBatch](ctx, s.backend, Query{
		Kind: KindMultiTenantBatch, Statuses: batchStatuses(statuses), Limit: page.Limit, Offset: page.Offset,
	})
}

// SaveCampaign upserts a tenant campaign.
func (s *Store) SaveCampaign(ctx context.Context, c *domain.WorkflowCampaign) error {
	_, err := s.put(ctx, KindCampaign, c.ID, c.TenantID, c.BatchID, "", c, AnyVersion)
	return err
}

// GetCampaign loads a campaign.
func (s *Store) GetCampaign(ctx context.Context, id string) (*domain.WorkflowCampaign, error) {
	c, _, err := get[domain.WorkflowCampaign](ctx, s.backend, KindCampaign, id)
	return c, err
}

// SaveCampaignBatch upserts a campaign batch.
func (s *Store) SaveCampaignBatch(ctx context.Context, b *domain.CampaignBatch) error {
	_, err := s.put(ctx, KindCampaignBatch, b.ID, b.TenantID, b.MultiTenantBatchID, string(b.Status), b, AnyVersion)
	return err
}

// GetCampaignBatch loads a campaign batch.
func (s *Store) GetCampaignBatch(ctx context.Context, id string) (*domain.CampaignBatch, error) {
	b, _, err := get[domain.CampaignBatch](ctx, s.backend, KindCampaignBatch, id)
	return b, err
}

// ListCampaignBatches returns campaign batches in any of statuses. A
// non-empty multiTenantBatchID restricts them to one parent batch.
func (s *Store) ListCampaignBatches(ctx context.Context, multiTenantBatchID string, statuses []domain.BatchStatus, page Page) ([]*domain.CampaignBatch, error) {
	return list[domain.CampaignBatch](ctx, s.backend, Query{
		Kind: KindCampaignBatch, ParentID: multiTenantBatchID, Statuses: batchStatuses(statuses),
		Limit: page.Limit, Offset: page.Offset,
	})
}

// SaveJourney upserts a journey.
func (s *Store) SaveJourney(ctx context.Context, j *domain.RecipientJourney) error {
	_, err := s.put(ctx, KindJourney, j.ID, j.TenantID, j.BatchID, string(j.Status), j, AnyVersion)
	return err
}

// GetJourney loads a journey.
func (s *Store) GetJourney(ctx context.Context, id string) (*domain.RecipientJourney, error) {
	j, _, err := get[domain.RecipientJourney](ctx, s.backend, KindJourney, id)
	return j, err
}

// ListJourneys returns the journeys of a campaign batch, optionally
// filtered by status.
func (s *Store) ListJourneys(ctx context.Context, campaignBatchID string, statuses []domain.JourneyStatus, page Page) ([]*domain.RecipientJourney, error) {
	st := make([]string, len(statuses))
	for i, v := range statuses {
		st[i] = string(v)
	}
	return list[domain.RecipientJourney](ctx, s.backend, Query{
		Kind: KindJourney, ParentID: campaignBatchID, Statuses: st, Limit: page.Limit, Offset: page.Offset,
	})
}

// SaveDelivery upserts a message delivery.
func (s *Store) SaveDelivery(ctx context.Context, d *domain.MessageDelivery) error {
	_, err := s.put(ctx, KindDelivery, d.ID, d.TenantID, d.JourneyID, string(d.Status), d, AnyVersion)
	return err
}

// GetDelivery loads a delivery.
func (s *Store) GetDelivery(ctx context.Context, id string) (*domain.MessageDelivery, error) {
	d, _, err := get[domain.MessageDelivery](ctx, s.backend, KindDelivery, id)
	return d, err
}

// ListDeliveries returns every delivery of a journey.
func (s *Store) ListDeliveries(ctx context.Context, journeyID string) ([]*domain.MessageDelivery, error) {
	return list[domain.MessageDelivery](ctx, s.backend, Query{Kind: KindDelivery, ParentID: journeyID})
}

// UpdateDelivery applies fn to the latest stored delivery, retrying on
// concurrent modification. Provider callbacks race with the engine here.
func (s *Store) UpdateDelivery(ctx context.Context, id string, fn func(*domain.MessageDelivery) error) (*domain.MessageDelivery, error) {
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		d, version, err := get[domain.MessageDelivery](ctx, s.backend, KindDelivery, id)
		if err != nil {
			return nil, err
		}
		if err := fn(d); err != nil {
			return nil, err
		}
		_, err = s.put(ctx, KindDelivery, d.ID, d.TenantID, d.JourneyID, string(d.Status), d, version)
		if errors.Is(err, ErrVersionConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return d, nil
	}
	return nil, fmt.Errorf("update delivery %s: %w after %d attempts", id, ErrVersionConflict, maxUpdateAttempts)
}
