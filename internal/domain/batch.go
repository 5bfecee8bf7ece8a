package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// BatchStatus enumerates the lifecycle shared by campaign batches and
// multi-tenant batches.
type BatchStatus string

const (
	BatchCreated    BatchStatus = "created"
	BatchValidating BatchStatus = "validating"
	BatchQueued     BatchStatus = "queued"
	BatchProcessing BatchStatus = "processing"
	BatchPaused     BatchStatus = "paused"
	BatchCompleted  BatchStatus = "completed"
	BatchFailed     BatchStatus = "failed"
	BatchCancelled  BatchStatus = "cancelled"
)

// IsTerminal returns true if the batch is in a final state.
func (s BatchStatus) IsTerminal() bool {
	return s == BatchCompleted || s == BatchFailed || s == BatchCancelled
}

var batchTransitions = map[BatchStatus][]BatchStatus{
	BatchCreated:    {BatchValidating, BatchFailed, BatchCancelled},
	BatchValidating: {BatchQueued, BatchFailed, BatchCancelled},
	BatchQueued:     {BatchProcessing, BatchPaused, BatchFailed, BatchCancelled},
	BatchProcessing: {BatchPaused, BatchCompleted, BatchFailed, BatchCancelled},
	BatchPaused:     {BatchQueued, BatchProcessing, BatchFailed, BatchCancelled},
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to BatchStatus) bool {
	for _, s := range batchTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func transitionBatch(current *BatchStatus, to BatchStatus) error {
	if *current == to {
		return nil
	}
	if !CanTransition(*current, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, *current, to)
	}
	*current = to
	return nil
}

// CampaignBatch groups the journeys created together for one campaign.
// Invariant: ProcessedRecipients == SuccessfulRecipients + FailedRecipients
// and ProcessedRecipients <= TotalRecipients.
type CampaignBatch struct {
	ID                   string      `json:"id"`
	TenantID             string      `json:"tenant_id"`
	CampaignID           string      `json:"campaign_id"`
	MultiTenantBatchID   string      `json:"multi_tenant_batch_id,omitempty"`
	Status               BatchStatus `json:"status"`
	JourneyIDs           []string    `json:"journey_ids,omitempty"`
	TotalRecipients      int         `json:"total_recipients"`
	ProcessedRecipients  int         `json:"processed_recipients"`
	SuccessfulRecipients int         `json:"successful_recipients"`
	FailedRecipients     int         `json:"failed_recipients"`
	ErrorCount           int         `json:"error_count"`
	LastError            string      `json:"last_error,omitempty"`
	MaxRetries           int         `json:"max_retries"`
	RetryCount           int         `json:"retry_count"`
	StartedAt            *time.Time  `json:"started_at,omitempty"`
	CompletedAt          *time.Time  `json:"completed_at,omitempty"`

	// NextReadyAt is the earliest instant one of the active journeys can
	// advance. Nil means at least one can advance now.
	NextReadyAt    *time.Time `json:"next_ready_at,omitempty"`
	LastAdvancedAt *time.Time `json:"last_advanced_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Due reports whether any journey of the batch may advance at now.
func (b *CampaignBatch) Due(now time.Time) bool {
	return b.NextReadyAt == nil || !now.Before(*b.NextReadyAt)
}

var campaignBatchNamespace = uuid.MustParse("4f6d2b8a-9c0e-4a1b-8e3f-5a7c9d1e2f06")

// CampaignBatchID is stable per campaign.
func CampaignBatchID(campaignID string) string {
	return uuid.NewSHA1(campaignBatchNamespace, []byte(campaignID)).String()
}

// NewCampaignBatch creates an empty batch for a campaign.
func NewCampaignBatch(tenantID, campaignID, multiTenantBatchID string, maxRetries int, at time.Time) *CampaignBatch {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &CampaignBatch{
		ID:                 CampaignBatchID(campaignID),
		TenantID:           tenantID,
		CampaignID:         campaignID,
		MultiTenantBatchID: multiTenantBatchID,
		Status:             BatchCreated,
		MaxRetries:         maxRetries,
		CreatedAt:          at,
		UpdatedAt:          at,
	}
}

// Transition moves the batch along its lifecycle.
func (b *CampaignBatch) Transition(to BatchStatus, at time.Time) error {
	if err := transitionBatch(&b.Status, to); err != nil {
		return fmt.Errorf("campaign batch %s: %w", b.ID, err)
	}
	b.UpdatedAt = at
	switch {
	case to == BatchProcessing && b.StartedAt == nil:
		b.StartedAt = &at
	case to.IsTerminal():
		b.CompletedAt = &at
	}
	return nil
}

// AddRecipients appends journey ids not already present and recomputes the total.
func (b *CampaignBatch) AddRecipients(journeyIDs ...string) {
	seen := make(map[string]struct{}, len(b.JourneyIDs))
	for _, id := range b.JourneyIDs {
		seen[id] = struct{}{}
	}
	for _, id := range journeyIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		b.JourneyIDs = append(b.JourneyIDs, id)
	}
	b.TotalRecipients = len(b.JourneyIDs)
}

// UpdateRecipientCounts adds to the cumulative counts. An update that would
// push processed past total is rejected whole. When processed reaches total
// the batch completes regardless of how many recipients failed.
func (b *CampaignBatch) UpdateRecipientCounts(successful, failed int, at time.Time) error {
	if successful < 0 || failed < 0 {
		return ErrNegativeCount
	}
	if b.ProcessedRecipients+successful+failed > b.TotalRecipients {
		return fmt.Errorf("%w: %d processed + %d > %d total", ErrCountsExceedTotal,
			b.ProcessedRecipients, successful+failed, b.TotalRecipients)
	}
	b.SuccessfulRecipients += successful
	b.FailedRecipients += failed
	b.ProcessedRecipients = b.SuccessfulRecipients + b.FailedRecipients
	b.UpdatedAt = at
	if b.ProcessedRecipients == b.TotalRecipients && !b.Status.IsTerminal() {
		for b.Status != BatchProcessing {
			next, ok := towardProcessing[b.Status]
			if !ok {
				return fmt.Errorf("campaign batch %s: %w: %s -> %s", b.ID, ErrInvalidTransition, b.Status, BatchCompleted)
			}
			if err := b.Transition(next, at); err != nil {
				return err
			}
		}
		return b.Transition(BatchCompleted, at)
	}
	return nil
}

// towardProcessing is the allowed edge a batch that finished all of its
// recipients takes from each pre-processing state on its way to completed.
var towardProcessing = map[BatchStatus]BatchStatus{
	BatchCreated:    BatchValidating,
	BatchValidating: BatchQueued,
	BatchQueued:     BatchProcessing,
	BatchPaused:     BatchProcessing,
}

// RecordError marks the batch failed for a batch-fatal error.
func (b *CampaignBatch) RecordError(msg string, at time.Time) {
	b.ErrorCount++
	b.LastError = msg
	b.UpdatedAt = at
	if !b.Status.IsTerminal() {
		_ = b.Transition(BatchFailed, at)
	}
}

// Remaining returns how many recipients are not yet processed.
func (b *CampaignBatch) Remaining() int { return b.TotalRecipients - b.ProcessedRecipients }
