package domain

import (
	"fmt"
	"time"
)

// TenantStatus enumerates the per-tenant outcome inside a multi-tenant batch.
type TenantStatus string

const (
	TenantPending    TenantStatus = "pending"
	TenantProcessing TenantStatus = "processing"
	TenantCompleted  TenantStatus = "completed"
	TenantFailed     TenantStatus = "failed"
	TenantSkipped    TenantStatus = "skipped"
)

// IsTerminal returns true once the tenant will not be processed again.
func (s TenantStatus) IsTerminal() bool {
	return s == TenantCompleted || s == TenantFailed || s == TenantSkipped
}

// TenantExecutionResult records what happened for one tenant.
type TenantExecutionResult struct {
	TenantID        string       `json:"tenant_id"`
	Status          TenantStatus `json:"status"`
	CampaignID      string       `json:"campaign_id,omitempty"`
	CampaignBatchID string       `json:"campaign_batch_id,omitempty"`
	RecipientCount  int          `json:"recipient_count"`
	CompletedCount  int          `json:"completed_count"`
	FailedCount     int          `json:"failed_count"`
	ActiveCount     int          `json:"active_count"`
	Attempts        int          `json:"attempts"`
	ErrorMessage    string       `json:"error_message,omitempty"`
	StartedAt       *time.Time   `json:"started_at,omitempty"`
	CompletedAt     *time.Time   `json:"completed_at,omitempty"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// MarkProcessing checkpoints the start of an attempt.
func (r *TenantExecutionResult) MarkProcessing(at time.Time) {
	r.Status = TenantProcessing
	r.Attempts++
	r.ErrorMessage = ""
	r.StartedAt = &at
	r.CompletedAt = nil
	r.UpdatedAt = at
}

// MarkCompleted records a finished attempt.
func (r *TenantExecutionResult) MarkCompleted(at time.Time) {
	r.Status = TenantCompleted
	r.CompletedAt = &at
	r.UpdatedAt = at
}

// MarkFailed records a failed attempt with its error.
func (r *TenantExecutionResult) MarkFailed(msg string, at time.Time) {
	if msg == "" {
		msg = "unknown error"
	}
	r.Status = TenantFailed
	r.ErrorMessage = msg
	r.CompletedAt = &at
	r.UpdatedAt = at
}

// BatchOptions are the caller-supplied knobs of a multi-tenant batch.
type BatchOptions struct {
	Priority int `json:"priority,omitempty"`
	// SkipTenants are recorded as skipped without being processed.
	SkipTenants []string `json:"skip_tenants,omitempty"`
	// TenantConcurrency bounds parallel tenants; 0 uses the processor default.
	TenantConcurrency int    `json:"tenant_concurrency,omitempty"`
	RequestedBy       string `json:"requested_by,omitempty"`
}

// MultiTenantBatch applies one campaign template across many tenants.
// Invariant: TenantResults holds at most one entry per tenant id, entries
// are created lazily and never removed.
type MultiTenantBatch struct {
	ID               string                            `json:"id"`
	CampaignTemplate WorkflowCampaign                  `json:"campaign_template"`
	TenantIDs        []string                          `json:"tenant_ids"`
	TenantResults    map[string]*TenantExecutionResult `json:"tenant_results"`
	Status           BatchStatus                       `json:"status"`
	Options          BatchOptions                      `json:"options"`
	StatusReason     string                            `json:"status_reason,omitempty"`
	StartedAt        *time.Time                        `json:"started_at,omitempty"`
	CompletedAt      *time.Time                        `json:"completed_at,omitempty"`
	CreatedAt        time.Time                         `json:"created_at"`
	UpdatedAt        time.Time                         `json:"updated_at"`
}

// NewMultiTenantBatch creates a batch in the created state. Tenant ids are
// de-duplicated keeping their first position.
func NewMultiTenantBatch(id string, template WorkflowCampaign, tenantIDs []string, opts BatchOptions, at time.Time) *MultiTenantBatch {
	seen := make(map[string]struct{}, len(tenantIDs))
	ordered := make([]string, 0, len(tenantIDs))
	for _, t := range tenantIDs {
		if _, dup := seen[t]; dup || t == "" {
			continue
		}
		seen[t] = struct{}{}
		ordered = append(ordered, t)
	}
	return &MultiTenantBatch{
		ID:               id,
		CampaignTemplate: template,
		TenantIDs:        ordered,
		TenantResults:    map[string]*TenantExecutionResult{},
		Status:           BatchCreated,
		Options:          opts,
		CreatedAt:        at,
		UpdatedAt:        at,
	}
}

// Result returns the tenant's result, creating a pending entry on first touch.
func (b *MultiTenantBatch) Result(tenantID string) *TenantExecutionResult {
	if b.TenantResults == nil {
		b.TenantResults = map[string]*TenantExecutionResult{}
	}
	r, ok := b.TenantResults[tenantID]
	if !ok {
		r = &TenantExecutionResult{TenantID: tenantID, Status: TenantPending, UpdatedAt: b.UpdatedAt}
		b.TenantResults[tenantID] = r
	}
	return r
}

// SetResult stores r, keeping the one-entry-per-tenant invariant.
func (b *MultiTenantBatch) SetResult(r TenantExecutionResult) {
	cp := r
	b.Result(r.TenantID)
	b.TenantResults[r.TenantID] = &cp
}

// AllTerminal reports whether every tenant has a terminal result.
func (b *MultiTenantBatch) AllTerminal() bool {
	for _, t := range b.TenantIDs {
		r, ok := b.TenantResults[t]
		if !ok || !r.Status.IsTerminal() {
			return false
		}
	}
	return true
}

// Transition moves the batch along its lifecycle.
func (b *MultiTenantBatch) Transition(to BatchStatus, reason string, at time.Time) error {
	if err := transitionBatch(&b.Status, to); err != nil {
		return fmt.Errorf("multi-tenant batch %s: %w", b.ID, err)
	}
	b.StatusReason = reason
	b.UpdatedAt = at
	switch {
	case to == BatchProcessing && b.StartedAt == nil:
		b.StartedAt = &at
	case to.IsTerminal():
		b.CompletedAt = &at
	}
	return nil
}

// Counts tallies tenant results by status.
func (b *MultiTenantBatch) Counts() map[TenantStatus]int {
	out := map[TenantStatus]int{}
	for _, t := range b.TenantIDs {
		status := TenantPending
		if r, ok := b.TenantResults[t]; ok {
			status = r.Status
		}
		out[status]++
	}
	return out
}
