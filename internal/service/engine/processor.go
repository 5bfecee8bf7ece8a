package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/pkg/distlock"
	"github.com/ignite/campaign-engine/internal/pkg/logger"
	"github.com/ignite/campaign-engine/internal/repository"
	"github.com/ignite/campaign-engine/internal/tenant"
)

// ResumePolicy decides what happens to a tenant found in processing at the
// start of a pass, which only happens after an interrupted pass.
type ResumePolicy string

const (
	// ResumeRerun processes the tenant again. Campaign, batch, journey and
	// delivery ids are deterministic and accepted deliveries are never
	// re-sent, so the re-run converges on the interrupted one.
	ResumeRerun ResumePolicy = "rerun"
	// ResumeFail marks the tenant failed with "interrupted".
	ResumeFail ResumePolicy = "fail"
)

// Config tunes the processor.
type Config struct {
	// TenantConcurrency bounds tenants processed in parallel per batch.
	TenantConcurrency int
	// RecipientPageSize is the CRM page size.
	RecipientPageSize int
	// JourneyBudget caps journey advances per campaign batch per pass.
	JourneyBudget int
	// MaxStepsPerJourney caps stages one journey runs in a single pass.
	MaxStepsPerJourney int
	// LockTTL bounds how long a crashed worker keeps a claim.
	LockTTL      time.Duration
	ResumePolicy ResumePolicy
}

// DefaultConfig returns the values used for zero fields.
func DefaultConfig() Config {
	return Config{
		TenantConcurrency:  4,
		RecipientPageSize:  500,
		JourneyBudget:      1000,
		MaxStepsPerJourney: 16,
		LockTTL:            5 * time.Minute,
		ResumePolicy:       ResumeRerun,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.TenantConcurrency <= 0 {
		c.TenantConcurrency = d.TenantConcurrency
	}
	if c.RecipientPageSize <= 0 {
		c.RecipientPageSize = d.RecipientPageSize
	}
	if c.JourneyBudget <= 0 {
		c.JourneyBudget = d.JourneyBudget
	}
	if c.MaxStepsPerJourney <= 0 {
		c.MaxStepsPerJourney = d.MaxStepsPerJourney
	}
	if c.LockTTL <= 0 {
		c.LockTTL = d.LockTTL
	}
	if c.ResumePolicy == "" {
		c.ResumePolicy = d.ResumePolicy
	}
	return c
}

// Dependencies are the collaborators of a Processor. Locks defaults to an
// in-process lock. Archive and Suppressions are optional.
type Dependencies struct {
	Repository   Repository
	Recipients   RecipientSource
	Renderer     ContentRenderer
	Transport    Transport
	Conditions   Conditions
	Directory    tenant.Directory
	Locks        distlock.Factory
	Archive      Archiver
	Suppressions Suppressions
}

// Processor creates and advances multi-tenant batches. It keeps no
// authoritative state between calls and is safe for concurrent use.
type Processor struct {
	repo       Repository
	recipients RecipientSource
	renderer   ContentRenderer
	transport  Transport
	conditions Conditions
	directory  tenant.Directory
	locks      distlock.Factory
	archive    Archiver
	suppress   Suppressions
	cfg        Config
	now        func() time.Time
	log        *logger.Logger
}

// NewProcessor wires a processor.
func NewProcessor(deps Dependencies, cfg Config) (*Processor, error) {
	switch {
	case deps.Repository == nil:
		return nil, fmt.Errorf("%w: repository", ErrMissingDep)
	case deps.Recipients == nil:
		return nil, fmt.Errorf("%w: recipients", ErrMissingDep)
	case deps.Renderer == nil:
		return nil, fmt.Errorf("%w: renderer", ErrMissingDep)
	case deps.Transport == nil:
		return nil, fmt.Errorf("%w: transport", ErrMissingDep)
	case deps.Conditions == nil:
		return nil, fmt.Errorf("%w: conditions", ErrMissingDep)
	case deps.Directory == nil:
		return nil, fmt.Errorf("%w: tenant directory", ErrMissingDep)
	}
	locks := deps.Locks
	if locks == nil {
		locks = distlock.NewMemoryFactory()
	}
	return &Processor{
		repo:       deps.Repository,
		recipients: deps.Recipients,
		renderer:   deps.Renderer,
		transport:  deps.Transport,
		conditions: deps.Conditions,
		directory:  deps.Directory,
		locks:      locks,
		archive:    deps.Archive,
		suppress:   deps.Suppressions,
		cfg:        cfg.withDefaults(),
		now:        func() time.Time { return time.Now().UTC() },
		log:        logger.Default().With("component", "engine"),
	}, nil
}

// SetClock replaces the processor's clock.
func (p *Processor) SetClock(now func() time.Time) { p.now = now }

// SetLogger replaces the processor's logger.
func (p *Processor) SetLogger(l *logger.Logger) { p.log = l }

func batchLockKey(id string) string         { return "campaign-engine:mtb:" + id }
func campaignBatchLockKey(id string) string { return "campaign-engine:cb:" + id }

// withLock runs fn while holding key. ok is false when another worker
// holds it. Expiring leases are renewed every third of the TTL; if a
// renewal fails, fn's context is cancelled and ErrLockLost returned.
func (p *Processor) withLock(ctx context.Context, key string, fn func(ctx context.Context) error) (ok bool, err error) {
	lock := p.locks(key, p.cfg.LockTTL)
	acquired, err := lock.Acquire(ctx)
	if err != nil {
		return false, fmt.Errorf("acquire %s: %w", key, err)
	}
	if !acquired {
		return false, nil
	}
	defer func() {
		if rerr := lock.Release(context.Background()); rerr != nil {
			p.log.Warn("lock release failed", "key", key, "error", rerr.Error())
		}
	}()

	ext, renewable := lock.(distlock.Extender)
	every := p.cfg.LockTTL / 3
	if !renewable || every <= 0 {
		return true, fn(ctx)
	}
	workCtx, cancel := context.WithCancelCause(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.renewLease(workCtx, ext, key, every, cancel)
	}()
	err = fn(workCtx)
	lost := context.Cause(workCtx)
	cancel(nil)
	<-done
	if errors.Is(lost, ErrLockLost) {
		return true, lost
	}
	return true, err
}

func (p *Processor) renewLease(ctx context.Context, lock distlock.Extender, key string, every time.Duration, lost context.CancelCauseFunc) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := lock.Extend(ctx, p.cfg.LockTTL); err != nil {
				if ctx.Err() != nil {
					return
				}
				p.log.Warn("lock renewal failed, abandoning work", "key", key, "error", err.Error())
				lost(fmt.Errorf("%w: %s: %v", ErrLockLost, key, err))
				return
			}
		}
	}
}

// CreateMultiTenantBatch validates template and queues it for tenantIDs.
// Validation problems are returned as domain.ValidationErrors before
// anything is stored.
func (p *Processor) CreateMultiTenantBatch(ctx context.Context, template domain.WorkflowCampaign, tenantIDs []string, opts domain.BatchOptions) (string, error) {
	template.SortStages()
	if errs := p.conditions.ValidateWorkflow(&template); len(errs) > 0 {
		return "", errs
	}

	now := p.now()
	if template.ID == "" {
		template.ID = uuid.New().String()
	}
	b := domain.NewMultiTenantBatch(uuid.New().String(), template, tenantIDs, opts, now)
	if len(b.TenantIDs) == 0 {
		return "", ErrNoTenants
	}

	if err := b.Transition(domain.BatchValidating, "", now); err != nil {
		return "", err
	}
	known := make(map[string]bool, len(b.TenantIDs))
	for _, t := range b.TenantIDs {
		known[t] = true
	}
	for _, t := range opts.SkipTenants {
		if !known[t] {
			continue
		}
		r := b.Result(t)
		r.Status = domain.TenantSkipped
		r.ErrorMessage = "skipped by request"
		r.UpdatedAt = now
	}
	if err := b.Transition(domain.BatchQueued, "", now); err != nil {
		return "", err
	}

	if err := p.repo.CreateMultiTenantBatch(ctx, b); err != nil {
		return "", fmt.Errorf("create multi-tenant batch: %w", err)
	}
	p.log.Info("multi-tenant batch queued", "batch_id", b.ID, "template", template.Name,
		"tenants", len(b.TenantIDs), "skipped", b.Counts()[domain.TenantSkipped])
	return b.ID, nil
}

// RecipientTotals sums recipient progress across tenants.
type RecipientTotals struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Active    int `json:"active"`
}

// BatchStatus is the caller-facing view of a multi-tenant batch.
type BatchStatus struct {
	ID           string                         `json:"id"`
	Name         string                         `json:"name"`
	Status       domain.BatchStatus             `json:"status"`
	StatusReason string                         `json:"status_reason,omitempty"`
	TenantCounts map[domain.TenantStatus]int    `json:"tenant_counts"`
	TotalTenants int                            `json:"total_tenants"`
	Recipients   RecipientTotals                `json:"recipients"`
	Tenants      []domain.TenantExecutionResult `json:"tenants"`
	CreatedAt    time.Time                      `json:"created_at"`
	StartedAt    *time.Time                     `json:"started_at,omitempty"`
	CompletedAt  *time.Time                     `json:"completed_at,omitempty"`
}

// GetBatchStatus reports a batch's status and per-tenant results. Results
// follow the batch's tenant order; page selects a window of them and a zero
// page returns all. Counts and totals always cover every tenant.
func (p *Processor) GetBatchStatus(ctx context.Context, id string, page repository.Page) (*BatchStatus, error) {
	b, err := p.repo.GetMultiTenantBatch(ctx, id)
	if err != nil {
		return nil, err
	}
	st := &BatchStatus{
		ID:           b.ID,
		Name:         b.CampaignTemplate.Name,
		Status:       b.Status,
		StatusReason: b.StatusReason,
		TenantCounts: b.Counts(),
		TotalTenants: len(b.TenantIDs),
		CreatedAt:    b.CreatedAt,
		StartedAt:    b.StartedAt,
		CompletedAt:  b.CompletedAt,
	}
	results := make([]domain.TenantExecutionResult, 0, len(b.TenantIDs))
	for _, t := range b.TenantIDs {
		r := domain.TenantExecutionResult{TenantID: t, Status: domain.TenantPending}
		if stored, ok := b.TenantResults[t]; ok {
			r = *stored
		}
		st.Recipients.Total += r.RecipientCount
		st.Recipients.Completed += r.CompletedCount
		st.Recipients.Failed += r.FailedCount
		st.Recipients.Active += r.ActiveCount
		results = append(results, r)
	}
	st.Tenants = pageOf(results, page)
	return st, nil
}

func pageOf[T any](items []T, page repository.Page) []T {
	if page.Offset >= len(items) {
		return []T{}
	}
	items = items[page.Offset:]
	if page.Limit > 0 && page.Limit < len(items) {
		items = items[:page.Limit]
	}
	return items
}

// PauseBatch stops a batch from being picked up. Work already in flight in
// the current pass finishes.
func (p *Processor) PauseBatch(ctx context.Context, id, reason string) error {
	return p.transitionBatch(ctx, id, domain.BatchPaused, reason)
}

// ResumeBatch re-queues a paused batch.
func (p *Processor) ResumeBatch(ctx context.Context, id string) error {
	return p.transitionBatch(ctx, id, domain.BatchQueued, "")
}

// CancelBatch cancels a batch. Its campaign batches and active journeys are
// cancelled on the next pass.
func (p *Processor) CancelBatch(ctx context.Context, id, reason string) error {
	if reason == "" {
		reason = "cancelled by operator"
	}
	return p.transitionBatch(ctx, id, domain.BatchCancelled, reason)
}

func (p *Processor) transitionBatch(ctx context.Context, id string, to domain.BatchStatus, reason string) error {
	b, err := p.repo.UpdateMultiTenantBatch(ctx, id, func(b *domain.MultiTenantBatch) error {
		return b.Transition(to, reason, p.now())
	})
	if err != nil {
		return err
	}
	p.log.Info("multi-tenant batch status changed", "batch_id", id, "status", string(b.Status), "reason", reason)
	return nil
}

// CancelJourney cancels one journey. It returns ErrBusy while the journey's
// campaign batch is being advanced.
func (p *Processor) CancelJourney(ctx context.Context, journeyID, reason string) error {
	j, err := p.repo.GetJourney(ctx, journeyID)
	if err != nil {
		return err
	}
	if reason == "" {
		reason = "cancelled by operator"
	}
	ok, err := p.withLock(ctx, campaignBatchLockKey(j.BatchID), func(ctx context.Context) error {
		j, err := p.repo.GetJourney(ctx, journeyID)
		if err != nil {
			return err
		}
		if err := j.UpdateStatus(domain.JourneyCanceled, reason, p.now()); err != nil {
			return err
		}
		if err := p.repo.SaveJourney(ctx, j); err != nil {
			return err
		}
		// Recount on the next pass even if the other journeys wait.
		cb, err := p.repo.GetCampaignBatch(ctx, j.BatchID)
		if err != nil {
			return err
		}
		cb.NextReadyAt = nil
		return p.repo.SaveCampaignBatch(ctx, cb)
	})
	if err != nil {
		return err
	}
	if !ok {
		return ErrBusy
	}
	p.log.Info("journey cancelled", "journey_id", journeyID, "tenant_id", j.TenantID, "reason", reason)
	return nil
}

// RecordDeliveryEvent applies a provider callback to a delivery. The
// journey picks the change up on its next pass.
func (p *Processor) RecordDeliveryEvent(ctx context.Context, deliveryID string, status domain.DeliveryStatus, at time.Time) (*domain.MessageDelivery, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: delivery status %q", ErrInvalidStatus, status)
	}
	if at.IsZero() {
		at = p.now()
	}
	d, err := p.repo.UpdateDelivery(ctx, deliveryID, func(d *domain.MessageDelivery) error {
		return d.Transition(status, at)
	})
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			p.log.Warn("delivery event rejected", "delivery_id", deliveryID, "status", string(status), "error", err.Error())
		}
		return nil, err
	}
	if p.suppress != nil {
		if ok, err := p.suppress.RecordDelivery(ctx, d); err != nil {
			p.log.Warn("suppression not recorded", "delivery_id", d.ID, "tenant_id", d.TenantID, "error", err.Error())
		} else if ok {
			p.log.Info("recipient suppressed", "tenant_id", d.TenantID, "recipient_id", d.RecipientID, "reason", string(d.Status))
		}
	}
	return d, nil
}
