package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ignite/campaign-engine/internal/archive"
	"github.com/ignite/campaign-engine/internal/crm"
	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/repository"
	"github.com/ignite/campaign-engine/internal/tenant"
)

// PassStats summarizes one ProcessPendingBatches call.
type PassStats struct {
	Batches          int `json:"batches"`
	BatchesCompleted int `json:"batches_completed"`
	TenantsProcessed int `json:"tenants_processed"`
	TenantsFailed    int `json:"tenants_failed"`
	CampaignBatches  int `json:"campaign_batches"`
	JourneySteps     int `json:"journey_steps"`
	Deliveries       int `json:"deliveries"`
}

type passCounter struct {
	mu sync.Mutex
	PassStats
	// driven holds campaign batches already advanced this pass, so a
	// failed send waits for the next pass before it is retried.
	driven map[string]bool
}

func (c *passCounter) markDriven(id string) {
	c.mu.Lock()
	if c.driven == nil {
		c.driven = map[string]bool{}
	}
	c.driven[id] = true
	c.mu.Unlock()
}

func (c *passCounter) wasDriven(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.driven[id]
}

func (c *passCounter) add(fn func(s *PassStats)) {
	c.mu.Lock()
	fn(&c.PassStats)
	c.mu.Unlock()
}

func (c *passCounter) snapshot() PassStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.PassStats
}

var (
	activeBatchStatuses    = []domain.BatchStatus{domain.BatchQueued, domain.BatchProcessing}
	advanceableCBStatuses  = []domain.BatchStatus{domain.BatchProcessing, domain.BatchPaused}
	journeyActiveStatuses  = []domain.JourneyStatus{domain.JourneyActive}
	journeySettledStatuses = map[domain.JourneyStatus]bool{
		domain.JourneyCompleted: true, domain.JourneyExited: true,
	}
)

// ProcessPendingBatches runs one pass. It first processes the pending
// tenants of up to limit queued or processing multi-tenant batches, then
// advances up to limit campaign batches that have work due, least recently
// advanced first.
//
// Per-tenant and per-journey failures are recorded as statuses. An error
// is returned only when the pass could not continue, typically because
// persistence is unavailable; the batch is left as last persisted.
func (p *Processor) ProcessPendingBatches(ctx context.Context, limit int) (PassStats, error) {
	var stats passCounter

	batches, err := p.repo.ListMultiTenantBatches(ctx, activeBatchStatuses, repository.Page{})
	if err != nil {
		return stats.snapshot(), fmt.Errorf("list pending batches: %w", err)
	}
	sort.SliceStable(batches, func(i, j int) bool {
		if batches[i].Options.Priority != batches[j].Options.Priority {
			return batches[i].Options.Priority > batches[j].Options.Priority
		}
		return batches[i].CreatedAt.Before(batches[j].CreatedAt)
	})
	if limit > 0 && len(batches) > limit {
		batches = batches[:limit]
	}

	for _, b := range batches {
		if err := ctx.Err(); err != nil {
			return stats.snapshot(), err
		}
		if err := p.processBatch(ctx, b.ID, &stats); err != nil {
			return stats.snapshot(), fmt.Errorf("batch %s: %w", b.ID, err)
		}
	}

	parents := map[string]*domain.MultiTenantBatch{}
	cbs, err := p.dueCampaignBatches(ctx, parents, &stats)
	if err != nil {
		return stats.snapshot(), err
	}
	if limit > 0 && len(cbs) > limit {
		cbs = cbs[:limit]
	}
	for _, cb := range cbs {
		if err := ctx.Err(); err != nil {
			return stats.snapshot(), err
		}
		if stats.wasDriven(cb.ID) {
			continue
		}
		if err := p.advanceCampaignBatch(ctx, cb.ID, parents, &stats); err != nil {
			return stats.snapshot(), fmt.Errorf("campaign batch %s: %w", cb.ID, err)
		}
	}

	s := stats.snapshot()
	if s.Batches > 0 || s.CampaignBatches > 0 {
		p.log.Info("pass finished", "batches", s.Batches, "completed", s.BatchesCompleted,
			"tenants", s.TenantsProcessed, "tenants_failed", s.TenantsFailed,
			"campaign_batches", s.CampaignBatches, "steps", s.JourneySteps, "deliveries", s.Deliveries)
	}
	return s, nil
}

// processBatch claims one multi-tenant batch and processes its pending
// tenants. Another worker holding the claim is not an error.
func (p *Processor) processBatch(ctx context.Context, id string, stats *passCounter) error {
	ok, err := p.withLock(ctx, batchLockKey(id), func(ctx context.Context) error {
		b, err := p.repo.UpdateMultiTenantBatch(ctx, id, func(b *domain.MultiTenantBatch) error {
			if b.Status == domain.BatchQueued {
				return b.Transition(domain.BatchProcessing, "", p.now())
			}
			if b.Status != domain.BatchProcessing {
				return errHalted
			}
			return nil
		})
		if errors.Is(err, errHalted) {
			return nil
		}
		if err != nil {
			return err
		}
		stats.add(func(s *PassStats) { s.Batches++ })
		log := p.log.With("batch_id", b.ID)

		todo := make([]string, 0, len(b.TenantIDs))
		for _, t := range b.TenantIDs {
			r := b.TenantResults[t]
			switch {
			case r == nil || r.Status == domain.TenantPending:
				todo = append(todo, t)
			case r.Status == domain.TenantProcessing && p.cfg.ResumePolicy == ResumeFail:
				log.Warn("tenant interrupted in an earlier pass, marking failed", "tenant_id", t)
				if _, err := p.repo.UpdateTenantResult(ctx, b.ID, t, func(r *domain.TenantExecutionResult) {
					r.MarkFailed("interrupted", p.now())
				}); err != nil {
					return err
				}
				stats.add(func(s *PassStats) { s.TenantsFailed++ })
			case r.Status == domain.TenantProcessing:
				log.Info("tenant interrupted in an earlier pass, re-running", "tenant_id", t)
				todo = append(todo, t)
			}
		}

		concurrency := p.cfg.TenantConcurrency
		if b.Options.TenantConcurrency > 0 {
			concurrency = b.Options.TenantConcurrency
		}
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(concurrency)
		for _, t := range todo {
			t := t
			g.Go(func() error { return p.processTenant(gctx, b, t, stats) })
		}
		if err := g.Wait(); err != nil {
			return err
		}

		return p.finishBatch(ctx, b.ID, stats)
	})
	if err != nil {
		return err
	}
	if !ok {
		p.log.Debug("batch claimed by another worker", "batch_id", id)
	}
	return nil
}

// finishBatch completes the batch once every tenant is terminal.
func (p *Processor) finishBatch(ctx context.Context, id string, stats *passCounter) error {
	completed := false
	b, err := p.repo.UpdateMultiTenantBatch(ctx, id, func(b *domain.MultiTenantBatch) error {
		completed = false
		if b.Status != domain.BatchProcessing || !b.AllTerminal() {
			return nil
		}
		completed = true
		return b.Transition(domain.BatchCompleted, "", p.now())
	})
	if err != nil {
		return err
	}
	if !completed {
		return nil
	}
	stats.add(func(s *PassStats) { s.BatchesCompleted++ })
	counts := b.Counts()
	p.log.Info("multi-tenant batch completed", "batch_id", b.ID,
		"completed", counts[domain.TenantCompleted], "failed", counts[domain.TenantFailed],
		"skipped", counts[domain.TenantSkipped])
	p.archiveBatch(ctx, b)
	return nil
}

func (p *Processor) archiveBatch(ctx context.Context, b *domain.MultiTenantBatch) {
	if p.archive == nil {
		return
	}
	cbs, err := p.repo.ListCampaignBatches(ctx, b.ID, nil, repository.Page{})
	if err != nil {
		p.log.Warn("archive skipped, campaign batches unavailable", "batch_id", b.ID, "error", err.Error())
		return
	}
	if err := p.archive.ArchiveBatch(ctx, archive.Summary{Batch: b, CampaignBatches: cbs, ArchivedAt: p.now()}); err != nil {
		p.log.Warn("archive failed", "batch_id", b.ID, "error", err.Error())
	}
}

// processTenant checkpoints the tenant as processing, runs it, and records
// the outcome. Only checkpoint failures are returned.
func (p *Processor) processTenant(ctx context.Context, b *domain.MultiTenantBatch, tenantID string, stats *passCounter) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	log := p.log.With("batch_id", b.ID, "tenant_id", tenantID)

	_, err := p.repo.UpdateMultiTenantBatch(ctx, b.ID, func(cur *domain.MultiTenantBatch) error {
		if cur.Status != domain.BatchProcessing {
			return errHalted
		}
		cur.Result(tenantID).MarkProcessing(p.now())
		cur.UpdatedAt = p.now()
		return nil
	})
	if errors.Is(err, errHalted) {
		log.Info("batch halted, tenant left pending")
		return nil
	}
	if err != nil {
		return fmt.Errorf("checkpoint tenant %s: %w", tenantID, err)
	}

	out, runErr := p.runTenant(ctx, b, tenantID, stats)
	if ctx.Err() != nil {
		// Shutdown or a sibling's fatal error; the next pass resumes it.
		return ctx.Err()
	}
	if errors.Is(runErr, ErrBusy) {
		log.Warn("campaign batch busy, tenant resumes next pass")
		return nil
	}

	_, err = p.repo.UpdateTenantResult(ctx, b.ID, tenantID, func(r *domain.TenantExecutionResult) {
		out.apply(r)
		if runErr != nil {
			r.MarkFailed(runErr.Error(), p.now())
			return
		}
		r.MarkCompleted(p.now())
	})
	if err != nil {
		return fmt.Errorf("record tenant %s: %w", tenantID, err)
	}

	if runErr != nil {
		log.Error("tenant failed", "error", runErr.Error())
		stats.add(func(s *PassStats) { s.TenantsProcessed++; s.TenantsFailed++ })
		return nil
	}
	log.Info("tenant processed", "campaign_id", out.campaignID, "recipients", out.total,
		"completed", out.completed, "failed", out.failed, "active", out.active)
	stats.add(func(s *PassStats) { s.TenantsProcessed++ })
	return nil
}

type tenantOutcome struct {
	campaignID      string
	campaignBatchID string
	total           int
	completed       int
	failed          int
	active          int
}

func outcomeOf(cb *domain.CampaignBatch) tenantOutcome {
	return tenantOutcome{
		campaignID:      cb.CampaignID,
		campaignBatchID: cb.ID,
		total:           cb.TotalRecipients,
		completed:       cb.SuccessfulRecipients,
		failed:          cb.FailedRecipients,
		active:          cb.Remaining(),
	}
}

func (o tenantOutcome) apply(r *domain.TenantExecutionResult) {
	if o.campaignID != "" {
		r.CampaignID = o.campaignID
		r.CampaignBatchID = o.campaignBatchID
	}
	r.RecipientCount = o.total
	r.CompletedCount = o.completed
	r.FailedCount = o.failed
	r.ActiveCount = o.active
}

// runTenant materializes the tenant's campaign, populates its campaign
// batch and drives its journeys as far as they go now. The tenant scope is
// an explicit value so concurrent tenants cannot observe each other.
func (p *Processor) runTenant(ctx context.Context, b *domain.MultiTenantBatch, tenantID string, stats *passCounter) (tenantOutcome, error) {
	scope, err := tenant.Resolve(ctx, p.directory, tenantID)
	if err != nil {
		return tenantOutcome{}, err
	}

	campaign, err := p.repo.GetCampaign(ctx, domain.TenantCampaignID(b.ID, tenantID))
	switch {
	case errors.Is(err, repository.ErrNotFound):
		campaign = b.CampaignTemplate.Bind(tenantID, b.ID, p.now())
		if err := p.repo.SaveCampaign(ctx, campaign); err != nil {
			return tenantOutcome{}, fmt.Errorf("save campaign: %w", err)
		}
	case err != nil:
		return tenantOutcome{}, fmt.Errorf("load campaign: %w", err)
	}
	out := tenantOutcome{campaignID: campaign.ID, campaignBatchID: domain.CampaignBatchID(campaign.ID)}

	var cb *domain.CampaignBatch
	ok, err := p.withLock(ctx, campaignBatchLockKey(out.campaignBatchID), func(ctx context.Context) error {
		var err error
		cb, err = p.populateCampaignBatch(ctx, scope, b, campaign)
		if err != nil {
			return err
		}
		if cb.Status != domain.BatchProcessing {
			return nil
		}
		return p.driveCampaignBatch(ctx, scope, campaign, cb, stats)
	})
	if cb != nil {
		out = outcomeOf(cb)
	}
	if err != nil {
		return out, err
	}
	if !ok {
		return out, ErrBusy
	}
	if cb.Status == domain.BatchFailed {
		return out, fmt.Errorf("campaign batch failed: %s", cb.LastError)
	}
	return out, nil
}

// populateCampaignBatch creates the tenant's campaign batch and one journey
// per recipient. A batch that already got past population is returned as is.
func (p *Processor) populateCampaignBatch(ctx context.Context, scope tenant.Scope, b *domain.MultiTenantBatch, campaign *domain.WorkflowCampaign) (*domain.CampaignBatch, error) {
	cb, err := p.repo.GetCampaignBatch(ctx, domain.CampaignBatchID(campaign.ID))
	switch {
	case err == nil && cb.Status != domain.BatchCreated && cb.Status != domain.BatchValidating:
		return cb, nil
	case errors.Is(err, repository.ErrNotFound):
		cb = domain.NewCampaignBatch(scope.TenantID, campaign.ID, b.ID, campaign.Settings.RetryBudget(), p.now())
	case err != nil:
		return nil, fmt.Errorf("load campaign batch: %w", err)
	}
	if err := cb.Transition(domain.BatchValidating, p.now()); err != nil {
		return nil, err
	}

	first, ok := campaign.FirstStage()
	if !ok {
		cb.RecordError("campaign has no stages", p.now())
		return cb, p.repo.SaveCampaignBatch(ctx, cb)
	}
	var notBefore *time.Time
	if first.WaitConfig != nil {
		at, err := nextEligible(p.now(), first)
		if err != nil {
			cb.RecordError(err.Error(), p.now())
			return cb, p.repo.SaveCampaignBatch(ctx, cb)
		}
		notBefore = &at
	}

	for offset := 0; ; offset += p.cfg.RecipientPageSize {
		recipients, err := p.recipients.ListRecipients(ctx, scope, campaign.SegmentCriteria,
			crm.Page{Limit: p.cfg.RecipientPageSize, Offset: offset})
		if err != nil {
			// A tenant whose data store is unreachable is batch-fatal for
			// its campaign batch only.
			msg := fmt.Sprintf("fetch recipients: %v", err)
			cb.RecordError(msg, p.now())
			if serr := p.repo.SaveCampaignBatch(ctx, cb); serr != nil {
				return nil, serr
			}
			return cb, nil
		}
		for _, r := range recipients {
			id, err := p.ensureJourney(ctx, campaign, cb, r, first.ID, notBefore)
			if err != nil {
				return nil, err
			}
			cb.AddRecipients(id)
		}
		if len(recipients) < p.cfg.RecipientPageSize {
			break
		}
	}

	now := p.now()
	for _, to := range []domain.BatchStatus{domain.BatchQueued, domain.BatchProcessing} {
		if err := cb.Transition(to, now); err != nil {
			return nil, err
		}
	}
	if cb.TotalRecipients == 0 {
		if err := cb.UpdateRecipientCounts(0, 0, now); err != nil {
			return nil, err
		}
	}
	if err := p.repo.SaveCampaignBatch(ctx, cb); err != nil {
		return nil, fmt.Errorf("save campaign batch: %w", err)
	}
	return cb, nil
}

// ensureJourney creates and starts a recipient's journey unless an earlier,
// interrupted run already did.
func (p *Processor) ensureJourney(ctx context.Context, campaign *domain.WorkflowCampaign, cb *domain.CampaignBatch, r crm.Recipient, firstStageID string, notBefore *time.Time) (string, error) {
	id := domain.JourneyID(cb.ID, r.ID)
	if _, err := p.repo.GetJourney(ctx, id); err == nil {
		return id, nil
	} else if !errors.Is(err, repository.ErrNotFound) {
		return "", fmt.Errorf("load journey: %w", err)
	}

	now := p.now()
	j := domain.NewJourney(cb.TenantID, cb.ID, campaign.ID, r.ID, r.Data, now)
	j.JourneyData["campaign_id"] = campaign.ID
	if err := j.Start(firstStageID, now); err != nil {
		return "", err
	}
	j.NotBefore = notBefore
	if err := p.repo.SaveJourney(ctx, j); err != nil {
		return "", fmt.Errorf("save journey: %w", err)
	}
	return id, nil
}

// dueCampaignBatches lists the campaign batches that need a visit: a
// journey is ready, or the batch has to follow its parent's pause, resume
// or cancellation. Batches whose journeys all wait are left out so they
// cannot crowd out ready ones.
func (p *Processor) dueCampaignBatches(ctx context.Context, parents map[string]*domain.MultiTenantBatch, stats *passCounter) ([]*domain.CampaignBatch, error) {
	all, err := p.repo.ListCampaignBatches(ctx, "", advanceableCBStatuses, repository.Page{})
	if err != nil {
		return nil, fmt.Errorf("list campaign batches: %w", err)
	}
	now := p.now()
	var due []*domain.CampaignBatch
	for _, cb := range all {
		if stats.wasDriven(cb.ID) {
			continue
		}
		parent, err := p.parentOf(ctx, cb, parents)
		if err != nil {
			return nil, err
		}
		var visit bool
		switch parent.Status {
		case domain.BatchPaused:
			visit = cb.Status == domain.BatchProcessing
		case domain.BatchCancelled, domain.BatchFailed:
			visit = true
		default:
			visit = cb.Status == domain.BatchPaused || cb.Due(now)
		}
		if visit {
			due = append(due, cb)
		}
	}
	sort.SliceStable(due, func(i, j int) bool {
		a, b := due[i].LastAdvancedAt, due[j].LastAdvancedAt
		if (a == nil) != (b == nil) {
			return a == nil
		}
		if a != nil && !a.Equal(*b) {
			return a.Before(*b)
		}
		return due[i].ID < due[j].ID
	})
	return due, nil
}

func (p *Processor) parentOf(ctx context.Context, cb *domain.CampaignBatch, parents map[string]*domain.MultiTenantBatch) (*domain.MultiTenantBatch, error) {
	if parent, ok := parents[cb.MultiTenantBatchID]; ok {
		return parent, nil
	}
	parent, err := p.repo.GetMultiTenantBatch(ctx, cb.MultiTenantBatchID)
	if err != nil {
		return nil, fmt.Errorf("load parent batch: %w", err)
	}
	parents[cb.MultiTenantBatchID] = parent
	return parent, nil
}

// advanceCampaignBatch continues a running campaign batch, following its
// parent's pause or cancellation.
func (p *Processor) advanceCampaignBatch(ctx context.Context, id string, parents map[string]*domain.MultiTenantBatch, stats *passCounter) error {
	ok, err := p.withLock(ctx, campaignBatchLockKey(id), func(ctx context.Context) error {
		cb, err := p.repo.GetCampaignBatch(ctx, id)
		if err != nil {
			return err
		}
		parent, err := p.parentOf(ctx, cb, parents)
		if err != nil {
			return err
		}

		now := p.now()
		switch parent.Status {
		case domain.BatchPaused:
			if cb.Status == domain.BatchProcessing {
				if err := cb.Transition(domain.BatchPaused, now); err != nil {
					return err
				}
				return p.repo.SaveCampaignBatch(ctx, cb)
			}
			return nil
		case domain.BatchCancelled, domain.BatchFailed:
			return p.cancelCampaignBatch(ctx, cb, "batch "+string(parent.Status))
		}
		if cb.Status == domain.BatchPaused {
			if err := cb.Transition(domain.BatchProcessing, now); err != nil {
				return err
			}
		}
		if cb.Status != domain.BatchProcessing {
			return nil
		}

		campaign, err := p.repo.GetCampaign(ctx, cb.CampaignID)
		if err != nil {
			return fmt.Errorf("load campaign: %w", err)
		}
		scope, err := tenant.Resolve(ctx, p.directory, cb.TenantID)
		if err != nil {
			// The tenant vanished from the directory; its journeys cannot run.
			cb.RecordError(err.Error(), now)
			return p.repo.SaveCampaignBatch(ctx, cb)
		}
		stats.add(func(s *PassStats) { s.CampaignBatches++ })
		if err := p.driveCampaignBatch(ctx, scope, campaign, cb, stats); err != nil {
			return err
		}

		_, err = p.repo.UpdateTenantResult(ctx, cb.MultiTenantBatchID, cb.TenantID, func(r *domain.TenantExecutionResult) {
			outcomeOf(cb).apply(r)
			r.UpdatedAt = p.now()
		})
		if err != nil {
			return err
		}
		if cb.Status.IsTerminal() && parent.Status.IsTerminal() {
			p.archiveBatch(ctx, parent)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if !ok {
		p.log.Debug("campaign batch claimed by another worker", "campaign_batch_id", id)
	}
	return nil
}

func (p *Processor) cancelCampaignBatch(ctx context.Context, cb *domain.CampaignBatch, reason string) error {
	journeys, err := p.repo.ListJourneys(ctx, cb.ID, []domain.JourneyStatus{domain.JourneyActive, domain.JourneyPaused}, repository.Page{})
	if err != nil {
		return err
	}
	now := p.now()
	for _, j := range journeys {
		if err := j.UpdateStatus(domain.JourneyCanceled, reason, now); err != nil {
			return err
		}
		if err := p.repo.SaveJourney(ctx, j); err != nil {
			return err
		}
	}
	if err := cb.Transition(domain.BatchCancelled, now); err != nil {
		return err
	}
	p.log.Info("campaign batch cancelled", "campaign_batch_id", cb.ID, "tenant_id", cb.TenantID, "journeys", len(journeys))
	return p.repo.SaveCampaignBatch(ctx, cb)
}

// driveCampaignBatch advances every ready journey, then folds journey
// outcomes into the batch counts and saves it.
func (p *Processor) driveCampaignBatch(ctx context.Context, scope tenant.Scope, campaign *domain.WorkflowCampaign, cb *domain.CampaignBatch, stats *passCounter) error {
	stats.markDriven(cb.ID)
	now := p.now()
	cb.LastAdvancedAt = &now
	journeys, err := p.repo.ListJourneys(ctx, cb.ID, journeyActiveStatuses, repository.Page{})
	if err != nil {
		return fmt.Errorf("list journeys: %w", err)
	}
	budget := p.cfg.JourneyBudget
	for _, j := range journeys {
		if budget <= 0 {
			break
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !j.IsReady(p.now()) {
			continue
		}
		budget--
		steps, sent, err := p.advanceJourney(ctx, scope, campaign, j)
		stats.add(func(s *PassStats) { s.JourneySteps += steps; s.Deliveries += sent })
		if err != nil {
			return err
		}
	}
	return p.refreshCounts(ctx, cb)
}

// refreshCounts recomputes the batch's counts from its journeys. Completed
// and exited journeys count as successful, failed and canceled as failed.
func (p *Processor) refreshCounts(ctx context.Context, cb *domain.CampaignBatch) error {
	journeys, err := p.repo.ListJourneys(ctx, cb.ID, nil, repository.Page{})
	if err != nil {
		return fmt.Errorf("list journeys: %w", err)
	}
	successful, failed := 0, 0
	var next *time.Time
	readyNow := false
	for _, j := range journeys {
		if j.Status == domain.JourneyActive {
			switch at := j.ReadyAt(); {
			case at == nil:
				readyNow = true
			case next == nil || at.Before(*next):
				t := *at
				next = &t
			}
		}
		switch {
		case journeySettledStatuses[j.Status]:
			successful++
		case j.Status.IsTerminal():
			failed++
		}
	}
	if readyNow {
		next = nil
	}
	cb.NextReadyAt = next

	ds, df := successful-cb.SuccessfulRecipients, failed-cb.FailedRecipients
	if ds < 0 || df < 0 {
		return fmt.Errorf("campaign batch %s counts moved backwards", cb.ID)
	}
	if ds > 0 || df > 0 {
		if err := cb.UpdateRecipientCounts(ds, df, p.now()); err != nil {
			return err
		}
		if cb.Status == domain.BatchCompleted {
			p.log.Info("campaign batch completed", "campaign_batch_id", cb.ID, "tenant_id", cb.TenantID,
				"successful", cb.SuccessfulRecipients, "failed", cb.FailedRecipients)
		}
	}
	return p.repo.SaveCampaignBatch(ctx, cb)
}
