package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ignite/campaign-engine/internal/condition"
	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/pkg/logger"
	"github.com/ignite/campaign-engine/internal/repository"
	"github.com/ignite/campaign-engine/internal/schedule"
	"github.com/ignite/campaign-engine/internal/tenant"
	"github.com/ignite/campaign-engine/internal/transport"
)

// stepResult tells advanceJourney whether the journey may take another step
// in this pass.
type stepResult int

const (
	stepContinue stepResult = iota // execution completed; try the next stage
	stepYield                      // waiting on a retry or confirmation
)

func nextEligible(ref time.Time, stage *domain.StageDefinition) (time.Time, error) {
	return schedule.NextEligible(ref, *stage.WaitConfig, stage.Window())
}

// advanceJourney runs ready stages of j until it waits, ends, or uses up
// MaxStepsPerJourney. Stage-level problems are recorded on the journey;
// the returned error means state could not be persisted.
func (p *Processor) advanceJourney(ctx context.Context, scope tenant.Scope, campaign *domain.WorkflowCampaign, j *domain.RecipientJourney) (steps, sent int, err error) {
	log := p.log.With("tenant_id", j.TenantID, "journey_id", j.ID)
	for steps < p.cfg.MaxStepsPerJourney && j.IsReady(p.now()) {
		if j.OpenExecution() == nil {
			attempt := j.AttemptsFor(j.CurrentStageID) + 1
			exec := domain.NewStageExecution(j.ID, j.CurrentStageID, attempt, p.now())
			if err := j.AddStageExecution(exec); err != nil {
				return steps, sent, err
			}
			// The open execution is the checkpoint a resumed pass continues from.
			if err := p.repo.SaveJourney(ctx, j); err != nil {
				return steps, sent, fmt.Errorf("save journey: %w", err)
			}
		}
		steps++

		res, delivered, err := p.runStage(ctx, scope, campaign, j, log)
		sent += delivered
		if err != nil {
			return steps, sent, err
		}
		if res == stepYield {
			break
		}
	}
	return steps, sent, nil
}

// runStage drives the journey's open execution one step.
func (p *Processor) runStage(ctx context.Context, scope tenant.Scope, campaign *domain.WorkflowCampaign, j *domain.RecipientJourney, log *logger.Logger) (stepResult, int, error) {
	exec := j.OpenExecution()
	stage, ok := campaign.Stage(exec.StageID)
	if !ok {
		return p.fail(ctx, j, fmt.Sprintf("stage %s not in campaign", exec.StageID), nil)
	}
	log = log.With("stage_id", stage.ID)

	d, err := p.repo.GetDelivery(ctx, domain.DeliveryID(exec.ID))
	switch {
	case errors.Is(err, repository.ErrNotFound):
		d = nil
	case err != nil:
		return stepYield, 0, fmt.Errorf("load delivery: %w", err)
	}

	// The condition is judged once, before the delivery exists.
	if d == nil && stage.ConditionalLogic != nil {
		passed, err := p.evaluate(ctx, stage, j)
		if err != nil {
			return p.fail(ctx, j, fmt.Sprintf("condition: %v", err), nil)
		}
		if !passed {
			log.Debug("condition false, stage skipped")
			return p.complete(ctx, campaign, j, stage, domain.ExecutionSkipped, false,
				map[string]interface{}{"skipped_reason": "condition_false"})
		}
	}

	if d == nil && p.suppress != nil {
		suppressed, err := p.suppress.IsSuppressed(ctx, j.TenantID, j.RecipientID)
		if err != nil {
			return stepYield, 0, fmt.Errorf("check suppression: %w", err)
		}
		if suppressed {
			log.Debug("recipient suppressed, journey exited")
			return p.exit(ctx, campaign, j, stage, domain.ExecutionSkipped, "recipient suppressed",
				map[string]interface{}{"skipped_reason": "suppressed"})
		}
	}

	if d == nil {
		d = domain.NewMessageDelivery(j, exec, stage.Channel, campaign.Settings.RetryBudget(), p.now())
		if err := p.repo.SaveDelivery(ctx, d); err != nil {
			return stepYield, 0, fmt.Errorf("save delivery: %w", err)
		}
		exec.MessageIDs = append(exec.MessageIDs, d.ID)
		if err := p.repo.SaveJourney(ctx, j); err != nil {
			return stepYield, 0, fmt.Errorf("save journey: %w", err)
		}
	}

	switch {
	case d.Status == domain.DeliverySending:
		// Interrupted mid-send; the attempt counts as failed.
		d, err = p.repo.UpdateDelivery(ctx, d.ID, func(d *domain.MessageDelivery) error {
			if d.Status == domain.DeliverySending {
				d.RecordAttemptFailure("interrupted during send", p.now())
			}
			return nil
		})
		if err != nil {
			return stepYield, 0, err
		}
		if d.Status == domain.DeliveryQueued {
			return p.send(ctx, scope, campaign, j, stage, d, log)
		}
		return p.settle(ctx, campaign, j, stage, d)
	case d.Status == domain.DeliveryQueued:
		return p.send(ctx, scope, campaign, j, stage, d, log)
	default:
		return p.settle(ctx, campaign, j, stage, d)
	}
}

func (p *Processor) evaluate(ctx context.Context, stage *domain.StageDefinition, j *domain.RecipientJourney) (bool, error) {
	in := condition.Input{Journey: j}
	if c := stage.ConditionalLogic; c.Type == domain.ConditionPreviousStage || c.Type == domain.ConditionExpression {
		deliveries, err := p.repo.ListDeliveries(ctx, j.ID)
		if err != nil {
			return false, err
		}
		in.Deliveries = latestByStage(deliveries)
	}
	return p.conditions.Evaluate(stage.ConditionalLogic, in)
}

func latestByStage(ds []*domain.MessageDelivery) map[string]*domain.MessageDelivery {
	out := make(map[string]*domain.MessageDelivery, len(ds))
	for _, d := range ds {
		if cur, ok := out[d.StageID]; !ok || d.CreatedAt.After(cur.CreatedAt) {
			out[d.StageID] = d
		}
	}
	return out
}

// send renders the stage and makes one transport attempt.
func (p *Processor) send(ctx context.Context, scope tenant.Scope, campaign *domain.WorkflowCampaign, j *domain.RecipientJourney, stage *domain.StageDefinition, d *domain.MessageDelivery, log *logger.Logger) (stepResult, int, error) {
	content, err := p.renderer.Render(ctx, scope, *stage, j.PersonalizationData())
	if err != nil {
		if _, uerr := p.repo.UpdateDelivery(ctx, d.ID, func(d *domain.MessageDelivery) error {
			if d.Status.IsTerminal() || d.Status.IsOptOut() {
				return nil
			}
			d.LastError = err.Error()
			return d.Transition(domain.DeliveryFailed, p.now())
		}); uerr != nil {
			return stepYield, 0, uerr
		}
		return p.fail(ctx, j, fmt.Sprintf("render: %v", err), nil)
	}

	d, err = p.repo.UpdateDelivery(ctx, d.ID, func(d *domain.MessageDelivery) error {
		return d.Transition(domain.DeliverySending, p.now())
	})
	if err != nil {
		return stepYield, 0, err
	}

	receipt, sendErr := p.transport.Send(ctx, transport.Message{
		DeliveryID:  d.ID,
		TenantID:    j.TenantID,
		JourneyID:   j.ID,
		StageID:     stage.ID,
		RecipientID: j.RecipientID,
		Channel:     stage.Channel,
		Subject:     content.Subject,
		Body:        content.Body,
		Settings:    stage.Settings,
		Recipient:   j.RecipientData,
	})
	if sendErr != nil && ctx.Err() != nil {
		// Leave the delivery in sending; the next pass counts the attempt.
		return stepYield, 0, ctx.Err()
	}

	if sendErr != nil {
		permanent := transport.IsPermanent(sendErr)
		retry := false
		d, err = p.repo.UpdateDelivery(ctx, d.ID, func(d *domain.MessageDelivery) error {
			if d.Status.IsTerminal() || d.Status.IsOptOut() {
				return nil
			}
			if permanent {
				return d.Reject(sendErr.Error(), p.now())
			}
			retry = d.RecordAttemptFailure(sendErr.Error(), p.now())
			return nil
		})
		if err != nil {
			return stepYield, 0, err
		}
		if retry {
			log.Warn("send failed, retry next pass", "attempt", d.RetryCount, "error", sendErr.Error())
			return stepYield, 0, nil
		}
		log.Error("send failed", "status", string(d.Status), "error", sendErr.Error())
		return p.fail(ctx, j, fmt.Sprintf("delivery %s: %v", d.Status, sendErr), map[string]interface{}{"delivery_id": d.ID})
	}

	d, err = p.repo.UpdateDelivery(ctx, d.ID, func(d *domain.MessageDelivery) error {
		d.ProviderMessageID = receipt.ProviderMessageID
		// A fast provider callback may already have moved it past sent.
		if d.Status == domain.DeliverySending {
			if err := d.Transition(domain.DeliverySent, p.now()); err != nil {
				return err
			}
		}
		if receipt.Status.IsConfirmed() && !d.Status.IsTerminal() && !d.Status.IsConfirmed() {
			return d.Transition(receipt.Status, p.now())
		}
		return nil
	})
	if err != nil {
		return stepYield, 1, err
	}
	log.Debug("message sent", "delivery_id", d.ID, "channel", string(stage.Channel))
	res, _, err := p.settle(ctx, campaign, j, stage, d)
	return res, 1, err
}

// settle completes the execution according to its delivery's status, or
// yields while the delivery awaits confirmation.
func (p *Processor) settle(ctx context.Context, campaign *domain.WorkflowCampaign, j *domain.RecipientJourney, stage *domain.StageDefinition, d *domain.MessageDelivery) (stepResult, int, error) {
	out := map[string]interface{}{"delivery_id": d.ID, "delivery_status": string(d.Status)}
	if d.ProviderMessageID != "" {
		out["provider_message_id"] = d.ProviderMessageID
	}

	switch {
	case d.Status.IsFailure():
		msg := d.LastError
		if msg == "" {
			msg = "delivery " + string(d.Status)
		}
		return p.fail(ctx, j, msg, out)

	case d.Status.IsOptOut():
		return p.exit(ctx, campaign, j, stage, domain.ExecutionSuccess, "recipient "+string(d.Status), out)

	case !d.Status.IsAccepted():
		// Not handed to the transport yet.
		return stepYield, 0, nil
	}

	if timeout := campaign.Settings.ConfirmationTimeout(); timeout > 0 && !d.Status.IsConfirmed() {
		sentAt, _ := d.SentAt()
		if p.now().Before(sentAt.Add(timeout)) {
			return stepYield, 0, nil
		}
		out["confirmation"] = "timeout"
	}
	return p.complete(ctx, campaign, j, stage, domain.ExecutionSuccess, true, out)
}

// complete closes the open execution with a non-failure status and points
// the journey at the next stage, computing its wait.
func (p *Processor) complete(ctx context.Context, campaign *domain.WorkflowCampaign, j *domain.RecipientJourney, stage *domain.StageDefinition, status domain.ExecutionStatus, conditionPassed bool, out map[string]interface{}) (stepResult, int, error) {
	now := p.now()
	next, ok, err := campaign.ResolveNext(stage.ID, conditionPassed)
	if err != nil {
		return p.fail(ctx, j, err.Error(), out)
	}
	outcome := domain.ExecutionOutcome{Status: status, Output: out, CompletedAt: now}
	if ok {
		outcome.NextStageID = next.ID
		if next.WaitConfig != nil {
			at, err := nextEligible(now, next)
			if err != nil {
				return p.fail(ctx, j, fmt.Sprintf("wait for %s: %v", next.ID, err), out)
			}
			outcome.WaitUntil = &at
		}
	}
	if _, err := j.CompleteOpenExecution(outcome); err != nil {
		return stepYield, 0, err
	}
	if err := p.repo.SaveJourney(ctx, j); err != nil {
		return stepYield, 0, fmt.Errorf("save journey: %w", err)
	}
	return stepContinue, 0, nil
}

// exit closes the open execution and takes the journey out of the
// workflow, unless that execution already finished it.
func (p *Processor) exit(ctx context.Context, campaign *domain.WorkflowCampaign, j *domain.RecipientJourney, stage *domain.StageDefinition, status domain.ExecutionStatus, reason string, out map[string]interface{}) (stepResult, int, error) {
	res, n, err := p.complete(ctx, campaign, j, stage, status, true, out)
	if err != nil || j.IsTerminal() {
		return res, n, err
	}
	if err := j.UpdateStatus(domain.JourneyExited, reason, p.now()); err != nil {
		return stepYield, n, err
	}
	return stepYield, n, p.repo.SaveJourney(ctx, j)
}

// fail closes the open execution as a failure, which fails the journey.
func (p *Processor) fail(ctx context.Context, j *domain.RecipientJourney, msg string, out map[string]interface{}) (stepResult, int, error) {
	if _, err := j.CompleteOpenExecution(domain.ExecutionOutcome{
		Status: domain.ExecutionFailure, Error: msg, Output: out, CompletedAt: p.now(),
	}); err != nil {
		return stepYield, 0, err
	}
	if err := p.repo.SaveJourney(ctx, j); err != nil {
		return stepYield, 0, fmt.Errorf("save journey: %w", err)
	}
	p.log.Warn("stage failed", "tenant_id", j.TenantID, "journey_id", j.ID, "stage_id", j.ErrorStageID, "error", msg)
	return stepYield, 0, nil
}
