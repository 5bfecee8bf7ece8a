package domain

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// WorkflowType selects the next-stage resolution policy.
type WorkflowType string

const (
	WorkflowSequential  WorkflowType = "sequential"
	WorkflowParallel    WorkflowType = "parallel"
	WorkflowConditional WorkflowType = "conditional"
	WorkflowCustom      WorkflowType = "custom"
)

// DefaultMaxRetries is the delivery retry budget when none is configured.
const DefaultMaxRetries = 3

// WorkflowSettings are the workflow-level knobs.
type WorkflowSettings struct {
	MaxRetries   int  `json:"max_retries"`
	AutoContinue bool `json:"auto_continue"`
	// ConfirmationTimeoutMinutes > 0 keeps a stage open after the transport
	// accepts a message until a delivery confirmation arrives or it elapses.
	ConfirmationTimeoutMinutes int `json:"confirmation_timeout_minutes,omitempty"`
}

// RetryBudget returns MaxRetries, falling back to DefaultMaxRetries.
func (s WorkflowSettings) RetryBudget() int {
	if s.MaxRetries <= 0 {
		return DefaultMaxRetries
	}
	return s.MaxRetries
}

// ConfirmationTimeout returns the delivery confirmation wait.
func (s WorkflowSettings) ConfirmationTimeout() time.Duration {
	return time.Duration(s.ConfirmationTimeoutMinutes) * time.Minute
}

// WorkflowCampaign is an ordered set of stages plus workflow settings. A
// campaign with an empty TenantID is a template shared across tenants.
type WorkflowCampaign struct {
	ID              string                 `json:"id"`
	TenantID        string                 `json:"tenant_id,omitempty"`
	BatchID         string                 `json:"batch_id,omitempty"`
	TemplateID      string                 `json:"template_id,omitempty"`
	Name            string                 `json:"name"`
	Description     string                 `json:"description,omitempty"`
	WorkflowType    WorkflowType           `json:"workflow_type"`
	Stages          []StageDefinition      `json:"stages"`
	Settings        WorkflowSettings       `json:"settings"`
	SegmentCriteria map[string]interface{} `json:"segment_criteria,omitempty"`
	Analytics       map[string]interface{} `json:"analytics,omitempty"`
	ABTest          map[string]interface{} `json:"ab_test,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
	UpdatedAt       time.Time              `json:"updated_at"`
}

// SortStages orders stages by sequence order. Ties keep their input order
// so validation can still report them.
func (w *WorkflowCampaign) SortStages() {
	sort.SliceStable(w.Stages, func(i, j int) bool {
		return w.Stages[i].SequenceOrder < w.Stages[j].SequenceOrder
	})
}

// Stage returns the stage with the given id.
func (w *WorkflowCampaign) Stage(id string) (*StageDefinition, bool) {
	for i := range w.Stages {
		if w.Stages[i].ID == id {
			return &w.Stages[i], true
		}
	}
	return nil, false
}

// FirstStage returns the stage with the lowest sequence order.
func (w *WorkflowCampaign) FirstStage() (*StageDefinition, bool) {
	var first *StageDefinition
	for i := range w.Stages {
		if first == nil || w.Stages[i].SequenceOrder < first.SequenceOrder {
			first = &w.Stages[i]
		}
	}
	return first, first != nil
}

// NextStage returns the stage following currentStageID in sequence order.
// ok is false when the journey has nothing left to run.
func (w *WorkflowCampaign) NextStage(currentStageID string) (*StageDefinition, bool, error) {
	return w.ResolveNext(currentStageID, true)
}

// ResolveNext picks the successor of currentStageID. conditionPassed is the
// outcome of the current stage's ConditionalLogic (true when it has none).
//
// sequential and parallel workflows advance by sequence order. conditional
// workflows do the same unless the condition failed and names an
// OnFalseStageID. custom workflows have no resolver.
func (w *WorkflowCampaign) ResolveNext(currentStageID string, conditionPassed bool) (*StageDefinition, bool, error) {
	current, ok := w.Stage(currentStageID)
	if !ok {
		return nil, false, fmt.Errorf("%w: %s", ErrUnknownStage, currentStageID)
	}

	switch w.workflowType() {
	case WorkflowSequential, WorkflowParallel:
	case WorkflowConditional:
		if !conditionPassed && current.ConditionalLogic != nil && current.ConditionalLogic.OnFalseStageID != "" {
			target, ok := w.Stage(current.ConditionalLogic.OnFalseStageID)
			if !ok {
				return nil, false, fmt.Errorf("%w: %s", ErrUnknownStage, current.ConditionalLogic.OnFalseStageID)
			}
			return target, true, nil
		}
	default:
		return nil, false, fmt.Errorf("%w: %s", ErrUnsupportedWorkflow, w.WorkflowType)
	}

	var next *StageDefinition
	for i := range w.Stages {
		s := &w.Stages[i]
		if s.SequenceOrder <= current.SequenceOrder {
			continue
		}
		if next == nil || s.SequenceOrder < next.SequenceOrder {
			next = s
		}
	}
	return next, next != nil, nil
}

func (w *WorkflowCampaign) workflowType() WorkflowType {
	if w.WorkflowType == "" {
		return WorkflowSequential
	}
	return w.WorkflowType
}

// Validate reports every structural problem with the workflow.
func (w *WorkflowCampaign) Validate() ValidationErrors {
	var errs ValidationErrors

	if w.Name == "" {
		errs.add("name", "name is required")
	}
	switch w.workflowType() {
	case WorkflowSequential, WorkflowParallel, WorkflowConditional:
	case WorkflowCustom:
		errs.add("workflow_type", "custom workflows have no next-stage resolver")
	default:
		errs.add("workflow_type", "unknown workflow type %q", w.WorkflowType)
	}
	if w.Settings.MaxRetries < 0 {
		errs.add("settings.max_retries", "must not be negative")
	}
	if len(w.Stages) == 0 {
		errs.add("stages", "at least one stage is required")
		return errs
	}

	ids := make(map[string]int, len(w.Stages))
	orders := make(map[int]string, len(w.Stages))
	for i, s := range w.Stages {
		field := fmt.Sprintf("stages[%d]", i)
		if s.ID == "" {
			errs.add(field+".id", "stage id is required")
		} else if _, dup := ids[s.ID]; dup {
			errs.add(field+".id", "duplicate stage id %q", s.ID)
		} else {
			ids[s.ID] = s.SequenceOrder
		}
		if s.SequenceOrder < 0 {
			errs.add(field+".sequence_order", "must not be negative")
		}
		if other, dup := orders[s.SequenceOrder]; dup {
			errs.add(field+".sequence_order", "sequence order %d already used by stage %q", s.SequenceOrder, other)
		} else {
			orders[s.SequenceOrder] = s.ID
		}
		if !s.Channel.Valid() {
			errs.add(field+".channel", "unknown channel %q", s.Channel)
		}
		switch s.Channel {
		case ChannelEmail:
			if s.ContentRef == "" {
				errs.add(field+".content_ref", "email stages require a content reference")
			}
		case ChannelWebhook:
			if s.ContentRef == "" && s.Setting("url") == "" {
				errs.add(field+".settings.url", "webhook stages require a url setting or content reference")
			}
		}
		if s.WaitConfig != nil {
			if err := s.WaitConfig.Validate(); err != nil {
				errs.add(field+".wait_config", "%v", err)
			}
		}
		if s.TimeWindow != nil && !s.TimeWindow.IsZero() {
			if err := s.TimeWindow.Validate(); err != nil {
				errs.add(field+".time_window", "%v", err)
			}
		}
	}

	for i, s := range w.Stages {
		c := s.ConditionalLogic
		if c == nil {
			continue
		}
		field := fmt.Sprintf("stages[%d].conditional_logic", i)
		switch c.Type {
		case ConditionAttribute:
			if c.Attribute == "" {
				errs.add(field+".attribute", "attribute conditions require an attribute")
			}
			if !validOperator(c.Operator) {
				errs.add(field+".operator", "unknown operator %q", c.Operator)
			}
		case ConditionPreviousStage:
			order, ok := ids[c.PreviousStageID]
			if c.PreviousStageID == "" || !ok {
				errs.add(field+".previous_stage_id", "unknown stage %q", c.PreviousStageID)
			} else if order >= s.SequenceOrder {
				errs.add(field+".previous_stage_id", "stage %q does not precede %q", c.PreviousStageID, s.ID)
			}
			if !validOutcome(c.ExpectedOutcome) {
				errs.add(field+".expected_outcome", "unknown outcome %q", c.ExpectedOutcome)
			}
		case ConditionExpression:
			if c.Expression == "" {
				errs.add(field+".expression", "expression conditions require an expression")
			}
		default:
			errs.add(field+".type", "unknown condition type %q", c.Type)
		}
		if c.OnFalseStageID != "" {
			order, ok := ids[c.OnFalseStageID]
			if !ok {
				errs.add(field+".on_false_stage_id", "unknown stage %q", c.OnFalseStageID)
			} else if order <= s.SequenceOrder {
				errs.add(field+".on_false_stage_id", "stage %q does not follow %q", c.OnFalseStageID, s.ID)
			}
		}
	}
	return errs
}

func validOperator(op string) bool {
	switch op {
	case OpEquals, OpNotEquals, OpGreater, OpGreaterEq, OpLess, OpLessEq, OpContains, OpExists, OpNotExists:
		return true
	}
	return false
}

func validOutcome(o string) bool {
	switch o {
	case OutcomeSuccess, OutcomeFailure, OutcomeSkipped, OutcomeSent, OutcomeDelivered, OutcomeOpened, OutcomeClicked:
		return true
	}
	return false
}

// workflowNamespace scopes deterministic tenant campaign ids.
var workflowNamespace = uuid.MustParse("6a1c1f0e-3f43-4b0e-9d0b-6f2f3f0c9a51")

// TenantCampaignID is the id of the campaign materialised for one tenant of
// one multi-tenant batch. It is stable so a re-run finds the same campaign.
func TenantCampaignID(batchID, tenantID string) string {
	return uuid.NewSHA1(workflowNamespace, []byte(batchID+"/"+tenantID)).String()
}

// Bind materialises a tenant-specific copy of a template.
func (w *WorkflowCampaign) Bind(tenantID, batchID string, now time.Time) *WorkflowCampaign {
	bound := *w
	bound.ID = TenantCampaignID(batchID, tenantID)
	bound.TenantID = tenantID
	bound.BatchID = batchID
	bound.TemplateID = w.ID
	bound.Stages = make([]StageDefinition, len(w.Stages))
	copy(bound.Stages, w.Stages)
	bound.SortStages()
	bound.SegmentCriteria = cloneMap(w.SegmentCriteria)
	bound.CreatedAt = now
	bound.UpdatedAt = now
	return &bound
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
