package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JourneyStatus enumerates the lifecycle states of a recipient journey.
type JourneyStatus string

const (
	JourneyActive    JourneyStatus = "active"
	JourneyCompleted JourneyStatus = "completed"
	JourneyFailed    JourneyStatus = "failed"
	JourneyCanceled  JourneyStatus = "canceled"
	JourneyPaused    JourneyStatus = "paused"
	JourneyExited    JourneyStatus = "exited"
)

// IsTerminal returns true for statuses a journey never leaves.
func (s JourneyStatus) IsTerminal() bool {
	return s == JourneyCompleted || s == JourneyFailed || s == JourneyCanceled || s == JourneyExited
}

// ExecutionStatus enumerates stage execution outcomes.
type ExecutionStatus string

const (
	ExecutionPending ExecutionStatus = "pending"
	ExecutionSuccess ExecutionStatus = "success"
	ExecutionFailure ExecutionStatus = "failure"
	ExecutionSkipped ExecutionStatus = "skipped"
)

// StageExecution is one attempt of one stage for one journey.
type StageExecution struct {
	ID          string                 `json:"id"`
	JourneyID   string                 `json:"journey_id"`
	StageID     string                 `json:"stage_id"`
	Status      ExecutionStatus        `json:"status"`
	StartedAt   time.Time              `json:"started_at"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	NextStageID string                 `json:"next_stage_id,omitempty"`
	WaitUntil   *time.Time             `json:"wait_until,omitempty"`
	MessageIDs  []string               `json:"message_ids,omitempty"`
	OutputData  map[string]interface{} `json:"output_data,omitempty"`
	Error       string                 `json:"error,omitempty"`
}

// IsOpen reports whether the execution has not completed yet.
func (e *StageExecution) IsOpen() bool { return e.CompletedAt == nil }

// ExecutionOutcome is what the executor learned when a stage finished.
type ExecutionOutcome struct {
	Status      ExecutionStatus
	NextStageID string
	WaitUntil   *time.Time
	Output      map[string]interface{}
	Error       string
	CompletedAt time.Time
}

// NewStageExecution opens an execution of stageID for a journey.
func NewStageExecution(journeyID, stageID string, attempt int, at time.Time) StageExecution {
	return StageExecution{
		ID:        ExecutionID(journeyID, stageID, attempt),
		JourneyID: journeyID,
		StageID:   stageID,
		Status:    ExecutionPending,
		StartedAt: at,
	}
}

var executionNamespace = uuid.MustParse("0d8b1c5e-77b4-4f5c-8f0a-2b8d8c1b7e33")

// ExecutionID is stable per (journey, stage, attempt).
func ExecutionID(journeyID, stageID string, attempt int) string {
	return uuid.NewSHA1(executionNamespace, []byte(fmt.Sprintf("%s/%s/%d", journeyID, stageID, attempt))).String()
}

// RecipientJourney tracks one recipient's progress through a workflow.
type RecipientJourney struct {
	ID                string                 `json:"id"`
	TenantID          string                 `json:"tenant_id"`
	BatchID           string                 `json:"batch_id"`
	WorkflowID        string                 `json:"workflow_id"`
	RecipientID       string                 `json:"recipient_id"`
	Status            JourneyStatus          `json:"status"`
	CurrentStageID    string                 `json:"current_stage_id,omitempty"`
	CompletedStageIDs []string               `json:"completed_stage_ids,omitempty"`
	ErrorStageID      string                 `json:"error_stage_id,omitempty"`
	StageExecutions   []StageExecution       `json:"stage_executions,omitempty"`
	RecipientData     map[string]interface{} `json:"recipient_data,omitempty"`
	JourneyData       map[string]interface{} `json:"journey_data,omitempty"`
	NotBefore         *time.Time             `json:"not_before,omitempty"`
	StartedAt         *time.Time             `json:"started_at,omitempty"`
	CompletedAt       *time.Time             `json:"completed_at,omitempty"`
	CreatedAt         time.Time              `json:"created_at"`
	UpdatedAt         time.Time              `json:"updated_at"`
}

var journeyNamespace = uuid.MustParse("b8f3e0a2-5c1d-4e7a-9a63-1e4f7d2c8b90")

// JourneyID is stable per (campaign batch, recipient) so re-populating a
// batch after a crash never creates a second journey.
func JourneyID(batchID, recipientID string) string {
	return uuid.NewSHA1(journeyNamespace, []byte(batchID+"/"+recipientID)).String()
}

// NewJourney creates an unstarted journey for a recipient.
func NewJourney(tenantID, batchID, workflowID, recipientID string, data map[string]interface{}, at time.Time) *RecipientJourney {
	return &RecipientJourney{
		ID:            JourneyID(batchID, recipientID),
		TenantID:      tenantID,
		BatchID:       batchID,
		WorkflowID:    workflowID,
		RecipientID:   recipientID,
		Status:        JourneyActive,
		RecipientData: data,
		JourneyData:   map[string]interface{}{},
		CreatedAt:     at,
		UpdatedAt:     at,
	}
}

// IsTerminal returns true if the journey is in a final state.
func (j *RecipientJourney) IsTerminal() bool { return j.Status.IsTerminal() }

// Start positions the journey on its first stage.
func (j *RecipientJourney) Start(stageID string, at time.Time) error {
	if len(j.StageExecutions) > 0 {
		return ErrJourneyStarted
	}
	if j.IsTerminal() {
		return ErrJourneyTerminal
	}
	j.StartedAt = &at
	j.CurrentStageID = stageID
	j.Status = JourneyActive
	j.UpdatedAt = at
	return nil
}

// AddStageExecution appends an execution and moves the stage pointers.
// A completed failure fails the journey; a completed execution with a next
// stage advances it; any other completed execution completes it.
func (j *RecipientJourney) AddStageExecution(exec StageExecution) error {
	if j.IsTerminal() {
		return ErrJourneyTerminal
	}
	if open := j.OpenExecution(); open != nil {
		return ErrExecutionOpen
	}
	j.StageExecutions = append(j.StageExecutions, exec)
	j.CurrentStageID = exec.StageID
	if exec.CompletedAt != nil {
		j.applyCompletion(&j.StageExecutions[len(j.StageExecutions)-1])
	}
	return nil
}

// CompleteOpenExecution closes the single open execution with outcome and
// applies the same pointer rules as AddStageExecution.
func (j *RecipientJourney) CompleteOpenExecution(outcome ExecutionOutcome) (*StageExecution, error) {
	exec := j.OpenExecution()
	if exec == nil {
		return nil, ErrNoOpenExecution
	}
	at := outcome.CompletedAt
	exec.CompletedAt = &at
	exec.Status = outcome.Status
	exec.NextStageID = outcome.NextStageID
	exec.WaitUntil = outcome.WaitUntil
	exec.Error = outcome.Error
	if len(outcome.Output) > 0 {
		if exec.OutputData == nil {
			exec.OutputData = map[string]interface{}{}
		}
		for k, v := range outcome.Output {
			exec.OutputData[k] = v
		}
	}
	if j.Status == JourneyActive || j.Status == JourneyPaused {
		j.applyCompletion(exec)
	}
	return exec, nil
}

func (j *RecipientJourney) applyCompletion(exec *StageExecution) {
	j.markCompleted(exec.StageID)
	j.UpdatedAt = *exec.CompletedAt
	switch {
	case exec.Status == ExecutionFailure:
		j.ErrorStageID = exec.StageID
		j.CurrentStageID = exec.StageID
		j.Status = JourneyFailed
		j.CompletedAt = exec.CompletedAt
	case exec.NextStageID != "":
		j.CurrentStageID = exec.NextStageID
	default:
		j.Status = JourneyCompleted
		j.CompletedAt = exec.CompletedAt
	}
}

func (j *RecipientJourney) markCompleted(stageID string) {
	for _, id := range j.CompletedStageIDs {
		if id == stageID {
			return
		}
	}
	j.CompletedStageIDs = append(j.CompletedStageIDs, stageID)
}

// HasCompleted reports whether stageID is in the completed set.
func (j *RecipientJourney) HasCompleted(stageID string) bool {
	for _, id := range j.CompletedStageIDs {
		if id == stageID {
			return true
		}
	}
	return false
}

// UpdateStatus overrides the status, recording reason in JourneyData.
func (j *RecipientJourney) UpdateStatus(status JourneyStatus, reason string, at time.Time) error {
	if j.IsTerminal() {
		return fmt.Errorf("%w: %s -> %s", ErrJourneyTerminal, j.Status, status)
	}
	if j.JourneyData == nil {
		j.JourneyData = map[string]interface{}{}
	}
	if reason != "" {
		j.JourneyData["status_reason"] = reason
	}
	j.Status = status
	j.UpdatedAt = at
	if status.IsTerminal() {
		j.CompletedAt = &at
	}
	return nil
}

// OpenExecution returns the execution that has not completed, if any.
func (j *RecipientJourney) OpenExecution() *StageExecution {
	if n := len(j.StageExecutions); n > 0 && j.StageExecutions[n-1].IsOpen() {
		return &j.StageExecutions[n-1]
	}
	return nil
}

// LastExecution returns the most recent execution.
func (j *RecipientJourney) LastExecution() *StageExecution {
	if n := len(j.StageExecutions); n > 0 {
		return &j.StageExecutions[n-1]
	}
	return nil
}

// LatestExecutionFor returns the most recent execution of stageID.
func (j *RecipientJourney) LatestExecutionFor(stageID string) *StageExecution {
	for i := len(j.StageExecutions) - 1; i >= 0; i-- {
		if j.StageExecutions[i].StageID == stageID {
			return &j.StageExecutions[i]
		}
	}
	return nil
}

// AttemptsFor counts executions of stageID.
func (j *RecipientJourney) AttemptsFor(stageID string) int {
	n := 0
	for _, e := range j.StageExecutions {
		if e.StageID == stageID {
			n++
		}
	}
	return n
}

// ReadyAt returns the instant before which the journey may not advance, or
// nil when it may advance now.
func (j *RecipientJourney) ReadyAt() *time.Time {
	if exec := j.LastExecution(); exec != nil {
		if exec.IsOpen() {
			return nil
		}
		return exec.WaitUntil
	}
	return j.NotBefore
}

// IsReady reports whether an active journey may advance at now.
func (j *RecipientJourney) IsReady(now time.Time) bool {
	if j.Status != JourneyActive {
		return false
	}
	at := j.ReadyAt()
	return at == nil || !now.Before(*at)
}

// PersonalizationData merges recipient and journey data, journey data winning.
func (j *RecipientJourney) PersonalizationData() map[string]interface{} {
	out := make(map[string]interface{}, len(j.RecipientData)+len(j.JourneyData))
	for k, v := range j.RecipientData {
		out[k] = v
	}
	for k, v := range j.JourneyData {
		out[k] = v
	}
	return out
}
