package domain

import "github.com/ignite/campaign-engine/internal/schedule"

// Channel identifies how a stage reaches the recipient.
type Channel string

const (
	ChannelEmail   Channel = "email"
	ChannelSMS     Channel = "sms"
	ChannelPush    Channel = "push"
	ChannelInApp   Channel = "in_app"
	ChannelWebhook Channel = "webhook"
)

// Valid reports whether c is a known channel.
func (c Channel) Valid() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelPush, ChannelInApp, ChannelWebhook:
		return true
	}
	return false
}

// ConditionType selects how a ConditionalLogic predicate is evaluated.
type ConditionType string

const (
	ConditionAttribute     ConditionType = "attribute"
	ConditionPreviousStage ConditionType = "previous_stage"
	ConditionExpression    ConditionType = "expression"
)

// Comparison operators for attribute conditions.
const (
	OpEquals    = "eq"
	OpNotEquals = "neq"
	OpGreater   = "gt"
	OpGreaterEq = "gte"
	OpLess      = "lt"
	OpLessEq    = "lte"
	OpContains  = "contains"
	OpExists    = "exists"
	OpNotExists = "not_exists"
)

// Stage outcomes a previous_stage condition can expect. The execution
// statuses are reused as-is; the rest are read from the stage's delivery.
const (
	OutcomeSuccess   = "success"
	OutcomeFailure   = "failure"
	OutcomeSkipped   = "skipped"
	OutcomeSent      = "sent"
	OutcomeDelivered = "delivered"
	OutcomeOpened    = "opened"
	OutcomeClicked   = "clicked"
)

// ConditionalLogic gates a stage. When it evaluates false the stage is
// skipped; in a conditional workflow OnFalseStageID redirects the journey.
type ConditionalLogic struct {
	Type            ConditionType `json:"type"`
	Attribute       string        `json:"attribute,omitempty"`
	Operator        string        `json:"operator,omitempty"`
	Value           interface{}   `json:"value,omitempty"`
	PreviousStageID string        `json:"previous_stage_id,omitempty"`
	ExpectedOutcome string        `json:"expected_outcome,omitempty"`
	Expression      string        `json:"expression,omitempty"`
	OnFalseStageID  string        `json:"on_false_stage_id,omitempty"`
}

// StageDefinition is one immutable step of a workflow.
type StageDefinition struct {
	ID               string                 `json:"id"`
	Name             string                 `json:"name,omitempty"`
	SequenceOrder    int                    `json:"sequence_order"`
	Channel          Channel                `json:"channel"`
	ContentRef       string                 `json:"content_ref,omitempty"`
	Subject          string                 `json:"subject,omitempty"`
	WaitConfig       *schedule.WaitConfig   `json:"wait_config,omitempty"`
	TimeWindow       *schedule.TimeWindow   `json:"time_window,omitempty"`
	ConditionalLogic *ConditionalLogic      `json:"conditional_logic,omitempty"`
	Settings         map[string]interface{} `json:"settings,omitempty"`
}

// Window returns the stage's sending window, defaulting to business hours.
func (s StageDefinition) Window() schedule.TimeWindow {
	if s.TimeWindow == nil {
		return schedule.DefaultTimeWindow()
	}
	return s.TimeWindow.OrDefault()
}

// Setting returns a string-valued channel setting.
func (s StageDefinition) Setting(key string) string {
	v, _ := s.Settings[key].(string)
	return v
}
