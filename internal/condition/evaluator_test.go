package condition

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/campaign-engine/internal/domain"
)

var t0 = time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)

func newEvaluator(t *testing.T) *Evaluator {
	t.Helper()
	e, err := NewEvaluator()
	require.NoError(t, err)
	return e
}

func journeyWith(data map[string]interface{}) *domain.RecipientJourney {
	j := domain.NewJourney("t1", "b1", "wf", "r1", data, t0)
	_ = j.Start("welcome", t0)
	return j
}

func TestEvaluate_NilConditionHolds(t *testing.T) {
	ok, err := newEvaluator(t).Evaluate(nil, Input{Journey: journeyWith(nil)})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvaluate_Attribute(t *testing.T) {
	e := newEvaluator(t)
	j := journeyWith(map[string]interface{}{
		"plan":    "pro",
		"age":     float64(42),
		"tags":    []interface{}{"beta", "vip"},
		"address": map[string]interface{}{"country": "DE"},
	})

	cases := []struct {
		name string
		c    domain.ConditionalLogic
		want bool
	}{
		{"eq", domain.ConditionalLogic{Attribute: "plan", Operator: domain.OpEquals, Value: "pro"}, true},
		{"neq", domain.ConditionalLogic{Attribute: "plan", Operator: domain.OpNotEquals, Value: "pro"}, false},
		{"gt int vs float", domain.ConditionalLogic{Attribute: "age", Operator: domain.OpGreater, Value: 40}, true},
		{"lte", domain.ConditionalLogic{Attribute: "age", Operator: domain.OpLessEq, Value: 42}, true},
		{"lt", domain.ConditionalLogic{Attribute: "age", Operator: domain.OpLess, Value: 18}, false},
		{"contains slice", domain.ConditionalLogic{Attribute: "tags", Operator: domain.OpContains, Value: "vip"}, true},
		{"contains string", domain.ConditionalLogic{Attribute: "plan", Operator: domain.OpContains, Value: "r"}, true},
		{"nested path", domain.ConditionalLogic{Attribute: "address.country", Operator: domain.OpEquals, Value: "DE"}, true},
		{"exists", domain.ConditionalLogic{Attribute: "plan", Operator: domain.OpExists}, true},
		{"not exists", domain.ConditionalLogic{Attribute: "phone", Operator: domain.OpNotExists}, true},
		{"missing attribute compares false", domain.ConditionalLogic{Attribute: "phone", Operator: domain.OpEquals, Value: "x"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := tc.c
			c.Type = domain.ConditionAttribute
			got, err := e.Evaluate(&c, Input{Journey: j})
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestEvaluate_AttributeSeesJourneyData(t *testing.T) {
	j := journeyWith(map[string]interface{}{"segment": "a"})
	j.JourneyData["segment"] = "b"
	c := &domain.ConditionalLogic{Type: domain.ConditionAttribute, Attribute: "segment", Operator: domain.OpEquals, Value: "b"}
	ok, err := newEvaluator(t).Evaluate(c, Input{Journey: j})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvaluate_PreviousStage(t *testing.T) {
	e := newEvaluator(t)
	j := journeyWith(nil)
	exec := domain.NewStageExecution(j.ID, "welcome", 1, t0)
	require.NoError(t, j.AddStageExecution(exec))
	_, err := j.CompleteOpenExecution(domain.ExecutionOutcome{Status: domain.ExecutionSuccess, NextStageID: "followup", CompletedAt: t0})
	require.NoError(t, err)

	d := domain.NewMessageDelivery(j, &exec, domain.ChannelEmail, 0, t0)
	require.NoError(t, d.Transition(domain.DeliverySent, t0))
	require.NoError(t, d.Transition(domain.DeliveryOpened, t0))
	in := Input{Journey: j, Deliveries: map[string]*domain.MessageDelivery{"welcome": d}}

	for outcome, want := range map[string]bool{
		domain.OutcomeSuccess:   true,
		domain.OutcomeFailure:   false,
		domain.OutcomeSent:      true,
		domain.OutcomeDelivered: true,
		domain.OutcomeOpened:    true,
		domain.OutcomeClicked:   false,
	} {
		c := &domain.ConditionalLogic{Type: domain.ConditionPreviousStage, PreviousStageID: "welcome", ExpectedOutcome: outcome}
		got, err := e.Evaluate(c, in)
		require.NoError(t, err)
		assert.Equal(t, want, got, outcome)
	}

	never := &domain.ConditionalLogic{Type: domain.ConditionPreviousStage, PreviousStageID: "other", ExpectedOutcome: domain.OutcomeSuccess}
	got, err := e.Evaluate(never, in)
	require.NoError(t, err)
	assert.False(t, got)
}

func TestEvaluate_Expression(t *testing.T) {
	e := newEvaluator(t)
	j := journeyWith(map[string]interface{}{"plan": "pro", "score": 7})
	c := &domain.ConditionalLogic{Type: domain.ConditionExpression, Expression: `recipient.plan == "pro" && journey.current_stage_id == "welcome"`}

	ok, err := e.Evaluate(c, Input{Journey: j})
	require.NoError(t, err)
	assert.True(t, ok)

	// cached program is reused
	ok, err = e.Evaluate(c, Input{Journey: journeyWith(map[string]interface{}{"plan": "free"})})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Len(t, e.prgCache, 1)

	stages := &domain.ConditionalLogic{Type: domain.ConditionExpression, Expression: `!("welcome" in stages)`}
	ok, err = e.Evaluate(stages, Input{Journey: j})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvaluate_ExpressionErrors(t *testing.T) {
	e := newEvaluator(t)
	j := journeyWith(nil)

	_, err := e.Evaluate(&domain.ConditionalLogic{Type: domain.ConditionExpression, Expression: `recipient.plan ==`}, Input{Journey: j})
	assert.ErrorIs(t, err, ErrInvalidCompile)

	_, err = e.Evaluate(&domain.ConditionalLogic{Type: domain.ConditionExpression, Expression: `1 + 2`}, Input{Journey: j})
	assert.ErrorIs(t, err, ErrNotBoolean)

	_, err = e.Evaluate(&domain.ConditionalLogic{Type: "magic"}, Input{Journey: j})
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestValidateWorkflow_CompilesExpressions(t *testing.T) {
	w := &domain.WorkflowCampaign{
		Name: "onboarding",
		Stages: []domain.StageDefinition{
			{ID: "a", SequenceOrder: 1, Channel: domain.ChannelInApp},
			{ID: "b", SequenceOrder: 2, Channel: domain.ChannelInApp, ConditionalLogic: &domain.ConditionalLogic{
				Type: domain.ConditionExpression, Expression: `recipient.plan == `,
			}},
		},
	}
	errs := newEvaluator(t).ValidateWorkflow(w)
	require.Len(t, errs, 1)
	assert.Equal(t, "stages[1].conditional_logic.expression", errs[0].Field)
}
