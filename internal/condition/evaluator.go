// Package condition evaluates stage ConditionalLogic against a journey.
package condition

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/ignite/campaign-engine/internal/domain"
)

var (
	ErrUnknownType    = errors.New("unknown condition type")
	ErrNotBoolean     = errors.New("expression result is not a boolean")
	ErrInvalidCompile = errors.New("expression does not compile")
)

// Input is everything a condition may look at.
type Input struct {
	Journey *domain.RecipientJourney
	// Deliveries holds the latest delivery of each stage, keyed by stage id.
	Deliveries map[string]*domain.MessageDelivery
}

// Evaluator evaluates conditions. CEL programs are compiled once per
// expression and cached; an Evaluator is safe for concurrent use.
type Evaluator struct {
	env      *cel.Env
	prgCache map[string]cel.Program
	mu       sync.RWMutex
}

// NewEvaluator builds the CEL environment. Expressions see three maps:
// recipient (recipient data), journey (journey data plus status and
// current_stage_id) and stages (per-stage status and engagement).
func NewEvaluator() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("recipient", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("journey", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("stages", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return &Evaluator{env: env, prgCache: make(map[string]cel.Program)}, nil
}

// Evaluate returns whether c holds for in. A nil condition always holds.
func (e *Evaluator) Evaluate(c *domain.ConditionalLogic, in Input) (bool, error) {
	if c == nil {
		return true, nil
	}
	switch c.Type {
	case domain.ConditionAttribute:
		return evaluateAttribute(c, in.Journey.PersonalizationData())
	case domain.ConditionPreviousStage:
		return evaluatePreviousStage(c, in), nil
	case domain.ConditionExpression:
		return e.evaluateExpr(c.Expression, activation(in))
	default:
		return false, fmt.Errorf("%w: %q", ErrUnknownType, c.Type)
	}
}

// Check compiles expr without evaluating it.
func (e *Evaluator) Check(expr string) error {
	_, err := e.program(expr)
	return err
}

// ValidateWorkflow runs w.Validate and additionally compiles every
// expression condition.
func (e *Evaluator) ValidateWorkflow(w *domain.WorkflowCampaign) domain.ValidationErrors {
	errs := w.Validate()
	for i, s := range w.Stages {
		c := s.ConditionalLogic
		if c == nil || c.Type != domain.ConditionExpression || c.Expression == "" {
			continue
		}
		if err := e.Check(c.Expression); err != nil {
			errs = append(errs, domain.ValidationError{
				Field:   fmt.Sprintf("stages[%d].conditional_logic.expression", i),
				Message: err.Error(),
			})
		}
	}
	return errs
}

func (e *Evaluator) program(expr string) (cel.Program, error) {
	e.mu.RLock()
	prg, hit := e.prgCache[expr]
	e.mu.RUnlock()
	if hit {
		return prg, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if prg, hit = e.prgCache[expr]; hit {
		return prg, nil
	}
	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCompile, issues.Err())
	}
	if out := ast.OutputType(); !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("%w: got %s", ErrNotBoolean, ast.OutputType())
	}
	p, err := e.env.Program(ast,
		cel.InterruptCheckFrequency(100),
		cel.CostLimit(10000),
	)
	if err != nil {
		return nil, fmt.Errorf("program: %w", err)
	}
	e.prgCache[expr] = p
	return p, nil
}

func (e *Evaluator) evaluateExpr(expr string, input map[string]any) (bool, error) {
	prg, err := e.program(expr)
	if err != nil {
		return false, err
	}
	out, _, err := prg.Eval(input)
	if err != nil {
		return false, fmt.Errorf("eval: %w", err)
	}
	val, ok := out.Value().(bool)
	if !ok {
		return false, ErrNotBoolean
	}
	return val, nil
}

func activation(in Input) map[string]any {
	j := in.Journey
	journey := map[string]any{}
	for k, v := range j.JourneyData {
		journey[k] = v
	}
	journey["status"] = string(j.Status)
	journey["current_stage_id"] = j.CurrentStageID
	journey["completed_stage_ids"] = append([]string(nil), j.CompletedStageIDs...)

	stages := map[string]any{}
	for _, exec := range j.StageExecutions {
		stages[exec.StageID] = map[string]any{"status": string(exec.Status)}
	}
	for stageID, d := range in.Deliveries {
		entry, _ := stages[stageID].(map[string]any)
		if entry == nil {
			entry = map[string]any{}
		}
		entry["delivery_status"] = string(d.Status)
		entry["opens"] = int64(d.OpenCount)
		entry["clicks"] = int64(d.ClickCount)
		stages[stageID] = entry
	}

	recipient := map[string]any{}
	for k, v := range j.RecipientData {
		recipient[k] = v
	}
	return map[string]any{"recipient": recipient, "journey": journey, "stages": stages}
}

func evaluatePreviousStage(c *domain.ConditionalLogic, in Input) bool {
	exec := in.Journey.LatestExecutionFor(c.PreviousStageID)
	if exec == nil || exec.IsOpen() {
		return false
	}
	switch c.ExpectedOutcome {
	case domain.OutcomeSuccess, domain.OutcomeFailure, domain.OutcomeSkipped:
		return string(exec.Status) == c.ExpectedOutcome
	}

	d := in.Deliveries[c.PreviousStageID]
	if d == nil {
		return false
	}
	switch c.ExpectedOutcome {
	case domain.OutcomeSent:
		return d.Status.IsAccepted()
	case domain.OutcomeDelivered:
		return d.Status.IsConfirmed()
	case domain.OutcomeOpened:
		return d.OpenCount > 0
	case domain.OutcomeClicked:
		return d.ClickCount > 0
	}
	return false
}

func evaluateAttribute(c *domain.ConditionalLogic, data map[string]interface{}) (bool, error) {
	actual, present := lookup(data, c.Attribute)
	switch c.Operator {
	case domain.OpExists:
		return present && actual != nil, nil
	case domain.OpNotExists:
		return !present || actual == nil, nil
	}
	if !present {
		return false, nil
	}

	switch c.Operator {
	case domain.OpEquals:
		return equal(actual, c.Value), nil
	case domain.OpNotEquals:
		return !equal(actual, c.Value), nil
	case domain.OpContains:
		return contains(actual, c.Value), nil
	case domain.OpGreater, domain.OpGreaterEq, domain.OpLess, domain.OpLessEq:
		cmp, ok := compare(actual, c.Value)
		if !ok {
			return false, nil
		}
		switch c.Operator {
		case domain.OpGreater:
			return cmp > 0, nil
		case domain.OpGreaterEq:
			return cmp >= 0, nil
		case domain.OpLess:
			return cmp < 0, nil
		default:
			return cmp <= 0, nil
		}
	}
	return false, fmt.Errorf("unknown operator %q", c.Operator)
}

// lookup resolves a dotted path through nested maps.
func lookup(data map[string]interface{}, path string) (interface{}, bool) {
	var cur interface{} = data
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		if cur, ok = m[part]; !ok {
			return nil, false
		}
	}
	return cur, true
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

func equal(a, b interface{}) bool {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
	}
	return reflect.DeepEqual(a, b) || fmt.Sprint(a) == fmt.Sprint(b)
}

func compare(a, b interface{}) (int, bool) {
	fa, okA := toFloat(a)
	fb, okB := toFloat(b)
	if okA && okB {
		switch {
		case fa < fb:
			return -1, true
		case fa > fb:
			return 1, true
		}
		return 0, true
	}
	sa, okA := a.(string)
	sb, okB := b.(string)
	if okA && okB {
		return strings.Compare(sa, sb), true
	}
	return 0, false
}

func contains(haystack, needle interface{}) bool {
	switch h := haystack.(type) {
	case string:
		return strings.Contains(h, fmt.Sprint(needle))
	case []interface{}:
		for _, v := range h {
			if equal(v, needle) {
				return true
			}
		}
	case []string:
		for _, v := range h {
			if v == fmt.Sprint(needle) {
				return true
			}
		}
	}
	return false
}
