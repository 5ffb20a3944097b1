// Package cel evaluates enforcement conditions written in CEL against
// compliance decisions.
package cel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/cel-go/cel"
)

const (
	// maxExpressionLength bounds condition source length.
	maxExpressionLength = 1024
	// maxCostBudget is the runtime cost limit per evaluation.
	maxCostBudget = 100_000
	// maxNestingDepth bounds parenthesis/bracket/brace nesting.
	maxNestingDepth = 50
	// evalTimeout bounds a single evaluation.
	evalTimeout = 5 * time.Second
	// interruptCheckFreq is how often comprehensions check for cancellation.
	interruptCheckFreq = 100
)

// Input is what an enforcement condition sees about one decision.
type Input struct {
	Allowed         bool
	Violations      []string
	HighestPriority int32
	MessageLength   int
	Source          string
	RequestTime     time.Time
}

// Evaluator compiles and evaluates enforcement conditions.
type Evaluator struct {
	env *cel.Env
}

// NewEvaluator creates an evaluator over the enforcement environment.
func NewEvaluator() (*Evaluator, error) {
	env, err := NewEnforcementEnvironment()
	if err != nil {
		return nil, fmt.Errorf("failed to create enforcement environment: %w", err)
	}
	return &Evaluator{env: env}, nil
}

// Compile parses and type-checks expression. The result type must be bool.
func (e *Evaluator) Compile(expression string) (cel.Program, error) {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compilation failed: %w", issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("expression must return bool, got %s", ast.OutputType())
	}

	prg, err := e.env.Program(ast,
		cel.EvalOptions(cel.OptOptimize),
		cel.CostLimit(maxCostBudget),
		cel.InterruptCheckFrequency(interruptCheckFreq),
	)
	if err != nil {
		return nil, fmt.Errorf("program creation failed: %w", err)
	}
	return prg, nil
}

func validateNesting(expr string) error {
	var depth, maxDepth int
	for _, ch := range expr {
		switch ch {
		case '(', '[', '{':
			depth++
			maxDepth = max(maxDepth, depth)
		case ')', ']', '}':
			depth--
		}
	}
	if maxDepth > maxNestingDepth {
		return fmt.Errorf("expression nesting too deep: %d levels (max %d)", maxDepth, maxNestingDepth)
	}
	return nil
}

// ValidateExpression checks length and nesting limits, then compiles expr.
func (e *Evaluator) ValidateExpression(expr string) error {
	if expr == "" {
		return errors.New("expression is empty")
	}
	if len(expr) > maxExpressionLength {
		return fmt.Errorf("expression too long: %d characters (max %d)", len(expr), maxExpressionLength)
	}
	if err := validateNesting(expr); err != nil {
		return err
	}
	if _, err := e.Compile(expr); err != nil {
		return fmt.Errorf("invalid CEL expression: %w", err)
	}
	return nil
}

// Evaluate runs prg against in.
func (e *Evaluator) Evaluate(ctx context.Context, prg cel.Program, in Input) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, evalTimeout)
	defer cancel()

	result, _, err := prg.ContextEval(ctx, buildActivation(in))
	if err != nil {
		return false, fmt.Errorf("evaluation failed: %w", err)
	}
	b, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expression did not return a boolean, got %T", result.Value())
	}
	return b, nil
}

// Condition is a validated, compiled enforcement condition.
type Condition struct {
	expr string
	prg  cel.Program
	ev   *Evaluator
}

// NewCondition validates and compiles expr.
func (e *Evaluator) NewCondition(expr string) (*Condition, error) {
	if err := e.ValidateExpression(expr); err != nil {
		return nil, err
	}
	prg, err := e.Compile(expr)
	if err != nil {
		return nil, err
	}
	return &Condition{expr: expr, prg: prg, ev: e}, nil
}

// Expression returns the condition source.
func (c *Condition) Expression() string { return c.expr }

// Matches evaluates the condition.
func (c *Condition) Matches(ctx context.Context, in Input) (bool, error) {
	return c.ev.Evaluate(ctx, c.prg, in)
}
