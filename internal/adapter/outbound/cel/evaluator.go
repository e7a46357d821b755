// Package cel evaluates block-detection rules, written as CEL expressions,
// against inbound responses.
package cel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/cel-go/cel"
)

// maxExpressionLength is the maximum allowed length for rule expressions.
const maxExpressionLength = 1024

// maxCostBudget is the CEL runtime cost limit.
const maxCostBudget = 100_000

// maxNestingDepth is the maximum allowed parenthesis/bracket nesting depth.
const maxNestingDepth = 50

// evalTimeout bounds a single evaluation.
const evalTimeout = 2 * time.Second

// interruptCheckFreq is how often (in comprehension iterations) context cancellation is checked.
const interruptCheckFreq = 100

// DefaultBlockExpression matches the block page returned by the bot-defense edge.
const DefaultBlockExpression = `status == 403 && ("blockScript" in block || body.contains("px-captcha"))`

// ResponseInput is the data a rule can inspect.
type ResponseInput struct {
	Status  int
	URL     string
	Body    string
	Headers map[string]string
	// Block is the body parsed as a JSON object, empty when it is not one.
	Block map[string]any
}

// NewResponseEnvironment creates the CEL environment rules are compiled in.
//
// Variables: status (int), url (string), body (string),
// headers (map(string, string)), block (map(string, dyn)).
func NewResponseEnvironment() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("status", cel.IntType),
		cel.Variable("url", cel.StringType),
		cel.Variable("body", cel.StringType),
		cel.Variable("headers", cel.MapType(cel.StringType, cel.StringType)),
		cel.Variable("block", cel.MapType(cel.StringType, cel.DynType)),
	)
}

// Evaluator compiles and evaluates rule expressions.
type Evaluator struct {
	env *cel.Env
}

// NewEvaluator creates a new evaluator with the response environment.
func NewEvaluator() (*Evaluator, error) {
	env, err := NewResponseEnvironment()
	if err != nil {
		return nil, fmt.Errorf("failed to create response environment: %w", err)
	}
	return &Evaluator{env: env}, nil
}

// Compile parses and type-checks an expression, returning a compiled program.
func (e *Evaluator) Compile(expression string) (cel.Program, error) {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compilation failed: %w", issues.Err())
	}
	if out := ast.OutputType(); !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
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

// ValidateExpression checks that expr is well formed and within safety limits.
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

// Rule is a compiled block-detection rule.
type Rule struct {
	expression string
	program    cel.Program
}

// NewRule validates and compiles expr.
func (e *Evaluator) NewRule(expr string) (*Rule, error) {
	if err := e.ValidateExpression(expr); err != nil {
		return nil, err
	}
	prg, err := e.Compile(expr)
	if err != nil {
		return nil, err
	}
	return &Rule{expression: expr, program: prg}, nil
}

// Expression returns the rule source.
func (r *Rule) Expression() string {
	return r.expression
}

// Matches reports whether in is a block response.
func (r *Rule) Matches(ctx context.Context, in ResponseInput) (bool, error) {
	headers := in.Headers
	if headers == nil {
		headers = map[string]string{}
	}
	block := in.Block
	if block == nil {
		block = map[string]any{}
	}
	activation := map[string]any{
		"status":  int64(in.Status),
		"url":     in.URL,
		"body":    in.Body,
		"headers": headers,
		"block":   block,
	}

	ctx, cancel := context.WithTimeout(ctx, evalTimeout)
	defer cancel()

	result, _, err := r.program.ContextEval(ctx, activation)
	if err != nil {
		return false, fmt.Errorf("evaluation failed: %w", err)
	}
	matched, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expression did not return a boolean, got %T", result.Value())
	}
	return matched, nil
}
