// Package evaluator implements the restricted expression language used by
// actions to compute slot values, response gates and dynamic parameters.
// Expressions are pure: they evaluate over a tracker snapshot plus the
// current parameter dictionary with no side effects, no loops and no I/O.
package evaluator

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/jkaninda/msaidizi/internal/domain"
)

// ErrEvaluationLimit is returned when an expression exceeds its CPU budget.
var ErrEvaluationLimit = errors.New("evaluation limit exceeded")

// Budget is the per-expression CPU budget.
const Budget = time.Millisecond

// Evaluator compiles and runs expressions with a bounded budget.
// Safe for concurrent use; compiled programs are not cached because action
// definitions change under authoring writes.
type Evaluator struct {
	budget time.Duration
}

// New creates an Evaluator with the default budget.
func New() *Evaluator {
	return &Evaluator{budget: Budget}
}

// Env builds the evaluation environment from a snapshot and the resolved
// parameter dictionary. Helper predicates are exposed as functions.
func Env(snapshot *domain.TrackerSnapshot, params map[string]any) map[string]any {
	env := map[string]any{
		"params":       params,
		"sender_id":    "",
		"intent":       "",
		"user_message": "",
		"slots":        map[string]any{},

		"contains":    strings.Contains,
		"starts_with": strings.HasPrefix,
		"ends_with":   strings.HasSuffix,
		"matches": func(s, pattern string) (bool, error) {
			return regexp.MatchString(pattern, s)
		},
		"is_none":     func(v any) bool { return v == nil },
		"is_not_none": func(v any) bool { return v != nil },
	}
	if snapshot != nil {
		env["sender_id"] = snapshot.SenderID
		env["intent"] = snapshot.LatestMessage.Intent.Name
		env["user_message"] = snapshot.LatestMessage.Text
		if snapshot.Slots != nil {
			env["slots"] = snapshot.Slots
		}
	}
	return env
}

// Eval compiles and runs the expression, returning its value.
func (e *Evaluator) Eval(expression string, env map[string]any) (any, error) {
	program, err := expr.Compile(expression,
		expr.Env(env),
		expr.AllowUndefinedVariables(),
	)
	if err != nil {
		return nil, domain.Wrap(domain.KindValidation, err, "compiling expression %q", expression)
	}
	return e.run(program, env, expression)
}

// EvalBool evaluates a boolean expression. Non-boolean results are an error.
func (e *Evaluator) EvalBool(expression string, env map[string]any) (bool, error) {
	out, err := e.Eval(expression, env)
	if err != nil {
		return false, err
	}
	b, ok := out.(bool)
	if !ok {
		return false, domain.E(domain.KindValidation, "expression %q returned %T, want bool", expression, out)
	}
	return b, nil
}

// run executes the compiled program under the CPU budget. The language has
// no loops, so a run that outlives the budget is treated as a violation
// rather than awaited.
func (e *Evaluator) run(program *vm.Program, env map[string]any, expression string) (any, error) {
	type result struct {
		out any
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := expr.Run(program, env)
		done <- result{out: out, err: err}
	}()

	timer := time.NewTimer(e.budget)
	defer timer.Stop()

	select {
	case res := <-done:
		if res.err != nil {
			return nil, domain.Wrap(domain.KindValidation, res.err, "evaluating expression %q", expression)
		}
		return res.out, nil
	case <-timer.C:
		return nil, fmt.Errorf("expression %q: %w", expression, ErrEvaluationLimit)
	}
}
