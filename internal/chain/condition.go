package chain

import (
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/stackconsult/workflowcore/internal/orchestration"
	"github.com/stackconsult/workflowcore/internal/workflow"
)

// Evaluate reports whether cond gates the chain entry open, given the
// status and decoded output of the workflow the condition refers to. A
// nil condition always evaluates true. Evaluation errors never abort the
// chain run: per the orchestration core's error-handling contract a
// condition evaluation error is logged and treated as false so one
// malformed condition degrades to "skip this entry" rather than failing
// the whole chain.
func Evaluate(cond *workflow.ChainCondition, status workflow.ExecutionStatus, output map[string]interface{}) (bool, error) {
	if cond == nil {
		return true, nil
	}

	switch cond.Type {
	case workflow.ConditionStatus:
		want, _ := cond.Value.(string)
		return string(status) == want, nil

	case workflow.ConditionOutput:
		return evaluateOutputCondition(cond, output)

	case workflow.ConditionExpression:
		return evaluateExpression(cond.Expression, status, output)

	default:
		return false, fmt.Errorf("%w: unknown condition type %q", orchestration.ErrConditionEvaluation, cond.Type)
	}
}

func evaluateOutputCondition(cond *workflow.ChainCondition, output map[string]interface{}) (bool, error) {
	actual, err := orchestration.DataPath(output, cond.Field)
	if err != nil {
		return false, fmt.Errorf("%w: %v", orchestration.ErrConditionEvaluation, err)
	}

	switch cond.Operator {
	case workflow.OperatorEquals:
		return fmt.Sprintf("%v", actual) == fmt.Sprintf("%v", cond.Value), nil
	case workflow.OperatorContains:
		str, ok := actual.(string)
		want, wantOk := cond.Value.(string)
		if !ok || !wantOk {
			return false, fmt.Errorf("%w: contains requires string operands", orchestration.ErrConditionEvaluation)
		}
		return containsSubstring(str, want), nil
	case workflow.OperatorGreaterThan, workflow.OperatorLessThan:
		a, aOk := toFloat(actual)
		b, bOk := toFloat(cond.Value)
		if !aOk || !bOk {
			return false, fmt.Errorf("%w: numeric comparison requires numeric operands", orchestration.ErrConditionEvaluation)
		}
		if cond.Operator == workflow.OperatorGreaterThan {
			return a > b, nil
		}
		return a < b, nil
	default:
		return false, fmt.Errorf("%w: unknown operator %q", orchestration.ErrConditionEvaluation, cond.Operator)
	}
}

func containsSubstring(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return substr == ""
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// evaluateExpression runs expr in a sandboxed CEL environment exposing
// "status" (string) and "output" (map) as the only bindings available to a
// chain condition expression. There is no access to anything outside these
// two variables: no function calls into host state, no I/O.
func evaluateExpression(expr string, status workflow.ExecutionStatus, output map[string]interface{}) (bool, error) {
	env, err := cel.NewEnv(
		cel.Variable("status", cel.StringType),
		cel.Variable("output", cel.DynType),
	)
	if err != nil {
		return false, fmt.Errorf("%w: failed to build expression environment: %v", orchestration.ErrConditionEvaluation, err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return false, fmt.Errorf("%w: failed to compile expression: %v", orchestration.ErrConditionEvaluation, issues.Err())
	}

	program, err := env.Program(ast)
	if err != nil {
		return false, fmt.Errorf("%w: failed to build expression program: %v", orchestration.ErrConditionEvaluation, err)
	}

	out, _, err := program.Eval(map[string]interface{}{
		"status": string(status),
		"output": output,
	})
	if err != nil {
		return false, fmt.Errorf("%w: expression evaluation failed: %v", orchestration.ErrConditionEvaluation, err)
	}

	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("%w: expression must evaluate to a boolean", orchestration.ErrConditionEvaluation)
	}
	return result, nil
}
