// Package conditions implements the trigger condition evaluator.
//
// Evaluation is pure: no I/O, no clock, no randomness. The dry-run preview
// and the live trigger path both call Evaluate, so identical inputs must
// produce identical results, down to the per-leaf trace.
package conditions

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/crmflow/crmflow/core"
	"github.com/crmflow/crmflow/workflow"
)

// LeafResult is the evaluation trace of a single condition.
type LeafResult struct {
	Field    string            `json:"field"`
	Operator workflow.Operator `json:"operator"`

	Expected any `json:"expected,omitempty"`
	Actual   any `json:"actual,omitempty"`

	Passed bool `json:"passed"`
}

// Result is the outcome of evaluating a condition tree against one record
// snapshot.
type Result struct {
	Passed bool         `json:"passed"`
	Leaves []LeafResult `json:"leaves"`
}

// Evaluate runs the condition tree against the record snapshot. An empty
// tree passes vacuously with an empty trace, regardless of logic mode.
func Evaluate(tree workflow.ConditionTree, record core.Record, catalog core.FieldCatalog) Result {
	if tree.Empty() {
		return Result{Passed: true, Leaves: []LeafResult{}}
	}

	leaves := make([]LeafResult, 0, len(tree.Conditions))

	for _, c := range tree.Conditions {
		leaves = append(leaves, evaluateLeaf(c, record, catalog))
	}

	passed := tree.Logic != workflow.LogicOr

	for _, l := range leaves {
		if tree.Logic == workflow.LogicOr {
			if l.Passed {
				passed = true
				break
			}
		} else if !l.Passed {
			passed = false
			break
		}
	}

	return Result{Passed: passed, Leaves: leaves}
}

func evaluateLeaf(c workflow.Condition, record core.Record, catalog core.FieldCatalog) LeafResult {
	actual := record[c.Field]

	r := LeafResult{
		Field:    c.Field,
		Operator: c.Operator,
		Expected: c.Value,
		Actual:   actual,
	}

	switch c.Operator {
	case workflow.OpEq:
		r.Passed = asString(actual) == asString(c.Value)
	case workflow.OpNeq:
		r.Passed = asString(actual) != asString(c.Value)
	case workflow.OpGt:
		r.Passed = compareNumeric(actual, c.Value, func(a, b float64) bool { return a > b })
	case workflow.OpLt:
		r.Passed = compareNumeric(actual, c.Value, func(a, b float64) bool { return a < b })
	case workflow.OpGte:
		r.Passed = compareNumeric(actual, c.Value, func(a, b float64) bool { return a >= b })
	case workflow.OpLte:
		r.Passed = compareNumeric(actual, c.Value, func(a, b float64) bool { return a <= b })
	case workflow.OpContains:
		r.Passed = strings.Contains(asString(actual), asString(c.Value))
	case workflow.OpIsEmpty:
		r.Passed = isEmpty(actual)
	case workflow.OpIsNotEmpty:
		r.Passed = !isEmpty(actual)
	case workflow.OpBetween:
		low, lok := asNumber(c.Value)
		high, hok := asNumber(c.ValueEnd)
		val, vok := asNumber(actual)
		r.Passed = lok && hok && vok && val >= low && val <= high
	default:
		// Unknown operators pass the leaf instead of failing closed. This
		// mirrors long-standing behavior that existing definitions rely on;
		// validation keeps unknown operators out of new definitions.
		r.Passed = true
	}

	return r
}

func compareNumeric(actual, expected any, cmp func(a, b float64) bool) bool {
	a, aok := asNumber(actual)
	b, bok := asNumber(expected)

	return aok && bok && cmp(a, b)
}

func isEmpty(v any) bool {
	if v == nil {
		return true
	}

	s, ok := v.(string)

	return ok && s == ""
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case nil:
		return 0, false
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

func asString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", s)
	}
}
