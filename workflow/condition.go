package workflow

// Logic combines the leaves of a condition tree.
type Logic string

const (
	LogicAnd Logic = "and"
	LogicOr  Logic = "or"
)

// Operator compares a record field against a configured value.
type Operator string

const (
	OpEq         Operator = "eq"
	OpNeq        Operator = "neq"
	OpGt         Operator = "gt"
	OpLt         Operator = "lt"
	OpGte        Operator = "gte"
	OpLte        Operator = "lte"
	OpContains   Operator = "contains"
	OpIsEmpty    Operator = "is_empty"
	OpIsNotEmpty Operator = "is_not_empty"
	OpBetween    Operator = "between"
)

// Condition is one leaf of a condition tree.
type Condition struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`

	Value any `json:"value,omitempty"`

	// ValueEnd is the upper bound for the between operator.
	ValueEnd any `json:"value_end,omitempty"`
}

// ConditionTree is a single logic combinator over a flat, ordered list of
// conditions. An empty tree always passes.
type ConditionTree struct {
	Logic      Logic       `json:"logic"`
	Conditions []Condition `json:"conditions,omitempty"`
}

// Empty reports whether the tree has no conditions.
func (t ConditionTree) Empty() bool {
	return len(t.Conditions) == 0
}
