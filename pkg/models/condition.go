package models

// ConditionOperator is one typed comparison usable in a condition group.
type ConditionOperator string

const (
	OpEq          ConditionOperator = "eq"
	OpNe          ConditionOperator = "ne"
	OpGt          ConditionOperator = "gt"
	OpGe          ConditionOperator = "ge"
	OpLt          ConditionOperator = "lt"
	OpLe          ConditionOperator = "le"
	OpContains    ConditionOperator = "contains"
	OpNotContains ConditionOperator = "not_contains"
	OpStartsWith  ConditionOperator = "starts_with"
	OpEndsWith    ConditionOperator = "ends_with"
	OpIsEmpty     ConditionOperator = "is_empty"
	OpIsNotEmpty  ConditionOperator = "is_not_empty"
	OpInList      ConditionOperator = "in_list"
	OpNotInList   ConditionOperator = "not_in_list"
	OpMatchesRx   ConditionOperator = "matches_regex"
)

// ConditionLogic combines the conditions of a group. One operator per group,
// no mixed precedence.
type ConditionLogic string

const (
	AndLogic ConditionLogic = "AND"
	OrLogic  ConditionLogic = "OR"
)

// Condition compares a scope field (dotted path allowed, e.g. "entity.amount")
// against a literal value.
type Condition struct {
	Field    string            `json:"field"`
	Operator ConditionOperator `json:"operator"`
	Value    any               `json:"value,omitempty"`
}

// ConditionGroup is a flat list of comparisons joined with AND or OR.
type ConditionGroup struct {
	Logic      ConditionLogic `json:"logic,omitempty"` // defaults to AND
	Conditions []Condition    `json:"conditions"`
}
