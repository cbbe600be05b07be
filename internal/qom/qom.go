// Package qom is the abstract query object model: constraint trees built by a
// Query and interpreted by a storage backend.
package qom

import "fmt"

// Operator is a comparison operator.
type Operator int

const (
	EqualTo Operator = iota + 1
	NotEqualTo
	LessThan
	LessThanOrEqualTo
	GreaterThan
	GreaterThanOrEqualTo
	Like
	Contains
	In
	IsEmpty
	IsNull
)

var operatorNames = map[Operator]string{
	EqualTo:              "=",
	NotEqualTo:           "!=",
	LessThan:             "<",
	LessThanOrEqualTo:    "<=",
	GreaterThan:          ">",
	GreaterThanOrEqualTo: ">=",
	Like:                 "LIKE",
	Contains:             "CONTAINS",
	In:                   "IN",
	IsEmpty:              "IS EMPTY",
	IsNull:               "IS NULL",
}

func (o Operator) String() string {
	if s, ok := operatorNames[o]; ok {
		return s
	}
	return fmt.Sprintf("Operator(%d)", int(o))
}

// Unary reports whether o takes no operand.
func (o Operator) Unary() bool {
	return o == IsEmpty || o == IsNull
}

// Constraint is a node of a constraint tree.
type Constraint interface {
	constraint()
	String() string
}

// DynamicOperand is the left-hand side of a comparison.
type DynamicOperand interface {
	dynamicOperand()
	String() string
}

// PropertyValue selects a property of the queried type. Name may be a dotted
// path following references.
type PropertyValue struct {
	Name         string
	SelectorName string
}

func (PropertyValue) dynamicOperand() {}

func (p PropertyValue) String() string { return p.Name }

// LowerCase evaluates its operand lowercased.
type LowerCase struct {
	Operand DynamicOperand
}

func (LowerCase) dynamicOperand() {}

func (l LowerCase) String() string { return "lower(" + l.Operand.String() + ")" }

// Comparison compares a dynamic operand with a static value.
type Comparison struct {
	Operand1 DynamicOperand
	Operator Operator
	Operand2 any
}

func (*Comparison) constraint() {}

func (c *Comparison) String() string {
	if c.Operator.Unary() {
		return fmt.Sprintf("%s %s", c.Operand1, c.Operator)
	}
	return fmt.Sprintf("%s %s %v", c.Operand1, c.Operator, c.Operand2)
}

// And matches when both sides match.
type And struct {
	Constraint1, Constraint2 Constraint
}

func (*And) constraint() {}

func (a *And) String() string { return "(" + a.Constraint1.String() + " AND " + a.Constraint2.String() + ")" }

// Or matches when either side matches.
type Or struct {
	Constraint1, Constraint2 Constraint
}

func (*Or) constraint() {}

func (o *Or) String() string { return "(" + o.Constraint1.String() + " OR " + o.Constraint2.String() + ")" }

// Not inverts a constraint.
type Not struct {
	Constraint Constraint
}

func (*Not) constraint() {}

func (n *Not) String() string { return "NOT " + n.Constraint.String() }

// Direction is an ordering direction.
type Direction int

const (
	Ascending Direction = iota
	Descending
)

func (d Direction) String() string {
	if d == Descending {
		return "DESC"
	}
	return "ASC"
}

// Ordering orders results by one property.
type Ordering struct {
	Property  string
	Direction Direction
}
