package qom

// Factory creates query object model nodes. Queries build constraints only
// through a Factory so a backend can supply its own node types.
type Factory interface {
	Comparison(operand1 DynamicOperand, op Operator, operand2 any) Constraint
	And(c1, c2 Constraint) Constraint
	Or(c1, c2 Constraint) Constraint
	Not(c Constraint) Constraint
	PropertyValue(name, selectorName string) DynamicOperand
	LowerCase(operand DynamicOperand) DynamicOperand
}

// DefaultFactory builds the node types of this package.
type DefaultFactory struct{}

// NewFactory returns the default factory.
func NewFactory() DefaultFactory { return DefaultFactory{} }

func (DefaultFactory) Comparison(operand1 DynamicOperand, op Operator, operand2 any) Constraint {
	return &Comparison{Operand1: operand1, Operator: op, Operand2: operand2}
}

func (DefaultFactory) And(c1, c2 Constraint) Constraint { return &And{Constraint1: c1, Constraint2: c2} }

func (DefaultFactory) Or(c1, c2 Constraint) Constraint { return &Or{Constraint1: c1, Constraint2: c2} }

func (DefaultFactory) Not(c Constraint) Constraint { return &Not{Constraint: c} }

func (DefaultFactory) PropertyValue(name, selectorName string) DynamicOperand {
	return PropertyValue{Name: name, SelectorName: selectorName}
}

func (DefaultFactory) LowerCase(operand DynamicOperand) DynamicOperand {
	return LowerCase{Operand: operand}
}
