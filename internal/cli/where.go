package cli

import (
	"fmt"
	"time"

	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/parser"
	"github.com/kilupskalvis/persistence/internal/qom"
	"github.com/kilupskalvis/persistence/internal/query"
)

// parseWhere translates a filter expression into a constraint of q.
//
//	views >= 10 and not (status == "draft")
//	lower(title) == "go" or like(title, "Go%") or ilike(title, "%rust%")
//	blog.name in ["tech", "food"]
//	tags contains "go" and not isEmpty(comments)
//	published > date("2024-01-01") and author == nil
func parseWhere(q *query.Query, input string) (qom.Constraint, error) {
	tree, err := parser.Parse(input)
	if err != nil {
		return nil, fmt.Errorf("invalid filter: %w", err)
	}
	return (&whereBuilder{q: q}).constraint(tree.Node)
}

type whereBuilder struct {
	q *query.Query
}

func (b *whereBuilder) constraint(node ast.Node) (qom.Constraint, error) {
	switch n := node.(type) {
	case *ast.BinaryNode:
		return b.binary(n)
	case *ast.UnaryNode:
		if n.Operator != "not" && n.Operator != "!" {
			return nil, fmt.Errorf("unsupported operator %q", n.Operator)
		}
		c, err := b.constraint(n.Node)
		if err != nil {
			return nil, err
		}
		return b.q.LogicalNot(c), nil
	case *ast.IdentifierNode, *ast.MemberNode:
		name, _, err := b.property(n)
		if err != nil {
			return nil, err
		}
		return b.q.Equals(name, true), nil
	}

	name, args, ok := call(node)
	if !ok {
		return nil, fmt.Errorf("unsupported expression %s", node)
	}
	switch name {
	case "like", "ilike":
		if len(args) != 2 {
			return nil, fmt.Errorf("%s takes a property and a pattern", name)
		}
		prop, _, err := b.property(args[0])
		if err != nil {
			return nil, err
		}
		pattern, err := b.literal(args[1])
		if err != nil {
			return nil, err
		}
		return b.q.Like(prop, pattern, name == "like")
	case "isEmpty", "isNull":
		if len(args) != 1 {
			return nil, fmt.Errorf("%s takes a property", name)
		}
		prop, _, err := b.property(args[0])
		if err != nil {
			return nil, err
		}
		if name == "isNull" {
			return b.q.Equals(prop, nil), nil
		}
		return b.q.IsEmpty(prop)
	}
	return nil, fmt.Errorf("unknown function %s", name)
}

func (b *whereBuilder) binary(n *ast.BinaryNode) (qom.Constraint, error) {
	switch n.Operator {
	case "and", "&&", "or", "||":
		left, err := b.constraint(n.Left)
		if err != nil {
			return nil, err
		}
		right, err := b.constraint(n.Right)
		if err != nil {
			return nil, err
		}
		if n.Operator == "and" || n.Operator == "&&" {
			return b.q.LogicalAnd(left, right)
		}
		return b.q.LogicalOr(left, right)
	}

	prop, lower, err := b.property(n.Left)
	if err != nil {
		return nil, err
	}
	operand, err := b.literal(n.Right)
	if err != nil {
		return nil, err
	}

	switch n.Operator {
	case "==":
		if lower {
			return b.q.EqualsIgnoreCase(prop, operand), nil
		}
		return b.q.Equals(prop, operand), nil
	case "!=":
		eq := b.q.Equals(prop, operand)
		if lower {
			eq = b.q.EqualsIgnoreCase(prop, operand)
		}
		return b.q.LogicalNot(eq), nil
	case "<":
		return b.q.LessThan(prop, operand)
	case "<=":
		return b.q.LessThanOrEqual(prop, operand)
	case ">":
		return b.q.GreaterThan(prop, operand)
	case ">=":
		return b.q.GreaterThanOrEqual(prop, operand)
	case "in":
		return b.q.In(prop, operand)
	case "contains":
		return b.q.Contains(prop, operand)
	case "startsWith", "endsWith":
		s, ok := operand.(string)
		if !ok {
			return nil, fmt.Errorf("%s needs a string", n.Operator)
		}
		pattern := s + "%"
		if n.Operator == "endsWith" {
			pattern = "%" + s
		}
		return b.q.Like(prop, pattern, !lower)
	}
	return nil, fmt.Errorf("unsupported operator %q", n.Operator)
}

// property returns the dotted property path of node and whether it is
// wrapped in lower().
func (b *whereBuilder) property(node ast.Node) (string, bool, error) {
	switch n := node.(type) {
	case *ast.IdentifierNode:
		return n.Value, false, nil
	case *ast.MemberNode:
		head, lower, err := b.property(n.Node)
		if err != nil {
			return "", false, err
		}
		name, ok := n.Property.(*ast.StringNode)
		if !ok {
			return "", false, fmt.Errorf("unsupported property access %s", node)
		}
		return head + "." + name.Value, lower, nil
	}
	if name, args, ok := call(node); ok && name == "lower" && len(args) == 1 {
		prop, _, err := b.property(args[0])
		return prop, true, err
	}
	return "", false, fmt.Errorf("expected a property, got %s", node)
}

// literal evaluates a constant operand.
func (b *whereBuilder) literal(node ast.Node) (any, error) {
	switch n := node.(type) {
	case *ast.NilNode:
		return nil, nil
	case *ast.StringNode:
		return n.Value, nil
	case *ast.IntegerNode:
		return n.Value, nil
	case *ast.FloatNode:
		return n.Value, nil
	case *ast.BoolNode:
		return n.Value, nil
	case *ast.UnaryNode:
		if n.Operator == "-" {
			v, err := b.literal(n.Node)
			if err != nil {
				return nil, err
			}
			switch tv := v.(type) {
			case int:
				return -tv, nil
			case float64:
				return -tv, nil
			}
		}
	case *ast.ArrayNode:
		out := make([]any, 0, len(n.Nodes))
		for _, el := range n.Nodes {
			v, err := b.literal(el)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	}
	if name, args, ok := call(node); ok && name == "date" && len(args) == 1 {
		s, ok := args[0].(*ast.StringNode)
		if !ok {
			return nil, fmt.Errorf("date takes a string")
		}
		return parseTime(s.Value)
	}
	return nil, fmt.Errorf("expected a constant, got %s", node)
}

// call returns the function name and arguments of a call expression.
// Names of expr builtins such as lower and date parse as builtin nodes.
func call(node ast.Node) (string, []ast.Node, bool) {
	switch n := node.(type) {
	case *ast.BuiltinNode:
		return n.Name, n.Arguments, true
	case *ast.CallNode:
		if id, ok := n.Callee.(*ast.IdentifierNode); ok {
			return id.Value, n.Arguments, true
		}
	}
	return "", nil, false
}

var timeLayouts = []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05", time.DateOnly}

func parseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time %q", s)
}
