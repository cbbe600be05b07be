// Package query builds queries over one class and materializes their results
// lazily through the data mapper.
package query

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/kilupskalvis/persistence/internal/models"
	"github.com/kilupskalvis/persistence/internal/object"
	"github.com/kilupskalvis/persistence/internal/qom"
	"github.com/kilupskalvis/persistence/internal/schema"
)

// entitySelector is the selector name of the queried class.
const entitySelector = "_entity"

// Backend fetches raw records for a query.
type Backend interface {
	GetObjectDataByQuery(ctx context.Context, q *Query) ([]*models.RecordData, error)
	GetObjectCountByQuery(ctx context.Context, q *Query) (int, error)
}

// Mapper maps raw records to objects.
type Mapper interface {
	MapToObjects(ctx context.Context, records []*models.RecordData) ([]object.Object, error)
}

// Query is a mutable builder over a single class. Setters return the same
// instance.
type Query struct {
	typ     string
	schemas schema.Provider
	qom     qom.Factory
	backend Backend
	mapper  Mapper

	constraint qom.Constraint
	orderings  []qom.Ordering
	limit      int
	offset     int
	distinct   bool
}

// New creates a query for objects of typ.
func New(typ string, schemas schema.Provider, factory qom.Factory, backend Backend, mapper Mapper) *Query {
	if factory == nil {
		factory = qom.NewFactory()
	}
	return &Query{typ: typ, schemas: schemas, qom: factory, backend: backend, mapper: mapper}
}

// Type returns the queried class name.
func (q *Query) Type() string { return q.typ }

// Constraint returns the constraint set with Matching, or nil.
func (q *Query) Constraint() qom.Constraint { return q.constraint }

// Orderings returns the orderings in precedence order.
func (q *Query) Orderings() []qom.Ordering { return q.orderings }

// Limit returns the limit, 0 meaning none.
func (q *Query) Limit() int { return q.limit }

// Offset returns the number of leading results skipped.
func (q *Query) Offset() int { return q.offset }

// IsDistinct reports whether duplicates are to be removed.
func (q *Query) IsDistinct() bool { return q.distinct }

// Execute returns a new, unmaterialized result.
func (q *Query) Execute() *Result {
	return &Result{query: q}
}

// Count asks the backend for the number of matching objects.
func (q *Query) Count(ctx context.Context) (int, error) {
	if q.backend == nil {
		return 0, models.ErrMissingBackend
	}
	return q.backend.GetObjectCountByQuery(ctx, q)
}

// Matching sets the constraint.
func (q *Query) Matching(c qom.Constraint) *Query {
	q.constraint = c
	return q
}

// SetOrderings replaces the orderings.
func (q *Query) SetOrderings(orderings ...qom.Ordering) *Query {
	q.orderings = append([]qom.Ordering(nil), orderings...)
	return q
}

// SetLimit limits the number of results. limit must be positive.
func (q *Query) SetLimit(limit int) (*Query, error) {
	if limit < 1 {
		return q, fmt.Errorf("%w: limit must be greater than 0, got %d", models.ErrInvalidArgument, limit)
	}
	q.limit = limit
	return q, nil
}

// SetOffset skips leading results. offset must be positive.
func (q *Query) SetOffset(offset int) (*Query, error) {
	if offset < 1 {
		return q, fmt.Errorf("%w: offset must be greater than 0, got %d", models.ErrInvalidArgument, offset)
	}
	q.offset = offset
	return q, nil
}

// SetDistinct sets whether duplicates are removed.
func (q *Query) SetDistinct(distinct bool) *Query {
	q.distinct = distinct
	return q
}

// clone returns a copy sharing collaborators and constraint.
func (q *Query) clone() *Query {
	c := *q
	c.orderings = append([]qom.Ordering(nil), q.orderings...)
	return &c
}

func (q *Query) property(name string) qom.DynamicOperand {
	return q.qom.PropertyValue(name, entitySelector)
}

// Equals matches objects whose property equals operand. A nil operand
// matches null properties.
func (q *Query) Equals(propertyName string, operand any) qom.Constraint {
	if operand == nil {
		return q.qom.Comparison(q.property(propertyName), qom.IsNull, nil)
	}
	return q.qom.Comparison(q.property(propertyName), qom.EqualTo, operand)
}

// EqualsIgnoreCase is Equals comparing strings case-insensitively.
func (q *Query) EqualsIgnoreCase(propertyName string, operand any) qom.Constraint {
	s, ok := operand.(string)
	if !ok {
		return q.Equals(propertyName, operand)
	}
	return q.qom.Comparison(q.qom.LowerCase(q.property(propertyName)), qom.EqualTo, strings.ToLower(s))
}

// Like matches with SQL wildcards: % any run, _ one character.
func (q *Query) Like(propertyName string, operand any, caseSensitive bool) (qom.Constraint, error) {
	s, ok := operand.(string)
	if !ok {
		return nil, fmt.Errorf("%w: like operand must be a string, was %T", models.ErrInvalidQuery, operand)
	}
	if caseSensitive {
		return q.qom.Comparison(q.property(propertyName), qom.Like, s), nil
	}
	return q.qom.Comparison(q.qom.LowerCase(q.property(propertyName)), qom.Like, strings.ToLower(s)), nil
}

// Contains matches objects whose multi-valued property holds operand. A nil
// operand never matches.
func (q *Query) Contains(propertyName string, operand any) (qom.Constraint, error) {
	if !q.isMultiValued(propertyName) {
		return nil, fmt.Errorf("%w: property %q must be multi-valued", models.ErrInvalidQuery, propertyName)
	}
	return q.qom.Comparison(q.property(propertyName), qom.Contains, operand), nil
}

// IsEmpty matches objects whose multi-valued property is empty.
func (q *Query) IsEmpty(propertyName string) (qom.Constraint, error) {
	if !q.isMultiValued(propertyName) {
		return nil, fmt.Errorf("%w: property %q must be multi-valued", models.ErrInvalidQuery, propertyName)
	}
	return q.qom.Comparison(q.property(propertyName), qom.IsEmpty, nil), nil
}

// In matches objects whose single-valued property equals one of the members
// of operand, which must be a slice, array, *object.Array or ReferenceSet.
func (q *Query) In(propertyName string, operand any) (qom.Constraint, error) {
	values, ok := iterableValues(operand)
	if !ok {
		return nil, fmt.Errorf("%w: the in constraint needs a multi-valued operand, got %T", models.ErrInvalidQuery, operand)
	}
	if q.isMultiValued(propertyName) {
		return nil, fmt.Errorf("%w: property %q must not be multi-valued", models.ErrInvalidQuery, propertyName)
	}
	return q.qom.Comparison(q.property(propertyName), qom.In, values), nil
}

// LessThan matches objects whose property is less than operand.
func (q *Query) LessThan(propertyName string, operand any) (qom.Constraint, error) {
	return q.ordered(propertyName, qom.LessThan, operand)
}

// LessThanOrEqual matches objects whose property is at most operand.
func (q *Query) LessThanOrEqual(propertyName string, operand any) (qom.Constraint, error) {
	return q.ordered(propertyName, qom.LessThanOrEqualTo, operand)
}

// GreaterThan matches objects whose property is greater than operand.
func (q *Query) GreaterThan(propertyName string, operand any) (qom.Constraint, error) {
	return q.ordered(propertyName, qom.GreaterThan, operand)
}

// GreaterThanOrEqual matches objects whose property is at least operand.
func (q *Query) GreaterThanOrEqual(propertyName string, operand any) (qom.Constraint, error) {
	return q.ordered(propertyName, qom.GreaterThanOrEqualTo, operand)
}

func (q *Query) ordered(propertyName string, op qom.Operator, operand any) (qom.Constraint, error) {
	if q.isMultiValued(propertyName) {
		return nil, fmt.Errorf("%w: property %q must not be multi-valued", models.ErrInvalidQuery, propertyName)
	}
	if !isLiteral(operand) {
		return nil, fmt.Errorf("%w: operand must be a literal or time, was %T", models.ErrInvalidQuery, operand)
	}
	return q.qom.Comparison(q.property(propertyName), op, operand), nil
}

// LogicalAnd joins constraints with AND.
func (q *Query) LogicalAnd(constraints ...qom.Constraint) (qom.Constraint, error) {
	return q.fold(constraints, q.qom.And)
}

// LogicalOr joins constraints with OR.
func (q *Query) LogicalOr(constraints ...qom.Constraint) (qom.Constraint, error) {
	return q.fold(constraints, q.qom.Or)
}

// LogicalNot inverts a constraint.
func (q *Query) LogicalNot(c qom.Constraint) qom.Constraint {
	return q.qom.Not(c)
}

func (q *Query) fold(constraints []qom.Constraint, join func(c1, c2 qom.Constraint) qom.Constraint) (qom.Constraint, error) {
	if len(constraints) == 0 {
		return nil, fmt.Errorf("%w: at least one constraint is required", models.ErrInvalidNumberOfConstraints)
	}
	result := constraints[0]
	for _, c := range constraints[1:] {
		result = join(result, c)
	}
	return result, nil
}

func (q *Query) isMultiValued(propertyName string) bool {
	if q.schemas == nil {
		return false
	}
	cs, err := q.schemas.ClassSchema(q.typ)
	if err != nil {
		return false
	}
	return cs.IsMultiValuedProperty(propertyName)
}

func isLiteral(v any) bool {
	switch v.(type) {
	case string, bool, time.Time,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return true
	}
	return false
}

func iterableValues(v any) ([]any, bool) {
	switch tv := v.(type) {
	case nil:
		return nil, false
	case *object.Array:
		out := make([]any, 0, tv.Len())
		for _, el := range tv.All() {
			out = append(out, el)
		}
		return out, true
	case object.ReferenceSet:
		out := make([]any, 0, tv.Count())
		for obj := range tv.All() {
			out = append(out, obj)
		}
		return out, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}
