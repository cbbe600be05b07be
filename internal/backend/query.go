package backend

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/kilupskalvis/persistence/internal/models"
	"github.com/kilupskalvis/persistence/internal/object"
	"github.com/kilupskalvis/persistence/internal/qom"
	"github.com/kilupskalvis/persistence/internal/query"
)

// GetObjectDataByQuery returns the expanded records matching q, ordered,
// offset and limited.
func (b *Backend) GetObjectDataByQuery(ctx context.Context, q *query.Query) ([]*models.RecordData, error) {
	b.metrics.RecordFetch("query")
	matches, err := b.match(ctx, q)
	if err != nil {
		return nil, err
	}
	out := make([]*models.RecordData, 0, len(matches))
	for _, rec := range matches {
		expanded, err := b.expand(rec, map[string]bool{})
		if err != nil {
			return nil, err
		}
		out = append(out, expanded)
	}
	return out, nil
}

// GetObjectCountByQuery returns the number of records GetObjectDataByQuery
// would return, without expanding them.
func (b *Backend) GetObjectCountByQuery(ctx context.Context, q *query.Query) (int, error) {
	b.metrics.RecordFetch("count")
	matches, err := b.match(ctx, q)
	if err != nil {
		return 0, err
	}
	return len(matches), nil
}

func (b *Backend) match(ctx context.Context, q *query.Query) ([]*models.RecordData, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	records, err := b.store.Scan(q.Type())
	if err != nil {
		return nil, err
	}

	e := &evaluator{backend: b, cache: make(map[string]*models.RecordData)}
	var matches []*models.RecordData
	for _, rec := range records {
		if q.Constraint() != nil {
			ok, err := e.eval(rec, q.Constraint())
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}
		matches = append(matches, rec)
	}

	if orderings := q.Orderings(); len(orderings) > 0 {
		slices.SortStableFunc(matches, func(x, y *models.RecordData) int {
			for _, o := range orderings {
				c := compareNullable(e.scalar(x, o.Property), e.scalar(y, o.Property))
				if o.Direction == qom.Descending {
					c = -c
				}
				if c != 0 {
					return c
				}
			}
			return 0
		})
	}

	if q.Offset() > 0 {
		if q.Offset() >= len(matches) {
			return nil, nil
		}
		matches = matches[q.Offset():]
	}
	if q.Limit() > 0 && q.Limit() < len(matches) {
		matches = matches[:q.Limit()]
	}
	return matches, nil
}

// evaluator evaluates constraints against stored records.
type evaluator struct {
	backend *Backend
	cache   map[string]*models.RecordData
	likes   map[string]*regexp.Regexp
}

func (e *evaluator) eval(rec *models.RecordData, c qom.Constraint) (bool, error) {
	switch tc := c.(type) {
	case *qom.And:
		ok, err := e.eval(rec, tc.Constraint1)
		if err != nil || !ok {
			return false, err
		}
		return e.eval(rec, tc.Constraint2)
	case *qom.Or:
		ok, err := e.eval(rec, tc.Constraint1)
		if err != nil || ok {
			return ok, err
		}
		return e.eval(rec, tc.Constraint2)
	case *qom.Not:
		ok, err := e.eval(rec, tc.Constraint)
		return !ok, err
	case *qom.Comparison:
		return e.compare(rec, tc)
	}
	return false, fmt.Errorf("%w: unsupported constraint %T", models.ErrInvalidQuery, c)
}

func (e *evaluator) compare(rec *models.RecordData, c *qom.Comparison) (bool, error) {
	path, lower, err := operandPath(c.Operand1)
	if err != nil {
		return false, err
	}
	datum := e.resolve(rec, path)

	switch c.Operator {
	case qom.IsNull:
		return datum == nil || datum.Value == nil, nil
	case qom.IsEmpty:
		if datum == nil || datum.Value == nil {
			return true, nil
		}
		elements, _ := datum.Value.(models.Elements)
		return len(elements) == 0, nil
	case qom.Contains:
		if datum == nil || c.Operand2 == nil {
			return false, nil
		}
		want := e.operand(c.Operand2, lower)
		for _, v := range memberValues(datum.Value) {
			if compareNullable(normalize(v, lower), want) == 0 {
				return true, nil
			}
		}
		return false, nil
	}

	var current any
	if datum != nil {
		current = normalize(stored(datum.Value), lower)
	}

	switch c.Operator {
	case qom.In:
		candidates, _ := c.Operand2.([]any)
		for _, candidate := range candidates {
			if current != nil && compareNullable(current, e.operand(candidate, lower)) == 0 {
				return true, nil
			}
		}
		return false, nil
	case qom.Like:
		pattern, ok := c.Operand2.(string)
		if !ok {
			return false, fmt.Errorf("%w: like operand must be a string", models.ErrInvalidQuery)
		}
		s, ok := current.(string)
		if !ok {
			return false, nil
		}
		return e.like(pattern).MatchString(s), nil
	}

	want := e.operand(c.Operand2, lower)
	if current == nil || want == nil {
		return c.Operator == qom.NotEqualTo && (current == nil) != (want == nil), nil
	}
	n := compareNullable(current, want)
	switch c.Operator {
	case qom.EqualTo:
		return n == 0, nil
	case qom.NotEqualTo:
		return n != 0, nil
	case qom.LessThan:
		return n < 0, nil
	case qom.LessThanOrEqualTo:
		return n <= 0, nil
	case qom.GreaterThan:
		return n > 0, nil
	case qom.GreaterThanOrEqualTo:
		return n >= 0, nil
	}
	return false, fmt.Errorf("%w: unsupported operator %s", models.ErrInvalidQuery, c.Operator)
}

func operandPath(operand qom.DynamicOperand) (string, bool, error) {
	switch to := operand.(type) {
	case qom.PropertyValue:
		return to.Name, false, nil
	case qom.LowerCase:
		path, _, err := operandPath(to.Operand)
		return path, true, err
	}
	return "", false, fmt.Errorf("%w: unsupported operand %T", models.ErrInvalidQuery, operand)
}

// resolve follows a dotted property path through references.
func (e *evaluator) resolve(rec *models.RecordData, path string) *models.PropertyDatum {
	head, rest, nested := strings.Cut(path, ".")
	datum := rec.Properties[head]
	if !nested || datum == nil {
		return datum
	}
	ref, ok := datum.Value.(*models.RecordData)
	if !ok {
		return nil
	}
	target := e.load(ref.Identifier)
	if target == nil {
		return nil
	}
	return e.resolve(target, rest)
}

func (e *evaluator) load(identifier string) *models.RecordData {
	if rec, ok := e.cache[identifier]; ok {
		return rec
	}
	rec, err := e.backend.store.Get(identifier)
	if err != nil {
		if !errors.Is(err, models.ErrUnknownObject) {
			e.backend.logger.Warn("query: loading referenced record failed", "identifier", identifier, "error", err)
		}
		rec = nil
	}
	e.cache[identifier] = rec
	return rec
}

// scalar returns the comparable value of path in rec, for ordering.
func (e *evaluator) scalar(rec *models.RecordData, path string) any {
	datum := e.resolve(rec, path)
	if datum == nil {
		return nil
	}
	return stored(datum.Value)
}

// operand converts a query operand to the comparable form of stored values.
func (e *evaluator) operand(v any, lower bool) any {
	switch tv := v.(type) {
	case object.Object:
		id, _ := e.backend.session.GetIdentifierByObject(tv)
		return id
	case time.Time:
		return float64(tv.Unix())
	case *time.Time:
		if tv == nil {
			return nil
		}
		return float64(tv.Unix())
	}
	return normalize(v, lower)
}

func (e *evaluator) like(pattern string) *regexp.Regexp {
	if re, ok := e.likes[pattern]; ok {
		return re
	}
	var sb strings.Builder
	sb.WriteString("(?s)^")
	for _, r := range pattern {
		switch r {
		case '%':
			sb.WriteString(".*")
		case '_':
			sb.WriteString(".")
		default:
			sb.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	sb.WriteString("$")
	re := regexp.MustCompile(sb.String())
	if e.likes == nil {
		e.likes = make(map[string]*regexp.Regexp)
	}
	e.likes[pattern] = re
	return re
}

// stored returns the comparable form of a stored value: references compare
// by identifier, timestamps and numbers as float64.
func stored(v models.Value) any {
	switch tv := v.(type) {
	case models.Scalar:
		return normalize(tv.V, false)
	case models.Timestamp:
		return float64(tv)
	case *models.RecordData:
		return tv.Identifier
	}
	return nil
}

func memberValues(v models.Value) []any {
	elements, ok := v.(models.Elements)
	if !ok {
		return nil
	}
	out := make([]any, 0, len(elements))
	for _, el := range elements {
		out = append(out, stored(el.Value))
	}
	return out
}

func normalize(v any, lower bool) any {
	switch tv := v.(type) {
	case json.Number:
		if f, err := tv.Float64(); err == nil {
			return f
		}
		return tv.String()
	case string:
		if lower {
			return strings.ToLower(tv)
		}
		return tv
	case int:
		return float64(tv)
	case int8:
		return float64(tv)
	case int16:
		return float64(tv)
	case int32:
		return float64(tv)
	case int64:
		return float64(tv)
	case uint:
		return float64(tv)
	case uint8:
		return float64(tv)
	case uint16:
		return float64(tv)
	case uint32:
		return float64(tv)
	case uint64:
		return float64(tv)
	case float32:
		return float64(tv)
	}
	return v
}

// compareNullable orders nil first, numbers numerically, strings lexically
// and mixed number/string pairs numerically when the string parses.
func compareNullable(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	switch av := a.(type) {
	case float64:
		switch bv := b.(type) {
		case float64:
			return cmp.Compare(av, bv)
		case string:
			if f, err := strconv.ParseFloat(bv, 64); err == nil {
				return cmp.Compare(av, f)
			}
			return strings.Compare(strconv.FormatFloat(av, 'f', -1, 64), bv)
		case bool:
			return cmp.Compare(av, boolFloat(bv))
		}
	case string:
		switch bv := b.(type) {
		case string:
			return strings.Compare(av, bv)
		case float64:
			return -compareNullable(bv, av)
		}
	case bool:
		switch bv := b.(type) {
		case bool:
			return cmp.Compare(boolFloat(av), boolFloat(bv))
		case float64:
			return cmp.Compare(boolFloat(av), bv)
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
