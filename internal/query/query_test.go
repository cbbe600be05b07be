package query

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kilupskalvis/persistence/internal/models"
	"github.com/kilupskalvis/persistence/internal/object"
	"github.com/kilupskalvis/persistence/internal/qom"
	"github.com/kilupskalvis/persistence/internal/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	records      []*models.RecordData
	fetches      int
	counts       int
	lastLimit    int
	lastQueryPtr *Query
}

func (f *fakeBackend) GetObjectDataByQuery(_ context.Context, q *Query) ([]*models.RecordData, error) {
	f.fetches++
	f.lastLimit = q.Limit()
	f.lastQueryPtr = q
	if q.Limit() > 0 && q.Limit() < len(f.records) {
		return f.records[:q.Limit()], nil
	}
	return f.records, nil
}

func (f *fakeBackend) GetObjectCountByQuery(_ context.Context, _ *Query) (int, error) {
	f.counts++
	return len(f.records), nil
}

type fakeMapper struct{}

func (fakeMapper) MapToObjects(_ context.Context, records []*models.RecordData) ([]object.Object, error) {
	out := make([]object.Object, 0, len(records))
	for _, rec := range records {
		d := object.NewDynamic(rec.Classname)
		d.SetIdentifier(rec.Identifier)
		out = append(out, d)
	}
	return out, nil
}

func testFactory(backend Backend) *Factory {
	post := models.NewClassSchema("Post", models.ModelTypeEntity).
		AddProperty(models.PropertySchema{Name: "title", Type: models.TypeString}).
		AddProperty(models.PropertySchema{Name: "views", Type: models.TypeInteger}).
		AddProperty(models.PropertySchema{Name: "tags", Type: models.TypeArray}).
		AddProperty(models.PropertySchema{Name: "comments", Type: models.TypeReferenceSet, ElementType: "Comment"})
	return NewFactory(schema.NewRegistry(post), nil, backend, fakeMapper{})
}

func posts(ids ...string) []*models.RecordData {
	out := make([]*models.RecordData, 0, len(ids))
	for _, id := range ids {
		out = append(out, &models.RecordData{Identifier: id, Classname: "Post"})
	}
	return out
}

func TestQuery_Equals(t *testing.T) {
	q := testFactory(nil).Create("Post")

	c := q.Equals("title", "Hello").(*qom.Comparison)
	assert.Equal(t, qom.EqualTo, c.Operator)
	assert.Equal(t, qom.PropertyValue{Name: "title", SelectorName: "_entity"}, c.Operand1)

	c = q.Equals("title", nil).(*qom.Comparison)
	assert.Equal(t, qom.IsNull, c.Operator)

	c = q.EqualsIgnoreCase("title", "HeLLo").(*qom.Comparison)
	assert.Equal(t, "hello", c.Operand2)
	assert.IsType(t, qom.LowerCase{}, c.Operand1)
}

func TestQuery_Like(t *testing.T) {
	q := testFactory(nil).Create("Post")

	_, err := q.Like("title", 5, true)
	assert.True(t, errors.Is(err, models.ErrInvalidQuery))

	c, err := q.Like("title", "He%", false)
	require.NoError(t, err)
	assert.Equal(t, "lower(title) LIKE he%", c.String())
}

func TestQuery_MultiValuedChecks(t *testing.T) {
	q := testFactory(nil).Create("Post")

	_, err := q.Contains("title", "x")
	assert.True(t, errors.Is(err, models.ErrInvalidQuery))
	_, err = q.IsEmpty("views")
	assert.True(t, errors.Is(err, models.ErrInvalidQuery))

	_, err = q.Contains("tags", "go")
	assert.NoError(t, err)
	_, err = q.IsEmpty("comments")
	assert.NoError(t, err)
}

func TestQuery_In(t *testing.T) {
	q := testFactory(nil).Create("Post")

	c, err := q.In("views", []int{1, 2})
	require.NoError(t, err)
	assert.Equal(t, []any{1, 2}, c.(*qom.Comparison).Operand2)

	c, err = q.In("title", object.ArrayOf("a", "b"))
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, c.(*qom.Comparison).Operand2)

	_, err = q.In("views", 5)
	assert.True(t, errors.Is(err, models.ErrInvalidQuery))
	_, err = q.In("tags", []string{"a"})
	assert.True(t, errors.Is(err, models.ErrInvalidQuery))
}

func TestQuery_OrderingComparisons(t *testing.T) {
	q := testFactory(nil).Create("Post")

	_, err := q.LessThan("views", 10)
	assert.NoError(t, err)
	_, err = q.GreaterThanOrEqual("views", time.Now())
	assert.NoError(t, err)

	_, err = q.GreaterThan("views", []int{1})
	assert.True(t, errors.Is(err, models.ErrInvalidQuery))
	_, err = q.LessThanOrEqual("tags", 1)
	assert.True(t, errors.Is(err, models.ErrInvalidQuery))
}

func TestQuery_Logical(t *testing.T) {
	q := testFactory(nil).Create("Post")

	_, err := q.LogicalAnd()
	assert.True(t, errors.Is(err, models.ErrInvalidNumberOfConstraints))
	_, err = q.LogicalOr()
	assert.True(t, errors.Is(err, models.ErrInvalidNumberOfConstraints))

	single, err := q.LogicalAnd(q.Equals("title", "a"))
	require.NoError(t, err)
	assert.IsType(t, &qom.Comparison{}, single)

	c, err := q.LogicalOr(q.Equals("title", "a"), q.Equals("title", "b"), q.Equals("title", "c"))
	require.NoError(t, err)
	assert.Equal(t, "((title = a OR title = b) OR title = c)", c.String())

	assert.Equal(t, "NOT title = a", q.LogicalNot(q.Equals("title", "a")).String())
}

func TestQuery_LimitOffset(t *testing.T) {
	q := testFactory(nil).Create("Post")

	_, err := q.SetLimit(0)
	assert.True(t, errors.Is(err, models.ErrInvalidArgument))
	_, err = q.SetOffset(-1)
	assert.True(t, errors.Is(err, models.ErrInvalidArgument))

	_, err = q.SetLimit(5)
	require.NoError(t, err)
	_, err = q.SetOffset(2)
	require.NoError(t, err)
	assert.Equal(t, 5, q.Limit())
	assert.Equal(t, 2, q.Offset())
}

func TestResult_MaterializesOnce(t *testing.T) {
	backend := &fakeBackend{records: posts("a", "b")}
	result := testFactory(backend).Create("Post").Execute()
	ctx := context.Background()

	first, err := result.ToArray(ctx)
	require.NoError(t, err)
	second, err := result.ToArray(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	seq, err := result.All(ctx)
	require.NoError(t, err)
	n := 0
	for range seq {
		n++
	}
	assert.Equal(t, 2, n)

	obj, err := result.At(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "b", obj.PersistenceState().Identifier())

	count, err := result.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Equal(t, 1, backend.fetches)
	assert.Equal(t, 0, backend.counts)
}

func TestResult_ExecuteReturnsNewResult(t *testing.T) {
	backend := &fakeBackend{records: posts("a")}
	q := testFactory(backend).Create("Post")

	assert.NotSame(t, q.Execute(), q.Execute())
}

func TestResult_CountWithoutFetch(t *testing.T) {
	backend := &fakeBackend{records: posts("a", "b", "c")}
	result := testFactory(backend).Create("Post").Execute()

	n, err := result.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	_, err = result.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, backend.fetches)
	assert.Equal(t, 1, backend.counts)
}

func TestResult_GetFirstIsSideChannel(t *testing.T) {
	backend := &fakeBackend{records: posts("a", "b")}
	q := testFactory(backend).Create("Post")
	result := q.Execute()
	ctx := context.Background()

	obj, err := result.GetFirst(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", obj.PersistenceState().Identifier())
	assert.Equal(t, 1, backend.lastLimit)
	assert.NotSame(t, q, backend.lastQueryPtr)
	assert.Equal(t, 0, q.Limit())
	assert.False(t, result.initialized)

	all, err := result.ToArray(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Equal(t, 2, backend.fetches)

	obj, err = result.GetFirst(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", obj.PersistenceState().Identifier())
	assert.Equal(t, 2, backend.fetches)
}

func TestResult_GetFirstEmpty(t *testing.T) {
	result := testFactory(&fakeBackend{}).Create("Post").Execute()

	obj, err := result.GetFirst(context.Background())
	require.NoError(t, err)
	assert.Nil(t, obj)
}

func TestResult_IndexMutationStaysInMemory(t *testing.T) {
	backend := &fakeBackend{records: posts("a", "b")}
	result := testFactory(backend).Create("Post").Execute()
	ctx := context.Background()

	extra := object.NewDynamic("Post")
	require.NoError(t, result.Set(ctx, 2, extra))
	require.NoError(t, result.Unset(ctx, 0))

	ok, err := result.Exists(ctx, 1)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = result.Exists(ctx, 2)
	require.NoError(t, err)
	assert.False(t, ok)

	err = result.Set(ctx, 9, extra)
	assert.True(t, errors.Is(err, models.ErrInvalidArgument))

	n, err := result.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, backend.records, 2)
}

func TestResult_MissingBackend(t *testing.T) {
	result := testFactory(nil).Create("Post").Execute()

	_, err := result.ToArray(context.Background())
	assert.True(t, errors.Is(err, models.ErrMissingBackend))
}
