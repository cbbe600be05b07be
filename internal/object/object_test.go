package object

import (
	"bytes"
	"context"
	"encoding/gob"
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/kilupskalvis/persistence/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActivate_RunsOnce(t *testing.T) {
	d := NewDynamic("Author")
	calls := 0
	d.SetPendingThaw(context.Background(), "a1", func(context.Context) error {
		calls++
		return d.SetProperty("name", "Ada")
	})
	assert.True(t, d.IsPendingThaw())
	assert.Equal(t, "a1", d.PendingIdentifier())

	assert.Equal(t, "Ada", d.Get("name"))
	assert.Equal(t, "Ada", d.Get("name"))
	assert.Equal(t, 1, calls)
	assert.Equal(t, Populated, d.PropertyState())
}

func TestActivate_FailureStaysPending(t *testing.T) {
	d := NewDynamic("Author")
	fail := true
	d.SetPendingThaw(context.Background(), "a1", func(context.Context) error {
		if fail {
			return errors.New("backend down")
		}
		return d.SetProperty("name", "Ada")
	})

	_, err := Property(d, "name")
	require.Error(t, err)
	assert.True(t, d.IsPendingThaw())

	fail = false
	v, err := Property(d, "name")
	require.NoError(t, err)
	assert.Equal(t, "Ada", v)
}

func TestActivate_IgnoresCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	d := NewDynamic("Author")
	d.SetPendingThaw(ctx, "a1", func(ctx context.Context) error {
		return ctx.Err()
	})
	cancel()

	require.NoError(t, d.Activate())
}

func TestDynamic_SetAfterThaw(t *testing.T) {
	d := NewDynamic("Author")
	d.SetPendingThaw(context.Background(), "a1", func(context.Context) error {
		return d.SetProperty("name", "stored")
	})

	d.Set("name", "changed")
	assert.Equal(t, "changed", d.Get("name"))
}

func TestRegistry_Instantiate(t *testing.T) {
	type custom struct{ *Dynamic }
	r := NewRegistry()
	r.Register("Post", func() Object { return custom{NewDynamic("Post")} })

	_, ok := r.Instantiate("Post").(custom)
	assert.True(t, ok)
	_, ok = r.Instantiate("Other").(*Dynamic)
	assert.True(t, ok)

	var nilRegistry *Registry
	assert.Equal(t, "X", nilRegistry.Instantiate("X").ClassName())
}

func TestArray_OrderAndKeys(t *testing.T) {
	a := NewArray()
	a.Set("x", 1)
	a.Set(5, 2)
	a.Append(3)
	a.Set("x", 4)

	assert.Equal(t, []any{"x", 5, 6}, a.Keys())
	v, _ := a.Get("x")
	assert.Equal(t, 4, v)

	a.Delete(5)
	assert.Equal(t, 2, a.Len())
	assert.False(t, a.Has(5))

	var keys []any
	for k := range a.All() {
		keys = append(keys, k)
	}
	assert.Equal(t, []any{"x", 6}, keys)
}

func TestArrayOf(t *testing.T) {
	a := ArrayOf("a", "b")
	assert.Equal(t, []any{0, 1}, a.Keys())
	var nilArray *Array
	assert.Equal(t, 0, nilArray.Len())
}

func TestStorage_Identity(t *testing.T) {
	a, b := NewDynamic("C"), NewDynamic("C")
	s := NewStorage(a, b, a)
	assert.Equal(t, 2, s.Count())

	s.Detach(a)
	assert.False(t, s.Contains(a))
	assert.True(t, s.Contains(b))
	assert.Equal(t, []Object{b}, s.Objects())

	s.Clear()
	assert.Equal(t, 0, s.Count())
}

func TestLazyStorage_CountDoesNotResolve(t *testing.T) {
	resolved := 0
	objs := map[string]Object{"a": NewDynamic("C"), "b": NewDynamic("C")}
	lazy := NewLazyStorage([]string{"a", "b", "gone"}, func(id string) (Object, bool) {
		resolved++
		obj, ok := objs[id]
		return obj, ok
	})

	assert.Equal(t, 3, lazy.Count())
	assert.Equal(t, 0, resolved)
	assert.False(t, lazy.IsInitialized())

	assert.True(t, lazy.Contains(objs["a"]))
	assert.Equal(t, 3, resolved)
	assert.Equal(t, 2, lazy.Count())

	lazy.Objects()
	assert.Equal(t, 3, resolved)
	assert.Equal(t, []string{"a", "b", "gone"}, lazy.Identifiers())
}

func TestLazyStorage_MutationResolves(t *testing.T) {
	member := NewDynamic("C")
	lazy := NewLazyStorage([]string{"a"}, func(string) (Object, bool) { return member, true })

	extra := NewDynamic("C")
	lazy.Attach(extra)
	assert.True(t, lazy.IsInitialized())
	assert.Equal(t, 2, lazy.Count())
}

func TestLazyStorage_SerializationFails(t *testing.T) {
	lazy := NewLazyStorage([]string{"a"}, nil)

	_, err := json.Marshal(lazy)
	assert.True(t, errors.Is(err, models.ErrSerializationUnsupported))

	_, err = lazy.MarshalBinary()
	assert.True(t, errors.Is(err, models.ErrSerializationUnsupported))

	err = gob.NewEncoder(&bytes.Buffer{}).Encode(lazy)
	assert.Error(t, err)
}

func TestCoerce(t *testing.T) {
	tests := []struct {
		typ  string
		in   any
		want any
	}{
		{models.TypeInteger, "42", 42},
		{models.TypeInteger, json.Number("7"), 7},
		{models.TypeInteger, 3.9, 3},
		{models.TypeFloat, "1.5", 1.5},
		{models.TypeFloat, 2, 2.0},
		{models.TypeBoolean, "0", false},
		{models.TypeBoolean, 1, true},
		{models.TypeString, 12.0, "12"},
		{models.TypeString, true, "1"},
		{models.TypeInteger, nil, nil},
	}
	for _, tt := range tests {
		got, err := Coerce(tt.typ, tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "%s(%v)", tt.typ, tt.in)
	}

	_, err := Coerce(models.TypeInteger, "abc")
	assert.True(t, errors.Is(err, models.ErrPersistence))
}

func TestCoerce_IntegerOverflow(t *testing.T) {
	tests := []any{
		"99999999999999999999",
		"-99999999999999999999",
		"1e30",
		uint64(math.MaxUint64),
		uint(math.MaxUint),
		1e19,
		-1e19,
		float32(1e30),
		math.Inf(1),
		math.Inf(-1),
		math.NaN(),
	}
	for _, in := range tests {
		_, err := Coerce(models.TypeInteger, in)
		assert.True(t, errors.Is(err, models.ErrPersistence), "%T(%v)", in, in)
	}

	got, err := Coerce(models.TypeInteger, "9223372036854775807")
	require.NoError(t, err)
	assert.Equal(t, math.MaxInt, got)

	got, err = Coerce(models.TypeInteger, uint64(math.MaxInt))
	require.NoError(t, err)
	assert.Equal(t, math.MaxInt, got)

	got, err = Coerce(models.TypeInteger, -9.5)
	require.NoError(t, err)
	assert.Equal(t, -9, got)
}

func TestDateTimeEpoch(t *testing.T) {
	ts := models.Timestamp(1700000000)
	assert.Equal(t, time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC), DateTime(ts))
	assert.Equal(t, ts, Epoch(DateTime(ts)))
}
