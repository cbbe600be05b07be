package query

import (
	"context"
	"fmt"
	"iter"

	"github.com/kilupskalvis/persistence/internal/models"
	"github.com/kilupskalvis/persistence/internal/object"
)

// Result is the lazily materialized result of a query. The backend is asked
// for the records at most once per Result.
type Result struct {
	query       *Query
	objects     []object.Object
	initialized bool
	count       int
	counted     bool
}

// Query returns the query that produced r.
func (r *Result) Query() *Query { return r.query }

func (r *Result) initialize(ctx context.Context) error {
	if r.initialized {
		return nil
	}
	objects, err := r.fetch(ctx, r.query)
	if err != nil {
		return err
	}
	r.objects, r.initialized = objects, true
	return nil
}

func (r *Result) fetch(ctx context.Context, q *Query) ([]object.Object, error) {
	if q.backend == nil {
		return nil, models.ErrMissingBackend
	}
	records, err := q.backend.GetObjectDataByQuery(ctx, q)
	if err != nil {
		return nil, err
	}
	return q.mapper.MapToObjects(ctx, records)
}

// ToArray returns the materialized objects.
func (r *Result) ToArray(ctx context.Context) ([]object.Object, error) {
	if err := r.initialize(ctx); err != nil {
		return nil, err
	}
	out := make([]object.Object, len(r.objects))
	copy(out, r.objects)
	return out, nil
}

// All returns an iterator over the materialized objects.
func (r *Result) All(ctx context.Context) (iter.Seq2[int, object.Object], error) {
	if err := r.initialize(ctx); err != nil {
		return nil, err
	}
	return func(yield func(int, object.Object) bool) {
		for i, obj := range r.objects {
			if !yield(i, obj) {
				return
			}
		}
	}, nil
}

// Exists reports whether index i is populated.
func (r *Result) Exists(ctx context.Context, i int) (bool, error) {
	if err := r.initialize(ctx); err != nil {
		return false, err
	}
	return i >= 0 && i < len(r.objects), nil
}

// At returns the object at index i, or nil when out of range.
func (r *Result) At(ctx context.Context, i int) (object.Object, error) {
	if err := r.initialize(ctx); err != nil {
		return nil, err
	}
	if i < 0 || i >= len(r.objects) {
		return nil, nil
	}
	return r.objects[i], nil
}

// Set replaces the object at index i, or appends when i equals the length.
// Only the in-memory result changes.
func (r *Result) Set(ctx context.Context, i int, obj object.Object) error {
	if err := r.initialize(ctx); err != nil {
		return err
	}
	switch {
	case i >= 0 && i < len(r.objects):
		r.objects[i] = obj
	case i == len(r.objects):
		r.objects = append(r.objects, obj)
	default:
		return fmt.Errorf("%w: index %d out of range [0,%d]", models.ErrInvalidArgument, i, len(r.objects))
	}
	r.counted = false
	return nil
}

// Unset removes the object at index i, shifting later objects down. Only the
// in-memory result changes.
func (r *Result) Unset(ctx context.Context, i int) error {
	if err := r.initialize(ctx); err != nil {
		return err
	}
	if i < 0 || i >= len(r.objects) {
		return nil
	}
	r.objects = append(r.objects[:i], r.objects[i+1:]...)
	r.counted = false
	return nil
}

// Count returns the number of objects. An unmaterialized result asks the
// backend for a count instead of fetching.
func (r *Result) Count(ctx context.Context) (int, error) {
	if r.initialized {
		return len(r.objects), nil
	}
	if r.counted {
		return r.count, nil
	}
	n, err := r.query.Count(ctx)
	if err != nil {
		return 0, err
	}
	r.count, r.counted = n, true
	return n, nil
}

// GetFirst returns the first object or nil. An unmaterialized result fetches
// a single record without materializing itself.
func (r *Result) GetFirst(ctx context.Context) (object.Object, error) {
	if r.initialized {
		if len(r.objects) == 0 {
			return nil, nil
		}
		return r.objects[0], nil
	}
	q := r.query.clone()
	q.limit = 1
	objects, err := r.fetch(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(objects) == 0 {
		return nil, nil
	}
	return objects[0], nil
}
