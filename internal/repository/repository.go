// Package repository gives access to the aggregate roots of one class through
// a unit of work.
package repository

import (
	"context"
	"fmt"

	"github.com/kilupskalvis/persistence/internal/models"
	"github.com/kilupskalvis/persistence/internal/object"
	"github.com/kilupskalvis/persistence/internal/query"
)

// Manager is the unit of work a repository schedules changes on.
type Manager interface {
	Add(obj object.Object)
	Remove(obj object.Object)
	Update(obj object.Object) error
	Replace(existing, replacement object.Object) error
	GetObjectByIdentifier(ctx context.Context, identifier, objectType string) (object.Object, error)
	CreateQueryForType(typ string) *query.Query
}

// Repository holds the objects of one class.
type Repository struct {
	manager   Manager
	className string
}

// New creates a repository for className over manager.
func New(manager Manager, className string) (*Repository, error) {
	if manager == nil {
		return nil, fmt.Errorf("%w: nil manager", models.ErrInvalidArgument)
	}
	if className == "" {
		return nil, fmt.Errorf("%w: repository needs a class name", models.ErrInvalidArgument)
	}
	return &Repository{manager: manager, className: className}, nil
}

// ClassName returns the class this repository holds.
func (r *Repository) ClassName() string { return r.className }

func (r *Repository) check(obj object.Object) error {
	if obj == nil {
		return fmt.Errorf("%w: nil object", models.ErrInvalidArgument)
	}
	if obj.ClassName() != r.className {
		return fmt.Errorf("%w: object of class %s does not belong in the %s repository",
			models.ErrInvalidArgument, obj.ClassName(), r.className)
	}
	return nil
}

// Add schedules obj for insertion.
func (r *Repository) Add(obj object.Object) error {
	if err := r.check(obj); err != nil {
		return err
	}
	r.manager.Add(obj)
	return nil
}

// Remove schedules obj for deletion.
func (r *Repository) Remove(obj object.Object) error {
	if err := r.check(obj); err != nil {
		return err
	}
	r.manager.Remove(obj)
	return nil
}

// Update schedules a persisted obj for writing.
func (r *Repository) Update(obj object.Object) error {
	if err := r.check(obj); err != nil {
		return err
	}
	return r.manager.Update(obj)
}

// Replace puts replacement in the place of existing.
func (r *Repository) Replace(existing, replacement object.Object) error {
	if err := r.check(existing); err != nil {
		return err
	}
	if err := r.check(replacement); err != nil {
		return err
	}
	return r.manager.Replace(existing, replacement)
}

// CreateQuery returns a new query over the repository's class.
func (r *Repository) CreateQuery() *query.Query {
	return r.manager.CreateQueryForType(r.className)
}

// FindAll returns every object of the class.
func (r *Repository) FindAll(ctx context.Context) ([]object.Object, error) {
	return r.CreateQuery().Execute().ToArray(ctx)
}

// FindByIdentifier returns the object with identifier. An object of another
// class is reported as unknown.
func (r *Repository) FindByIdentifier(ctx context.Context, identifier string) (object.Object, error) {
	obj, err := r.manager.GetObjectByIdentifier(ctx, identifier, r.className)
	if err != nil {
		return nil, err
	}
	if obj.ClassName() != r.className {
		return nil, fmt.Errorf("%w: %s is a %s, not a %s", models.ErrUnknownObject, identifier, obj.ClassName(), r.className)
	}
	return obj, nil
}

// CountAll returns the number of stored objects of the class.
func (r *Repository) CountAll(ctx context.Context) (int, error) {
	return r.CreateQuery().Count(ctx)
}

// RemoveAll schedules every object of the class for deletion.
func (r *Repository) RemoveAll(ctx context.Context) error {
	objects, err := r.FindAll(ctx)
	if err != nil {
		return err
	}
	for _, obj := range objects {
		r.manager.Remove(obj)
	}
	return nil
}
