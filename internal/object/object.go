// Package object defines the in-memory side of persistence: the capability
// interface domain objects implement, their persistence bookkeeping, and the
// container values (arrays, reference sets) properties may hold.
package object

import (
	"context"
	"fmt"
)

// Object is a persistable domain object. Implementations must be pointer types:
// objects are compared by identity, never by content.
//
// GetProperty and SetProperty give the framework direct field access; they
// bypass any validation the domain type performs in its public setters.
type Object interface {
	ClassName() string
	GetProperty(name string) (any, bool)
	SetProperty(name string, value any) error
	PersistenceState() *State
}

// PropertyState tells whether an object's properties have been populated.
type PropertyState int

const (
	Populated PropertyState = iota
	PendingThaw
)

// Loader populates the properties of an object reconstituted without data.
type Loader func(ctx context.Context) error

// State carries the persistence bookkeeping of an object. Domain types embed it.
type State struct {
	identifier string
	metadata   map[string]any

	propertyState PropertyState
	pendingID     string
	loader        Loader
	loaderCtx     context.Context
}

// PersistenceState returns s; it makes any type embedding State satisfy that
// part of Object.
func (s *State) PersistenceState() *State { return s }

// Identifier returns the internal identity marker, or "".
func (s *State) Identifier() string { return s.identifier }

// SetIdentifier sets the internal identity marker.
func (s *State) SetIdentifier(id string) { s.identifier = id }

// Metadata returns the backend metadata attached at reconstitution.
func (s *State) Metadata() map[string]any { return s.metadata }

// SetMetadata attaches backend metadata.
func (s *State) SetMetadata(m map[string]any) { s.metadata = m }

// PropertyState returns whether properties are populated or pending.
func (s *State) PropertyState() PropertyState { return s.propertyState }

// IsPendingThaw reports whether properties still have to be loaded.
func (s *State) IsPendingThaw() bool { return s.propertyState == PendingThaw }

// PendingIdentifier returns the identifier a pending thaw will load.
func (s *State) PendingIdentifier() string { return s.pendingID }

// SetPendingThaw marks the object as not yet populated. The loader runs with
// ctx stripped of its cancellation, since it may run long after the call that
// reconstituted the object returned.
func (s *State) SetPendingThaw(ctx context.Context, identifier string, loader Loader) {
	s.propertyState = PendingThaw
	s.pendingID = identifier
	s.loader = loader
	s.loaderCtx = context.WithoutCancel(ctx)
}

// Activate runs the pending loader, if any. It runs at most once; a failed
// load leaves the object pending so the next read retries.
func (s *State) Activate() error {
	if s.propertyState != PendingThaw {
		return nil
	}
	loader, ctx, id := s.loader, s.loaderCtx, s.pendingID
	s.propertyState, s.loader, s.loaderCtx = Populated, nil, nil
	if loader == nil {
		return nil
	}
	if err := loader(ctx); err != nil {
		s.propertyState, s.loader, s.loaderCtx = PendingThaw, loader, ctx
		return fmt.Errorf("thaw %s: %w", id, err)
	}
	s.pendingID = ""
	return nil
}

// Property activates obj and returns the named property value.
func Property(obj Object, name string) (any, error) {
	if err := obj.PersistenceState().Activate(); err != nil {
		return nil, err
	}
	v, _ := obj.GetProperty(name)
	return v, nil
}
