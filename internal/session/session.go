// Package session implements the identity session of a unit of work: the
// identity map between objects and identifiers, and the clean snapshots of
// reconstituted entities used for dirty checking.
//
// A Session is confined to one unit of work and is not safe for concurrent use.
package session

import (
	"fmt"
	"slices"
	"time"

	"github.com/kilupskalvis/persistence/internal/models"
	"github.com/kilupskalvis/persistence/internal/object"
	"github.com/kilupskalvis/persistence/internal/schema"
)

// Session tracks object identity and clean state.
type Session struct {
	schemas schema.Provider

	objectMap     map[object.Object]string
	identifierMap map[string]object.Object
	reconstituted map[object.Object]struct{}
	snapshots     map[string]*models.RecordData
}

// New creates an empty session. schemas may be nil, in which case identity
// properties are not consulted.
func New(schemas schema.Provider) *Session {
	s := &Session{schemas: schemas}
	s.Destroy()
	return s
}

// Destroy clears all state. The session stays usable.
func (s *Session) Destroy() {
	s.objectMap = make(map[object.Object]string)
	s.identifierMap = make(map[string]object.Object)
	s.reconstituted = make(map[object.Object]struct{})
	s.snapshots = make(map[string]*models.RecordData)
}

// RegisterObject binds obj to identifier. Registering a live object a second
// time overwrites the binding.
func (s *Session) RegisterObject(obj object.Object, identifier string) {
	s.objectMap[obj] = identifier
	s.identifierMap[identifier] = obj
}

// HasObject reports whether obj is known.
func (s *Session) HasObject(obj object.Object) bool {
	_, ok := s.objectMap[obj]
	return ok
}

// HasIdentifier reports whether an object is known for identifier.
func (s *Session) HasIdentifier(identifier string) bool {
	_, ok := s.identifierMap[identifier]
	return ok
}

// GetObjectByIdentifier returns the object bound to identifier.
func (s *Session) GetObjectByIdentifier(identifier string) (object.Object, error) {
	obj, ok := s.identifierMap[identifier]
	if !ok {
		return nil, fmt.Errorf("%w: no object for identifier %s", models.ErrUnknownObject, identifier)
	}
	return obj, nil
}

// UnregisterObject removes obj from the identity map, the reconstituted set
// and the snapshots. It changes nothing and fails if obj is unknown.
func (s *Session) UnregisterObject(obj object.Object) error {
	identifier, ok := s.objectMap[obj]
	if !ok {
		return fmt.Errorf("%w: object of class %s is not registered", models.ErrUnknownObject, obj.ClassName())
	}
	delete(s.objectMap, obj)
	if s.identifierMap[identifier] == obj {
		delete(s.identifierMap, identifier)
		delete(s.snapshots, identifier)
	}
	delete(s.reconstituted, obj)
	return nil
}

// RegisterReconstitutedEntity marks obj as loaded from storage and stores data
// as its clean state.
func (s *Session) RegisterReconstitutedEntity(obj object.Object, data *models.RecordData) {
	s.reconstituted[obj] = struct{}{}
	s.snapshots[data.Identifier] = data
}

// UnregisterReconstitutedEntity forgets that obj was loaded from storage.
func (s *Session) UnregisterReconstitutedEntity(obj object.Object) {
	if _, ok := s.reconstituted[obj]; !ok {
		return
	}
	delete(s.reconstituted, obj)
	if identifier, ok := s.objectMap[obj]; ok {
		delete(s.snapshots, identifier)
	}
}

// ReplaceReconstitutedEntity swaps old for replacement in the reconstituted
// set. The clean snapshot stays keyed by identifier and is kept.
func (s *Session) ReplaceReconstitutedEntity(old, replacement object.Object) {
	delete(s.reconstituted, old)
	s.reconstituted[replacement] = struct{}{}
}

// IsReconstitutedEntity reports whether obj was loaded from storage.
func (s *Session) IsReconstitutedEntity(obj object.Object) bool {
	_, ok := s.reconstituted[obj]
	return ok
}

// ReconstitutedEntities returns all reconstituted objects.
func (s *Session) ReconstitutedEntities() []object.Object {
	out := make([]object.Object, 0, len(s.reconstituted))
	for obj := range s.reconstituted {
		out = append(out, obj)
	}
	return out
}

// GetCleanStateOfProperty returns the snapshot datum of propertyName, or nil
// if obj is new or the property is unknown.
func (s *Session) GetCleanStateOfProperty(obj object.Object, propertyName string) *models.PropertyDatum {
	if !s.IsReconstitutedEntity(obj) {
		return nil
	}
	identifier, ok := s.GetIdentifierByObject(obj)
	if !ok {
		return nil
	}
	snapshot := s.snapshots[identifier]
	if snapshot == nil {
		return nil
	}
	return snapshot.Properties[propertyName]
}

// GetIdentifierByObject returns the identifier of obj: the session binding,
// else the single identity property declared by the schema, else the
// object's internal identity marker.
func (s *Session) GetIdentifierByObject(obj object.Object) (string, bool) {
	if isNil(obj) {
		return "", false
	}
	if identifier, ok := s.objectMap[obj]; ok {
		return identifier, true
	}
	if s.schemas != nil {
		if cs, err := s.schemas.ClassSchema(obj.ClassName()); err == nil {
			if names := cs.IdentityProperties(); len(names) == 1 {
				if v, ok := obj.GetProperty(names[0]); ok && v != nil {
					if id := fmt.Sprint(v); id != "" {
						return id, true
					}
				}
			}
		}
	}
	if id := obj.PersistenceState().Identifier(); id != "" {
		return id, true
	}
	return "", false
}

// IsDirty reports whether propertyName of obj differs from its clean state.
// Objects that were not reconstituted are always dirty; objects whose thaw is
// still pending are never dirty.
func (s *Session) IsDirty(obj object.Object, propertyName string) bool {
	if !s.IsReconstitutedEntity(obj) {
		return true
	}
	if obj.PersistenceState().IsPendingThaw() {
		return false
	}

	current, _ := obj.GetProperty(propertyName)
	clean := s.GetCleanStateOfProperty(obj, propertyName)

	if lazy, ok := current.(*object.LazyStorage); ok && !lazy.IsInitialized() {
		return false
	}
	var cleanValue models.Value
	if clean != nil {
		cleanValue = clean.Value
	}
	if isNil(current) && cleanValue == nil {
		return false
	}
	if clean == nil {
		return true
	}
	if clean.Multivalue {
		return s.isMultiValuedPropertyDirty(clean.Type, cleanValue, current)
	}
	return s.isSingleValuedPropertyDirty(clean.Type, cleanValue, current)
}

func (s *Session) isMultiValuedPropertyDirty(typ string, cleanValue models.Value, current any) bool {
	cleanElements, _ := cleanValue.(models.Elements)
	currentCount, ok := containerCount(current)
	if !ok {
		return true
	}
	if len(cleanElements) == 0 || len(cleanElements) != currentCount {
		return len(cleanElements) > 0 || currentCount > 0
	}

	if set, ok := current.(object.ReferenceSet); ok {
		cleanIDs := make([]string, 0, len(cleanElements))
		for _, el := range cleanElements {
			if ref, ok := el.Value.(*models.RecordData); ok {
				cleanIDs = append(cleanIDs, ref.Identifier)
			}
		}
		currentIDs := make([]string, 0, currentCount)
		for member := range set.All() {
			if id, ok := s.GetIdentifierByObject(member); ok {
				currentIDs = append(currentIDs, id)
			}
		}
		slices.Sort(cleanIDs)
		slices.Sort(currentIDs)
		return !slices.Equal(cleanIDs, currentIDs)
	}

	arr, ok := current.(*object.Array)
	if !ok {
		return true
	}
	for _, el := range cleanElements {
		v, ok := arr.Get(el.Index)
		if !ok {
			return true
		}
		if el.Value == nil && isNil(v) {
			continue
		}
		if models.IsContainerType(el.Type) {
			if s.isMultiValuedPropertyDirty(el.Type, el.Value, v) {
				return true
			}
		} else if s.isSingleValuedPropertyDirty(el.Type, el.Value, v) {
			return true
		}
	}
	return false
}

func (s *Session) isSingleValuedPropertyDirty(typ string, cleanValue models.Value, current any) bool {
	switch {
	case models.IsSimpleType(typ):
		scalar, ok := cleanValue.(models.Scalar)
		if !ok || isNil(current) {
			return true
		}
		want, err := object.Coerce(typ, scalar.V)
		if err != nil {
			return true
		}
		return !sameScalar(typ, want, current)
	case typ == models.TypeDateTime:
		ts, ok := cleanValue.(models.Timestamp)
		if !ok {
			return true
		}
		switch tv := current.(type) {
		case time.Time:
			return object.Epoch(tv) != ts
		case *time.Time:
			return tv == nil || object.Epoch(*tv) != ts
		}
		return true
	default:
		ref, ok := cleanValue.(*models.RecordData)
		if !ok {
			return true
		}
		obj, ok := current.(object.Object)
		if !ok || isNil(obj) {
			return true
		}
		id, ok := s.GetIdentifierByObject(obj)
		return !ok || id != ref.Identifier
	}
}

func containerCount(v any) (int, bool) {
	switch tv := v.(type) {
	case nil:
		return 0, true
	case object.ReferenceSet:
		return tv.Count(), true
	case *object.Array:
		return tv.Len(), true
	}
	return 0, false
}
