package backend

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kilupskalvis/persistence/internal/models"
	"github.com/kilupskalvis/persistence/internal/object"
)

// Commit persists added aggregate roots and changed entities with everything
// reachable from them, then removes the removed entities. All writes are
// applied in one changeset; the session is only updated once the store has
// accepted it.
func (b *Backend) Commit(ctx context.Context, added, changed, removed []object.Object) error {
	if !b.IsConnected() {
		return fmt.Errorf("%w: backend is not connected", models.ErrPersistence)
	}
	c := &commit{
		Backend:    b,
		changes:    models.NewChangeset(),
		visited:    make(map[object.Object]string),
		inProgress: make(map[object.Object]bool),
		deleted:    make(map[string]bool),
	}

	for _, obj := range added {
		if _, err := c.persistObject(obj); err != nil {
			return err
		}
	}
	for _, obj := range changed {
		if _, err := c.persistObject(obj); err != nil {
			return err
		}
	}
	if err := c.processDropped(); err != nil {
		return err
	}
	for _, obj := range removed {
		if !b.session.HasObject(obj) {
			continue
		}
		id, _ := b.session.GetIdentifierByObject(obj)
		if err := c.removeEntity(id, obj.ClassName()); err != nil {
			return err
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if c.changes.Len() > 0 {
		if err := b.store.Apply(c.changes); err != nil {
			return fmt.Errorf("%w: apply changeset: %w", models.ErrPersistence, err)
		}
	}
	for _, fn := range c.after {
		fn()
	}
	for id := range c.deleted {
		if obj, err := b.session.GetObjectByIdentifier(id); err == nil {
			b.session.UnregisterReconstitutedEntity(obj)
			_ = b.session.UnregisterObject(obj)
		}
	}
	b.logger.Debug("commit applied", "writes", c.changes.Len(), "deleted", len(c.deleted))
	return nil
}

// commit is the state of one Commit call.
type commit struct {
	*Backend
	changes *models.Changeset

	visited    map[object.Object]string
	inProgress map[object.Object]bool
	deleted    map[string]bool
	dropped    []droppedReference
	after      []func()
}

// droppedReference is an entity referenced in a clean snapshot but no longer
// by the current object graph.
type droppedReference struct {
	identifier string
	className  string
}

// persistObject writes obj if needed and returns its identifier.
func (c *commit) persistObject(obj object.Object) (string, error) {
	if id, ok := c.visited[obj]; ok {
		return id, nil
	}
	if c.inProgress[obj] {
		return "", fmt.Errorf("%w: value object %s references itself", models.ErrPersistence, obj.ClassName())
	}
	cs, err := c.classSchema(obj.ClassName())
	if err != nil {
		return "", err
	}
	if cs.ModelType == models.ModelTypeValueObject {
		return c.persistValueObject(obj, cs)
	}
	return c.persistEntity(obj, cs)
}

func (c *commit) persistEntity(obj object.Object, cs *models.ClassSchema) (string, error) {
	isNew := !c.session.HasObject(obj)
	id, ok := c.session.GetIdentifierByObject(obj)
	if !ok || id == "" {
		id = uuid.NewString()
	}
	c.visited[obj] = id

	if !isNew && obj.PersistenceState().IsPendingThaw() {
		return id, nil
	}

	rec := &models.RecordData{
		Identifier: id,
		Classname:  cs.ClassName,
		Properties: make(map[string]*models.PropertyDatum),
		Metadata:   obj.PersistenceState().Metadata(),
	}
	reconstituted := !isNew && c.session.IsReconstitutedEntity(obj)
	for _, prop := range cs.Properties() {
		if prop.Transient {
			continue
		}
		value, _ := obj.GetProperty(prop.Name)
		if reconstituted && !c.session.IsDirty(obj, prop.Name) {
			if err := c.traverseClean(value); err != nil {
				return "", err
			}
			continue
		}
		datum, err := c.flattenProperty(prop, value)
		if err != nil {
			return "", fmt.Errorf("%s.%s: %w", cs.ClassName, prop.Name, err)
		}
		if reconstituted {
			c.collectDropped(obj, prop, value)
		}
		rec.Properties[prop.Name] = datum
	}

	switch {
	case isNew || !reconstituted:
		c.changes.Put(models.OperationInsert, rec)
		c.after = append(c.after, func() {
			c.session.RegisterObject(obj, id)
			c.session.RegisterReconstitutedEntity(obj, rec)
			obj.PersistenceState().SetIdentifier(id)
		})
	case len(rec.Properties) > 0:
		merged := c.mergeSnapshot(obj, rec)
		c.changes.Put(models.OperationUpdate, merged)
		c.after = append(c.after, func() {
			c.session.RegisterReconstitutedEntity(obj, merged)
		})
	}
	return id, nil
}

// mergeSnapshot overlays the dirty properties in rec on the clean state.
func (c *commit) mergeSnapshot(obj object.Object, rec *models.RecordData) *models.RecordData {
	cs, _ := c.classSchema(rec.Classname)
	merged := &models.RecordData{
		Identifier: rec.Identifier,
		Classname:  rec.Classname,
		Properties: make(map[string]*models.PropertyDatum),
		Metadata:   rec.Metadata,
	}
	for _, name := range cs.PropertyNames() {
		if datum, ok := rec.Properties[name]; ok {
			merged.Properties[name] = datum
		} else if clean := c.session.GetCleanStateOfProperty(obj, name); clean != nil {
			merged.Properties[name] = flattenClean(clean)
		}
	}
	return merged
}

// flattenClean strips expanded references from a clean datum down to
// identifier references, as stored.
func flattenClean(d *models.PropertyDatum) *models.PropertyDatum {
	return &models.PropertyDatum{Type: d.Type, Multivalue: d.Multivalue, Value: referencesOnly(d.Value)}
}

func referencesOnly(v models.Value) models.Value {
	switch tv := v.(type) {
	case *models.RecordData:
		return tv.Reference()
	case models.Absent:
		return nil
	case models.Elements:
		out := make(models.Elements, 0, len(tv))
		for _, el := range tv {
			if _, absent := el.Value.(models.Absent); absent {
				continue
			}
			out = append(out, &models.Element{Index: el.Index, Type: el.Type, Value: referencesOnly(el.Value)})
		}
		return out
	}
	return v
}

func (c *commit) persistValueObject(obj object.Object, cs *models.ClassSchema) (string, error) {
	if c.session.HasObject(obj) {
		id, _ := c.session.GetIdentifierByObject(obj)
		c.visited[obj] = id
		return id, nil
	}

	c.inProgress[obj] = true
	rec := &models.RecordData{Classname: cs.ClassName, Properties: make(map[string]*models.PropertyDatum)}
	for _, prop := range cs.Properties() {
		if prop.Transient {
			continue
		}
		value, _ := obj.GetProperty(prop.Name)
		datum, err := c.flattenProperty(prop, value)
		if err != nil {
			return "", fmt.Errorf("%s.%s: %w", cs.ClassName, prop.Name, err)
		}
		rec.Properties[prop.Name] = datum
	}
	delete(c.inProgress, obj)

	id, err := contentHash(rec)
	if err != nil {
		return "", err
	}
	rec.Identifier = id
	c.visited[obj] = id

	if _, pending := c.changes.Lookup(id); !pending && !c.exists(id) {
		c.changes.Put(models.OperationInsert, rec)
	}
	c.after = append(c.after, func() {
		if !c.session.HasIdentifier(id) {
			c.session.RegisterObject(obj, id)
		}
		obj.PersistenceState().SetIdentifier(id)
	})
	return id, nil
}

// exists reports whether the store already holds identifier.
func (c *commit) exists(identifier string) bool {
	if c.session.HasIdentifier(identifier) {
		return true
	}
	_, err := c.store.Get(identifier)
	return err == nil
}

// contentHash identifies a value object by its class and properties.
func contentHash(rec *models.RecordData) (string, error) {
	data, err := json.Marshal(struct {
		Classname  string                           `json:"classname"`
		Properties map[string]*models.PropertyDatum `json:"properties"`
	}{rec.Classname, rec.Properties})
	if err != nil {
		return "", fmt.Errorf("hash value object: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// processObject returns the identifier of a referenced object, persisting it
// unless it is a known aggregate root, which is only persisted on its own.
func (c *commit) processObject(obj object.Object) (string, error) {
	cs, err := c.classSchema(obj.ClassName())
	if err != nil {
		return "", err
	}
	if cs.AggregateRoot && c.session.HasObject(obj) {
		id, _ := c.session.GetIdentifierByObject(obj)
		return id, nil
	}
	return c.persistObject(obj)
}

// traverseClean persists objects reachable through a property that did not
// change, since dirty checking does not recurse. Unresolved lazy sets are
// left alone.
func (c *commit) traverseClean(value any) error {
	switch tv := value.(type) {
	case nil:
		return nil
	case *object.LazyStorage:
		if !tv.IsInitialized() {
			return nil
		}
		for member := range tv.All() {
			if _, err := c.processObject(member); err != nil {
				return err
			}
		}
	case object.ReferenceSet:
		for member := range tv.All() {
			if _, err := c.processObject(member); err != nil {
				return err
			}
		}
	case *object.Array:
		for _, v := range tv.All() {
			if err := c.traverseClean(v); err != nil {
				return err
			}
		}
	case object.Object:
		_, err := c.processObject(tv)
		return err
	}
	return nil
}

// flattenProperty converts a property value into its stored datum.
func (c *commit) flattenProperty(prop *models.PropertySchema, value any) (*models.PropertyDatum, error) {
	datum := &models.PropertyDatum{Type: prop.Type, Multivalue: models.IsContainerType(prop.Type)}
	if value == nil {
		return datum, nil
	}
	v, err := c.flattenValue(prop.Type, value)
	if err != nil {
		return nil, err
	}
	datum.Value = v
	return datum, nil
}

func (c *commit) flattenValue(typ string, value any) (models.Value, error) {
	if value == nil {
		return nil, nil
	}
	switch {
	case models.IsSimpleType(typ):
		v, err := object.Coerce(typ, value)
		if err != nil {
			return nil, err
		}
		return models.Scalar{V: v}, nil
	case typ == models.TypeDateTime:
		switch tv := value.(type) {
		case time.Time:
			return object.Epoch(tv), nil
		case *time.Time:
			if tv == nil {
				return nil, nil
			}
			return object.Epoch(*tv), nil
		}
		return nil, fmt.Errorf("%w: expected time.Time, got %T", models.ErrPersistence, value)
	case typ == models.TypeArray:
		arr, ok := value.(*object.Array)
		if !ok {
			return nil, fmt.Errorf("%w: expected *object.Array, got %T", models.ErrPersistence, value)
		}
		return c.flattenArray(arr)
	case typ == models.TypeReferenceSet:
		set, ok := value.(object.ReferenceSet)
		if !ok {
			return nil, fmt.Errorf("%w: expected a reference set, got %T", models.ErrPersistence, value)
		}
		return c.flattenReferenceSet(set)
	default:
		obj, ok := value.(object.Object)
		if !ok {
			return nil, fmt.Errorf("%w: expected an object of class %s, got %T", models.ErrPersistence, typ, value)
		}
		id, err := c.processObject(obj)
		if err != nil {
			return nil, err
		}
		return &models.RecordData{Identifier: id, Classname: obj.ClassName()}, nil
	}
}

func (c *commit) flattenArray(arr *object.Array) (models.Elements, error) {
	elements := make(models.Elements, 0, arr.Len())
	for key, v := range arr.All() {
		typ, err := valueType(v)
		if err != nil {
			return nil, err
		}
		fv, err := c.flattenValue(typ, v)
		if err != nil {
			return nil, err
		}
		elements = append(elements, &models.Element{Index: key, Type: typ, Value: fv})
	}
	return elements, nil
}

func (c *commit) flattenReferenceSet(set object.ReferenceSet) (models.Elements, error) {
	if lazy, ok := set.(*object.LazyStorage); ok && !lazy.IsInitialized() {
		return nil, fmt.Errorf("%w: unresolved lazy reference set is not dirty and cannot be flattened", models.ErrPersistence)
	}
	elements := make(models.Elements, 0, set.Count())
	for member := range set.All() {
		id, err := c.processObject(member)
		if err != nil {
			return nil, err
		}
		elements = append(elements, &models.Element{
			Type:  member.ClassName(),
			Value: &models.RecordData{Identifier: id, Classname: member.ClassName()},
		})
	}
	return elements, nil
}

// valueType returns the stored type name of an array element.
func valueType(v any) (string, error) {
	switch tv := v.(type) {
	case nil:
		return "null", nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return models.TypeInteger, nil
	case float32, float64:
		return models.TypeFloat, nil
	case bool:
		return models.TypeBoolean, nil
	case string:
		return models.TypeString, nil
	case time.Time, *time.Time:
		return models.TypeDateTime, nil
	case *object.Array:
		return models.TypeArray, nil
	case object.ReferenceSet:
		return "", fmt.Errorf("%w: reference sets inside arrays are not supported", models.ErrPersistence)
	case object.Object:
		return tv.ClassName(), nil
	}
	return "", fmt.Errorf("%w: unsupported array element %T", models.ErrPersistence, v)
}

// collectDropped remembers non-root entities the clean state of prop
// referenced that value no longer holds.
func (c *commit) collectDropped(obj object.Object, prop *models.PropertySchema, value any) {
	clean := c.session.GetCleanStateOfProperty(obj, prop.Name)
	if clean == nil {
		return
	}
	switch cv := clean.Value.(type) {
	case *models.RecordData:
		if value == nil {
			c.dropped = append(c.dropped, droppedReference{cv.Identifier, cv.Classname})
		}
	case models.Elements:
		current := make(map[string]bool)
		collectIdentifiers(c, value, current)
		for _, ref := range cleanReferences(cv) {
			if !current[ref.identifier] {
				c.dropped = append(c.dropped, ref)
			}
		}
	}
}

func collectIdentifiers(c *commit, value any, into map[string]bool) {
	switch tv := value.(type) {
	case object.ReferenceSet:
		for member := range tv.All() {
			if id, ok := c.session.GetIdentifierByObject(member); ok {
				into[id] = true
			}
		}
	case *object.Array:
		for _, v := range tv.All() {
			collectIdentifiers(c, v, into)
		}
	case object.Object:
		if id, ok := c.session.GetIdentifierByObject(tv); ok {
			into[id] = true
		}
	}
}

func cleanReferences(elements models.Elements) []droppedReference {
	var refs []droppedReference
	for _, el := range elements {
		switch v := el.Value.(type) {
		case *models.RecordData:
			refs = append(refs, droppedReference{v.Identifier, el.Type})
		case models.Elements:
			refs = append(refs, cleanReferences(v)...)
		}
	}
	return refs
}

// processDropped removes dropped non-root entities that were not reached
// again during this commit.
func (c *commit) processDropped() error {
	for _, ref := range c.dropped {
		if !c.session.HasIdentifier(ref.identifier) {
			continue
		}
		obj, _ := c.session.GetObjectByIdentifier(ref.identifier)
		if _, reached := c.visited[obj]; reached {
			continue
		}
		cs, err := c.classSchema(ref.className)
		if err != nil || cs.ModelType != models.ModelTypeEntity || cs.AggregateRoot {
			continue
		}
		if err := c.removeEntity(ref.identifier, ref.className); err != nil {
			return err
		}
	}
	return nil
}

// removeEntity deletes identifier and, recursively, the non-root entities
// its stored record references.
func (c *commit) removeEntity(identifier, className string) error {
	if identifier == "" || c.deleted[identifier] {
		return nil
	}
	c.deleted[identifier] = true
	c.changes.Delete(identifier, className)

	rec, err := c.store.Get(identifier)
	if errors.Is(err, models.ErrUnknownObject) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, datum := range rec.Properties {
		var refs []droppedReference
		switch v := datum.Value.(type) {
		case *models.RecordData:
			refs = append(refs, droppedReference{v.Identifier, v.Classname})
		case models.Elements:
			refs = cleanReferences(v)
		}
		for _, ref := range refs {
			cs, err := c.classSchema(ref.className)
			if err != nil || cs.ModelType != models.ModelTypeEntity || cs.AggregateRoot {
				continue
			}
			if obj, err := c.session.GetObjectByIdentifier(ref.identifier); err == nil {
				if _, reached := c.visited[obj]; reached {
					continue
				}
			}
			if err := c.removeEntity(ref.identifier, ref.className); err != nil {
				return err
			}
		}
	}
	return nil
}
