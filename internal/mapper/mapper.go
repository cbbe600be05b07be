// Package mapper turns record data into live object graphs. It is the only
// place that recurses over typed property values on the way in.
package mapper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kilupskalvis/persistence/internal/metrics"
	"github.com/kilupskalvis/persistence/internal/models"
	"github.com/kilupskalvis/persistence/internal/object"
	"github.com/kilupskalvis/persistence/internal/schema"
	"github.com/kilupskalvis/persistence/internal/session"
)

// PersistenceManager is what the mapper needs from the unit of work: loading
// data for deferred thaws and resolving lazy reference set members.
type PersistenceManager interface {
	GetObjectDataByIdentifier(ctx context.Context, identifier, objectType string) (*models.RecordData, error)
	GetObjectByIdentifier(ctx context.Context, identifier, objectType string) (object.Object, error)
}

// DataMapper reconstitutes objects from record data.
type DataMapper struct {
	session  *session.Session
	schemas  schema.Provider
	registry *object.Registry
	pm       PersistenceManager
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// Option configures a DataMapper.
type Option func(*DataMapper)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *DataMapper) { m.logger = logger }
}

// WithMetrics sets the metrics sink.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *DataMapper) { m.metrics = mt }
}

// New creates a DataMapper. The persistence manager is set later with
// SetPersistenceManager since it depends on the mapper itself.
func New(sess *session.Session, schemas schema.Provider, registry *object.Registry, opts ...Option) *DataMapper {
	m := &DataMapper{
		session:  sess,
		schemas:  schemas,
		registry: registry,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetPersistenceManager sets the manager used for deferred loads.
func (m *DataMapper) SetPersistenceManager(pm PersistenceManager) {
	m.pm = pm
}

// MapToObjects maps each record, preserving order.
func (m *DataMapper) MapToObjects(ctx context.Context, records []*models.RecordData) ([]object.Object, error) {
	objects := make([]object.Object, 0, len(records))
	for _, rec := range records {
		obj, err := m.MapToObject(ctx, rec)
		if err != nil {
			return nil, err
		}
		objects = append(objects, obj)
	}
	return objects, nil
}

// MapToObject returns the live object for rec. An object already known for
// rec's identifier is returned unchanged; this is what terminates cyclic
// graphs.
func (m *DataMapper) MapToObject(ctx context.Context, rec *models.RecordData) (object.Object, error) {
	if rec.IsEmpty() || rec.Identifier == "" {
		return nil, fmt.Errorf("%w: empty record (not found or access denied)", models.ErrInvalidObjectData)
	}
	if m.session.HasIdentifier(rec.Identifier) {
		m.metrics.RecordIdentityMapHit()
		return m.session.GetObjectByIdentifier(rec.Identifier)
	}
	if rec.Classname == "" {
		return m.mapUnknownReference(ctx, rec.Identifier)
	}

	cs, err := m.schemas.ClassSchema(rec.Classname)
	if err != nil {
		return nil, err
	}

	obj := m.registry.Instantiate(rec.Classname)
	m.session.RegisterObject(obj, rec.Identifier)
	if cs.ModelType == models.ModelTypeEntity {
		m.session.RegisterReconstitutedEntity(obj, rec)
	}
	m.metrics.RecordMapped()

	if len(rec.Properties) == 0 && len(cs.PropertyNames()) > 0 {
		if !cs.LazyLoadable {
			_ = m.session.UnregisterObject(obj)
			return nil, fmt.Errorf("%w: record %s of %s has no properties but the class is not lazy loadable",
				models.ErrPersistence, rec.Identifier, rec.Classname)
		}
		m.deferThaw(ctx, obj, cs, rec)
		return obj, nil
	}

	if err := m.thawProperties(ctx, obj, rec.Identifier, rec); err != nil {
		return nil, err
	}
	return obj, nil
}

// mapUnknownReference loads an identifier-only reference that is not in the
// identity map yet.
func (m *DataMapper) mapUnknownReference(ctx context.Context, identifier string) (object.Object, error) {
	if m.pm == nil {
		return nil, fmt.Errorf("%w: reference %s without class name", models.ErrInvalidObjectData, identifier)
	}
	data, err := m.pm.GetObjectDataByIdentifier(ctx, identifier, "")
	if err != nil {
		return nil, err
	}
	if data.Classname == "" {
		return nil, fmt.Errorf("%w: reference %s without class name", models.ErrInvalidObjectData, identifier)
	}
	return m.MapToObject(ctx, data)
}

func (m *DataMapper) deferThaw(ctx context.Context, obj object.Object, cs *models.ClassSchema, rec *models.RecordData) {
	identifier, classname := rec.Identifier, rec.Classname
	obj.PersistenceState().SetPendingThaw(ctx, identifier, func(ctx context.Context) error {
		if m.pm == nil {
			return fmt.Errorf("%w: no persistence manager to thaw %s", models.ErrPersistence, identifier)
		}
		m.logger.Debug("thawing lazy object", "class", classname, "identifier", identifier)
		m.metrics.RecordLazyThaw()
		data, err := m.pm.GetObjectDataByIdentifier(ctx, identifier, classname)
		if err != nil {
			return err
		}
		if err := m.thawProperties(ctx, obj, identifier, data); err != nil {
			return err
		}
		if cs.ModelType == models.ModelTypeEntity {
			m.session.RegisterReconstitutedEntity(obj, data)
		}
		return nil
	})
}

// thawProperties sets every schema-known, non-transient property of rec on obj,
// then the identity marker and metadata.
func (m *DataMapper) thawProperties(ctx context.Context, obj object.Object, identifier string, rec *models.RecordData) error {
	cs, err := m.schemas.ClassSchema(obj.ClassName())
	if err != nil {
		return err
	}

	for _, prop := range cs.Properties() {
		datum, ok := rec.Properties[prop.Name]
		if !ok || prop.Transient {
			continue
		}
		value, err := m.thawValue(ctx, datum.Type, datum.Value, prop.Lazy)
		if err != nil {
			return fmt.Errorf("%s.%s: %w", rec.Classname, prop.Name, err)
		}
		if err := obj.SetProperty(prop.Name, value); err != nil {
			return fmt.Errorf("%s.%s: %w", rec.Classname, prop.Name, err)
		}
	}

	obj.PersistenceState().SetIdentifier(identifier)
	if rec.Metadata != nil {
		obj.PersistenceState().SetMetadata(rec.Metadata)
	}
	return nil
}

// thawValue dispatches on the declared type of a stored value.
func (m *DataMapper) thawValue(ctx context.Context, typ string, value models.Value, lazy bool) (any, error) {
	switch {
	case models.IsSimpleType(typ):
		if value == nil {
			return nil, nil
		}
		scalar, ok := value.(models.Scalar)
		if !ok {
			return nil, fmt.Errorf("%w: %T is not a %s", models.ErrInvalidObjectData, value, typ)
		}
		return object.Coerce(typ, scalar.V)
	case typ == models.TypeArray:
		return m.mapArray(ctx, value)
	case typ == models.TypeReferenceSet:
		return m.mapReferenceSet(ctx, value, lazy)
	case typ == models.TypeDateTime:
		return m.mapDateTime(value)
	default:
		switch tv := value.(type) {
		case nil:
			return nil, nil
		case models.Absent:
			return nil, fmt.Errorf("%w: an expected %s was not found by the backend", models.ErrUnknownObject, typ)
		case *models.RecordData:
			return m.MapToObject(ctx, tv)
		}
		return nil, fmt.Errorf("%w: %T is not an object reference", models.ErrInvalidObjectData, value)
	}
}

// mapArray builds a key-preserving array from elements.
func (m *DataMapper) mapArray(ctx context.Context, value models.Value) (*object.Array, error) {
	arr := object.NewArray()
	if value == nil {
		return arr, nil
	}
	elements, ok := value.(models.Elements)
	if !ok {
		return nil, fmt.Errorf("%w: array value is %T", models.ErrInvalidObjectData, value)
	}
	for _, el := range elements {
		v, err := m.thawValue(ctx, el.Type, el.Value, false)
		if err != nil {
			return nil, err
		}
		arr.Set(el.Index, v)
	}
	return arr, nil
}

// mapReferenceSet builds a live reference set, or a lazy one holding only
// member identifiers.
func (m *DataMapper) mapReferenceSet(ctx context.Context, value models.Value, lazy bool) (object.ReferenceSet, error) {
	if value == nil {
		return object.NewStorage(), nil
	}
	elements, ok := value.(models.Elements)
	if !ok {
		return nil, fmt.Errorf("%w: reference set value is %T", models.ErrInvalidObjectData, value)
	}

	if lazy {
		identifiers := make([]string, 0, len(elements))
		for _, el := range elements {
			if ref, ok := el.Value.(*models.RecordData); ok && ref.Identifier != "" {
				identifiers = append(identifiers, ref.Identifier)
			}
		}
		return object.NewLazyStorage(identifiers, m.resolver(ctx)), nil
	}

	storage := object.NewStorage()
	for _, el := range elements {
		ref, ok := el.Value.(*models.RecordData)
		if !ok || ref == nil {
			continue
		}
		obj, err := m.MapToObject(ctx, ref)
		if err != nil {
			return nil, err
		}
		storage.Attach(obj)
	}
	return storage, nil
}

func (m *DataMapper) mapDateTime(value models.Value) (any, error) {
	switch tv := value.(type) {
	case nil:
		return nil, nil
	case models.Timestamp:
		return object.DateTime(tv), nil
	case models.Scalar:
		secs, err := object.Coerce(models.TypeInteger, tv.V)
		if err != nil {
			return nil, err
		}
		return object.DateTime(models.Timestamp(secs.(int))), nil
	}
	return nil, fmt.Errorf("%w: DateTime value is %T", models.ErrInvalidObjectData, value)
}

// resolver returns the lookup used by lazy reference sets. Failed lookups are
// skipped; anything other than a missing object is logged.
func (m *DataMapper) resolver(ctx context.Context) object.Resolver {
	ctx = context.WithoutCancel(ctx)
	return func(identifier string) (object.Object, bool) {
		if m.pm == nil {
			return nil, false
		}
		obj, err := m.pm.GetObjectByIdentifier(ctx, identifier, "")
		if err != nil {
			if !errors.Is(err, models.ErrUnknownObject) {
				m.logger.Warn("lazy reference set: lookup failed", "identifier", identifier, "error", err)
			} else {
				m.logger.Debug("lazy reference set: skipping missing member", "identifier", identifier)
			}
			return nil, false
		}
		m.metrics.RecordLazyResolution()
		return obj, true
	}
}
