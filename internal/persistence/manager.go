// Package persistence coordinates one unit of work: it collects added,
// changed and removed objects and commits them through the backend in one go.
//
// A Manager and its Session are confined to one unit of work and are not safe
// for concurrent use. Concurrent units of work each get their own pair.
package persistence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"github.com/kilupskalvis/persistence/internal/metrics"
	"github.com/kilupskalvis/persistence/internal/models"
	"github.com/kilupskalvis/persistence/internal/object"
	"github.com/kilupskalvis/persistence/internal/qom"
	"github.com/kilupskalvis/persistence/internal/query"
	"github.com/kilupskalvis/persistence/internal/schema"
	"github.com/kilupskalvis/persistence/internal/session"
)

// Backend is the raw storage backend.
type Backend interface {
	Commit(ctx context.Context, added, changed, removed []object.Object) error
	GetObjectDataByIdentifier(ctx context.Context, identifier, objectType string) (*models.RecordData, error)
	GetObjectDataByQuery(ctx context.Context, q *query.Query) ([]*models.RecordData, error)
	GetObjectCountByQuery(ctx context.Context, q *query.Query) (int, error)
	IsConnected() bool
}

// Mapper reconstitutes objects from record data.
type Mapper interface {
	MapToObject(ctx context.Context, rec *models.RecordData) (object.Object, error)
	MapToObjects(ctx context.Context, records []*models.RecordData) ([]object.Object, error)
}

// Manager is the unit of work.
type Manager struct {
	backend Backend
	mapper  Mapper
	session *session.Session
	schemas schema.Provider
	queries *query.Factory
	logger  *slog.Logger
	metrics *metrics.Metrics

	added   *object.Storage
	changed *object.Storage
	removed *object.Storage
	allowed *object.Storage

	hasUnpersistedChanges bool
	persistedListeners    []func()
}

// Option configures a Manager.
type Option func(*managerOptions)

type managerOptions struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
	qom     qom.Factory
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *managerOptions) { o.logger = logger }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *managerOptions) { o.metrics = m }
}

// WithQOMFactory sets the factory queries build constraints with.
func WithQOMFactory(f qom.Factory) Option {
	return func(o *managerOptions) { o.qom = f }
}

// New creates a Manager. backend is required.
func New(backend Backend, mapper Mapper, sess *session.Session, schemas schema.Provider, opts ...Option) (*Manager, error) {
	if isNilBackend(backend) {
		return nil, models.ErrMissingBackend
	}
	o := managerOptions{logger: slog.Default(), qom: qom.NewFactory()}
	for _, opt := range opts {
		opt(&o)
	}
	m := &Manager{
		backend: backend,
		mapper:  mapper,
		session: sess,
		schemas: schemas,
		logger:  o.logger,
		metrics: o.metrics,
		added:   object.NewStorage(),
		changed: object.NewStorage(),
		removed: object.NewStorage(),
		allowed: object.NewStorage(),
	}
	m.queries = query.NewFactory(schemas, o.qom, m, mapper)
	return m, nil
}

func isNilBackend(b Backend) bool {
	if b == nil {
		return true
	}
	rv := reflect.ValueOf(b)
	return rv.Kind() == reflect.Pointer && rv.IsNil()
}

// Session returns the identity session of this unit of work.
func (m *Manager) Session() *session.Session { return m.session }

// Add schedules obj for insertion. It cancels an earlier Remove.
func (m *Manager) Add(obj object.Object) {
	m.hasUnpersistedChanges = true
	m.removed.Detach(obj)
	m.added.Attach(obj)
}

// Remove schedules obj for deletion. An object added in this unit of work is
// just forgotten.
func (m *Manager) Remove(obj object.Object) {
	m.hasUnpersistedChanges = true
	if m.added.Contains(obj) {
		m.added.Detach(obj)
		return
	}
	m.changed.Detach(obj)
	m.removed.Attach(obj)
}

// Update schedules a persisted obj for writing.
func (m *Manager) Update(obj object.Object) error {
	if m.IsNewObject(obj) {
		return fmt.Errorf("%w: update of new object of class %s, use Add", models.ErrUnknownObject, obj.ClassName())
	}
	m.hasUnpersistedChanges = true
	m.changed.Attach(obj)
	return nil
}

// Replace swaps existing for replacement in this unit of work. A persisted
// existing object hands its identifier and clean snapshot to replacement,
// which is scheduled for update; an object only added in this unit of work is
// swapped in the added set. Scheduled removal moves to replacement too.
func (m *Manager) Replace(existing, replacement object.Object) error {
	if identifier, ok := m.session.GetIdentifierByObject(existing); ok && m.session.HasObject(existing) {
		m.session.RegisterObject(replacement, identifier)
		if m.session.IsReconstitutedEntity(existing) {
			m.session.ReplaceReconstitutedEntity(existing, replacement)
		}
		if err := m.session.UnregisterObject(existing); err != nil {
			return err
		}
		replacement.PersistenceState().SetIdentifier(identifier)
		m.changed.Detach(existing)
		if m.removed.Contains(existing) {
			m.removed.Detach(existing)
			m.removed.Attach(replacement)
		} else {
			m.changed.Attach(replacement)
		}
	} else if m.added.Contains(existing) {
		m.added.Detach(existing)
		m.added.Attach(replacement)
	} else {
		return fmt.Errorf("%w: replaced object of class %s is neither persisted nor added", models.ErrUnknownObject, existing.ClassName())
	}
	if m.allowed.Contains(existing) {
		m.allowed.Detach(existing)
		m.allowed.Attach(replacement)
	}
	m.hasUnpersistedChanges = true
	m.logger.Debug("object replaced", "class", existing.ClassName())
	return nil
}

// IsNewObject reports whether the session has no record of obj.
func (m *Manager) IsNewObject(obj object.Object) bool {
	return !m.session.HasObject(obj)
}

// AllowObject whitelists obj for PersistAll(ctx, true).
func (m *Manager) AllowObject(obj object.Object) {
	m.allowed.Attach(obj)
}

// PersistAll commits all scheduled changes. With onlyWhitelisted every
// scheduled object must have been allowed; otherwise nothing is written.
func (m *Manager) PersistAll(ctx context.Context, onlyWhitelisted bool) (err error) {
	added, changed, removed := m.added.Objects(), m.changed.Objects(), m.removed.Objects()
	if onlyWhitelisted {
		for _, set := range [][]object.Object{added, changed, removed} {
			for _, obj := range set {
				if !m.allowed.Contains(obj) {
					return fmt.Errorf("%w: detected modified or new object of class %s that is not whitelisted",
						models.ErrObjectNotAllowed, obj.ClassName())
				}
			}
		}
	}

	start := time.Now()
	defer func() { m.metrics.RecordCommit(start, len(added), len(changed), len(removed), err) }()

	if err = m.backend.Commit(ctx, added, changed, removed); err != nil {
		m.logger.Error("commit failed", "added", len(added), "changed", len(changed), "removed", len(removed), "error", err)
		return err
	}
	m.added.Clear()
	m.changed.Clear()
	m.removed.Clear()
	m.hasUnpersistedChanges = false

	m.logger.Debug("all objects persisted", "added", len(added), "changed", len(changed), "removed", len(removed),
		"duration", time.Since(start))
	for _, fn := range m.persistedListeners {
		fn()
	}
	return nil
}

// OnAllObjectsPersisted registers fn to run after every successful PersistAll.
func (m *Manager) OnAllObjectsPersisted(fn func()) {
	m.persistedListeners = append(m.persistedListeners, fn)
}

// ClearState forgets all scheduled changes and destroys the session.
func (m *Manager) ClearState() {
	m.added.Clear()
	m.changed.Clear()
	m.removed.Clear()
	m.allowed.Clear()
	m.session.Destroy()
	m.hasUnpersistedChanges = false
}

// HasUnpersistedChanges reports whether anything was scheduled since the last
// commit or any reconstituted entity has a dirty property.
func (m *Manager) HasUnpersistedChanges() bool {
	if m.hasUnpersistedChanges {
		return true
	}
	if m.schemas == nil {
		return false
	}
	for _, obj := range m.session.ReconstitutedEntities() {
		cs, err := m.schemas.ClassSchema(obj.ClassName())
		if err != nil {
			continue
		}
		for _, name := range cs.PropertyNames() {
			if !cs.IsPropertyTransient(name) && m.session.IsDirty(obj, name) {
				return true
			}
		}
	}
	return false
}

// GetIdentifierByObject returns the identifier of obj, or "".
func (m *Manager) GetIdentifierByObject(obj object.Object) string {
	id, _ := m.session.GetIdentifierByObject(obj)
	return id
}

// GetObjectByIdentifier returns the object for identifier from the identity
// map, else loads it from the backend.
func (m *Manager) GetObjectByIdentifier(ctx context.Context, identifier, objectType string) (object.Object, error) {
	if m.session.HasIdentifier(identifier) {
		m.metrics.RecordIdentityMapHit()
		return m.session.GetObjectByIdentifier(identifier)
	}
	rec, err := m.backend.GetObjectDataByIdentifier(ctx, identifier, objectType)
	if err != nil {
		if errors.Is(err, models.ErrUnknownObject) {
			return nil, err
		}
		return nil, fmt.Errorf("load %s: %w", identifier, err)
	}
	return m.mapper.MapToObject(ctx, rec)
}

// GetObjectDataByIdentifier delegates to the backend.
func (m *Manager) GetObjectDataByIdentifier(ctx context.Context, identifier, objectType string) (*models.RecordData, error) {
	return m.backend.GetObjectDataByIdentifier(ctx, identifier, objectType)
}

// GetObjectDataByQuery delegates to the backend.
func (m *Manager) GetObjectDataByQuery(ctx context.Context, q *query.Query) ([]*models.RecordData, error) {
	return m.backend.GetObjectDataByQuery(ctx, q)
}

// GetObjectCountByQuery delegates to the backend.
func (m *Manager) GetObjectCountByQuery(ctx context.Context, q *query.Query) (int, error) {
	return m.backend.GetObjectCountByQuery(ctx, q)
}

// CreateQueryForType returns a new query for objects of typ.
func (m *Manager) CreateQueryForType(typ string) *query.Query {
	return m.queries.Create(typ)
}

// IsConnected reports whether the backend is connected.
func (m *Manager) IsConnected() bool {
	return m.backend.IsConnected()
}
