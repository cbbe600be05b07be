package persistence

import (
	"log/slog"

	"github.com/kilupskalvis/persistence/internal/backend"
	"github.com/kilupskalvis/persistence/internal/mapper"
	"github.com/kilupskalvis/persistence/internal/metrics"
	"github.com/kilupskalvis/persistence/internal/object"
	"github.com/kilupskalvis/persistence/internal/schema"
	"github.com/kilupskalvis/persistence/internal/session"
	"github.com/kilupskalvis/persistence/internal/store"
)

// UnitOfWork bundles the collaborators of one unit of work over a store.
type UnitOfWork struct {
	*Manager
	Backend *backend.Backend
	Mapper  *mapper.DataMapper
}

// NewUnitOfWork wires a fresh session, data mapper, generic backend and
// manager over st. The store is shared; everything else belongs to the
// returned unit of work.
func NewUnitOfWork(st store.RecordStore, schemas schema.Provider, registry *object.Registry, logger *slog.Logger, m *metrics.Metrics) (*UnitOfWork, error) {
	if logger == nil {
		logger = slog.Default()
	}
	sess := session.New(schemas)
	dm := mapper.New(sess, schemas, registry, mapper.WithLogger(logger), mapper.WithMetrics(m))
	be := backend.New(st, sess, schemas, backend.WithLogger(logger), backend.WithMetrics(m))
	pm, err := New(be, dm, sess, schemas, WithLogger(logger), WithMetrics(m))
	if err != nil {
		return nil, err
	}
	dm.SetPersistenceManager(pm)
	return &UnitOfWork{Manager: pm, Backend: be, Mapper: dm}, nil
}
