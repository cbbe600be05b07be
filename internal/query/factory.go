package query

import (
	"github.com/kilupskalvis/persistence/internal/qom"
	"github.com/kilupskalvis/persistence/internal/schema"
)

// Factory creates queries sharing one set of collaborators.
type Factory struct {
	schemas schema.Provider
	qom     qom.Factory
	backend Backend
	mapper  Mapper
}

// NewFactory creates a Factory. A nil qom factory selects the default one.
func NewFactory(schemas schema.Provider, qomFactory qom.Factory, backend Backend, mapper Mapper) *Factory {
	return &Factory{schemas: schemas, qom: qomFactory, backend: backend, mapper: mapper}
}

// Create returns a new query for objects of typ.
func (f *Factory) Create(typ string) *Query {
	return New(typ, f.schemas, f.qom, f.backend, f.mapper)
}
