// Package backend is the generic storage backend: it flattens object graphs
// into records on commit, expands records with their references on load and
// evaluates queries over a RecordStore.
package backend

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kilupskalvis/persistence/internal/metrics"
	"github.com/kilupskalvis/persistence/internal/models"
	"github.com/kilupskalvis/persistence/internal/schema"
	"github.com/kilupskalvis/persistence/internal/session"
	"github.com/kilupskalvis/persistence/internal/store"
)

// Backend implements the raw backend over a RecordStore. It shares the
// identity session of its unit of work.
type Backend struct {
	store   store.RecordStore
	session *session.Session
	schemas schema.Provider
	logger  *slog.Logger
	metrics *metrics.Metrics
	closed  bool
}

// Option configures a Backend.
type Option func(*Backend)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Backend) { b.logger = logger }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Backend) { b.metrics = m }
}

// New creates a backend storing records in st.
func New(st store.RecordStore, sess *session.Session, schemas schema.Provider, opts ...Option) *Backend {
	b := &Backend{
		store:   st,
		session: sess,
		schemas: schemas,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// IsConnected reports whether the store is open.
func (b *Backend) IsConnected() bool {
	return b.store != nil && !b.closed
}

// Close closes the underlying store.
func (b *Backend) Close() error {
	if b.closed || b.store == nil {
		return nil
	}
	b.closed = true
	return b.store.Close()
}

// GetObjectDataByIdentifier loads the record of identifier with its
// references expanded. A non-empty objectType must match the stored class.
func (b *Backend) GetObjectDataByIdentifier(ctx context.Context, identifier, objectType string) (*models.RecordData, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.metrics.RecordFetch("identifier")
	rec, err := b.store.Get(identifier)
	if err != nil {
		return nil, err
	}
	if objectType != "" && rec.Classname != objectType {
		return nil, fmt.Errorf("%w: %s is a %s, not a %s", models.ErrUnknownObject, identifier, rec.Classname, objectType)
	}
	return b.expand(rec, map[string]bool{})
}

func (b *Backend) classSchema(className string) (*models.ClassSchema, error) {
	if b.schemas == nil {
		return nil, fmt.Errorf("%w: no schemas", models.ErrUnknownClass)
	}
	return b.schemas.ClassSchema(className)
}
