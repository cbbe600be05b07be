package object

import (
	"fmt"
	"iter"

	"github.com/kilupskalvis/persistence/internal/models"
)

// Resolver returns the live object for identifier; false means the lookup
// failed and the member is skipped.
type Resolver func(identifier string) (Object, bool)

// LazyStorage is a ReferenceSet that holds member identifiers until first use.
// Any read or mutation, except Count, resolves every identifier once and then
// delegates to a live Storage.
type LazyStorage struct {
	identifiers []string
	resolve     Resolver
	storage     *Storage
}

// NewLazyStorage creates an unresolved container.
func NewLazyStorage(identifiers []string, resolve Resolver) *LazyStorage {
	return &LazyStorage{identifiers: identifiers, resolve: resolve}
}

// IsInitialized reports whether the identifiers have been resolved.
func (l *LazyStorage) IsInitialized() bool {
	return l.storage != nil
}

// Identifiers returns the member identifiers as loaded.
func (l *LazyStorage) Identifiers() []string {
	out := make([]string, len(l.identifiers))
	copy(out, l.identifiers)
	return out
}

func (l *LazyStorage) initialize() *Storage {
	if l.storage != nil {
		return l.storage
	}
	l.storage = NewStorage()
	for _, id := range l.identifiers {
		if l.resolve == nil {
			break
		}
		if obj, ok := l.resolve(id); ok && obj != nil {
			l.storage.Attach(obj)
		}
	}
	return l.storage
}

// Attach implements ReferenceSet.
func (l *LazyStorage) Attach(obj Object) { l.initialize().Attach(obj) }

// Detach implements ReferenceSet.
func (l *LazyStorage) Detach(obj Object) { l.initialize().Detach(obj) }

// Contains implements ReferenceSet.
func (l *LazyStorage) Contains(obj Object) bool { return l.initialize().Contains(obj) }

// Count returns the number of members. While unresolved it counts identifiers
// without resolving them.
func (l *LazyStorage) Count() int {
	if l.storage == nil {
		return len(l.identifiers)
	}
	return l.storage.Count()
}

// All implements ReferenceSet.
func (l *LazyStorage) All() iter.Seq[Object] { return l.initialize().All() }

// Objects resolves and returns the members.
func (l *LazyStorage) Objects() []Object { return l.initialize().Objects() }

// MarshalJSON always fails: a lazy container must never be persisted as such.
func (l *LazyStorage) MarshalJSON() ([]byte, error) { return nil, l.serializationError() }

// MarshalBinary always fails.
func (l *LazyStorage) MarshalBinary() ([]byte, error) { return nil, l.serializationError() }

// GobEncode always fails.
func (l *LazyStorage) GobEncode() ([]byte, error) { return nil, l.serializationError() }

func (l *LazyStorage) serializationError() error {
	return fmt.Errorf("%w: lazy reference set of %d members", models.ErrSerializationUnsupported, len(l.identifiers))
}
