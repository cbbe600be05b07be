package store

import (
	"encoding/json"
	"fmt"

	"github.com/kilupskalvis/persistence/internal/models"
)

// RecordStore is raw record storage: records keyed by identifier, indexed by
// class, written only through atomically applied changesets.
type RecordStore interface {
	// Get returns the record stored under identifier, wrapping
	// models.ErrUnknownObject if there is none.
	Get(identifier string) (*models.RecordData, error)
	// Scan returns all records of class ordered by identifier.
	Scan(className string) ([]*models.RecordData, error)
	// Apply writes every operation of cs or none of them.
	Apply(cs *models.Changeset) error
	Close() error
}

// Backend names accepted by Open.
const (
	BackendBolt   = "bolt"
	BackendSQLite = "sqlite"
)

// formatVersion is the record encoding written by this package.
const formatVersion = "1"

type initializer interface {
	RecordStore
	Initialize() error
	GetValue(key string) (string, error)
	SetValue(key, value string) error
}

// Open opens and initializes the store of the named backend at path.
func Open(backend, path string) (RecordStore, error) {
	var (
		st  initializer
		err error
	)
	switch backend {
	case BackendBolt, "":
		st, err = NewBolt(path)
	case BackendSQLite:
		st, err = NewSQLite(path)
	default:
		return nil, fmt.Errorf("%w: unknown storage backend %q", models.ErrInvalidArgument, backend)
	}
	if err != nil {
		return nil, err
	}
	if err := initialize(st); err != nil {
		st.Close()
		return nil, err
	}
	return st, nil
}

func initialize(st initializer) error {
	if err := st.Initialize(); err != nil {
		return err
	}
	version, err := st.GetValue("format_version")
	if err != nil {
		return fmt.Errorf("read format version: %w", err)
	}
	switch version {
	case "":
		return st.SetValue("format_version", formatVersion)
	case formatVersion:
		return nil
	default:
		return fmt.Errorf("%w: unsupported record format version %s", models.ErrPersistence, version)
	}
}

func encodeRecord(rec *models.RecordData) ([]byte, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal record %s: %w", rec.Identifier, err)
	}
	return data, nil
}

func decodeRecord(data []byte) (*models.RecordData, error) {
	var rec models.RecordData
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal record: %w", err)
	}
	return &rec, nil
}

func notFound(identifier string) error {
	return fmt.Errorf("%w: no record %s", models.ErrUnknownObject, identifier)
}
