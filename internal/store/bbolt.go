// Package store provides the raw record storage behind the generic backend:
// an embedded bbolt file or a SQLite database.
package store

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kilupskalvis/persistence/internal/models"
	bolt "go.etcd.io/bbolt"
)

// Bucket names used by the bolt store.
var (
	bucketObjects    = []byte("objects")
	bucketClassIndex = []byte("class_index") // "{class}\x00{identifier}" -> nil
	bucketKV         = []byte("kv")
)

// BoltStore is a RecordStore in a single bbolt database file.
type BoltStore struct {
	db *bolt.DB
}

// NewBolt opens or creates a bbolt database at the given path.
func NewBolt(dbPath string) (*BoltStore, error) {
	dir := filepath.Dir(dbPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Initialize creates all required buckets.
func (s *BoltStore) Initialize() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketObjects, bucketClassIndex, bucketKV} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
}

func classIndexKey(className, identifier string) []byte {
	return []byte(className + "\x00" + identifier)
}

func classPrefix(className string) []byte {
	return []byte(className + "\x00")
}

// Get implements RecordStore.
func (s *BoltStore) Get(identifier string) (*models.RecordData, error) {
	var rec *models.RecordData
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketObjects).Get([]byte(identifier))
		if v == nil {
			return notFound(identifier)
		}
		var err error
		rec, err = decodeRecord(v)
		return err
	})
	return rec, err
}

// Scan implements RecordStore.
func (s *BoltStore) Scan(className string) ([]*models.RecordData, error) {
	var records []*models.RecordData
	err := s.db.View(func(tx *bolt.Tx) error {
		objects := tx.Bucket(bucketObjects)
		c := tx.Bucket(bucketClassIndex).Cursor()
		prefix := classPrefix(className)

		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			identifier := k[len(prefix):]
			v := objects.Get(identifier)
			if v == nil {
				continue
			}
			rec, err := decodeRecord(v)
			if err != nil {
				return err
			}
			records = append(records, rec)
		}
		return nil
	})
	return records, err
}

// Apply implements RecordStore. All operations run in one bolt transaction.
func (s *BoltStore) Apply(cs *models.Changeset) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		objects := tx.Bucket(bucketObjects)
		index := tx.Bucket(bucketClassIndex)

		for _, op := range cs.Operations {
			key := []byte(op.Identifier)
			if existing := objects.Get(key); existing != nil {
				prev, err := decodeRecord(existing)
				if err != nil {
					return err
				}
				if err := index.Delete(classIndexKey(prev.Classname, op.Identifier)); err != nil {
					return fmt.Errorf("unindex %s: %w", op.Identifier, err)
				}
			}

			if op.Type == models.OperationDelete {
				if err := objects.Delete(key); err != nil {
					return fmt.Errorf("delete %s: %w", op.Identifier, err)
				}
				continue
			}

			data, err := encodeRecord(op.Record)
			if err != nil {
				return err
			}
			if err := objects.Put(key, data); err != nil {
				return fmt.Errorf("put %s: %w", op.Identifier, err)
			}
			if err := index.Put(classIndexKey(op.Classname, op.Identifier), nil); err != nil {
				return fmt.Errorf("index %s: %w", op.Identifier, err)
			}
		}
		return nil
	})
}

// GetValue gets a value from the key-value bucket.
func (s *BoltStore) GetValue(key string) (string, error) {
	var val string
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketKV)
		if b == nil {
			return nil
		}
		if v := b.Get([]byte(key)); v != nil {
			val = string(v)
		}
		return nil
	})
	return val, err
}

// SetValue sets a value in the key-value bucket.
func (s *BoltStore) SetValue(key, value string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketKV)
		if b == nil {
			return fmt.Errorf("kv bucket not found")
		}
		return b.Put([]byte(key), []byte(value))
	})
}
