package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/kilupskalvis/persistence/internal/models"
	_ "modernc.org/sqlite"
)

// SQLiteStore is a RecordStore in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dbPath.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Initialize creates the database schema.
func (s *SQLiteStore) Initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS objects (
		identifier TEXT PRIMARY KEY,
		class_name TEXT NOT NULL,
		object_data JSON NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_objects_class ON objects(class_name, identifier);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Get implements RecordStore.
func (s *SQLiteStore) Get(identifier string) (*models.RecordData, error) {
	var data []byte
	err := s.db.QueryRow("SELECT object_data FROM objects WHERE identifier = ?", identifier).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(identifier)
	}
	if err != nil {
		return nil, err
	}
	return decodeRecord(data)
}

// Scan implements RecordStore.
func (s *SQLiteStore) Scan(className string) ([]*models.RecordData, error) {
	rows, err := s.db.Query(
		"SELECT object_data FROM objects WHERE class_name = ? ORDER BY identifier", className)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*models.RecordData
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		rec, err := decodeRecord(data)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Apply implements RecordStore. All operations run in one SQL transaction.
func (s *SQLiteStore) Apply(cs *models.Changeset) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, op := range cs.Operations {
		if op.Type == models.OperationDelete {
			if _, err := tx.Exec("DELETE FROM objects WHERE identifier = ?", op.Identifier); err != nil {
				return fmt.Errorf("delete %s: %w", op.Identifier, err)
			}
			continue
		}
		data, err := encodeRecord(op.Record)
		if err != nil {
			return err
		}
		_, err = tx.Exec(`
			INSERT INTO objects (identifier, class_name, object_data) VALUES (?, ?, ?)
			ON CONFLICT(identifier) DO UPDATE SET
				class_name = excluded.class_name,
				object_data = excluded.object_data,
				updated_at = CURRENT_TIMESTAMP
		`, op.Identifier, op.Classname, data)
		if err != nil {
			return fmt.Errorf("put %s: %w", op.Identifier, err)
		}
	}

	return tx.Commit()
}

// GetValue gets a value from the key-value store.
func (s *SQLiteStore) GetValue(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// SetValue sets a value in the key-value store.
func (s *SQLiteStore) SetValue(key, value string) error {
	_, err := s.db.Exec(
		"INSERT INTO kv (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = ?",
		key, value, value,
	)
	return err
}
