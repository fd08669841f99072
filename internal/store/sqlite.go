package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite database connection
type DB struct {
	*sql.DB
}

// Open opens the database and initializes the schema.
// A path of ":memory:" gives a throwaway database.
func Open(path string) (*DB, error) {
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_journal_mode=WAL&_synchronous=FULL"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer; also keeps ":memory:" to a single shared database.
	db.SetMaxOpenConns(1)

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &DB{db}, nil
}

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS kv_store (
			namespace TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (namespace, key)
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to create kv_store table: %w", err)
	}
	return nil
}

// Bucket returns the namespace view of the database.
func (db *DB) Bucket(namespace string) *SQLiteBucket {
	return NewSQLiteBucket(db.DB, namespace)
}

// SQLiteBucket is a persistent bucket backed by SQLite.
type SQLiteBucket struct {
	db        *sql.DB
	namespace string
}

// NewSQLiteBucket creates a new SQLite-backed bucket.
func NewSQLiteBucket(db *sql.DB, namespace string) *SQLiteBucket {
	return &SQLiteBucket{db: db, namespace: namespace}
}

// Namespace returns the bucket namespace.
func (b *SQLiteBucket) Namespace() string {
	return b.namespace
}

// Put saves a value with the given key.
// Each write is a single-row upsert, so it is crash-consistent on its own.
func (b *SQLiteBucket) Put(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}

	_, err = b.db.Exec(`
		INSERT INTO kv_store (namespace, key, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(namespace, key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`, b.namespace, key, string(data), time.Now().UTC().Unix())
	if err != nil {
		return fmt.Errorf("failed to store %s/%s: %w", b.namespace, key, err)
	}
	return nil
}

// Get retrieves a value by key.
func (b *SQLiteBucket) Get(key string, v any) (bool, error) {
	var value string
	err := b.db.QueryRow(`
		SELECT value FROM kv_store
		WHERE namespace = ? AND key = ?
	`, b.namespace, key).Scan(&value)

	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get %s/%s: %w", b.namespace, key, err)
	}

	if err := decode([]byte(value), v); err != nil {
		return false, fmt.Errorf("failed to unmarshal %s/%s: %w", b.namespace, key, err)
	}
	return true, nil
}

// Keys lists the bucket's keys in order.
func (b *SQLiteBucket) Keys() ([]string, error) {
	rows, err := b.db.Query(`SELECT key FROM kv_store WHERE namespace = ? ORDER BY key`, b.namespace)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", b.namespace, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("failed to scan %s key: %w", b.namespace, err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Delete removes a key from the bucket.
func (b *SQLiteBucket) Delete(key string) error {
	_, err := b.db.Exec(`DELETE FROM kv_store WHERE namespace = ? AND key = ?`, b.namespace, key)
	if err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", b.namespace, key, err)
	}
	return nil
}
