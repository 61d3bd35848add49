package store

import (
	"database/sql"
	"errors"

	"github.com/lib/pq"
)

// Store wraps the Postgres connection used by both harvesters. Methods are
// safe for concurrent use; the underlying *sql.DB pools connections.
type Store struct {
	db *sql.DB
}

// Open connects to Postgres and verifies the connection.
func Open(connStr string) (*Store, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing connection; used by tests.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying connection so callers can run raw SQL when needed.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// IsDuplicateKey reports whether err is a Postgres unique-violation. The
// harvesters treat it as "row exists, proceed".
func IsDuplicateKey(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == "23505"
	}
	return false
}
