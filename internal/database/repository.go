package database

import (
	"context"
	"database/sql"
	"errors"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// Repository provides typed data access over either engine.
type Repository struct {
	db *DB
}

// NewRepository creates a repository bound to db.
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// DB returns the underlying handle for maintenance operations.
func (r *Repository) DB() *DB {
	return r.db
}

// HealthCheck pings the database.
func (r *Repository) HealthCheck(ctx context.Context) error {
	return r.db.HealthCheck(ctx)
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
