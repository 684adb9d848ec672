package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx database/sql driver
	_ "modernc.org/sqlite"             // pure Go SQLite driver
)

// Engine identifies the storage backend.
type Engine string

const (
	EnginePostgres Engine = "postgres"
	EngineSQLite   Engine = "sqlite"
)

// Config holds database connection settings.
type Config struct {
	Engine   Engine
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	Path     string // sqlite only
}

// DB wraps a database/sql connection for either engine. Both engines accept
// $N placeholders, so repository SQL is written once.
type DB struct {
	conn   *sql.DB
	engine Engine
}

// New opens a connection for the configured engine and verifies it.
func New(cfg Config) (*DB, error) {
	switch cfg.Engine {
	case EnginePostgres:
		return newPostgres(cfg)
	case EngineSQLite:
		return newSQLite(cfg)
	default:
		return nil, fmt.Errorf("unsupported database engine %q", cfg.Engine)
	}
}

func newPostgres(cfg Config) (*DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	conn, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to open postgres connection: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(time.Hour)
	conn.SetConnMaxIdleTime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &DB{conn: conn, engine: EnginePostgres}, nil
}

func newSQLite(cfg Config) (*DB, error) {
	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// WAL for concurrent readers during scheduled jobs.
	conn, err := sql.Open("sqlite", cfg.Path+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// SQLite serializes writers; a single connection avoids SQLITE_BUSY churn.
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{conn: conn, engine: EngineSQLite}, nil
}

// Conn returns the underlying sql.DB.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// EngineName returns the active engine.
func (db *DB) EngineName() Engine {
	return db.engine
}

// Close closes the connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// HealthCheck pings the database.
func (db *DB) HealthCheck(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Maintain runs engine-specific housekeeping. Postgres gets ANALYZE (VACUUM
// cannot run inside the pool's implicit transaction on all setups), SQLite
// gets a WAL checkpoint plus ANALYZE.
func (db *DB) Maintain(ctx context.Context) error {
	switch db.engine {
	case EnginePostgres:
		_, err := db.conn.ExecContext(ctx, "ANALYZE")
		return err
	case EngineSQLite:
		if _, err := db.conn.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			return err
		}
		_, err := db.conn.ExecContext(ctx, "ANALYZE")
		return err
	}
	return nil
}

// WithTx runs fn inside a transaction, committing on nil error.
func (db *DB) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}
	return tx.Commit()
}
