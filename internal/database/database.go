package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// db wraps the SQLite database connection
type db struct {
	conn *sql.DB
	path string
	// mu serializes transactions; single statements rely on the busy timeout
	mu sync.Mutex
}

// Manager is the only handle other packages get; raw *sql.DB access stays in this package
type Manager struct {
	*db
}

// Open creates the database file if needed, connects, and runs migrations
func Open(path string) (*Manager, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	d, err := connect(path)
	if err != nil {
		return nil, err
	}

	if err := d.migrate(); err != nil {
		d.conn.Close()
		return nil, fmt.Errorf("failed to run database migrations: %w", err)
	}

	return &Manager{db: d}, nil
}

func connect(path string) (*db, error) {
	// SQLite connection with WAL mode for better concurrency
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// WAL allows concurrent readers but writes are serialized
	conn.SetMaxOpenConns(4)
	conn.SetMaxIdleConns(2)

	log.Debug().Str("path", path).Msg("Database connection established")

	return &db{
		conn: conn,
		path: path,
	}, nil
}

// Path returns the database file path
func (db *db) Path() string {
	return db.path
}

// Close closes the underlying connection
func (db *db) Close() error {
	return db.conn.Close()
}

// transaction wraps a function in a database transaction
func (db *db) transaction(fn func(*sql.Tx) error) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			log.Error().Err(rbErr).Msg("Failed to rollback transaction")
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func (db *db) exec(query string, args ...any) (sql.Result, error) {
	return db.conn.Exec(query, args...)
}

func (db *db) query(query string, args ...any) (*sql.Rows, error) {
	return db.conn.Query(query, args...)
}

func (db *db) queryRow(query string, args ...any) *sql.Row {
	return db.conn.QueryRow(query, args...)
}
