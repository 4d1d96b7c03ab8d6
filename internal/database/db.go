package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// DB wraps the database connection
type DB struct {
	conn *sql.DB
	path string
}

// New creates a new database connection
func New(dbPath string) (*DB, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// Open database connection
	// Use WAL mode for better concurrency
	conn, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Configure connection pool
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)

	return &DB{
		conn: conn,
		path: dbPath,
	}, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// Conn returns the underlying sql.DB connection
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// schema is the order/trade ledger's complete DDL. It is small enough, and
// changes rarely enough, that a migration framework would be overhead; a
// single idempotent CREATE TABLE IF NOT EXISTS script is the whole of it.
const schema = `
CREATE TABLE IF NOT EXISTS orders (
	broker_order_id  TEXT PRIMARY KEY,
	exchange         TEXT NOT NULL,
	trading_symbol   TEXT NOT NULL,
	side             TEXT NOT NULL,
	quantity         INTEGER NOT NULL,
	order_type       TEXT NOT NULL,
	price            REAL NOT NULL DEFAULT 0,
	stop_loss        REAL NOT NULL DEFAULT 0,
	take_profit      REAL NOT NULL DEFAULT 0,
	product          TEXT NOT NULL,
	validity         TEXT NOT NULL,
	status           TEXT NOT NULL,
	filled_qty       INTEGER NOT NULL DEFAULT 0,
	avg_fill_price   REAL NOT NULL DEFAULT 0,
	created_at       TEXT NOT NULL,
	updated_at       TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS trades (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	exchange         TEXT NOT NULL,
	trading_symbol   TEXT NOT NULL,
	side             TEXT NOT NULL,
	quantity         INTEGER NOT NULL,
	price            REAL NOT NULL,
	fees             REAL NOT NULL DEFAULT 0,
	order_id         TEXT NOT NULL,
	executed_at      TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(exchange, trading_symbol);
CREATE INDEX IF NOT EXISTS idx_trades_executed_at ON trades(executed_at);
CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status);
`

// Migrate applies the ledger schema. Safe to call on every startup.
func (db *DB) Migrate() error {
	if _, err := db.conn.Exec(schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Begin starts a new transaction
func (db *DB) Begin() (*sql.Tx, error) {
	return db.conn.Begin()
}

// Exec executes a query without returning rows
func (db *DB) Exec(query string, args ...interface{}) (sql.Result, error) {
	return db.conn.Exec(query, args...)
}

// Query executes a query that returns rows
func (db *DB) Query(query string, args ...interface{}) (*sql.Rows, error) {
	return db.conn.Query(query, args...)
}

// QueryRow executes a query that returns at most one row
func (db *DB) QueryRow(query string, args ...interface{}) *sql.Row {
	return db.conn.QueryRow(query, args...)
}
