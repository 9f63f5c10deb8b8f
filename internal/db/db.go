// Package db persists workflow events (audit records, transitions, step
// outcomes) to SQLite or PostgreSQL.
package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/randalmurphal/autoflow/internal/db/driver"
)

//go:embed schema/*.sql schema/postgres/*.sql
var schemaFS embed.FS

// DB wraps a database connection with driver abstraction.
type DB struct {
	driver driver.Driver
	dsn    string
}

// Open opens a SQLite database at the given path, creating the parent
// directory if it doesn't exist.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}
	return OpenWithDialect(path, driver.DialectSQLite)
}

// OpenWithDialect opens a database with the given dialect and migrates it.
func OpenWithDialect(dsn string, dialect driver.Dialect) (*DB, error) {
	drv, err := driver.New(dialect)
	if err != nil {
		return nil, err
	}
	if err := drv.Open(dsn); err != nil {
		return nil, err
	}
	d := &DB{driver: drv, dsn: dsn}
	if err := d.migrate(context.Background()); err != nil {
		_ = drv.Close()
		return nil, err
	}
	return d, nil
}

// OpenInMemory opens an in-memory SQLite database. Each call creates a new
// isolated database.
func OpenInMemory() (*DB, error) {
	drv := driver.NewSQLite()
	if err := drv.Open(":memory:"); err != nil {
		return nil, err
	}
	// every pooled connection would otherwise get its own empty database
	drv.DB().SetMaxOpenConns(1)
	d := &DB{driver: drv, dsn: ":memory:"}
	if err := d.migrate(context.Background()); err != nil {
		_ = drv.Close()
		return nil, err
	}
	return d, nil
}

func (d *DB) migrate(ctx context.Context) error {
	dir := "schema"
	if d.driver.Dialect() == driver.DialectPostgres {
		dir = "schema/postgres"
	}
	if err := d.driver.Migrate(ctx, schemaFS, dir, "events"); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.driver.Close()
}

// Dialect returns the database dialect.
func (d *DB) Dialect() driver.Dialect {
	return d.driver.Dialect()
}

func (d *DB) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return d.driver.Exec(ctx, driver.Rebind(d.driver, query), args...)
}

func (d *DB) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return d.driver.Query(ctx, driver.Rebind(d.driver, query), args...)
}
