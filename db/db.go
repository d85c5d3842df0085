// ABOUTME: Database connection management and initialization
// ABOUTME: Opens SQLite (WAL) or Postgres from a connection string and applies the schema
package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

// Dialect selects placeholder style and schema.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite3"
	DialectPostgres Dialect = "postgres"
)

const pingTimeout = 5 * time.Second

// ParseDSN maps a connection string onto a driver and the data source that
// driver expects. Bare paths are treated as SQLite files.
func ParseDSN(dsn string) (driver string, dialect Dialect, source string, err error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return "", "", "", fmt.Errorf("%w: empty connection string", ErrValidation)
	}

	lower := strings.ToLower(dsn)
	switch {
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return "pgx", DialectPostgres, dsn, nil
	case strings.HasPrefix(lower, "sqlite://"):
		return "sqlite3", DialectSQLite, dsn[len("sqlite://"):], nil
	case strings.HasPrefix(lower, "sqlite3://"):
		return "sqlite3", DialectSQLite, dsn[len("sqlite3://"):], nil
	case strings.HasPrefix(lower, "file:"):
		return "sqlite3", DialectSQLite, dsn[len("file:"):], nil
	case strings.Contains(lower, "://"):
		scheme := lower[:strings.Index(lower, "://")]
		return "", "", "", fmt.Errorf("%w: unsupported database scheme %s", ErrValidation, scheme)
	default:
		return "sqlite3", DialectSQLite, dsn, nil
	}
}

// OpenDatabase opens the database named by dsn and initializes its schema.
func OpenDatabase(ctx context.Context, dsn string) (*sql.DB, Dialect, error) {
	driver, dialect, source, err := ParseDSN(dsn)
	if err != nil {
		return nil, "", err
	}

	var database *sql.DB
	switch dialect {
	case DialectSQLite:
		database, err = openSQLite(source)
	case DialectPostgres:
		database, err = openPostgres(ctx, driver, source)
	}
	if err != nil {
		return nil, "", err
	}

	if err := InitSchema(ctx, database, dialect); err != nil {
		_ = database.Close()
		return nil, "", fmt.Errorf("init schema: %w", err)
	}

	return database, dialect, nil
}

func openSQLite(path string) (*sql.DB, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	database, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, err
	}

	// Configure connection pool for SQLite (avoid database locked errors)
	database.SetMaxOpenConns(1)

	return database, nil
}

func openPostgres(ctx context.Context, driver, dsn string) (*sql.DB, error) {
	database, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	database.SetConnMaxIdleTime(5 * time.Minute)
	database.SetConnMaxLifetime(30 * time.Minute)
	database.SetMaxIdleConns(10)
	database.SetMaxOpenConns(20)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := database.PingContext(pingCtx); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return database, nil
}

// rebind rewrites ? placeholders to $N for Postgres.
func rebind(dialect Dialect, query string) string {
	if dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
