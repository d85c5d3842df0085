// ABOUTME: Relational Backend implementation over database/sql
// ABOUTME: Runs gateway mutations inside a real transaction on SQLite or Postgres
package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/harperreed/embudo/models"
)

// SQLBackend is the relational persistence backend.
type SQLBackend struct {
	db      *sql.DB
	dialect Dialect
}

func NewSQLBackend(database *sql.DB, dialect Dialect) *SQLBackend {
	return &SQLBackend{db: database, dialect: dialect}
}

// OpenSQLBackend opens dsn, applies the schema and wraps the handle.
func OpenSQLBackend(ctx context.Context, dsn string) (*SQLBackend, error) {
	database, dialect, err := OpenDatabase(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return NewSQLBackend(database, dialect), nil
}

func (b *SQLBackend) Name() string {
	return string(b.dialect)
}

func (b *SQLBackend) DB() *sql.DB {
	return b.db
}

func (b *SQLBackend) InTx(ctx context.Context, fn func(Tables) error) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback() // Safe even after commit
	}()

	if err := fn(sqlTables{q: tx, dialect: b.dialect}); err != nil {
		return err
	}
	return tx.Commit()
}

func (b *SQLBackend) View(ctx context.Context, fn func(Tables) error) error {
	return fn(sqlTables{q: b.db, dialect: b.dialect})
}

func (b *SQLBackend) Close() error {
	return b.db.Close()
}

type sqlTables struct {
	q       querier
	dialect Dialect
}

func (t sqlTables) FindContactByEmail(ctx context.Context, email string) (*models.Contact, error) {
	return FindContactByEmail(ctx, t.q, t.dialect, email)
}

func (t sqlTables) CreateContact(ctx context.Context, contact *models.Contact) error {
	return CreateContact(ctx, t.q, t.dialect, contact)
}

func (t sqlTables) UpdateContact(ctx context.Context, contact *models.Contact) error {
	return UpdateContact(ctx, t.q, t.dialect, contact)
}

func (t sqlTables) CreateDeal(ctx context.Context, deal *models.Deal) error {
	return CreateDeal(ctx, t.q, t.dialect, deal)
}

func (t sqlTables) GetDeal(ctx context.Context, id int64) (*models.Deal, error) {
	return GetDeal(ctx, t.q, t.dialect, id)
}

func (t sqlTables) UpdateDeal(ctx context.Context, deal *models.Deal) error {
	return UpdateDeal(ctx, t.q, t.dialect, deal)
}

func (t sqlTables) DeleteDeal(ctx context.Context, id int64) error {
	return DeleteDeal(ctx, t.q, t.dialect, id)
}

func (t sqlTables) FindDeals(ctx context.Context, filter models.DealFilter) ([]models.Deal, error) {
	return FindDeals(ctx, t.q, t.dialect, filter)
}

func (t sqlTables) CreateActivity(ctx context.Context, activity *models.Activity) error {
	return CreateActivity(ctx, t.q, t.dialect, activity)
}

func (t sqlTables) FindActivities(ctx context.Context, dealID *int64, limit int) ([]models.Activity, error) {
	return FindActivities(ctx, t.q, t.dialect, dealID, limit)
}
