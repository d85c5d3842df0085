// ABOUTME: Contact database operations
// ABOUTME: Handles contact creation, email lookup and in-place updates
package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/harperreed/embudo/models"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

const contactColumns = `id, name, email, phone, company, position, created_at, updated_at`

func CreateContact(ctx context.Context, q querier, dialect Dialect, contact *models.Contact) error {
	now := time.Now().UTC()
	contact.CreatedAt = now
	contact.UpdatedAt = now

	err := q.QueryRowContext(ctx, rebind(dialect, `
		INSERT INTO contacts (name, email, phone, company, position, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`), contact.Name, contact.Email, contact.Phone, contact.Company, contact.Position, contact.CreatedAt, contact.UpdatedAt).Scan(&contact.ID)
	if err != nil {
		return fmt.Errorf("failed to create contact: %w", err)
	}
	return nil
}

func FindContactByEmail(ctx context.Context, q querier, dialect Dialect, email string) (*models.Contact, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, nil
	}

	row := q.QueryRowContext(ctx, rebind(dialect, `
		SELECT `+contactColumns+`
		FROM contacts WHERE LOWER(email) = LOWER(?)
	`), email)

	contact, err := scanContact(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lookup contact: %w", err)
	}
	return contact, nil
}

func UpdateContact(ctx context.Context, q querier, dialect Dialect, contact *models.Contact) error {
	contact.UpdatedAt = time.Now().UTC()

	res, err := q.ExecContext(ctx, rebind(dialect, `
		UPDATE contacts
		SET name = ?, email = ?, phone = ?, company = ?, position = ?, updated_at = ?
		WHERE id = ?
	`), contact.Name, contact.Email, contact.Phone, contact.Company, contact.Position, contact.UpdatedAt, contact.ID)
	if err != nil {
		return fmt.Errorf("failed to update contact: %w", err)
	}
	return requireAffected(res, "contact", contact.ID)
}

func scanContact(row rowScanner) (*models.Contact, error) {
	c := &models.Contact{}
	err := row.Scan(&c.ID, &c.Name, &c.Email, &c.Phone, &c.Company, &c.Position, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func requireAffected(res sql.Result, entity string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %d: %w", entity, id, ErrNotFound)
	}
	return nil
}
