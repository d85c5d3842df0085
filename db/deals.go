// ABOUTME: Deal database operations
// ABOUTME: Handles deal insert, lookup, filtered listing, full-row update and delete
package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/harperreed/embudo/models"
)

const dealColumns = `id, title, company, value, stage, probability, expected_close_date, notes,
	contact_id, contact_name, contact_email, contact_phone,
	lead_source, industry, company_size, budget_range, decision_timeline, pain_points, competitors, next_steps,
	sales_owner, created_at, updated_at`

func CreateDeal(ctx context.Context, q querier, dialect Dialect, deal *models.Deal) error {
	now := time.Now().UTC()
	deal.CreatedAt = now
	deal.UpdatedAt = now

	err := q.QueryRowContext(ctx, rebind(dialect, `
		INSERT INTO deals (title, company, value, stage, probability, expected_close_date, notes,
			contact_id, contact_name, contact_email, contact_phone,
			lead_source, industry, company_size, budget_range, decision_timeline, pain_points, competitors, next_steps,
			sales_owner, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`),
		deal.Title, deal.Company, deal.Value.String(), string(deal.Stage), deal.Probability, nullTime(deal.ExpectedCloseDate), deal.Notes,
		nullInt64(deal.ContactID), deal.ContactName, deal.ContactEmail, deal.ContactPhone,
		deal.LeadSource, deal.Industry, deal.CompanySize, deal.BudgetRange, deal.DecisionTimeline, deal.PainPoints, deal.Competitors, deal.NextSteps,
		deal.SalesOwner, deal.CreatedAt, deal.UpdatedAt,
	).Scan(&deal.ID)
	if err != nil {
		return fmt.Errorf("failed to create deal: %w", err)
	}
	return nil
}

func GetDeal(ctx context.Context, q querier, dialect Dialect, id int64) (*models.Deal, error) {
	row := q.QueryRowContext(ctx, rebind(dialect, `SELECT `+dealColumns+` FROM deals WHERE id = ?`), id)

	deal, err := scanDeal(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("deal %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get deal: %w", err)
	}
	return deal, nil
}

func UpdateDeal(ctx context.Context, q querier, dialect Dialect, deal *models.Deal) error {
	deal.UpdatedAt = time.Now().UTC()

	res, err := q.ExecContext(ctx, rebind(dialect, `
		UPDATE deals
		SET title = ?, company = ?, value = ?, stage = ?, probability = ?, expected_close_date = ?, notes = ?,
			contact_id = ?, contact_name = ?, contact_email = ?, contact_phone = ?,
			lead_source = ?, industry = ?, company_size = ?, budget_range = ?, decision_timeline = ?,
			pain_points = ?, competitors = ?, next_steps = ?, sales_owner = ?, updated_at = ?
		WHERE id = ?
	`),
		deal.Title, deal.Company, deal.Value.String(), string(deal.Stage), deal.Probability, nullTime(deal.ExpectedCloseDate), deal.Notes,
		nullInt64(deal.ContactID), deal.ContactName, deal.ContactEmail, deal.ContactPhone,
		deal.LeadSource, deal.Industry, deal.CompanySize, deal.BudgetRange, deal.DecisionTimeline,
		deal.PainPoints, deal.Competitors, deal.NextSteps, deal.SalesOwner, deal.UpdatedAt,
		deal.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update deal: %w", err)
	}
	return requireAffected(res, "deal", deal.ID)
}

func DeleteDeal(ctx context.Context, q querier, dialect Dialect, id int64) error {
	res, err := q.ExecContext(ctx, rebind(dialect, `DELETE FROM deals WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("failed to delete deal: %w", err)
	}
	return requireAffected(res, "deal", id)
}

func FindDeals(ctx context.Context, q querier, dialect Dialect, filter models.DealFilter) ([]models.Deal, error) {
	var (
		where []string
		args  []any
	)
	if filter.Stage != "" {
		where = append(where, "stage = ?")
		args = append(args, string(filter.Stage))
	}
	if filter.Company != "" {
		where = append(where, "LOWER(company) LIKE ?")
		args = append(args, "%"+strings.ToLower(filter.Company)+"%")
	}

	query := `SELECT ` + dealColumns + ` FROM deals`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY id ASC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := q.QueryContext(ctx, rebind(dialect, query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to find deals: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var deals []models.Deal
	for rows.Next() {
		d, err := scanDeal(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan deal: %w", err)
		}
		deals = append(deals, *d)
	}

	return deals, rows.Err()
}

func scanDeal(row rowScanner) (*models.Deal, error) {
	d := &models.Deal{}
	var (
		stage     string
		closeDate sql.NullTime
		contactID sql.NullInt64
	)

	err := row.Scan(
		&d.ID, &d.Title, &d.Company, &d.Value, &stage, &d.Probability, &closeDate, &d.Notes,
		&contactID, &d.ContactName, &d.ContactEmail, &d.ContactPhone,
		&d.LeadSource, &d.Industry, &d.CompanySize, &d.BudgetRange, &d.DecisionTimeline, &d.PainPoints, &d.Competitors, &d.NextSteps,
		&d.SalesOwner, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	d.Stage = models.Stage(stage)
	if closeDate.Valid {
		t := closeDate.Time
		d.ExpectedCloseDate = &t
	}
	if contactID.Valid {
		id := contactID.Int64
		d.ContactID = &id
	}
	return d, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
