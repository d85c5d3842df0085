// ABOUTME: Activity (audit trail) database operations
// ABOUTME: Activities are insert-only; there is no update or delete
package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/harperreed/embudo/models"
)

func CreateActivity(ctx context.Context, q querier, dialect Dialect, activity *models.Activity) error {
	activity.ActivityDate = activity.ActivityDate.UTC()

	err := q.QueryRowContext(ctx, rebind(dialect, `
		INSERT INTO activities (type, title, deal_id, contact_id, activity_date, status, notes, sales_owner)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`), activity.Type, activity.Title, nullInt64(activity.DealID), nullInt64(activity.ContactID),
		activity.ActivityDate, activity.Status, activity.Notes, activity.SalesOwner).Scan(&activity.ID)
	if err != nil {
		return fmt.Errorf("failed to create activity: %w", err)
	}
	return nil
}

// FindActivities lists activities newest first, optionally for one deal.
func FindActivities(ctx context.Context, q querier, dialect Dialect, dealID *int64, limit int) ([]models.Activity, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, type, title, deal_id, contact_id, activity_date, status, notes, sales_owner FROM activities`
	var args []any
	if dealID != nil {
		query += ` WHERE deal_id = ?`
		args = append(args, *dealID)
	}
	query += ` ORDER BY activity_date DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := q.QueryContext(ctx, rebind(dialect, query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query activities: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var activities []models.Activity
	for rows.Next() {
		var (
			a         models.Activity
			deal      sql.NullInt64
			contactID sql.NullInt64
		)
		if err := rows.Scan(&a.ID, &a.Type, &a.Title, &deal, &contactID, &a.ActivityDate, &a.Status, &a.Notes, &a.SalesOwner); err != nil {
			return nil, fmt.Errorf("failed to scan activity: %w", err)
		}
		if deal.Valid {
			id := deal.Int64
			a.DealID = &id
		}
		if contactID.Valid {
			id := contactID.Int64
			a.ContactID = &id
		}
		activities = append(activities, a)
	}

	return activities, rows.Err()
}
