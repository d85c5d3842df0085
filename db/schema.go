// ABOUTME: Database schema definitions for contacts, deals and activities
// ABOUTME: Keeps one schema per dialect because id generation differs
package db

import (
	"context"
	"database/sql"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS contacts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL DEFAULT '',
	email TEXT NOT NULL,
	phone TEXT NOT NULL DEFAULT '',
	company TEXT NOT NULL DEFAULT '',
	position TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_contacts_email ON contacts(email COLLATE NOCASE);

CREATE TABLE IF NOT EXISTS deals (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	title TEXT NOT NULL,
	company TEXT NOT NULL DEFAULT '',
	value TEXT NOT NULL DEFAULT '0',
	stage TEXT NOT NULL,
	probability INTEGER NOT NULL DEFAULT 0 CHECK(probability BETWEEN 0 AND 100),
	expected_close_date TIMESTAMP,
	notes TEXT NOT NULL DEFAULT '',
	contact_id INTEGER,
	contact_name TEXT NOT NULL DEFAULT '',
	contact_email TEXT NOT NULL DEFAULT '',
	contact_phone TEXT NOT NULL DEFAULT '',
	lead_source TEXT NOT NULL DEFAULT '',
	industry TEXT NOT NULL DEFAULT '',
	company_size TEXT NOT NULL DEFAULT '',
	budget_range TEXT NOT NULL DEFAULT '',
	decision_timeline TEXT NOT NULL DEFAULT '',
	pain_points TEXT NOT NULL DEFAULT '',
	competitors TEXT NOT NULL DEFAULT '',
	next_steps TEXT NOT NULL DEFAULT '',
	sales_owner TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	FOREIGN KEY (contact_id) REFERENCES contacts(id) ON DELETE SET NULL
);

CREATE INDEX IF NOT EXISTS idx_deals_stage ON deals(stage);
CREATE INDEX IF NOT EXISTS idx_deals_contact_id ON deals(contact_id);

CREATE TABLE IF NOT EXISTS activities (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	type TEXT NOT NULL CHECK(type IN ('opportunity_created', 'opportunity_updated', 'opportunity_deleted', 'stage_change')),
	title TEXT NOT NULL,
	deal_id INTEGER,
	contact_id INTEGER,
	activity_date TIMESTAMP NOT NULL,
	status TEXT NOT NULL,
	notes TEXT NOT NULL DEFAULT '',
	sales_owner TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_activities_deal_id ON activities(deal_id);
CREATE INDEX IF NOT EXISTS idx_activities_date ON activities(activity_date DESC);
`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS contacts (
	id BIGSERIAL PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	email TEXT NOT NULL,
	phone TEXT NOT NULL DEFAULT '',
	company TEXT NOT NULL DEFAULT '',
	position TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_contacts_email ON contacts(LOWER(email));

CREATE TABLE IF NOT EXISTS deals (
	id BIGSERIAL PRIMARY KEY,
	title TEXT NOT NULL,
	company TEXT NOT NULL DEFAULT '',
	value NUMERIC(14, 2) NOT NULL DEFAULT 0,
	stage TEXT NOT NULL,
	probability INTEGER NOT NULL DEFAULT 0 CHECK(probability BETWEEN 0 AND 100),
	expected_close_date TIMESTAMPTZ,
	notes TEXT NOT NULL DEFAULT '',
	contact_id BIGINT REFERENCES contacts(id) ON DELETE SET NULL,
	contact_name TEXT NOT NULL DEFAULT '',
	contact_email TEXT NOT NULL DEFAULT '',
	contact_phone TEXT NOT NULL DEFAULT '',
	lead_source TEXT NOT NULL DEFAULT '',
	industry TEXT NOT NULL DEFAULT '',
	company_size TEXT NOT NULL DEFAULT '',
	budget_range TEXT NOT NULL DEFAULT '',
	decision_timeline TEXT NOT NULL DEFAULT '',
	pain_points TEXT NOT NULL DEFAULT '',
	competitors TEXT NOT NULL DEFAULT '',
	next_steps TEXT NOT NULL DEFAULT '',
	sales_owner TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_deals_stage ON deals(stage);
CREATE INDEX IF NOT EXISTS idx_deals_contact_id ON deals(contact_id);

CREATE TABLE IF NOT EXISTS activities (
	id BIGSERIAL PRIMARY KEY,
	type TEXT NOT NULL CHECK(type IN ('opportunity_created', 'opportunity_updated', 'opportunity_deleted', 'stage_change')),
	title TEXT NOT NULL,
	deal_id BIGINT,
	contact_id BIGINT,
	activity_date TIMESTAMPTZ NOT NULL,
	status TEXT NOT NULL,
	notes TEXT NOT NULL DEFAULT '',
	sales_owner TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_activities_deal_id ON activities(deal_id);
CREATE INDEX IF NOT EXISTS idx_activities_date ON activities(activity_date DESC);
`

func InitSchema(ctx context.Context, db *sql.DB, dialect Dialect) error {
	schema := sqliteSchema
	if dialect == DialectPostgres {
		schema = postgresSchema
	}
	_, err := db.ExecContext(ctx, schema)
	return err
}
