// ABOUTME: Data models for the pipeline CRM
// ABOUTME: Defines Deal, Contact, Activity and the inputs that mutate them
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Contact struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone,omitempty"`
	Company   string    `json:"company,omitempty"`
	Position  string    `json:"position,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Deal is the replicated aggregate. Contact fields are duplicated onto the
// deal so surfaces can render it without a join.
type Deal struct {
	ID                int64           `json:"id"`
	Title             string          `json:"title"`
	Company           string          `json:"company"`
	Value             decimal.Decimal `json:"value"`
	Stage             Stage           `json:"stage"`
	Probability       int             `json:"probability"`
	ExpectedCloseDate *time.Time      `json:"expected_close_date,omitempty"`
	Notes             string          `json:"notes,omitempty"`
	ContactID         *int64          `json:"contact_id,omitempty"`
	ContactName       string          `json:"contact_name,omitempty"`
	ContactEmail      string          `json:"contact_email,omitempty"`
	ContactPhone      string          `json:"contact_phone,omitempty"`

	LeadSource       string `json:"lead_source,omitempty"`
	Industry         string `json:"industry,omitempty"`
	CompanySize      string `json:"company_size,omitempty"`
	BudgetRange      string `json:"budget_range,omitempty"`
	DecisionTimeline string `json:"decision_timeline,omitempty"`
	PainPoints       string `json:"pain_points,omitempty"`
	Competitors      string `json:"competitors,omitempty"`
	NextSteps        string `json:"next_steps,omitempty"`

	SalesOwner string    `json:"sales_owner,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Clone returns a deep copy so replicas never share pointer fields.
func (d Deal) Clone() Deal {
	c := d
	if d.ExpectedCloseDate != nil {
		t := *d.ExpectedCloseDate
		c.ExpectedCloseDate = &t
	}
	if d.ContactID != nil {
		id := *d.ContactID
		c.ContactID = &id
	}
	return c
}

// Activity types.
const (
	ActivityOpportunityCreated = "opportunity_created"
	ActivityOpportunityUpdated = "opportunity_updated"
	ActivityOpportunityDeleted = "opportunity_deleted"
	ActivityStageChange        = "stage_change"
)

// ActivityStatusCompleted is the status of every system-generated activity.
const ActivityStatusCompleted = "Completada"

// Activity is an append-only audit record written as a side effect of a
// gateway mutation.
type Activity struct {
	ID           int64     `json:"id"`
	Type         string    `json:"type"`
	Title        string    `json:"title"`
	DealID       *int64    `json:"deal_id,omitempty"`
	ContactID    *int64    `json:"contact_id,omitempty"`
	ActivityDate time.Time `json:"activity_date"`
	Status       string    `json:"status"`
	Notes        string    `json:"notes,omitempty"`
	SalesOwner   string    `json:"sales_owner,omitempty"`
}

// OpportunityInput is what a surface submits to create a deal together with
// its contact.
type OpportunityInput struct {
	Title             string          `json:"title"`
	Company           string          `json:"company"`
	Value             decimal.Decimal `json:"value"`
	Stage             Stage           `json:"stage,omitempty"`
	Probability       *int            `json:"probability,omitempty"`
	ExpectedCloseDate *time.Time      `json:"expected_close_date,omitempty"`
	Notes             string          `json:"notes,omitempty"`

	ContactName     string `json:"contact_name,omitempty"`
	ContactEmail    string `json:"contact_email"`
	ContactPhone    string `json:"contact_phone,omitempty"`
	ContactPosition string `json:"contact_position,omitempty"`

	LeadSource       string `json:"lead_source,omitempty"`
	Industry         string `json:"industry,omitempty"`
	CompanySize      string `json:"company_size,omitempty"`
	BudgetRange      string `json:"budget_range,omitempty"`
	DecisionTimeline string `json:"decision_timeline,omitempty"`
	PainPoints       string `json:"pain_points,omitempty"`
	Competitors      string `json:"competitors,omitempty"`
	NextSteps        string `json:"next_steps,omitempty"`
}

// DealPatch carries the fields an update replaces. Nil means "not provided".
type DealPatch struct {
	Title             *string          `json:"title,omitempty"`
	Company           *string          `json:"company,omitempty"`
	Value             *decimal.Decimal `json:"value,omitempty"`
	Stage             *Stage           `json:"stage,omitempty"`
	Probability       *int             `json:"probability,omitempty"`
	ExpectedCloseDate *time.Time       `json:"expected_close_date,omitempty"`
	Notes             *string          `json:"notes,omitempty"`
	LeadSource        *string          `json:"lead_source,omitempty"`
	Industry          *string          `json:"industry,omitempty"`
	CompanySize       *string          `json:"company_size,omitempty"`
	BudgetRange       *string          `json:"budget_range,omitempty"`
	DecisionTimeline  *string          `json:"decision_timeline,omitempty"`
	PainPoints        *string          `json:"pain_points,omitempty"`
	Competitors       *string          `json:"competitors,omitempty"`
	NextSteps         *string          `json:"next_steps,omitempty"`
}

// Apply replaces every provided field on d. Probability is re-derived from
// the resulting stage afterwards.
func (p DealPatch) Apply(d *Deal) {
	setString := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	setString(&d.Title, p.Title)
	setString(&d.Company, p.Company)
	setString(&d.Notes, p.Notes)
	setString(&d.LeadSource, p.LeadSource)
	setString(&d.Industry, p.Industry)
	setString(&d.CompanySize, p.CompanySize)
	setString(&d.BudgetRange, p.BudgetRange)
	setString(&d.DecisionTimeline, p.DecisionTimeline)
	setString(&d.PainPoints, p.PainPoints)
	setString(&d.Competitors, p.Competitors)
	setString(&d.NextSteps, p.NextSteps)

	if p.Value != nil {
		d.Value = *p.Value
	}
	if p.Stage != nil {
		d.Stage = *p.Stage
	}
	if p.Probability != nil {
		d.Probability = *p.Probability
	}
	if p.ExpectedCloseDate != nil {
		t := *p.ExpectedCloseDate
		d.ExpectedCloseDate = &t
	}

	d.Probability = ProbabilityFor(d.Stage, d.Probability)
}

// Empty reports whether the patch provides no field at all.
func (p DealPatch) Empty() bool {
	return p == DealPatch{}
}

// DealFilter narrows ListDeals.
type DealFilter struct {
	Stage   Stage
	Company string
	Limit   int
}
