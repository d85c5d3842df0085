// ABOUTME: Opportunity MCP tool handlers
// ABOUTME: Implements create/update/delete opportunity, update_deal_stage, list_deals and list_activities
package handlers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/shopspring/decimal"

	"github.com/harperreed/embudo/models"
)

// Surface is the mounted replica the MCP server writes through, so changes
// made by an agent reach every other open surface.
type Surface interface {
	Create(ctx context.Context, input models.OpportunityInput) (models.Deal, error)
	Update(ctx context.Context, id int64, patch models.DealPatch) (models.Deal, error)
	ChangeStage(ctx context.Context, id int64, stage models.Stage) (models.Deal, error)
	Delete(ctx context.Context, id int64) error
	Deals() []models.Deal
	Deal(id int64) (models.Deal, bool)
}

// Reader answers queries against the persistence gateway.
type Reader interface {
	ListDeals(ctx context.Context, filter models.DealFilter) ([]models.Deal, error)
	ListActivities(ctx context.Context, dealID *int64, limit int) ([]models.Activity, error)
}

type DealHandlers struct {
	surface Surface
	reader  Reader
}

func NewDealHandlers(surface Surface, reader Reader) *DealHandlers {
	return &DealHandlers{surface: surface, reader: reader}
}

type CreateOpportunityInput struct {
	Title             string `json:"title" jsonschema:"Opportunity title (required)"`
	Company           string `json:"company,omitempty" jsonschema:"Company name"`
	Value             string `json:"value,omitempty" jsonschema:"Deal value as a decimal string, e.g. 12000.50"`
	Stage             string `json:"stage,omitempty" jsonschema:"Stage: Nuevo, Calificación, Propuesta, Negociación, Cierre, Ganado, Perdido (default Nuevo)"`
	Probability       *int   `json:"probability,omitempty" jsonschema:"Win probability 0-100 (default from stage)"`
	ExpectedCloseDate string `json:"expected_close_date,omitempty" jsonschema:"Expected close date (YYYY-MM-DD or RFC3339)"`
	Notes             string `json:"notes,omitempty" jsonschema:"Notes"`
	ContactName       string `json:"contact_name,omitempty" jsonschema:"Contact name"`
	ContactEmail      string `json:"contact_email" jsonschema:"Contact email (required, reused if it already exists)"`
	ContactPhone      string `json:"contact_phone,omitempty" jsonschema:"Contact phone"`
	ContactPosition   string `json:"contact_position,omitempty" jsonschema:"Contact position"`
	LeadSource        string `json:"lead_source,omitempty" jsonschema:"Where the lead came from"`
	Industry          string `json:"industry,omitempty" jsonschema:"Industry"`
	NextSteps         string `json:"next_steps,omitempty" jsonschema:"Next steps"`
}

type DealOutput struct {
	ID                int64   `json:"id"`
	Title             string  `json:"title"`
	Company           string  `json:"company,omitempty"`
	Value             string  `json:"value"`
	Stage             string  `json:"stage"`
	Probability       int     `json:"probability"`
	ContactID         *int64  `json:"contact_id,omitempty"`
	ContactName       string  `json:"contact_name,omitempty"`
	ContactEmail      string  `json:"contact_email,omitempty"`
	ExpectedCloseDate *string `json:"expected_close_date,omitempty"`
	NextSteps         string  `json:"next_steps,omitempty"`
	CreatedAt         string  `json:"created_at,omitempty"`
	UpdatedAt         string  `json:"updated_at,omitempty"`
}

func (h *DealHandlers) CreateOpportunity(ctx context.Context, request *mcp.CallToolRequest, input CreateOpportunityInput) (*mcp.CallToolResult, DealOutput, error) {
	if input.Title == "" {
		return nil, DealOutput{}, fmt.Errorf("title is required")
	}
	if input.ContactEmail == "" {
		return nil, DealOutput{}, fmt.Errorf("contact_email is required")
	}

	opp := models.OpportunityInput{
		Title:           input.Title,
		Company:         input.Company,
		Probability:     input.Probability,
		Notes:           input.Notes,
		ContactName:     input.ContactName,
		ContactEmail:    input.ContactEmail,
		ContactPhone:    input.ContactPhone,
		ContactPosition: input.ContactPosition,
		LeadSource:      input.LeadSource,
		Industry:        input.Industry,
		NextSteps:       input.NextSteps,
	}

	if input.Value != "" {
		v, err := decimal.NewFromString(input.Value)
		if err != nil {
			return nil, DealOutput{}, fmt.Errorf("invalid value: %w", err)
		}
		opp.Value = v
	}
	if input.Stage != "" {
		st, err := models.ParseStage(input.Stage)
		if err != nil {
			return nil, DealOutput{}, err
		}
		opp.Stage = st
	}
	if input.ExpectedCloseDate != "" {
		d, err := parseDate(input.ExpectedCloseDate)
		if err != nil {
			return nil, DealOutput{}, err
		}
		opp.ExpectedCloseDate = &d
	}

	deal, err := h.surface.Create(ctx, opp)
	if err != nil {
		return nil, DealOutput{}, fmt.Errorf("failed to create opportunity: %w", err)
	}
	return nil, dealToOutput(deal), nil
}

type UpdateOpportunityInput struct {
	ID                int64   `json:"id" jsonschema:"Deal ID (required)"`
	Title             *string `json:"title,omitempty" jsonschema:"Updated title"`
	Company           *string `json:"company,omitempty" jsonschema:"Updated company"`
	Value             *string `json:"value,omitempty" jsonschema:"Updated value as a decimal string"`
	Stage             *string `json:"stage,omitempty" jsonschema:"Updated stage"`
	Probability       *int    `json:"probability,omitempty" jsonschema:"Updated probability (stages with a fixed probability override it)"`
	ExpectedCloseDate *string `json:"expected_close_date,omitempty" jsonschema:"Updated expected close date"`
	Notes             *string `json:"notes,omitempty" jsonschema:"Updated notes"`
	NextSteps         *string `json:"next_steps,omitempty" jsonschema:"Updated next steps"`
}

func (h *DealHandlers) UpdateOpportunity(ctx context.Context, request *mcp.CallToolRequest, input UpdateOpportunityInput) (*mcp.CallToolResult, DealOutput, error) {
	if input.ID <= 0 {
		return nil, DealOutput{}, fmt.Errorf("id is required")
	}

	patch := models.DealPatch{
		Title:       input.Title,
		Company:     input.Company,
		Probability: input.Probability,
		Notes:       input.Notes,
		NextSteps:   input.NextSteps,
	}
	if input.Value != nil {
		v, err := decimal.NewFromString(*input.Value)
		if err != nil {
			return nil, DealOutput{}, fmt.Errorf("invalid value: %w", err)
		}
		patch.Value = &v
	}
	if input.Stage != nil {
		st, err := models.ParseStage(*input.Stage)
		if err != nil {
			return nil, DealOutput{}, err
		}
		patch.Stage = &st
	}
	if input.ExpectedCloseDate != nil {
		d, err := parseDate(*input.ExpectedCloseDate)
		if err != nil {
			return nil, DealOutput{}, err
		}
		patch.ExpectedCloseDate = &d
	}

	deal, err := h.surface.Update(ctx, input.ID, patch)
	if err != nil {
		return nil, DealOutput{}, fmt.Errorf("failed to update opportunity: %w", err)
	}
	return nil, dealToOutput(deal), nil
}

type UpdateDealStageInput struct {
	ID    int64  `json:"id" jsonschema:"Deal ID (required)"`
	Stage string `json:"stage" jsonschema:"Target stage (required); probability follows the stage"`
}

func (h *DealHandlers) UpdateDealStage(ctx context.Context, request *mcp.CallToolRequest, input UpdateDealStageInput) (*mcp.CallToolResult, DealOutput, error) {
	if input.ID <= 0 {
		return nil, DealOutput{}, fmt.Errorf("id is required")
	}
	stage, err := models.ParseStage(input.Stage)
	if err != nil {
		return nil, DealOutput{}, err
	}

	deal, err := h.surface.ChangeStage(ctx, input.ID, stage)
	if err != nil {
		return nil, DealOutput{}, fmt.Errorf("failed to update stage: %w", err)
	}
	return nil, dealToOutput(deal), nil
}

type DeleteOpportunityInput struct {
	ID int64 `json:"id" jsonschema:"Deal ID (required)"`
}

type DeleteOpportunityOutput struct {
	ID      int64 `json:"id"`
	Deleted bool  `json:"deleted"`
}

func (h *DealHandlers) DeleteOpportunity(ctx context.Context, request *mcp.CallToolRequest, input DeleteOpportunityInput) (*mcp.CallToolResult, DeleteOpportunityOutput, error) {
	if input.ID <= 0 {
		return nil, DeleteOpportunityOutput{}, fmt.Errorf("id is required")
	}
	if err := h.surface.Delete(ctx, input.ID); err != nil {
		return nil, DeleteOpportunityOutput{}, fmt.Errorf("failed to delete opportunity: %w", err)
	}
	return nil, DeleteOpportunityOutput{ID: input.ID, Deleted: true}, nil
}

type ListDealsInput struct {
	Stage   string `json:"stage,omitempty" jsonschema:"Filter by stage"`
	Company string `json:"company,omitempty" jsonschema:"Filter by company (substring, case-insensitive)"`
	Limit   int    `json:"limit,omitempty" jsonschema:"Maximum results (default 50)"`
}

type ListDealsOutput struct {
	Deals      []DealOutput `json:"deals"`
	Count      int          `json:"count"`
	TotalValue string       `json:"total_value"`
	Weighted   string       `json:"weighted_value"`
}

func (h *DealHandlers) ListDeals(ctx context.Context, request *mcp.CallToolRequest, input ListDealsInput) (*mcp.CallToolResult, ListDealsOutput, error) {
	filter := models.DealFilter{Company: input.Company, Limit: input.Limit}
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	if input.Stage != "" {
		st, err := models.ParseStage(input.Stage)
		if err != nil {
			return nil, ListDealsOutput{}, err
		}
		filter.Stage = st
	}

	deals, err := h.reader.ListDeals(ctx, filter)
	if err != nil {
		return nil, ListDealsOutput{}, fmt.Errorf("failed to list deals: %w", err)
	}

	out := ListDealsOutput{Deals: make([]DealOutput, 0, len(deals)), Count: len(deals)}
	total, weighted := decimal.Zero, decimal.Zero
	for _, d := range deals {
		out.Deals = append(out.Deals, dealToOutput(d))
		total = total.Add(d.Value)
		weighted = weighted.Add(d.Value.Mul(decimal.NewFromInt(int64(d.Probability))).Div(decimal.NewFromInt(100)))
	}
	out.TotalValue = total.StringFixed(2)
	out.Weighted = weighted.StringFixed(2)
	return nil, out, nil
}

type ListActivitiesInput struct {
	DealID *int64 `json:"deal_id,omitempty" jsonschema:"Only activities of this deal"`
	Limit  int    `json:"limit,omitempty" jsonschema:"Maximum results (default 20)"`
}

type ActivityOutput struct {
	ID           int64  `json:"id"`
	Type         string `json:"type"`
	Title        string `json:"title"`
	DealID       *int64 `json:"deal_id,omitempty"`
	ContactID    *int64 `json:"contact_id,omitempty"`
	ActivityDate string `json:"activity_date"`
	Status       string `json:"status"`
	Notes        string `json:"notes,omitempty"`
	SalesOwner   string `json:"sales_owner,omitempty"`
}

type ListActivitiesOutput struct {
	Activities []ActivityOutput `json:"activities"`
}

func (h *DealHandlers) ListActivities(ctx context.Context, request *mcp.CallToolRequest, input ListActivitiesInput) (*mcp.CallToolResult, ListActivitiesOutput, error) {
	limit := input.Limit
	if limit <= 0 {
		limit = 20
	}
	activities, err := h.reader.ListActivities(ctx, input.DealID, limit)
	if err != nil {
		return nil, ListActivitiesOutput{}, fmt.Errorf("failed to list activities: %w", err)
	}

	out := ListActivitiesOutput{Activities: make([]ActivityOutput, 0, len(activities))}
	for _, a := range activities {
		out.Activities = append(out.Activities, ActivityOutput{
			ID:           a.ID,
			Type:         a.Type,
			Title:        a.Title,
			DealID:       a.DealID,
			ContactID:    a.ContactID,
			ActivityDate: a.ActivityDate.Format(time.RFC3339),
			Status:       a.Status,
			Notes:        a.Notes,
			SalesOwner:   a.SalesOwner,
		})
	}
	return nil, out, nil
}

func dealToOutput(deal models.Deal) DealOutput {
	out := DealOutput{
		ID:           deal.ID,
		Title:        deal.Title,
		Company:      deal.Company,
		Value:        deal.Value.StringFixed(2),
		Stage:        string(deal.Stage),
		Probability:  deal.Probability,
		ContactID:    deal.ContactID,
		ContactName:  deal.ContactName,
		ContactEmail: deal.ContactEmail,
		NextSteps:    deal.NextSteps,
	}
	if !deal.CreatedAt.IsZero() {
		out.CreatedAt = deal.CreatedAt.Format(time.RFC3339)
	}
	if !deal.UpdatedAt.IsZero() {
		out.UpdatedAt = deal.UpdatedAt.Format(time.RFC3339)
	}
	if deal.ExpectedCloseDate != nil {
		s := deal.ExpectedCloseDate.Format("2006-01-02")
		out.ExpectedCloseDate = &s
	}
	return out
}

func parseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (use YYYY-MM-DD or RFC3339): %w", raw, err)
	}
	return t, nil
}
