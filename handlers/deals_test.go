// ABOUTME: Tests for the opportunity MCP tool, resource and prompt handlers
// ABOUTME: Runs against a mounted surface over the in-memory gateway
package handlers

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harperreed/embudo/bus"
	"github.com/harperreed/embudo/gateway"
	"github.com/harperreed/embudo/models"
	"github.com/harperreed/embudo/replica"
	"github.com/harperreed/embudo/surface"
)

type fixture struct {
	gw      *gateway.Gateway
	surface *surface.Controller
	peer    *surface.Controller
}

func setupSurface(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	gw := gateway.New(nil, gateway.Options{})
	store := replica.NewStore(replica.NewMemoryKV())
	b := bus.New(bus.Options{})

	mcpSurface := surface.New(gw, store, b.Endpoint("mcp"), surface.Options{Name: "mcp"})
	require.NoError(t, mcpSurface.Mount(ctx))
	peer := surface.New(gw, store, b.Endpoint("board"), surface.Options{Name: "board"})
	require.NoError(t, peer.Mount(ctx))
	t.Cleanup(func() {
		mcpSurface.Unmount()
		peer.Unmount()
		_ = gw.Close()
	})
	return fixture{gw: gw, surface: mcpSurface, peer: peer}
}

func TestCreateOpportunity(t *testing.T) {
	f := setupSurface(t)
	h := NewDealHandlers(f.surface, f.gw)

	_, out, err := h.CreateOpportunity(context.Background(), nil, CreateOpportunityInput{
		Title:             "Acme Renewal",
		Company:           "Acme",
		Value:             "12000.50",
		ContactName:       "Ana Pérez",
		ContactEmail:      "ana@acme.test",
		ExpectedCloseDate: "2026-12-15",
	})
	require.NoError(t, err)

	assert.Equal(t, int64(4), out.ID)
	assert.Equal(t, "12000.50", out.Value)
	assert.Equal(t, string(models.StageNew), out.Stage)
	require.NotNil(t, out.ExpectedCloseDate)
	assert.Equal(t, "2026-12-15", *out.ExpectedCloseDate)
	require.NotNil(t, out.ContactID)

	// The other surface saw it.
	_, ok := f.peer.Deal(4)
	assert.True(t, ok)
}

func TestCreateOpportunityValidation(t *testing.T) {
	f := setupSurface(t)
	h := NewDealHandlers(f.surface, f.gw)
	ctx := context.Background()

	_, _, err := h.CreateOpportunity(ctx, nil, CreateOpportunityInput{ContactEmail: "a@b.test"})
	assert.EqualError(t, err, "title is required")

	_, _, err = h.CreateOpportunity(ctx, nil, CreateOpportunityInput{Title: "x"})
	assert.EqualError(t, err, "contact_email is required")

	_, _, err = h.CreateOpportunity(ctx, nil, CreateOpportunityInput{Title: "x", ContactEmail: "a@b.test", Value: "doce"})
	assert.Error(t, err)

	_, _, err = h.CreateOpportunity(ctx, nil, CreateOpportunityInput{Title: "x", ContactEmail: "a@b.test", Stage: "maybe"})
	assert.Error(t, err)

	_, _, err = h.CreateOpportunity(ctx, nil, CreateOpportunityInput{Title: "x", ContactEmail: "a@b.test", Value: "-5"})
	require.Error(t, err)
	assert.True(t, gateway.IsValidation(err))
}

func TestUpdateDealStageAcceptsLooseSpelling(t *testing.T) {
	f := setupSurface(t)
	h := NewDealHandlers(f.surface, f.gw)

	_, out, err := h.UpdateDealStage(context.Background(), nil, UpdateDealStageInput{ID: 3, Stage: "negociacion"})
	require.NoError(t, err)
	assert.Equal(t, string(models.StageNegotiation), out.Stage)
	assert.Equal(t, 75, out.Probability)

	d, ok := f.peer.Deal(3)
	require.True(t, ok)
	assert.Equal(t, models.StageNegotiation, d.Stage)

	_, _, err = h.UpdateDealStage(context.Background(), nil, UpdateDealStageInput{ID: 99, Stage: "ganado"})
	require.Error(t, err)
	assert.True(t, gateway.IsNotFound(err))
}

func TestUpdateOpportunity(t *testing.T) {
	f := setupSurface(t)
	h := NewDealHandlers(f.surface, f.gw)

	value := "9999.99"
	steps := "Llamar el lunes"
	_, out, err := h.UpdateOpportunity(context.Background(), nil, UpdateOpportunityInput{ID: 2, Value: &value, NextSteps: &steps})
	require.NoError(t, err)
	assert.Equal(t, "9999.99", out.Value)
	assert.Equal(t, steps, out.NextSteps)

	_, _, err = h.UpdateOpportunity(context.Background(), nil, UpdateOpportunityInput{ID: 2})
	assert.Error(t, err)
}

func TestDeleteOpportunity(t *testing.T) {
	f := setupSurface(t)
	h := NewDealHandlers(f.surface, f.gw)

	_, out, err := h.DeleteOpportunity(context.Background(), nil, DeleteOpportunityInput{ID: 1})
	require.NoError(t, err)
	assert.True(t, out.Deleted)

	_, ok := f.peer.Deal(1)
	assert.False(t, ok)

	_, _, err = h.DeleteOpportunity(context.Background(), nil, DeleteOpportunityInput{ID: 1})
	assert.Error(t, err)
}

func TestListDealsAndActivities(t *testing.T) {
	f := setupSurface(t)
	h := NewDealHandlers(f.surface, f.gw)
	ctx := context.Background()

	_, list, err := h.ListDeals(ctx, nil, ListDealsInput{})
	require.NoError(t, err)
	assert.Equal(t, 3, list.Count)
	assert.Equal(t, "24800.00", list.TotalValue)

	_, list, err = h.ListDeals(ctx, nil, ListDealsInput{Stage: "propuesta"})
	require.NoError(t, err)
	require.Equal(t, 1, list.Count)
	assert.Equal(t, int64(1), list.Deals[0].ID)
	assert.Equal(t, "6000.00", list.Weighted)

	_, _, err = h.UpdateDealStage(ctx, nil, UpdateDealStageInput{ID: 1, Stage: "Ganado"})
	require.NoError(t, err)

	id := int64(1)
	_, acts, err := h.ListActivities(ctx, nil, ListActivitiesInput{DealID: &id})
	require.NoError(t, err)
	require.NotEmpty(t, acts.Activities)
	assert.Equal(t, models.ActivityStageChange, acts.Activities[0].Type)
}

func TestReadResources(t *testing.T) {
	f := setupSurface(t)
	h := NewResourceHandlers(f.surface)
	ctx := context.Background()

	res, err := h.ReadResource(ctx, &mcp.ReadResourceRequest{Params: &mcp.ReadResourceParams{URI: "embudo://deals"}})
	require.NoError(t, err)
	var deals []DealOutput
	require.NoError(t, json.Unmarshal([]byte(res.Contents[0].Text), &deals))
	assert.Len(t, deals, 3)

	res, err = h.ReadResource(ctx, &mcp.ReadResourceRequest{Params: &mcp.ReadResourceParams{URI: "embudo://deals/2"}})
	require.NoError(t, err)
	assert.Contains(t, res.Contents[0].Text, "Licencias anuales")

	res, err = h.ReadResource(ctx, &mcp.ReadResourceRequest{Params: &mcp.ReadResourceParams{URI: "embudo://pipeline"}})
	require.NoError(t, err)
	var pipeline pipelineResource
	require.NoError(t, json.Unmarshal([]byte(res.Contents[0].Text), &pipeline))
	assert.Len(t, pipeline.Stages, len(models.Stages()))
	assert.Equal(t, 3, pipeline.TotalDeals)

	_, err = h.ReadResource(ctx, &mcp.ReadResourceRequest{Params: &mcp.ReadResourceParams{URI: "embudo://deals/77"}})
	assert.Error(t, err)
	_, err = h.ReadResource(ctx, &mcp.ReadResourceRequest{Params: &mcp.ReadResourceParams{URI: "crm://deals"}})
	assert.Error(t, err)
}

func TestDealReviewPrompt(t *testing.T) {
	f := setupSurface(t)
	h := NewPromptHandlers(f.surface, f.gw)
	ctx := context.Background()

	res, err := h.GetPrompt(ctx, &mcp.GetPromptRequest{Params: &mcp.GetPromptParams{
		Name:      "deal-review",
		Arguments: map[string]string{"deal_id": "2"},
	}})
	require.NoError(t, err)
	require.Len(t, res.Messages, 1)
	text := res.Messages[0].Content.(*mcp.TextContent).Text
	assert.Contains(t, text, "Licencias anuales")
	assert.Contains(t, text, "Negociación (75%)")

	_, err = h.GetPrompt(ctx, &mcp.GetPromptRequest{Params: &mcp.GetPromptParams{Name: "deal-review"}})
	assert.Error(t, err)

	res, err = h.GetPrompt(ctx, &mcp.GetPromptRequest{Params: &mcp.GetPromptParams{Name: "pipeline-review"}})
	require.NoError(t, err)
	assert.Contains(t, res.Messages[0].Content.(*mcp.TextContent).Text, "PIPELINE OVERVIEW")
}

func TestGeneratePipelineGraphTool(t *testing.T) {
	f := setupSurface(t)
	h := NewVizHandlers(f.surface)

	_, out, err := h.GeneratePipelineGraph(context.Background(), nil, GeneratePipelineGraphInput{})
	require.NoError(t, err)
	assert.Contains(t, out.DOTSource, "Implementación CRM")
	assert.Greater(t, out.EdgeCount, 0)
}
