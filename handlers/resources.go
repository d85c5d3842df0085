// ABOUTME: MCP resource handlers for exposing the pipeline replica
// ABOUTME: Provides read-only access to deals and pipeline stats via embudo:// URIs
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/harperreed/embudo/viz"
)

const resourceScheme = "embudo://"

type ResourceHandlers struct {
	surface Surface
}

func NewResourceHandlers(surface Surface) *ResourceHandlers {
	return &ResourceHandlers{surface: surface}
}

// ReadResource handles resource read requests
func (h *ResourceHandlers) ReadResource(ctx context.Context, request *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	uri := request.Params.URI
	if !strings.HasPrefix(uri, resourceScheme) {
		return nil, fmt.Errorf("invalid URI scheme: expected %s", resourceScheme)
	}

	parts := strings.Split(strings.TrimPrefix(uri, resourceScheme), "/")
	switch parts[0] {
	case "deals":
		if len(parts) == 1 || parts[1] == "" {
			return h.readAllDeals(uri)
		}
		return h.readDeal(uri, parts[1])
	case "pipeline":
		return h.readPipeline(uri)
	default:
		return nil, fmt.Errorf("unknown resource: %s", parts[0])
	}
}

func (h *ResourceHandlers) readAllDeals(uri string) (*mcp.ReadResourceResult, error) {
	deals := h.surface.Deals()
	out := make([]DealOutput, 0, len(deals))
	for _, d := range deals {
		out = append(out, dealToOutput(d))
	}
	return jsonResource(uri, out)
}

func (h *ResourceHandlers) readDeal(uri, idStr string) (*mcp.ReadResourceResult, error) {
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid deal ID: %w", err)
	}
	deal, ok := h.surface.Deal(id)
	if !ok {
		return nil, fmt.Errorf("deal %d not found", id)
	}
	return jsonResource(uri, dealToOutput(deal))
}

type pipelineStage struct {
	Stage    string `json:"stage"`
	Count    int    `json:"count"`
	Value    string `json:"value"`
	Weighted string `json:"weighted_value"`
}

type pipelineResource struct {
	Stages     []pipelineStage `json:"stages"`
	TotalDeals int             `json:"total_deals"`
	OpenValue  string          `json:"open_value"`
	WonValue   string          `json:"won_value"`
	Forecast   string          `json:"forecast"`
	Overdue    int             `json:"overdue"`
}

func (h *ResourceHandlers) readPipeline(uri string) (*mcp.ReadResourceResult, error) {
	stats := viz.ComputeStats(h.surface.Deals())

	out := pipelineResource{
		TotalDeals: stats.TotalDeals,
		OpenValue:  stats.OpenValue.StringFixed(2),
		WonValue:   stats.WonValue.StringFixed(2),
		Forecast:   stats.Forecast.StringFixed(2),
		Overdue:    len(stats.Overdue),
	}
	for _, st := range stats.Ordered() {
		out.Stages = append(out.Stages, pipelineStage{
			Stage:    string(st.Stage),
			Count:    st.Count,
			Value:    st.Value.StringFixed(2),
			Weighted: st.Weighted.StringFixed(2),
		})
	}
	return jsonResource(uri, out)
}

func jsonResource(uri string, v any) (*mcp.ReadResourceResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal resource: %w", err)
	}

	return &mcp.ReadResourceResult{Contents: []*mcp.ResourceContents{
		{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}}, nil
}
