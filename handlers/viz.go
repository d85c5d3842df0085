// ABOUTME: GraphViz visualization MCP handlers
// ABOUTME: Provides the generate_pipeline_graph tool for agents
package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/harperreed/embudo/viz"
)

type VizHandlers struct {
	surface Surface
}

func NewVizHandlers(surface Surface) *VizHandlers {
	return &VizHandlers{surface: surface}
}

type GeneratePipelineGraphInput struct{}

type GeneratePipelineGraphOutput struct {
	DOTSource string `json:"dot_source"`
	NodeCount int    `json:"node_count"`
	EdgeCount int    `json:"edge_count"`
}

func (h *VizHandlers) GeneratePipelineGraph(ctx context.Context, request *mcp.CallToolRequest, input GeneratePipelineGraphInput) (*mcp.CallToolResult, GeneratePipelineGraphOutput, error) {
	dot, err := viz.GeneratePipelineGraph(ctx, h.surface.Deals())
	if err != nil {
		return nil, GeneratePipelineGraphOutput{}, fmt.Errorf("failed to generate graph: %w", err)
	}

	// Count nodes and edges for stats
	return nil, GeneratePipelineGraphOutput{
		DOTSource: dot,
		NodeCount: strings.Count(dot, "[label="),
		EdgeCount: strings.Count(dot, "->"),
	}, nil
}
