// ABOUTME: MCP server subcommand
// ABOUTME: Serves opportunity tools, deal resources and review prompts over stdio from an "mcp" surface
package cli

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/harperreed/embudo/handlers"
)

// NewMCPServer mounts the "mcp" surface and registers every tool, resource
// and prompt on a new server.
func NewMCPServer(ctx context.Context, app *App, version string) (*mcp.Server, error) {
	s, err := app.Mount(ctx, "mcp")
	if err != nil {
		return nil, err
	}

	// Create handlers
	dealHandlers := handlers.NewDealHandlers(s, app.Gateway)
	vizHandlers := handlers.NewVizHandlers(s)
	resourceHandlers := handlers.NewResourceHandlers(s)
	promptHandlers := handlers.NewPromptHandlers(s, app.Gateway)

	// Create MCP server
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "embudo",
		Version: version,
	}, nil)

	// Register tools
	mcp.AddTool(server, &mcp.Tool{
		Name:        "create_opportunity",
		Description: "Create a sales opportunity together with its contact (reused by email)",
	}, dealHandlers.CreateOpportunity)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "update_opportunity",
		Description: "Update fields of an existing opportunity; probability follows the stage",
	}, dealHandlers.UpdateOpportunity)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "update_deal_stage",
		Description: "Move a deal to another pipeline stage (Nuevo, Calificación, Propuesta, Negociación, Cierre, Ganado, Perdido)",
	}, dealHandlers.UpdateDealStage)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "delete_opportunity",
		Description: "Delete an opportunity from every open surface",
	}, dealHandlers.DeleteOpportunity)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_deals",
		Description: "List deals with optional stage and company filters, including pipeline totals",
	}, dealHandlers.ListDeals)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_activities",
		Description: "List the audit trail of system activities, optionally for one deal",
	}, dealHandlers.ListActivities)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "generate_pipeline_graph",
		Description: "Render the pipeline as a Graphviz DOT graph grouped by stage",
	}, vizHandlers.GeneratePipelineGraph)

	// Register resources
	server.AddResource(&mcp.Resource{
		URI:         "embudo://deals",
		Name:        "deals",
		Description: "Every deal as seen by the MCP surface",
		MIMEType:    "application/json",
	}, resourceHandlers.ReadResource)

	server.AddResource(&mcp.Resource{
		URI:         "embudo://pipeline",
		Name:        "pipeline",
		Description: "Per-stage counts, values and weighted forecast",
		MIMEType:    "application/json",
	}, resourceHandlers.ReadResource)

	server.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: "embudo://deals/{id}",
		Name:        "deal",
		Description: "A single deal by ID",
		MIMEType:    "application/json",
	}, resourceHandlers.ReadResource)

	// Register prompts
	server.AddPrompt(&mcp.Prompt{
		Name:        "deal-review",
		Description: "Review one deal with its activity history and suggest next steps",
		Arguments: []*mcp.PromptArgument{
			{Name: "deal_id", Description: "Deal ID", Required: true},
		},
	}, promptHandlers.GetPrompt)

	server.AddPrompt(&mcp.Prompt{
		Name:        "pipeline-review",
		Description: "Review the whole pipeline and flag deals that need attention",
	}, promptHandlers.GetPrompt)

	return server, nil
}

// MCPCommand starts the MCP server on stdio
func MCPCommand(ctx context.Context, app *App, version string) error {
	app.Logger.Info("starting MCP server", zap.String("version", version))

	server, err := NewMCPServer(ctx, app, version)
	if err != nil {
		return err
	}

	// Run server on stdio transport
	return server.Run(ctx, &mcp.StdioTransport{})
}
