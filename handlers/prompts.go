// ABOUTME: MCP prompt handlers for pipeline review workflows
// ABOUTME: Builds deal-review and pipeline-review prompts from the mounted replica
package handlers

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/harperreed/embudo/viz"
)

type PromptHandlers struct {
	surface Surface
	reader  Reader
}

func NewPromptHandlers(surface Surface, reader Reader) *PromptHandlers {
	return &PromptHandlers{surface: surface, reader: reader}
}

// GetPrompt generates the prompt message based on the template
func (h *PromptHandlers) GetPrompt(ctx context.Context, request *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	switch request.Params.Name {
	case "deal-review":
		return h.getDealReviewPrompt(ctx, request.Params.Arguments)
	case "pipeline-review":
		return h.getPipelineReviewPrompt()
	default:
		return nil, fmt.Errorf("unknown prompt: %s", request.Params.Name)
	}
}

func (h *PromptHandlers) getDealReviewPrompt(ctx context.Context, args map[string]string) (*mcp.GetPromptResult, error) {
	idStr, ok := args["deal_id"]
	if !ok {
		return nil, fmt.Errorf("deal_id is required")
	}
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid deal_id: %w", err)
	}

	deal, ok := h.surface.Deal(id)
	if !ok {
		return nil, fmt.Errorf("deal %d not found", id)
	}

	activities, err := h.reader.ListActivities(ctx, &id, 10)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch activities: %w", err)
	}

	var promptText strings.Builder
	promptText.WriteString("Please review this sales opportunity:\n\n")
	promptText.WriteString(fmt.Sprintf("Title: %s\n", deal.Title))
	if deal.Company != "" {
		promptText.WriteString(fmt.Sprintf("Company: %s\n", deal.Company))
	}
	promptText.WriteString(fmt.Sprintf("Stage: %s (%d%%)\n", deal.Stage, deal.Probability))
	promptText.WriteString(fmt.Sprintf("Value: $%s\n", deal.Value.StringFixed(2)))
	if deal.ContactName != "" {
		promptText.WriteString(fmt.Sprintf("Contact: %s <%s>\n", deal.ContactName, deal.ContactEmail))
	}
	if deal.ExpectedCloseDate != nil {
		promptText.WriteString(fmt.Sprintf("Expected close: %s\n", deal.ExpectedCloseDate.Format("2006-01-02")))
	}
	if deal.PainPoints != "" {
		promptText.WriteString(fmt.Sprintf("Pain points: %s\n", deal.PainPoints))
	}
	if deal.Competitors != "" {
		promptText.WriteString(fmt.Sprintf("Competitors: %s\n", deal.Competitors))
	}
	if deal.NextSteps != "" {
		promptText.WriteString(fmt.Sprintf("Next steps: %s\n", deal.NextSteps))
	}

	if len(activities) > 0 {
		promptText.WriteString("\nRecent activity:\n")
		for _, a := range activities {
			promptText.WriteString(fmt.Sprintf("- %s %s: %s\n", a.ActivityDate.Format("2006-01-02"), a.Type, a.Title))
		}
	}

	promptText.WriteString("\nPlease provide:")
	promptText.WriteString("\n1. An assessment of whether the stage and probability look right")
	promptText.WriteString("\n2. The main risks to closing")
	promptText.WriteString("\n3. Concrete next actions for the sales owner")

	return &mcp.GetPromptResult{
		Description: fmt.Sprintf("Review of deal: %s", deal.Title),
		Messages: []*mcp.PromptMessage{
			{
				Role: "user",
				Content: &mcp.TextContent{
					Text: promptText.String(),
				},
			},
		},
	}, nil
}

func (h *PromptHandlers) getPipelineReviewPrompt() (*mcp.GetPromptResult, error) {
	stats := viz.ComputeStats(h.surface.Deals())

	var promptText strings.Builder
	promptText.WriteString("Please review the current sales pipeline:\n\n")
	promptText.WriteString(viz.RenderDashboard(stats))
	if len(stats.Overdue) > 0 {
		promptText.WriteString("\nOverdue deals:\n")
		for _, d := range stats.Overdue {
			promptText.WriteString(fmt.Sprintf("- #%d %s (%s, expected %s)\n",
				d.ID, d.Title, d.Stage, d.ExpectedCloseDate.Format("2006-01-02")))
		}
	}
	promptText.WriteString("\nIdentify bottlenecks between stages and which deals deserve attention this week.")

	return &mcp.GetPromptResult{
		Description: "Pipeline review",
		Messages: []*mcp.PromptMessage{
			{
				Role: "user",
				Content: &mcp.TextContent{
					Text: promptText.String(),
				},
			},
		},
	}, nil
}
