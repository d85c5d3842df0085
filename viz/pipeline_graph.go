// ABOUTME: Pipeline graph generation from a surface's deal replica
// ABOUTME: Renders stages as a chain with each deal hanging off its stage, via graphviz
package viz

import (
	"bytes"
	"context"
	"fmt"

	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"

	"github.com/harperreed/embudo/models"
)

var stageColors = map[models.Stage]string{
	models.StageNew:           "white",
	models.StageQualification: "lightcyan",
	models.StageProposal:      "lightblue",
	models.StageNegotiation:   "lightyellow",
	models.StageClosing:       "orange",
	models.StageWon:           "palegreen",
	models.StageLost:          "lightpink",
}

// GeneratePipelineGraph renders deals grouped by stage as DOT source.
func GeneratePipelineGraph(ctx context.Context, deals []models.Deal) (string, error) {
	gv, err := graphviz.New(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to create graphviz instance: %w", err)
	}
	defer gv.Close()

	graph, err := gv.Graph()
	if err != nil {
		return "", fmt.Errorf("failed to create graph: %w", err)
	}
	defer graph.Close()

	graph.SetLabel("Embudo de ventas")
	graph.SetRankDir(cgraph.LRRank)

	stats := ComputeStats(deals)

	stageNodes := make(map[models.Stage]*cgraph.Node)
	var prev *cgraph.Node
	for _, st := range models.Stages() {
		s := stats.ByStage[st]
		node, err := graph.CreateNodeByName(stageNodeName(st))
		if err != nil {
			return "", fmt.Errorf("failed to create stage node: %w", err)
		}
		node.SetLabel(fmt.Sprintf("%s\n%d deal(s)\n$%s", st, s.Count, s.Value.StringFixed(0)))
		node.SetShape("box")
		node.SetStyle("filled")
		node.SetFillColor(stageColors[st])
		stageNodes[st] = node

		// Won and lost both follow closing; lost is not a step after won.
		if prev != nil && st != models.StageLost {
			if _, err := graph.CreateEdgeByName(fmt.Sprintf("flow_%s", stageNodeName(st)), prev, node); err != nil {
				return "", fmt.Errorf("failed to create stage edge: %w", err)
			}
		}
		if st == models.StageLost {
			if closing, ok := stageNodes[models.StageClosing]; ok {
				edge, err := graph.CreateEdgeByName("flow_lost", closing, node)
				if err != nil {
					return "", fmt.Errorf("failed to create stage edge: %w", err)
				}
				edge.SetStyle("dashed")
			}
		}
		if st != models.StageWon {
			prev = node
		}
	}

	for _, deal := range deals {
		stageNode, ok := stageNodes[deal.Stage]
		if !ok {
			continue
		}
		node, err := graph.CreateNodeByName(fmt.Sprintf("deal_%d", deal.ID))
		if err != nil {
			return "", fmt.Errorf("failed to create deal node: %w", err)
		}
		label := fmt.Sprintf("%s\n$%s (%d%%)", deal.Title, deal.Value.StringFixed(0), deal.Probability)
		if deal.Company != "" {
			label = fmt.Sprintf("%s\n%s", label, deal.Company)
		}
		node.SetLabel(label)
		node.SetShape("note")

		edge, err := graph.CreateEdgeByName(fmt.Sprintf("in_%d", deal.ID), stageNode, node)
		if err != nil {
			return "", fmt.Errorf("failed to create deal edge: %w", err)
		}
		edge.SetStyle("dotted")
		edge.SetDir("none")
	}

	var buf bytes.Buffer
	if err := gv.Render(ctx, graph, graphviz.XDOT, &buf); err != nil {
		return "", fmt.Errorf("failed to render graph: %w", err)
	}

	return buf.String(), nil
}

func stageNodeName(st models.Stage) string {
	return fmt.Sprintf("stage_%d", st.Index())
}
