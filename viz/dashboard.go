// ABOUTME: Pipeline statistics and ASCII dashboard rendering
// ABOUTME: Summarizes a deal set per stage with totals and a probability-weighted forecast
package viz

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/harperreed/embudo/models"
)

type StageStats struct {
	Stage    models.Stage
	Count    int
	Value    decimal.Decimal
	Weighted decimal.Decimal
}

type PipelineStats struct {
	ByStage map[models.Stage]StageStats

	TotalDeals int
	OpenValue  decimal.Decimal
	WonValue   decimal.Decimal
	Forecast   decimal.Decimal

	// Open deals whose expected close date has passed.
	Overdue []models.Deal
}

var hundred = decimal.NewFromInt(100)

// Ordered returns the per-stage stats in pipeline order.
func (s PipelineStats) Ordered() []StageStats {
	out := make([]StageStats, 0, len(s.ByStage))
	for _, st := range models.Stages() {
		out = append(out, s.ByStage[st])
	}
	return out
}

// ComputeStats aggregates deals per stage. Forecast is the sum of value times
// probability over open deals.
func ComputeStats(deals []models.Deal) PipelineStats {
	return computeStats(deals, time.Now())
}

func computeStats(deals []models.Deal, now time.Time) PipelineStats {
	stats := PipelineStats{
		ByStage:   make(map[models.Stage]StageStats),
		OpenValue: decimal.Zero,
		WonValue:  decimal.Zero,
		Forecast:  decimal.Zero,
	}
	for _, st := range models.Stages() {
		stats.ByStage[st] = StageStats{Stage: st, Value: decimal.Zero, Weighted: decimal.Zero}
	}

	for _, deal := range deals {
		s, ok := stats.ByStage[deal.Stage]
		if !ok {
			continue
		}
		weighted := deal.Value.Mul(decimal.NewFromInt(int64(deal.Probability))).Div(hundred)
		s.Count++
		s.Value = s.Value.Add(deal.Value)
		s.Weighted = s.Weighted.Add(weighted)
		stats.ByStage[deal.Stage] = s
		stats.TotalDeals++

		switch {
		case deal.Stage == models.StageWon:
			stats.WonValue = stats.WonValue.Add(deal.Value)
		case deal.Stage.Terminal():
		default:
			stats.OpenValue = stats.OpenValue.Add(deal.Value)
			stats.Forecast = stats.Forecast.Add(weighted)
			if deal.ExpectedCloseDate != nil && deal.ExpectedCloseDate.Before(now) {
				stats.Overdue = append(stats.Overdue, deal)
			}
		}
	}
	return stats
}

func RenderDashboard(stats PipelineStats) string {
	var out strings.Builder

	// Header
	out.WriteString("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
	out.WriteString("  EMBUDO · PIPELINE\n")
	out.WriteString("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

	out.WriteString("PIPELINE OVERVIEW\n")
	renderPipeline(&out, stats.ByStage)
	out.WriteString("\n")

	out.WriteString("STATS\n")
	out.WriteString(fmt.Sprintf("  %d deals  open $%s  won $%s  forecast $%s\n\n",
		stats.TotalDeals,
		stats.OpenValue.StringFixed(2),
		stats.WonValue.StringFixed(2),
		stats.Forecast.StringFixed(2)))

	if len(stats.Overdue) > 0 {
		out.WriteString("NEEDS ATTENTION\n")
		out.WriteString(fmt.Sprintf("  ⚠️  %d open deals past their expected close date\n", len(stats.Overdue)))
	}

	return out.String()
}

func renderPipeline(out *strings.Builder, pipeline map[models.Stage]StageStats) {
	// Find max count for scaling
	maxCount := 0
	for _, s := range pipeline {
		if s.Count > maxCount {
			maxCount = s.Count
		}
	}
	if maxCount == 0 {
		maxCount = 1
	}

	for _, st := range models.Stages() {
		s := pipeline[st]

		// Calculate bar length (0-10 blocks)
		barLength := (s.Count * 10) / maxCount
		bar := strings.Repeat("█", barLength) + strings.Repeat("░", 10-barLength)

		out.WriteString(fmt.Sprintf("  %-13s %s  %2d  $%s\n",
			st, bar, s.Count, s.Value.StringFixed(0)))
	}
}
