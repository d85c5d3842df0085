// ABOUTME: Visualization CLI commands
// ABOUTME: Handles the pipeline graph and the text dashboard
package cli

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/harperreed/embudo/viz"
)

// VizGraphPipelineCommand generates a deal pipeline graph.
func VizGraphPipelineCommand(ctx context.Context, app *App, args []string) error {
	fs := flag.NewFlagSet("viz pipeline", flag.ContinueOnError)
	output := fs.String("output", "", "Output file (default: stdout)")

	if err := fs.Parse(args); err != nil {
		return err
	}

	s, err := app.Mount(ctx, "viz")
	if err != nil {
		return err
	}

	dot, err := viz.GeneratePipelineGraph(ctx, s.Deals())
	if err != nil {
		return err
	}

	if *output != "" {
		return os.WriteFile(*output, []byte(dot), 0644)
	}

	fmt.Fprintln(app.Out, dot)
	return nil
}

// VizDashboardCommand prints per-stage totals and overdue deals.
func VizDashboardCommand(ctx context.Context, app *App, args []string) error {
	fs := flag.NewFlagSet("viz dashboard", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	s, err := app.Mount(ctx, "viz")
	if err != nil {
		return err
	}

	output := viz.RenderDashboard(viz.ComputeStats(s.Deals()))
	fmt.Fprint(app.Out, output)

	return nil
}
