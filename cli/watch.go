// ABOUTME: Board and watch commands
// ABOUTME: board opens the three-tab TUI; watch mounts a surface and prints changes from every other one

package cli

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/harperreed/embudo/bus"
	"github.com/harperreed/embudo/tui"
)

// BoardCommand mounts the Funnel, Opportunities and Deals surfaces and runs
// the board until the user quits.
func BoardCommand(ctx context.Context, app *App, args []string) error {
	fs := flag.NewFlagSet("board", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	var surfaces []tui.Surface
	for _, name := range []string{"funnel", "opportunities", "deals"} {
		s, err := app.Mount(ctx, name)
		if err != nil {
			return err
		}
		surfaces = append(surfaces, s)
	}
	return tui.Run(ctx, surfaces)
}

// WatchCommand prints every replication message it hears until ctx ends.
func WatchCommand(ctx context.Context, app *App, args []string) error {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	transport := "in-process"
	if app.Bus.CrossProcess() {
		transport = "redis"
	}
	fmt.Fprintf(app.Out, "Watching %s (%s). Ctrl+C to stop.\n", app.Bus.Channel(), transport)

	endpoint := app.Bus.Endpoint(fmt.Sprintf("%s/watch", app.Config.Origin))
	unsubscribe, err := endpoint.Subscribe(ctx, func(msg bus.Message) {
		fmt.Fprintln(app.Out, formatMessage(msg))
	})
	if err != nil {
		return err
	}
	defer unsubscribe()

	<-ctx.Done()
	return nil
}

func formatMessage(msg bus.Message) string {
	at := msg.SentAt.Local().Format(time.TimeOnly)
	switch {
	case msg.Kind == bus.KindDeleted:
		return fmt.Sprintf("%s  %-8s #%d  (from %s)", at, msg.Kind, msg.DealID, msg.Source)
	case msg.Deal != nil:
		d := msg.Deal
		return fmt.Sprintf("%s  %-8s #%d %s · %s %d%% · $%s  (from %s)",
			at, msg.Kind, d.ID, d.Title, d.Stage, d.Probability, d.Value.StringFixed(2), msg.Source)
	}
	return fmt.Sprintf("%s  %-8s #%d  (from %s)", at, msg.Kind, msg.DealID, msg.Source)
}
