// ABOUTME: Replica maintenance commands: status, sync and wipe
// ABOUTME: Delegates to the charm commands when the replica lives in charm KV

package cli

import (
	"context"
	"flag"
	"fmt"

	"github.com/harperreed/embudo/charm"
	"github.com/harperreed/embudo/config"
)

// ReplicaCommand routes `replica <status|sync|wipe>`.
func ReplicaCommand(ctx context.Context, app *App, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: replica <status|sync|wipe>")
	}
	sub, rest := args[0], args[1:]

	if app.Charm != nil {
		switch sub {
		case "status":
			return charm.StatusCommand(app.Charm, app.Out, rest)
		case "sync":
			return charm.SyncCommand(app.Charm, app.Out, rest)
		case "wipe":
			return charm.WipeCommand(app.Charm, app.Out, rest)
		}
		return fmt.Errorf("unknown replica command: %s", sub)
	}

	switch sub {
	case "status":
		return localReplicaStatus(ctx, app, rest)
	case "sync":
		fmt.Fprintf(app.Out, "The %s replica is local to this machine; nothing to sync.\n", app.Config.ReplicaBackend)
		return nil
	case "wipe":
		return localReplicaWipe(ctx, app, rest)
	}
	return fmt.Errorf("unknown replica command: %s", sub)
}

func localReplicaStatus(ctx context.Context, app *App, args []string) error {
	fs := flag.NewFlagSet("replica status", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	deals := app.Store.Load(ctx)
	fmt.Fprintln(app.Out, "Local Replica Status")
	fmt.Fprintln(app.Out, "────────────────────")
	fmt.Fprintf(app.Out, "Backend:   %s\n", app.Config.ReplicaBackend)
	fmt.Fprintf(app.Out, "Origin:    %s\n", app.Config.Origin)
	if app.Config.ReplicaBackend != config.ReplicaMemory {
		fmt.Fprintf(app.Out, "Directory: %s\n", app.Config.ReplicaDir)
	}
	fmt.Fprintf(app.Out, "Deals:     %d\n", len(deals))
	return nil
}

func localReplicaWipe(ctx context.Context, app *App, args []string) error {
	fs := flag.NewFlagSet("replica wipe", flag.ContinueOnError)
	confirm := fs.Bool("confirm", false, "Confirm data wipe")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if !*confirm {
		fmt.Fprintln(app.Out, "WARNING: This will delete the local replica of every deal!")
		fmt.Fprintln(app.Out)
		fmt.Fprintln(app.Out, "To confirm, run:")
		fmt.Fprintln(app.Out, "  embudo replica wipe --confirm")
		return nil
	}

	if err := app.Store.Replace(ctx, nil); err != nil {
		return fmt.Errorf("failed to wipe replica: %w", err)
	}
	fmt.Fprintln(app.Out, "✓ Replica wiped")
	fmt.Fprintln(app.Out, "Surfaces will start from the built-in seed on next mount.")
	return nil
}
