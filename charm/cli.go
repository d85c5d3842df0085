// ABOUTME: CLI commands for the charm-synced replica
// ABOUTME: Status, manual sync and wipe; charm authenticates with SSH keys so there is no login

package charm

import (
	"flag"
	"fmt"
	"io"
)

// StatusCommand shows the sync configuration and connection state.
func StatusCommand(c *Client, out io.Writer, args []string) error {
	fs := flag.NewFlagSet("replica status", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg := c.Config()
	fmt.Fprintln(out, "Charm Replica Status")
	fmt.Fprintln(out, "────────────────────")
	fmt.Fprintf(out, "Server:    %s\n", cfg.Host)
	fmt.Fprintf(out, "Database:  %s\n", cfg.database())
	fmt.Fprintf(out, "Auto-sync: %v\n", cfg.AutoSync)

	id, err := c.ID()
	if err != nil {
		fmt.Fprintln(out, "\nStatus: Not connected")
		fmt.Fprintln(out, "\nCharm uses SSH keys for authentication - no login required!")
		return nil //nolint:nilerr // not connected is a valid state, not an error
	}
	fmt.Fprintln(out, "\nStatus: Connected to Charm Cloud")
	fmt.Fprintf(out, "ID:        %s\n", id)

	if keys, err := c.Keys(); err == nil {
		fmt.Fprintf(out, "Keys:      %d\n", len(keys))
	}
	return nil
}

// SyncCommand performs an immediate sync.
func SyncCommand(c *Client, out io.Writer, args []string) error {
	fs := flag.NewFlagSet("replica sync", flag.ContinueOnError)
	verbose := fs.Bool("verbose", false, "Show verbose output")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *verbose {
		fmt.Fprintln(out, "Syncing with server...")
	}
	if err := c.Sync(); err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}
	fmt.Fprintln(out, "✓ Synced")
	return nil
}

// WipeCommand resets the replica KV. It refuses without --confirm.
func WipeCommand(c *Client, out io.Writer, args []string) error {
	fs := flag.NewFlagSet("replica wipe", flag.ContinueOnError)
	confirm := fs.Bool("confirm", false, "Confirm data wipe")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if !*confirm {
		fmt.Fprintln(out, "WARNING: This will delete the local replica of every deal!")
		fmt.Fprintln(out)
		fmt.Fprintln(out, "To confirm, run:")
		fmt.Fprintln(out, "  embudo replica wipe --confirm")
		return nil
	}

	if err := c.Reset(); err != nil {
		return fmt.Errorf("failed to reset KV store: %w", err)
	}
	fmt.Fprintln(out, "✓ Replica wiped")
	fmt.Fprintln(out, "Surfaces will start from the built-in seed on next mount.")
	return nil
}
