// ABOUTME: Entry point for the embudo CLI, board and MCP server
// ABOUTME: Loads configuration, opens the shared runtime and routes to a command
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/harperreed/embudo/cli"
	"github.com/harperreed/embudo/config"
)

const version = "0.1.0"

type command func(ctx context.Context, app *cli.App, args []string) error

var commands = map[string]command{
	"add-opportunity": cli.AddOpportunityCommand,
	"list-deals":      cli.ListDealsCommand,
	"update-deal":     cli.UpdateDealCommand,
	"move-stage":      cli.MoveStageCommand,
	"delete-deal":     cli.DeleteDealCommand,
	"list-activities": cli.ListActivitiesCommand,
	"watch":           cli.WatchCommand,
	"board":           cli.BoardCommand,
	"replica":         cli.ReplicaCommand,
	"viz":             vizCommand,
	"mcp": func(ctx context.Context, app *cli.App, _ []string) error {
		return cli.MCPCommand(ctx, app, version)
	},
}

func main() {
	cfg, err := config.Load(config.Path())
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Global flags
	showVersion := flag.Bool("version", false, "Show version and exit")
	initOnly := flag.Bool("init", false, "Initialize database, replica and config file, then exit")
	overrides := cfg.RegisterFlags(flag.CommandLine)
	flag.Usage = printUsage

	// Parse global flags; everything after the command belongs to it
	flag.Parse()
	cfg.Apply(overrides)

	// Handle version flag
	if *showVersion {
		fmt.Printf("embudo version %s\n", version)
		os.Exit(0)
	}

	args := flag.Args()
	if len(args) == 0 && !*initOnly {
		printUsage()
		os.Exit(0)
	}

	logger, err := config.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := cli.Open(ctx, cfg, logger, cli.Options{Registerer: prometheus.DefaultRegisterer})
	if err != nil {
		log.Fatalf("Failed to start: %v", err)
	}
	defer func() {
		if err := app.Close(); err != nil {
			logger.Warn("shutdown", zap.Error(err))
		}
	}()

	if *initOnly {
		if err := initialize(cfg); err != nil {
			log.Fatalf("Init failed: %v", err)
		}
		return
	}

	app.ServeMetrics()

	name, rest := args[0], args[1:]
	run, ok := commands[name]
	if !ok {
		fmt.Printf("Unknown command: %s\n\n", name)
		printUsage()
		os.Exit(1)
	}

	if err := run(ctx, app, rest); err != nil && !errors.Is(err, flag.ErrHelp) {
		_ = app.Close()
		log.Fatalf("Error: %v", err)
	}
}

func vizCommand(ctx context.Context, app *cli.App, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("viz requires a subcommand (pipeline or dashboard)")
	}
	switch args[0] {
	case "pipeline":
		return cli.VizGraphPipelineCommand(ctx, app, args[1:])
	case "dashboard":
		return cli.VizDashboardCommand(ctx, app, args[1:])
	}
	return fmt.Errorf("unknown viz command: %s", args[0])
}

// initialize writes the config file when there is none. Opening the runtime
// has already created the schema and the replica directory.
func initialize(cfg *config.Config) error {
	path := config.Path()
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := cfg.Save(path); err != nil {
			return err
		}
		log.Printf("Wrote %s", path)
	}
	if cfg.DatabaseURL == "" {
		log.Println("No database configured: deals live in in-memory tables")
	} else {
		log.Println("Database initialized successfully")
	}
	return nil
}

func printUsage() {
	fmt.Printf(`embudo v%s - sales pipeline with live-synced surfaces

USAGE:
  embudo [global flags] <command> [subcommand] [flags]

GLOBAL FLAGS:
  --version              Show version and exit
  --init                 Initialize database, replica and config file, then exit
  --database-url <dsn>   postgres://..., sqlite://path or a file path (default: in-memory tables)
  --redis-url <url>      Redis for cross-process sync (default: this process only)
  --origin <name>        Origin that scopes the local replica (default: local)
  --metrics-addr <addr>  Serve Prometheus metrics, e.g. :9090
  --log-level <level>    debug, info, warn or error

  Settings are also read from %s,
  a .env file and EMBUDO_* environment variables.

COMMANDS:
  embudo add-opportunity   Create a deal and its contact
    --title <title>           Opportunity title (required)
    --contact-email <email>   Contact email (required)
    --contact-name <name>     Contact name
    --company <company>       Company name
    --value <amount>          Deal value, e.g. 12000.50
    --stage <stage>           Stage (default: Nuevo)
    --probability <0-100>     Win probability (default: from stage)
    --close-date <date>       Expected close date (YYYY-MM-DD)

  embudo list-deals        List deals
    --stage <stage>           Filter by stage
    --company <company>       Filter by company name
    --limit <n>               Max results (default: 50)

  embudo update-deal [flags] <id>   Update an existing deal
    --title, --company, --value, --stage, --probability, --close-date,
    --notes, --lead-source, --industry, --competitors, --next-steps
    Note: flags must come before the deal ID

  embudo move-stage <id> <stage>    Move a deal to another stage
  embudo delete-deal <id>           Delete a deal
  embudo list-activities            Show the audit trail
    --deal <id>               Only this deal
    --limit <n>               Max results (default: 50)

  embudo board             Interactive board (Funnel, Opportunities, Deals)
  embudo watch             Print changes made by other surfaces
  embudo mcp               Start MCP server on stdio

  embudo viz pipeline      Generate the pipeline graph (DOT)
    --output <file>           Output file (default: stdout)
  embudo viz dashboard     Print per-stage totals and overdue deals

  embudo replica status    Show the local replica
  embudo replica sync      Sync a charm replica now
  embudo replica wipe      Delete the local replica (--confirm)

STAGES:
  Nuevo, Calificación, Propuesta, Negociación, Cierre, Ganado, Perdido

EXAMPLES:
  # Two terminals sharing one pipeline
  embudo --redis-url redis://localhost:6379/0 board
  embudo --redis-url redis://localhost:6379/0 move-stage 1 Cierre

  # Add an opportunity
  embudo add-opportunity --title "Acme Renewal" --company Acme --value 12000 \
    --contact-name "Ana Pérez" --contact-email ana@acme.test

`, version, config.Path())
}
