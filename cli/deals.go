// ABOUTME: Deal CLI commands
// ABOUTME: Writes go through a mounted "cli" surface so open boards see them; reads hit the gateway

package cli

import (
	"context"
	"flag"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"github.com/harperreed/embudo/models"
	"github.com/harperreed/embudo/viz"
)

const cliSurface = "cli"

// AddOpportunityCommand creates a deal and its contact.
func AddOpportunityCommand(ctx context.Context, app *App, args []string) error {
	fs := flag.NewFlagSet("add-opportunity", flag.ContinueOnError)
	title := fs.String("title", "", "Opportunity title (required)")
	company := fs.String("company", "", "Company name")
	value := fs.String("value", "0", "Deal value, e.g. 12000.50")
	stage := fs.String("stage", "", "Stage (default Nuevo)")
	probability := fs.Int("probability", -1, "Win probability 0-100 (default from stage)")
	closeDate := fs.String("close-date", "", "Expected close date (YYYY-MM-DD)")
	notes := fs.String("notes", "", "Notes")
	contactName := fs.String("contact-name", "", "Contact name")
	contactEmail := fs.String("contact-email", "", "Contact email (required)")
	contactPhone := fs.String("contact-phone", "", "Contact phone")
	contactPosition := fs.String("contact-position", "", "Contact position")
	leadSource := fs.String("lead-source", "", "Lead source")
	industry := fs.String("industry", "", "Industry")
	nextSteps := fs.String("next-steps", "", "Next steps")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *title == "" {
		return fmt.Errorf("--title is required")
	}
	if *contactEmail == "" {
		return fmt.Errorf("--contact-email is required")
	}

	input := models.OpportunityInput{
		Title:           *title,
		Company:         *company,
		Notes:           *notes,
		ContactName:     *contactName,
		ContactEmail:    *contactEmail,
		ContactPhone:    *contactPhone,
		ContactPosition: *contactPosition,
		LeadSource:      *leadSource,
		Industry:        *industry,
		NextSteps:       *nextSteps,
	}

	v, err := decimal.NewFromString(*value)
	if err != nil {
		return fmt.Errorf("invalid --value: %w", err)
	}
	input.Value = v

	if *stage != "" {
		st, err := models.ParseStage(*stage)
		if err != nil {
			return err
		}
		input.Stage = st
	}
	if *probability >= 0 {
		input.Probability = probability
	}
	if *closeDate != "" {
		t, err := parseDate(*closeDate)
		if err != nil {
			return err
		}
		input.ExpectedCloseDate = &t
	}

	s, err := app.Mount(ctx, cliSurface)
	if err != nil {
		return err
	}
	deal, err := s.Create(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to create opportunity: %w", err)
	}

	fmt.Fprintf(app.Out, "✓ Opportunity created: %s (ID: %d)\n", deal.Title, deal.ID)
	if deal.Company != "" {
		fmt.Fprintf(app.Out, "  Company: %s\n", deal.Company)
	}
	fmt.Fprintf(app.Out, "  Value: $%s\n", deal.Value.StringFixed(2))
	fmt.Fprintf(app.Out, "  Stage: %s (%d%%)\n", deal.Stage, deal.Probability)
	if deal.ContactName != "" {
		fmt.Fprintf(app.Out, "  Contact: %s <%s>\n", deal.ContactName, deal.ContactEmail)
	}
	return nil
}

// ListDealsCommand lists deals from the gateway.
func ListDealsCommand(ctx context.Context, app *App, args []string) error {
	fs := flag.NewFlagSet("list-deals", flag.ContinueOnError)
	stage := fs.String("stage", "", "Filter by stage")
	company := fs.String("company", "", "Filter by company name")
	limit := fs.Int("limit", 50, "Maximum results")
	if err := fs.Parse(args); err != nil {
		return err
	}

	filter := models.DealFilter{Company: *company, Limit: *limit}
	if *stage != "" {
		st, err := models.ParseStage(*stage)
		if err != nil {
			return err
		}
		filter.Stage = st
	}

	deals, err := app.Gateway.ListDeals(ctx, filter)
	if err != nil {
		return fmt.Errorf("failed to list deals: %w", err)
	}

	if len(deals) == 0 {
		fmt.Fprintln(app.Out, "No deals found")
		return nil
	}

	// Pretty print results
	w := tabwriter.NewWriter(app.Out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tTITLE\tCOMPANY\tVALUE\tSTAGE\tPROB")
	_, _ = fmt.Fprintln(w, "--\t-----\t-------\t-----\t-----\t----")

	total := decimal.Zero
	for _, d := range deals {
		company := d.Company
		if company == "" {
			company = "-"
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t$%s\t%s\t%d%%\n",
			d.ID, d.Title, company, d.Value.StringFixed(2), d.Stage, d.Probability)
		total = total.Add(d.Value)
	}
	_ = w.Flush()

	stats := viz.ComputeStats(deals)
	fmt.Fprintf(app.Out, "\nTotal: %d deal(s) - $%s (forecast $%s)\n",
		len(deals), total.StringFixed(2), stats.Forecast.StringFixed(2))
	return nil
}

// UpdateDealCommand replaces the flags given on an existing deal.
func UpdateDealCommand(ctx context.Context, app *App, args []string) error {
	fs := flag.NewFlagSet("update-deal", flag.ContinueOnError)
	fs.String("title", "", "Opportunity title")
	fs.String("company", "", "Company name")
	fs.String("value", "", "Deal value")
	fs.String("stage", "", "Stage")
	fs.Int("probability", 0, "Win probability 0-100")
	fs.String("close-date", "", "Expected close date (YYYY-MM-DD)")
	fs.String("notes", "", "Notes")
	fs.String("lead-source", "", "Lead source")
	fs.String("industry", "", "Industry")
	fs.String("competitors", "", "Competitors")
	fs.String("next-steps", "", "Next steps")
	if err := fs.Parse(args); err != nil {
		return err
	}

	// First positional arg is the deal ID
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: update-deal [flags] <id>")
	}
	id, err := parseID(fs.Arg(0))
	if err != nil {
		return err
	}

	patch, err := patchFromFlags(fs)
	if err != nil {
		return err
	}
	if patch.Empty() {
		return fmt.Errorf("nothing to update: pass at least one flag")
	}

	s, err := app.Mount(ctx, cliSurface)
	if err != nil {
		return err
	}
	deal, err := s.Update(ctx, id, patch)
	if err != nil {
		return fmt.Errorf("failed to update deal: %w", err)
	}

	fmt.Fprintf(app.Out, "✓ Updated deal: %s (ID: %d)\n", deal.Title, deal.ID)
	fmt.Fprintf(app.Out, "  Stage: %s (%d%%) · $%s\n", deal.Stage, deal.Probability, deal.Value.StringFixed(2))
	return nil
}

// patchFromFlags builds a patch from only the flags that were set.
func patchFromFlags(fs *flag.FlagSet) (models.DealPatch, error) {
	var (
		patch models.DealPatch
		err   error
	)
	str := func(v string) *string { return &v }

	fs.Visit(func(f *flag.Flag) {
		if err != nil {
			return
		}
		v := f.Value.String()
		switch f.Name {
		case "title":
			patch.Title = str(v)
		case "company":
			patch.Company = str(v)
		case "notes":
			patch.Notes = str(v)
		case "lead-source":
			patch.LeadSource = str(v)
		case "industry":
			patch.Industry = str(v)
		case "competitors":
			patch.Competitors = str(v)
		case "next-steps":
			patch.NextSteps = str(v)
		case "value":
			var d decimal.Decimal
			if d, err = decimal.NewFromString(v); err == nil {
				patch.Value = &d
			} else {
				err = fmt.Errorf("invalid --value: %w", err)
			}
		case "stage":
			var st models.Stage
			if st, err = models.ParseStage(v); err == nil {
				patch.Stage = &st
			}
		case "probability":
			var p int
			if p, err = strconv.Atoi(v); err == nil {
				patch.Probability = &p
			}
		case "close-date":
			var t time.Time
			if t, err = parseDate(v); err == nil {
				patch.ExpectedCloseDate = &t
			}
		}
	})
	return patch, err
}

// MoveStageCommand moves a deal to another stage.
func MoveStageCommand(ctx context.Context, app *App, args []string) error {
	fs := flag.NewFlagSet("move-stage", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return fmt.Errorf("usage: move-stage <id> <stage>")
	}
	id, err := parseID(fs.Arg(0))
	if err != nil {
		return err
	}
	stage, err := models.ParseStage(fs.Arg(1))
	if err != nil {
		return err
	}

	s, err := app.Mount(ctx, cliSurface)
	if err != nil {
		return err
	}
	from := "?"
	if d, ok := s.Deal(id); ok {
		from = string(d.Stage)
	}
	deal, err := s.ChangeStage(ctx, id, stage)
	if err != nil {
		return fmt.Errorf("failed to move deal: %w", err)
	}

	fmt.Fprintf(app.Out, "✓ %s: %s → %s (%d%%)\n", deal.Title, from, deal.Stage, deal.Probability)
	return nil
}

// DeleteDealCommand deletes a deal.
func DeleteDealCommand(ctx context.Context, app *App, args []string) error {
	fs := flag.NewFlagSet("delete-deal", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	if fs.NArg() != 1 {
		return fmt.Errorf("usage: delete-deal <id>")
	}
	id, err := parseID(fs.Arg(0))
	if err != nil {
		return err
	}

	s, err := app.Mount(ctx, cliSurface)
	if err != nil {
		return err
	}
	if err := s.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete deal: %w", err)
	}

	fmt.Fprintf(app.Out, "✓ Deleted deal: %d\n", id)
	return nil
}

// ListActivitiesCommand prints the audit trail, optionally for one deal.
func ListActivitiesCommand(ctx context.Context, app *App, args []string) error {
	fs := flag.NewFlagSet("list-activities", flag.ContinueOnError)
	dealFlag := fs.String("deal", "", "Only activities of this deal ID")
	limit := fs.Int("limit", 50, "Maximum results")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var dealID *int64
	if *dealFlag != "" {
		id, err := parseID(*dealFlag)
		if err != nil {
			return err
		}
		dealID = &id
	}

	activities, err := app.Gateway.ListActivities(ctx, dealID, *limit)
	if err != nil {
		return fmt.Errorf("failed to list activities: %w", err)
	}
	if len(activities) == 0 {
		fmt.Fprintln(app.Out, "No activities found")
		return nil
	}

	w := tabwriter.NewWriter(app.Out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "DATE\tTYPE\tDEAL\tTITLE")
	_, _ = fmt.Fprintln(w, "----\t----\t----\t-----")
	for _, a := range activities {
		deal := "-"
		if a.DealID != nil {
			deal = strconv.FormatInt(*a.DealID, 10)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			a.ActivityDate.Format("2006-01-02 15:04"), a.Type, deal, a.Title)
	}
	_ = w.Flush()
	return nil
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid deal ID: %q", raw)
	}
	return id, nil
}

func parseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: use YYYY-MM-DD", raw)
	}
	return t, nil
}
