// ABOUTME: Persistence gateway: the single facade for deal, contact and activity reads and writes
// ABOUTME: Serves from the relational backend when configured and degrades to the in-memory tables on failure
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/harperreed/embudo/db"
	"github.com/harperreed/embudo/metrics"
	"github.com/harperreed/embudo/models"
)

// Mode is decided once at construction.
type Mode string

const (
	ModeRelational Mode = "relational"
	ModeMemory     Mode = "memory"
)

// Options configures a Gateway. The zero value is usable.
type Options struct {
	Logger     *zap.Logger
	Metrics    *metrics.Metrics
	SalesOwner string
	// Fallback is the in-memory table set. Nil builds one from db.DefaultSeed.
	Fallback *db.MemoryBackend
	Now      func() time.Time
}

// Gateway never returns a Go error across its public mutation methods: every
// outcome is an envelope.
type Gateway struct {
	primary  db.Backend
	fallback *db.MemoryBackend
	logger   *zap.Logger
	metrics  *metrics.Metrics
	owner    string
	now      func() time.Time
}

// New builds a gateway. A nil primary selects memory mode.
func New(primary db.Backend, opts Options) *Gateway {
	g := &Gateway{
		primary:  primary,
		fallback: opts.Fallback,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		owner:    opts.SalesOwner,
		now:      opts.Now,
	}
	if g.fallback == nil {
		g.fallback = db.NewMemoryBackend(db.DefaultSeed())
	}
	if primary != nil {
		g.fallback.ReserveIDsFrom(db.FallbackIDBase)
	}
	if g.logger == nil {
		g.logger = zap.NewNop()
	}
	if g.now == nil {
		g.now = func() time.Time { return time.Now().UTC() }
	}
	return g
}

func (g *Gateway) Mode() Mode {
	if g.primary == nil {
		return ModeMemory
	}
	return ModeRelational
}

// Close releases the relational backend, if any.
func (g *Gateway) Close() error {
	if g.primary == nil {
		return nil
	}
	return g.primary.Close()
}

// served describes which backend answered a call.
type served struct {
	backend    db.Backend
	relational bool
}

// dispatch runs fn on the primary backend and, when that fails for a reason
// other than not-found, validation or the caller giving up, once more on the
// fallback tables.
func (g *Gateway) dispatch(ctx context.Context, op string, fn func(served) error) error {
	return g.dispatchOn(ctx, op, g.primary, fn)
}

// dispatchDeal is dispatch for a call that targets one deal. Deals created
// on the fallback tables during an outage only exist there.
func (g *Gateway) dispatchDeal(ctx context.Context, op string, id int64, fn func(served) error) error {
	primary := g.primary
	if db.IsFallbackID(id) {
		primary = nil
	}
	return g.dispatchOn(ctx, op, primary, fn)
}

func (g *Gateway) dispatchOn(ctx context.Context, op string, primary db.Backend, fn func(served) error) (err error) {
	backendName := g.fallback.Name()
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("gateway operation panicked", zap.String("op", op), zap.Any("panic", r))
			err = fmt.Errorf("%w: %s: %v", ErrUnexpected, op, r)
		}
		g.metrics.RecordGatewayOperation(op, backendName, outcome(err))
	}()

	if primary != nil {
		backendName = primary.Name()
		err = fn(served{backend: primary, relational: true})
		if err == nil || !degradable(err) || ctx.Err() != nil {
			return err
		}
		g.logger.Warn("backend unavailable, serving from in-memory tables",
			zap.String("op", op),
			zap.String("backend", backendName),
			zap.Error(err))
		g.metrics.RecordFallback(op)
		backendName = g.fallback.Name()
	}

	err = fn(served{backend: g.fallback})
	if err != nil && degradable(err) {
		err = fmt.Errorf("%w: %s: %v", ErrUnexpected, op, err)
	}
	return err
}

func degradable(err error) bool {
	switch {
	case errors.Is(err, db.ErrNotFound), errors.Is(err, db.ErrValidation):
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}

// recordActivity writes an audit record in its own transaction. Failures are
// logged and counted but never fail the mutation.
func (g *Gateway) recordActivity(ctx context.Context, s served, activity models.Activity) {
	err := s.backend.InTx(ctx, func(tb db.Tables) error {
		return tb.CreateActivity(ctx, &activity)
	})
	if err != nil {
		g.logger.Warn("failed to record activity",
			zap.String("type", activity.Type),
			zap.String("backend", s.backend.Name()),
			zap.Error(err))
		g.metrics.RecordActivityFailure(activity.Type)
	}
}

// CreateOpportunityWithContact upserts the contact by email and inserts a
// deal linked to it, both in one transaction.
func (g *Gateway) CreateOpportunityWithContact(ctx context.Context, input models.OpportunityInput) CreateResult {
	if err := validateOpportunity(&input); err != nil {
		g.metrics.RecordGatewayOperation("create_opportunity", g.backendName(), outcome(err))
		return CreateResult{Error: err.Error(), err: err}
	}

	var (
		deal    *models.Deal
		contact *models.Contact
		created bool
	)
	err := g.dispatch(ctx, "create_opportunity", func(s served) error {
		deal, contact, created = nil, nil, false
		err := s.backend.InTx(ctx, func(tb db.Tables) error {
			c, isNew, err := upsertContact(ctx, tb, input)
			if err != nil {
				return err
			}
			d := newDeal(input, c, g.owner)
			if err := tb.CreateDeal(ctx, d); err != nil {
				return err
			}
			deal, contact, created = d, c, isNew
			return nil
		})
		if err != nil {
			return err
		}
		g.recordActivity(ctx, s, createdActivity(*deal, g.owner, g.now()))
		return nil
	})
	if err != nil {
		return CreateResult{Error: err.Error(), err: err}
	}

	g.logger.Info("opportunity created",
		zap.Int64("deal_id", deal.ID),
		zap.Int64("contact_id", contact.ID),
		zap.Bool("contact_created", created))
	return CreateResult{Success: true, Deal: deal, Contact: contact, ContactCreated: created}
}

// UpdateOpportunity replaces the provided fields of a deal. The memory
// tables keep no opportunity_updated audit record.
func (g *Gateway) UpdateOpportunity(ctx context.Context, id int64, patch models.DealPatch) DealResult {
	if err := validatePatch(patch); err != nil {
		g.metrics.RecordGatewayOperation("update_opportunity", g.backendName(), outcome(err))
		return DealResult{Error: err.Error(), err: err}
	}

	var deal *models.Deal
	err := g.dispatchDeal(ctx, "update_opportunity", id, func(s served) error {
		deal = nil
		err := s.backend.InTx(ctx, func(tb db.Tables) error {
			d, err := tb.GetDeal(ctx, id)
			if err != nil {
				return err
			}
			patch.Apply(d)
			if err := tb.UpdateDeal(ctx, d); err != nil {
				return err
			}
			deal = d
			return nil
		})
		if err != nil {
			return err
		}
		if s.relational {
			g.recordActivity(ctx, s, updatedActivity(*deal, g.owner, g.now()))
		}
		return nil
	})
	if err != nil {
		return DealResult{Error: err.Error(), err: err}
	}
	return DealResult{Success: true, Deal: deal}
}

// DeleteOpportunity removes a deal from the active backend. The memory
// tables keep no opportunity_deleted audit record.
func (g *Gateway) DeleteOpportunity(ctx context.Context, id int64) DeleteResult {
	err := g.dispatchDeal(ctx, "delete_opportunity", id, func(s served) error {
		var deleted *models.Deal
		err := s.backend.InTx(ctx, func(tb db.Tables) error {
			d, err := tb.GetDeal(ctx, id)
			if err != nil {
				return err
			}
			deleted = d
			return tb.DeleteDeal(ctx, id)
		})
		if err != nil {
			return err
		}
		if s.relational {
			g.recordActivity(ctx, s, deletedActivity(*deleted, g.owner, g.now()))
		}
		return nil
	})
	if err != nil {
		return DeleteResult{Error: err.Error(), err: err}
	}
	return DeleteResult{Success: true}
}

// UpdateDealStage moves a deal to stage and persists the derived
// probability with it.
func (g *Gateway) UpdateDealStage(ctx context.Context, id int64, stage models.Stage) DealResult {
	if !stage.Valid() {
		err := fmt.Errorf("%w: invalid stage %q", db.ErrValidation, stage)
		g.metrics.RecordGatewayOperation("update_deal_stage", g.backendName(), outcome(err))
		return DealResult{Error: err.Error(), err: err}
	}

	var deal *models.Deal
	err := g.dispatchDeal(ctx, "update_deal_stage", id, func(s served) error {
		deal = nil
		var from models.Stage
		err := s.backend.InTx(ctx, func(tb db.Tables) error {
			d, err := tb.GetDeal(ctx, id)
			if err != nil {
				return err
			}
			from = d.Stage
			d.Stage = stage
			d.Probability = models.ProbabilityFor(stage, d.Probability)
			if err := tb.UpdateDeal(ctx, d); err != nil {
				return err
			}
			deal = d
			return nil
		})
		if err != nil {
			return err
		}
		g.recordActivity(ctx, s, models.NewStageChangeActivity(*deal, from, g.owner, g.now()))
		return nil
	})
	if err != nil {
		return DealResult{Error: err.Error(), err: err}
	}

	g.logger.Debug("deal stage updated",
		zap.Int64("deal_id", id),
		zap.String("stage", string(deal.Stage)),
		zap.Int("probability", deal.Probability))
	return DealResult{Success: true, Deal: deal}
}

// GetDeal reads one deal.
func (g *Gateway) GetDeal(ctx context.Context, id int64) (*models.Deal, error) {
	var deal *models.Deal
	err := g.dispatchDeal(ctx, "get_deal", id, func(s served) error {
		return s.backend.View(ctx, func(tb db.Tables) error {
			d, err := tb.GetDeal(ctx, id)
			deal = d
			return err
		})
	})
	return deal, err
}

// ListDeals lists deals in id order.
func (g *Gateway) ListDeals(ctx context.Context, filter models.DealFilter) ([]models.Deal, error) {
	var deals []models.Deal
	err := g.dispatch(ctx, "list_deals", func(s served) error {
		return s.backend.View(ctx, func(tb db.Tables) error {
			d, err := tb.FindDeals(ctx, filter)
			deals = d
			return err
		})
	})
	return deals, err
}

// ListActivities returns the audit trail, newest first. A nil dealID lists
// every deal.
func (g *Gateway) ListActivities(ctx context.Context, dealID *int64, limit int) ([]models.Activity, error) {
	var activities []models.Activity
	err := g.dispatch(ctx, "list_activities", func(s served) error {
		return s.backend.View(ctx, func(tb db.Tables) error {
			a, err := tb.FindActivities(ctx, dealID, limit)
			activities = a
			return err
		})
	})
	return activities, err
}

// FindContactByEmail returns nil, nil when no contact matches.
func (g *Gateway) FindContactByEmail(ctx context.Context, email string) (*models.Contact, error) {
	var contact *models.Contact
	err := g.dispatch(ctx, "find_contact", func(s served) error {
		return s.backend.View(ctx, func(tb db.Tables) error {
			c, err := tb.FindContactByEmail(ctx, email)
			contact = c
			return err
		})
	})
	return contact, err
}

func (g *Gateway) backendName() string {
	if g.primary != nil {
		return g.primary.Name()
	}
	return g.fallback.Name()
}

func validateOpportunity(in *models.OpportunityInput) error {
	in.ContactEmail = strings.TrimSpace(in.ContactEmail)
	in.Title = strings.TrimSpace(in.Title)

	if in.ContactEmail == "" {
		return fmt.Errorf("%w: contact email is required", db.ErrValidation)
	}
	if in.Title == "" {
		return fmt.Errorf("%w: title is required", db.ErrValidation)
	}
	if in.Stage == "" {
		in.Stage = models.StageNew
	}
	if !in.Stage.Valid() {
		return fmt.Errorf("%w: invalid stage %q", db.ErrValidation, in.Stage)
	}
	if in.Value.IsNegative() {
		return fmt.Errorf("%w: value must not be negative", db.ErrValidation)
	}
	if in.Probability != nil && (*in.Probability < 0 || *in.Probability > 100) {
		return fmt.Errorf("%w: probability must be between 0 and 100", db.ErrValidation)
	}
	return nil
}

func validatePatch(p models.DealPatch) error {
	if p.Empty() {
		return fmt.Errorf("%w: no fields to update", db.ErrValidation)
	}
	if p.Title != nil && strings.TrimSpace(*p.Title) == "" {
		return fmt.Errorf("%w: title cannot be empty", db.ErrValidation)
	}
	if p.Stage != nil && !p.Stage.Valid() {
		return fmt.Errorf("%w: invalid stage %q", db.ErrValidation, *p.Stage)
	}
	if p.Value != nil && p.Value.IsNegative() {
		return fmt.Errorf("%w: value must not be negative", db.ErrValidation)
	}
	if p.Probability != nil && (*p.Probability < 0 || *p.Probability > 100) {
		return fmt.Errorf("%w: probability must be between 0 and 100", db.ErrValidation)
	}
	return nil
}

// upsertContact reuses the contact with the input's email, overwriting only
// the fields the input actually carries, or creates a new one.
func upsertContact(ctx context.Context, tb db.Tables, in models.OpportunityInput) (*models.Contact, bool, error) {
	existing, err := tb.FindContactByEmail(ctx, in.ContactEmail)
	if err != nil {
		return nil, false, err
	}

	if existing == nil {
		c := &models.Contact{
			Name:     in.ContactName,
			Email:    in.ContactEmail,
			Phone:    in.ContactPhone,
			Company:  in.Company,
			Position: in.ContactPosition,
		}
		if err := tb.CreateContact(ctx, c); err != nil {
			return nil, false, err
		}
		return c, true, nil
	}

	changed := false
	patch := func(dst *string, src string) {
		if src != "" && *dst != src {
			*dst = src
			changed = true
		}
	}
	patch(&existing.Name, in.ContactName)
	patch(&existing.Phone, in.ContactPhone)
	patch(&existing.Company, in.Company)
	patch(&existing.Position, in.ContactPosition)

	if changed {
		if err := tb.UpdateContact(ctx, existing); err != nil {
			return nil, false, err
		}
	}
	return existing, false, nil
}

func newDeal(in models.OpportunityInput, contact *models.Contact, owner string) *models.Deal {
	probability := models.ProbabilityFor(in.Stage, 0)
	if in.Probability != nil {
		probability = *in.Probability
	}

	contactID := contact.ID
	d := &models.Deal{
		Title:            in.Title,
		Company:          in.Company,
		Value:            in.Value,
		Stage:            in.Stage,
		Probability:      probability,
		Notes:            in.Notes,
		ContactID:        &contactID,
		ContactName:      contact.Name,
		ContactEmail:     contact.Email,
		ContactPhone:     contact.Phone,
		LeadSource:       in.LeadSource,
		Industry:         in.Industry,
		CompanySize:      in.CompanySize,
		BudgetRange:      in.BudgetRange,
		DecisionTimeline: in.DecisionTimeline,
		PainPoints:       in.PainPoints,
		Competitors:      in.Competitors,
		NextSteps:        in.NextSteps,
		SalesOwner:       owner,
	}
	if in.ExpectedCloseDate != nil {
		t := *in.ExpectedCloseDate
		d.ExpectedCloseDate = &t
	}
	return d
}

func dealActivity(deal models.Deal, activityType, title, notes, owner string, at time.Time) models.Activity {
	dealID := deal.ID
	a := models.Activity{
		Type:         activityType,
		Title:        title,
		DealID:       &dealID,
		ActivityDate: at,
		Status:       models.ActivityStatusCompleted,
		Notes:        notes,
		SalesOwner:   owner,
	}
	if deal.ContactID != nil {
		cid := *deal.ContactID
		a.ContactID = &cid
	}
	return a
}

func createdActivity(deal models.Deal, owner string, at time.Time) models.Activity {
	return dealActivity(deal, models.ActivityOpportunityCreated,
		fmt.Sprintf("Nueva oportunidad: %s", deal.Title),
		fmt.Sprintf("Oportunidad creada para %s por %s en etapa %s", deal.Company, deal.Value.StringFixed(2), deal.Stage),
		owner, at)
}

func updatedActivity(deal models.Deal, owner string, at time.Time) models.Activity {
	return dealActivity(deal, models.ActivityOpportunityUpdated,
		fmt.Sprintf("Oportunidad actualizada: %s", deal.Title),
		fmt.Sprintf("Etapa %s, probabilidad %d%%, valor %s", deal.Stage, deal.Probability, deal.Value.StringFixed(2)),
		owner, at)
}

func deletedActivity(deal models.Deal, owner string, at time.Time) models.Activity {
	// The deal row is gone; the activity keeps the id for the trail.
	return dealActivity(deal, models.ActivityOpportunityDeleted,
		fmt.Sprintf("Oportunidad eliminada: %s", deal.Title),
		fmt.Sprintf("Oportunidad de %s eliminada", deal.Company),
		owner, at)
}
