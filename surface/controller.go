// ABOUTME: Per-surface replica controller: seeds a surface, writes through the gateway and keeps replicas converged
// ABOUTME: Stage changes apply optimistically and are reverted by a compensating transition when the write fails
package surface

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/harperreed/embudo/bus"
	"github.com/harperreed/embudo/db"
	"github.com/harperreed/embudo/gateway"
	"github.com/harperreed/embudo/metrics"
	"github.com/harperreed/embudo/models"
	"github.com/harperreed/embudo/replica"
)

// ErrNotReady is returned by mutations on a surface that is not mounted.
var ErrNotReady = errors.New("surface not ready")

// State is the lifecycle of a surface.
type State int

const (
	StateIdle State = iota
	StateLoading
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Gateway is the persistence facade a surface writes through.
type Gateway interface {
	CreateOpportunityWithContact(ctx context.Context, input models.OpportunityInput) gateway.CreateResult
	UpdateOpportunity(ctx context.Context, id int64, patch models.DealPatch) gateway.DealResult
	DeleteOpportunity(ctx context.Context, id int64) gateway.DeleteResult
	UpdateDealStage(ctx context.Context, id int64, stage models.Stage) gateway.DealResult
}

// Replica is the origin-wide deal cache.
type Replica interface {
	Load(ctx context.Context) []models.Deal
	Upsert(ctx context.Context, deal models.Deal) error
	Remove(ctx context.Context, id int64) error
}

// Endpoint is this surface's handle on the replication bus.
type Endpoint interface {
	Publish(ctx context.Context, msg bus.Message) error
	Subscribe(ctx context.Context, handler bus.Handler) (func(), error)
}

// Options configures a Controller.
type Options struct {
	// Name labels log lines, e.g. "funnel" or "deals".
	Name string
	// Seed is the deal set a surface starts from before its replica is
	// merged in. Nil uses db.SeedDeals.
	Seed []models.Deal
	// Precedence decides whether the replica (IncomingWins) or the seed
	// (BaseWins) wins on mount.
	Precedence replica.Precedence
	Logger     *zap.Logger
	Metrics    *metrics.Metrics
	// OnError is told about every failed mutation.
	OnError func(error)
}

// stageMoves tracks the optimistic stage changes of one deal that are still
// waiting for the gateway. confirmed holds the value the gateway last
// accepted, or the value shown before the first outstanding move.
type stageMoves struct {
	confirmedStage       models.Stage
	confirmedProbability int
	outstanding          map[uint64]models.Stage
}

func (m *stageMoves) newerThan(seq uint64) bool {
	for s := range m.outstanding {
		if s > seq {
			return true
		}
	}
	return false
}

// Controller owns one surface's in-memory replica.
type Controller struct {
	gw       Gateway
	store    Replica
	endpoint Endpoint

	name       string
	seed       []models.Deal
	precedence replica.Precedence
	logger     *zap.Logger
	metrics    *metrics.Metrics
	onError    func(error)

	mu          sync.Mutex
	state       State
	deals       []models.Deal
	early       []bus.Message
	moves       map[int64]*stageMoves
	seq         uint64
	unsubscribe func()
	listeners   map[int]func([]models.Deal)
	nextID      int
}

func New(gw Gateway, store Replica, endpoint Endpoint, opts Options) *Controller {
	c := &Controller{
		gw:         gw,
		store:      store,
		endpoint:   endpoint,
		name:       opts.Name,
		seed:       opts.Seed,
		precedence: opts.Precedence,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		onError:    opts.OnError,
		moves:      map[int64]*stageMoves{},
		listeners:  map[int]func([]models.Deal){},
	}
	if c.seed == nil {
		c.seed = db.SeedDeals()
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	c.logger = c.logger.With(zap.String("surface", c.name))
	return c
}

// Mount moves Idle → Loading → Ready: it merges the replica into the seed
// and starts listening to other surfaces.
func (c *Controller) Mount(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateIdle {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("mount from %s: %w", state, ErrNotReady)
	}
	c.state = StateLoading
	c.mu.Unlock()

	// Listen first; anything arriving while loading is replayed below.
	unsubscribe, err := c.endpoint.Subscribe(ctx, c.handleMessage)
	if err != nil {
		c.mu.Lock()
		c.state = StateIdle
		c.mu.Unlock()
		return fmt.Errorf("subscribe: %w", err)
	}

	cached := c.store.Load(ctx)
	merged := replica.MergeUniqueByIDWith(c.seed, cached, c.precedence)

	c.update(func() bool {
		c.deals = merged
		c.unsubscribe = unsubscribe
		c.state = StateReady
		for _, msg := range c.early {
			c.applyRemoteLocked(msg)
		}
		c.early = nil
		return true
	})

	c.metrics.SurfaceMounted(1)
	c.logger.Debug("surface mounted", zap.Int("deals", len(merged)), zap.Int("cached", len(cached)))
	return nil
}

// Unmount detaches from the bus. Responses that resolve afterwards are not
// applied.
func (c *Controller) Unmount() {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	wasMounted := c.state == StateReady
	c.state = StateClosed
	unsubscribe := c.unsubscribe
	c.unsubscribe = nil
	c.moves = map[int64]*stageMoves{}
	c.mu.Unlock()

	// Outside the lock: unsubscribe waits for in-flight deliveries, which
	// take the lock.
	if unsubscribe != nil {
		unsubscribe()
	}
	if wasMounted {
		c.metrics.SurfaceMounted(-1)
	}
}

func (c *Controller) Name() string {
	return c.name
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Deals returns a copy of the surface's current deal set.
func (c *Controller) Deals() []models.Deal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneDeals(c.deals)
}

// Deal returns one deal of the surface.
func (c *Controller) Deal(id int64) (models.Deal, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i := c.indexLocked(id); i >= 0 {
		return c.deals[i].Clone(), true
	}
	return models.Deal{}, false
}

// Subscribe registers a listener called with a snapshot after every change.
// It returns the function that removes it.
func (c *Controller) Subscribe(listener func([]models.Deal)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = listener
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners, id)
	}
}

// Create confirms the new opportunity with the gateway before anything
// else sees it, then caches it, tells other surfaces and appends it here.
func (c *Controller) Create(ctx context.Context, input models.OpportunityInput) (models.Deal, error) {
	if err := c.requireReady(); err != nil {
		return models.Deal{}, err
	}

	res := c.gw.CreateOpportunityWithContact(ctx, input)
	if !res.Success {
		return models.Deal{}, c.fail("create opportunity", resultErr(res.Err(), res.Error))
	}
	deal := res.Deal.Clone()

	c.persist(ctx, deal)
	c.publish(ctx, bus.Created(deal))

	c.update(func() bool {
		if c.state != StateReady {
			return false
		}
		if i := c.indexLocked(deal.ID); i >= 0 {
			c.deals[i] = deal.Clone()
		} else {
			c.deals = append(c.deals, deal.Clone())
		}
		return true
	})
	return deal, nil
}

// ChangeStage shows the new stage immediately and reconciles with the
// gateway's answer. When the newest outstanding move on a deal fails, the
// deal goes back to the last stage the gateway accepted. A failure that a
// newer move has superseded changes nothing. Confirmations apply in the
// order they arrive, so the surface ends on the last stage the gateway
// wrote.
func (c *Controller) ChangeStage(ctx context.Context, id int64, stage models.Stage) (models.Deal, error) {
	if !stage.Valid() {
		return models.Deal{}, c.fail("change stage", fmt.Errorf("%w: invalid stage %q", db.ErrValidation, stage))
	}

	var (
		seq      uint64
		tracked  bool
		notReady bool
	)
	c.update(func() bool {
		if c.state != StateReady {
			notReady = true
			return false
		}
		i := c.indexLocked(id)
		if i < 0 {
			return false
		}
		c.seq++
		seq = c.seq
		d := &c.deals[i]
		m := c.moves[id]
		if m == nil {
			m = &stageMoves{
				confirmedStage:       d.Stage,
				confirmedProbability: d.Probability,
				outstanding:          map[uint64]models.Stage{},
			}
			c.moves[id] = m
		}
		m.outstanding[seq] = stage
		tracked = true

		d.Stage = stage
		d.Probability = models.ProbabilityFor(stage, d.Probability)
		return true
	})
	if notReady {
		return models.Deal{}, ErrNotReady
	}

	res := c.gw.UpdateDealStage(ctx, id, stage)

	if !res.Success {
		err := resultErr(res.Err(), res.Error)
		var (
			rolledBack bool
			restored   models.Stage
		)
		c.update(func() bool {
			if !tracked || c.state != StateReady {
				return false
			}
			m := c.moves[id]
			if m == nil {
				return false
			}
			delete(m.outstanding, seq)
			if len(m.outstanding) == 0 {
				delete(c.moves, id)
			}
			if m.newerThan(seq) {
				// A newer change owns the deal now.
				return false
			}
			i := c.indexLocked(id)
			if i < 0 || c.deals[i].Stage != stage {
				return false
			}
			c.deals[i].Stage = m.confirmedStage
			c.deals[i].Probability = m.confirmedProbability
			restored = m.confirmedStage
			rolledBack = true
			return true
		})
		if rolledBack {
			c.metrics.RecordRollback()
			c.logger.Info("stage change reverted",
				zap.Int64("deal_id", id),
				zap.String("stage", string(restored)),
				zap.Error(err))
		}
		return models.Deal{}, c.fail("change stage", err)
	}

	deal := res.Deal.Clone()
	c.update(func() bool {
		if c.state != StateReady {
			return false
		}
		if m := c.moves[id]; tracked && m != nil {
			delete(m.outstanding, seq)
			if len(m.outstanding) == 0 {
				delete(c.moves, id)
			}
			m.confirmedStage = deal.Stage
			m.confirmedProbability = deal.Probability
			if m.newerThan(seq) {
				// Keep showing the newer optimistic stage.
				return false
			}
		}
		c.mergeLocked(deal)
		return true
	})

	c.persist(ctx, deal)
	c.publish(ctx, bus.Updated(deal))
	return deal, nil
}

// Update writes the patch through the gateway and propagates the result.
func (c *Controller) Update(ctx context.Context, id int64, patch models.DealPatch) (models.Deal, error) {
	if err := c.requireReady(); err != nil {
		return models.Deal{}, err
	}

	res := c.gw.UpdateOpportunity(ctx, id, patch)
	if !res.Success {
		return models.Deal{}, c.fail("update opportunity", resultErr(res.Err(), res.Error))
	}
	deal := res.Deal.Clone()

	c.persist(ctx, deal)
	c.publish(ctx, bus.Updated(deal))

	c.update(func() bool {
		if c.state != StateReady {
			return false
		}
		c.mergeLocked(deal)
		return true
	})
	return deal, nil
}

// Delete removes the deal through the gateway and propagates the removal.
func (c *Controller) Delete(ctx context.Context, id int64) error {
	if err := c.requireReady(); err != nil {
		return err
	}

	res := c.gw.DeleteOpportunity(ctx, id)
	if !res.Success {
		return c.fail("delete opportunity", resultErr(res.Err(), res.Error))
	}

	if err := c.store.Remove(ctx, id); err != nil {
		c.logger.Warn("failed to remove deal from replica", zap.Int64("deal_id", id), zap.Error(err))
	}
	c.publish(ctx, bus.Deleted(id))

	c.update(func() bool {
		if c.state != StateReady {
			return false
		}
		return c.removeLocked(id)
	})
	return nil
}

func (c *Controller) handleMessage(msg bus.Message) {
	c.update(func() bool {
		switch c.state {
		case StateLoading:
			c.early = append(c.early, msg)
			return false
		case StateReady:
			return c.applyRemoteLocked(msg)
		default:
			return false
		}
	})
}

// applyRemoteLocked merges a message from another surface. Received
// messages are never published again.
func (c *Controller) applyRemoteLocked(msg bus.Message) bool {
	switch msg.Kind {
	case bus.KindCreated, bus.KindUpdated:
		if msg.Deal == nil {
			return false
		}
		if m := c.moves[msg.Deal.ID]; m != nil {
			m.confirmedStage = msg.Deal.Stage
			m.confirmedProbability = msg.Deal.Probability
		}
		c.mergeLocked(*msg.Deal)
		return true
	case bus.KindDeleted:
		delete(c.moves, msg.DealID)
		return c.removeLocked(msg.DealID)
	default:
		return false
	}
}

// mergeLocked replaces the deal with the same id or prepends it.
func (c *Controller) mergeLocked(deal models.Deal) {
	if i := c.indexLocked(deal.ID); i >= 0 {
		c.deals[i] = deal.Clone()
		return
	}
	c.deals = append([]models.Deal{deal.Clone()}, c.deals...)
}

func (c *Controller) removeLocked(id int64) bool {
	i := c.indexLocked(id)
	if i < 0 {
		return false
	}
	c.deals = append(c.deals[:i], c.deals[i+1:]...)
	return true
}

func (c *Controller) indexLocked(id int64) int {
	for i := range c.deals {
		if c.deals[i].ID == id {
			return i
		}
	}
	return -1
}

// update runs fn under the lock and, when fn reports a change, hands a
// snapshot to every listener after the lock is released.
func (c *Controller) update(fn func() bool) {
	c.mu.Lock()
	changed := fn()
	var (
		snapshot  []models.Deal
		listeners []func([]models.Deal)
	)
	if changed && len(c.listeners) > 0 {
		snapshot = cloneDeals(c.deals)
		for _, l := range c.listeners {
			listeners = append(listeners, l)
		}
	}
	c.mu.Unlock()

	for _, l := range listeners {
		l(snapshot)
	}
}

func (c *Controller) requireReady() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateReady {
		return ErrNotReady
	}
	return nil
}

func (c *Controller) persist(ctx context.Context, deal models.Deal) {
	if err := c.store.Upsert(ctx, deal); err != nil {
		c.logger.Warn("failed to cache deal in replica", zap.Int64("deal_id", deal.ID), zap.Error(err))
	}
}

func (c *Controller) publish(ctx context.Context, msg bus.Message) {
	if err := c.endpoint.Publish(ctx, msg); err != nil {
		c.logger.Warn("failed to publish replication message",
			zap.String("kind", string(msg.Kind)),
			zap.Int64("deal_id", msg.DealID),
			zap.Error(err))
	}
}

func (c *Controller) fail(op string, err error) error {
	c.logger.Warn(op+" failed", zap.Error(err))
	if c.onError != nil {
		c.onError(err)
	}
	return err
}

// resultErr recovers a Go error from an envelope.
func resultErr(err error, message string) error {
	if err != nil {
		return err
	}
	if message == "" {
		message = "operation failed"
	}
	return errors.New(message)
}

func cloneDeals(deals []models.Deal) []models.Deal {
	out := make([]models.Deal, len(deals))
	for i, d := range deals {
		out[i] = d.Clone()
	}
	return out
}
