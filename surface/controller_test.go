// ABOUTME: Tests for the per-surface replica controller
// ABOUTME: Two surfaces over one gateway, replica store and bus must converge; failed stage moves revert

package surface

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harperreed/embudo/bus"
	"github.com/harperreed/embudo/db"
	"github.com/harperreed/embudo/gateway"
	"github.com/harperreed/embudo/metrics"
	"github.com/harperreed/embudo/models"
	"github.com/harperreed/embudo/replica"
)

type rig struct {
	gw      *gateway.Gateway
	store   *replica.Store
	bus     *bus.Bus
	metrics *metrics.Metrics
}

func newRig(t *testing.T) *rig {
	t.Helper()
	m := metrics.New(prometheus.NewRegistry())
	gw := gateway.New(nil, gateway.Options{Metrics: m})
	t.Cleanup(func() { _ = gw.Close() })
	return &rig{
		gw:      gw,
		store:   replica.NewStore(replica.NewMemoryKV(), replica.WithMetrics(m)),
		bus:     bus.New(bus.Options{Metrics: m}),
		metrics: m,
	}
}

func (r *rig) mount(t *testing.T, name string, gw Gateway, opts Options) *Controller {
	t.Helper()
	if gw == nil {
		gw = r.gw
	}
	opts.Name = name
	opts.Metrics = r.metrics
	c := New(gw, r.store, r.bus.Endpoint(name), opts)
	require.NoError(t, c.Mount(context.Background()))
	t.Cleanup(c.Unmount)
	return c
}

func acmeInput() models.OpportunityInput {
	ten := 10
	return models.OpportunityInput{
		ContactName:  "Ana Pérez",
		ContactEmail: "ana@acme.test",
		Company:      "Acme",
		Title:        "Acme Renewal",
		Value:        decimal.NewFromInt(12000),
		Probability:  &ten,
	}
}

func find(deals []models.Deal, id int64) (models.Deal, bool) {
	for _, d := range deals {
		if d.ID == id {
			return d, true
		}
	}
	return models.Deal{}, false
}

func TestMountSeedsAndMergesReplica(t *testing.T) {
	ctx := context.Background()
	r := newRig(t)

	cached := db.SeedDeals()[1]
	cached.Stage = models.StageClosing
	cached.Probability = 90
	require.NoError(t, r.store.Upsert(ctx, cached))

	c := r.mount(t, "funnel", nil, Options{})
	assert.Equal(t, StateReady, c.State())

	deals := c.Deals()
	assert.Len(t, deals, len(db.SeedDeals()))
	got, ok := find(deals, cached.ID)
	require.True(t, ok)
	assert.Equal(t, models.StageClosing, got.Stage)
	assert.Equal(t, 90, got.Probability)
}

func TestMountTwiceFails(t *testing.T) {
	r := newRig(t)
	c := r.mount(t, "funnel", nil, Options{})
	assert.ErrorIs(t, c.Mount(context.Background()), ErrNotReady)
}

func TestMutationsBeforeMount(t *testing.T) {
	r := newRig(t)
	c := New(r.gw, r.store, r.bus.Endpoint("idle"), Options{})
	assert.Equal(t, StateIdle, c.State())

	_, err := c.Create(context.Background(), acmeInput())
	assert.ErrorIs(t, err, ErrNotReady)
	_, err = c.ChangeStage(context.Background(), 1, models.StageWon)
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestAcmeRenewalAcrossSurfaces(t *testing.T) {
	ctx := context.Background()
	r := newRig(t)
	funnel := r.mount(t, "funnel", nil, Options{})
	board := r.mount(t, "deals", nil, Options{})

	created, err := funnel.Create(ctx, acmeInput())
	require.NoError(t, err)
	assert.Equal(t, int64(4), created.ID)
	assert.Equal(t, models.StageNew, created.Stage)
	assert.Equal(t, 10, created.Probability)

	for _, c := range []*Controller{funnel, board} {
		d, ok := c.Deal(created.ID)
		require.True(t, ok, "surface %s", c.name)
		assert.Equal(t, models.StageNew, d.Stage)
	}
	// The creating surface appends; the receiving one prepends.
	assert.Equal(t, created.ID, funnel.Deals()[len(funnel.Deals())-1].ID)
	assert.Equal(t, created.ID, board.Deals()[0].ID)

	won, err := funnel.ChangeStage(ctx, created.ID, models.StageWon)
	require.NoError(t, err)
	assert.Equal(t, 100, won.Probability)

	for _, c := range []*Controller{funnel, board} {
		d, ok := c.Deal(created.ID)
		require.True(t, ok)
		assert.Equal(t, models.StageWon, d.Stage)
		assert.Equal(t, 100, d.Probability)
	}

	cached, ok := find(r.store.Load(ctx), created.ID)
	require.True(t, ok)
	assert.Equal(t, models.StageWon, cached.Stage)

	// A surface mounted afterwards picks the deal up from the replica.
	late := r.mount(t, "late", nil, Options{})
	d, ok := late.Deal(created.ID)
	require.True(t, ok)
	assert.Equal(t, 100, d.Probability)
}

func TestAcmeRenewalOverRedis(t *testing.T) {
	ctx := context.Background()
	s := miniredis.RunT(t)
	client, err := bus.Connect(ctx, "redis://"+s.Addr())
	require.NoError(t, err)

	r := newRig(t)
	r.bus = bus.New(bus.Options{Redis: client, Metrics: r.metrics})
	t.Cleanup(func() { _ = r.bus.Close() })

	funnel := r.mount(t, "funnel", nil, Options{})
	board := r.mount(t, "deals", nil, Options{})

	created, err := funnel.Create(ctx, acmeInput())
	require.NoError(t, err)
	_, err = funnel.ChangeStage(ctx, created.ID, models.StageWon)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		d, ok := board.Deal(created.ID)
		return ok && d.Stage == models.StageWon && d.Probability == 100
	}, 2*time.Second, 10*time.Millisecond)
	assert.Len(t, board.Deals(), 4)
}

func TestRemoteDelete(t *testing.T) {
	ctx := context.Background()
	r := newRig(t)
	a := r.mount(t, "a", nil, Options{})
	b := r.mount(t, "b", nil, Options{})

	require.NoError(t, a.Delete(ctx, 1))

	_, ok := a.Deal(1)
	assert.False(t, ok)
	_, ok = b.Deal(1)
	assert.False(t, ok)
	_, ok = find(r.store.Load(ctx), 1)
	assert.False(t, ok)
}

func TestUpdatePropagates(t *testing.T) {
	ctx := context.Background()
	r := newRig(t)
	a := r.mount(t, "a", nil, Options{})
	b := r.mount(t, "b", nil, Options{})

	title := "Renovación anual"
	_, err := a.Update(ctx, 2, models.DealPatch{Title: &title})
	require.NoError(t, err)

	d, ok := b.Deal(2)
	require.True(t, ok)
	assert.Equal(t, title, d.Title)
}

func TestCreateFailureLeavesStateUntouched(t *testing.T) {
	r := newRig(t)
	var reported []error
	c := r.mount(t, "a", nil, Options{OnError: func(err error) { reported = append(reported, err) }})
	before := c.Deals()

	in := acmeInput()
	in.ContactEmail = ""
	_, err := c.Create(context.Background(), in)
	require.Error(t, err)
	assert.True(t, gateway.IsValidation(err))

	assert.Equal(t, before, c.Deals())
	assert.Empty(t, r.store.Load(context.Background()))
	require.Len(t, reported, 1)
}

func TestChangeStageRollsBackWhenGatewayRejects(t *testing.T) {
	ctx := context.Background()
	r := newRig(t)

	// The relational store is empty, so the seed deals only exist locally.
	backend, err := db.OpenSQLBackend(ctx, t.TempDir()+"/embudo.db")
	require.NoError(t, err)
	sqlGW := gateway.New(backend, gateway.Options{})
	t.Cleanup(func() { _ = sqlGW.Close() })

	var reported []error
	c := r.mount(t, "a", sqlGW, Options{OnError: func(err error) { reported = append(reported, err) }})
	before, ok := c.Deal(1)
	require.True(t, ok)

	var seen []models.Stage
	unsubscribe := c.Subscribe(func(deals []models.Deal) {
		d, _ := find(deals, 1)
		seen = append(seen, d.Stage)
	})
	defer unsubscribe()

	_, err = c.ChangeStage(ctx, 1, models.StageWon)
	require.Error(t, err)
	assert.True(t, gateway.IsNotFound(err))

	after, ok := c.Deal(1)
	require.True(t, ok)
	assert.Equal(t, before.Stage, after.Stage)
	assert.Equal(t, before.Probability, after.Probability)
	assert.Equal(t, []models.Stage{models.StageWon, before.Stage}, seen)
	assert.Len(t, reported, 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(r.metrics.StageRollbacks))
}

func TestChangeStageRejectsInvalidStage(t *testing.T) {
	r := newRig(t)
	c := r.mount(t, "a", nil, Options{})
	before := c.Deals()

	_, err := c.ChangeStage(context.Background(), 1, models.Stage("Perdido?"))
	require.Error(t, err)
	assert.True(t, gateway.IsValidation(err))
	assert.Equal(t, before, c.Deals())
}

// gatedGateway holds UpdateDealStage and CreateOpportunityWithContact calls
// until the test releases them.
type gatedGateway struct {
	*gateway.Gateway
	mu      sync.Mutex
	stage   []chan gateway.DealResult
	create  chan gateway.CreateResult
	entered chan struct{}
}

func newGatedGateway(gw *gateway.Gateway) *gatedGateway {
	return &gatedGateway{Gateway: gw, entered: make(chan struct{}, 8)}
}

func (g *gatedGateway) holdStage() chan gateway.DealResult {
	ch := make(chan gateway.DealResult, 1)
	g.mu.Lock()
	g.stage = append(g.stage, ch)
	g.mu.Unlock()
	return ch
}

func (g *gatedGateway) UpdateDealStage(ctx context.Context, id int64, stage models.Stage) gateway.DealResult {
	g.mu.Lock()
	var ch chan gateway.DealResult
	if len(g.stage) > 0 {
		ch, g.stage = g.stage[0], g.stage[1:]
	}
	g.mu.Unlock()
	if ch == nil {
		return g.Gateway.UpdateDealStage(ctx, id, stage)
	}
	g.entered <- struct{}{}
	return <-ch
}

func (g *gatedGateway) CreateOpportunityWithContact(ctx context.Context, input models.OpportunityInput) gateway.CreateResult {
	if g.create == nil {
		return g.Gateway.CreateOpportunityWithContact(ctx, input)
	}
	g.entered <- struct{}{}
	return <-g.create
}

func TestSupersededStageChangeIsNotReverted(t *testing.T) {
	ctx := context.Background()
	r := newRig(t)
	gw := newGatedGateway(r.gw)
	c := r.mount(t, "a", gw, Options{})

	first := gw.holdStage()
	errs := make(chan error, 1)
	go func() {
		_, err := c.ChangeStage(ctx, 1, models.StageClosing)
		errs <- err
	}()
	<-gw.entered

	d, _ := c.Deal(1)
	assert.Equal(t, models.StageClosing, d.Stage)
	assert.Equal(t, 90, d.Probability)

	// A second move lands while the first is still in flight.
	_, err := c.ChangeStage(ctx, 1, models.StageNegotiation)
	require.NoError(t, err)

	first <- gateway.DealResult{Success: false, Error: "timeout"}
	assert.EqualError(t, <-errs, "timeout")

	d, _ = c.Deal(1)
	assert.Equal(t, models.StageNegotiation, d.Stage)
	assert.Equal(t, 0.0, testutil.ToFloat64(r.metrics.StageRollbacks))
}

// startStageChange runs ChangeStage in the background and waits until the
// gated gateway is holding it.
func startStageChange(t *testing.T, c *Controller, gw *gatedGateway, id int64, stage models.Stage) chan error {
	t.Helper()
	errs := make(chan error, 1)
	go func() {
		_, err := c.ChangeStage(context.Background(), id, stage)
		errs <- err
	}()
	select {
	case <-gw.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("stage change never reached the gateway")
	}
	return errs
}

func TestStackedStageFailuresRevertToConfirmedStage(t *testing.T) {
	r := newRig(t)
	gw := newGatedGateway(r.gw)
	c := r.mount(t, "a", gw, Options{})

	first, second := gw.holdStage(), gw.holdStage()
	closing := startStageChange(t, c, gw, 1, models.StageClosing)
	won := startStageChange(t, c, gw, 1, models.StageWon)

	first <- gateway.DealResult{Success: false, Error: "timeout"}
	assert.EqualError(t, <-closing, "timeout")
	d, _ := c.Deal(1)
	assert.Equal(t, models.StageWon, d.Stage)

	second <- gateway.DealResult{Success: false, Error: "timeout"}
	assert.EqualError(t, <-won, "timeout")

	d, _ = c.Deal(1)
	assert.Equal(t, models.StageProposal, d.Stage)
	assert.Equal(t, 50, d.Probability)
	assert.Equal(t, 1.0, testutil.ToFloat64(r.metrics.StageRollbacks))
}

func TestFailedStageChangeRevertsToLastConfirmedStage(t *testing.T) {
	r := newRig(t)
	gw := newGatedGateway(r.gw)
	c := r.mount(t, "a", gw, Options{})

	first, second := gw.holdStage(), gw.holdStage()
	closing := startStageChange(t, c, gw, 1, models.StageClosing)
	won := startStageChange(t, c, gw, 1, models.StageWon)

	first <- r.gw.UpdateDealStage(context.Background(), 1, models.StageClosing)
	require.NoError(t, <-closing)
	d, _ := c.Deal(1)
	assert.Equal(t, models.StageWon, d.Stage, "newer move still in flight")

	second <- gateway.DealResult{Success: false, Error: "timeout"}
	assert.EqualError(t, <-won, "timeout")

	d, _ = c.Deal(1)
	assert.Equal(t, models.StageClosing, d.Stage)
	assert.Equal(t, 90, d.Probability)
}

func TestLastConfirmedStageWins(t *testing.T) {
	ctx := context.Background()
	r := newRig(t)
	gw := newGatedGateway(r.gw)
	c := r.mount(t, "a", gw, Options{})
	peer := r.mount(t, "b", nil, Options{})

	first := gw.holdStage()
	closing := startStageChange(t, c, gw, 1, models.StageClosing)

	_, err := c.ChangeStage(ctx, 1, models.StageWon)
	require.NoError(t, err)

	// The older move reaches the database last.
	first <- r.gw.UpdateDealStage(ctx, 1, models.StageClosing)
	require.NoError(t, <-closing)

	stored, err := r.gw.GetDeal(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, models.StageClosing, stored.Stage)

	d, _ := c.Deal(1)
	assert.Equal(t, stored.Stage, d.Stage)
	assert.Equal(t, stored.Probability, d.Probability)

	d, _ = peer.Deal(1)
	assert.Equal(t, stored.Stage, d.Stage)

	cached, ok := find(r.store.Load(ctx), 1)
	require.True(t, ok)
	assert.Equal(t, stored.Stage, cached.Stage)
}

func TestNoApplyAfterUnmount(t *testing.T) {
	ctx := context.Background()
	r := newRig(t)
	gw := newGatedGateway(r.gw)
	gw.create = make(chan gateway.CreateResult, 1)
	a := r.mount(t, "a", gw, Options{})
	b := r.mount(t, "b", nil, Options{})

	done := make(chan error, 1)
	go func() {
		_, err := a.Create(ctx, acmeInput())
		done <- err
	}()
	<-gw.entered

	a.Unmount()
	assert.Equal(t, StateClosed, a.State())
	before := a.Deals()

	deal := models.Deal{ID: 4, Title: "Acme Renewal", Stage: models.StageNew, Probability: 10}
	gw.create <- gateway.CreateResult{Success: true, Deal: &deal}
	require.NoError(t, <-done)

	assert.Equal(t, before, a.Deals())
	// Other surfaces still learn about the confirmed deal.
	_, ok := b.Deal(4)
	assert.True(t, ok)

	// And an unmounted surface ignores remote traffic.
	require.NoError(t, b.Delete(ctx, 2))
	_, ok = a.Deal(2)
	assert.True(t, ok)
}

func TestListenerAndErrorHookRunWithoutLock(t *testing.T) {
	ctx := context.Background()
	r := newRig(t)

	var c *Controller
	var count int
	c = r.mount(t, "a", nil, Options{OnError: func(error) {
		_ = c.Deals()
	}})
	unsubscribe := c.Subscribe(func(deals []models.Deal) {
		// Re-entering the controller must not deadlock.
		_ = c.State()
		count++
	})

	_, err := c.Create(ctx, acmeInput())
	require.NoError(t, err)
	_, err = c.ChangeStage(ctx, 999, models.StageWon)
	require.Error(t, err)
	assert.True(t, errors.Is(err, db.ErrNotFound))

	unsubscribe()
	_, err = c.ChangeStage(ctx, 1, models.StageWon)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
