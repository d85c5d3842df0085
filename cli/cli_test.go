// ABOUTME: Tests for CLI commands
// ABOUTME: Runs commands against in-memory and SQLite+badger runtimes and checks other surfaces follow

package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harperreed/embudo/config"
	"github.com/harperreed/embudo/models"
)

// lockedBuffer lets watch print from the bus while a command writes.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func memoryConfig() *config.Config {
	cfg := config.Default()
	cfg.ReplicaBackend = config.ReplicaMemory
	return cfg
}

func openApp(t *testing.T, cfg *config.Config) (*App, *lockedBuffer) {
	t.Helper()
	out := &lockedBuffer{}
	app, err := Open(context.Background(), cfg, nil, Options{Out: out})
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })
	return app, out
}

func acmeArgs() []string {
	return []string{
		"--title", "Acme Renewal",
		"--company", "Acme",
		"--value", "12000",
		"--probability", "10",
		"--contact-name", "Ana Pérez",
		"--contact-email", "ana@acme.test",
	}
}

func TestAddOpportunityAndList(t *testing.T) {
	ctx := context.Background()
	app, out := openApp(t, memoryConfig())

	require.NoError(t, AddOpportunityCommand(ctx, app, acmeArgs()))
	assert.Contains(t, out.String(), "Opportunity created: Acme Renewal (ID: 4)")
	assert.Contains(t, out.String(), "Stage: Nuevo (10%)")

	require.NoError(t, ListDealsCommand(ctx, app, nil))
	assert.Contains(t, out.String(), "Acme Renewal")
	assert.Contains(t, out.String(), "Total: 4 deal(s)")
}

func TestAddOpportunityValidation(t *testing.T) {
	ctx := context.Background()
	app, _ := openApp(t, memoryConfig())

	assert.ErrorContains(t, AddOpportunityCommand(ctx, app, []string{"--contact-email", "a@b.test"}), "--title")
	assert.ErrorContains(t, AddOpportunityCommand(ctx, app, []string{"--title", "X"}), "--contact-email")
	assert.ErrorContains(t, AddOpportunityCommand(ctx, app, append(acmeArgs(), "--stage", "pending")), "invalid stage")
	assert.ErrorContains(t, AddOpportunityCommand(ctx, app, append(acmeArgs(), "--value", "lots")), "--value")
}

func TestListDealsByStage(t *testing.T) {
	ctx := context.Background()
	app, out := openApp(t, memoryConfig())

	require.NoError(t, ListDealsCommand(ctx, app, []string{"--stage", "negociacion"}))
	assert.Contains(t, out.String(), "Licencias anuales")
	assert.NotContains(t, out.String(), "Implementación CRM")
	assert.Contains(t, out.String(), "Total: 1 deal(s)")
}

func TestMoveStageReachesOpenSurface(t *testing.T) {
	ctx := context.Background()
	app, out := openApp(t, memoryConfig())

	board, err := app.Mount(ctx, "board")
	require.NoError(t, err)

	require.NoError(t, MoveStageCommand(ctx, app, []string{"1", "ganado"}))
	assert.Contains(t, out.String(), "Propuesta → Ganado (100%)")

	d, ok := board.Deal(1)
	require.True(t, ok)
	assert.Equal(t, models.StageWon, d.Stage)
	assert.Equal(t, 100, d.Probability)
}

func TestMoveStageErrors(t *testing.T) {
	ctx := context.Background()
	app, _ := openApp(t, memoryConfig())

	assert.ErrorContains(t, MoveStageCommand(ctx, app, []string{"1"}), "usage")
	assert.ErrorContains(t, MoveStageCommand(ctx, app, []string{"x", "Cierre"}), "invalid deal ID")
	assert.ErrorContains(t, MoveStageCommand(ctx, app, []string{"1", "done"}), "invalid stage")
	assert.Error(t, MoveStageCommand(ctx, app, []string{"999", "Cierre"}))
}

func TestUpdateDealOnlyChangesGivenFlags(t *testing.T) {
	ctx := context.Background()
	app, out := openApp(t, memoryConfig())

	board, err := app.Mount(ctx, "board")
	require.NoError(t, err)
	before, ok := board.Deal(2)
	require.True(t, ok)

	require.NoError(t, UpdateDealCommand(ctx, app, []string{"--value", "9100.50", "--next-steps", "Firmar", "2"}))
	assert.Contains(t, out.String(), "Updated deal: Licencias anuales")

	after, ok := board.Deal(2)
	require.True(t, ok)
	assert.Equal(t, "9100.50", after.Value.StringFixed(2))
	assert.Equal(t, "Firmar", after.NextSteps)
	assert.Equal(t, before.Title, after.Title)
	assert.Equal(t, before.Stage, after.Stage)

	assert.ErrorContains(t, UpdateDealCommand(ctx, app, []string{"2"}), "nothing to update")
	assert.ErrorContains(t, UpdateDealCommand(ctx, app, []string{"--close-date", "soon", "2"}), "invalid date")
}

func TestDeleteDeal(t *testing.T) {
	ctx := context.Background()
	app, out := openApp(t, memoryConfig())

	board, err := app.Mount(ctx, "board")
	require.NoError(t, err)

	require.NoError(t, DeleteDealCommand(ctx, app, []string{"3"}))
	assert.Contains(t, out.String(), "Deleted deal: 3")
	_, ok := board.Deal(3)
	assert.False(t, ok)

	assert.ErrorContains(t, DeleteDealCommand(ctx, app, nil), "usage")
}

func TestCommandsAcrossRunsWithSQLite(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.DatabaseURL = filepath.Join(dir, "crm.db")
	cfg.ReplicaDir = filepath.Join(dir, "replica")

	first, out := openApp(t, cfg)
	require.NoError(t, AddOpportunityCommand(ctx, first, acmeArgs()))
	require.Contains(t, out.String(), "ID: 1")
	require.NoError(t, first.Close())

	second, out := openApp(t, cfg)
	require.NoError(t, MoveStageCommand(ctx, second, []string{"1", "Cierre"}))
	assert.Contains(t, out.String(), "Acme Renewal: Nuevo → Cierre (90%)")

	require.NoError(t, ListActivitiesCommand(ctx, second, []string{"--deal", "1"}))
	assert.Contains(t, out.String(), models.ActivityStageChange)
	assert.Contains(t, out.String(), models.ActivityOpportunityCreated)

	// The replica carried the deal across runs.
	cached := second.Store.Load(ctx)
	var found bool
	for _, d := range cached {
		if d.Title == "Acme Renewal" {
			found = true
			assert.Equal(t, models.StageClosing, d.Stage)
		}
	}
	assert.True(t, found)
}

func TestReplicaStatusAndWipe(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	cfg.ReplicaDir = t.TempDir()
	app, out := openApp(t, cfg)

	require.NoError(t, MoveStageCommand(ctx, app, []string{"2", "Cierre"}))
	require.NoError(t, ReplicaCommand(ctx, app, []string{"status"}))
	assert.Contains(t, out.String(), "Backend:   badger")
	assert.Contains(t, out.String(), "Deals:     1")

	require.NoError(t, ReplicaCommand(ctx, app, []string{"wipe"}))
	assert.Contains(t, out.String(), "--confirm")
	assert.Len(t, app.Store.Load(ctx), 1)

	require.NoError(t, ReplicaCommand(ctx, app, []string{"wipe", "--confirm"}))
	assert.Empty(t, app.Store.Load(ctx))

	require.NoError(t, ReplicaCommand(ctx, app, []string{"sync"}))
	assert.Contains(t, out.String(), "nothing to sync")
	assert.Error(t, ReplicaCommand(ctx, app, []string{"rebuild"}))
	assert.Error(t, ReplicaCommand(ctx, app, nil))
}

func TestWatchPrintsRemoteChanges(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	app, out := openApp(t, memoryConfig())

	done := make(chan error, 1)
	go func() { done <- WatchCommand(ctx, app, nil) }()
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "Watching deals-sync (in-process)")
	}, time.Second, 10*time.Millisecond)

	// Subscribe runs after the banner; give it a moment to register.
	require.Eventually(t, func() bool {
		_ = MoveStageCommand(ctx, app, []string{"3", "Propuesta"})
		return strings.Contains(out.String(), "updated  #3 Consultoría de datos · Propuesta 50%")
	}, 2*time.Second, 20*time.Millisecond)

	require.NoError(t, DeleteDealCommand(ctx, app, []string{"3"}))
	assert.Contains(t, out.String(), "deleted  #3")

	cancel()
	require.NoError(t, <-done)
}

func TestMCPServerOverInMemoryTransport(t *testing.T) {
	ctx := context.Background()
	app, _ := openApp(t, memoryConfig())

	board, err := app.Mount(ctx, "board")
	require.NoError(t, err)

	server, err := NewMCPServer(ctx, app, "test")
	require.NoError(t, err)

	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	ss, err := server.Connect(ctx, serverTransport, nil)
	require.NoError(t, err)
	defer ss.Close()

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0"}, nil)
	cs, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	defer cs.Close()

	tools, err := cs.ListTools(ctx, nil)
	require.NoError(t, err)
	var names []string
	for _, tool := range tools.Tools {
		names = append(names, tool.Name)
	}
	assert.Subset(t, names, []string{
		"create_opportunity", "update_opportunity", "update_deal_stage",
		"delete_opportunity", "list_deals", "list_activities",
	})

	res, err := cs.CallTool(ctx, &mcp.CallToolParams{
		Name:      "update_deal_stage",
		Arguments: map[string]any{"id": 3, "stage": "Negociación"},
	})
	require.NoError(t, err)
	assert.False(t, res.IsError)

	d, ok := board.Deal(3)
	require.True(t, ok)
	assert.Equal(t, models.StageNegotiation, d.Stage)
	assert.Equal(t, 75, d.Probability)
}

func TestVizCommands(t *testing.T) {
	ctx := context.Background()
	app, out := openApp(t, memoryConfig())

	require.NoError(t, VizGraphPipelineCommand(ctx, app, nil))
	assert.Contains(t, out.String(), "digraph")

	file := filepath.Join(t.TempDir(), "pipeline.dot")
	require.NoError(t, VizGraphPipelineCommand(ctx, app, []string{"--output", file}))
	assert.FileExists(t, file)

	require.NoError(t, VizDashboardCommand(ctx, app, nil))
	assert.Contains(t, out.String(), "PIPELINE OVERVIEW")
}
