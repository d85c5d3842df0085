// ABOUTME: Terminal User Interface using bubbletea framework
// ABOUTME: Each tab is its own mounted surface; changes in one tab reach the others over the bus
package tui

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/harperreed/embudo/models"
)

// ViewMode represents the current TUI view
type ViewMode int

const (
	ViewBoard ViewMode = iota
	ViewDetail
	ViewGraph
	ViewConfirmDelete
)

// Tab is one of the board's surfaces.
type Tab int

const (
	TabFunnel Tab = iota
	TabOpportunities
	TabDeals
)

var tabNames = []string{"Funnel", "Opportunities", "Deals"}

// Surface is a mounted replica controller.
type Surface interface {
	Name() string
	Deals() []models.Deal
	ChangeStage(ctx context.Context, id int64, stage models.Stage) (models.Deal, error)
	Delete(ctx context.Context, id int64) error
	Subscribe(listener func([]models.Deal)) func()
}

// dealsChangedMsg carries a surface's snapshot after any change.
type dealsChangedMsg struct {
	tab   Tab
	deals []models.Deal
}

// mutationDoneMsg reports the outcome of a write started from the board.
type mutationDoneMsg struct {
	status string
	err    error
}

// Model is the main bubbletea model
type Model struct {
	ctx      context.Context
	surfaces []Surface
	deals    [][]models.Deal
	tab      Tab
	viewMode ViewMode

	selectedRow int
	selectedID  int64
	graphDOT    string

	status string
	err    error

	width  int
	height int
}

// NewModel creates a new TUI model. surfaces are indexed by Tab.
func NewModel(ctx context.Context, surfaces []Surface) Model {
	m := Model{
		ctx:      ctx,
		surfaces: surfaces,
		deals:    make([][]models.Deal, len(surfaces)),
		viewMode: ViewBoard,
		width:    100,
		height:   30,
	}
	for i, s := range surfaces {
		m.deals[i] = s.Deals()
	}
	return m
}

// Run shows the board until the user quits. Every surface notifies the
// program on change.
func Run(ctx context.Context, surfaces []Surface) error {
	p := tea.NewProgram(NewModel(ctx, surfaces), tea.WithAltScreen(), tea.WithContext(ctx))

	for i, s := range surfaces {
		tab := Tab(i)
		unsubscribe := s.Subscribe(func(deals []models.Deal) {
			p.Send(dealsChangedMsg{tab: tab, deals: deals})
		})
		defer unsubscribe()
	}

	_, err := p.Run()
	return err
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyPress(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil
	case dealsChangedMsg:
		if int(msg.tab) < len(m.deals) {
			m.deals[msg.tab] = msg.deals
		}
		m.clampSelection()
		return m, nil
	case graphReadyMsg:
		m.graphDOT = msg.dot
		m.err = msg.err
		return m, nil
	case mutationDoneMsg:
		m.err = msg.err
		if msg.err != nil {
			m.status = "Error: " + msg.err.Error()
		} else {
			m.status = msg.status
		}
		return m, nil
	}
	return m, nil
}

func (m Model) View() string {
	switch m.viewMode {
	case ViewBoard:
		return m.renderBoardView()
	case ViewDetail:
		return m.renderDetailView()
	case ViewGraph:
		return m.renderGraphView()
	case ViewConfirmDelete:
		return m.renderConfirmDeleteView()
	}
	return ""
}

func (m Model) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	}

	// Delegate to view-specific handlers
	switch m.viewMode {
	case ViewBoard:
		return m.handleBoardKeys(msg)
	case ViewDetail:
		return m.handleDetailKeys(msg)
	case ViewGraph:
		return m.handleGraphKeys(msg)
	case ViewConfirmDelete:
		return m.handleConfirmDeleteKeys(msg)
	}

	return m, nil
}

func (m Model) surface() Surface {
	if int(m.tab) >= len(m.surfaces) {
		return nil
	}
	return m.surfaces[m.tab]
}

// visible returns the current tab's deals in display order.
func (m Model) visible() []models.Deal {
	if int(m.tab) >= len(m.deals) {
		return nil
	}
	if m.tab == TabFunnel {
		return byStage(m.deals[m.tab])
	}
	return m.deals[m.tab]
}

func (m Model) selected() (models.Deal, bool) {
	deals := m.visible()
	if m.selectedRow < 0 || m.selectedRow >= len(deals) {
		return models.Deal{}, false
	}
	return deals[m.selectedRow], true
}

func (m Model) findDeal(id int64) (models.Deal, bool) {
	for _, d := range m.visible() {
		if d.ID == id {
			return d, true
		}
	}
	return models.Deal{}, false
}

func (m *Model) clampSelection() {
	n := len(m.visible())
	if m.selectedRow >= n {
		m.selectedRow = n - 1
	}
	if m.selectedRow < 0 {
		m.selectedRow = 0
	}
}

// byStage orders deals by pipeline stage, keeping surface order within a
// stage.
func byStage(deals []models.Deal) []models.Deal {
	out := make([]models.Deal, 0, len(deals))
	for _, st := range models.Stages() {
		for _, d := range deals {
			if d.Stage == st {
				out = append(out, d)
			}
		}
	}
	return out
}

// Styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("170")).
			MarginBottom(1)

	tabActiveStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("170")).
			Background(lipgloss.Color("235")).
			Padding(0, 2)

	tabInactiveStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("240")).
				Padding(0, 2)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			MarginTop(1)

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9"))
)
