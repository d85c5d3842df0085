package tui

import (
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/harperreed/embudo/viz"
)

// graphReadyMsg carries rendered DOT source.
type graphReadyMsg struct {
	dot string
	err error
}

func (m Model) renderGraphView() string {
	var s strings.Builder

	// Title
	s.WriteString(titleStyle.Render("PIPELINE GRAPH"))
	s.WriteString("\n\n")

	switch {
	case m.err != nil && m.graphDOT == "":
		s.WriteString(errorStyle.Render("Error: " + m.err.Error()))
	case m.graphDOT == "":
		s.WriteString("Generating graph...\n")
	default:
		s.WriteString(viz.RenderDashboard(viz.ComputeStats(m.visible())))
		s.WriteString("\n")
		s.WriteString(lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")).
			Render(m.graphDOT))
	}

	s.WriteString("\n\n")

	// Help
	s.WriteString(m.renderGraphHelp())

	return s.String()
}

func (m Model) renderGraphHelp() string {
	help := []string{
		"Esc: Back",
		"q: Quit",
	}
	return helpStyle.Render(strings.Join(help, " • "))
}

func (m Model) handleGraphKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.viewMode = ViewBoard
		m.graphDOT = ""
	}

	return m, nil
}

func (m *Model) generateGraph() tea.Cmd {
	ctx := m.ctx
	deals := m.visible()
	m.graphDOT = ""
	return func() tea.Msg {
		dot, err := viz.GeneratePipelineGraph(ctx, deals)
		return graphReadyMsg{dot: dot, err: err}
	}
}
