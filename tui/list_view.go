// ABOUTME: Board view with funnel, opportunity cards and deals table
// ABOUTME: Handles navigation and optimistic stage moves on the active surface
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/harperreed/embudo/models"
)

var (
	columnStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(0, 1)

	columnTitleStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("170"))

	cardStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1).
			Width(34)

	cardSelectedStyle = cardStyle.
				BorderForeground(lipgloss.Color("170"))

	selectedLineStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("170")).
				Bold(true)
)

func (m Model) renderBoardView() string {
	var s strings.Builder

	// Title
	s.WriteString(titleStyle.Render("EMBUDO"))
	s.WriteString("\n\n")

	// Tabs
	s.WriteString(m.renderTabs())
	s.WriteString("\n\n")

	switch m.tab {
	case TabFunnel:
		s.WriteString(m.renderFunnel())
	case TabOpportunities:
		s.WriteString(m.renderOpportunities())
	case TabDeals:
		s.WriteString(m.renderDealsTable())
	}
	s.WriteString("\n")

	if m.status != "" {
		if m.err != nil {
			s.WriteString(errorStyle.Render(m.status))
		} else {
			s.WriteString(statusStyle.Render(m.status))
		}
		s.WriteString("\n")
	}

	// Help
	s.WriteString(m.renderBoardHelp())

	return s.String()
}

func (m Model) renderTabs() string {
	var rendered []string

	for i, name := range tabNames {
		if i >= len(m.surfaces) {
			break
		}
		label := fmt.Sprintf("%s (%d)", name, len(m.deals[i]))
		if Tab(i) == m.tab {
			rendered = append(rendered, tabActiveStyle.Render(label))
		} else {
			rendered = append(rendered, tabInactiveStyle.Render(label))
		}
	}

	return lipgloss.JoinHorizontal(lipgloss.Top, rendered...)
}

// renderFunnel draws one column per stage.
func (m Model) renderFunnel() string {
	selected, hasSelection := m.selected()

	colWidth := (m.width - 2) / len(models.Stages())
	if colWidth < 14 {
		colWidth = 14
	}

	var columns []string
	for _, st := range models.Stages() {
		var lines []string
		total := 0
		for _, d := range m.deals[m.tab] {
			if d.Stage != st {
				continue
			}
			total++
			line := truncate(d.Title, colWidth-4)
			if hasSelection && d.ID == selected.ID {
				line = selectedLineStyle.Render("▸ " + line)
			} else {
				line = "  " + line
			}
			lines = append(lines, line, fmt.Sprintf("  $%s", d.Value.StringFixed(0)))
		}
		header := columnTitleStyle.Render(fmt.Sprintf("%s (%d)", st, total))
		body := append([]string{header, ""}, lines...)
		columns = append(columns, columnStyle.Width(colWidth).Render(strings.Join(body, "\n")))
	}

	return lipgloss.JoinHorizontal(lipgloss.Top, columns...)
}

// renderOpportunities draws one card per deal.
func (m Model) renderOpportunities() string {
	deals := m.visible()
	if len(deals) == 0 {
		return "No opportunities"
	}

	var cards []string
	for i, d := range deals {
		body := fmt.Sprintf("%s\n%s\n%s · %d%%\n$%s",
			lipgloss.NewStyle().Bold(true).Render(truncate(d.Title, 30)),
			truncate(d.Company, 30),
			d.Stage, d.Probability,
			d.Value.StringFixed(2))
		if d.ContactName != "" {
			body += "\n" + truncate(d.ContactName, 30)
		}
		style := cardStyle
		if i == m.selectedRow {
			style = cardSelectedStyle
		}
		cards = append(cards, style.Render(body))
	}

	// Two or three cards per row depending on width.
	perRow := m.width / 38
	if perRow < 1 {
		perRow = 1
	}
	var rows []string
	for i := 0; i < len(cards); i += perRow {
		end := i + perRow
		if end > len(cards) {
			end = len(cards)
		}
		rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Top, cards[i:end]...))
	}
	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}

func (m Model) renderDealsTable() string {
	deals := m.visible()

	columns := []table.Column{
		{Title: "ID", Width: 5},
		{Title: "Title", Width: 28},
		{Title: "Company", Width: 20},
		{Title: "Stage", Width: 14},
		{Title: "Prob", Width: 5},
		{Title: "Value", Width: 12},
	}

	var rows []table.Row
	for _, d := range deals {
		rows = append(rows, table.Row{
			fmt.Sprintf("%d", d.ID),
			d.Title,
			d.Company,
			string(d.Stage),
			fmt.Sprintf("%d%%", d.Probability),
			d.Value.StringFixed(2),
		})
	}

	height := m.height - 12
	if height < 5 {
		height = 5
	}
	t := table.New(
		table.WithColumns(columns),
		table.WithRows(rows),
		table.WithFocused(true),
		table.WithHeight(height),
	)

	if m.selectedRow < len(rows) {
		t.SetCursor(m.selectedRow)
	}

	return t.View()
}

func (m Model) renderBoardHelp() string {
	help := []string{
		"↑/↓: Navigate",
		"Tab: Switch surface",
		"[/]: Move stage",
		"l: Mark lost",
		"Enter: Details",
		"g: Graph",
		"d: Delete",
		"r: Reload",
		"q: Quit",
	}
	return helpStyle.Render(strings.Join(help, " • "))
}

func (m Model) handleBoardKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if len(m.surfaces) == 0 {
		return m, nil
	}

	switch msg.String() {
	case "up", "k":
		if m.selectedRow > 0 {
			m.selectedRow--
		}
	case "down", "j":
		if m.selectedRow < len(m.visible())-1 {
			m.selectedRow++
		}
	case "tab":
		m.tab = (m.tab + 1) % Tab(len(m.surfaces))
		m.selectedRow = 0
		m.status = ""
	case "shift+tab":
		m.tab = (m.tab + Tab(len(m.surfaces)) - 1) % Tab(len(m.surfaces))
		m.selectedRow = 0
		m.status = ""
	case "]":
		return m.moveStage(nextStage)
	case "[":
		return m.moveStage(prevStage)
	case "l":
		return m.moveStage(func(models.Stage) (models.Stage, bool) { return models.StageLost, true })
	case "enter":
		if d, ok := m.selected(); ok {
			m.selectedID = d.ID
			m.viewMode = ViewDetail
		}
	case "g":
		m.viewMode = ViewGraph
		cmd := m.generateGraph()
		return m, cmd
	case "d":
		if d, ok := m.selected(); ok {
			m.selectedID = d.ID
			m.viewMode = ViewConfirmDelete
		}
	case "r":
		if s := m.surface(); s != nil {
			m.deals[m.tab] = s.Deals()
			m.clampSelection()
			m.status = "Reloaded"
			m.err = nil
		}
	}

	return m, nil
}

// nextStage advances an open deal; won and lost stay put.
func nextStage(st models.Stage) (models.Stage, bool) {
	if st.Terminal() {
		return st, false
	}
	return st.Next()
}

// prevStage moves back one stage; a closed deal reopens at closing.
func prevStage(st models.Stage) (models.Stage, bool) {
	if st.Terminal() {
		return models.StageClosing, true
	}
	return st.Prev()
}

// moveStage starts an optimistic stage change on the selected deal. The
// surface shows the new stage immediately and the board follows its
// snapshots; the command only reports the outcome.
func (m Model) moveStage(target func(models.Stage) (models.Stage, bool)) (tea.Model, tea.Cmd) {
	d, ok := m.selected()
	s := m.surface()
	if !ok || s == nil {
		return m, nil
	}
	to, ok := target(d.Stage)
	if !ok || to == d.Stage {
		m.status = fmt.Sprintf("%s stays in %s", d.Title, d.Stage)
		m.err = nil
		return m, nil
	}

	ctx := m.ctx
	id, title := d.ID, d.Title
	return m, func() tea.Msg {
		moved, err := s.ChangeStage(ctx, id, to)
		if err != nil {
			return mutationDoneMsg{err: fmt.Errorf("%s: %w", title, err)}
		}
		return mutationDoneMsg{status: fmt.Sprintf("✓ %s → %s (%d%%)", moved.Title, moved.Stage, moved.Probability)}
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if n <= 1 || len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
