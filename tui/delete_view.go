// ABOUTME: Delete confirmation view for TUI
// ABOUTME: Deletes the selected deal through its surface after a confirmation dialog
package tui

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	confirmBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("9")).
			Padding(1, 2).
			Width(60).
			Align(lipgloss.Center)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true)

	confirmButtonStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("15")).
				Background(lipgloss.Color("9")).
				Padding(0, 2).
				MarginRight(2)

	cancelButtonStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("15")).
				Background(lipgloss.Color("8")).
				Padding(0, 2)
)

func (m Model) renderConfirmDeleteView() string {
	deal, ok := m.findDeal(m.selectedID)
	if !ok {
		return fmt.Sprintf("Deal %d is no longer in this surface (esc to go back)", m.selectedID)
	}

	title := warningStyle.Render("⚠  DELETE CONFIRMATION  ⚠")
	message := "Are you sure you want to delete this opportunity?"
	entityInfo := fmt.Sprintf("\n%s · %s · $%s\n", deal.Title, deal.Stage, deal.Value.StringFixed(2))
	warning := "\nEvery open surface will drop it. This action cannot be undone!"

	buttons := lipgloss.JoinHorizontal(
		lipgloss.Left,
		confirmButtonStyle.Render("Yes, Delete (y)"),
		cancelButtonStyle.Render("Cancel (n/esc)"),
	)

	content := lipgloss.JoinVertical(
		lipgloss.Center,
		title,
		"",
		message,
		entityInfo,
		warning,
		"",
		buttons,
	)

	box := confirmBoxStyle.Render(content)

	// Center the box on screen
	return lipgloss.Place(
		m.width,
		m.height,
		lipgloss.Center,
		lipgloss.Center,
		box,
	)
}

func (m Model) handleConfirmDeleteKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "y", "Y":
		s := m.surface()
		deal, ok := m.findDeal(m.selectedID)
		m.viewMode = ViewBoard
		if s == nil || !ok {
			return m, nil
		}
		ctx := m.ctx
		return m, func() tea.Msg {
			if err := s.Delete(ctx, deal.ID); err != nil {
				return mutationDoneMsg{err: err}
			}
			return mutationDoneMsg{status: fmt.Sprintf("✓ Deleted %s", deal.Title)}
		}
	case "n", "N", "esc":
		m.viewMode = ViewBoard
	}

	return m, nil
}
