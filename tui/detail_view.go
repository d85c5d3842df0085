package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	fieldLabelStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("170")).
			Width(20)

	fieldValueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252"))
)

func (m Model) renderDetailView() string {
	var s strings.Builder

	// Title
	s.WriteString(titleStyle.Render("DEAL DETAIL"))
	s.WriteString("\n\n")

	s.WriteString(m.renderDealDetail())
	s.WriteString("\n")

	if m.status != "" {
		s.WriteString(statusStyle.Render(m.status))
		s.WriteString("\n")
	}

	// Help
	s.WriteString(m.renderDetailHelp())

	return s.String()
}

func (m Model) renderDealDetail() string {
	// Reads the live snapshot so changes from other surfaces show up here.
	deal, ok := m.findDeal(m.selectedID)
	if !ok {
		return fmt.Sprintf("Deal %d is no longer in this surface", m.selectedID)
	}

	var s strings.Builder

	s.WriteString(m.renderField("Title", deal.Title))
	s.WriteString(m.renderField("Company", deal.Company))
	s.WriteString(m.renderField("Contact", deal.ContactName))
	s.WriteString(m.renderField("Email", deal.ContactEmail))
	s.WriteString(m.renderField("Phone", deal.ContactPhone))
	s.WriteString(m.renderField("Stage", string(deal.Stage)))
	s.WriteString(m.renderField("Probability", fmt.Sprintf("%d%%", deal.Probability)))
	s.WriteString(m.renderField("Value", "$"+deal.Value.StringFixed(2)))

	if deal.ExpectedCloseDate != nil {
		s.WriteString(m.renderField("Expected Close", deal.ExpectedCloseDate.Format("2006-01-02")))
	}
	s.WriteString(m.renderField("Lead Source", deal.LeadSource))
	s.WriteString(m.renderField("Industry", deal.Industry))
	s.WriteString(m.renderField("Competitors", deal.Competitors))
	s.WriteString(m.renderField("Next Steps", deal.NextSteps))

	if deal.Notes != "" {
		s.WriteString("\n")
		s.WriteString(lipgloss.NewStyle().Bold(true).Render("NOTES"))
		s.WriteString("\n")
		s.WriteString(deal.Notes)
		s.WriteString("\n")
	}

	return s.String()
}

func (m Model) renderField(label, value string) string {
	if value == "" {
		value = "-"
	}
	return fmt.Sprintf("%s %s\n",
		fieldLabelStyle.Render(label+":"),
		fieldValueStyle.Render(value))
}

func (m Model) renderDetailHelp() string {
	help := []string{
		"Esc: Back",
		"[/]: Move stage",
		"d: Delete",
		"q: Quit",
	}
	return helpStyle.Render(strings.Join(help, " • "))
}

func (m Model) handleDetailKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.viewMode = ViewBoard
	case "]", "[":
		// Stage moves act on the deal being shown.
		if i := m.indexOf(m.selectedID); i >= 0 {
			m.selectedRow = i
			if msg.String() == "]" {
				return m.moveStage(nextStage)
			}
			return m.moveStage(prevStage)
		}
	case "d":
		if _, ok := m.findDeal(m.selectedID); ok {
			m.viewMode = ViewConfirmDelete
		}
	}

	return m, nil
}

func (m Model) indexOf(id int64) int {
	for i, d := range m.visible() {
		if d.ID == id {
			return i
		}
	}
	return -1
}
