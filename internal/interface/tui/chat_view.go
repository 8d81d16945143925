package tui

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/neilberkman/casesim/internal/core/models"
	"github.com/neilberkman/casesim/internal/core/orchestrator"
	"github.com/neilberkman/casesim/internal/core/session"
)

func (m Model) updateChat(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	k := m.keys
	switch {
	case key.Matches(msg, k.Quit):
		return m, tea.Quit

	case key.Matches(msg, k.Cases):
		m.mode = casesView
		return m, loadCases(m.ctx, m.store, m.user, m.filter.Value())

	case key.Matches(msg, k.Scroll):
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}

	// Everything below starts remote work
	if m.busy != "" {
		return m, nil
	}

	switch {
	case key.Matches(msg, k.NewCase):
		return m.begin("Gerando novo caso...", startCase(m.ctx, m.orch, m.sess, m.user, m.specialty, true))

	case key.Matches(msg, k.Specialty):
		next := nextSpecialty(m.specialty)
		m.specialty = next
		return m.begin("Gerando novo caso...", startCase(m.ctx, m.orch, m.sess, m.user, next, false))

	case key.Matches(msg, k.Finalize):
		if m.sess == nil {
			return m, nil
		}
		if m.snap.state == session.Finalized && m.final != nil {
			return m, nil
		}
		return m.begin("Gerando relatório final...", finalizeCase(m.ctx, m.orch, m.sess, m.user))

	case key.Matches(msg, k.Retry):
		if m.sess == nil {
			return m, nil
		}
		switch m.snap.state {
		case session.AwaitingAssistant:
			return m.begin("Processando...", awaitCompletion(m.ctx, m.sess))
		case session.AwaitingFinal:
			return m.begin("Gerando relatório final...", finalizeCase(m.ctx, m.orch, m.sess, m.user))
		}
		return m, nil

	case key.Matches(msg, k.Copy):
		if m.final != nil {
			return m, copyToClipboard(m.final.Report)
		}
		return m, nil

	case msg.String() == "y" && m.final != nil && !m.input.Focused():
		// The input is blurred once a case is closed
		return m, copyToClipboard(m.final.Report)

	case key.Matches(msg, k.Send):
		text := strings.TrimSpace(m.input.Value())
		if text == "" || m.sess == nil || m.snap.state != session.ReadyForInput {
			return m, nil
		}
		m.input.Reset()
		// Show the turn right away; the next snapshot replaces it
		m.snap.history = append(m.snap.history, models.Message{Role: models.RoleUser, Kind: models.KindVisible, Text: text})
		m = m.refreshTranscript()
		return m.begin("Processando...", submitTurn(m.ctx, m.orch, m.sess, text))
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) begin(label string, cmd tea.Cmd) (tea.Model, tea.Cmd) {
	m.busy = label
	m.status = ""
	m.lastError = nil
	return m, tea.Batch(cmd, m.spinner.Tick)
}

func nextSpecialty(current models.Specialty) models.Specialty {
	for i, sp := range models.Specialties {
		if sp == current {
			return models.Specialties[(i+1)%len(models.Specialties)]
		}
	}
	return models.Specialties[0]
}

// refreshTranscript re-renders the conversation into the viewport and scrolls to the end
func (m Model) refreshTranscript() Model {
	m.viewport.SetContent(renderTranscript(m.snap.history, m.final, max(m.viewport.Width, 20)))
	m.viewport.GotoBottom()
	if m.final == nil && !m.input.Focused() {
		m.input.Focus()
	}
	return m
}

func renderTranscript(history []models.Message, final *orchestrator.FinalizeResult, width int) string {
	wrap := wrapStyle(width)
	var b strings.Builder

	openingShown := false
	for _, msg := range history {
		ts := ""
		if !msg.CreatedAt.IsZero() {
			ts = " " + timestampStyle.Render(msg.CreatedAt.Local().Format("15:04"))
		}

		switch {
		case msg.Role == models.RoleAssistant && !openingShown:
			openingShown = true
			b.WriteString(sectionStyle.Render("Identificação do Paciente") + ts + "\n")
			b.WriteString(wrap.Inherit(openingStyle).Render(msg.Text))
		case msg.Role == models.RoleAssistant:
			b.WriteString(assistantStyle.Render("Paciente") + ts + "\n")
			b.WriteString(wrap.Render(msg.Text))
		default:
			b.WriteString(userStyle.Render("Médico") + ts + "\n")
			b.WriteString(wrap.Render(msg.Text))
		}
		b.WriteString("\n\n")
	}

	if final != nil {
		b.WriteString(sectionStyle.Render("Resultado Final") + "\n")
		switch {
		case !final.GradeFound:
			b.WriteString(warnStyle.Render("Nota não encontrada."))
		case final.OutOfRange:
			b.WriteString(warnStyle.Render("Nota: " + formatScore(*final.Score) + " (outside 0-10, recorded as given)"))
		default:
			b.WriteString(gradeStyle.Render("Nota: " + formatScore(*final.Score)))
		}
		b.WriteString("\n")
		b.WriteString(metaStyle.Render(fmt.Sprintf("Casos finalizados: %d | Média global: %s", final.CaseCount, formatScore(final.Average))))
	}

	return b.String()
}

func wrapStyle(width int) lipgloss.Style {
	return lipgloss.NewStyle().Width(width)
}

func formatScore(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func (m Model) viewChat() string {
	var b strings.Builder

	header := titleStyle.Render("casesim") + " " +
		metaStyle.Render(fmt.Sprintf("%s | %s", m.user, m.specialty.Label()))
	if m.stats != nil {
		header += metaStyle.Render(fmt.Sprintf(" | Casos: %d | Média: %s", m.stats.Cases, formatScore(m.stats.Average)))
	}
	b.WriteString(header)
	b.WriteString("\n")

	b.WriteString(m.viewport.View())
	b.WriteString("\n")

	switch {
	case m.busy != "":
		b.WriteString(m.spinner.View() + " " + m.busy)
	case m.lastError != nil:
		hint := ""
		if session.IsRetryable(m.lastError) && m.snap.state != session.ReadyForInput {
			hint = " (ctrl+r to retry)"
		}
		b.WriteString(errorStyle.Render("Error: " + m.lastError.Error() + hint))
	case m.status != "":
		b.WriteString(statusStyle.Render(m.status))
	case m.similar:
		b.WriteString(warnStyle.Render(fmt.Sprintf("This case looks like one you already did (%.0f%% similar). ctrl+n for another.", m.ratio*100)))
	}
	b.WriteString("\n")

	b.WriteString(m.input.View())
	b.WriteString("\n")
	if m.final != nil {
		b.WriteString(m.help.ShortHelpView(m.keys.closedCaseKeys()))
	} else {
		b.WriteString(m.help.View(m.keys))
	}
	return b.String()
}
