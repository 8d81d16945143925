package tui

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/x/ansi"
	"github.com/dustin/go-humanize"
	"github.com/muesli/reflow/wordwrap"
	"github.com/neilberkman/casesim/internal/core/models"
)

type caseListItem struct {
	rec models.CaseRecord
}

func (i caseListItem) FilterValue() string {
	return i.rec.Summary
}

func (i caseListItem) Title() string {
	title := strings.Join(strings.Fields(i.rec.Summary), " ")
	if r := []rune(title); len(r) > 80 {
		title = string(r[:80]) + "..."
	}
	if title == "" {
		return i.rec.ID
	}
	return title
}

func (i caseListItem) Description() string {
	grade := "sem nota"
	if i.rec.HasScore() {
		grade = "Nota " + formatScore(*i.rec.Score)
	}
	when := "unknown"
	if !i.rec.CreatedAt.IsZero() {
		when = humanize.Time(i.rec.CreatedAt)
	}
	return fmt.Sprintf("%s | %s | %s", i.rec.Specialty.Label(), grade, when)
}

// Custom delegate so ungraded cases stand out
type caseDelegate struct {
	list.DefaultDelegate
}

func (d caseDelegate) Render(w io.Writer, m list.Model, index int, item list.Item) {
	c, ok := item.(caseListItem)
	if !ok {
		d.DefaultDelegate.Render(w, m, index, item)
		return
	}

	title := c.Title()
	desc := c.Description()

	if index == m.Index() {
		// Selected item
		title = selectedItemStyle.Render(title)
		desc = selectedItemStyle.Faint(true).Render(desc)
	} else {
		title = itemStyle.Render(title)
		if c.rec.HasScore() {
			desc = itemStyle.Render(desc)
		} else {
			desc = itemStyle.Inherit(warnStyle).Render(desc)
		}
	}

	if width := m.Width(); width > 0 {
		title = ansi.Truncate(title, width, "…")
		desc = ansi.Truncate(desc, width, "…")
	}
	fmt.Fprintf(w, "%s\n%s", title, desc)
}

func createCaseList(cases []models.CaseRecord, width, height int) list.Model {
	items := make([]list.Item, len(cases))
	for i, c := range cases {
		items[i] = caseListItem{rec: c}
	}

	delegate := caseDelegate{DefaultDelegate: list.NewDefaultDelegate()}

	l := list.New(items, delegate, width, height-1) // Reserve 1 line for help text only
	l.SetShowStatusBar(false)
	l.SetShowHelp(false)
	l.SetShowTitle(false)
	l.SetFilteringEnabled(false) // Filtering goes through ParseCaseQuery with /

	return l
}

func (m Model) updateCases(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.filtering {
		switch msg.String() {
		case "enter":
			m.filtering = false
			m.filter.Blur()
			return m, loadCases(m.ctx, m.store, m.user, m.filter.Value())
		case "esc":
			m.filtering = false
			m.filter.Blur()
			return m, nil
		}
		var cmd tea.Cmd
		m.filter, cmd = m.filter.Update(msg)
		return m, cmd
	}

	switch msg.String() {
	case "tab", "esc":
		m.mode = chatView
		return m, nil

	case "q":
		return m, tea.Quit

	case "/":
		m.filtering = true
		m.filter.Focus()
		return m, nil

	case "enter":
		if selected, ok := m.cases.SelectedItem().(caseListItem); ok {
			rec := selected.rec
			m.currentCase = &rec
			m.detail.SetContent(renderCaseDetail(rec, max(m.detail.Width, 20)))
			m.detail.GotoTop()
			m.mode = caseDetailView
		}
		return m, nil

	case "y":
		if selected, ok := m.cases.SelectedItem().(caseListItem); ok {
			return m, copyToClipboard(selected.rec.Report)
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.cases, cmd = m.cases.Update(msg)
	return m, cmd
}

func (m Model) viewCases() string {
	header := titleStyle.Render("Casos finalizados") + " " + metaStyle.Render(m.user)
	if q := m.filter.Value(); q != "" && !m.filtering {
		header += " " + metaStyle.Render("filter: "+q)
	}

	helpText := "↑/k up • ↓/j down • enter open • / filter • y copy • tab chat • q quit"
	if m.filtering {
		helpText = m.filter.View()
	} else if m.status != "" {
		helpText = statusStyle.Render(m.status)
	}

	if len(m.caseItems) == 0 {
		return header + "\n\nNo cases found. Finish a case with ctrl+f in the chat.\n\n" + helpText
	}

	return header + "\n" + m.cases.View() + "\n" + helpText
}

func renderCaseDetail(rec models.CaseRecord, width int) string {
	var b strings.Builder
	b.WriteString(sectionStyle.Render("Caso clínico: "+rec.Specialty.Label()) + "\n")
	b.WriteString(metaStyle.Render(fmt.Sprintf("%s | %s | %s", rec.ID, rec.User, rec.CreatedAt.Local().Format("02/01/2006 15:04"))) + "\n")
	if rec.HasScore() {
		b.WriteString(gradeStyle.Render("Nota: "+formatScore(*rec.Score)) + "\n")
	} else {
		b.WriteString(warnStyle.Render("Nota não encontrada") + "\n")
	}
	b.WriteString("\n")

	body := rec.Report
	if strings.TrimSpace(body) == "" {
		body = rec.Summary
	}
	wrapWidth := width - 2
	if wrapWidth < 40 {
		wrapWidth = 40
	}
	b.WriteString(wordwrap.String(body, wrapWidth))
	return b.String()
}

func (m Model) updateCaseDetail(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc", "q":
		m.mode = casesView
		return m, nil
	case "y":
		if m.currentCase != nil {
			return m, copyToClipboard(m.currentCase.Report)
		}
		return m, nil
	case "g":
		m.detail.GotoTop()
		return m, nil
	case "G":
		m.detail.GotoBottom()
		return m, nil
	}

	var cmd tea.Cmd
	m.detail, cmd = m.detail.Update(msg)
	return m, cmd
}

func (m Model) viewCaseDetail() string {
	helpText := "j/k scroll • g/G top/bottom • y copy • esc back"
	if m.status != "" {
		helpText = statusStyle.Render(m.status)
	}
	return m.detail.View() + "\n" + helpStyle.Render(helpText)
}
