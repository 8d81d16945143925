// Package tui is the bubbletea front end: a chat with the simulated
// patient and a browser over past cases.
package tui

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/neilberkman/casesim/internal/core/models"
	"github.com/neilberkman/casesim/internal/core/orchestrator"
	"github.com/neilberkman/casesim/internal/core/session"
)

type viewMode int

const (
	chatView viewMode = iota
	casesView
	caseDetailView
	helpView
)

// CaseLister reads recorded cases for the browser
type CaseLister interface {
	ListCases(ctx context.Context, f models.CaseFilter) ([]models.CaseRecord, error)
}

type Model struct {
	ctx       context.Context
	orch      *orchestrator.Orchestrator
	store     CaseLister
	user      string
	specialty models.Specialty

	mode     viewMode
	prevMode viewMode
	width    int
	height   int

	// Chat
	input     textinput.Model
	viewport  viewport.Model
	spinner   spinner.Model
	keys      chatKeyMap
	help      help.Model
	busy      string // label of the running operation, empty when idle
	sess      *session.Session
	snap      sessionSnapshot
	similar   bool
	ratio     float64
	final     *orchestrator.FinalizeResult
	stats     *orchestrator.UserStats
	status    string
	lastError error

	// Case browser
	cases       list.Model
	caseItems   []models.CaseRecord
	filter      textinput.Model
	filtering   bool
	currentCase *models.CaseRecord
	detail      viewport.Model
}

// New creates the TUI model for user, opening a case in specialty on Init
func New(ctx context.Context, orch *orchestrator.Orchestrator, store CaseLister, user string, specialty models.Specialty) Model {
	input := textinput.New()
	input.Placeholder = "Digite sua pergunta ou conduta"
	input.CharLimit = 4000
	input.Focus()

	filter := textinput.New()
	filter.Placeholder = "esp:pediatria after:ontem asma"

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = spinnerStyle

	return Model{
		ctx:       ctx,
		orch:      orch,
		store:     store,
		user:      user,
		specialty: specialty,
		mode:      chatView,
		input:     input,
		filter:    filter,
		spinner:   sp,
		keys:      defaultChatKeys(),
		help:      help.New(),
		viewport:  viewport.New(80, 20),
		detail:    viewport.New(80, 20),
		cases:     createCaseList(nil, 80, 20),
		busy:      "Gerando novo caso...",
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		m.spinner.Tick,
		startCase(m.ctx, m.orch, nil, m.user, m.specialty, true),
		loadStats(m.ctx, m.orch, m.user),
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m = m.resize()
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit
		case "f1":
			if m.mode != helpView {
				m.prevMode = m.mode
				m.mode = helpView
			}
			return m, nil
		}

		// Mode-specific key handling
		switch m.mode {
		case chatView:
			return m.updateChat(msg)
		case casesView:
			return m.updateCases(msg)
		case caseDetailView:
			return m.updateCaseDetail(msg)
		case helpView:
			return m.updateHelp(msg)
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case caseStartedMsg:
		m.busy = ""
		if msg.result != nil {
			m.sess = msg.result.Session
			m.snap = msg.snap
			m.similar = msg.result.Similar
			m.ratio = msg.result.Ratio
			m.specialty = m.sess.Specialty()
			m.final = nil
		} else if m.sess != nil {
			m.specialty = m.sess.Specialty()
		}
		m.setError(msg.err)
		m = m.refreshTranscript()
		return m, nil

	case turnDoneMsg:
		m.busy = ""
		m.snap = msg.snap
		m.setError(msg.err)
		m = m.refreshTranscript()
		return m, nil

	case finalizedMsg:
		m.busy = ""
		m.snap = msg.snap
		if msg.err == nil {
			m.final = msg.result
			m.stats = &orchestrator.UserStats{Cases: msg.result.CaseCount, Average: msg.result.Average}
			m.input.Blur()
		} else if errors.Is(msg.err, session.ErrNoFinalAnswer) {
			m.status = "No complete write-up yet. Press ctrl+f to ask again."
			msg.err = nil
		}
		m.setError(msg.err)
		m = m.refreshTranscript()
		return m, loadStats(m.ctx, m.orch, m.user)

	case statsLoadedMsg:
		m.stats = msg.stats
		return m, nil

	case casesLoadedMsg:
		m.caseItems = msg.cases
		m.cases = createCaseList(msg.cases, m.width, m.listHeight())
		return m, nil

	case statusMsg:
		m.status = msg.message
		return m, nil

	case errMsg:
		m.setError(msg.err)
		return m, nil
	}

	// Cursor blink and other input housekeeping
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) setError(err error) {
	m.lastError = err
	if err != nil {
		m.status = ""
	}
}

func (m Model) resize() Model {
	w, h := m.width, m.chatHeight()
	m.viewport.Width = w
	m.viewport.Height = h
	m.input.Width = max(w-4, 10)
	m.help.Width = w
	m.detail.Width = w
	m.detail.Height = max(m.height-4, 3)
	m.cases.SetSize(w, m.listHeight())
	return m.refreshTranscript()
}

func (m Model) chatHeight() int {
	// header, status line, input, footer
	return max(m.height-6, 3)
}

func (m Model) listHeight() int {
	return max(m.height-4, 3)
}

func (m Model) View() string {
	switch m.mode {
	case chatView:
		return m.viewChat()
	case casesView:
		return m.viewCases()
	case caseDetailView:
		return m.viewCaseDetail()
	case helpView:
		return m.viewHelp()
	}

	return fmt.Sprintf("unknown view %d", m.mode)
}
