package tui

import (
	"context"
	"strings"

	"github.com/atotto/clipboard"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/neilberkman/casesim/internal/core/models"
	"github.com/neilberkman/casesim/internal/core/orchestrator"
	"github.com/neilberkman/casesim/internal/core/session"
)

type errMsg struct {
	err error
}

// sessionSnapshot is what the view may read of a session; the session
// itself is only touched inside commands.
type sessionSnapshot struct {
	history []models.Message
	state   session.State
}

func snapshot(s *session.Session) sessionSnapshot {
	if s == nil {
		return sessionSnapshot{}
	}
	return sessionSnapshot{history: s.History(), state: s.State()}
}

type caseStartedMsg struct {
	result *orchestrator.StartResult
	snap   sessionSnapshot
	err    error
}

type turnDoneMsg struct {
	snap sessionSnapshot
	err  error
}

type finalizedMsg struct {
	result *orchestrator.FinalizeResult
	snap   sessionSnapshot
	err    error
}

type statsLoadedMsg struct {
	stats *orchestrator.UserStats
}

type casesLoadedMsg struct {
	cases []models.CaseRecord
}

type statusMsg struct {
	message string
}

func startCase(ctx context.Context, orch *orchestrator.Orchestrator, current *session.Session, user string, specialty models.Specialty, fresh bool) tea.Cmd {
	return func() tea.Msg {
		var res *orchestrator.StartResult
		var err error
		if fresh || current == nil {
			res, err = orch.StartNewCase(ctx, user, specialty)
		} else {
			res, err = orch.SwitchSpecialty(ctx, current, user, specialty)
		}
		msg := caseStartedMsg{result: res, err: err}
		if res != nil {
			msg.snap = snapshot(res.Session)
		}
		return msg
	}
}

func submitTurn(ctx context.Context, orch *orchestrator.Orchestrator, s *session.Session, text string) tea.Cmd {
	return func() tea.Msg {
		err := orch.SubmitTurn(ctx, s, text)
		return turnDoneMsg{snap: snapshot(s), err: err}
	}
}

func awaitCompletion(ctx context.Context, s *session.Session) tea.Cmd {
	return func() tea.Msg {
		err := s.AwaitCompletion(ctx)
		return turnDoneMsg{snap: snapshot(s), err: err}
	}
}

func finalizeCase(ctx context.Context, orch *orchestrator.Orchestrator, s *session.Session, user string) tea.Cmd {
	return func() tea.Msg {
		res, err := orch.FinalizeCase(ctx, s, user)
		return finalizedMsg{result: res, snap: snapshot(s), err: err}
	}
}

func loadStats(ctx context.Context, orch *orchestrator.Orchestrator, user string) tea.Cmd {
	return func() tea.Msg {
		st, err := orch.Stats(ctx, user)
		if err != nil {
			return errMsg{err}
		}
		return statsLoadedMsg{stats: st}
	}
}

// loadCases lists the student's cases matching query (see ParseCaseQuery)
func loadCases(ctx context.Context, store CaseLister, user, query string) tea.Cmd {
	return func() tea.Msg {
		f := ParseCaseQuery(query)
		cases, err := store.ListCases(ctx, f.Filter(user, 500))
		if err != nil {
			return errMsg{err}
		}
		if f.Query == "" {
			return casesLoadedMsg{cases: cases}
		}

		text := models.FoldKey(f.Query)
		var matched []models.CaseRecord
		for _, c := range cases {
			if strings.Contains(models.FoldKey(c.Summary+" "+c.Report), text) {
				matched = append(matched, c)
			}
		}
		return casesLoadedMsg{cases: matched}
	}
}

func copyToClipboard(text string) tea.Cmd {
	return func() tea.Msg {
		if err := clipboard.WriteAll(text); err != nil {
			return statusMsg{message: "Copy failed: " + err.Error()}
		}
		return statusMsg{message: "Write-up copied to clipboard!"}
	}
}
