package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/neilberkman/casesim/internal/core/db"
	"github.com/neilberkman/casesim/internal/core/llm"
	"github.com/neilberkman/casesim/internal/core/orchestrator"
	"github.com/neilberkman/casesim/internal/core/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedProvider struct {
	mu      sync.Mutex
	replies []string
}

func (p *scriptedProvider) GenerateText(ctx context.Context, prompt string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.replies) == 0 {
		return "", errors.New("no scripted reply left")
	}
	r := p.replies[0]
	p.replies = p.replies[1:]
	return r, nil
}

func (p *scriptedProvider) Name() string { return "scripted" }

// gatedProvider answers the first call at once and every later call only
// after gate is closed
type gatedProvider struct {
	scriptedProvider
	gate  chan struct{}
	calls atomic.Int32
}

func (p *gatedProvider) GenerateText(ctx context.Context, prompt string) (string, error) {
	if p.calls.Add(1) > 1 {
		select {
		case <-p.gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return p.scriptedProvider.GenerateText(ctx, prompt)
}

func newTestServer(t *testing.T, replies ...string) *Server {
	t.Helper()
	return newServerWith(t, &scriptedProvider{replies: replies}, session.PollPolicy{Interval: time.Millisecond, MaxWait: 5 * time.Second})
}

func newServerWith(t *testing.T, provider llm.Provider, poll session.PollPolicy) *Server {
	t.Helper()
	database, err := db.New(filepath.Join(t.TempDir(), "cases.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	orch := orchestrator.New(llm.NewLocalThreads(provider, nil), database, orchestrator.Config{
		OpeningTemplate: "Caso para {{user}} em {{specialty}}.",
		FinalTemplate:   "Finalize o caso.",
		SectionMarkers:  []string{"prontuário"},
		Poll:            poll,
		Logger:          orchestrator.QuietLogger(),
	})
	return NewServer(orch, database, "ana")
}

func call(t *testing.T, handler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error), args map[string]any) (string, bool) {
	t.Helper()
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	res, err := handler(context.Background(), req)
	require.NoError(t, err)
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content")
	return text.Text, res.IsError
}

func TestToolsRunFullCase(t *testing.T) {
	srv := newTestServer(t,
		"Olá doutor, sou Pedro, 6 anos, com tosse há uma semana.",
		"A tosse piora à noite.",
		"Prontuário\nDiagnóstico: asma.\nNota: 8/10",
	)

	out, isErr := call(t, srv.handleStartCase, map[string]any{"specialty": "pediatria"})
	require.False(t, isErr, out)
	var started CaseStarted
	require.NoError(t, json.Unmarshal([]byte(out), &started))
	assert.NotEmpty(t, started.SessionID)
	assert.Equal(t, "Pediatria", started.Specialty)
	assert.Contains(t, started.Opening, "Pedro")
	assert.Equal(t, 1, started.Attempts)

	out, isErr = call(t, srv.handleSubmitTurn, map[string]any{"session_id": started.SessionID, "text": "Quando a tosse piora?"})
	require.False(t, isErr, out)
	var turn TurnResult
	require.NoError(t, json.Unmarshal([]byte(out), &turn))
	require.Len(t, turn.Messages, 1)
	assert.Equal(t, "A tosse piora à noite.", turn.Messages[0].Content)
	assert.Equal(t, "ready", turn.State)

	out, isErr = call(t, srv.handleCaseHistory, map[string]any{"session_id": started.SessionID})
	require.False(t, isErr, out)
	var hist TurnResult
	require.NoError(t, json.Unmarshal([]byte(out), &hist))
	assert.Len(t, hist.Messages, 3)

	out, isErr = call(t, srv.handleFinalizeCase, map[string]any{"session_id": started.SessionID})
	require.False(t, isErr, out)
	var closed CaseClosed
	require.NoError(t, json.Unmarshal([]byte(out), &closed))
	require.NotNil(t, closed.Score)
	assert.InDelta(t, 8.0, *closed.Score, 1e-9)
	assert.Equal(t, 1, closed.CaseCount)

	// Closed sessions are forgotten
	_, isErr = call(t, srv.handleCaseHistory, map[string]any{"session_id": started.SessionID})
	assert.True(t, isErr)

	out, isErr = call(t, srv.handleListCases, map[string]any{"specialty": "pediatria"})
	require.False(t, isErr, out)
	var listed struct {
		Cases []CaseSummary `json:"cases"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &listed))
	require.Len(t, listed.Cases, 1)
	assert.Equal(t, closed.CaseID, listed.Cases[0].CaseID)

	out, isErr = call(t, srv.handleUserStats, nil)
	require.False(t, isErr, out)
	assert.Contains(t, out, `"graded":1`)
}

func TestToolsRejectBadInput(t *testing.T) {
	srv := newTestServer(t)

	out, isErr := call(t, srv.handleStartCase, map[string]any{"specialty": "dermatologia"})
	assert.True(t, isErr)
	assert.NotEmpty(t, out)

	_, isErr = call(t, srv.handleSubmitTurn, map[string]any{"session_id": "missing", "text": "oi"})
	assert.True(t, isErr)

	out, isErr = call(t, srv.handleListCases, map[string]any{"after_date": "ontem à tarde"})
	assert.True(t, isErr)
	assert.Contains(t, out, "invalid date")
}

func TestFinalizeWithoutAnswerIsRetryable(t *testing.T) {
	srv := newTestServer(t,
		"Olá, sou Joana.",
		"Não sei responder.",
		"Prontuário\nDiagnóstico: enxaqueca.\nNota: 7",
	)

	out, isErr := call(t, srv.handleStartCase, nil)
	require.False(t, isErr, out)
	var started CaseStarted
	require.NoError(t, json.Unmarshal([]byte(out), &started))
	assert.Equal(t, "PSF", started.Specialty)

	out, isErr = call(t, srv.handleFinalizeCase, map[string]any{"session_id": started.SessionID})
	require.True(t, isErr)
	assert.Contains(t, out, "retryable")

	out, isErr = call(t, srv.handleFinalizeCase, map[string]any{"session_id": started.SessionID})
	require.False(t, isErr, out)
	var closed CaseClosed
	require.NoError(t, json.Unmarshal([]byte(out), &closed))
	require.NotNil(t, closed.Score)
	assert.InDelta(t, 7.0, *closed.Score, 1e-9)
}

func TestSubmitTurnRefusesNewTextWhileReplyPending(t *testing.T) {
	provider := &gatedProvider{
		scriptedProvider: scriptedProvider{replies: []string{"Olá, sou Rita.", "Dói há dois dias."}},
		gate:             make(chan struct{}),
	}
	srv := newServerWith(t, provider, session.PollPolicy{Interval: time.Millisecond, MaxWait: 20 * time.Millisecond})

	out, isErr := call(t, srv.handleStartCase, nil)
	require.False(t, isErr, out)
	var started CaseStarted
	require.NoError(t, json.Unmarshal([]byte(out), &started))

	out, isErr = call(t, srv.handleSubmitTurn, map[string]any{"session_id": started.SessionID, "text": "Onde dói?"})
	require.True(t, isErr)
	assert.Contains(t, out, "retryable")

	// A new turn is not silently dropped
	out, isErr = call(t, srv.handleSubmitTurn, map[string]any{"session_id": started.SessionID, "text": "Há quanto tempo?"})
	require.True(t, isErr)
	assert.Contains(t, out, "still pending")

	close(provider.gate)
	out, isErr = call(t, srv.handleSubmitTurn, map[string]any{"session_id": started.SessionID})
	require.False(t, isErr, out)
	var turn TurnResult
	require.NoError(t, json.Unmarshal([]byte(out), &turn))
	require.Len(t, turn.Messages, 1)
	assert.Equal(t, "Dói há dois dias.", turn.Messages[0].Content)
	assert.Equal(t, "ready", turn.State)

	out, isErr = call(t, srv.handleCaseHistory, map[string]any{"session_id": started.SessionID})
	require.False(t, isErr, out)
	assert.NotContains(t, out, "Há quanto tempo?")
}

func TestParseDate(t *testing.T) {
	got, err := parseDate("2025-03-01")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), got)

	got, err = parseDate("")
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	_, err = parseDate("01/03/2025")
	assert.Error(t, err)
}
