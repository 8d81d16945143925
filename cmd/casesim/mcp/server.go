package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/neilberkman/casesim/internal/core/models"
	"github.com/neilberkman/casesim/internal/core/orchestrator"
	"github.com/neilberkman/casesim/internal/core/session"
)

// StartCaseArgs defines arguments for the start_case tool
type StartCaseArgs struct {
	Specialty string `json:"specialty,omitempty" jsonschema:"description=psf, pediatria or emergencias (default: psf)"`
}

// SubmitTurnArgs defines arguments for the submit_turn tool
type SubmitTurnArgs struct {
	SessionID string `json:"session_id" jsonschema:"description=Session returned by start_case,required"`
	Text      string `json:"text,omitempty" jsonschema:"description=What the doctor says to the patient. Leave empty to collect the reply to a turn that timed out"`
}

// SessionArgs defines arguments for tools that act on one open session
type SessionArgs struct {
	SessionID string `json:"session_id" jsonschema:"description=Session returned by start_case,required"`
}

// ListCasesArgs defines arguments for the list_cases tool
type ListCasesArgs struct {
	Specialty  string `json:"specialty,omitempty" jsonschema:"description=Filter by specialty"`
	AfterDate  string `json:"after_date,omitempty" jsonschema:"description=Only cases recorded after this date (ISO 8601 format, e.g. 2025-01-01)"`
	BeforeDate string `json:"before_date,omitempty" jsonschema:"description=Only cases recorded before this date (ISO 8601 format)"`
	Limit      int    `json:"limit,omitempty" jsonschema:"description=Max cases to return (default: 20)"`
}

// CaseStarted is the result of start_case
type CaseStarted struct {
	SessionID  string  `json:"session_id"`
	Specialty  string  `json:"specialty"`
	Opening    string  `json:"opening"`
	Similar    bool    `json:"similar"`
	Similarity float64 `json:"similarity"`
	Attempts   int     `json:"attempts"`
}

// MessageDetail represents a single visible turn
type MessageDetail struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
	Sequence  int    `json:"sequence"`
}

// TurnResult is the result of submit_turn and case_history
type TurnResult struct {
	SessionID string          `json:"session_id"`
	State     string          `json:"state"`
	Messages  []MessageDetail `json:"messages"`
}

// CaseClosed is the result of finalize_case
type CaseClosed struct {
	SessionID  string   `json:"session_id"`
	CaseID     string   `json:"case_id"`
	Report     string   `json:"report"`
	Score      *float64 `json:"score"`
	OutOfRange bool     `json:"out_of_range,omitempty"`
	Average    float64  `json:"average"`
	CaseCount  int      `json:"case_count"`
}

// CaseSummary represents a recorded case in the list view
type CaseSummary struct {
	CaseID    string   `json:"case_id"`
	Specialty string   `json:"specialty"`
	CreatedAt string   `json:"created_at"`
	Summary   string   `json:"summary"`
	Score     *float64 `json:"score"`
}

// CaseLister is the read side of a case-history store
type CaseLister interface {
	ListCases(ctx context.Context, f models.CaseFilter) ([]models.CaseRecord, error)
}

type openCase struct {
	mu   sync.Mutex // a session is driven by one call at a time
	sess *session.Session
}

// Server exposes one student's simulator over MCP tools
type Server struct {
	orch  *orchestrator.Orchestrator
	store CaseLister
	user  string

	mu       sync.Mutex
	sessions map[string]*openCase
}

// NewServer creates a tool server acting on behalf of user
func NewServer(orch *orchestrator.Orchestrator, store CaseLister, user string) *Server {
	return &Server{
		orch:     orch,
		store:    store,
		user:     user,
		sessions: make(map[string]*openCase),
	}
}

// StartServer serves the tools over stdio until the client disconnects
func StartServer(orch *orchestrator.Orchestrator, store CaseLister, user, version string) error {
	s := server.NewMCPServer("casesim", version)
	NewServer(orch, store, user).Register(s)
	return server.ServeStdio(s)
}

// Register adds every tool to s
func (srv *Server) Register(s *server.MCPServer) {
	startTool := mcp.NewTool("start_case",
		mcp.WithDescription("Open a new simulated clinical case. The patient's first message is returned together with a session_id for the other tools."),
		mcp.WithString("specialty",
			mcp.Description("psf, pediatria or emergencias (default: psf)")),
	)
	s.AddTool(startTool, srv.handleStartCase)

	turnTool := mcp.NewTool("submit_turn",
		mcp.WithDescription("Send the doctor's next line to the simulated patient and return the patient's reply"),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description("Session returned by start_case")),
		mcp.WithString("text",
			mcp.Description("What the doctor says or asks. Leave empty to collect the reply to a turn that timed out")),
	)
	s.AddTool(turnTool, srv.handleSubmitTurn)

	finalTool := mcp.NewTool("finalize_case",
		mcp.WithDescription("Close the case: request the graded write-up, record it and return the grade with the student's running average. Safe to call again after a retryable failure."),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description("Session returned by start_case")),
	)
	s.AddTool(finalTool, srv.handleFinalizeCase)

	historyTool := mcp.NewTool("case_history",
		mcp.WithDescription("Get every visible turn of an open session"),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description("Session returned by start_case")),
	)
	s.AddTool(historyTool, srv.handleCaseHistory)

	listTool := mcp.NewTool("list_cases",
		mcp.WithDescription("List the student's recorded cases, newest first, optionally filtered by specialty and date"),
		mcp.WithString("specialty",
			mcp.Description("Filter by specialty")),
		mcp.WithString("after_date",
			mcp.Description("Only cases recorded after this date (ISO 8601 format, e.g. '2025-01-01')")),
		mcp.WithString("before_date",
			mcp.Description("Only cases recorded before this date (ISO 8601 format)")),
		mcp.WithNumber("limit",
			mcp.Description("Max cases to return (default: 20)")),
	)
	s.AddTool(listTool, srv.handleListCases)

	statsTool := mcp.NewTool("user_stats",
		mcp.WithDescription("Get the student's case count and grade statistics"),
	)
	s.AddTool(statsTool, srv.handleUserStats)
}

func (srv *Server) handleStartCase(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args StartCaseArgs
	if err := decodeArgs(request, &args); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if args.Specialty == "" {
		args.Specialty = string(models.SpecialtyGeneralPractice)
	}
	specialty, err := models.ParseSpecialty(args.Specialty)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	res, err := srv.orch.StartNewCase(ctx, srv.user, specialty)
	if err != nil {
		if res != nil && res.Session != nil {
			// The thread exists but the opening run did not finish
			srv.track(res.Session)
			return toolError(fmt.Sprintf("opening failed for session %s", res.Session.ID()), err), nil
		}
		return toolError("start failed", err), nil
	}
	srv.track(res.Session)

	return jsonResult(CaseStarted{
		SessionID:  res.Session.ID(),
		Specialty:  specialty.Label(),
		Opening:    res.Opening,
		Similar:    res.Similar,
		Similarity: res.Ratio,
		Attempts:   res.Attempts,
	})
}

func (srv *Server) handleSubmitTurn(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args SubmitTurnArgs
	if err := decodeArgs(request, &args); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	oc, err := srv.lookup(args.SessionID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	oc.mu.Lock()
	defer oc.mu.Unlock()

	before := len(srv.orch.History(oc.sess))
	var turnErr error
	if oc.sess.State() == session.AwaitingAssistant {
		// A previous turn timed out; its reply must be collected first
		if strings.TrimSpace(args.Text) != "" {
			return mcp.NewToolResultError("previous turn still pending: call submit_turn with empty text to collect its reply, then send this turn"), nil
		}
		turnErr = oc.sess.AwaitCompletion(ctx)
	} else {
		turnErr = srv.orch.SubmitTurn(ctx, oc.sess, args.Text)
	}
	if turnErr != nil {
		return toolError("turn failed", turnErr), nil
	}

	history := srv.orch.History(oc.sess)
	var replies []MessageDetail
	for i := before; i < len(history); i++ {
		if history[i].Role == models.RoleAssistant {
			replies = append(replies, messageDetail(history[i], i))
		}
	}
	return jsonResult(TurnResult{
		SessionID: oc.sess.ID(),
		State:     oc.sess.State().String(),
		Messages:  replies,
	})
}

func (srv *Server) handleFinalizeCase(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args SessionArgs
	if err := decodeArgs(request, &args); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	oc, err := srv.lookup(args.SessionID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	oc.mu.Lock()
	defer oc.mu.Unlock()

	res, err := srv.orch.FinalizeCase(ctx, oc.sess, srv.user)
	if err != nil {
		return toolError("finalize failed", err), nil
	}

	srv.mu.Lock()
	delete(srv.sessions, args.SessionID)
	srv.mu.Unlock()

	return jsonResult(CaseClosed{
		SessionID:  args.SessionID,
		CaseID:     res.CaseID,
		Report:     res.Report,
		Score:      res.Score,
		OutOfRange: res.OutOfRange,
		Average:    res.Average,
		CaseCount:  res.CaseCount,
	})
}

func (srv *Server) handleCaseHistory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args SessionArgs
	if err := decodeArgs(request, &args); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	oc, err := srv.lookup(args.SessionID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	oc.mu.Lock()
	defer oc.mu.Unlock()

	history := srv.orch.History(oc.sess)
	messages := make([]MessageDetail, 0, len(history))
	for i, m := range history {
		messages = append(messages, messageDetail(m, i))
	}
	return jsonResult(TurnResult{
		SessionID: oc.sess.ID(),
		State:     oc.sess.State().String(),
		Messages:  messages,
	})
}

func (srv *Server) handleListCases(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args ListCasesArgs
	if err := decodeArgs(request, &args); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	limit := args.Limit
	if limit == 0 {
		limit = 20
	}
	filter := models.CaseFilter{User: srv.user, Limit: limit}
	if args.Specialty != "" {
		sp, err := models.ParseSpecialty(args.Specialty)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		filter.Specialty = sp
	}
	var err error
	if filter.After, err = parseDate(args.AfterDate); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if filter.Before, err = parseDate(args.BeforeDate); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	records, err := srv.store.ListCases(ctx, filter)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}

	cases := make([]CaseSummary, 0, len(records))
	for _, r := range records {
		cases = append(cases, CaseSummary{
			CaseID:    r.ID,
			Specialty: r.Specialty.Label(),
			CreatedAt: r.CreatedAt.Format("2006-01-02 15:04:05"),
			Summary:   r.Summary,
			Score:     r.Score,
		})
	}
	return jsonResult(map[string]interface{}{
		"cases": cases,
	})
}

func (srv *Server) handleUserStats(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	st, err := srv.orch.Stats(ctx, srv.user)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("stats failed: %v", err)), nil
	}
	return jsonResult(map[string]interface{}{
		"user":    srv.user,
		"cases":   st.Cases,
		"graded":  st.Graded,
		"average": st.Average,
		"median":  st.Median,
		"best":    st.Best,
	})
}

func (srv *Server) track(sess *session.Session) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	srv.sessions[sess.ID()] = &openCase{sess: sess}
}

func (srv *Server) lookup(id string) (*openCase, error) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	oc, ok := srv.sessions[id]
	if !ok {
		return nil, fmt.Errorf("no open session %q", id)
	}
	return oc, nil
}

func decodeArgs(request mcp.CallToolRequest, out any) error {
	argsBytes, _ := json.Marshal(request.Params.Arguments)
	if err := json.Unmarshal(argsBytes, out); err != nil {
		return fmt.Errorf("invalid arguments: %v", err)
	}
	return nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	resultJSON, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(resultJSON)), nil
}

// toolError tells the client whether repeating the same call may help
func toolError(prefix string, err error) *mcp.CallToolResult {
	msg := fmt.Sprintf("%s: %v", prefix, err)
	if session.IsRetryable(err) {
		msg += " (retryable: call the same tool again)"
	}
	return mcp.NewToolResultError(msg)
}

func messageDetail(m models.Message, seq int) MessageDetail {
	return MessageDetail{
		Role:      string(m.Role),
		Content:   m.Text,
		Timestamp: m.CreatedAt.Format("2006-01-02 15:04:05"),
		Sequence:  seq,
	}
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q (want ISO 8601, e.g. 2025-01-01)", s)
}
