// Package orchestrator sequences the simulator's use cases: starting a
// case with anti-repetition context, relaying turns, and closing a case
// into the history store with its grade.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/montanaflynn/stats"
	"github.com/neilberkman/casesim/internal/core/grade"
	"github.com/neilberkman/casesim/internal/core/llm"
	"github.com/neilberkman/casesim/internal/core/models"
	"github.com/neilberkman/casesim/internal/core/session"
	"github.com/neilberkman/casesim/internal/core/similarity"
)

// Defaults for Config fields left zero
const (
	DefaultHistoryDepth     = 10
	DefaultContextLength    = 250
	DefaultSummaryLength    = 300
	DefaultMaxRegenerations = 2
)

// Config holds orchestrator settings
type Config struct {
	AssistantIDs    map[models.Specialty]string
	OpeningTemplate string
	FinalTemplate   string

	HistoryDepth  int // prior summaries fed to a new case
	ContextLength int // runes kept per prior summary in the prompt
	SummaryLength int // runes kept in CaseRecord.Summary

	SimilarityThreshold float64
	SimilarityPolicy    similarity.Policy
	MaxRegenerations    int

	// SectionMarkers must all appear (case- and accent-insensitive) in a final answer
	SectionMarkers []string
	// AllowUngraded accepts a final answer without a grade; the case is then recorded with no score
	AllowUngraded bool
	GradeLabel    string

	Poll   session.PollPolicy
	Clock  session.Clock
	Logger *log.Logger
}

// Orchestrator drives sessions against one thread service and one store
type Orchestrator struct {
	threads   llm.ThreadService
	store     CaseHistoryStore
	cfg       Config
	extractor *grade.Extractor
	logger    *log.Logger
	now       func() time.Time
}

// StartResult is a freshly opened case
type StartResult struct {
	Session  *session.Session
	Opening  string
	Similar  bool    // the opening resembles a prior case
	Ratio    float64 // best similarity ratio against prior summaries
	Attempts int     // sessions opened, more than 1 after regeneration
}

// FinalizeResult is a closed and recorded case
type FinalizeResult struct {
	CaseID     string
	Report     string
	Summary    string
	Score      *float64
	GradeFound bool
	OutOfRange bool // grade outside 0..10, recorded as given
	Average    float64
	CaseCount  int
}

// UserStats summarizes a student's graded history
type UserStats struct {
	Cases   int
	Graded  int
	Average float64
	Median  float64
	Best    float64
}

// New creates an orchestrator; zero Config fields take defaults
func New(threads llm.ThreadService, store CaseHistoryStore, cfg Config) *Orchestrator {
	if cfg.HistoryDepth <= 0 {
		cfg.HistoryDepth = DefaultHistoryDepth
	}
	if cfg.ContextLength <= 0 {
		cfg.ContextLength = DefaultContextLength
	}
	if cfg.SummaryLength <= 0 {
		cfg.SummaryLength = DefaultSummaryLength
	}
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = similarity.DefaultThreshold
	}
	if cfg.SimilarityPolicy == "" {
		cfg.SimilarityPolicy = similarity.PolicyWarn
	}
	if cfg.MaxRegenerations <= 0 {
		cfg.MaxRegenerations = DefaultMaxRegenerations
	}
	if cfg.GradeLabel == "" {
		cfg.GradeLabel = grade.DefaultLabel
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	return &Orchestrator{
		threads:   threads,
		store:     store,
		cfg:       cfg,
		extractor: grade.NewExtractor(cfg.GradeLabel),
		logger:    logger,
		now:       time.Now,
	}
}

// QuietLogger discards orchestrator and session logs
func QuietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// OpeningPrompt renders the instruction StartNewCase would send
func (o *Orchestrator) OpeningPrompt(ctx context.Context, user string, specialty models.Specialty) (string, []string, error) {
	summaries, err := o.store.FetchRecentSummaries(ctx, user, specialty, o.cfg.HistoryDepth)
	if err != nil {
		return "", nil, fmt.Errorf("fetch recent summaries: %w", err)
	}
	prompt, err := o.renderOpening(user, specialty, summaries, 1)
	return prompt, summaries, err
}

func (o *Orchestrator) renderOpening(user string, specialty models.Specialty, summaries []string, attempt int) (string, error) {
	cut := make([]string, len(summaries))
	for i, s := range summaries {
		cut[i] = Truncate(s, o.cfg.ContextLength)
	}
	return llm.RenderOpeningPrompt(o.cfg.OpeningTemplate, llm.OpeningData{
		User:      user,
		Specialty: specialty.Label(),
		Summaries: cut,
		Attempt:   attempt,
	})
}

// StartNewCase opens a session seeded with the student's recent cases and
// waits for the opening reply. When the wait itself fails the result still
// carries the open session so the caller can AwaitCompletion again.
func (o *Orchestrator) StartNewCase(ctx context.Context, user string, specialty models.Specialty) (*StartResult, error) {
	if strings.TrimSpace(user) == "" {
		return nil, errors.New("user is required")
	}
	if !specialty.Valid() {
		return nil, fmt.Errorf("unknown specialty %q", specialty)
	}

	summaries, err := o.store.FetchRecentSummaries(ctx, user, specialty, o.cfg.HistoryDepth)
	if err != nil {
		return nil, fmt.Errorf("fetch recent summaries: %w", err)
	}

	for attempt := 1; ; attempt++ {
		prompt, err := o.renderOpening(user, specialty, summaries, attempt)
		if err != nil {
			return nil, err
		}

		sess, err := session.Open(ctx, o.threads, session.Options{
			Specialty:     specialty,
			AssistantID:   o.cfg.AssistantIDs[specialty],
			OpeningPrompt: prompt,
			Poll:          o.cfg.Poll,
			Clock:         o.cfg.Clock,
			Logger:        o.logger,
		})
		if err != nil {
			return nil, err
		}

		res := &StartResult{Session: sess, Attempts: attempt}
		if err := sess.AwaitCompletion(ctx); err != nil {
			return res, err
		}
		res.Opening = sess.OpeningSummary()

		idx, ratio := similarity.MostSimilar(res.Opening, summaries)
		res.Ratio = ratio
		res.Similar = idx >= 0 && ratio >= o.cfg.SimilarityThreshold
		if !res.Similar {
			o.logger.Printf("[ORCH] New %s case for %s on %s (attempt %d)", specialty, user, sess.ID(), attempt)
			return res, nil
		}

		o.logger.Printf("[ORCH] Opening on %s resembles prior case %d (ratio %.2f)", sess.ID(), idx, ratio)
		if o.cfg.SimilarityPolicy != similarity.PolicyRegenerate || attempt > o.cfg.MaxRegenerations {
			return res, nil
		}
		o.logger.Printf("[ORCH] Regenerating case for %s", user)
	}
}

// SubmitTurn relays one student turn
func (o *Orchestrator) SubmitTurn(ctx context.Context, sess *session.Session, text string) error {
	return sess.SubmitTurn(ctx, text)
}

// History returns the turns the student sees
func (o *Orchestrator) History(sess *session.Session) []models.Message {
	return sess.History()
}

// FinalAnswer reports whether text is an acceptable closing write-up
func (o *Orchestrator) FinalAnswer(text string) bool {
	if strings.TrimSpace(text) == "" {
		return false
	}
	folded := models.FoldKey(text)
	for _, m := range o.cfg.SectionMarkers {
		if !strings.Contains(folded, models.FoldKey(m)) {
			return false
		}
	}
	if o.cfg.AllowUngraded {
		return true
	}
	_, ok := o.extractor.Extract(text)
	return ok
}

// FinalizeCase closes the session, records the case once and returns the
// grade with the student's refreshed average. Retrying after a store
// failure records the same final answer without asking the assistant again.
func (o *Orchestrator) FinalizeCase(ctx context.Context, sess *session.Session, user string) (*FinalizeResult, error) {
	directive, err := llm.RenderFinalPrompt(o.cfg.FinalTemplate, user, sess.Specialty().Label())
	if err != nil {
		return nil, err
	}

	text, err := sess.Finalize(ctx, directive, o.FinalAnswer)
	if err != nil {
		return nil, err
	}

	res := &FinalizeResult{
		Report:  text,
		Summary: Summarize(text, o.cfg.SummaryLength),
	}
	if v, ok := o.extractor.Extract(text); ok {
		res.Score = &v
		res.GradeFound = true
		res.OutOfRange = !grade.InRange(v)
	} else {
		o.logger.Printf("[ORCH] No grade found in final answer on %s", sess.ID())
	}

	if !sess.Recorded() {
		rec := models.CaseRecord{
			ID:        uuid.NewString(),
			User:      user,
			Specialty: sess.Specialty(),
			CreatedAt: o.now(),
			Summary:   res.Summary,
			Report:    text,
			Score:     res.Score,
		}
		if err := o.store.RecordCase(ctx, rec); err != nil {
			return nil, fmt.Errorf("record case: %w", err)
		}
		sess.MarkRecorded()
		res.CaseID = rec.ID
	}

	st, err := o.Stats(ctx, user)
	if err != nil {
		return res, err
	}
	res.Average = st.Average
	res.CaseCount = st.Cases
	return res, nil
}

// SwitchSpecialty keeps sess when the specialty is unchanged and otherwise
// abandons it for a new case with a new thread.
func (o *Orchestrator) SwitchSpecialty(ctx context.Context, sess *session.Session, user string, specialty models.Specialty) (*StartResult, error) {
	if sess != nil && sess.Specialty() == specialty {
		return &StartResult{Session: sess, Opening: sess.OpeningSummary()}, nil
	}
	if sess != nil {
		o.logger.Printf("[ORCH] Abandoning %s for %s", sess.ID(), specialty)
	}
	return o.StartNewCase(ctx, user, specialty)
}

// Stats returns the student's case count and grade statistics
func (o *Orchestrator) Stats(ctx context.Context, user string) (*UserStats, error) {
	return ComputeStats(ctx, o.store, user)
}

// ComputeStats reads a student's case count and grades from store. Average
// and median are rounded to two decimals and are 0 without graded cases.
func ComputeStats(ctx context.Context, store CaseHistoryStore, user string) (*UserStats, error) {
	scores, err := store.FetchAllScores(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("fetch scores: %w", err)
	}
	count, err := store.CountCases(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("count cases: %w", err)
	}

	st := &UserStats{Cases: count, Graded: len(scores)}
	if len(scores) == 0 {
		return st, nil
	}

	mean, _ := stats.Mean(scores)
	st.Average, _ = stats.Round(mean, 2)
	median, _ := stats.Median(scores)
	st.Median, _ = stats.Round(median, 2)
	st.Best, _ = stats.Max(scores)
	return st, nil
}

// Summarize flattens text to one line and keeps the first n runes
func Summarize(text string, n int) string {
	flat := strings.ReplaceAll(text, "\r\n", " ")
	flat = strings.ReplaceAll(flat, "\n", " ")
	return strings.TrimSpace(Truncate(flat, n))
}

// Truncate keeps the first n runes of s
func Truncate(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
