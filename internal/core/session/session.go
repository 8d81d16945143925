// Package session drives one simulated clinical encounter against a
// stateful remote assistant.
//
// A Session owns exactly one remote thread. It is not safe for concurrent
// use; callers that need a responsive interface run its blocking methods
// in a goroutine and deliver the result back themselves.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/neilberkman/casesim/internal/core/llm"
	"github.com/neilberkman/casesim/internal/core/models"
)

// State is a session's position in its lifecycle
type State int

const (
	Uninitialized State = iota
	AwaitingAssistant
	ReadyForInput
	AwaitingFinal
	Finalized
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case AwaitingAssistant:
		return "awaiting-assistant"
	case ReadyForInput:
		return "ready"
	case AwaitingFinal:
		return "awaiting-final"
	case Finalized:
		return "finalized"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Predicate decides whether an assistant reply is an acceptable final answer
type Predicate func(text string) bool

// Options configures Open
type Options struct {
	Specialty     models.Specialty
	AssistantID   string // defaults to the specialty name
	OpeningPrompt string
	Poll          PollPolicy
	Clock         Clock       // defaults to the wall clock
	Logger        *log.Logger // defaults to log.Default()
}

// Session is one encounter bound to one remote thread
type Session struct {
	threads     llm.ThreadService
	id          string
	assistantID string
	specialty   models.Specialty
	poll        PollPolicy
	clock       Clock
	logger      *log.Logger

	state    State
	messages []models.Message
	seen     map[string]bool
	opening  string

	runID   string
	runDone bool
	// posted to the thread, but no run was started for it yet
	pending *models.Message

	finalSince time.Time
	finalText  string
	recorded   bool
}

// Open creates the backing thread, posts the opening instruction as a
// control message and starts the first run. It does not wait for the reply.
func Open(ctx context.Context, threads llm.ThreadService, opts Options) (*Session, error) {
	if !opts.Specialty.Valid() {
		return nil, opErr("open", Uninitialized, ErrInvalidState, fmt.Errorf("unknown specialty %q", opts.Specialty))
	}
	if strings.TrimSpace(opts.OpeningPrompt) == "" {
		return nil, opErr("open", Uninitialized, ErrInvalidState, errors.New("empty opening prompt"))
	}

	s := &Session{
		threads:     threads,
		assistantID: opts.AssistantID,
		specialty:   opts.Specialty,
		poll:        opts.Poll.withDefaults(),
		clock:       opts.Clock,
		logger:      opts.Logger,
		seen:        make(map[string]bool),
	}
	if s.assistantID == "" {
		s.assistantID = string(opts.Specialty)
	}
	if s.clock == nil {
		s.clock = realClock{}
	}
	if s.logger == nil {
		s.logger = log.Default()
	}

	id, err := threads.CreateThread(ctx)
	if err != nil {
		return nil, opErr("open", Uninitialized, remoteKind(err), err)
	}
	s.id = id

	if _, err := s.postAndRun(ctx, models.KindControl, opts.OpeningPrompt); err != nil {
		return nil, opErr("open", Uninitialized, remoteKind(err), err)
	}

	s.state = AwaitingAssistant
	s.logger.Printf("[SESSION] Opened thread %s (%s, assistant %s)", s.id, s.specialty, s.assistantID)
	return s, nil
}

// ID returns the remote thread id
func (s *Session) ID() string { return s.id }

// Specialty returns the specialty chosen at Open
func (s *Session) Specialty() models.Specialty { return s.specialty }

// State returns the current lifecycle state
func (s *Session) State() State { return s.state }

// Finalized reports whether a final answer was accepted
func (s *Session) Finalized() bool { return s.state == Finalized }

// FinalText returns the accepted final answer, empty before Finalized
func (s *Session) FinalText() string { return s.finalText }

// OpeningSummary returns the first visible assistant message
func (s *Session) OpeningSummary() string { return s.opening }

// Recorded reports whether the final answer was written to a case store
func (s *Session) Recorded() bool { return s.recorded }

// MarkRecorded notes that the final answer was stored
func (s *Session) MarkRecorded() { s.recorded = true }

// Messages returns every message seen so far, control prompts included
func (s *Session) Messages() []models.Message {
	out := make([]models.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// History returns the turns meant for the student, without control prompts
func (s *Session) History() []models.Message {
	out := make([]models.Message, 0, len(s.messages))
	for _, m := range s.messages {
		if m.IsControl() {
			continue
		}
		out = append(out, m)
	}
	return out
}

// SubmitTurn posts a student turn, starts a run and waits for it. If an
// earlier call posted the same turn but failed to start its run, the turn
// is not posted again.
func (s *Session) SubmitTurn(ctx context.Context, text string) error {
	if s.state != ReadyForInput {
		return opErr("submit", s.state, ErrInvalidState, nil)
	}
	if strings.TrimSpace(text) == "" {
		return opErr("submit", s.state, ErrInvalidState, errors.New("empty turn"))
	}

	if _, err := s.postAndRun(ctx, models.KindVisible, text); err != nil {
		return opErr("submit", s.state, remoteKind(err), err)
	}
	s.state = AwaitingAssistant

	return s.AwaitCompletion(ctx)
}

// AwaitCompletion polls the current run until it leaves the in-progress state.
// On timeout the session stays awaiting and the call can be repeated.
func (s *Session) AwaitCompletion(ctx context.Context) error {
	if s.state != AwaitingAssistant && s.state != AwaitingFinal {
		return opErr("await", s.state, ErrInvalidState, nil)
	}

	status, err := s.awaitRun(ctx)
	if err != nil {
		return opErr("await", s.state, remoteKind(err), err)
	}

	if err := s.Refresh(ctx); err != nil {
		return err
	}

	if status != models.RunCompleted {
		s.logger.Printf("[SESSION] Run %s on %s ended %s", s.runID, s.id, status)
		if s.state == AwaitingAssistant {
			s.state = ReadyForInput
		}
		return opErr("await", s.state, ErrRunFailed, nil)
	}

	if s.state == AwaitingAssistant {
		s.state = ReadyForInput
	}
	return nil
}

// Finalize posts the closing directive and waits for a reply newer than the
// moment Finalize was first invoked that satisfies pred. Without such a reply
// the session stays AwaitingFinal and ErrNoFinalAnswer is returned; calling
// Finalize again re-polls a pending run or re-posts the directive.
func (s *Session) Finalize(ctx context.Context, finalPrompt string, pred Predicate) (string, error) {
	if pred == nil {
		pred = func(text string) bool { return strings.TrimSpace(text) != "" }
	}

	switch s.state {
	case Finalized:
		return s.finalText, nil

	case ReadyForInput:
		since := s.clock.Now()
		directive, err := s.postAndRun(ctx, models.KindControl, finalPrompt)
		if err != nil {
			return "", opErr("finalize", s.state, remoteKind(err), err)
		}
		// Replies carry the service's clock, which may lag ours
		if !directive.CreatedAt.IsZero() && directive.CreatedAt.Before(since) {
			since = directive.CreatedAt
		}
		s.finalSince = since
		s.state = AwaitingFinal

	case AwaitingFinal:
		if s.runDone {
			if err := s.Refresh(ctx); err != nil {
				return "", err
			}
			if text, ok := s.scanFinal(pred); ok {
				return s.accept(text), nil
			}
			s.logger.Printf("[SESSION] Re-posting final directive on %s", s.id)
			if _, err := s.postAndRun(ctx, models.KindControl, finalPrompt); err != nil {
				return "", opErr("finalize", s.state, remoteKind(err), err)
			}
		}

	default:
		return "", opErr("finalize", s.state, ErrInvalidState, nil)
	}

	status, err := s.awaitRun(ctx)
	if err != nil {
		return "", opErr("finalize", s.state, remoteKind(err), err)
	}
	if err := s.Refresh(ctx); err != nil {
		return "", err
	}
	if status != models.RunCompleted {
		return "", opErr("finalize", s.state, ErrRunFailed, nil)
	}

	if text, ok := s.scanFinal(pred); ok {
		return s.accept(text), nil
	}
	return "", opErr("finalize", s.state, ErrNoFinalAnswer, nil)
}

// Refresh pulls the thread and appends messages not seen yet, oldest first
func (s *Session) Refresh(ctx context.Context) error {
	remote, err := s.threads.ListMessages(ctx, s.id)
	if err != nil {
		return opErr("refresh", s.state, remoteKind(err), err)
	}

	var fresh []models.Message
	for _, m := range remote {
		if !s.seen[m.ID] {
			fresh = append(fresh, m)
		}
	}
	sort.SliceStable(fresh, func(i, j int) bool {
		return fresh[i].CreatedAt.Before(fresh[j].CreatedAt)
	})
	for _, m := range fresh {
		s.append(m)
	}
	return nil
}

// scanFinal looks newest first for an assistant reply created strictly
// after finalSince that satisfies pred.
func (s *Session) scanFinal(pred Predicate) (string, bool) {
	candidates := make([]models.Message, 0, len(s.messages))
	for _, m := range s.messages {
		if m.Role == models.RoleAssistant && !m.IsControl() && m.CreatedAt.After(s.finalSince) {
			candidates = append(candidates, m)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})
	for i := len(candidates) - 1; i >= 0; i-- {
		if pred(candidates[i].Text) {
			return candidates[i].Text, true
		}
	}
	return "", false
}

func (s *Session) accept(text string) string {
	s.finalText = text
	s.state = Finalized
	s.logger.Printf("[SESSION] Finalized %s", s.id)
	return text
}

// postAndRun posts text and starts a run for it. A message left pending by
// a failed StartRun is reused when kind and text match.
func (s *Session) postAndRun(ctx context.Context, kind models.Kind, text string) (models.Message, error) {
	if p := s.pending; p == nil || p.Kind != kind || p.Text != text {
		m, err := s.post(ctx, kind, text)
		if err != nil {
			return models.Message{}, err
		}
		s.pending = &m
	} else {
		s.logger.Printf("[SESSION] Reusing posted message %s on %s", p.ID, s.id)
	}
	if err := s.startRun(ctx); err != nil {
		return models.Message{}, err
	}
	m := *s.pending
	s.pending = nil
	return m, nil
}

func (s *Session) post(ctx context.Context, kind models.Kind, text string) (models.Message, error) {
	m, err := s.threads.PostMessage(ctx, s.id, models.NewMessage{
		Role: models.RoleUser,
		Kind: kind,
		Text: text,
	})
	if err != nil {
		return models.Message{}, err
	}
	// Some services echo no kind back; ours is authoritative.
	m.Kind = kind
	s.append(m)
	return m, nil
}

func (s *Session) startRun(ctx context.Context) error {
	runID, err := s.threads.StartRun(ctx, s.id, s.assistantID)
	if err != nil {
		return err
	}
	s.runID = runID
	s.runDone = false
	return nil
}

func (s *Session) awaitRun(ctx context.Context) (models.RunStatus, error) {
	var status models.RunStatus
	err := s.poll.poll(ctx, s.clock, func(ctx context.Context) (bool, error) {
		st, err := s.threads.GetRunStatus(ctx, s.id, s.runID)
		if err != nil {
			return false, err
		}
		status = st
		return st.Done(), nil
	})
	if err != nil {
		return "", err
	}
	s.runDone = true
	return status, nil
}

func (s *Session) append(m models.Message) {
	if m.ID != "" {
		if s.seen[m.ID] {
			return
		}
		s.seen[m.ID] = true
	}
	if m.Kind == "" {
		m.Kind = models.KindVisible
	}
	s.messages = append(s.messages, m)
	if s.opening == "" && m.Role == models.RoleAssistant && !m.IsControl() {
		s.opening = m.Text
	}
}

// remoteKind classifies a collaborator error as a timeout or an outage
func remoteKind(err error) error {
	if errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrTimeout
	}
	return ErrRemoteUnavailable
}
