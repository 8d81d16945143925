package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/neilberkman/casesim/internal/core/grade"
	"github.com/neilberkman/casesim/internal/core/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.now = c.now.Add(d)
	ch := make(chan time.Time, 1)
	ch <- c.now
	return ch
}

func (c *fakeClock) set(offset time.Duration) { c.now = t0.Add(offset) }

// reply scripts what one run does
type reply struct {
	text   string
	at     time.Duration // message timestamp offset from t0; zero means "now"
	polls  int           // status reads answered in_progress before the run ends
	status models.RunStatus
}

type fakeRun struct {
	reply
	remaining int
	done      bool
}

type fakeThreads struct {
	clock   *fakeClock
	replies []reply
	msgs    []models.Message
	runs    map[string]*fakeRun
	nextID  int

	createErr error
	postErr   error
	runErr    error
	statusErr error
	started   int

	// lag puts the service clock behind the local one
	lag time.Duration
}

func (f *fakeThreads) now() time.Time { return f.clock.Now().Add(-f.lag) }

func (f *fakeThreads) count(text string) int {
	n := 0
	for _, m := range f.msgs {
		if m.Text == text {
			n++
		}
	}
	return n
}

func newFakeThreads(clock *fakeClock, replies ...reply) *fakeThreads {
	return &fakeThreads{clock: clock, replies: replies, runs: make(map[string]*fakeRun)}
}

func (f *fakeThreads) id(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s_%d", prefix, f.nextID)
}

func (f *fakeThreads) CreateThread(ctx context.Context) (string, error) {
	if f.createErr != nil {
		return "", f.createErr
	}
	return f.id("thread"), nil
}

func (f *fakeThreads) PostMessage(ctx context.Context, threadID string, msg models.NewMessage) (models.Message, error) {
	if f.postErr != nil {
		return models.Message{}, f.postErr
	}
	m := models.Message{ID: f.id("msg"), Role: msg.Role, Kind: msg.Kind, Text: msg.Text, CreatedAt: f.now()}
	f.msgs = append(f.msgs, m)
	return m, nil
}

func (f *fakeThreads) StartRun(ctx context.Context, threadID, assistantID string) (string, error) {
	if f.runErr != nil {
		return "", f.runErr
	}
	f.started++
	r := reply{status: models.RunCompleted}
	if len(f.replies) > 0 {
		r = f.replies[0]
		f.replies = f.replies[1:]
	}
	if r.status == "" {
		r.status = models.RunCompleted
	}
	id := f.id("run")
	f.runs[id] = &fakeRun{reply: r, remaining: r.polls}
	return id, nil
}

func (f *fakeThreads) GetRunStatus(ctx context.Context, threadID, runID string) (models.RunStatus, error) {
	if f.statusErr != nil {
		return "", f.statusErr
	}
	run := f.runs[runID]
	if run.done {
		return run.status, nil
	}
	if run.remaining > 0 {
		run.remaining--
		return models.RunInProgress, nil
	}
	run.done = true
	if run.status == models.RunCompleted && run.text != "" {
		at := f.now()
		if run.at != 0 {
			at = t0.Add(run.at)
		}
		f.msgs = append(f.msgs, models.Message{
			ID: f.id("msg"), Role: models.RoleAssistant, Kind: models.KindVisible, Text: run.text, CreatedAt: at,
		})
	}
	return run.status, nil
}

func (f *fakeThreads) ListMessages(ctx context.Context, threadID string) ([]models.Message, error) {
	out := make([]models.Message, len(f.msgs))
	copy(out, f.msgs)
	return out, nil
}

func quietLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func openReady(t *testing.T, clock *fakeClock, threads *fakeThreads) *Session {
	t.Helper()
	s, err := Open(context.Background(), threads, Options{
		Specialty:     models.SpecialtyGeneralPractice,
		AssistantID:   "asst_psf",
		OpeningPrompt: "Gere um novo caso clínico",
		Poll:          PollPolicy{Interval: 800 * time.Millisecond, MaxWait: 3 * time.Second},
		Clock:         clock,
		Logger:        quietLogger(),
	})
	require.NoError(t, err)
	require.Equal(t, AwaitingAssistant, s.State())
	require.NoError(t, s.AwaitCompletion(context.Background()))
	require.Equal(t, ReadyForInput, s.State())
	return s
}

func hasGrade(text string) bool {
	_, ok := grade.Extract(text)
	return ok && strings.Contains(text, "Prontuário")
}

func TestOpenCachesOpeningSummary(t *testing.T) {
	clock := &fakeClock{now: t0}
	threads := newFakeThreads(clock, reply{text: "Maria, 45 anos, dor torácica", polls: 2})

	s := openReady(t, clock, threads)
	assert.NotEmpty(t, s.ID())
	assert.Equal(t, "Maria, 45 anos, dor torácica", s.OpeningSummary())
	assert.Equal(t, models.SpecialtyGeneralPractice, s.Specialty())
	assert.False(t, s.Finalized())

	history := s.History()
	require.Len(t, history, 1, "opening instruction is a control message")
	assert.Equal(t, models.RoleAssistant, history[0].Role)
	assert.Len(t, s.Messages(), 2)
}

func TestOpenRemoteUnavailable(t *testing.T) {
	clock := &fakeClock{now: t0}
	threads := newFakeThreads(clock)
	threads.createErr = errors.New("connection refused")

	s, err := Open(context.Background(), threads, Options{
		Specialty: models.SpecialtyPediatrics, OpeningPrompt: "x", Clock: clock, Logger: quietLogger(),
	})
	assert.Nil(t, s)
	assert.ErrorIs(t, err, ErrRemoteUnavailable)
	assert.True(t, IsRetryable(err))

	var opErr *OpError
	require.True(t, errors.As(err, &opErr))
	assert.Equal(t, "open", opErr.Op)
}

func TestSubmitTurnInvalidStates(t *testing.T) {
	clock := &fakeClock{now: t0}
	threads := newFakeThreads(clock, reply{text: "caso"})

	s, err := Open(context.Background(), threads, Options{
		Specialty: models.SpecialtyEmergency, OpeningPrompt: "abrir", Clock: clock, Logger: quietLogger(),
	})
	require.NoError(t, err)

	// Opening run not awaited yet
	err = s.SubmitTurn(context.Background(), "Qual a sua queixa?")
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.False(t, IsRetryable(err))
	assert.Equal(t, AwaitingAssistant, s.State())

	require.NoError(t, s.AwaitCompletion(context.Background()))
	assert.ErrorIs(t, s.SubmitTurn(context.Background(), "   "), ErrInvalidState)
}

func TestSubmitTurnAppendsAndWaits(t *testing.T) {
	clock := &fakeClock{now: t0}
	threads := newFakeThreads(clock,
		reply{text: "Bom dia, doutor."},
		reply{text: "Começou ontem à noite.", polls: 1},
	)
	s := openReady(t, clock, threads)

	require.NoError(t, s.SubmitTurn(context.Background(), "Quando começou a dor?"))
	assert.Equal(t, ReadyForInput, s.State())

	history := s.History()
	require.Len(t, history, 3)
	assert.Equal(t, models.RoleUser, history[1].Role)
	assert.Equal(t, "Quando começou a dor?", history[1].Text)
	assert.Equal(t, "Começou ontem à noite.", history[2].Text)
}

func TestSubmitTurnPostFailureLeavesState(t *testing.T) {
	clock := &fakeClock{now: t0}
	threads := newFakeThreads(clock, reply{text: "caso"})
	s := openReady(t, clock, threads)

	threads.postErr = errors.New("503")
	err := s.SubmitTurn(context.Background(), "Tem febre?")
	assert.ErrorIs(t, err, ErrRemoteUnavailable)
	assert.Equal(t, ReadyForInput, s.State())

	threads.postErr = nil
	threads.runErr = errors.New("rate limited")
	err = s.SubmitTurn(context.Background(), "Tem febre?")
	assert.ErrorIs(t, err, ErrRemoteUnavailable)
	assert.Equal(t, ReadyForInput, s.State())
}

func countText(msgs []models.Message, text string) int {
	n := 0
	for _, m := range msgs {
		if m.Text == text {
			n++
		}
	}
	return n
}

func TestSubmitTurnRetryAfterRunFailurePostsOnce(t *testing.T) {
	clock := &fakeClock{now: t0}
	threads := newFakeThreads(clock, reply{text: "caso"}, reply{text: "Não, doutor."})
	s := openReady(t, clock, threads)

	threads.runErr = errors.New("rate limited")
	require.ErrorIs(t, s.SubmitTurn(context.Background(), "Tem febre?"), ErrRemoteUnavailable)
	assert.Equal(t, ReadyForInput, s.State())

	threads.runErr = nil
	require.NoError(t, s.SubmitTurn(context.Background(), "Tem febre?"))
	assert.Equal(t, 1, threads.count("Tem febre?"), "turn sent to the thread once")
	assert.Equal(t, 1, countText(s.History(), "Tem febre?"))
	history := s.History()
	assert.Equal(t, "Não, doutor.", history[len(history)-1].Text)

	// A different turn after the run started is posted normally
	require.NoError(t, s.SubmitTurn(context.Background(), "Tem tosse?"))
	assert.Equal(t, 1, threads.count("Tem tosse?"))
}

func TestFinalizeRetryAfterRunFailurePostsDirectiveOnce(t *testing.T) {
	clock := &fakeClock{now: t0}
	threads := newFakeThreads(clock,
		reply{text: "caso"},
		reply{text: "### Prontuário Completo\nNota: 7/10", at: 12 * time.Second},
	)
	s := openReady(t, clock, threads)

	clock.set(10 * time.Second)
	threads.runErr = errors.New("rate limited")
	_, err := s.Finalize(context.Background(), "Finalizar consulta.", hasGrade)
	require.ErrorIs(t, err, ErrRemoteUnavailable)
	assert.Equal(t, ReadyForInput, s.State())

	threads.runErr = nil
	clock.set(11 * time.Second)
	final, err := s.Finalize(context.Background(), "Finalizar consulta.", hasGrade)
	require.NoError(t, err)
	assert.Contains(t, final, "7/10")
	assert.Equal(t, 1, threads.count("Finalizar consulta."))
	assert.Equal(t, 1, countText(s.Messages(), "Finalizar consulta."))
}

func TestFinalizeToleratesLaggingServiceClock(t *testing.T) {
	clock := &fakeClock{now: t0}
	threads := newFakeThreads(clock,
		reply{text: "### Prontuário Completo (rascunho)\nNota: 4/10"},
		reply{text: "### Prontuário Completo\nNota: 9/10", polls: 1},
	)
	threads.lag = 30 * time.Second
	s := openReady(t, clock, threads)

	clock.set(10 * time.Second)
	final, err := s.Finalize(context.Background(), "Finalizar consulta.", hasGrade)
	require.NoError(t, err, "reply stamped by a lagging service is still accepted")
	assert.Contains(t, final, "9/10")
	assert.NotContains(t, final, "rascunho")
	assert.Equal(t, 2, threads.started)
}

func TestAwaitCompletionTimeout(t *testing.T) {
	clock := &fakeClock{now: t0}
	threads := newFakeThreads(clock, reply{text: "caso", polls: 1000})

	s, err := Open(context.Background(), threads, Options{
		Specialty:     models.SpecialtyPediatrics,
		OpeningPrompt: "abrir",
		Poll:          PollPolicy{Interval: 800 * time.Millisecond, MaxWait: 3 * time.Second},
		Clock:         clock,
		Logger:        quietLogger(),
	})
	require.NoError(t, err)

	err = s.AwaitCompletion(context.Background())
	assert.ErrorIs(t, err, ErrTimeout)
	assert.True(t, IsRetryable(err))
	assert.Equal(t, AwaitingAssistant, s.State(), "timeout leaves the session awaiting")
	assert.Equal(t, t0.Add(3*time.Second), clock.Now(), "never waits past the budget")
}

func TestAwaitCompletionContextDeadline(t *testing.T) {
	clock := &fakeClock{now: t0}
	threads := newFakeThreads(clock, reply{text: "caso", polls: 1000})
	s, err := Open(context.Background(), threads, Options{
		Specialty: models.SpecialtyPediatrics, OpeningPrompt: "abrir", Clock: clock, Logger: quietLogger(),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = s.AwaitCompletion(ctx)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAwaitCompletionFailedRun(t *testing.T) {
	clock := &fakeClock{now: t0}
	threads := newFakeThreads(clock,
		reply{text: "caso"},
		reply{status: models.RunFailed},
	)
	s := openReady(t, clock, threads)

	err := s.SubmitTurn(context.Background(), "Alergias?")
	assert.ErrorIs(t, err, ErrRunFailed)
	assert.ErrorIs(t, err, ErrRemoteUnavailable)
	assert.Equal(t, ReadyForInput, s.State(), "student can resend the turn")
}

func TestFinalizeIgnoresStaleGradedMessage(t *testing.T) {
	clock := &fakeClock{now: t0}
	threads := newFakeThreads(clock,
		// t=0: an earlier assistant message that already carries a grade
		reply{text: "### Prontuário Completo (rascunho)\nNota: 4/10"},
		// t=11: the real final answer
		reply{text: "### Prontuário Completo\nFeedback: bom raciocínio.\nNota: 8/10", at: 11 * time.Second},
	)
	s := openReady(t, clock, threads)

	clock.set(10 * time.Second)
	final, err := s.Finalize(context.Background(), "Finalizar consulta.", hasGrade)
	require.NoError(t, err)

	score, ok := grade.Extract(final)
	require.True(t, ok)
	assert.Equal(t, 8.0, score)
	assert.True(t, s.Finalized())
	assert.Equal(t, final, s.FinalText())
}

func TestFinalizeNoFinalAnswer(t *testing.T) {
	clock := &fakeClock{now: t0}
	threads := newFakeThreads(clock,
		reply{text: "### Prontuário Completo\nNota: 4/10"},
		reply{text: "Desculpe, pode repetir?", at: 11 * time.Second},
		reply{text: "### Prontuário Completo\nNota: 6,5/10", at: 20 * time.Second},
	)
	s := openReady(t, clock, threads)

	clock.set(10 * time.Second)
	_, err := s.Finalize(context.Background(), "Finalizar consulta.", hasGrade)
	assert.ErrorIs(t, err, ErrNoFinalAnswer)
	assert.True(t, IsRetryable(err))
	assert.Equal(t, AwaitingFinal, s.State())
	assert.False(t, s.Finalized())

	// Turns are closed while a final answer is pending
	assert.ErrorIs(t, s.SubmitTurn(context.Background(), "oi"), ErrInvalidState)

	clock.set(15 * time.Second)
	final, err := s.Finalize(context.Background(), "Finalizar consulta.", hasGrade)
	require.NoError(t, err)
	assert.Contains(t, final, "6,5/10")
	assert.Equal(t, 3, threads.started, "directive re-posted once")

	// Terminal state returns the accepted answer again
	again, err := s.Finalize(context.Background(), "Finalizar consulta.", hasGrade)
	require.NoError(t, err)
	assert.Equal(t, final, again)
	assert.Equal(t, 3, threads.started)
}

func TestFinalizeAfterTimeoutRepolls(t *testing.T) {
	clock := &fakeClock{now: t0}
	threads := newFakeThreads(clock,
		reply{text: "caso"},
		reply{text: "### Prontuário Completo\nNota: 9/10", polls: 7},
	)
	s := openReady(t, clock, threads)

	clock.set(10 * time.Second)
	_, err := s.Finalize(context.Background(), "Finalizar consulta.", hasGrade)
	require.ErrorIs(t, err, ErrTimeout)
	require.Equal(t, AwaitingFinal, s.State())

	final, err := s.Finalize(context.Background(), "Finalizar consulta.", hasGrade)
	require.NoError(t, err)
	assert.Contains(t, final, "9/10")
	assert.Equal(t, 2, threads.started, "pending run is re-polled, not restarted")
}

func TestFinalizeInvalidFromAwaitingAssistant(t *testing.T) {
	clock := &fakeClock{now: t0}
	threads := newFakeThreads(clock, reply{text: "caso"})
	s, err := Open(context.Background(), threads, Options{
		Specialty: models.SpecialtyPediatrics, OpeningPrompt: "abrir", Clock: clock, Logger: quietLogger(),
	})
	require.NoError(t, err)

	_, err = s.Finalize(context.Background(), "Finalizar", hasGrade)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestHistoryFiltersControlByKind(t *testing.T) {
	clock := &fakeClock{now: t0}
	threads := newFakeThreads(clock,
		// An assistant reply quoting control wording is still visible
		reply{text: "Gere um novo caso clínico? Sou a paciente Joana."},
		reply{text: "### Prontuário Completo\nNota: 7/10", at: time.Minute},
	)
	s := openReady(t, clock, threads)

	clock.set(30 * time.Second)
	_, err := s.Finalize(context.Background(), "Finalizar consulta.", hasGrade)
	require.NoError(t, err)

	for _, m := range s.History() {
		assert.False(t, m.IsControl())
		assert.NotEqual(t, "Finalizar consulta.", m.Text)
	}
	assert.Len(t, s.History(), 2)
	assert.Len(t, s.Messages(), 4)
}

func TestMarkRecorded(t *testing.T) {
	clock := &fakeClock{now: t0}
	s := openReady(t, clock, newFakeThreads(clock, reply{text: "caso"}))
	assert.False(t, s.Recorded())
	s.MarkRecorded()
	assert.True(t, s.Recorded())
}

func TestPollPolicyDefaults(t *testing.T) {
	p := PollPolicy{}.withDefaults()
	assert.Equal(t, 800*time.Millisecond, p.Interval)
	assert.Equal(t, 1.0, p.Factor)
	assert.Equal(t, 3*time.Minute, p.MaxWait)
}

func TestPollPolicyBackoff(t *testing.T) {
	clock := &fakeClock{now: t0}
	p := PollPolicy{Interval: time.Second, Factor: 2, MaxInterval: 4 * time.Second, MaxWait: time.Minute}

	var at []time.Duration
	err := p.poll(context.Background(), clock, func(context.Context) (bool, error) {
		at = append(at, clock.Now().Sub(t0))
		return len(at) == 5, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{0, time.Second, 3 * time.Second, 7 * time.Second, 11 * time.Second}, at)
}
