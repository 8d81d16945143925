package llm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/neilberkman/casesim/internal/core/models"
)

// LocalThreads emulates assistant threads and runs on top of a stateless
// Provider. Each run replays the thread as one prompt in its own goroutine.
type LocalThreads struct {
	provider     Provider
	instructions map[string]string
	runTimeout   time.Duration
	now          func() time.Time

	mu      sync.Mutex
	threads map[string]*localThread
	wg      sync.WaitGroup
}

type localThread struct {
	messages []models.Message
	runs     map[string]*localRun
}

type localRun struct {
	status models.RunStatus
	err    error
}

// LocalOption configures LocalThreads
type LocalOption func(*LocalThreads)

// WithRunTimeout bounds a single provider call
func WithRunTimeout(d time.Duration) LocalOption {
	return func(l *LocalThreads) { l.runTimeout = d }
}

// WithClock overrides time.Now for message timestamps
func WithClock(now func() time.Time) LocalOption {
	return func(l *LocalThreads) { l.now = now }
}

// NewLocalThreads creates a thread emulator. instructions maps an assistant id
// to its system instructions; unknown ids fall back to DefaultInstructions.
func NewLocalThreads(provider Provider, instructions map[string]string, opts ...LocalOption) *LocalThreads {
	l := &LocalThreads{
		provider:     provider,
		instructions: instructions,
		runTimeout:   2 * time.Minute,
		now:          time.Now,
		threads:      make(map[string]*localThread),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// CreateThread implements ThreadService
func (l *LocalThreads) CreateThread(ctx context.Context) (string, error) {
	id := "thread_" + uuid.NewString()
	l.mu.Lock()
	l.threads[id] = &localThread{runs: make(map[string]*localRun)}
	l.mu.Unlock()
	return id, nil
}

// PostMessage implements ThreadService
func (l *LocalThreads) PostMessage(ctx context.Context, threadID string, msg models.NewMessage) (models.Message, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	t, ok := l.threads[threadID]
	if !ok {
		return models.Message{}, fmt.Errorf("%w: %s", ErrUnknownThread, threadID)
	}
	kind := msg.Kind
	if kind == "" {
		kind = models.KindVisible
	}
	m := models.Message{
		ID:        "msg_" + uuid.NewString(),
		Role:      msg.Role,
		Kind:      kind,
		Text:      msg.Text,
		CreatedAt: l.now(),
	}
	t.messages = append(t.messages, m)
	return m, nil
}

// StartRun implements ThreadService
func (l *LocalThreads) StartRun(ctx context.Context, threadID, assistantID string) (string, error) {
	l.mu.Lock()
	t, ok := l.threads[threadID]
	if !ok {
		l.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrUnknownThread, threadID)
	}
	runID := "run_" + uuid.NewString()
	run := &localRun{status: models.RunInProgress}
	t.runs[runID] = run
	prompt := BuildTranscriptPrompt(l.instructionsFor(assistantID), t.messages)
	l.mu.Unlock()

	// The run outlives the request that started it, like a remote run does.
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.runTimeout)
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer cancel()

		text, err := l.provider.GenerateText(runCtx, prompt)

		l.mu.Lock()
		defer l.mu.Unlock()
		if err != nil {
			run.status = models.RunFailed
			run.err = err
			return
		}
		t.messages = append(t.messages, models.Message{
			ID:        "msg_" + uuid.NewString(),
			Role:      models.RoleAssistant,
			Kind:      models.KindVisible,
			Text:      text,
			CreatedAt: l.now(),
		})
		run.status = models.RunCompleted
	}()

	return runID, nil
}

// GetRunStatus implements ThreadService
func (l *LocalThreads) GetRunStatus(ctx context.Context, threadID, runID string) (models.RunStatus, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	t, ok := l.threads[threadID]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownThread, threadID)
	}
	run, ok := t.runs[runID]
	if !ok {
		return "", fmt.Errorf("unknown run %s on thread %s", runID, threadID)
	}
	return run.status, nil
}

// RunError returns the provider error of a failed run, if any
func (l *LocalThreads) RunError(threadID, runID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if t, ok := l.threads[threadID]; ok {
		if run, ok := t.runs[runID]; ok {
			return run.err
		}
	}
	return nil
}

// ListMessages implements ThreadService
func (l *LocalThreads) ListMessages(ctx context.Context, threadID string) ([]models.Message, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	t, ok := l.threads[threadID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownThread, threadID)
	}
	out := make([]models.Message, len(t.messages))
	copy(out, t.messages)
	return out, nil
}

// Wait blocks until every started run has finished
func (l *LocalThreads) Wait() {
	l.wg.Wait()
}

func (l *LocalThreads) instructionsFor(assistantID string) string {
	if s, ok := l.instructions[assistantID]; ok && s != "" {
		return s
	}
	return DefaultInstructions
}
