package llm

import (
	"context"

	"github.com/neilberkman/casesim/internal/core/models"
)

// ThreadService is a stateful remote assistant: threads hold messages and
// runs execute an assistant against a thread asynchronously.
type ThreadService interface {
	CreateThread(ctx context.Context) (string, error)
	PostMessage(ctx context.Context, threadID string, msg models.NewMessage) (models.Message, error)
	StartRun(ctx context.Context, threadID, assistantID string) (string, error)
	GetRunStatus(ctx context.Context, threadID, runID string) (models.RunStatus, error)
	// ListMessages returns the whole thread, oldest first
	ListMessages(ctx context.Context, threadID string) ([]models.Message, error)
}
