package llm

import (
	"context"
	"strings"

	"github.com/neilberkman/casesim/internal/core/models"
)

// Provider is the interface for stateless LLM backends
type Provider interface {
	// GenerateText generates text from a prompt
	GenerateText(ctx context.Context, prompt string) (string, error)

	// Name returns the provider name (e.g., "bedrock")
	Name() string
}

// maxTranscriptMessages bounds how much of a thread is replayed to a stateless provider.
// The first message (the opening instruction) is always kept.
const maxTranscriptMessages = 40

// BuildTranscriptPrompt flattens instructions and a thread into a single prompt
func BuildTranscriptPrompt(instructions string, messages []models.Message) string {
	if len(messages) > maxTranscriptMessages {
		kept := make([]models.Message, 0, maxTranscriptMessages)
		kept = append(kept, messages[0])
		kept = append(kept, messages[len(messages)-maxTranscriptMessages+1:]...)
		messages = kept
	}

	var b strings.Builder
	if instructions != "" {
		b.WriteString(strings.TrimSpace(instructions))
		b.WriteString("\n\n")
	}
	for _, msg := range messages {
		role := "Human"
		if msg.Role == models.RoleAssistant {
			role = "Assistant"
		}
		b.WriteString(role)
		b.WriteString(": ")
		b.WriteString(strings.TrimSpace(msg.Text))
		b.WriteString("\n\n")
	}
	b.WriteString("Assistant:")
	return b.String()
}
