package orchestrator

import (
	"context"

	"github.com/neilberkman/casesim/internal/core/models"
)

// CaseHistoryStore is the append-only case log the orchestrator reads
// anti-repetition context from and writes finalized cases to.
// User names match trimmed and case-insensitively.
type CaseHistoryStore interface {
	RecordCase(ctx context.Context, rec models.CaseRecord) error
	// FetchRecentSummaries returns at most n summaries, oldest first
	FetchRecentSummaries(ctx context.Context, user string, specialty models.Specialty, n int) ([]string, error)
	FetchAllScores(ctx context.Context, user string) ([]float64, error)
	CountCases(ctx context.Context, user string) (int, error)
}

// CredentialValidator checks a student's login
type CredentialValidator interface {
	ValidateCredentials(ctx context.Context, user, password string) (bool, error)
}
