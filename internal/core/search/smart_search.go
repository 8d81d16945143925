package search

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/neilberkman/casesim/internal/core/db"
	"github.com/neilberkman/casesim/internal/core/models"
	"github.com/neilberkman/casesim/internal/core/similarity"
)

// SmartSearcher implements three-tier search: case id → FTS5 → similarity
type SmartSearcher struct {
	database *db.DB
	minRatio float64
	scanMax  int
}

// SmartSearchResult represents a search result with relevance score
type SmartSearchResult struct {
	Case      models.CaseRecord
	Relevance float64
	Method    string // "exact", "fts5", or "similar"
}

// NewSmartSearcher creates a new smart searcher
func NewSmartSearcher(database *db.DB) *SmartSearcher {
	return &SmartSearcher{
		database: database,
		minRatio: 0.35,
		scanMax:  500,
	}
}

var caseIDPattern = regexp.MustCompile(`^[0-9a-f]{8}(-[0-9a-f]{0,4}){0,4}[0-9a-f]*$`)

// Search finds cases for query, limited to user when non-empty
func (s *SmartSearcher) Search(ctx context.Context, query, user string, limit int) ([]SmartSearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("query cannot be empty")
	}
	if limit <= 0 {
		limit = 10
	}

	// Tier 1: a pasted case id
	if caseIDPattern.MatchString(strings.ToLower(query)) {
		rec, err := s.database.GetCase(ctx, query)
		if err == nil && (user == "" || models.SameUser(rec.User, user)) {
			return []SmartSearchResult{{Case: *rec, Relevance: 1.0, Method: "exact"}}, nil
		}
		if err != nil && !errors.Is(err, db.ErrCaseNotFound) {
			return nil, err
		}
	}

	// Tier 2: keyword search
	fts, ok := s.tryFTS5Search(ctx, query, user, limit)
	if ok && len(fts) >= 3 {
		return fts, nil
	}

	// Tier 3: rank summaries by text similarity, after the few keyword hits
	similar, err := s.similarSearch(ctx, query, user, limit)
	if err != nil {
		return nil, err
	}
	return mergeResults(fts, similar, limit), nil
}

func mergeResults(first, rest []SmartSearchResult, limit int) []SmartSearchResult {
	seen := make(map[string]bool, len(first))
	out := make([]SmartSearchResult, 0, len(first)+len(rest))
	for _, r := range first {
		seen[r.Case.ID] = true
		out = append(out, r)
	}
	for _, r := range rest {
		if !seen[r.Case.ID] {
			out = append(out, r)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *SmartSearcher) tryFTS5Search(ctx context.Context, query, user string, limit int) ([]SmartSearchResult, bool) {
	hits, err := Cases(s.database, query, Options{User: user, Limit: limit})
	if err != nil {
		return nil, false
	}

	results := make([]SmartSearchResult, 0, len(hits))
	for i, h := range hits {
		rec, err := s.database.GetCase(ctx, h.CaseID)
		if err != nil {
			continue
		}
		results = append(results, SmartSearchResult{
			Case:      *rec,
			Relevance: 0.9 - float64(i)*0.01, // keep FTS order
			Method:    "fts5",
		})
	}
	return results, true
}

func (s *SmartSearcher) similarSearch(ctx context.Context, query, user string, limit int) ([]SmartSearchResult, error) {
	cases, err := s.database.ListCases(ctx, models.CaseFilter{User: user, Limit: s.scanMax})
	if err != nil {
		return nil, err
	}

	var results []SmartSearchResult
	for _, c := range cases {
		r := similarity.Ratio(query, c.Summary)
		if r < s.minRatio {
			continue
		}
		results = append(results, SmartSearchResult{Case: c, Relevance: r, Method: "similar"})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Relevance > results[j].Relevance
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}
