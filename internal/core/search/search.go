package search

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/neilberkman/casesim/internal/core/db"
)

// SearchResult represents a single search result
type SearchResult struct {
	CaseID    string
	User      string
	Specialty string
	Snippet   string
	CreatedAt string
	Score     sql.NullFloat64
}

// Options narrows a search
type Options struct {
	User  string // empty searches every student
	Limit int    // defaults to 100
}

// Default sort order for search results (most recent first)
const defaultOrderBy = "c.created_at DESC"

// Cases performs a full-text search over case summaries and reports.
// Results are ordered by case time (most recent first).
func Cases(database *db.DB, query string, opts Options) ([]SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("search query cannot be empty")
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}

	userClause := ""
	var userArg []interface{}
	if u := strings.ToLower(strings.TrimSpace(opts.User)); u != "" {
		userClause = "AND c.user_key = ?"
		userArg = append(userArg, u)
	}

	// FTS5 query syntax chokes on these; fall back to substring matching
	hasSpecialChars := strings.ContainsAny(query, "-_@#$%&/:()\"*")

	var rows *sql.Rows
	var err error

	if hasSpecialChars {
		args := append([]interface{}{query, query}, userArg...)
		args = append(args, limit)
		rows, err = database.Query(fmt.Sprintf(`
			SELECT
				c.case_id,
				c.user_name,
				c.specialty,
				c.summary,
				c.created_at,
				c.score
			FROM cases c
			WHERE (c.report LIKE '%%' || ? || '%%' OR c.summary LIKE '%%' || ? || '%%')
			%s
			ORDER BY %s
			LIMIT ?
		`, userClause, defaultOrderBy), args...)
	} else {
		args := append([]interface{}{query}, userArg...)
		args = append(args, limit)
		rows, err = database.Query(fmt.Sprintf(`
			SELECT
				c.case_id,
				c.user_name,
				c.specialty,
				snippet(cases_fts, -1, '', '', '...', 32) as snippet,
				c.created_at,
				c.score
			FROM cases_fts
			JOIN cases c ON cases_fts.rowid = c.id
			WHERE cases_fts MATCH ?
			%s
			ORDER BY %s
			LIMIT ?
		`, userClause, defaultOrderBy), args...)
	}
	if err != nil {
		return nil, fmt.Errorf("search query failed: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(
			&r.CaseID,
			&r.User,
			&r.Specialty,
			&r.Snippet,
			&r.CreatedAt,
			&r.Score,
		); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		results = append(results, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating results: %w", err)
	}

	return results, nil
}
