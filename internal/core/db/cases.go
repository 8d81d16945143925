package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/neilberkman/casesim/internal/core/models"
)

// ErrCaseNotFound is returned by GetCase when no case matches
var ErrCaseNotFound = errors.New("case not found")

func userKey(user string) string {
	return strings.ToLower(strings.TrimSpace(user))
}

// RecordCase appends one finalized case
func (db *DB) RecordCase(ctx context.Context, rec models.CaseRecord) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("invalid case: %w", err)
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = db.now()
	}

	var score sql.NullFloat64
	if rec.Score != nil {
		score = sql.NullFloat64{Float64: *rec.Score, Valid: true}
	}

	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO cases (case_id, user_name, user_key, specialty, created_at, summary, report, score)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, strings.TrimSpace(rec.User), userKey(rec.User), string(rec.Specialty),
		formatTime(rec.CreatedAt), rec.Summary, rec.Report, score)
	if err != nil {
		return fmt.Errorf("insert case: %w", err)
	}
	return nil
}

// FetchRecentSummaries returns the user's last n summaries in a specialty, oldest first
func (db *DB) FetchRecentSummaries(ctx context.Context, user string, specialty models.Specialty, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}

	rows, err := db.conn.QueryContext(ctx, `
		SELECT summary FROM (
			SELECT id, summary, created_at FROM cases
			WHERE user_key = ? AND specialty = ?
			ORDER BY created_at DESC, id DESC
			LIMIT ?
		) ORDER BY created_at ASC, id ASC
	`, userKey(user), string(specialty), n)
	if err != nil {
		return nil, fmt.Errorf("query summaries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// FetchAllScores returns every recorded score of the user, oldest first
func (db *DB) FetchAllScores(ctx context.Context, user string) ([]float64, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT score FROM cases
		WHERE user_key = ? AND score IS NOT NULL
		ORDER BY created_at ASC, id ASC
	`, userKey(user))
	if err != nil {
		return nil, fmt.Errorf("query scores: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// CountCases returns how many cases the user has finalized
func (db *DB) CountCases(ctx context.Context, user string) (int, error) {
	var n int
	err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM cases WHERE user_key = ?`, userKey(user)).Scan(&n)
	return n, err
}

// ListCases returns matching cases, newest first
func (db *DB) ListCases(ctx context.Context, f models.CaseFilter) ([]models.CaseRecord, error) {
	query := `SELECT case_id, user_name, specialty, created_at, summary, report, score FROM cases WHERE 1=1`
	var args []interface{}

	if f.User != "" {
		query += ` AND user_key = ?`
		args = append(args, userKey(f.User))
	}
	if f.Specialty != "" {
		query += ` AND specialty = ?`
		args = append(args, string(f.Specialty))
	}
	if !f.After.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, formatTime(f.After))
	}
	if !f.Before.IsZero() {
		query += ` AND created_at < ?`
		args = append(args, formatTime(f.Before))
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query cases: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []models.CaseRecord
	for rows.Next() {
		rec, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// likeEscaper makes a user prefix match literally in a LIKE pattern
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// GetCase looks a case up by id or unambiguous id prefix
func (db *DB) GetCase(ctx context.Context, id string) (*models.CaseRecord, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrCaseNotFound
	}

	rows, err := db.conn.QueryContext(ctx, `
		SELECT case_id, user_name, specialty, created_at, summary, report, score
		FROM cases
		WHERE case_id = ? OR case_id LIKE ? || '%' ESCAPE '\'
		ORDER BY case_id = ? DESC
		LIMIT 2
	`, id, likeEscaper.Replace(id), id)
	if err != nil {
		return nil, fmt.Errorf("query case: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var found []models.CaseRecord
	for rows.Next() {
		rec, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		found = append(found, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	switch {
	case len(found) == 0:
		return nil, fmt.Errorf("%w: %s", ErrCaseNotFound, id)
	case found[0].ID == id || len(found) == 1:
		return &found[0], nil
	default:
		return nil, fmt.Errorf("case id prefix %q is ambiguous", id)
	}
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanCase(r scanner) (models.CaseRecord, error) {
	var (
		rec       models.CaseRecord
		specialty string
		createdAt string
		score     sql.NullFloat64
	)
	if err := r.Scan(&rec.ID, &rec.User, &specialty, &createdAt, &rec.Summary, &rec.Report, &score); err != nil {
		return rec, err
	}
	rec.Specialty = models.Specialty(specialty)
	rec.CreatedAt = parseTime(createdAt)
	if score.Valid {
		v := score.Float64
		rec.Score = &v
	}
	return rec, nil
}
