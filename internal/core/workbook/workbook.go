// Package workbook keeps case history and logins in an xlsx spreadsheet,
// the layout the simulator's spreadsheet deployments already use.
package workbook

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/neilberkman/casesim/internal/core/models"
	"github.com/xuri/excelize/v2"
)

const (
	// CasesSheet holds one row per finalized case
	CasesSheet = "Casos"
	// LoginSheet holds student credentials
	LoginSheet = "Login"
)

// Column keys, compared after accent and case folding
const (
	colUser      = "usuario"
	colTime      = "datahora"
	colSummary   = "resumo"
	colSpecialty = "especialidade"
	colScore     = "nota"
	colID        = "id"
	colReport    = "relatorio"
	colPassword  = "senha"
)

var (
	casesHeader = []string{"usuario", "datahora", "resumo", "especialidade", "nota", "id", "relatorio"}
	loginHeader = []string{"usuario", "senha"}
)

// timeFormats are tried in order; the second is what hand-edited sheets tend to carry
var timeFormats = []string{
	"2006-01-02 15:04:05",
	"02/01/2006 15:04",
	"02/01/2006 15:04:05",
	time.RFC3339,
}

// ErrCaseNotFound is returned by GetCase when no row matches
var ErrCaseNotFound = errors.New("case not found")

// Store is a case-history store backed by one xlsx file.
// Every call reopens the file so edits made in a spreadsheet app are seen.
type Store struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

// Open returns a store for path, creating the workbook and any missing sheets
func Open(path string) (*Store, error) {
	s := &Store{path: path, now: time.Now}

	s.mu.Lock()
	defer s.mu.Unlock()

	var f *excelize.File
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		f = excelize.NewFile()
	} else {
		f, err = excelize.OpenFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open workbook: %w", err)
		}
	}
	defer func() { _ = f.Close() }()

	changed := false
	sheets := []struct {
		name   string
		header []string
	}{
		{CasesSheet, casesHeader},
		{LoginSheet, loginHeader},
	}
	for _, sh := range sheets {
		idx, err := f.GetSheetIndex(sh.name)
		if err != nil {
			return nil, err
		}
		if idx != -1 {
			continue
		}
		if _, err := f.NewSheet(sh.name); err != nil {
			return nil, fmt.Errorf("failed to add sheet %s: %w", sh.name, err)
		}
		header := sh.header
		if err := f.SetSheetRow(sh.name, "A1", &header); err != nil {
			return nil, err
		}
		changed = true
	}

	// A fresh file starts with an empty Sheet1 nobody uses
	if idx, _ := f.GetSheetIndex("Sheet1"); idx != -1 && changed {
		if rows, _ := f.GetRows("Sheet1"); len(rows) == 0 {
			if err := f.DeleteSheet("Sheet1"); err != nil {
				return nil, err
			}
			if idx, err := f.GetSheetIndex(CasesSheet); err == nil && idx != -1 {
				f.SetActiveSheet(idx)
			}
		}
	}

	if changed {
		if err := f.SaveAs(path); err != nil {
			return nil, fmt.Errorf("failed to save workbook: %w", err)
		}
	}
	return s, nil
}

// Path returns the workbook file
func (s *Store) Path() string { return s.path }

// RecordCase appends one row to the Casos sheet
func (s *Store) RecordCase(ctx context.Context, rec models.CaseRecord) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("invalid case: %w", err)
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := excelize.OpenFile(s.path)
	if err != nil {
		return fmt.Errorf("failed to open workbook: %w", err)
	}
	defer func() { _ = f.Close() }()

	rows, err := f.GetRows(CasesSheet)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", CasesSheet, err)
	}
	if len(rows) == 0 {
		rows = [][]string{casesHeader}
		if err := f.SetSheetRow(CasesSheet, "A1", &casesHeader); err != nil {
			return err
		}
	}

	var score interface{} = ""
	if rec.Score != nil {
		score = *rec.Score
	}
	values := map[string]interface{}{
		colUser:      strings.TrimSpace(rec.User),
		colTime:      rec.CreatedAt.Local().Format(timeFormats[0]),
		colSummary:   rec.Summary,
		colSpecialty: rec.Specialty.Label(),
		colScore:     score,
		colID:        rec.ID,
		colReport:    rec.Report,
	}

	// Follow whatever column order the sheet has
	header := rows[0]
	row := make([]interface{}, len(header))
	for i, h := range header {
		if v, ok := values[models.FoldKey(h)]; ok {
			row[i] = v
		} else {
			row[i] = ""
		}
	}

	cell, err := excelize.CoordinatesToCellName(1, len(rows)+1)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(CasesSheet, cell, &row); err != nil {
		return fmt.Errorf("failed to write case row: %w", err)
	}
	if err := f.Save(); err != nil {
		return fmt.Errorf("failed to save workbook: %w", err)
	}
	return nil
}

// FetchRecentSummaries returns the user's last n summaries in a specialty, oldest first
func (s *Store) FetchRecentSummaries(ctx context.Context, user string, specialty models.Specialty, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}

	cases, err := s.userCases(user)
	if err != nil {
		return nil, err
	}

	var out []string
	for _, c := range cases {
		if c.Specialty == specialty {
			out = append(out, c.Summary)
		}
	}
	if len(out) > n {
		out = out[len(out)-n:]
	}
	return out, nil
}

// FetchAllScores returns every recorded score of the user, oldest first
func (s *Store) FetchAllScores(ctx context.Context, user string) ([]float64, error) {
	cases, err := s.userCases(user)
	if err != nil {
		return nil, err
	}
	var out []float64
	for _, c := range cases {
		if c.Score != nil {
			out = append(out, *c.Score)
		}
	}
	return out, nil
}

// CountCases returns how many cases the user has finalized
func (s *Store) CountCases(ctx context.Context, user string) (int, error) {
	cases, err := s.userCases(user)
	if err != nil {
		return 0, err
	}
	return len(cases), nil
}

// ListCases returns matching cases, newest first
func (s *Store) ListCases(ctx context.Context, f models.CaseFilter) ([]models.CaseRecord, error) {
	all, err := s.readCases()
	if err != nil {
		return nil, err
	}

	var out []models.CaseRecord
	for i := len(all) - 1; i >= 0; i-- {
		c := all[i]
		if f.User != "" && !models.SameUser(c.User, f.User) {
			continue
		}
		if f.Specialty != "" && c.Specialty != f.Specialty {
			continue
		}
		if !f.After.IsZero() && c.CreatedAt.Before(f.After) {
			continue
		}
		if !f.Before.IsZero() && !c.CreatedAt.Before(f.Before) {
			continue
		}
		out = append(out, c)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// GetCase looks a case up by id or unambiguous id prefix
func (s *Store) GetCase(ctx context.Context, id string) (*models.CaseRecord, error) {
	id = strings.TrimSpace(id)
	all, err := s.readCases()
	if err != nil {
		return nil, err
	}

	var found []models.CaseRecord
	for _, c := range all {
		if c.ID == "" || id == "" {
			continue
		}
		if c.ID == id {
			return &c, nil
		}
		if strings.HasPrefix(c.ID, id) {
			found = append(found, c)
		}
	}
	switch len(found) {
	case 0:
		return nil, fmt.Errorf("%w: %s", ErrCaseNotFound, id)
	case 1:
		return &found[0], nil
	default:
		return nil, fmt.Errorf("case id prefix %q is ambiguous", id)
	}
}

// ValidateCredentials checks the Login sheet. Passwords are stored as typed.
func (s *Store) ValidateCredentials(ctx context.Context, user, password string) (bool, error) {
	records, err := s.readSheet(LoginSheet)
	if err != nil {
		return false, err
	}
	for _, r := range records {
		if models.SameUser(r[colUser], user) && r[colPassword] == password {
			return true, nil
		}
	}
	return false, nil
}

// Login is one row of the Login sheet
type Login struct {
	User     string
	Password string
}

// Logins returns every student on the Login sheet with a non-empty name
func (s *Store) Logins(ctx context.Context) ([]Login, error) {
	records, err := s.readSheet(LoginSheet)
	if err != nil {
		return nil, err
	}
	var out []Login
	for _, r := range records {
		if u := strings.TrimSpace(r[colUser]); u != "" {
			out = append(out, Login{User: u, Password: r[colPassword]})
		}
	}
	return out, nil
}

// AllCases returns every case of every student, oldest first
func (s *Store) AllCases(ctx context.Context) ([]models.CaseRecord, error) {
	return s.readCases()
}

func (s *Store) userCases(user string) ([]models.CaseRecord, error) {
	all, err := s.readCases()
	if err != nil {
		return nil, err
	}
	var out []models.CaseRecord
	for _, c := range all {
		if models.SameUser(c.User, user) {
			out = append(out, c)
		}
	}
	return out, nil
}

// readCases returns every parseable row, oldest first; rows with equal
// times keep sheet order.
func (s *Store) readCases() ([]models.CaseRecord, error) {
	records, err := s.readSheet(CasesSheet)
	if err != nil {
		return nil, err
	}

	out := make([]models.CaseRecord, 0, len(records))
	for _, r := range records {
		sp, err := models.ParseSpecialty(r[colSpecialty])
		if err != nil {
			continue
		}
		rec := models.CaseRecord{
			ID:        r[colID],
			User:      strings.TrimSpace(r[colUser]),
			Specialty: sp,
			CreatedAt: parseTime(r[colTime]),
			Summary:   r[colSummary],
			Report:    r[colReport],
		}
		if v, ok := parseScore(r[colScore]); ok {
			rec.Score = &v
		}
		out = append(out, rec)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// readSheet returns data rows keyed by folded header names
func (s *Store) readSheet(sheet string) ([]map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := excelize.OpenFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer func() { _ = f.Close() }()

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", sheet, err)
	}
	if len(rows) < 2 {
		return nil, nil
	}

	keys := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		keys[i] = models.FoldKey(h)
	}

	out := make([]map[string]string, 0, len(rows)-1)
	for _, row := range rows[1:] {
		rec := make(map[string]string, len(keys))
		for i, k := range keys {
			if i < len(row) {
				rec[k] = row[i]
			}
		}
		out = append(out, rec)
	}
	return out, nil
}

func parseTime(s string) time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range timeFormats {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t
		}
	}
	return time.Time{}
}

func parseScore(s string) (float64, bool) {
	s = strings.TrimSpace(strings.Replace(s, ",", ".", 1))
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
