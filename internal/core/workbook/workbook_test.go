package workbook

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/neilberkman/casesim/internal/core/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "casos.xlsx"))
	require.NoError(t, err)
	return s
}

func score(v float64) *float64 { return &v }

func TestOpenCreatesSheets(t *testing.T) {
	s := newStore(t)

	f, err := excelize.OpenFile(s.Path())
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	assert.ElementsMatch(t, []string{CasesSheet, LoginSheet}, f.GetSheetList())
	rows, err := f.GetRows(CasesSheet)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, casesHeader, rows[0])

	// Reopening an existing workbook leaves it alone
	_, err = Open(s.Path())
	require.NoError(t, err)
}

func TestRecordThenFetchRecent(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	rec := models.CaseRecord{
		User: "ana", Specialty: models.SpecialtyEmergency,
		Summary: "Politrauma após colisão", Report: "### Prontuário Completo\nNota: 7,5/10", Score: score(7.5),
	}
	require.NoError(t, s.RecordCase(ctx, rec))

	got, err := s.FetchRecentSummaries(ctx, "ana", models.SpecialtyEmergency, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{rec.Summary}, got)

	scores, err := s.FetchAllScores(ctx, " ANA")
	require.NoError(t, err)
	assert.Equal(t, []float64{7.5}, scores)
}

func TestFetchRecentOrderAndFilters(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	base := time.Date(2025, 5, 1, 14, 0, 0, 0, time.Local)

	for i, r := range []models.CaseRecord{
		{User: "Ana", Specialty: models.SpecialtyPediatrics, Summary: "p1", CreatedAt: base},
		{User: "ana", Specialty: models.SpecialtyPediatrics, Summary: "p2", CreatedAt: base.Add(time.Hour)},
		{User: "ana", Specialty: models.SpecialtyPediatrics, Summary: "p3", CreatedAt: base.Add(time.Hour)},
		{User: "ana", Specialty: models.SpecialtyGeneralPractice, Summary: "g1", CreatedAt: base.Add(2 * time.Hour), Score: score(6)},
		{User: "bruno", Specialty: models.SpecialtyPediatrics, Summary: "b1", CreatedAt: base.Add(3 * time.Hour)},
	} {
		require.NoError(t, s.RecordCase(ctx, r), "record %d", i)
	}

	got, err := s.FetchRecentSummaries(ctx, "ana", models.SpecialtyPediatrics, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"p2", "p3"}, got)

	n, err := s.CountCases(ctx, "ana")
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	list, err := s.ListCases(ctx, models.CaseFilter{User: "ana", After: base.Add(90 * time.Minute)})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "g1", list[0].Summary)
	require.NotNil(t, list[0].Score)
	assert.Equal(t, 6.0, *list[0].Score)

	all, err := s.ListCases(ctx, models.CaseFilter{})
	require.NoError(t, err)
	assert.Equal(t, "b1", all[0].Summary, "newest first")
}

func TestExistingSheetWithAccentedHeaders(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legado.xlsx")

	f := excelize.NewFile()
	_, err := f.NewSheet(CasesSheet)
	require.NoError(t, err)
	_, err = f.NewSheet(LoginSheet)
	require.NoError(t, err)
	header := []string{"Especialidade", "Usuário", "DataHora", "Resumo", "Nota"}
	require.NoError(t, f.SetSheetRow(CasesSheet, "A1", &header))
	old := []interface{}{"Emergências", "Carla", "10/03/2025 09:30", "IAM inferior", "8,5"}
	require.NoError(t, f.SetSheetRow(CasesSheet, "A2", &old))
	login := []string{"Usuário", "Senha"}
	require.NoError(t, f.SetSheetRow(LoginSheet, "A1", &login))
	cred := []string{"carla", "plantao24"}
	require.NoError(t, f.SetSheetRow(LoginSheet, "A2", &cred))
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	s, err := Open(path)
	require.NoError(t, err)
	ctx := context.Background()

	got, err := s.FetchRecentSummaries(ctx, "CARLA", models.SpecialtyEmergency, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"IAM inferior"}, got)

	scores, err := s.FetchAllScores(ctx, "carla")
	require.NoError(t, err)
	assert.Equal(t, []float64{8.5}, scores)

	// New rows follow the sheet's own column order
	require.NoError(t, s.RecordCase(ctx, models.CaseRecord{
		User: "carla", Specialty: models.SpecialtyEmergency, Summary: "TEP", CreatedAt: time.Date(2025, 3, 11, 8, 0, 0, 0, time.Local),
	}))
	got, err = s.FetchRecentSummaries(ctx, "carla", models.SpecialtyEmergency, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"IAM inferior", "TEP"}, got)

	ok, err := s.ValidateCredentials(ctx, " Carla ", "plantao24")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.ValidateCredentials(ctx, "carla", "PLANTAO24")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGetCase(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.RecordCase(ctx, models.CaseRecord{ID: "abc-123", User: "ana", Specialty: models.SpecialtyPediatrics, Summary: "x", Report: "relatório"}))
	require.NoError(t, s.RecordCase(ctx, models.CaseRecord{ID: "abd-456", User: "ana", Specialty: models.SpecialtyPediatrics, Summary: "y"}))

	rec, err := s.GetCase(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, "relatório", rec.Report)

	_, err = s.GetCase(ctx, "ab")
	assert.Error(t, err)
	_, err = s.GetCase(ctx, "zzz")
	assert.ErrorIs(t, err, ErrCaseNotFound)
}

func TestConcurrentRecord(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.RecordCase(ctx, models.CaseRecord{User: "ana", Specialty: models.SpecialtyEmergency, Summary: "z"}))
		}()
	}
	wg.Wait()

	n, err := s.CountCases(ctx, "ana")
	require.NoError(t, err)
	assert.Equal(t, 8, n)
}
