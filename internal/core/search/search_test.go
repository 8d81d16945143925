package search

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/neilberkman/casesim/internal/core/db"
	"github.com/neilberkman/casesim/internal/core/models"
)

func newSearchDB(t *testing.T) *db.DB {
	t.Helper()
	tmpfile, err := os.CreateTemp("", "test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Remove(tmpfile.Name()) })
	_ = tmpfile.Close()

	database, err := db.New(tmpfile.Name())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })

	base := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	cases := []struct {
		id, user, summary, report string
		sp                        models.Specialty
	}{
		{"aaaa0001-0000-0000-0000-000000000001", "ana", "Asma em exacerbação", "Criança com asma, uso de salbutamol. Nota: 8/10", models.SpecialtyPediatrics},
		{"aaaa0002-0000-0000-0000-000000000002", "ana", "Pneumonia comunitária", "Idoso com pneumonia, amoxicilina. Nota: 6/10", models.SpecialtyGeneralPractice},
		{"aaaa0003-0000-0000-0000-000000000003", "bruno", "Asma grave", "Adulto com crise de asma grave, sulfato de magnésio", models.SpecialtyEmergency},
		{"aaaa0004-0000-0000-0000-000000000004", "ana", "IAM com supra", "Dor torácica, IAM-CSST, trombólise", models.SpecialtyEmergency},
	}
	for i, c := range cases {
		err := database.RecordCase(context.Background(), models.CaseRecord{
			ID: c.id, User: c.user, Specialty: c.sp, Summary: c.summary, Report: c.report,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("RecordCase() error = %v", err)
		}
	}
	return database
}

func TestCases(t *testing.T) {
	database := newSearchDB(t)

	t.Run("BasicSearch", func(t *testing.T) {
		results, err := Cases(database, "asma", Options{})
		if err != nil {
			t.Fatalf("Search failed: %v", err)
		}
		if len(results) != 2 {
			t.Fatalf("Expected 2 results for 'asma', got %d", len(results))
		}
		// Most recent first
		if results[0].User != "bruno" {
			t.Errorf("Expected bruno's case first, got %s", results[0].User)
		}
		for _, r := range results {
			if r.CaseID == "" || r.Snippet == "" {
				t.Errorf("incomplete result %+v", r)
			}
		}
	})

	t.Run("UserFilter", func(t *testing.T) {
		results, err := Cases(database, "asma", Options{User: " ANA "})
		if err != nil {
			t.Fatalf("Search failed: %v", err)
		}
		if len(results) != 1 || results[0].Specialty != string(models.SpecialtyPediatrics) {
			t.Errorf("Expected ana's pediatrics case, got %+v", results)
		}
		if results[0].Score.Valid {
			t.Error("Expected ungraded case to have a NULL score")
		}
	})

	t.Run("SpecialCharsFallback", func(t *testing.T) {
		results, err := Cases(database, "IAM-CSST", Options{})
		if err != nil {
			t.Fatalf("Search failed: %v", err)
		}
		if len(results) != 1 {
			t.Errorf("Expected 1 LIKE result, got %d", len(results))
		}
	})

	t.Run("EmptyQuery", func(t *testing.T) {
		if _, err := Cases(database, "   ", Options{}); err == nil {
			t.Error("Expected error for empty query")
		}
	})
}

func TestSmartSearch(t *testing.T) {
	database := newSearchDB(t)
	s := NewSmartSearcher(database)
	ctx := context.Background()

	t.Run("ExactID", func(t *testing.T) {
		results, err := s.Search(ctx, "aaaa0002", "", 10)
		if err != nil {
			t.Fatalf("Search failed: %v", err)
		}
		if len(results) != 1 || results[0].Method != "exact" {
			t.Fatalf("Expected exact hit, got %+v", results)
		}
		if results[0].Case.Summary != "Pneumonia comunitária" {
			t.Errorf("wrong case %+v", results[0].Case)
		}
	})

	t.Run("SimilarFallback", func(t *testing.T) {
		results, err := s.Search(ctx, "asma em exacerbacao", "ana", 5)
		if err != nil {
			t.Fatalf("Search failed: %v", err)
		}
		if len(results) == 0 {
			t.Fatal("Expected at least one result")
		}
		if results[0].Case.Summary != "Asma em exacerbação" {
			t.Errorf("Expected asthma case first, got %q (%s)", results[0].Case.Summary, results[0].Method)
		}
	})

	t.Run("FewKeywordHitsKept", func(t *testing.T) {
		results, err := s.Search(ctx, "salbutamol", "ana", 5)
		if err != nil {
			t.Fatalf("Search failed: %v", err)
		}
		if len(results) == 0 || results[0].Method != "fts5" {
			t.Fatalf("Expected the keyword hit first, got %+v", results)
		}
		if results[0].Case.Summary != "Asma em exacerbação" {
			t.Errorf("wrong case %+v", results[0].Case)
		}
	})
}
