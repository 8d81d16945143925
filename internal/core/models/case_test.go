package models

import (
	"testing"
	"time"
)

func TestCaseRecordValidation(t *testing.T) {
	score := 7.5
	tests := []struct {
		name    string
		record  CaseRecord
		wantErr bool
	}{
		{
			name: "valid record",
			record: CaseRecord{
				User:      "ana",
				Specialty: SpecialtyPediatrics,
				Summary:   "Lactente com febre há 3 dias",
				Score:     &score,
				CreatedAt: time.Now(),
			},
			wantErr: false,
		},
		{
			name: "missing user",
			record: CaseRecord{
				Specialty: SpecialtyPediatrics,
				Summary:   "Lactente com febre",
			},
			wantErr: true,
		},
		{
			name: "unknown specialty",
			record: CaseRecord{
				User:      "ana",
				Specialty: "cardiology",
				Summary:   "Dor torácica",
			},
			wantErr: true,
		},
		{
			name: "blank summary",
			record: CaseRecord{
				User:      "ana",
				Specialty: SpecialtyEmergency,
				Summary:   "   ",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.record.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSameUser(t *testing.T) {
	if !SameUser(" Ana ", "ana") {
		t.Error("expected trimmed case-insensitive match")
	}
	if SameUser("ana", "anabela") {
		t.Error("expected different users not to match")
	}
}
