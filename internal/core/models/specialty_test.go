package models

import "testing"

func TestParseSpecialty(t *testing.T) {
	tests := []struct {
		in      string
		want    Specialty
		wantErr bool
	}{
		{"PSF", SpecialtyGeneralPractice, false},
		{"general-practice", SpecialtyGeneralPractice, false},
		{"Pediatria", SpecialtyPediatrics, false},
		{"Emergências", SpecialtyEmergency, false},
		{"  emergencias ", SpecialtyEmergency, false},
		{"cardiologia", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseSpecialty(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseSpecialty(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseSpecialty(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSpecialtyLabelRoundTrip(t *testing.T) {
	for _, sp := range Specialties {
		got, err := ParseSpecialty(sp.Label())
		if err != nil {
			t.Fatalf("label %q did not parse: %v", sp.Label(), err)
		}
		if got != sp {
			t.Errorf("ParseSpecialty(%q) = %q, want %q", sp.Label(), got, sp)
		}
	}
}

func TestFoldKey(t *testing.T) {
	if got := FoldKey(" Usuário "); got != "usuario" {
		t.Errorf("FoldKey = %q, want usuario", got)
	}
}
