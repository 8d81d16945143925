package models

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Specialty is the clinical area a simulated case is drawn from
type Specialty string

const (
	SpecialtyGeneralPractice Specialty = "general-practice"
	SpecialtyPediatrics      Specialty = "pediatrics"
	SpecialtyEmergency       Specialty = "emergency"
)

// Specialties lists every supported specialty in display order
var Specialties = []Specialty{
	SpecialtyGeneralPractice,
	SpecialtyPediatrics,
	SpecialtyEmergency,
}

var specialtyLabels = map[Specialty]string{
	SpecialtyGeneralPractice: "PSF",
	SpecialtyPediatrics:      "Pediatria",
	SpecialtyEmergency:       "Emergências",
}

var specialtyAliases = map[string]Specialty{
	"general-practice": SpecialtyGeneralPractice,
	"general":          SpecialtyGeneralPractice,
	"gp":               SpecialtyGeneralPractice,
	"psf":              SpecialtyGeneralPractice,
	"pediatrics":       SpecialtyPediatrics,
	"pediatria":        SpecialtyPediatrics,
	"peds":             SpecialtyPediatrics,
	"emergency":        SpecialtyEmergency,
	"emergencias":      SpecialtyEmergency,
	"emergencia":       SpecialtyEmergency,
	"er":               SpecialtyEmergency,
}

// Label returns the name shown to students (and written to spreadsheets)
func (s Specialty) Label() string {
	if l, ok := specialtyLabels[s]; ok {
		return l
	}
	return string(s)
}

// Valid reports whether s is one of the supported specialties
func (s Specialty) Valid() bool {
	_, ok := specialtyLabels[s]
	return ok
}

// ParseSpecialty accepts canonical names, labels and common aliases,
// ignoring case and accents ("Emergências" == "emergencias").
func ParseSpecialty(s string) (Specialty, error) {
	key := FoldKey(s)
	if sp, ok := specialtyAliases[key]; ok {
		return sp, nil
	}
	return "", fmt.Errorf("unknown specialty %q (want one of psf, pediatria, emergencias)", s)
}

// FoldKey trims, lowercases and strips combining marks from s
func FoldKey(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.ToLower(strings.TrimSpace(folded))
}
