// Package grade pulls the numeric score out of an assistant's free-text
// closing write-up.
package grade

import (
	"regexp"
	"strconv"
	"strings"
)

// DefaultLabel is the word that introduces a grade in the write-up ("Nota: 8/10")
const DefaultLabel = "nota"

// outOfTen matches a standalone "N/10" with N of one or two digits. The
// leading group keeps "110/10" or "2.5.3/10" from matching on their tail.
var outOfTen = regexp.MustCompile(`(?:^|[^\d.,])(\d{1,2}(?:[.,]\d+)?)\s*/\s*10\b`)

// Extractor finds grades introduced by a configurable label
type Extractor struct {
	labeled *regexp.Regexp
}

// NewExtractor builds an extractor for label. An empty label means DefaultLabel.
func NewExtractor(label string) *Extractor {
	label = strings.TrimSpace(label)
	if label == "" {
		label = DefaultLabel
	}
	pattern := `(?i)\b` + regexp.QuoteMeta(label) +
		`(?:\s+(?:final|estimada))?` + // "nota final", "nota estimada"
		`[\s*_]*[:\-–]?[\s*_]*` + // markdown emphasis around the colon
		`(\d+(?:[.,]\d+)?)` +
		`(?:\s*/\s*10)?`
	return &Extractor{labeled: regexp.MustCompile(pattern)}
}

var defaultExtractor = NewExtractor(DefaultLabel)

// Extract returns the grade found in text using DefaultLabel
func Extract(text string) (float64, bool) {
	return defaultExtractor.Extract(text)
}

// Extract returns the first labeled grade, falling back to the last
// standalone "N/10". The bool is false when neither is present; callers
// must treat that as an unresolved grade, not as zero.
func (e *Extractor) Extract(text string) (float64, bool) {
	if m := e.labeled.FindStringSubmatch(text); m != nil {
		if v, ok := parseDecimal(m[1]); ok {
			return v, true
		}
	}

	all := outOfTen.FindAllStringSubmatch(text, -1)
	for i := len(all) - 1; i >= 0; i-- {
		if v, ok := parseDecimal(all[i][1]); ok {
			return v, true
		}
	}

	return 0, false
}

// InRange reports whether v lies on the 0 to 10 scale the directive asks for
func InRange(v float64) bool {
	return v >= 0 && v <= 10
}

func parseDecimal(s string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.Replace(s, ",", ".", 1), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
