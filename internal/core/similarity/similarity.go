// Package similarity flags new cases that repeat earlier ones.
package similarity

import (
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// DefaultThreshold is the ratio at or above which two texts count as the same case
const DefaultThreshold = 0.75

// Policy says what the orchestrator does when a new case looks like an old one
type Policy string

const (
	// PolicyWarn keeps the case and reports the match
	PolicyWarn Policy = "warn"
	// PolicyRegenerate abandons the case and asks for another one
	PolicyRegenerate Policy = "regenerate"
)

// ParsePolicy validates a policy name; empty means PolicyWarn
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyWarn:
		return PolicyWarn, nil
	case PolicyRegenerate:
		return PolicyRegenerate, nil
	default:
		return "", fmt.Errorf("unknown similarity policy %q (want warn or regenerate)", s)
	}
}

// Ratio returns the case-insensitive longest-matching-blocks similarity of
// a and b in [0, 1], computed over runes.
func Ratio(a, b string) float64 {
	m := difflib.NewMatcher(splitRunes(a), splitRunes(b))
	return m.Ratio()
}

// MostSimilar returns the index and ratio of the prior closest to candidate.
// Blank priors are skipped; index is -1 when nothing was compared.
func MostSimilar(candidate string, priors []string) (int, float64) {
	best, bestRatio := -1, 0.0
	if strings.TrimSpace(candidate) == "" {
		return best, bestRatio
	}
	for i, p := range priors {
		if strings.TrimSpace(p) == "" {
			continue
		}
		if r := Ratio(candidate, p); best == -1 || r > bestRatio {
			best, bestRatio = i, r
		}
	}
	return best, bestRatio
}

// IsSimilar reports whether any prior reaches threshold against candidate
func IsSimilar(candidate string, priors []string, threshold float64) bool {
	idx, r := MostSimilar(candidate, priors)
	return idx >= 0 && r >= threshold
}

func splitRunes(s string) []string {
	s = strings.ToLower(s)
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}
