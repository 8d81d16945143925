package cli

import (
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

func formatScore(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// formatTimestamp formats a timestamp in a human-friendly way
func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	if time.Since(t) < 7*24*time.Hour {
		return humanize.Time(t)
	}
	if t.Year() == time.Now().Year() {
		return t.Local().Format("Jan 2 15:04")
	}
	return t.Local().Format("Jan 2, 2006")
}

// truncateSummary flattens text and cuts it at a word boundary near maxLen runes
func truncateSummary(summary string, maxLen int) string {
	summary = strings.Join(strings.Fields(summary), " ")

	r := []rune(summary)
	if len(r) <= maxLen {
		return summary
	}

	truncated := string(r[:maxLen])
	lastSpace := strings.LastIndex(truncated, " ")
	if lastSpace > len(truncated)-20 && lastSpace > 0 {
		truncated = truncated[:lastSpace]
	}

	return truncated + "..."
}
