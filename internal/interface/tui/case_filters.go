package tui

import (
	"strings"
	"time"

	"github.com/neilberkman/casesim/internal/core/models"
	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/br"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

// CaseFilters represents parsed filters from a case list query
type CaseFilters struct {
	Query      string // free text matched against summaries
	Specialty  models.Specialty
	AfterDate  time.Time
	BeforeDate time.Time
}

// Filter converts the parsed query to a store filter for user
func (f CaseFilters) Filter(user string, limit int) models.CaseFilter {
	return models.CaseFilter{
		User:      user,
		Specialty: f.Specialty,
		After:     f.AfterDate,
		Before:    f.BeforeDate,
		Limit:     limit,
	}
}

// ParseCaseQuery extracts filters from a query string
// Supports:
//   - specialty:<name> (or esp:<name>)
//   - after:yesterday, after:ontem, before:2024-11-01
//   - date:<when> as a synonym for after:
func ParseCaseQuery(query string) CaseFilters {
	filters := CaseFilters{}
	var queryParts []string

	for _, token := range strings.Fields(query) {
		key, val, ok := strings.Cut(token, ":")
		if !ok || val == "" {
			queryParts = append(queryParts, token)
			continue
		}

		switch strings.ToLower(key) {
		case "specialty", "esp":
			if sp, err := models.ParseSpecialty(val); err == nil {
				filters.Specialty = sp
				continue
			}
		case "date", "after":
			if t, ok := ParseDate(val); ok {
				filters.AfterDate = t
				continue
			}
		case "before":
			if t, ok := ParseDate(val); ok {
				filters.BeforeDate = t
				continue
			}
		}

		// Not a filter, add to query
		queryParts = append(queryParts, token)
	}

	filters.Query = strings.Join(queryParts, " ")
	return filters
}

var dateParser = newDateParser()

func newDateParser() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(br.All...)
	w.Add(common.All...)
	return w
}

// ParseDate parses natural language ("yesterday", "2 days ago", "ontem")
// and common layouts. Dashes stand in for spaces so "last-week" works.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}

	formats := []string{
		"2006-01-02",
		"2006-01-02T15:04:05",
		time.RFC3339,
		"2006/01/02",
		"02/01/2006",
	}
	for _, format := range formats {
		if t, err := time.ParseInLocation(format, s, time.Local); err == nil {
			return t, true
		}
	}

	result, err := dateParser.Parse(strings.ReplaceAll(s, "-", " "), time.Now())
	if err == nil && result != nil {
		return result.Time, true
	}
	return time.Time{}, false
}
