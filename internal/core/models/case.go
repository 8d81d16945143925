package models

import (
	"errors"
	"strings"
	"time"
)

// CaseRecord is one finalized encounter as kept by a case-history store
type CaseRecord struct {
	ID        string
	User      string
	Specialty Specialty
	CreatedAt time.Time
	Summary   string   // Truncated final write-up, used as anti-repetition context
	Report    string   // Full final write-up
	Score     *float64 // nil when no grade could be extracted
}

// Validate checks if the record has required fields
func (c *CaseRecord) Validate() error {
	if strings.TrimSpace(c.User) == "" {
		return errors.New("user is required")
	}
	if !c.Specialty.Valid() {
		return errors.New("specialty is required")
	}
	if strings.TrimSpace(c.Summary) == "" {
		return errors.New("summary is required")
	}
	return nil
}

// HasScore reports whether a grade was recorded
func (c *CaseRecord) HasScore() bool {
	return c.Score != nil
}

// SameUser compares user names the way the stores do: trimmed, case-insensitive
func SameUser(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// CaseFilter narrows case listings; zero values match everything
type CaseFilter struct {
	User      string
	Specialty Specialty
	After     time.Time
	Before    time.Time
	Limit     int // defaults to 50
}
