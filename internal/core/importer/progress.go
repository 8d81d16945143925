package importer

import (
	"fmt"
	"io"
	"strings"
	"time"
)

// ProgressCallback defines the interface for progress reporting
type ProgressCallback interface {
	Start(total int)
	Update(label string)
	Finish()
}

// ProgressReporter draws a progress bar while cases are imported
type ProgressReporter struct {
	writer    io.Writer
	total     int
	current   int
	startTime time.Time
}

// NewProgressReporter creates a new progress reporter
func NewProgressReporter(w io.Writer) *ProgressReporter {
	return &ProgressReporter{writer: w}
}

// Start resets the bar for total rows
func (p *ProgressReporter) Start(total int) {
	p.total = total
	p.current = 0
	p.startTime = time.Now()
}

// Update advances the bar by one row
func (p *ProgressReporter) Update(label string) {
	if p.total == 0 {
		return
	}
	p.current++

	pct := float64(p.current) / float64(p.total) * 100

	barWidth := 40
	filled := barWidth * p.current / p.total
	bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)

	// Truncate display text to fit terminal
	label = strings.ReplaceAll(label, "\n", " ")
	if r := []rune(label); len(r) > 50 {
		label = string(r[:47]) + "..."
	}

	var eta time.Duration
	if elapsed := time.Since(p.startTime); elapsed > 0 {
		perRow := elapsed / time.Duration(p.current)
		eta = perRow * time.Duration(p.total-p.current)
	}

	_, _ = fmt.Fprintf(p.writer, "\r[%s] %3.0f%% (%d/%d) ETA: %s | %s",
		bar, pct, p.current, p.total, eta.Round(time.Second), label)
}

// Finish completes the progress display
func (p *ProgressReporter) Finish() {
	elapsed := time.Since(p.startTime)
	_, _ = fmt.Fprintf(p.writer, "\nCompleted: read %d cases in %s\n", p.total, elapsed.Round(time.Millisecond))
}
