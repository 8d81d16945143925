package cli

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// Spinner shows a simple spinning animation while waiting
type Spinner struct {
	writer  io.Writer
	message string
	stop    chan struct{}
	done    sync.WaitGroup
}

// NewSpinner creates a new spinner with a message
func NewSpinner(w io.Writer, message string) *Spinner {
	return &Spinner{
		writer:  w,
		message: message,
		stop:    make(chan struct{}),
	}
}

// Start begins the spinner animation in a goroutine
func (s *Spinner) Start() {
	s.done.Add(1)
	go func() {
		defer s.done.Done()
		frames := []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
		ticker := time.NewTicker(80 * time.Millisecond)
		defer ticker.Stop()

		for i := 0; ; i = (i + 1) % len(frames) {
			fmt.Fprintf(s.writer, "\r%s %s", frames[i], s.message)
			select {
			case <-s.stop:
				// Clear the line
				fmt.Fprintf(s.writer, "\r\033[K")
				return
			case <-ticker.C:
			}
		}
	}()
}

// Stop stops the spinner and clears the line. It returns once the line is clear.
func (s *Spinner) Stop() {
	close(s.stop)
	s.done.Wait()
}
