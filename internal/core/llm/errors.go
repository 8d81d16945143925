package llm

import (
	"errors"
	"fmt"
	"net/http"
)

// APIError is a non-2xx answer from the assistants API
type APIError struct {
	Status  int
	Type    string
	Message string
}

func (e *APIError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("assistants API %d (%s): %s", e.Status, e.Type, e.Message)
	}
	return fmt.Sprintf("assistants API %d: %s", e.Status, e.Message)
}

// Temporary reports whether repeating the request may succeed
func (e *APIError) Temporary() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// ErrUnknownThread is returned by LocalThreads for ids it never issued
var ErrUnknownThread = errors.New("unknown thread")
