package models

// RunStatus is the coarse lifecycle state of a remote assistant run
type RunStatus string

const (
	RunInProgress RunStatus = "in_progress"
	RunCompleted  RunStatus = "completed"
	RunFailed     RunStatus = "failed"
)

// Done reports whether the run has left the in-progress state
func (s RunStatus) Done() bool {
	return s != RunInProgress
}
