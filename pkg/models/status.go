package models

// RunStatus represents the outcome of a pairing run in the run store
type RunStatus string

const (
	RunStatusUnset    RunStatus = ""          // Zero value = unset/unknown
	RunStatusRunning  RunStatus = "running"   // Run started but not finished
	RunStatusSuccess  RunStatus = "success"   // Pairs resolved with no contained errors
	RunStatusPartial  RunStatus = "partial"   // Pairs resolved but some items were skipped
	RunStatusFailure  RunStatus = "failure"   // No pairs could be resolved
	RunStatusNotFound RunStatus = "not_found" // Run not in database
	RunStatusDBError  RunStatus = "db_error"  // Database error occurred
)

// String implements fmt.Stringer for logging
func (s RunStatus) String() string {
	if s == "" {
		return "unset"
	}
	return string(s)
}

// IsValid returns true if the status is a known operational value
func (s RunStatus) IsValid() bool {
	switch s {
	case RunStatusRunning, RunStatusSuccess, RunStatusPartial, RunStatusFailure:
		return true
	}
	return false
}
