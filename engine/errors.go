package engine

import "fmt"

// ExecutionError reports a workflow executor failure. It is caught and
// logged at the engine loop boundary and never escapes the loop.
type ExecutionError struct {
	Workflow  string
	EventID   string
	EventType string
	Err       error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("workflow %q failed on event %s (%s): %v", e.Workflow, e.EventID, e.EventType, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}
