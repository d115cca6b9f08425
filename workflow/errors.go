package workflow

import "fmt"

// DuplicateNameError is returned when registering a workflow whose name is
// already taken.
type DuplicateNameError struct {
	Name string
}

func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("workflow %q is already registered", e.Name)
}

// ValidationError represents an invalid workflow definition or a malformed
// scheduling input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}
