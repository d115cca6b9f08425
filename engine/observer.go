package engine

import "github.com/c360studio/agentcore/event"

// Observer receives engine lifecycle notifications. Callbacks run inline on
// the engine loop, so implementations must be fast and must not block.
type Observer interface {
	// EventReceived fires when an event is submitted to the queue.
	EventReceived(ev *event.Event)

	// ProcessingStarted fires when the loop picks an event up.
	ProcessingStarted(ev *event.Event)

	// WorkflowResolved fires after resolution, with the ordered workflow names.
	WorkflowResolved(ev *event.Event, workflows []string)

	// WorkflowExecuted fires after each executor returns. err is nil on success.
	WorkflowExecuted(ev *event.Event, workflow string, err error)

	// ProcessingError fires when an executor fails and the event's remaining
	// workflows are skipped.
	ProcessingError(ev *event.Event, workflow string, err error)
}

// NopObserver implements Observer with no-ops. Embed it to observe a subset
// of notifications.
type NopObserver struct{}

func (NopObserver) EventReceived(*event.Event)                   {}
func (NopObserver) ProcessingStarted(*event.Event)               {}
func (NopObserver) WorkflowResolved(*event.Event, []string)      {}
func (NopObserver) WorkflowExecuted(*event.Event, string, error) {}
func (NopObserver) ProcessingError(*event.Event, string, error)  {}
