// Package event defines the typed, prioritized events that drive the
// orchestration core and the ordered queue they flow through.
package event

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Priority orders events within the queue. Higher priorities pop first.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// rank maps priorities to queue ordering; lower rank pops first.
func (p Priority) rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityNormal:
		return 1
	default:
		return 2
	}
}

// IsValid returns true if the priority is one of the known values.
func (p Priority) IsValid() bool {
	switch p {
	case PriorityHigh, PriorityNormal, PriorityLow:
		return true
	default:
		return false
	}
}

// Well-known event types produced by the core itself.
const (
	// TypeScheduleTriggered is emitted by the scheduler when a schedule fires.
	TypeScheduleTriggered = "SCHEDULE_TRIGGERED"
	// TypeInputReceived is emitted by the engine façade when an input is ingested.
	TypeInputReceived = "INPUT_RECEIVED"
)

// Event is a single unit of work submitted to the engine. Events are
// consumed exactly once and never mutated after creation.
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Priority  Priority       `json:"priority"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// New creates an event with a generated ID and the current timestamp.
// An invalid priority is coerced to normal.
func New(eventType string, priority Priority, payload map[string]any) *Event {
	if !priority.IsValid() {
		priority = PriorityNormal
	}
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Priority:  priority,
		Payload:   payload,
		Timestamp: time.Now(),
	}
}

// Validate checks that the event carries the required fields.
func (e *Event) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("event id is required")
	}
	if e.Type == "" {
		return fmt.Errorf("event type is required")
	}
	if !e.Priority.IsValid() {
		return fmt.Errorf("invalid priority: %s", e.Priority)
	}
	return nil
}

// Sink accepts events for later processing. The queue implements Sink;
// producers such as the scheduler and workflow executors depend only on it.
type Sink interface {
	Push(*Event)
}
