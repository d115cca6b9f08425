// Package storage provides persistence for the orchestration core: business
// entities, the shared state document, and durable schedule records. The
// primary implementation is backed by NATS JetStream KV; an in-memory
// implementation backs the unit suites.
package storage

import (
	"time"

	"github.com/google/uuid"
)

// IssueStatus represents the lifecycle state of an issue.
type IssueStatus string

const (
	IssueStatusOpen   IssueStatus = "open"
	IssueStatusClosed IssueStatus = "closed"
)

// Issue is a tracked concern the assistant is working on.
type Issue struct {
	ID          string      `json:"id"`
	Title       string      `json:"title"`
	Description string      `json:"description,omitempty"`
	Status      IssueStatus `json:"status"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Flow is a multi-step activity attached to an issue.
type Flow struct {
	ID        string    `json:"id"`
	IssueID   string    `json:"issue_id"`
	Name      string    `json:"name"`
	Status    string    `json:"status,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Knowledge is a durable fact the assistant has learned.
type Knowledge struct {
	ID        string    `json:"id"`
	Topic     string    `json:"topic"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// PondEntry is a loose note held for later triage.
type PondEntry struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Tags      []string  `json:"tags,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// InputStatus represents the processing state of a pending input.
type InputStatus string

const (
	InputStatusPending   InputStatus = "pending"
	InputStatusProcessed InputStatus = "processed"
)

// Input is a raw piece of incoming content awaiting classification.
type Input struct {
	ID        string      `json:"id"`
	Source    string      `json:"source"`
	Content   string      `json:"content"`
	Status    InputStatus `json:"status"`
	CreatedAt time.Time   `json:"created_at"`
}

// ScheduleStatus represents the lifecycle state of a schedule. Schedules are
// never deleted, only status-transitioned, to preserve audit history.
type ScheduleStatus string

const (
	ScheduleStatusActive    ScheduleStatus = "active"
	ScheduleStatusCancelled ScheduleStatus = "cancelled"
	ScheduleStatusCompleted ScheduleStatus = "completed"
)

// IsValid returns true if the status is a known schedule status.
func (s ScheduleStatus) IsValid() bool {
	switch s {
	case ScheduleStatusActive, ScheduleStatusCancelled, ScheduleStatusCompleted:
		return true
	default:
		return false
	}
}

// ScheduleAction describes what to do when a schedule fires. It rides along
// in the trigger event payload.
type ScheduleAction struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Schedule is a durable record describing future, possibly recurring, event
// emission derived from a free-text request.
type Schedule struct {
	ID             string         `json:"id"`
	IssueID        string         `json:"issue_id"`
	Request        string         `json:"request"`
	Action         ScheduleAction `json:"action"`
	NextRun        time.Time      `json:"next_run"`
	LastRun        *time.Time     `json:"last_run,omitempty"`
	Pattern        string         `json:"pattern,omitempty"`
	Occurrences    int            `json:"occurrences"`
	MaxOccurrences int            `json:"max_occurrences,omitempty"`
	DedupeKey      string         `json:"dedupe_key,omitempty"`
	Status         ScheduleStatus `json:"status"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// NewID generates a unique record identifier.
func NewID() string {
	return uuid.New().String()
}
