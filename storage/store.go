package storage

import "context"

// IssueFilter bounds issue searches. Zero values match everything.
type IssueFilter struct {
	Status IssueStatus
	Limit  int
}

// ScheduleFilter bounds schedule searches. Zero values match everything.
type ScheduleFilter struct {
	Status    ScheduleStatus
	IssueID   string
	DedupeKey string
	Limit     int
}

// Store is the persistence contract consumed by the engine and scheduler.
// Implementations assign IDs and timestamps to records created without them.
type Store interface {
	CreateIssue(ctx context.Context, issue *Issue) error
	GetIssue(ctx context.Context, id string) (*Issue, error)
	UpdateIssue(ctx context.Context, issue *Issue) error
	SearchIssues(ctx context.Context, filter IssueFilter) ([]*Issue, error)

	CreateFlow(ctx context.Context, flow *Flow) error
	GetFlow(ctx context.Context, id string) (*Flow, error)
	SearchFlowsByIssue(ctx context.Context, issueID string) ([]*Flow, error)

	AddKnowledge(ctx context.Context, k *Knowledge) error
	SearchKnowledge(ctx context.Context, topic string, limit int) ([]*Knowledge, error)

	AddPondEntry(ctx context.Context, entry *PondEntry) error
	ListPond(ctx context.Context, limit int) ([]*PondEntry, error)

	AddInput(ctx context.Context, input *Input) error
	GetInput(ctx context.Context, id string) (*Input, error)
	UpdateInput(ctx context.Context, input *Input) error

	// StateDocument returns the persisted state document, or ErrNotFound
	// when none has been stored yet.
	StateDocument(ctx context.Context) (string, error)
	SetStateDocument(ctx context.Context, text string) error

	AddSchedule(ctx context.Context, s *Schedule) error
	GetSchedule(ctx context.Context, id string) (*Schedule, error)
	// UpdateSchedule applies mutate to the stored record and persists the
	// result, returning the updated record.
	UpdateSchedule(ctx context.Context, id string, mutate func(*Schedule)) (*Schedule, error)
	SearchSchedules(ctx context.Context, filter ScheduleFilter) ([]*Schedule, error)
}
