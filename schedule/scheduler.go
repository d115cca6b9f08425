package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/c360studio/agentcore/event"
	"github.com/c360studio/agentcore/storage"
	"github.com/c360studio/agentcore/workflow"
)

// fireTimeout bounds the storage work done from a timer callback.
const fireTimeout = 30 * time.Second

// CreateOptions carries the optional parts of a Create call.
type CreateOptions struct {
	// DedupeKey, when set, ensures at most one active schedule exists per
	// (issue, key) pair: creating a second cancels the first.
	DedupeKey string

	// MaxOccurrences caps how many times a recurring schedule fires.
	// 0 means unbounded.
	MaxOccurrences int
}

// CreateResult is returned by a successful Create call.
type CreateResult struct {
	ScheduleID string
	NextRun    time.Time
	Pattern    string
	Reading    string
}

// Scheduler manages durable schedule records and one in-memory timer per
// active schedule. Firing timers never touch the state document directly;
// they emit trigger events into the sink, preserving the engine's single
// ordering discipline for state mutation.
type Scheduler struct {
	store  storage.Store
	interp Interpreter
	sink   event.Sink
	logger *slog.Logger
	tz     *time.Location
	clock  func() time.Time

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// WithTimezone sets the timezone passed to the interpreter.
func WithTimezone(tz *time.Location) Option {
	return func(s *Scheduler) {
		s.tz = tz
	}
}

// WithClock overrides the time source. Tests use this to pin "now".
func WithClock(clock func() time.Time) Option {
	return func(s *Scheduler) {
		s.clock = clock
	}
}

// NewScheduler creates a scheduler. Timers only start once Initialize or
// Create arm them.
func NewScheduler(store storage.Store, interp Interpreter, sink event.Sink, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:  store,
		interp: interp,
		sink:   sink,
		logger: slog.Default(),
		tz:     time.UTC,
		clock:  time.Now,
		timers: make(map[string]*time.Timer),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create interprets the request, enforces dedupe, persists the record, and
// arms its timer. Any interpreter or storage failure aborts the call
// without persisting a partial record.
func (s *Scheduler) Create(ctx context.Context, issueID, request string, action storage.ScheduleAction, opts CreateOptions) (*CreateResult, error) {
	if issueID == "" {
		return nil, &workflow.ValidationError{Field: "issue_id", Message: "issue id is required"}
	}
	if request == "" {
		return nil, &workflow.ValidationError{Field: "request", Message: "request text is required"}
	}

	interp, err := s.interp.Interpret(ctx, s.clock(), s.tz, request)
	if err != nil {
		return nil, err
	}

	// Cancelling the dedupe predecessor and inserting the replacement is
	// one logical operation.
	if opts.DedupeKey != "" {
		if err := s.cancelDuplicates(ctx, issueID, opts.DedupeKey); err != nil {
			return nil, err
		}
	}

	sched := &storage.Schedule{
		IssueID:        issueID,
		Request:        request,
		Action:         action,
		NextRun:        interp.Next,
		Pattern:        interp.Pattern,
		MaxOccurrences: opts.MaxOccurrences,
		DedupeKey:      opts.DedupeKey,
		Status:         storage.ScheduleStatusActive,
	}
	if err := s.store.AddSchedule(ctx, sched); err != nil {
		return nil, err
	}

	s.armTimer(sched.ID, sched.NextRun)

	s.logger.Info("Schedule created",
		"schedule_id", sched.ID,
		"issue_id", issueID,
		"next_run", sched.NextRun,
		"pattern", sched.Pattern)

	return &CreateResult{
		ScheduleID: sched.ID,
		NextRun:    sched.NextRun,
		Pattern:    interp.Pattern,
		Reading:    interp.Reading,
	}, nil
}

// cancelDuplicates cancels every active schedule with the same dedupe pair.
func (s *Scheduler) cancelDuplicates(ctx context.Context, issueID, dedupeKey string) error {
	existing, err := s.store.SearchSchedules(ctx, storage.ScheduleFilter{
		Status:    storage.ScheduleStatusActive,
		IssueID:   issueID,
		DedupeKey: dedupeKey,
	})
	if err != nil {
		return err
	}
	for _, prev := range existing {
		if _, err := s.store.UpdateSchedule(ctx, prev.ID, func(rec *storage.Schedule) {
			if rec.Status != storage.ScheduleStatusActive {
				return
			}
			rec.Status = storage.ScheduleStatusCancelled
		}); err != nil {
			return fmt.Errorf("cancel superseded schedule %s: %w", prev.ID, err)
		}
		s.clearTimer(prev.ID)
		s.logger.Info("Superseded schedule cancelled",
			"schedule_id", prev.ID,
			"issue_id", issueID,
			"dedupe_key", dedupeKey)
	}
	return nil
}

// Cancel marks a schedule cancelled and clears its timer. It returns false,
// without error, when the schedule does not exist or is not active.
func (s *Scheduler) Cancel(ctx context.Context, scheduleID string) (bool, error) {
	sched, err := s.store.GetSchedule(ctx, scheduleID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if sched.Status != storage.ScheduleStatusActive {
		return false, nil
	}

	// The status is rechecked inside the closure: the record may have
	// completed or been cancelled between the load above and this write.
	cancelled := false
	if _, err := s.store.UpdateSchedule(ctx, scheduleID, func(rec *storage.Schedule) {
		if rec.Status != storage.ScheduleStatusActive {
			return
		}
		rec.Status = storage.ScheduleStatusCancelled
		cancelled = true
	}); err != nil {
		return false, err
	}
	s.clearTimer(scheduleID)
	if !cancelled {
		return false, nil
	}

	s.logger.Info("Schedule cancelled", "schedule_id", scheduleID)
	return true, nil
}

// CancelByIssue cancels every active schedule for the issue, returning how
// many were cancelled.
func (s *Scheduler) CancelByIssue(ctx context.Context, issueID string) (int, error) {
	active, err := s.store.SearchSchedules(ctx, storage.ScheduleFilter{
		Status:  storage.ScheduleStatusActive,
		IssueID: issueID,
	})
	if err != nil {
		return 0, err
	}

	cancelled := 0
	for _, sched := range active {
		ok, err := s.Cancel(ctx, sched.ID)
		if err != nil {
			return cancelled, err
		}
		if ok {
			cancelled++
		}
	}
	return cancelled, nil
}

// List returns persisted schedules matching the filter.
func (s *Scheduler) List(ctx context.Context, filter storage.ScheduleFilter) ([]*storage.Schedule, error) {
	return s.store.SearchSchedules(ctx, filter)
}

// ListByIssue returns all schedules for an issue, regardless of status.
func (s *Scheduler) ListByIssue(ctx context.Context, issueID string) ([]*storage.Schedule, error) {
	return s.store.SearchSchedules(ctx, storage.ScheduleFilter{IssueID: issueID})
}

// Initialize re-derives timers from persisted records after a restart.
// Past-due schedules fire immediately through a zero-delay timer so no
// wakeup is ever missed.
func (s *Scheduler) Initialize(ctx context.Context) error {
	active, err := s.store.SearchSchedules(ctx, storage.ScheduleFilter{Status: storage.ScheduleStatusActive})
	if err != nil {
		return fmt.Errorf("load active schedules: %w", err)
	}

	now := s.clock()
	for _, sched := range active {
		s.armTimer(sched.ID, sched.NextRun)
		s.logger.Info("Schedule recovered",
			"schedule_id", sched.ID,
			"issue_id", sched.IssueID,
			"next_run", sched.NextRun,
			"past_due", !sched.NextRun.After(now))
	}

	s.logger.Info("Scheduler initialized", "active_schedules", len(active))
	return nil
}

// Shutdown clears all in-memory timers without touching persisted status,
// so a subsequent Initialize cleanly re-derives them.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, timer := range s.timers {
		timer.Stop()
		delete(s.timers, id)
	}
	s.logger.Info("Scheduler shut down")
}

// ActiveTimers returns the number of armed timers.
func (s *Scheduler) ActiveTimers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// armTimer arms (or re-arms) the schedule's timer for max(0, nextRun-now).
func (s *Scheduler) armTimer(scheduleID string, nextRun time.Time) {
	delay := nextRun.Sub(s.clock())
	if delay < 0 {
		delay = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.timers[scheduleID]; ok {
		prev.Stop()
	}
	s.timers[scheduleID] = time.AfterFunc(delay, func() {
		s.fire(scheduleID)
	})
}

// clearTimer stops and removes the schedule's timer, if armed.
func (s *Scheduler) clearTimer(scheduleID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if timer, ok := s.timers[scheduleID]; ok {
		timer.Stop()
		delete(s.timers, scheduleID)
	}
}

// fire runs in the timer goroutine. Every error here is logged and
// swallowed: a failing fire must never take the scheduler down.
func (s *Scheduler) fire(scheduleID string) {
	ctx, cancel := context.WithTimeout(context.Background(), fireTimeout)
	defer cancel()

	// Re-load and re-validate: a concurrent Cancel may have won the race,
	// in which case this fire silently becomes a no-op.
	sched, err := s.store.GetSchedule(ctx, scheduleID)
	if err != nil {
		s.logger.Error("Failed to load firing schedule", "schedule_id", scheduleID, "error", err)
		s.clearTimer(scheduleID)
		return
	}
	if sched.Status != storage.ScheduleStatusActive {
		s.logger.Debug("Skipping fire for non-active schedule",
			"schedule_id", scheduleID,
			"status", sched.Status)
		s.clearTimer(scheduleID)
		return
	}

	s.sink.Push(event.New(event.TypeScheduleTriggered, event.PriorityNormal, map[string]any{
		"issueId":    sched.IssueID,
		"scheduleId": sched.ID,
		"action": map[string]any{
			"type":    sched.Action.Type,
			"payload": sched.Action.Payload,
		},
		"originalRequestText": sched.Request,
	}))

	now := s.clock()
	occurrences := sched.Occurrences + 1
	recurs := sched.Pattern != "" && (sched.MaxOccurrences == 0 || occurrences < sched.MaxOccurrences)

	var nextRun time.Time
	if recurs {
		next, ok := nextFromPattern(sched.Pattern, now)
		if !ok {
			next, ok = s.reinterpret(ctx, sched)
		}
		if ok {
			nextRun = next
		} else {
			recurs = false
		}
	}

	// A Cancel may land between the revalidation above and this write,
	// widened by the reinterpret round-trip. The closure rechecks the
	// status so a cancelled record is never flipped back.
	applied := false
	updated, err := s.store.UpdateSchedule(ctx, scheduleID, func(rec *storage.Schedule) {
		if rec.Status != storage.ScheduleStatusActive {
			return
		}
		applied = true
		last := now
		rec.LastRun = &last
		rec.Occurrences = occurrences
		if recurs {
			rec.NextRun = nextRun
		} else {
			rec.Status = storage.ScheduleStatusCompleted
		}
	})
	if err != nil {
		s.logger.Error("Failed to update fired schedule", "schedule_id", scheduleID, "error", err)
		s.clearTimer(scheduleID)
		return
	}
	if !applied {
		s.clearTimer(scheduleID)
		s.logger.Debug("Schedule no longer active at update, leaving it untouched",
			"schedule_id", scheduleID,
			"status", updated.Status)
		return
	}

	if recurs {
		s.armTimer(scheduleID, updated.NextRun)
		s.logger.Info("Schedule fired and re-armed",
			"schedule_id", scheduleID,
			"occurrences", updated.Occurrences,
			"next_run", updated.NextRun)
	} else {
		s.clearTimer(scheduleID)
		s.logger.Info("Schedule fired and completed",
			"schedule_id", scheduleID,
			"occurrences", updated.Occurrences)
	}
}

// reinterpret re-invokes the interpreter for recurrence patterns the fixed
// interval arithmetic cannot handle.
func (s *Scheduler) reinterpret(ctx context.Context, sched *storage.Schedule) (time.Time, bool) {
	interp, err := s.interp.Interpret(ctx, s.clock(), s.tz, sched.Request)
	if err != nil {
		s.logger.Warn("Failed to reinterpret recurrence, completing schedule",
			"schedule_id", sched.ID,
			"pattern", sched.Pattern,
			"error", err)
		return time.Time{}, false
	}
	return interp.Next, true
}
