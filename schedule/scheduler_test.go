package schedule

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/agentcore/event"
	"github.com/c360studio/agentcore/storage"
	"github.com/c360studio/agentcore/workflow"
)

// stubInterpreter returns canned interpretations without a model.
type stubInterpreter struct {
	mu      sync.Mutex
	delay   time.Duration
	pattern string
	reading string
	err     error
	calls   int
}

func (s *stubInterpreter) Interpret(_ context.Context, now time.Time, _ *time.Location, _ string) (*Interpretation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &Interpretation{
		Next:    now.Add(s.delay),
		Pattern: s.pattern,
		Reading: s.reading,
	}, nil
}

func (s *stubInterpreter) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// chanSink collects pushed events on a channel.
type chanSink struct {
	ch chan *event.Event
}

func newChanSink() *chanSink {
	return &chanSink{ch: make(chan *event.Event, 16)}
}

func (c *chanSink) Push(ev *event.Event) {
	c.ch <- ev
}

func (c *chanSink) wait(t *testing.T, timeout time.Duration) *event.Event {
	t.Helper()
	select {
	case ev := <-c.ch:
		return ev
	case <-time.After(timeout):
		t.Fatal("timed out waiting for trigger event")
		return nil
	}
}

func (c *chanSink) expectNone(t *testing.T, within time.Duration) {
	t.Helper()
	select {
	case ev := <-c.ch:
		t.Fatalf("unexpected event: %s", ev.Type)
	case <-time.After(within):
	}
}

func TestScheduler_CreateAndFireOneShot(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	sink := newChanSink()
	interp := &stubInterpreter{delay: 20 * time.Millisecond, reading: "in a moment"}
	s := NewScheduler(store, interp, sink)
	defer s.Shutdown()

	before := time.Now()
	res, err := s.Create(ctx, "issue-1", "in 5 minutes", storage.ScheduleAction{Type: "REMINDER"}, CreateOptions{})
	require.NoError(t, err)
	assert.NotEmpty(t, res.ScheduleID)
	assert.Equal(t, "in a moment", res.Reading)
	assert.WithinDuration(t, before.Add(20*time.Millisecond), res.NextRun, 5*time.Second)

	ev := sink.wait(t, time.Second)
	assert.Equal(t, event.TypeScheduleTriggered, ev.Type)
	assert.Equal(t, "issue-1", ev.Payload["issueId"])
	assert.Equal(t, res.ScheduleID, ev.Payload["scheduleId"])
	assert.Equal(t, "in 5 minutes", ev.Payload["originalRequestText"])
	action, ok := ev.Payload["action"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "REMINDER", action["type"])

	// Non-recurring schedules complete after one fire.
	require.Eventually(t, func() bool {
		sched, err := store.GetSchedule(ctx, res.ScheduleID)
		return err == nil && sched.Status == storage.ScheduleStatusCompleted
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, s.ActiveTimers())
}

func TestScheduler_InterpreterFailureCreatesNothing(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	interp := &stubInterpreter{err: &workflow.ValidationError{Field: "next", Message: "no execution time"}}
	s := NewScheduler(store, interp, newChanSink())
	defer s.Shutdown()

	_, err := s.Create(ctx, "issue-1", "whenever", storage.ScheduleAction{Type: "REMINDER"}, CreateOptions{})
	var verr *workflow.ValidationError
	require.ErrorAs(t, err, &verr)

	all, err := store.SearchSchedules(ctx, storage.ScheduleFilter{})
	require.NoError(t, err)
	assert.Empty(t, all)
	assert.Equal(t, 0, s.ActiveTimers())
}

func TestScheduler_CreateValidation(t *testing.T) {
	s := NewScheduler(storage.NewMemoryStore(), &stubInterpreter{delay: time.Hour}, newChanSink())
	defer s.Shutdown()

	_, err := s.Create(context.Background(), "", "in 5 minutes", storage.ScheduleAction{}, CreateOptions{})
	var verr *workflow.ValidationError
	assert.ErrorAs(t, err, &verr)

	_, err = s.Create(context.Background(), "issue-1", "", storage.ScheduleAction{}, CreateOptions{})
	assert.ErrorAs(t, err, &verr)
}

func TestScheduler_Cancel(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	s := NewScheduler(store, &stubInterpreter{delay: time.Hour}, newChanSink())
	defer s.Shutdown()

	res, err := s.Create(ctx, "issue-1", "in an hour", storage.ScheduleAction{Type: "REMINDER"}, CreateOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, s.ActiveTimers())

	t.Run("unknown id returns false", func(t *testing.T) {
		ok, err := s.Cancel(ctx, "no-such-schedule")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("first cancel returns true", func(t *testing.T) {
		ok, err := s.Cancel(ctx, res.ScheduleID)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, 0, s.ActiveTimers())

		sched, err := store.GetSchedule(ctx, res.ScheduleID)
		require.NoError(t, err)
		assert.Equal(t, storage.ScheduleStatusCancelled, sched.Status)
	})

	t.Run("second cancel returns false", func(t *testing.T) {
		ok, err := s.Cancel(ctx, res.ScheduleID)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestScheduler_CancelBeatsFire(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	sink := newChanSink()
	s := NewScheduler(store, &stubInterpreter{delay: 60 * time.Millisecond}, sink)
	defer s.Shutdown()

	res, err := s.Create(ctx, "issue-1", "soon", storage.ScheduleAction{Type: "REMINDER"}, CreateOptions{})
	require.NoError(t, err)

	ok, err := s.Cancel(ctx, res.ScheduleID)
	require.NoError(t, err)
	require.True(t, ok)

	// The timer is stopped; even if it had fired, revalidation would see
	// the cancelled status and skip emission.
	sink.expectNone(t, 150*time.Millisecond)
}

// gateSink blocks each Push until released, holding a firing schedule
// between its revalidation and its status update.
type gateSink struct {
	entered chan struct{}
	release chan struct{}
}

func newGateSink() *gateSink {
	return &gateSink{
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
}

func (g *gateSink) Push(_ *event.Event) {
	g.entered <- struct{}{}
	<-g.release
}

func TestScheduler_CancelDuringFireIsNotOverwritten(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	sink := newGateSink()
	s := NewScheduler(store, &stubInterpreter{delay: 10 * time.Millisecond}, sink)
	defer s.Shutdown()

	res, err := s.Create(ctx, "issue-1", "soon", storage.ScheduleAction{Type: "REMINDER"}, CreateOptions{})
	require.NoError(t, err)

	// Wait until the fire has revalidated (it saw active) and is paused
	// mid-emission.
	select {
	case <-sink.entered:
	case <-time.After(time.Second):
		t.Fatal("schedule never fired")
	}

	// The cancel lands while the fire is in flight.
	ok, err := s.Cancel(ctx, res.ScheduleID)
	require.NoError(t, err)
	require.True(t, ok)

	sched, err := store.GetSchedule(ctx, res.ScheduleID)
	require.NoError(t, err)
	require.Equal(t, storage.ScheduleStatusCancelled, sched.Status)

	// Releasing the fire must not flip the record to completed: there is
	// no transition out of cancelled.
	close(sink.release)
	require.Eventually(t, func() bool {
		return s.ActiveTimers() == 0
	}, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	sched, err = store.GetSchedule(ctx, res.ScheduleID)
	require.NoError(t, err)
	assert.Equal(t, storage.ScheduleStatusCancelled, sched.Status)
	assert.Equal(t, 0, sched.Occurrences)
	assert.Nil(t, sched.LastRun)
}

func TestScheduler_DedupeKeepsOneActive(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	s := NewScheduler(store, &stubInterpreter{delay: time.Hour}, newChanSink())
	defer s.Shutdown()

	first, err := s.Create(ctx, "issue-1", "every morning", storage.ScheduleAction{Type: "BRIEFING"},
		CreateOptions{DedupeKey: "morning-brief"})
	require.NoError(t, err)

	second, err := s.Create(ctx, "issue-1", "every morning at 8", storage.ScheduleAction{Type: "BRIEFING"},
		CreateOptions{DedupeKey: "morning-brief"})
	require.NoError(t, err)

	active, err := s.List(ctx, storage.ScheduleFilter{Status: storage.ScheduleStatusActive, IssueID: "issue-1"})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, second.ScheduleID, active[0].ID)

	cancelled, err := store.GetSchedule(ctx, first.ScheduleID)
	require.NoError(t, err)
	assert.Equal(t, storage.ScheduleStatusCancelled, cancelled.Status)
	assert.Equal(t, 1, s.ActiveTimers())
}

func TestScheduler_CancelByIssue(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	s := NewScheduler(store, &stubInterpreter{delay: time.Hour}, newChanSink())
	defer s.Shutdown()

	_, err := s.Create(ctx, "issue-1", "a", storage.ScheduleAction{Type: "A"}, CreateOptions{})
	require.NoError(t, err)
	_, err = s.Create(ctx, "issue-1", "b", storage.ScheduleAction{Type: "B"}, CreateOptions{})
	require.NoError(t, err)
	_, err = s.Create(ctx, "issue-2", "c", storage.ScheduleAction{Type: "C"}, CreateOptions{})
	require.NoError(t, err)

	n, err := s.CancelByIssue(ctx, "issue-1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	remaining, err := s.List(ctx, storage.ScheduleFilter{Status: storage.ScheduleStatusActive})
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "issue-2", remaining[0].IssueID)
	assert.Equal(t, 1, s.ActiveTimers())
}

func TestScheduler_RecurrenceWithMaxOccurrences(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	sink := newChanSink()
	// The pattern is not interval-shaped, so each re-arm goes back through
	// the interpreter.
	interp := &stubInterpreter{delay: 20 * time.Millisecond, pattern: "on the hour, twice"}
	s := NewScheduler(store, interp, sink)
	defer s.Shutdown()

	res, err := s.Create(ctx, "issue-1", "twice, shortly", storage.ScheduleAction{Type: "REMINDER"},
		CreateOptions{MaxOccurrences: 2})
	require.NoError(t, err)

	first := sink.wait(t, time.Second)
	assert.Equal(t, res.ScheduleID, first.Payload["scheduleId"])
	second := sink.wait(t, time.Second)
	assert.Equal(t, res.ScheduleID, second.Payload["scheduleId"])

	// Exactly two fires: completed afterward with no third timer armed.
	require.Eventually(t, func() bool {
		sched, err := store.GetSchedule(ctx, res.ScheduleID)
		return err == nil && sched.Status == storage.ScheduleStatusCompleted
	}, time.Second, 5*time.Millisecond)

	sched, err := store.GetSchedule(ctx, res.ScheduleID)
	require.NoError(t, err)
	assert.Equal(t, 2, sched.Occurrences)
	require.NotNil(t, sched.LastRun)
	assert.Equal(t, 0, s.ActiveTimers())
	sink.expectNone(t, 100*time.Millisecond)
}

func TestScheduler_InitializeFiresPastDue(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	sink := newChanSink()

	// Simulate a record left behind by a previous process: active, next
	// run already in the past.
	sched := &storage.Schedule{
		IssueID: "issue-1",
		Request: "before the restart",
		Action:  storage.ScheduleAction{Type: "REMINDER"},
		NextRun: time.Now().Add(-time.Minute),
		Status:  storage.ScheduleStatusActive,
	}
	require.NoError(t, store.AddSchedule(ctx, sched))

	s := NewScheduler(store, &stubInterpreter{delay: time.Hour}, sink)
	defer s.Shutdown()
	require.NoError(t, s.Initialize(ctx))

	ev := sink.wait(t, time.Second)
	assert.Equal(t, event.TypeScheduleTriggered, ev.Type)
	assert.Equal(t, sched.ID, ev.Payload["scheduleId"])
}

func TestScheduler_InitializeArmsFutureTimers(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()

	require.NoError(t, store.AddSchedule(ctx, &storage.Schedule{
		IssueID: "issue-1",
		Request: "later",
		NextRun: time.Now().Add(time.Hour),
		Status:  storage.ScheduleStatusActive,
	}))
	require.NoError(t, store.AddSchedule(ctx, &storage.Schedule{
		IssueID: "issue-1",
		Request: "already done",
		NextRun: time.Now().Add(time.Hour),
		Status:  storage.ScheduleStatusCompleted,
	}))

	s := NewScheduler(store, &stubInterpreter{delay: time.Hour}, newChanSink())
	require.NoError(t, s.Initialize(ctx))

	// One timer per active schedule; none for non-active records.
	assert.Equal(t, 1, s.ActiveTimers())

	s.Shutdown()
	assert.Equal(t, 0, s.ActiveTimers())

	// Shutdown leaves persisted status untouched.
	active, err := store.SearchSchedules(ctx, storage.ScheduleFilter{Status: storage.ScheduleStatusActive})
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestScheduler_ReinterpretFailureCompletes(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	sink := newChanSink()

	interp := &stubInterpreter{delay: 20 * time.Millisecond, pattern: "something opaque"}
	s := NewScheduler(store, interp, sink)
	defer s.Shutdown()

	res, err := s.Create(ctx, "issue-1", "soon, then opaque", storage.ScheduleAction{Type: "REMINDER"}, CreateOptions{})
	require.NoError(t, err)

	// Fail the reinterpretation that would compute the second run.
	interp.setErr(errors.New("model unavailable"))

	sink.wait(t, time.Second)

	require.Eventually(t, func() bool {
		sched, err := store.GetSchedule(ctx, res.ScheduleID)
		return err == nil && sched.Status == storage.ScheduleStatusCompleted
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, s.ActiveTimers())
}
