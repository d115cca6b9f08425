// Package engine hosts the orchestration core: a serialized run loop that
// drains the event queue on a fixed tick, resolves each event to its
// workflows, and threads the shared state document through their executors
// one at a time.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/c360studio/agentcore/event"
	"github.com/c360studio/agentcore/storage"
	"github.com/c360studio/agentcore/workflow"
)

// defaultTickInterval paces the run loop when no interval is configured.
const defaultTickInterval = 1 * time.Second

// defaultStateTemplate seeds the state document when storage has none. The
// engine never fails to initialize over a missing or unreadable document.
const defaultStateTemplate = `# State

## Focus
(nothing yet)

## Recent activity
(nothing yet)
`

// Engine owns the event queue, the workflow registry, and the shared state
// document. Workflow executors run strictly one at a time on the loop
// goroutine; producers interact with the engine only through Submit.
type Engine struct {
	store    storage.Store
	registry *workflow.Registry
	queue    *event.Queue
	logger   *slog.Logger

	tickInterval  time.Duration
	stateTemplate string
	observers     []Observer

	stateMu sync.RWMutex
	state   string

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithTickInterval sets the loop tick interval.
func WithTickInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.tickInterval = d
		}
	}
}

// WithStateTemplate overrides the built-in default state document.
func WithStateTemplate(template string) Option {
	return func(e *Engine) {
		if template != "" {
			e.stateTemplate = template
		}
	}
}

// WithObserver registers an observer for engine notifications.
func WithObserver(obs Observer) Option {
	return func(e *Engine) {
		if obs != nil {
			e.observers = append(e.observers, obs)
		}
	}
}

// New creates an engine over the given store and registry.
func New(store storage.Store, registry *workflow.Registry, opts ...Option) *Engine {
	e := &Engine{
		store:         store,
		registry:      registry,
		queue:         event.NewQueue(),
		logger:        slog.Default(),
		tickInterval:  defaultTickInterval,
		stateTemplate: defaultStateTemplate,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Initialize loads the state document from storage. A missing or unreadable
// document falls back to the default template; initialization does not fail
// for that reason.
func (e *Engine) Initialize(ctx context.Context) error {
	state, err := e.store.StateDocument(ctx)
	if err != nil || state == "" {
		if err != nil {
			e.logger.Warn("State document unavailable, using default template", "error", err)
		}
		state = e.stateTemplate
	}

	e.stateMu.Lock()
	e.state = state
	e.stateMu.Unlock()

	e.logger.Info("Engine initialized", "workflows", len(e.registry.Names()))
	return nil
}

// Submit validates the event and enqueues it. This is the sole causal
// primitive: every entity façade call and every scheduler fire funnels
// through it.
func (e *Engine) Submit(ev *event.Event) error {
	if ev == nil {
		return &workflow.ValidationError{Field: "event", Message: "event is required"}
	}
	if err := ev.Validate(); err != nil {
		return &workflow.ValidationError{Field: "event", Message: err.Error()}
	}

	e.queue.Push(ev)
	eventsReceived.WithLabelValues(string(ev.Priority)).Inc()
	queueDepth.Set(float64(e.queue.Len()))
	if ev.Type == event.TypeScheduleTriggered {
		scheduleFires.Inc()
	}

	for _, obs := range e.observers {
		obs.EventReceived(ev)
	}
	e.logger.Debug("Event received", "event_id", ev.ID, "type", ev.Type, "priority", ev.Priority)
	return nil
}

// Push implements event.Sink. Events that fail validation are dropped with a
// log line; a sink has no error channel to surface them on.
func (e *Engine) Push(ev *event.Event) {
	if err := e.Submit(ev); err != nil {
		e.logger.Error("Dropping invalid event", "error", err)
	}
}

// Start spawns the run loop. It returns immediately; the loop runs until
// Stop is called or the context is cancelled.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return nil
	}

	loopCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})
	e.started = true

	go e.run(loopCtx)

	e.logger.Info("Engine started", "tick_interval", e.tickInterval)
	return nil
}

// Stop cancels the run loop and waits for the in-flight tick to finish.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return
	}
	e.started = false
	cancel, done := e.cancel, e.done
	e.mu.Unlock()

	cancel()
	<-done
	e.logger.Info("Engine stopped")
}

// State returns the current in-memory state document.
func (e *Engine) State() string {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.state
}

// QueueDepth returns the number of events currently waiting.
func (e *Engine) QueueDepth() int {
	return e.queue.Len()
}

func (e *Engine) run(ctx context.Context) {
	defer close(e.done)

	ticker := time.NewTicker(e.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.tick(ctx)
		}
	}
}

// tick drains the events present at tick start. Events emitted by executors
// during the drain wait for the next tick, which keeps the ordering
// discipline simple to reason about.
func (e *Engine) tick(ctx context.Context) {
	pending := e.queue.Len()
	for i := 0; i < pending; i++ {
		ev, ok := e.queue.Pop()
		if !ok {
			return
		}
		queueDepth.Set(float64(e.queue.Len()))
		e.process(ctx, ev)

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// process runs every workflow resolved for the event, sequentially in
// resolver order, threading the state document through each executor. An
// executor failure skips the event's remaining workflows; the loop moves on
// to the next event.
func (e *Engine) process(ctx context.Context, ev *event.Event) {
	for _, obs := range e.observers {
		obs.ProcessingStarted(ev)
	}

	defs := e.registry.Resolve(ev)
	names := make([]string, len(defs))
	for i, def := range defs {
		names[i] = def.Name
	}
	for _, obs := range e.observers {
		obs.WorkflowResolved(ev, names)
	}

	if len(defs) == 0 {
		eventsProcessed.WithLabelValues("unmatched").Inc()
		e.logger.Debug("No workflows matched", "event_id", ev.ID, "type", ev.Type)
		return
	}

	for _, def := range defs {
		start := time.Now()
		newState, err := def.Execute(ctx, ev, e.State(), e)
		workflowDuration.WithLabelValues(def.Name).Observe(time.Since(start).Seconds())

		if err != nil {
			execErr := &ExecutionError{
				Workflow:  def.Name,
				EventID:   ev.ID,
				EventType: ev.Type,
				Err:       err,
			}
			workflowExecutions.WithLabelValues(def.Name, "error").Inc()
			eventsProcessed.WithLabelValues("error").Inc()
			e.logger.Error("Workflow execution failed",
				"workflow", def.Name,
				"event_id", ev.ID,
				"type", ev.Type,
				"error", execErr)
			for _, obs := range e.observers {
				obs.WorkflowExecuted(ev, def.Name, execErr)
				obs.ProcessingError(ev, def.Name, execErr)
			}
			return
		}

		e.setState(ctx, newState)
		workflowExecutions.WithLabelValues(def.Name, "success").Inc()
		for _, obs := range e.observers {
			obs.WorkflowExecuted(ev, def.Name, nil)
		}
	}

	eventsProcessed.WithLabelValues("success").Inc()
}

// setState installs the new state document and persists it. A persistence
// failure keeps the in-memory state and is logged; the next successful
// executor write will reconcile storage.
func (e *Engine) setState(ctx context.Context, state string) {
	e.stateMu.Lock()
	e.state = state
	e.stateMu.Unlock()

	if err := e.store.SetStateDocument(ctx, state); err != nil {
		e.logger.Error("Failed to persist state document", "error", err)
	}
}
