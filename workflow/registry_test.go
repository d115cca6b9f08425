package workflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/agentcore/event"
)

func noopExecute(_ context.Context, _ *event.Event, state string, _ event.Sink) (string, error) {
	return state, nil
}

func def(name string, priority int, types ...string) *Definition {
	return &Definition{
		Name:            name,
		TriggerTypes:    types,
		TriggerPriority: priority,
		Execute:         noopExecute,
	}
}

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.Register(def("classify", 0, "INPUT_RECEIVED")))

	t.Run("duplicate name fails", func(t *testing.T) {
		err := r.Register(def("classify", 0, "INPUT_RECEIVED"))
		var dup *DuplicateNameError
		require.ErrorAs(t, err, &dup)
		assert.Equal(t, "classify", dup.Name)
	})

	t.Run("missing name fails", func(t *testing.T) {
		err := r.Register(def("", 0, "X"))
		var verr *ValidationError
		assert.ErrorAs(t, err, &verr)
	})

	t.Run("missing trigger types fails", func(t *testing.T) {
		err := r.Register(def("no-triggers", 0))
		var verr *ValidationError
		assert.ErrorAs(t, err, &verr)
	})

	t.Run("missing executor fails", func(t *testing.T) {
		err := r.Register(&Definition{Name: "no-exec", TriggerTypes: []string{"X"}})
		var verr *ValidationError
		assert.ErrorAs(t, err, &verr)
	})
}

func TestRegistry_ResolveOrdering(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(def("low", 1, "TICK")))
	require.NoError(t, r.Register(def("high", 10, "TICK")))
	require.NoError(t, r.Register(def("mid-first", 5, "TICK")))
	require.NoError(t, r.Register(def("mid-second", 5, "TICK")))

	defs := r.Resolve(event.New("TICK", event.PriorityNormal, nil))

	names := make([]string, len(defs))
	for i, d := range defs {
		names[i] = d.Name
	}
	// Descending priority, registration order within equal priority.
	assert.Equal(t, []string{"high", "mid-first", "mid-second", "low"}, names)
}

func TestRegistry_ResolveNoMatches(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(def("only", 0, "A")))

	defs := r.Resolve(event.New("B", event.PriorityNormal, nil))
	assert.Empty(t, defs)
}

func TestRegistry_ResolveCondition(t *testing.T) {
	r := NewRegistry()

	conditional := def("conditional", 0, "INPUT_RECEIVED")
	conditional.Condition = func(ev *event.Event) bool {
		src, _ := ev.Payload["source"].(string)
		return src == "email"
	}
	require.NoError(t, r.Register(conditional))

	matched := r.Resolve(event.New("INPUT_RECEIVED", event.PriorityNormal, map[string]any{"source": "email"}))
	assert.Len(t, matched, 1)

	unmatched := r.Resolve(event.New("INPUT_RECEIVED", event.PriorityNormal, map[string]any{"source": "cli"}))
	assert.Empty(t, unmatched)
}

func TestRegistry_ResolveGlobTriggers(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(def("issue-events", 0, "issue.*")))
	require.NoError(t, r.Register(def("exact", 0, "issue.closed")))

	defs := r.Resolve(event.New("issue.closed", event.PriorityNormal, nil))
	assert.Len(t, defs, 2)

	defs = r.Resolve(event.New("issue.created", event.PriorityNormal, nil))
	require.Len(t, defs, 1)
	assert.Equal(t, "issue-events", defs[0].Name)
}

func TestRegistry_Get(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(def("known", 0, "X")))

	assert.NotNil(t, r.Get("known"))
	assert.Nil(t, r.Get("unknown"))
	assert.Equal(t, []string{"known"}, r.Names())
}
