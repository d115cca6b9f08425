package schedule

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/agentcore/llm"
	"github.com/c360studio/agentcore/llm/testutil"
	"github.com/c360studio/agentcore/workflow"
)

func TestLLMInterpreter_Interpret(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	t.Run("one-shot", func(t *testing.T) {
		mock := &testutil.MockClient{
			Responses: []*llm.Response{
				{Content: `{"next": "2026-03-01T09:05:00Z", "reading": "five minutes from now"}`},
			},
		}
		interp := NewLLMInterpreter(mock, nil)

		result, err := interp.Interpret(context.Background(), now, time.UTC, "in 5 minutes")
		require.NoError(t, err)
		assert.Equal(t, now.Add(5*time.Minute), result.Next)
		assert.Empty(t, result.Pattern)
		assert.Equal(t, "five minutes from now", result.Reading)
	})

	t.Run("recurring with fenced JSON", func(t *testing.T) {
		mock := &testutil.MockClient{
			Responses: []*llm.Response{
				{Content: "Sure:\n```json\n{\"next\": \"2026-03-02T08:00:00Z\", \"pattern\": \"daily\", \"reading\": \"every morning at eight\"}\n```"},
			},
		}
		interp := NewLLMInterpreter(mock, nil)

		result, err := interp.Interpret(context.Background(), now, time.UTC, "every morning at 8")
		require.NoError(t, err)
		assert.Equal(t, "daily", result.Pattern)
		assert.Equal(t, time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC), result.Next)
	})

	t.Run("prompt carries current time and timezone", func(t *testing.T) {
		mock := &testutil.MockClient{
			Responses: []*llm.Response{
				{Content: `{"next": "2026-03-01T09:05:00Z"}`},
			},
		}
		interp := NewLLMInterpreter(mock, nil)
		tz, err := time.LoadLocation("America/New_York")
		require.NoError(t, err)

		_, err = interp.Interpret(context.Background(), now, tz, "in 5 minutes")
		require.NoError(t, err)

		req := mock.LastRequest()
		require.Len(t, req.Messages, 2)
		assert.Contains(t, req.Messages[1].Content, "America/New_York")
		assert.Contains(t, req.Messages[1].Content, "in 5 minutes")
		require.NotNil(t, req.Temperature)
		assert.Zero(t, *req.Temperature)
	})

	t.Run("null next is a validation error", func(t *testing.T) {
		mock := &testutil.MockClient{
			Responses: []*llm.Response{{Content: `{"next": null}`}},
		}
		interp := NewLLMInterpreter(mock, nil)

		_, err := interp.Interpret(context.Background(), now, time.UTC, "whenever")
		var verr *workflow.ValidationError
		assert.ErrorAs(t, err, &verr)
	})

	t.Run("non-JSON response is a validation error", func(t *testing.T) {
		mock := &testutil.MockClient{
			Responses: []*llm.Response{{Content: "I cannot determine a time."}},
		}
		interp := NewLLMInterpreter(mock, nil)

		_, err := interp.Interpret(context.Background(), now, time.UTC, "whenever")
		var verr *workflow.ValidationError
		assert.ErrorAs(t, err, &verr)
	})

	t.Run("unparsable timestamp is a validation error", func(t *testing.T) {
		mock := &testutil.MockClient{
			Responses: []*llm.Response{{Content: `{"next": "tomorrow-ish"}`}},
		}
		interp := NewLLMInterpreter(mock, nil)

		_, err := interp.Interpret(context.Background(), now, time.UTC, "tomorrow")
		var verr *workflow.ValidationError
		assert.ErrorAs(t, err, &verr)
	})

	t.Run("client error propagates", func(t *testing.T) {
		mock := &testutil.MockClient{Err: errors.New("connection refused")}
		interp := NewLLMInterpreter(mock, nil)

		_, err := interp.Interpret(context.Background(), now, time.UTC, "in 5 minutes")
		assert.ErrorContains(t, err, "connection refused")
	})

	t.Run("empty request rejected without a model call", func(t *testing.T) {
		mock := &testutil.MockClient{}
		interp := NewLLMInterpreter(mock, nil)

		_, err := interp.Interpret(context.Background(), now, time.UTC, "")
		var verr *workflow.ValidationError
		assert.ErrorAs(t, err, &verr)
		assert.Zero(t, mock.CallCount())
	})
}
