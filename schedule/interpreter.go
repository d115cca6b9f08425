// Package schedule manages durable schedule records and the in-memory
// timers that fire them. Free-text scheduling requests are turned into
// concrete times by an Interpreter, typically backed by a language model.
package schedule

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/c360studio/agentcore/llm"
	"github.com/c360studio/agentcore/workflow"
)

// Interpretation is the result of turning a free-text request into a
// concrete execution time.
type Interpretation struct {
	// Next is the absolute time of the next execution.
	Next time.Time

	// Pattern optionally describes a recurrence (e.g. "every 30 minutes").
	Pattern string

	// Reading is the human-readable interpretation of the request.
	Reading string
}

// Interpreter turns free text plus current time and timezone into an
// Interpretation. A missing or unparsable next time is a hard failure and
// no schedule is created from it.
type Interpreter interface {
	Interpret(ctx context.Context, now time.Time, tz *time.Location, text string) (*Interpretation, error)
}

const interpreterSystemPrompt = `You convert scheduling requests into JSON.
Given the current time and timezone, respond with a single JSON object:

{
  "next": "<RFC 3339 timestamp of the next execution>",
  "pattern": "<recurrence description such as 'every 30 minutes' or 'daily', omit for one-shot requests>",
  "reading": "<one sentence restating how you understood the request>"
}

Respond with the JSON object only. If no execution time can be derived,
respond with {"next": null}.`

// LLMInterpreter implements Interpreter on top of a chat-completion client.
type LLMInterpreter struct {
	client llm.Completer
	logger *slog.Logger
}

// NewLLMInterpreter creates an interpreter backed by the given client.
func NewLLMInterpreter(client llm.Completer, logger *slog.Logger) *LLMInterpreter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LLMInterpreter{client: client, logger: logger}
}

// interpreterResult is the wire shape the model is asked to produce.
type interpreterResult struct {
	Next    string `json:"next"`
	Pattern string `json:"pattern,omitempty"`
	Reading string `json:"reading,omitempty"`
}

// Interpret prompts the model and validates its answer.
func (i *LLMInterpreter) Interpret(ctx context.Context, now time.Time, tz *time.Location, text string) (*Interpretation, error) {
	if text == "" {
		return nil, &workflow.ValidationError{Field: "request", Message: "request text is required"}
	}
	if tz == nil {
		tz = time.UTC
	}

	localNow := now.In(tz)
	userPrompt := fmt.Sprintf("Current time: %s\nTimezone: %s\nRequest: %s",
		localNow.Format(time.RFC3339), tz.String(), text)

	zero := 0.0
	resp, err := i.client.Complete(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: "system", Content: interpreterSystemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature: &zero,
	})
	if err != nil {
		return nil, fmt.Errorf("interpret %q: %w", text, err)
	}

	raw := llm.ExtractJSON(resp.Content)
	if raw == "" {
		return nil, &workflow.ValidationError{Field: "next", Message: "no JSON object in interpreter response"}
	}

	var result interpreterResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, &workflow.ValidationError{Field: "next", Message: fmt.Sprintf("malformed interpreter response: %v", err)}
	}
	if result.Next == "" || result.Next == "null" {
		return nil, &workflow.ValidationError{Field: "next", Message: "interpreter produced no execution time"}
	}

	next, err := time.Parse(time.RFC3339, result.Next)
	if err != nil {
		return nil, &workflow.ValidationError{Field: "next", Message: fmt.Sprintf("unparsable execution time %q", result.Next)}
	}

	i.logger.Debug("Interpreted scheduling request",
		"request", text,
		"next", next,
		"pattern", result.Pattern)

	return &Interpretation{
		Next:    next,
		Pattern: result.Pattern,
		Reading: result.Reading,
	}, nil
}
