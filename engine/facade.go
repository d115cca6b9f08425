package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/c360studio/agentcore/event"
	"github.com/c360studio/agentcore/storage"
	"github.com/c360studio/agentcore/workflow"
)

// Entity convenience calls. Each is a thin wrapper over storage; the only
// one with causal weight is IngestInput, which builds an event and submits
// it through the same primitive every other producer uses.

// CreateIssue persists a new open issue.
func (e *Engine) CreateIssue(ctx context.Context, title, description string) (*storage.Issue, error) {
	if title == "" {
		return nil, &workflow.ValidationError{Field: "title", Message: "title is required"}
	}

	now := time.Now()
	issue := &storage.Issue{
		ID:          storage.NewID(),
		Title:       title,
		Description: description,
		Status:      storage.IssueStatusOpen,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.store.CreateIssue(ctx, issue); err != nil {
		return nil, fmt.Errorf("create issue: %w", err)
	}

	e.logger.Info("Issue created", "issue_id", issue.ID, "title", title)
	return issue, nil
}

// CreateFlow persists a new flow attached to an existing issue.
func (e *Engine) CreateFlow(ctx context.Context, issueID, name string) (*storage.Flow, error) {
	if issueID == "" {
		return nil, &workflow.ValidationError{Field: "issue_id", Message: "issue id is required"}
	}
	if name == "" {
		return nil, &workflow.ValidationError{Field: "name", Message: "name is required"}
	}
	if _, err := e.store.GetIssue(ctx, issueID); err != nil {
		return nil, fmt.Errorf("create flow: %w", err)
	}

	now := time.Now()
	flow := &storage.Flow{
		ID:        storage.NewID(),
		IssueID:   issueID,
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.store.CreateFlow(ctx, flow); err != nil {
		return nil, fmt.Errorf("create flow: %w", err)
	}

	e.logger.Info("Flow created", "flow_id", flow.ID, "issue_id", issueID)
	return flow, nil
}

// AddKnowledge persists a durable fact.
func (e *Engine) AddKnowledge(ctx context.Context, topic, content string) (*storage.Knowledge, error) {
	if topic == "" {
		return nil, &workflow.ValidationError{Field: "topic", Message: "topic is required"}
	}

	k := &storage.Knowledge{
		ID:        storage.NewID(),
		Topic:     topic,
		Content:   content,
		CreatedAt: time.Now(),
	}
	if err := e.store.AddKnowledge(ctx, k); err != nil {
		return nil, fmt.Errorf("add knowledge: %w", err)
	}
	return k, nil
}

// AddPondEntry persists a loose note for later triage.
func (e *Engine) AddPondEntry(ctx context.Context, content string, tags []string) (*storage.PondEntry, error) {
	if content == "" {
		return nil, &workflow.ValidationError{Field: "content", Message: "content is required"}
	}

	entry := &storage.PondEntry{
		ID:        storage.NewID(),
		Content:   content,
		Tags:      tags,
		CreatedAt: time.Now(),
	}
	if err := e.store.AddPondEntry(ctx, entry); err != nil {
		return nil, fmt.Errorf("add pond entry: %w", err)
	}
	return entry, nil
}

// IngestInput persists a pending input and submits a derived INPUT_RECEIVED
// event so workflows can pick it up on the next tick.
func (e *Engine) IngestInput(ctx context.Context, source, content string) (*storage.Input, error) {
	if content == "" {
		return nil, &workflow.ValidationError{Field: "content", Message: "content is required"}
	}

	input := &storage.Input{
		ID:        storage.NewID(),
		Source:    source,
		Content:   content,
		Status:    storage.InputStatusPending,
		CreatedAt: time.Now(),
	}
	if err := e.store.AddInput(ctx, input); err != nil {
		return nil, fmt.Errorf("ingest input: %w", err)
	}

	ev := event.New(event.TypeInputReceived, event.PriorityNormal, map[string]any{
		"inputId": input.ID,
		"source":  input.Source,
	})
	if err := e.Submit(ev); err != nil {
		return nil, fmt.Errorf("ingest input: %w", err)
	}

	e.logger.Info("Input ingested", "input_id", input.ID, "source", source)
	return input, nil
}
