package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// Bucket names for each record type.
const (
	BucketIssues    = "AGENTCORE_ISSUES"
	BucketFlows     = "AGENTCORE_FLOWS"
	BucketKnowledge = "AGENTCORE_KNOWLEDGE"
	BucketPond      = "AGENTCORE_POND"
	BucketInputs    = "AGENTCORE_INPUTS"
	BucketSchedules = "AGENTCORE_SCHEDULES"
	BucketState     = "AGENTCORE_STATE"
)

// stateKey is the single key under which the state document lives.
const stateKey = "state-document"

// KVStore implements Store on NATS JetStream KV buckets. Records are
// JSON-marshalled; buckets are created on construction if missing.
type KVStore struct {
	issues    jetstream.KeyValue
	flows     jetstream.KeyValue
	knowledge jetstream.KeyValue
	pond      jetstream.KeyValue
	inputs    jetstream.KeyValue
	schedules jetstream.KeyValue
	state     jetstream.KeyValue
}

// NewKVStore creates a KVStore with the given JetStream context, creating
// the necessary KV buckets if they don't exist.
func NewKVStore(ctx context.Context, js jetstream.JetStream) (*KVStore, error) {
	s := &KVStore{}
	buckets := []struct {
		name string
		dst  *jetstream.KeyValue
	}{
		{BucketIssues, &s.issues},
		{BucketFlows, &s.flows},
		{BucketKnowledge, &s.knowledge},
		{BucketPond, &s.pond},
		{BucketInputs, &s.inputs},
		{BucketSchedules, &s.schedules},
		{BucketState, &s.state},
	}
	for _, b := range buckets {
		kv, err := getOrCreateBucket(ctx, js, b.name)
		if err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", b.name, err)
		}
		*b.dst = kv
	}
	return s, nil
}

func getOrCreateBucket(ctx context.Context, js jetstream.JetStream, name string) (jetstream.KeyValue, error) {
	kv, err := js.KeyValue(ctx, name)
	if err == nil {
		return kv, nil
	}
	return js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      name,
		Description: fmt.Sprintf("Agentcore %s storage", strings.ToLower(strings.TrimPrefix(name, "AGENTCORE_"))),
		History:     5,
	})
}

// isNotFound checks if an error indicates a key was not found.
func isNotFound(err error) bool {
	return err != nil && strings.Contains(err.Error(), "key not found")
}

func putRecord(ctx context.Context, kv jetstream.KeyValue, op, key string, record any) error {
	data, err := json.Marshal(record)
	if err != nil {
		return NewStorageError(op, fmt.Errorf("marshal: %w", err))
	}
	if _, err := kv.Put(ctx, key, data); err != nil {
		return NewStorageError(op, err)
	}
	return nil
}

func getRecord(ctx context.Context, kv jetstream.KeyValue, op, key string, record any) error {
	entry, err := kv.Get(ctx, key)
	if err != nil {
		if isNotFound(err) {
			return ErrNotFound
		}
		return NewStorageError(op, err)
	}
	if err := json.Unmarshal(entry.Value(), record); err != nil {
		return NewStorageError(op, fmt.Errorf("unmarshal: %w", err))
	}
	return nil
}

// listKeys returns the bucket's keys, treating an empty bucket as empty list.
func listKeys(ctx context.Context, kv jetstream.KeyValue, op string) ([]string, error) {
	keys, err := kv.Keys(ctx)
	if err != nil {
		if err == jetstream.ErrNoKeysFound {
			return nil, nil
		}
		return nil, NewStorageError(op, err)
	}
	return keys, nil
}

// CreateIssue stores a new issue, assigning ID, status, and timestamps.
func (s *KVStore) CreateIssue(ctx context.Context, issue *Issue) error {
	if issue.ID == "" {
		issue.ID = NewID()
	}
	if issue.Status == "" {
		issue.Status = IssueStatusOpen
	}
	now := time.Now()
	issue.CreatedAt = now
	issue.UpdatedAt = now
	return putRecord(ctx, s.issues, "create issue", issue.ID, issue)
}

// GetIssue retrieves an issue by ID.
func (s *KVStore) GetIssue(ctx context.Context, id string) (*Issue, error) {
	var issue Issue
	if err := getRecord(ctx, s.issues, "get issue", id, &issue); err != nil {
		return nil, err
	}
	return &issue, nil
}

// UpdateIssue persists changes to an existing issue.
func (s *KVStore) UpdateIssue(ctx context.Context, issue *Issue) error {
	issue.UpdatedAt = time.Now()
	return putRecord(ctx, s.issues, "update issue", issue.ID, issue)
}

// SearchIssues returns issues matching the filter.
func (s *KVStore) SearchIssues(ctx context.Context, filter IssueFilter) ([]*Issue, error) {
	keys, err := listKeys(ctx, s.issues, "search issues")
	if err != nil {
		return nil, err
	}

	issues := make([]*Issue, 0, len(keys))
	for _, key := range keys {
		var issue Issue
		if err := getRecord(ctx, s.issues, "search issues", key, &issue); err != nil {
			continue // Skip entries that fail to load
		}
		if filter.Status != "" && issue.Status != filter.Status {
			continue
		}
		issues = append(issues, &issue)
		if filter.Limit > 0 && len(issues) >= filter.Limit {
			break
		}
	}
	return issues, nil
}

// CreateFlow stores a new flow attached to an issue.
func (s *KVStore) CreateFlow(ctx context.Context, flow *Flow) error {
	if flow.ID == "" {
		flow.ID = NewID()
	}
	now := time.Now()
	flow.CreatedAt = now
	flow.UpdatedAt = now
	return putRecord(ctx, s.flows, "create flow", flow.ID, flow)
}

// GetFlow retrieves a flow by ID.
func (s *KVStore) GetFlow(ctx context.Context, id string) (*Flow, error) {
	var flow Flow
	if err := getRecord(ctx, s.flows, "get flow", id, &flow); err != nil {
		return nil, err
	}
	return &flow, nil
}

// SearchFlowsByIssue returns all flows for a given issue.
func (s *KVStore) SearchFlowsByIssue(ctx context.Context, issueID string) ([]*Flow, error) {
	keys, err := listKeys(ctx, s.flows, "search flows")
	if err != nil {
		return nil, err
	}

	flows := make([]*Flow, 0)
	for _, key := range keys {
		var flow Flow
		if err := getRecord(ctx, s.flows, "search flows", key, &flow); err != nil {
			continue
		}
		if flow.IssueID == issueID {
			flows = append(flows, &flow)
		}
	}
	return flows, nil
}

// AddKnowledge stores a knowledge entry.
func (s *KVStore) AddKnowledge(ctx context.Context, k *Knowledge) error {
	if k.ID == "" {
		k.ID = NewID()
	}
	k.CreatedAt = time.Now()
	return putRecord(ctx, s.knowledge, "add knowledge", k.ID, k)
}

// SearchKnowledge returns knowledge entries whose topic contains the given
// substring; an empty topic matches everything.
func (s *KVStore) SearchKnowledge(ctx context.Context, topic string, limit int) ([]*Knowledge, error) {
	keys, err := listKeys(ctx, s.knowledge, "search knowledge")
	if err != nil {
		return nil, err
	}

	entries := make([]*Knowledge, 0)
	for _, key := range keys {
		var k Knowledge
		if err := getRecord(ctx, s.knowledge, "search knowledge", key, &k); err != nil {
			continue
		}
		if topic != "" && !strings.Contains(strings.ToLower(k.Topic), strings.ToLower(topic)) {
			continue
		}
		entries = append(entries, &k)
		if limit > 0 && len(entries) >= limit {
			break
		}
	}
	return entries, nil
}

// AddPondEntry stores a pond entry.
func (s *KVStore) AddPondEntry(ctx context.Context, entry *PondEntry) error {
	if entry.ID == "" {
		entry.ID = NewID()
	}
	entry.CreatedAt = time.Now()
	return putRecord(ctx, s.pond, "add pond entry", entry.ID, entry)
}

// ListPond returns up to limit pond entries.
func (s *KVStore) ListPond(ctx context.Context, limit int) ([]*PondEntry, error) {
	keys, err := listKeys(ctx, s.pond, "list pond")
	if err != nil {
		return nil, err
	}

	entries := make([]*PondEntry, 0, len(keys))
	for _, key := range keys {
		var entry PondEntry
		if err := getRecord(ctx, s.pond, "list pond", key, &entry); err != nil {
			continue
		}
		entries = append(entries, &entry)
		if limit > 0 && len(entries) >= limit {
			break
		}
	}
	return entries, nil
}

// AddInput stores a pending input.
func (s *KVStore) AddInput(ctx context.Context, input *Input) error {
	if input.ID == "" {
		input.ID = NewID()
	}
	if input.Status == "" {
		input.Status = InputStatusPending
	}
	input.CreatedAt = time.Now()
	return putRecord(ctx, s.inputs, "add input", input.ID, input)
}

// GetInput retrieves an input by ID.
func (s *KVStore) GetInput(ctx context.Context, id string) (*Input, error) {
	var input Input
	if err := getRecord(ctx, s.inputs, "get input", id, &input); err != nil {
		return nil, err
	}
	return &input, nil
}

// UpdateInput persists changes to an existing input.
func (s *KVStore) UpdateInput(ctx context.Context, input *Input) error {
	return putRecord(ctx, s.inputs, "update input", input.ID, input)
}

// StateDocument returns the persisted state document.
func (s *KVStore) StateDocument(ctx context.Context) (string, error) {
	entry, err := s.state.Get(ctx, stateKey)
	if err != nil {
		if isNotFound(err) {
			return "", ErrNotFound
		}
		return "", NewStorageError("get state document", err)
	}
	return string(entry.Value()), nil
}

// SetStateDocument persists the state document. This is the durability
// boundary for every state mutation.
func (s *KVStore) SetStateDocument(ctx context.Context, text string) error {
	if _, err := s.state.Put(ctx, stateKey, []byte(text)); err != nil {
		return NewStorageError("set state document", err)
	}
	return nil
}

// AddSchedule stores a new schedule record.
func (s *KVStore) AddSchedule(ctx context.Context, sched *Schedule) error {
	if sched.ID == "" {
		sched.ID = NewID()
	}
	now := time.Now()
	sched.CreatedAt = now
	sched.UpdatedAt = now
	return putRecord(ctx, s.schedules, "add schedule", sched.ID, sched)
}

// GetSchedule retrieves a schedule by ID.
func (s *KVStore) GetSchedule(ctx context.Context, id string) (*Schedule, error) {
	var sched Schedule
	if err := getRecord(ctx, s.schedules, "get schedule", id, &sched); err != nil {
		return nil, err
	}
	return &sched, nil
}

// UpdateSchedule applies mutate to the stored record and persists the result.
func (s *KVStore) UpdateSchedule(ctx context.Context, id string, mutate func(*Schedule)) (*Schedule, error) {
	sched, err := s.GetSchedule(ctx, id)
	if err != nil {
		return nil, err
	}
	mutate(sched)
	sched.UpdatedAt = time.Now()
	if err := putRecord(ctx, s.schedules, "update schedule", sched.ID, sched); err != nil {
		return nil, err
	}
	return sched, nil
}

// SearchSchedules returns schedules matching the filter.
func (s *KVStore) SearchSchedules(ctx context.Context, filter ScheduleFilter) ([]*Schedule, error) {
	keys, err := listKeys(ctx, s.schedules, "search schedules")
	if err != nil {
		return nil, err
	}

	schedules := make([]*Schedule, 0)
	for _, key := range keys {
		var sched Schedule
		if err := getRecord(ctx, s.schedules, "search schedules", key, &sched); err != nil {
			continue
		}
		if !matchesScheduleFilter(&sched, filter) {
			continue
		}
		schedules = append(schedules, &sched)
		if filter.Limit > 0 && len(schedules) >= filter.Limit {
			break
		}
	}
	return schedules, nil
}

func matchesScheduleFilter(s *Schedule, filter ScheduleFilter) bool {
	if filter.Status != "" && s.Status != filter.Status {
		return false
	}
	if filter.IssueID != "" && s.IssueID != filter.IssueID {
		return false
	}
	if filter.DedupeKey != "" && s.DedupeKey != filter.DedupeKey {
		return false
	}
	return true
}
