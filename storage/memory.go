package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is a map-backed Store used by the unit suites and by
// deployments that don't need durability. All methods are safe for
// concurrent use.
type MemoryStore struct {
	mu        sync.RWMutex
	issues    map[string]*Issue
	flows     map[string]*Flow
	knowledge map[string]*Knowledge
	pond      map[string]*PondEntry
	inputs    map[string]*Input
	schedules map[string]*Schedule
	order     map[string]int // insertion order for deterministic listing
	seq       int
	state     string
	hasState  bool
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		issues:    make(map[string]*Issue),
		flows:     make(map[string]*Flow),
		knowledge: make(map[string]*Knowledge),
		pond:      make(map[string]*PondEntry),
		inputs:    make(map[string]*Input),
		schedules: make(map[string]*Schedule),
		order:     make(map[string]int),
	}
}

func (m *MemoryStore) track(id string) {
	m.seq++
	m.order[id] = m.seq
}

// CreateIssue stores a new issue, assigning ID, status, and timestamps.
func (m *MemoryStore) CreateIssue(_ context.Context, issue *Issue) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if issue.ID == "" {
		issue.ID = NewID()
	}
	if issue.Status == "" {
		issue.Status = IssueStatusOpen
	}
	now := time.Now()
	issue.CreatedAt = now
	issue.UpdatedAt = now

	cp := *issue
	m.issues[issue.ID] = &cp
	m.track(issue.ID)
	return nil
}

// GetIssue retrieves an issue by ID.
func (m *MemoryStore) GetIssue(_ context.Context, id string) (*Issue, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	issue, ok := m.issues[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *issue
	return &cp, nil
}

// UpdateIssue persists changes to an existing issue.
func (m *MemoryStore) UpdateIssue(_ context.Context, issue *Issue) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.issues[issue.ID]; !ok {
		return ErrNotFound
	}
	issue.UpdatedAt = time.Now()
	cp := *issue
	m.issues[issue.ID] = &cp
	return nil
}

// SearchIssues returns issues matching the filter in insertion order.
func (m *MemoryStore) SearchIssues(_ context.Context, filter IssueFilter) ([]*Issue, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	issues := make([]*Issue, 0, len(m.issues))
	for _, issue := range m.issues {
		if filter.Status != "" && issue.Status != filter.Status {
			continue
		}
		cp := *issue
		issues = append(issues, &cp)
	}
	sortByInsertion(m.order, issues, func(i *Issue) string { return i.ID })
	if filter.Limit > 0 && len(issues) > filter.Limit {
		issues = issues[:filter.Limit]
	}
	return issues, nil
}

// CreateFlow stores a new flow attached to an issue.
func (m *MemoryStore) CreateFlow(_ context.Context, flow *Flow) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if flow.ID == "" {
		flow.ID = NewID()
	}
	now := time.Now()
	flow.CreatedAt = now
	flow.UpdatedAt = now

	cp := *flow
	m.flows[flow.ID] = &cp
	m.track(flow.ID)
	return nil
}

// GetFlow retrieves a flow by ID.
func (m *MemoryStore) GetFlow(_ context.Context, id string) (*Flow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	flow, ok := m.flows[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *flow
	return &cp, nil
}

// SearchFlowsByIssue returns all flows for a given issue.
func (m *MemoryStore) SearchFlowsByIssue(_ context.Context, issueID string) ([]*Flow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	flows := make([]*Flow, 0)
	for _, flow := range m.flows {
		if flow.IssueID == issueID {
			cp := *flow
			flows = append(flows, &cp)
		}
	}
	sortByInsertion(m.order, flows, func(f *Flow) string { return f.ID })
	return flows, nil
}

// AddKnowledge stores a knowledge entry.
func (m *MemoryStore) AddKnowledge(_ context.Context, k *Knowledge) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if k.ID == "" {
		k.ID = NewID()
	}
	k.CreatedAt = time.Now()

	cp := *k
	m.knowledge[k.ID] = &cp
	m.track(k.ID)
	return nil
}

// SearchKnowledge returns knowledge entries whose topic contains the given
// substring; an empty topic matches everything.
func (m *MemoryStore) SearchKnowledge(_ context.Context, topic string, limit int) ([]*Knowledge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := make([]*Knowledge, 0)
	for _, k := range m.knowledge {
		if topic != "" && !strings.Contains(strings.ToLower(k.Topic), strings.ToLower(topic)) {
			continue
		}
		cp := *k
		entries = append(entries, &cp)
	}
	sortByInsertion(m.order, entries, func(k *Knowledge) string { return k.ID })
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// AddPondEntry stores a pond entry.
func (m *MemoryStore) AddPondEntry(_ context.Context, entry *PondEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entry.ID == "" {
		entry.ID = NewID()
	}
	entry.CreatedAt = time.Now()

	cp := *entry
	m.pond[entry.ID] = &cp
	m.track(entry.ID)
	return nil
}

// ListPond returns up to limit pond entries in insertion order.
func (m *MemoryStore) ListPond(_ context.Context, limit int) ([]*PondEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := make([]*PondEntry, 0, len(m.pond))
	for _, entry := range m.pond {
		cp := *entry
		entries = append(entries, &cp)
	}
	sortByInsertion(m.order, entries, func(e *PondEntry) string { return e.ID })
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// AddInput stores a pending input.
func (m *MemoryStore) AddInput(_ context.Context, input *Input) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if input.ID == "" {
		input.ID = NewID()
	}
	if input.Status == "" {
		input.Status = InputStatusPending
	}
	input.CreatedAt = time.Now()

	cp := *input
	m.inputs[input.ID] = &cp
	m.track(input.ID)
	return nil
}

// GetInput retrieves an input by ID.
func (m *MemoryStore) GetInput(_ context.Context, id string) (*Input, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	input, ok := m.inputs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *input
	return &cp, nil
}

// UpdateInput persists changes to an existing input.
func (m *MemoryStore) UpdateInput(_ context.Context, input *Input) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.inputs[input.ID]; !ok {
		return ErrNotFound
	}
	cp := *input
	m.inputs[input.ID] = &cp
	return nil
}

// StateDocument returns the persisted state document.
func (m *MemoryStore) StateDocument(_ context.Context) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.hasState {
		return "", ErrNotFound
	}
	return m.state, nil
}

// SetStateDocument persists the state document.
func (m *MemoryStore) SetStateDocument(_ context.Context, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state = text
	m.hasState = true
	return nil
}

// AddSchedule stores a new schedule record.
func (m *MemoryStore) AddSchedule(_ context.Context, s *Schedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s.ID == "" {
		s.ID = NewID()
	}
	now := time.Now()
	s.CreatedAt = now
	s.UpdatedAt = now

	cp := *s
	m.schedules[s.ID] = &cp
	m.track(s.ID)
	return nil
}

// GetSchedule retrieves a schedule by ID.
func (m *MemoryStore) GetSchedule(_ context.Context, id string) (*Schedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.schedules[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

// UpdateSchedule applies mutate to the stored record and persists the result.
func (m *MemoryStore) UpdateSchedule(_ context.Context, id string, mutate func(*Schedule)) (*Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.schedules[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	mutate(&cp)
	cp.UpdatedAt = time.Now()
	m.schedules[id] = &cp

	out := cp
	return &out, nil
}

// SearchSchedules returns schedules matching the filter in insertion order.
func (m *MemoryStore) SearchSchedules(_ context.Context, filter ScheduleFilter) ([]*Schedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	schedules := make([]*Schedule, 0)
	for _, s := range m.schedules {
		if !matchesScheduleFilter(s, filter) {
			continue
		}
		cp := *s
		schedules = append(schedules, &cp)
	}
	sortByInsertion(m.order, schedules, func(s *Schedule) string { return s.ID })
	if filter.Limit > 0 && len(schedules) > filter.Limit {
		schedules = schedules[:filter.Limit]
	}
	return schedules, nil
}

// sortByInsertion orders records by their insertion sequence. Callers must
// hold at least the read lock.
func sortByInsertion[T any](order map[string]int, records []T, id func(T) string) {
	sort.SliceStable(records, func(a, b int) bool {
		return order[id(records[a])] < order[id(records[b])]
	})
}
