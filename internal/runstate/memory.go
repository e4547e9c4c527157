package runstate

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/storyframe/storyframe/internal/narrative"
)

// MemoryStore implements Store with in-memory maps for unit tests.
// Error injection is supported for exercising persistence failure paths.
type MemoryStore struct {
	mu sync.RWMutex

	runs      map[string]*Run
	results   map[string]map[int]Result
	summaries map[string]map[int]narrative.Summary

	// SaveResultErr is returned by SaveResult when non-nil.
	SaveResultErr error
	// SaveSummaryErr is returned by SaveSummary when non-nil.
	SaveSummaryErr error
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs:      make(map[string]*Run),
		results:   make(map[string]map[int]Result),
		summaries: make(map[string]map[int]narrative.Summary),
	}
}

func (m *MemoryStore) OpenRun(_ context.Context, bookID string) (*Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if run, ok := m.runs[bookID]; ok {
		copied := *run
		return &copied, nil
	}
	now := time.Now().UTC()
	run := &Run{
		ID:                uuid.NewString(),
		BookID:            bookID,
		State:             "init",
		LastCompletedPage: -1,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	m.runs[bookID] = run
	copied := *run
	return &copied, nil
}

func (m *MemoryStore) SetRunState(_ context.Context, bookID, state string, lastCompletedPage int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if run, ok := m.runs[bookID]; ok {
		run.State = state
		run.LastCompletedPage = lastCompletedPage
		run.UpdatedAt = time.Now().UTC()
	}
	return nil
}

func (m *MemoryStore) SaveResult(_ context.Context, bookID string, res Result) error {
	if m.SaveResultErr != nil {
		return m.SaveResultErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.results[bookID] == nil {
		m.results[bookID] = make(map[int]Result)
	}
	m.results[bookID][res.PageID] = res
	return nil
}

func (m *MemoryStore) Result(_ context.Context, bookID string, pageID int) (*Result, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res, ok := m.results[bookID][pageID]
	if !ok {
		return nil, false, nil
	}
	return &res, true, nil
}

func (m *MemoryStore) Results(_ context.Context, bookID string) (map[int]Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[int]Result, len(m.results[bookID]))
	for id, res := range m.results[bookID] {
		out[id] = res
	}
	return out, nil
}

func (m *MemoryStore) CachedImage(_ context.Context, bookID string, pageID int, promptHash string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res, ok := m.results[bookID][pageID]
	if !ok || res.Status != StatusSuccess || res.PromptHash != promptHash || len(res.ImageBytes) == 0 {
		return nil, false, nil
	}
	return res.ImageBytes, true, nil
}

func (m *MemoryStore) SaveSummary(_ context.Context, bookID string, s narrative.Summary) error {
	if m.SaveSummaryErr != nil {
		return m.SaveSummaryErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.summaries[bookID] == nil {
		m.summaries[bookID] = make(map[int]narrative.Summary)
	}
	m.summaries[bookID][s.ThroughPageID] = s
	return nil
}

func (m *MemoryStore) Summary(_ context.Context, bookID string, pageID int) (*narrative.Summary, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.summaries[bookID][pageID]
	if !ok {
		return nil, false, nil
	}
	return &s, true, nil
}

func (m *MemoryStore) Close() error {
	return nil
}
