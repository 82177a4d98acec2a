package storage

import (
	"context"
	"errors"
	"sort"
	"sync"

	"immunosim/internal/model"
)

var ErrNotInitialized = errors.New("store is not initialized")

type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	runs        map[string]model.RunRecord
	diagnostics map[string][]model.TickDiagnostics
	crossings   map[string][]model.CrossingRecord
	summaries   map[string][]model.AgentSummary
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = true
	s.runs = make(map[string]model.RunRecord)
	s.diagnostics = make(map[string][]model.TickDiagnostics)
	s.crossings = make(map[string][]model.CrossingRecord)
	s.summaries = make(map[string][]model.AgentSummary)
	return nil
}

func (s *MemoryStore) SaveRun(_ context.Context, run model.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return ErrNotInitialized
	}
	s.runs[run.ID] = run
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, id string) (model.RunRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	return run, ok, nil
}

func (s *MemoryStore) ListRuns(_ context.Context) ([]model.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.RunRecord, 0, len(s.runs))
	for _, run := range s.runs {
		out = append(out, run)
	}
	sortRuns(out)
	return out, nil
}

func (s *MemoryStore) SaveTickDiagnostics(_ context.Context, runID string, diagnostics []model.TickDiagnostics) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return ErrNotInitialized
	}
	s.diagnostics[runID] = append([]model.TickDiagnostics(nil), diagnostics...)
	return nil
}

func (s *MemoryStore) GetTickDiagnostics(_ context.Context, runID string) ([]model.TickDiagnostics, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	diagnostics, ok := s.diagnostics[runID]
	if !ok {
		return nil, false, nil
	}
	return append([]model.TickDiagnostics(nil), diagnostics...), true, nil
}

func (s *MemoryStore) SaveCrossings(_ context.Context, runID string, crossings []model.CrossingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return ErrNotInitialized
	}
	s.crossings[runID] = append([]model.CrossingRecord(nil), crossings...)
	return nil
}

func (s *MemoryStore) GetCrossings(_ context.Context, runID string) ([]model.CrossingRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	crossings, ok := s.crossings[runID]
	if !ok {
		return nil, false, nil
	}
	return append([]model.CrossingRecord(nil), crossings...), true, nil
}

func (s *MemoryStore) SaveAgentSummaries(_ context.Context, runID string, summaries []model.AgentSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return ErrNotInitialized
	}
	copied := make([]model.AgentSummary, len(summaries))
	for i, summary := range summaries {
		summary.Expressed = append([]string(nil), summary.Expressed...)
		copied[i] = summary
	}
	s.summaries[runID] = copied
	return nil
}

func (s *MemoryStore) GetAgentSummaries(_ context.Context, runID string) ([]model.AgentSummary, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summaries, ok := s.summaries[runID]
	if !ok {
		return nil, false, nil
	}
	copied := make([]model.AgentSummary, len(summaries))
	for i, summary := range summaries {
		summary.Expressed = append([]string(nil), summary.Expressed...)
		copied[i] = summary
	}
	return copied, true, nil
}

func sortRuns(runs []model.RunRecord) {
	sort.Slice(runs, func(i, j int) bool {
		if !runs[i].StartedAt.Equal(runs[j].StartedAt) {
			return runs[i].StartedAt.Before(runs[j].StartedAt)
		}
		return runs[i].ID < runs[j].ID
	})
}
