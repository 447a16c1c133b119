package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Memory is an in-process Store. Everything lives behind one RWMutex;
// session volumes here are classroom sized, not internet sized.
type Memory struct {
	mu        sync.RWMutex
	sessions  map[string]SessionRecord
	results   map[string]*SessionResults
	banks     map[string]QuestionBank
	bankOrder []string
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		sessions: make(map[string]SessionRecord),
		results:  make(map[string]*SessionResults),
		banks:    make(map[string]QuestionBank),
	}
}

func (m *Memory) SaveSession(_ context.Context, rec SessionRecord) error {
	if rec.SessionID == "" {
		return fmt.Errorf("save session: missing session id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[rec.SessionID] = rec
	return nil
}

func (m *Memory) SaveResults(_ context.Context, res SessionResults) error {
	if res.SessionID == "" {
		return fmt.Errorf("save results: missing session id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[res.SessionID] = res.SessionRecord
	cp := res
	m.results[res.SessionID] = &cp
	return nil
}

func (m *Memory) ListSessions(_ context.Context, teacherID string, limit int) ([]SessionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]SessionRecord, 0, len(m.sessions))
	for _, rec := range m.sessions {
		if teacherID != "" && rec.TeacherID != teacherID {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].SessionID < out[j].SessionID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) GetResults(_ context.Context, sessionID string) (*SessionResults, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res, ok := m.results[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *res
	return &cp, nil
}

func (m *Memory) AddBank(_ context.Context, bank QuestionBank) error {
	if bank.ID == "" {
		return fmt.Errorf("add bank: missing id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.banks[bank.ID]; exists {
		return fmt.Errorf("add bank: duplicate id %q", bank.ID)
	}
	m.banks[bank.ID] = bank
	m.bankOrder = append(m.bankOrder, bank.ID)
	return nil
}

func (m *Memory) Banks(_ context.Context, ids []string) ([]QuestionBank, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]QuestionBank, 0, len(ids))
	for _, id := range ids {
		bank, ok := m.banks[id]
		if !ok {
			return nil, fmt.Errorf("bank %q: %w", id, ErrNotFound)
		}
		out = append(out, bank)
	}
	return out, nil
}

func (m *Memory) ListBanks(_ context.Context) ([]BankSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]BankSummary, 0, len(m.bankOrder))
	for _, id := range m.bankOrder {
		bank := m.banks[id]
		out = append(out, BankSummary{
			ID:            bank.ID,
			Name:          bank.Name,
			QuestionCount: len(bank.Questions),
		})
	}
	return out, nil
}
