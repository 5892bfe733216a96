package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/stemsi/exstem-live/internal/model"
)

// Memory is an in-process SessionStore. Documents are kept encoded so
// callers never share mutable state with the store, same as with Redis.
type Memory struct {
	mu   sync.RWMutex
	docs map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{docs: make(map[string][]byte)}
}

func (m *Memory) Get(_ context.Context, code string) (*model.ExamSession, error) {
	m.mu.RLock()
	data, ok := m.docs[code]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}

	var session model.ExamSession
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrPersistence, code, err)
	}
	return &session, nil
}

func (m *Memory) Set(_ context.Context, code string, session *model.ExamSession) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("%w: encode %s: %v", ErrPersistence, code, err)
	}
	m.mu.Lock()
	m.docs[code] = data
	m.mu.Unlock()
	return nil
}

func (m *Memory) Exists(_ context.Context, code string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.docs[code]
	return ok, nil
}

func (m *Memory) Delete(_ context.Context, code string) error {
	m.mu.Lock()
	delete(m.docs, code)
	m.mu.Unlock()
	return nil
}

// Len returns the number of stored sessions.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs)
}
