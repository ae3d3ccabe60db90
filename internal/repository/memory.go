package repository

import (
	"context"
	"sync"

	"github.com/mmeshcher/smartcart/internal/model"
)

// MemoryRepository хранит состояние и вызовы помощи в памяти процесса.
type MemoryRepository struct {
	mu       sync.RWMutex
	state    map[string][]byte
	requests []model.AssistanceRequest
}

// NewMemoryRepository создаёт пустое хранилище в памяти.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		state: make(map[string][]byte),
	}
}

// Close ничего не делает и нужен для единообразия с другими хранилищами.
func (m *MemoryRepository) Close() error { return nil }

// Load возвращает сохранённое значение по ключу.
func (m *MemoryRepository) Load(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.state[key]
	if !ok {
		return nil, ErrStateNotFound
	}
	return append([]byte(nil), v...), nil
}

// Save сохраняет значение по ключу.
func (m *MemoryRepository) Save(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state[key] = append([]byte(nil), value...)
	return nil
}

// Delete удаляет значение по ключу.
func (m *MemoryRepository) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.state, key)
	return nil
}

// InsertRequest добавляет вызов помощи в конец реестра.
func (m *MemoryRepository) InsertRequest(_ context.Context, req model.AssistanceRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = append(m.requests, req)
	return nil
}

// DeleteUnresolved удаляет нерешённые вызовы тележки.
func (m *MemoryRepository) DeleteUnresolved(_ context.Context, cartCode string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.requests[:0]
	removed := 0
	for _, req := range m.requests {
		if req.CartCode == cartCode && !req.Resolved {
			removed++
			continue
		}
		kept = append(kept, req)
	}
	m.requests = kept
	return removed, nil
}

// ResolveRequest помечает вызов решённым.
func (m *MemoryRepository) ResolveRequest(_ context.Context, id string) error {
	return m.update(id, func(req *model.AssistanceRequest) {
		req.Resolved = true
	})
}

// AssignRequest назначает сотрудника на вызов.
func (m *MemoryRepository) AssignRequest(_ context.Context, id, staffName string) error {
	return m.update(id, func(req *model.AssistanceRequest) {
		name := staffName
		req.AssignedTo = &name
	})
}

func (m *MemoryRepository) update(id string, fn func(*model.AssistanceRequest)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.requests {
		if m.requests[i].ID == id {
			fn(&m.requests[i])
			return nil
		}
	}
	return ErrRequestNotFound
}

// ListRequests возвращает копию реестра в порядке поступления.
func (m *MemoryRepository) ListRequests(_ context.Context) ([]model.AssistanceRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	res := make([]model.AssistanceRequest, len(m.requests))
	copy(res, m.requests)
	return res, nil
}
