package orchestrator_test

import (
	"context"
	"sync"
	"time"

	"github.com/haasonsaas/nexus/internal/orchestrator"
	"github.com/haasonsaas/nexus/pkg/models"
)

// memTaskStore is an in-memory orchestrator.TaskStore test double, mirroring
// the style of internal/storage's in-memory stores.
type memTaskStore struct {
	mu    sync.Mutex
	tasks map[string]*models.Task
}

func newMemTaskStore() *memTaskStore {
	return &memTaskStore{tasks: make(map[string]*models.Task)}
}

func (m *memTaskStore) Create(ctx context.Context, task *models.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *task
	m.tasks[task.ID] = &cp
	return nil
}

func (m *memTaskStore) Get(ctx context.Context, id string) (*models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, orchestrator.ErrTaskNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *memTaskStore) Update(ctx context.Context, task *models.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *task
	m.tasks[task.ID] = &cp
	return nil
}

func (m *memTaskStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tasks, id)
	return nil
}

func (m *memTaskStore) OlderThan(ctx context.Context, cutoff time.Time, statuses []models.TaskStatus) ([]models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	wanted := make(map[models.TaskStatus]bool, len(statuses))
	for _, s := range statuses {
		wanted[s] = true
	}

	var out []models.Task
	for _, t := range m.tasks {
		if !wanted[t.Status] {
			continue
		}
		if t.UpdatedAt.Before(cutoff) {
			out = append(out, *t)
		}
	}
	return out, nil
}
