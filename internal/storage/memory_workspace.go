package storage

import (
	"context"
	"sync"
	"time"

	"github.com/haasonsaas/nexus/internal/reconcile"
	"github.com/haasonsaas/nexus/pkg/models"
)

// MemoryWorkspaceStore is an in-memory WorkspaceStore used by reconciler
// tests in place of a running CockroachDB.
type MemoryWorkspaceStore struct {
	mu               sync.Mutex
	workspaces       map[string]*models.Workspace
	userDefaultStdby map[string]time.Duration
	archivedSessions map[string]bool
}

// NewMemoryWorkspaceStore creates an empty in-memory workspace store.
func NewMemoryWorkspaceStore() *MemoryWorkspaceStore {
	return &MemoryWorkspaceStore{
		workspaces:       make(map[string]*models.Workspace),
		userDefaultStdby: make(map[string]time.Duration),
		archivedSessions: make(map[string]bool),
	}
}

func (s *MemoryWorkspaceStore) Create(ctx context.Context, ws *models.Workspace) error {
	if ws == nil || ws.ID == "" {
		return ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *ws
	s.workspaces[ws.ID] = &cp
	return nil
}

func (s *MemoryWorkspaceStore) Get(ctx context.Context, id string) (*models.Workspace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ws, ok := s.workspaces[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *ws
	return &cp, nil
}

func (s *MemoryWorkspaceStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.workspaces[id]; !ok {
		return ErrNotFound
	}
	delete(s.workspaces, id)
	return nil
}

func (s *MemoryWorkspaceStore) DeleteWorkspace(ctx context.Context, workspaceID string) error {
	return s.Delete(ctx, workspaceID)
}

func (s *MemoryWorkspaceStore) RunningWorkspaces(ctx context.Context) ([]models.Workspace, error) {
	return s.byStatus(models.WorkspaceRunning), nil
}

func (s *MemoryWorkspaceStore) StandbyWorkspaces(ctx context.Context) ([]models.Workspace, error) {
	return s.byStatus(models.WorkspaceStandby), nil
}

func (s *MemoryWorkspaceStore) ActiveSessionWorkspaces(ctx context.Context) ([]models.Workspace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Workspace
	for _, ws := range s.workspaces {
		if ws.Status != models.WorkspaceDeleted {
			out = append(out, *ws)
		}
	}
	return out, nil
}

func (s *MemoryWorkspaceStore) byStatus(status models.WorkspaceStatus) []models.Workspace {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Workspace
	for _, ws := range s.workspaces {
		if ws.Status == status {
			out = append(out, *ws)
		}
	}
	return out
}

func (s *MemoryWorkspaceStore) UserDefaultStandbyTimeout(ctx context.Context, userID string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userDefaultStdby[userID], nil
}

// SetUserDefaultStandbyTimeout is a test helper with no storage interface
// counterpart.
func (s *MemoryWorkspaceStore) SetUserDefaultStandbyTimeout(userID string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userDefaultStdby[userID] = d
}

func (s *MemoryWorkspaceStore) SetStandby(ctx context.Context, workspaceID string, expectStatus models.WorkspaceStatus, standbyAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ws, ok := s.workspaces[workspaceID]
	if !ok || ws.Status != expectStatus {
		return false, nil
	}
	ws.Status = models.WorkspaceStandby
	ws.StandbySince = standbyAt
	return true, nil
}

func (s *MemoryWorkspaceStore) MarkWorkspaceError(ctx context.Context, workspaceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ws, ok := s.workspaces[workspaceID]
	if !ok {
		return ErrNotFound
	}
	ws.Status = models.WorkspaceError
	return nil
}

func (s *MemoryWorkspaceStore) ArchiveSession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.archivedSessions[sessionID] = true
	return nil
}

func (s *MemoryWorkspaceStore) IsSessionArchived(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.archivedSessions[sessionID]
}

func (s *MemoryWorkspaceStore) Locate(ctx context.Context, workspaceID string) (string, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ws, ok := s.workspaces[workspaceID]
	if !ok {
		return "", "", ErrNotFound
	}
	return ws.HostID, ws.ContainerID, nil
}

func (s *MemoryWorkspaceStore) SetContainer(ctx context.Context, workspaceID, hostID, containerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ws, ok := s.workspaces[workspaceID]
	if !ok {
		return ErrNotFound
	}
	ws.HostID = hostID
	ws.ContainerID = containerID
	ws.Status = models.WorkspaceRunning
	return nil
}

// MemoryAgentStatusStore is an in-memory reconcile.AgentStatusStore used by
// watchdog tests.
type MemoryAgentStatusStore struct {
	mu     sync.Mutex
	stuck  []reconcile.StuckAgent
	errors map[string]bool
}

// NewMemoryAgentStatusStore creates an empty in-memory agent status store.
func NewMemoryAgentStatusStore() *MemoryAgentStatusStore {
	return &MemoryAgentStatusStore{errors: make(map[string]bool)}
}

// SeedStuck registers agents the next StuckRunningAgents call should return.
func (s *MemoryAgentStatusStore) SeedStuck(agents ...reconcile.StuckAgent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stuck = agents
}

func (s *MemoryAgentStatusStore) StuckRunningAgents(ctx context.Context, olderThan time.Duration) ([]reconcile.StuckAgent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]reconcile.StuckAgent, len(s.stuck))
	copy(out, s.stuck)
	return out, nil
}

func (s *MemoryAgentStatusStore) MarkAgentError(ctx context.Context, agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors[agentID] = true
	return nil
}

func (s *MemoryAgentStatusStore) MarkedError(agentID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errors[agentID]
}
