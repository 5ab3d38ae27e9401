// Copyright 2024-2026 Aiku AI

package store

import (
	"context"
	"sync"
)

// Memory is an in-memory Store implementation. It backs tests and small
// single-process deployments; the SQLite implementation in store/sqlite is
// the persistent one.
type Memory struct {
	mu sync.RWMutex

	nextID     int64
	syncs      []*Sync
	issues     []*SyncedIssue
	milestones []*SyncedMilestone
	users      map[string]*UserMapping
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{nextID: 1, users: make(map[string]*UserMapping)}
}

// AddSync registers a sync configuration. Test and bootstrap helper.
func (m *Memory) AddSync(s *Sync) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == 0 {
		s.ID = m.nextID
		m.nextID++
	}
	m.syncs = append(m.syncs, s)
}

func (m *Memory) Syncs(_ context.Context) ([]*Sync, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Sync, len(m.syncs))
	copy(out, m.syncs)
	return out, nil
}

func (m *Memory) SyncsByLinearUser(_ context.Context, linearUserID string) ([]*Sync, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Sync
	for _, s := range m.syncs {
		if s.LinearUserID == linearUserID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *Memory) SyncsByRepo(_ context.Context, repoID int64) ([]*Sync, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Sync
	for _, s := range m.syncs {
		if s.RepoID == repoID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *Memory) SyncedIssueByTicket(_ context.Context, linearIssueID, linearTeamID string) (*SyncedIssue, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, row := range m.issues {
		if row.LinearIssueID != linearIssueID {
			continue
		}
		if linearTeamID == "" || row.LinearTeamID == linearTeamID {
			cp := *row
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *Memory) SyncedIssueByGitHub(_ context.Context, repoID int64, issueNumber int) (*SyncedIssue, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, row := range m.issues {
		if row.GitHubRepoID == repoID && row.GitHubIssueNumber == issueNumber {
			cp := *row
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *Memory) CreateSyncedIssue(_ context.Context, row *SyncedIssue) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row.ID = m.nextID
	m.nextID++
	cp := *row
	m.issues = append(m.issues, &cp)
	return nil
}

func (m *Memory) DeleteSyncedIssue(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, row := range m.issues {
		if row.ID == id {
			m.issues = append(m.issues[:i], m.issues[i+1:]...)
			return nil
		}
	}
	return nil
}

func (m *Memory) MilestoneByContainer(_ context.Context, containerID, linearTeamID string) (*SyncedMilestone, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, row := range m.milestones {
		if row.ContainerID == containerID && row.LinearTeamID == linearTeamID {
			cp := *row
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *Memory) CreateMilestone(_ context.Context, row *SyncedMilestone) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row.ID = m.nextID
	m.nextID++
	cp := *row
	m.milestones = append(m.milestones, &cp)
	return nil
}

func (m *Memory) UserMappingByLinearUser(_ context.Context, linearUserID string) (*UserMapping, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if row, ok := m.users[linearUserID]; ok {
		cp := *row
		return &cp, nil
	}
	return nil, nil
}

func (m *Memory) UpsertUserMapping(_ context.Context, row *UserMapping) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.users[row.LinearUserID]; ok {
		row.ID = existing.ID
	} else {
		row.ID = m.nextID
		m.nextID++
	}
	cp := *row
	m.users[row.LinearUserID] = &cp
	return nil
}
