// Copyright 2024-2026 Aiku AI

// Package store defines the correlation store contract: the persisted
// mappings that tie a Linear entity to its GitHub counterpart, plus the
// per-user sync configurations that bind a Linear identity to a GitHub
// repository.
//
// All lookup methods return (nil, nil) when no row matches; a non-nil error
// always indicates a storage failure, never a missing row.
package store

import "context"

// Sync binds one Linear user identity and team to one GitHub repository
// and the credentials needed to act on both platforms. API keys are held
// encrypted; decryption is performed by the caller's Decryptor.
type Sync struct {
	ID int64

	LinearUserID    string
	LinearTeamID    string
	LinearAPIKey    string
	LinearAPIKeyIV  string
	PublicLabelID   string
	DoneStateID     string
	CanceledStateID string
	ToDoStateID     string

	GitHubUserID   int64
	GitHubAPIKey   string
	GitHubAPIKeyIV string
	RepoID         int64
	RepoName       string
	WebhookSecret  string
}

// SyncedIssue correlates one Linear ticket with the GitHub issue that
// mirrors it. The mapping is immutable once created: rows are inserted when
// a ticket becomes public and deleted when the public label is removed,
// never updated.
type SyncedIssue struct {
	ID int64

	LinearIssueID     string
	LinearIssueNumber int
	LinearTeamID      string

	GitHubIssueID     int64
	GitHubIssueNumber int
	GitHubRepoID      int64
}

// SyncedMilestone correlates one Linear container (cycle or project) with a
// GitHub milestone. Created lazily on first reference.
type SyncedMilestone struct {
	ID int64

	ContainerID  string
	LinearTeamID string

	MilestoneNumber int
	GitHubRepoID    int64
}

// UserMapping maps a Linear user to a GitHub username for assignee and
// author translation. Upserted idempotently on demand.
type UserMapping struct {
	ID int64

	LinearUserID   string
	LinearUsername string

	GitHubUserID   int64
	GitHubUsername string
}

// Store is the correlation store consumed by the sync engine. Implementations
// must be safe for concurrent use; each webhook invocation runs as an
// independent unit of work against the same store.
type Store interface {
	// Syncs returns every sync configuration. Used at configuration time
	// (webhook registration), not on the event hot path.
	Syncs(ctx context.Context) ([]*Sync, error)

	// SyncsByLinearUser returns all sync configurations for the given Linear
	// user, regardless of team.
	SyncsByLinearUser(ctx context.Context, linearUserID string) ([]*Sync, error)

	// SyncsByRepo returns all sync configurations bound to the given GitHub
	// repository.
	SyncsByRepo(ctx context.Context, repoID int64) ([]*Sync, error)

	// SyncedIssueByTicket finds the correlation row for a Linear ticket.
	// An empty linearTeamID matches any team; comment events do not carry one.
	SyncedIssueByTicket(ctx context.Context, linearIssueID, linearTeamID string) (*SyncedIssue, error)

	// SyncedIssueByGitHub finds the correlation row for a GitHub issue.
	SyncedIssueByGitHub(ctx context.Context, repoID int64, issueNumber int) (*SyncedIssue, error)

	CreateSyncedIssue(ctx context.Context, row *SyncedIssue) error
	DeleteSyncedIssue(ctx context.Context, id int64) error

	MilestoneByContainer(ctx context.Context, containerID, linearTeamID string) (*SyncedMilestone, error)
	CreateMilestone(ctx context.Context, row *SyncedMilestone) error

	UserMappingByLinearUser(ctx context.Context, linearUserID string) (*UserMapping, error)
	// UpsertUserMapping inserts or replaces the mapping keyed by LinearUserID.
	UpsertUserMapping(ctx context.Context, row *UserMapping) error
}
