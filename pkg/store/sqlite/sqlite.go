// Copyright 2024-2026 Aiku AI

// Package sqlite implements the correlation store on SQLite using the
// ncruces/go-sqlite3 database/sql driver.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/aiku/ticketsync/pkg/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS syncs (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	linear_user_id    TEXT NOT NULL,
	linear_team_id    TEXT NOT NULL,
	linear_api_key    TEXT NOT NULL,
	linear_api_key_iv TEXT NOT NULL DEFAULT '',
	public_label_id   TEXT NOT NULL,
	done_state_id     TEXT NOT NULL,
	canceled_state_id TEXT NOT NULL,
	todo_state_id     TEXT NOT NULL DEFAULT '',
	github_user_id    INTEGER NOT NULL,
	github_api_key    TEXT NOT NULL,
	github_api_key_iv TEXT NOT NULL DEFAULT '',
	repo_id           INTEGER NOT NULL,
	repo_name         TEXT NOT NULL,
	webhook_secret    TEXT NOT NULL DEFAULT '',
	UNIQUE (linear_user_id, linear_team_id)
);

CREATE TABLE IF NOT EXISTS synced_issues (
	id                  INTEGER PRIMARY KEY AUTOINCREMENT,
	linear_issue_id     TEXT NOT NULL,
	linear_issue_number INTEGER NOT NULL,
	linear_team_id      TEXT NOT NULL,
	github_issue_id     INTEGER NOT NULL,
	github_issue_number INTEGER NOT NULL,
	github_repo_id      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_synced_issues_ticket
	ON synced_issues (linear_issue_id, linear_team_id);
CREATE INDEX IF NOT EXISTS idx_synced_issues_github
	ON synced_issues (github_repo_id, github_issue_number);

CREATE TABLE IF NOT EXISTS synced_milestones (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	container_id     TEXT NOT NULL,
	linear_team_id   TEXT NOT NULL,
	milestone_number INTEGER NOT NULL,
	github_repo_id   INTEGER NOT NULL,
	UNIQUE (container_id, linear_team_id)
);

CREATE TABLE IF NOT EXISTS user_mappings (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	linear_user_id  TEXT NOT NULL UNIQUE,
	linear_username TEXT NOT NULL DEFAULT '',
	github_user_id  INTEGER NOT NULL,
	github_username TEXT NOT NULL
);
`

// Store is a SQLite-backed correlation store.
type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// Open opens (creating if necessary) the database at path and applies the
// schema. Pass ":memory:" for an ephemeral database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Syncs(ctx context.Context) ([]*store.Sync, error) {
	return s.querySyncs(ctx, "1 = 1")
}

func (s *Store) SyncsByLinearUser(ctx context.Context, linearUserID string) ([]*store.Sync, error) {
	return s.querySyncs(ctx, "linear_user_id = ?", linearUserID)
}

func (s *Store) SyncsByRepo(ctx context.Context, repoID int64) ([]*store.Sync, error) {
	return s.querySyncs(ctx, "repo_id = ?", repoID)
}

func (s *Store) querySyncs(ctx context.Context, where string, args ...any) ([]*store.Sync, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, linear_user_id, linear_team_id, linear_api_key, linear_api_key_iv,
		       public_label_id, done_state_id, canceled_state_id, todo_state_id,
		       github_user_id, github_api_key, github_api_key_iv,
		       repo_id, repo_name, webhook_secret
		FROM syncs WHERE `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query syncs: %w", err)
	}
	defer rows.Close()

	var out []*store.Sync
	for rows.Next() {
		var row store.Sync
		if err := rows.Scan(
			&row.ID, &row.LinearUserID, &row.LinearTeamID, &row.LinearAPIKey, &row.LinearAPIKeyIV,
			&row.PublicLabelID, &row.DoneStateID, &row.CanceledStateID, &row.ToDoStateID,
			&row.GitHubUserID, &row.GitHubAPIKey, &row.GitHubAPIKeyIV,
			&row.RepoID, &row.RepoName, &row.WebhookSecret,
		); err != nil {
			return nil, fmt.Errorf("failed to scan sync: %w", err)
		}
		out = append(out, &row)
	}
	return out, rows.Err()
}

// CreateSync inserts a sync configuration. Used at configuration time, not
// on the webhook hot path.
func (s *Store) CreateSync(ctx context.Context, row *store.Sync) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO syncs (linear_user_id, linear_team_id, linear_api_key, linear_api_key_iv,
		                   public_label_id, done_state_id, canceled_state_id, todo_state_id,
		                   github_user_id, github_api_key, github_api_key_iv,
		                   repo_id, repo_name, webhook_secret)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.LinearUserID, row.LinearTeamID, row.LinearAPIKey, row.LinearAPIKeyIV,
		row.PublicLabelID, row.DoneStateID, row.CanceledStateID, row.ToDoStateID,
		row.GitHubUserID, row.GitHubAPIKey, row.GitHubAPIKeyIV,
		row.RepoID, row.RepoName, row.WebhookSecret)
	if err != nil {
		return fmt.Errorf("failed to insert sync: %w", err)
	}
	row.ID, _ = res.LastInsertId()
	return nil
}

func (s *Store) SyncedIssueByTicket(ctx context.Context, linearIssueID, linearTeamID string) (*store.SyncedIssue, error) {
	query := `
		SELECT id, linear_issue_id, linear_issue_number, linear_team_id,
		       github_issue_id, github_issue_number, github_repo_id
		FROM synced_issues WHERE linear_issue_id = ?`
	args := []any{linearIssueID}
	if linearTeamID != "" {
		query += ` AND linear_team_id = ?`
		args = append(args, linearTeamID)
	}
	return s.scanSyncedIssue(s.db.QueryRowContext(ctx, query, args...))
}

func (s *Store) SyncedIssueByGitHub(ctx context.Context, repoID int64, issueNumber int) (*store.SyncedIssue, error) {
	return s.scanSyncedIssue(s.db.QueryRowContext(ctx, `
		SELECT id, linear_issue_id, linear_issue_number, linear_team_id,
		       github_issue_id, github_issue_number, github_repo_id
		FROM synced_issues WHERE github_repo_id = ? AND github_issue_number = ?`,
		repoID, issueNumber))
}

func (s *Store) scanSyncedIssue(r *sql.Row) (*store.SyncedIssue, error) {
	var row store.SyncedIssue
	err := r.Scan(
		&row.ID, &row.LinearIssueID, &row.LinearIssueNumber, &row.LinearTeamID,
		&row.GitHubIssueID, &row.GitHubIssueNumber, &row.GitHubRepoID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan synced issue: %w", err)
	}
	return &row, nil
}

func (s *Store) CreateSyncedIssue(ctx context.Context, row *store.SyncedIssue) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO synced_issues (linear_issue_id, linear_issue_number, linear_team_id,
		                           github_issue_id, github_issue_number, github_repo_id)
		VALUES (?, ?, ?, ?, ?, ?)`,
		row.LinearIssueID, row.LinearIssueNumber, row.LinearTeamID,
		row.GitHubIssueID, row.GitHubIssueNumber, row.GitHubRepoID)
	if err != nil {
		return fmt.Errorf("failed to insert synced issue: %w", err)
	}
	row.ID, _ = res.LastInsertId()
	return nil
}

func (s *Store) DeleteSyncedIssue(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM synced_issues WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete synced issue: %w", err)
	}
	return nil
}

func (s *Store) MilestoneByContainer(ctx context.Context, containerID, linearTeamID string) (*store.SyncedMilestone, error) {
	var row store.SyncedMilestone
	err := s.db.QueryRowContext(ctx, `
		SELECT id, container_id, linear_team_id, milestone_number, github_repo_id
		FROM synced_milestones WHERE container_id = ? AND linear_team_id = ?`,
		containerID, linearTeamID).
		Scan(&row.ID, &row.ContainerID, &row.LinearTeamID, &row.MilestoneNumber, &row.GitHubRepoID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan milestone: %w", err)
	}
	return &row, nil
}

func (s *Store) CreateMilestone(ctx context.Context, row *store.SyncedMilestone) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO synced_milestones (container_id, linear_team_id, milestone_number, github_repo_id)
		VALUES (?, ?, ?, ?)`,
		row.ContainerID, row.LinearTeamID, row.MilestoneNumber, row.GitHubRepoID)
	if err != nil {
		return fmt.Errorf("failed to insert milestone: %w", err)
	}
	row.ID, _ = res.LastInsertId()
	return nil
}

func (s *Store) UserMappingByLinearUser(ctx context.Context, linearUserID string) (*store.UserMapping, error) {
	var row store.UserMapping
	err := s.db.QueryRowContext(ctx, `
		SELECT id, linear_user_id, linear_username, github_user_id, github_username
		FROM user_mappings WHERE linear_user_id = ?`, linearUserID).
		Scan(&row.ID, &row.LinearUserID, &row.LinearUsername, &row.GitHubUserID, &row.GitHubUsername)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan user mapping: %w", err)
	}
	return &row, nil
}

func (s *Store) UpsertUserMapping(ctx context.Context, row *store.UserMapping) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_mappings (linear_user_id, linear_username, github_user_id, github_username)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (linear_user_id) DO UPDATE SET
			linear_username = excluded.linear_username,
			github_user_id  = excluded.github_user_id,
			github_username = excluded.github_username`,
		row.LinearUserID, row.LinearUsername, row.GitHubUserID, row.GitHubUsername)
	if err != nil {
		return fmt.Errorf("failed to upsert user mapping: %w", err)
	}
	return nil
}
