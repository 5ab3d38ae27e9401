// Copyright 2024-2026 Aiku AI

package sync

import (
	"context"

	"github.com/aiku/ticketsync/pkg/store"
)

// ensureUserMapping keeps the actor's Linear→GitHub identity mapping fresh.
// It only acts when the event actor is the sync's own Linear user, since
// that is the only identity the sync's GitHub token can vouch for. Failures
// are logged and never abort the event.
func (e *Engine) ensureUserMapping(ctx context.Context, t *task) {
	actor := t.payload.Data.ActorID()
	if actor == "" || actor != t.sync.LinearUserID {
		return
	}

	existing, err := e.store.UserMappingByLinearUser(ctx, actor)
	if err != nil {
		t.log.Warn().Err(err).Msg("Could not load user mapping")
		return
	}
	if existing != nil && existing.GitHubUserID == t.sync.GitHubUserID && existing.GitHubUsername != "" {
		return
	}

	user, err := t.github.UserByID(ctx, t.sync.GitHubUserID)
	if err != nil {
		t.log.Warn().Err(err).Int64("github_user_id", t.sync.GitHubUserID).Msg("Could not fetch GitHub user")
		return
	}
	if err := e.store.UpsertUserMapping(ctx, &store.UserMapping{
		LinearUserID:   actor,
		GitHubUserID:   t.sync.GitHubUserID,
		GitHubUsername: user.Login,
	}); err != nil {
		t.log.Warn().Err(err).Msg("Could not store user mapping")
		return
	}
	t.log.Debug().Str("github_username", user.Login).Msg("Refreshed user mapping")
}

// resolveGitHubUser returns the GitHub username mapped to a Linear user, or
// "" when no mapping exists. Mappings are only ever written by
// ensureUserMapping; this never reaches out to either platform.
func (e *Engine) resolveGitHubUser(ctx context.Context, linearUserID string) (string, error) {
	if linearUserID == "" {
		return "", nil
	}
	mapping, err := e.store.UserMappingByLinearUser(ctx, linearUserID)
	if err != nil {
		return "", err
	}
	if mapping == nil {
		return "", nil
	}
	return mapping.GitHubUsername, nil
}
