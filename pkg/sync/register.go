// Copyright 2024-2026 Aiku AI

package sync

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/aiku/ticketsync/pkg/github"
)

// githubWebhookEvents are the repository deliveries the engine consumes.
var githubWebhookEvents = []string{"issues", "issue_comment"}

// RegisterWebhooks ensures every synced repository has a webhook pointing at
// this engine's public /webhook/github endpoint, creating or updating hooks
// as needed. Returns one outcome line per repository; repositories shared by
// multiple syncs are visited once.
func (e *Engine) RegisterWebhooks(ctx context.Context) ([]string, error) {
	if e.cfg.PublicURL == "" {
		return nil, fmt.Errorf("public_url is not configured")
	}
	hookURL := strings.TrimSuffix(e.cfg.PublicURL, "/") + "/webhook/github"

	syncs, err := e.store.Syncs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load syncs: %w", err)
	}

	var outcomes []string
	seen := make(map[int64]bool)
	for _, s := range syncs {
		if seen[s.RepoID] {
			continue
		}
		seen[s.RepoID] = true

		token, err := e.decryptor.Decrypt(s.GitHubAPIKey, s.GitHubAPIKeyIV)
		if err != nil {
			return outcomes, fmt.Errorf("failed to decrypt GitHub key for %s: %w", s.RepoName, err)
		}
		gh := e.cfg.newGitHubClient(token, s.RepoName)

		outcome, err := registerRepoWebhook(ctx, gh, hookURL, s.WebhookSecret)
		if err != nil {
			return outcomes, fmt.Errorf("%s: %w", s.RepoName, err)
		}
		e.log.Info().Str("repo", s.RepoName).Msg(outcome)
		outcomes = append(outcomes, s.RepoName+": "+outcome)
	}
	return outcomes, nil
}

func registerRepoWebhook(ctx context.Context, gh *github.Client, hookURL, secret string) (string, error) {
	hooks, err := gh.Webhooks(ctx)
	if err != nil {
		return "", err
	}
	for _, h := range hooks {
		if h.Config.URL != hookURL {
			continue
		}
		missing := missingEvents(h.Events, githubWebhookEvents)
		if len(missing) == 0 {
			return "Webhook already registered.", nil
		}
		if err := gh.PatchWebhook(ctx, h.ID, missing, nil); err != nil {
			return "", err
		}
		return "Updated webhook events.", nil
	}
	conf := github.WebhookConfig{URL: hookURL, Secret: secret, Events: githubWebhookEvents}
	if _, err := gh.CreateWebhook(ctx, conf); err != nil {
		return "", err
	}
	return "Registered webhook.", nil
}

func missingEvents(have, want []string) []string {
	var out []string
	for _, w := range want {
		if !slices.Contains(have, w) {
			out = append(out, w)
		}
	}
	return out
}
