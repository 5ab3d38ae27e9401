// Copyright 2024-2026 Aiku AI

package sync

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/aiku/ticketsync/pkg/github"
	"github.com/aiku/ticketsync/pkg/linear"
	"github.com/aiku/ticketsync/pkg/store"
	"github.com/aiku/ticketsync/pkg/sync/content"
)

// milestoneTitle derives the GitHub milestone title from a container.
// Cycles are often unnamed or numerically named; those normalize to a
// "v.<n>" version title. Projects keep their name.
func milestoneTitle(c *linear.Container, kind ContainerKind) string {
	if kind == ContainerCycle {
		if c.Name == "" {
			return fmt.Sprintf("v.%d", c.Number)
		}
		if isNumber(c.Name) {
			return "v." + c.Name
		}
		return c.Name
	}
	if c.Name == "" {
		return "?"
	}
	return c.Name
}

func isNumber(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// milestoneState maps a container end date to a milestone state: open while
// the end date is unset or in the future, closed once it has passed.
func milestoneState(end *time.Time, now time.Time) string {
	if end == nil || end.After(now) {
		return "open"
	}
	return "closed"
}

// handleContainerChange syncs a cycle or project transition onto the
// GitHub milestone. Milestones are created lazily on first reference and
// remembered in the correlation store.
func (e *Engine) handleContainerChange(ctx context.Context, t *task, c ContainerChange) (string, error) {
	if t.synced == nil {
		return skipReason("milestone", t.ticket), nil
	}

	if c.Current == "" {
		if err := t.github.SetIssueMilestone(ctx, t.synced.GitHubIssueNumber, nil); err != nil {
			return "", apiErrorf(http.StatusInternalServerError, "Could not remove milestone: %s", err)
		}
		t.log.Info().Int("github_issue", t.synced.GitHubIssueNumber).Msg("Removed milestone")
		return fmt.Sprintf("Removed milestone for %s.", t.ticket), nil
	}

	row, err := e.store.MilestoneByContainer(ctx, c.Current, t.payload.Data.TeamID)
	if err != nil {
		return "", apiErrorf(http.StatusInternalServerError, "Could not load milestone: %s", err)
	}

	var number int
	if row != nil {
		number = row.MilestoneNumber
	} else {
		number, err = e.createMilestone(ctx, t, c)
		if err != nil {
			return "", err
		}
		if number == 0 {
			// Milestone originated on the GitHub side; creating it again
			// would bounce the event back.
			return fmt.Sprintf("Skipping milestone for %s: caused by sync.", t.ticket), nil
		}
	}

	if err := t.github.SetIssueMilestone(ctx, t.synced.GitHubIssueNumber, &number); err != nil {
		return "", apiErrorf(http.StatusInternalServerError, "Could not set milestone: %s", err)
	}
	t.log.Info().Int("milestone", number).Int("github_issue", t.synced.GitHubIssueNumber).Msg("Set milestone")
	return fmt.Sprintf("Added milestone to #%d for %s.", number, t.ticket), nil
}

// createMilestone creates the GitHub milestone for a container and records
// the correlation. Returns 0 when the container came from the other side
// and must not be mirrored back.
func (e *Engine) createMilestone(ctx context.Context, t *task, c ContainerChange) (int, error) {
	var (
		container *linear.Container
		err       error
	)
	if c.Kind == ContainerCycle {
		container, err = t.linear.Cycle(ctx, c.Current)
	} else {
		container, err = t.linear.Project(ctx, c.Current)
	}
	if err != nil || container == nil {
		return 0, apiErrorf(http.StatusInternalServerError, "Could not find %s %s.", c.Kind, c.Current)
	}
	if content.HasFooter(container.Description) {
		return 0, nil
	}

	description := container.Description
	if c.Kind == ContainerProject {
		description += " (Project)"
	}
	description += content.MilestoneFooter(content.OriginLinear)

	req := github.MilestoneRequest{
		Title:       milestoneTitle(container, c.Kind),
		State:       milestoneState(container.EndDate(), time.Now()),
		Description: description,
	}
	if end := container.EndDate(); end != nil {
		req.DueOn = end.UTC().Format(time.RFC3339)
	}

	number, alreadyExists, err := t.github.CreateMilestone(ctx, req)
	if err != nil {
		return 0, apiErrorf(http.StatusInternalServerError, "Could not create milestone: %s", err)
	}
	if alreadyExists {
		t.log.Info().Str("title", req.Title).Int("milestone", number).Msg("Reusing existing milestone")
	} else {
		t.log.Info().Str("title", req.Title).Int("milestone", number).Msg("Created milestone")
	}

	if err := e.store.CreateMilestone(ctx, &store.SyncedMilestone{
		ContainerID:     c.Current,
		LinearTeamID:    t.payload.Data.TeamID,
		MilestoneNumber: number,
		GitHubRepoID:    t.sync.RepoID,
	}); err != nil {
		return 0, apiErrorf(http.StatusInternalServerError, "Could not persist milestone: %s", err)
	}
	return number, nil
}
