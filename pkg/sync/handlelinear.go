// Copyright 2024-2026 Aiku AI

package sync

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.mau.fi/util/ptr"

	"github.com/aiku/ticketsync/pkg/github"
	"github.com/aiku/ticketsync/pkg/store"
	"github.com/aiku/ticketsync/pkg/sync/content"
)

// priorityLabels are the fixed label definitions for Linear priority levels.
// Level 0 is "no priority": its label is only ever removed, never applied.
var priorityLabels = map[int]github.Label{
	0: {Name: "No priority", Color: "bec2c8"},
	1: {Name: "Urgent", Color: "eb5757"},
	2: {Name: "High", Color: "f2994a"},
	3: {Name: "Medium", Color: "f2c94c"},
	4: {Name: "Low", Color: "bb87fc"},
}

func estimateLabel(points int) github.Label {
	return github.Label{Name: fmt.Sprintf("%d points", points), Color: "666666"}
}

// routeUpdate dispatches an update event over its field-change variants.
// Label changes run first because they create or delete the correlation;
// every other variant requires an existing correlation and is a no-op with
// a skip reason without one. Later non-fatal failures never roll back
// earlier mutations.
func (e *Engine) routeUpdate(ctx context.Context, t *task) (string, error) {
	changes := t.payload.Changes()
	if len(changes) == 0 {
		return "No changed fields to sync.", nil
	}

	var outcomes []string
	for _, change := range changes {
		var (
			outcome string
			err     error
			stop    bool
		)
		switch c := change.(type) {
		case LabelsChange:
			outcome, stop, err = e.handleLabelsChange(ctx, t, c)
		case TitleChange:
			outcome, err = e.handleTitleChange(ctx, t, c)
		case DescriptionChange:
			outcome, err = e.handleDescriptionChange(ctx, t, c)
		case ContainerChange:
			outcome, err = e.handleContainerChange(ctx, t, c)
		case StateChange:
			outcome, err = e.handleStateChange(ctx, t, c)
		case AssigneeChange:
			outcome, err = e.handleAssigneeChange(ctx, t, c)
		case PriorityChange:
			outcome, err = e.handlePriorityChange(ctx, t, c)
		case EstimateChange:
			outcome, err = e.handleEstimateChange(ctx, t, c)
		default:
			t.log.Error().Str("field", change.Field()).Msg("Unhandled field change variant")
			continue
		}
		if err != nil {
			return "", err
		}
		if outcome != "" {
			outcomes = append(outcomes, outcome)
		}
		if stop {
			break
		}
	}
	return strings.Join(outcomes, " "), nil
}

// handleLabelsChange covers the three label branches: public label removed,
// public label added, and any other label toggled on an already-public
// ticket. stop is true when the correlation itself was created or deleted;
// the remaining variants of the event are then moot.
func (e *Engine) handleLabelsChange(ctx context.Context, t *task, c LabelsChange) (outcome string, stop bool, err error) {
	added, removed := labelDelta(c.Previous, c.Current)

	for _, labelID := range removed {
		if labelID == t.sync.PublicLabelID {
			if t.synced == nil {
				return skipReason("label", t.ticket), true, nil
			}
			if err := e.store.DeleteSyncedIssue(ctx, t.synced.ID); err != nil {
				return "", false, apiErrorf(http.StatusInternalServerError, "Could not delete synced issue: %s", err)
			}
			t.log.Info().Int("github_issue", t.synced.GitHubIssueNumber).Msg("Deleted synced issue after public label removed")
			t.synced = nil
			return fmt.Sprintf("Deleted synced issue %s after public label removed.", t.ticket), true, nil
		}
	}

	for _, labelID := range added {
		if labelID == t.sync.PublicLabelID {
			if t.synced != nil {
				t.log.Info().
					Int("github_issue", t.synced.GitHubIssueNumber).
					Msg("Not mirroring ticket: issue already exists on GitHub")
				return "Issue already exists on GitHub.", true, nil
			}
			outcome, err := e.mirrorTicket(ctx, t)
			return outcome, true, err
		}
	}

	// A non-public label changed. Only relevant while the ticket is mirrored.
	if t.synced == nil {
		return skipReason("label", t.ticket), true, nil
	}

	for _, labelID := range removed {
		label, err := t.linear.IssueLabel(ctx, labelID)
		if err != nil || label == nil {
			return "", false, NewAPIError(http.StatusForbidden, "Could not find label.")
		}
		if err := t.github.RemoveLabel(ctx, t.synced.GitHubIssueNumber, label.Name); err != nil {
			// The label may never have been applied on the GitHub side.
			t.log.Warn().Err(err).Str("label", label.Name).Msg("Could not remove label")
		} else {
			t.log.Info().Str("label", label.Name).Int("github_issue", t.synced.GitHubIssueNumber).Msg("Removed label")
		}
		outcome = fmt.Sprintf("Removed label %q from issue #%d.", label.Name, t.synced.GitHubIssueNumber)
	}

	for _, labelID := range added {
		label, err := t.linear.IssueLabel(ctx, labelID)
		if err != nil || label == nil {
			return "", false, NewAPIError(http.StatusForbidden, "Could not find label.")
		}
		created, err := t.github.CreateLabel(ctx, github.Label{Name: label.Name, Color: strings.TrimPrefix(label.Color, "#")})
		if err != nil {
			return "", false, NewAPIError(http.StatusForbidden, "Could not create label.")
		}
		if err := t.github.AddLabels(ctx, t.synced.GitHubIssueNumber, []string{created.Name}); err != nil {
			return "", false, NewAPIError(http.StatusForbidden, "Could not apply label.")
		}
		t.log.Info().Str("label", created.Name).Int("github_issue", t.synced.GitHubIssueNumber).Msg("Applied label")
		outcome = fmt.Sprintf("Applied label %q to issue #%d.", created.Name, t.synced.GitHubIssueNumber)
	}

	return outcome, false, nil
}

func (e *Engine) handleTitleChange(ctx context.Context, t *task, _ TitleChange) (string, error) {
	if t.payload.Type != "Issue" {
		return "", nil
	}
	if t.synced == nil {
		return skipReason("edit", t.ticket), nil
	}
	patch := github.IssuePatch{Title: ptr.Ptr(mirrorTitle(t.ticket, t.payload.Data.Title))}
	if err := t.github.PatchIssue(ctx, t.synced.GitHubIssueNumber, patch); err != nil {
		t.log.Error().Err(err).Msg("Could not update issue title")
		return "", nil
	}
	t.log.Info().Int("github_issue", t.synced.GitHubIssueNumber).Msg("Updated issue title")
	return fmt.Sprintf("Updated title on issue #%d.", t.synced.GitHubIssueNumber), nil
}

func (e *Engine) handleDescriptionChange(ctx context.Context, t *task, _ DescriptionChange) (string, error) {
	if t.payload.Type != "Issue" {
		return "", nil
	}
	if t.synced == nil {
		return skipReason("edit", t.ticket), nil
	}
	body, err := e.mirrorBody(ctx, t)
	if err != nil {
		t.log.Error().Err(err).Msg("Could not prepare issue description")
		return "", nil
	}
	if err := t.github.PatchIssue(ctx, t.synced.GitHubIssueNumber, github.IssuePatch{Body: ptr.Ptr(body)}); err != nil {
		t.log.Error().Err(err).Msg("Could not update issue description")
		return "", nil
	}
	t.log.Info().Int("github_issue", t.synced.GitHubIssueNumber).Msg("Updated issue description")
	return fmt.Sprintf("Updated description on issue #%d.", t.synced.GitHubIssueNumber), nil
}

func (e *Engine) handleStateChange(ctx context.Context, t *task, c StateChange) (string, error) {
	if t.synced == nil {
		return skipReason("edit", t.ticket), nil
	}
	state := "open"
	if c.Current == t.sync.DoneStateID || c.Current == t.sync.CanceledStateID {
		state = "closed"
	}
	reason := "not_planned"
	if c.Current == t.sync.DoneStateID {
		reason = "completed"
	}
	patch := github.IssuePatch{State: ptr.Ptr(state), StateReason: ptr.Ptr(reason)}
	if err := t.github.PatchIssue(ctx, t.synced.GitHubIssueNumber, patch); err != nil {
		t.log.Error().Err(err).Msg("Could not update issue state")
		return "", nil
	}
	t.log.Info().Str("state", state).Int("github_issue", t.synced.GitHubIssueNumber).Msg("Updated issue state")
	return fmt.Sprintf("Updated state on issue #%d.", t.synced.GitHubIssueNumber), nil
}

func (e *Engine) handleAssigneeChange(ctx context.Context, t *task, c AssigneeChange) (string, error) {
	if t.synced == nil {
		return skipReason("edit", t.ticket), nil
	}

	// Snapshot current assignees before mutating; the removal below works
	// from this capture, not a re-query.
	issue, err := t.github.GetIssue(ctx, t.synced.GitHubIssueNumber)
	if err != nil {
		t.log.Error().Err(err).Msg("Could not fetch issue assignees")
		return "", nil
	}
	prev := make([]string, 0, len(issue.Assignees))
	for _, a := range issue.Assignees {
		prev = append(prev, a.Login)
	}

	if c.Current == "" {
		if len(prev) == 0 {
			return fmt.Sprintf("No assignees to remove from issue #%d.", t.synced.GitHubIssueNumber), nil
		}
		if err := t.github.RemoveAssignees(ctx, t.synced.GitHubIssueNumber, prev); err != nil {
			t.log.Error().Err(err).Msg("Could not remove assignees")
			return "", nil
		}
		return fmt.Sprintf("Removed assignees from issue #%d.", t.synced.GitHubIssueNumber), nil
	}

	username, err := e.resolveGitHubUser(ctx, c.Current)
	if err != nil {
		t.log.Error().Err(err).Msg("Could not resolve assignee mapping")
		return "", nil
	}
	if username == "" {
		t.log.Info().Str("linear_user_id", c.Current).Msg("Skipping assignee: no GitHub username mapped")
		return fmt.Sprintf("Skipping assignee for %s: no GitHub username found.", t.ticket), nil
	}
	for _, login := range prev {
		if login == username {
			t.log.Info().Str("assignee", username).Msg("Skipping assignee: already assigned")
			return fmt.Sprintf("Skipping assignee for %s: already assigned.", t.ticket), nil
		}
	}

	// Assign first; the captured assignees are removed afterwards, which can
	// transiently leave the issue with two assignees. The order avoids a
	// false "unassigned" notification on the GitHub side.
	if err := t.github.AddAssignees(ctx, t.synced.GitHubIssueNumber, []string{username}); err != nil {
		t.log.Error().Err(err).Str("assignee", username).Msg("Could not add assignee")
		return "", nil
	}
	if len(prev) > 0 {
		if err := t.github.RemoveAssignees(ctx, t.synced.GitHubIssueNumber, prev); err != nil {
			t.log.Error().Err(err).Msg("Could not remove previous assignees")
		}
	}
	t.log.Info().Str("assignee", username).Int("github_issue", t.synced.GitHubIssueNumber).Msg("Updated assignee")
	return fmt.Sprintf("Assigned %s on issue #%d.", username, t.synced.GitHubIssueNumber), nil
}

func (e *Engine) handlePriorityChange(ctx context.Context, t *task, c PriorityChange) (string, error) {
	if t.synced == nil {
		return skipReason("edit", t.ticket), nil
	}
	prevLabel, prevOK := priorityLabels[c.Previous]
	newLabel, newOK := priorityLabels[c.Current]
	if !prevOK || !newOK {
		return "", apiErrorf(http.StatusForbidden,
			"Could not find a priority label for %d or %d.", c.Previous, c.Current)
	}

	if err := t.github.RemoveLabel(ctx, t.synced.GitHubIssueNumber, prevLabel.Name); err != nil {
		t.log.Warn().Err(err).Str("label", prevLabel.Name).Msg("Did not remove priority label")
	} else {
		t.log.Info().Str("label", prevLabel.Name).Msg("Removed priority label")
	}

	if c.Current == 0 {
		return fmt.Sprintf("Removed priority label %q from issue #%d.", prevLabel.Name, t.synced.GitHubIssueNumber), nil
	}

	created, err := t.github.CreateLabel(ctx, newLabel)
	if err != nil {
		return "", NewAPIError(http.StatusForbidden, "Could not create label.")
	}
	if err := t.github.AddLabels(ctx, t.synced.GitHubIssueNumber, []string{created.Name}); err != nil {
		return "", NewAPIError(http.StatusForbidden, "Could not apply label.")
	}
	return fmt.Sprintf("Applied priority label %q to issue #%d.", created.Name, t.synced.GitHubIssueNumber), nil
}

func (e *Engine) handleEstimateChange(ctx context.Context, t *task, c EstimateChange) (string, error) {
	if t.synced == nil {
		return skipReason("edit", t.ticket), nil
	}
	prevName := estimateLabel(c.Previous).Name
	if err := t.github.RemoveLabel(ctx, t.synced.GitHubIssueNumber, prevName); err != nil {
		t.log.Warn().Err(err).Str("label", prevName).Msg("Did not remove estimate label")
	} else {
		t.log.Info().Str("label", prevName).Msg("Removed estimate label")
	}

	if c.Current == 0 {
		return fmt.Sprintf("Removed estimate label %q from issue #%d.", prevName, t.synced.GitHubIssueNumber), nil
	}

	created, err := t.github.CreateLabel(ctx, estimateLabel(c.Current))
	if err != nil {
		return "", NewAPIError(http.StatusForbidden, "Could not create estimate label.")
	}
	if err := t.github.AddLabels(ctx, t.synced.GitHubIssueNumber, []string{created.Name}); err != nil {
		return "", NewAPIError(http.StatusForbidden, "Could not apply label.")
	}
	return fmt.Sprintf("Applied estimate label %q to issue #%d.", created.Name, t.synced.GitHubIssueNumber), nil
}

// routeCreate handles issue and comment creation events.
func (e *Engine) routeCreate(ctx context.Context, t *task) (string, error) {
	switch t.payload.Type {
	case "Comment":
		return e.handleCommentCreate(ctx, t)
	case "Issue":
		return e.handleIssueCreate(ctx, t)
	default:
		return "Nothing to do for type " + t.payload.Type + ".", nil
	}
}

func (e *Engine) handleCommentCreate(ctx context.Context, t *task) (string, error) {
	data := &t.payload.Data
	if IsSyntheticID(data.ID) {
		return syntheticSkipReason("comment", data.IssueID), nil
	}

	// Comment events carry no team ID; look the parent ticket up by ID alone.
	synced, err := e.store.SyncedIssueByTicket(ctx, data.IssueID, "")
	if err != nil {
		return "", apiErrorf(http.StatusInternalServerError, "Could not load synced issue: %s", err)
	}
	if synced == nil {
		return skipReason("comment", t.ticket), nil
	}
	gh, err := e.githubClientForRepo(t, synced.GitHubRepoID)
	if err != nil {
		return "", err
	}

	body := data.Body
	if content.HasPrivateImage(body) {
		// The authoritative record carries public asset URLs.
		if public, err := t.linear.Comment(ctx, data.ID); err == nil && public != nil {
			body = public.Body
		}
	}
	body = content.Translate(body, content.OriginLinear)

	author := ""
	if data.User != nil {
		author = data.User.Name
	}
	body += content.CommentFooter(content.OriginLinear, author, data.ID)

	if err := gh.CreateComment(ctx, synced.GitHubIssueNumber, body); err != nil {
		t.log.Error().Err(err).Int("github_issue", synced.GitHubIssueNumber).Msg("Could not create comment")
		return "", NewAPIError(http.StatusInternalServerError, "Could not create comment on GitHub.")
	}
	t.log.Info().Int("github_issue", synced.GitHubIssueNumber).Msg("Synced comment")
	return fmt.Sprintf("Synced comment for issue #%d.", synced.GitHubIssueNumber), nil
}

func (e *Engine) handleIssueCreate(ctx context.Context, t *task) (string, error) {
	data := &t.payload.Data

	public := false
	for _, id := range data.LabelIDs {
		if id == t.sync.PublicLabelID {
			public = true
			break
		}
	}
	if !public {
		return "Issue is not labeled as public.", nil
	}
	if t.synced != nil {
		return fmt.Sprintf("Issue %s already exists on GitHub as #%d.", t.ticket, t.synced.GitHubIssueNumber), nil
	}
	if IsSyntheticID(data.ID) {
		return syntheticSkipReason("issue", data.ID), nil
	}

	return e.mirrorTicket(ctx, t)
}

func mirrorTitle(ticket, title string) string {
	return fmt.Sprintf("[%s] %s", ticket, title)
}

// mirrorBody prepares the GitHub issue body for a ticket: re-resolves
// private inline images, translates mentions, and appends the provenance
// footer linking back to the ticket.
func (e *Engine) mirrorBody(ctx context.Context, t *task) (string, error) {
	body := t.payload.Data.Description
	if content.HasPrivateImage(body) {
		public, err := t.linear.Issue(ctx, t.payload.Data.ID)
		if err != nil {
			return "", fmt.Errorf("failed to re-fetch issue: %w", err)
		}
		if public != nil && public.Description != "" {
			body = public.Description
		}
	}
	body = content.Translate(body, content.OriginLinear)
	return body + content.IssueFooter(content.OriginLinear, t.ticket, t.payload.URL), nil
}

// mirrorTicket performs the full mirroring sequence for a ticket that just
// became public: create the GitHub issue, persist the correlation and post
// the back-reference attachment concurrently, copy labels and priority,
// sync the existing comments, and invite the author if previously unknown.
func (e *Engine) mirrorTicket(ctx context.Context, t *task) (string, error) {
	data := &t.payload.Data

	body, err := e.mirrorBody(ctx, t)
	if err != nil {
		return "", apiErrorf(http.StatusInternalServerError, "Could not prepare issue body: %s", err)
	}

	req := github.IssueRequest{
		Title: mirrorTitle(t.ticket, data.Title),
		Body:  body,
	}
	if data.AssigneeID != "" {
		if username, err := e.resolveGitHubUser(ctx, data.AssigneeID); err == nil && username != "" {
			req.Assignees = []string{username}
		}
	}

	issue, err := t.github.CreateIssue(ctx, req)
	if err != nil {
		t.log.Error().Err(err).Msg("Could not create issue on GitHub")
		return "", apiErrorf(http.StatusInternalServerError, "Could not create issue on GitHub: %s", err)
	}
	t.log.Info().Int("github_issue", issue.Number).Msg("Created mirrored issue")

	// The back-reference attachment and the correlation row have no data
	// dependency on one another; issue them concurrently. Only the store
	// write is fatal.
	var wg sync.WaitGroup
	var storeErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := t.linear.CreateAttachment(ctx, data.ID,
			fmt.Sprintf("GitHub issue #%d", issue.Number), t.sync.RepoName,
			fmt.Sprintf("https://github.com/%s/issues/%d", t.sync.RepoName, issue.Number)); err != nil {
			t.log.Warn().Err(err).Msg("Could not create attachment on ticket")
		}
	}()
	go func() {
		defer wg.Done()
		storeErr = e.store.CreateSyncedIssue(ctx, &store.SyncedIssue{
			LinearIssueID:     data.ID,
			LinearIssueNumber: data.Number,
			LinearTeamID:      data.TeamID,
			GitHubIssueID:     issue.ID,
			GitHubIssueNumber: issue.Number,
			GitHubRepoID:      t.sync.RepoID,
		})
	}()
	wg.Wait()
	if storeErr != nil {
		return "", apiErrorf(http.StatusInternalServerError, "Could not persist synced issue: %s", storeErr)
	}

	e.copyLabels(ctx, t, issue.Number)
	e.syncExistingComments(ctx, t, issue.Number)
	e.maybeInviteCreator(ctx, t)

	return fmt.Sprintf("Created GitHub issue #%d for %s.", issue.Number, t.ticket), nil
}

// copyLabels mirrors the ticket's non-public labels and its priority label
// onto a freshly created issue. Individual failures are logged and skipped.
func (e *Engine) copyLabels(ctx context.Context, t *task, issueNumber int) {
	data := &t.payload.Data
	var names []string
	for _, labelID := range data.LabelIDs {
		if labelID == t.sync.PublicLabelID {
			continue
		}
		label, err := t.linear.IssueLabel(ctx, labelID)
		if err != nil || label == nil {
			t.log.Warn().Err(err).Str("label_id", labelID).Msg("Could not resolve label")
			continue
		}
		created, err := t.github.CreateLabel(ctx, github.Label{Name: label.Name, Color: strings.TrimPrefix(label.Color, "#")})
		if err != nil {
			t.log.Warn().Err(err).Str("label", label.Name).Msg("Could not create label")
			continue
		}
		names = append(names, created.Name)
	}

	if label, ok := priorityLabels[data.Priority]; ok && data.Priority != 0 {
		created, err := t.github.CreateLabel(ctx, label)
		if err != nil {
			t.log.Warn().Err(err).Str("label", label.Name).Msg("Could not create priority label")
		} else {
			names = append(names, created.Name)
		}
	}

	if len(names) == 0 {
		return
	}
	if err := t.github.AddLabels(ctx, issueNumber, names); err != nil {
		t.log.Warn().Err(err).Int("github_issue", issueNumber).Msg("Could not apply labels")
	} else {
		t.log.Info().Strs("labels", names).Int("github_issue", issueNumber).Msg("Applied labels")
	}
}

// syncExistingComments copies the ticket's existing comments onto a freshly
// created issue, in order, each with its provenance footer.
func (e *Engine) syncExistingComments(ctx context.Context, t *task, issueNumber int) {
	comments, err := t.linear.IssueComments(ctx, t.payload.Data.ID)
	if err != nil {
		t.log.Warn().Err(err).Msg("Could not list ticket comments")
		return
	}
	for _, c := range comments {
		body := content.Translate(c.Body, content.OriginLinear)
		body += content.CommentFooter(content.OriginLinear, c.User.DisplayName, c.ID)
		if err := t.github.CreateComment(ctx, issueNumber, body); err != nil {
			t.log.Warn().Err(err).Str("comment_id", c.ID).Msg("Could not copy comment")
			continue
		}
		t.log.Info().Str("comment_id", c.ID).Int("github_issue", issueNumber).Msg("Copied comment")
	}
}

// maybeInviteCreator invites the ticket's creator when they have no sync
// configuration of their own. Best effort.
func (e *Engine) maybeInviteCreator(ctx context.Context, t *task) {
	creator := t.payload.Data.CreatorID
	if creator == "" {
		return
	}
	for _, s := range t.syncs {
		if s.LinearUserID == creator {
			return
		}
	}
	inviteCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := t.linear.InviteMember(inviteCtx, creator); err != nil {
		t.log.Warn().Err(err).Str("creator_id", creator).Msg("Could not invite ticket creator")
	}
}
