// Copyright 2024-2026 Aiku AI

package sync

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"go.mau.fi/util/ptr"

	"github.com/aiku/ticketsync/pkg/linear"
	"github.com/aiku/ticketsync/pkg/sync/content"
)

// GitHubPayload is the subset of a GitHub webhook delivery the reverse
// direction consumes.
type GitHubPayload struct {
	Action     string            `json:"action"`
	Issue      *GitHubIssue      `json:"issue"`
	Comment    *GitHubComment    `json:"comment"`
	Sender     GitHubUser        `json:"sender"`
	Repository *GitHubRepository `json:"repository"`
	Changes    *GitHubChanges    `json:"changes"`
}

type GitHubIssue struct {
	ID          int64  `json:"id"`
	Number      int    `json:"number"`
	Title       string `json:"title"`
	Body        string `json:"body"`
	State       string `json:"state"`
	StateReason string `json:"state_reason"`
}

type GitHubComment struct {
	ID   int64  `json:"id"`
	Body string `json:"body"`
}

type GitHubUser struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
}

type GitHubRepository struct {
	ID       int64  `json:"id"`
	FullName string `json:"full_name"`
}

// GitHubChanges reports which fields an edited event touched; the `from`
// values carry the pre-edit content.
type GitHubChanges struct {
	Title *struct {
		From string `json:"from"`
	} `json:"title"`
	Body *struct {
		From string `json:"from"`
	} `json:"body"`
}

// HandleGitHubEvent processes one GitHub webhook delivery and mirrors it
// onto the corresponding Linear ticket. rawBody and signature are the
// delivery's body bytes and X-Hub-Signature-256 header; the signature is
// checked against the matched sync's webhook secret. Comments created by
// the engine are recognized by their provenance footer; issue edits by the
// sync owner are treated as engine echoes, since the engine mutates GitHub
// with the owner's token.
func (e *Engine) HandleGitHubEvent(ctx context.Context, payload *GitHubPayload, rawBody []byte, signature string) (string, error) {
	if payload.Repository == nil || payload.Issue == nil {
		return "Nothing to do for event without an issue.", nil
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.EventTimeout())
	defer cancel()

	syncs, err := e.store.SyncsByRepo(ctx, payload.Repository.ID)
	if err != nil {
		return "", apiErrorf(http.StatusInternalServerError, "Could not load syncs: %s", err)
	}
	if len(syncs) == 0 {
		e.log.Info().Int64("repo_id", payload.Repository.ID).Msg("No sync found for repository")
		return "Could not find repository in syncs.", nil
	}
	sync := syncs[0]
	if !VerifySignature(sync.WebhookSecret, rawBody, signature) {
		e.log.Warn().Int64("repo_id", payload.Repository.ID).Msg("Rejected webhook with bad signature")
		return "", NewAPIError(http.StatusForbidden, "Could not verify webhook signature.")
	}

	synced, err := e.store.SyncedIssueByGitHub(ctx, payload.Repository.ID, payload.Issue.Number)
	if err != nil {
		return "", apiErrorf(http.StatusInternalServerError, "Could not load synced issue: %s", err)
	}
	ref := fmt.Sprintf("%s#%d", payload.Repository.FullName, payload.Issue.Number)
	if synced == nil {
		return skipReason(payload.Action, ref), nil
	}

	linearKey, err := e.decryptor.Decrypt(sync.LinearAPIKey, sync.LinearAPIKeyIV)
	if err != nil {
		return "", apiErrorf(http.StatusInternalServerError, "Could not decrypt Linear key: %s", err)
	}
	lc := e.cfg.newLinearClient(linearKey)
	log := e.log.With().
		Str("ref", ref).
		Str("action", payload.Action).
		Str("linear_issue_id", synced.LinearIssueID).
		Logger()

	switch payload.Action {
	case "created":
		if payload.Comment == nil {
			return "Nothing to do for created event without a comment.", nil
		}
		if content.HasFooter(payload.Comment.Body) {
			return syntheticSkipReason("comment", ref), nil
		}
		body := content.Translate(payload.Comment.Body, content.OriginGitHub)
		body += content.Footer(content.OriginGitHub, payload.Sender.Login)
		if err := lc.CreateComment(ctx, MakeSyntheticID(), synced.LinearIssueID, body); err != nil {
			log.Error().Err(err).Msg("Could not create comment on Linear")
			return "", NewAPIError(http.StatusInternalServerError, "Could not create comment on Linear.")
		}
		log.Info().Msg("Synced comment to Linear")
		return fmt.Sprintf("Synced comment for %s.", ref), nil

	case "edited":
		if payload.Sender.ID == sync.GitHubUserID {
			return syntheticSkipReason("edit", ref), nil
		}
		update := editUpdate(payload)
		if update == (linear.IssueUpdate{}) {
			return "No changed fields to sync.", nil
		}
		if err := lc.UpdateIssue(ctx, synced.LinearIssueID, update); err != nil {
			log.Error().Err(err).Msg("Could not update ticket")
			return "", NewAPIError(http.StatusInternalServerError, "Could not update ticket on Linear.")
		}
		log.Info().Msg("Synced edit to Linear")
		return fmt.Sprintf("Updated ticket for %s.", ref), nil

	case "closed":
		stateID := sync.DoneStateID
		if payload.Issue.StateReason == "not_planned" {
			stateID = sync.CanceledStateID
		}
		if err := lc.UpdateIssue(ctx, synced.LinearIssueID, linear.IssueUpdate{StateID: ptr.Ptr(stateID)}); err != nil {
			log.Error().Err(err).Msg("Could not close ticket")
			return "", NewAPIError(http.StatusInternalServerError, "Could not update ticket state on Linear.")
		}
		log.Info().Str("state_id", stateID).Msg("Closed ticket")
		return fmt.Sprintf("Closed ticket for %s.", ref), nil

	case "reopened":
		if err := lc.UpdateIssue(ctx, synced.LinearIssueID, linear.IssueUpdate{StateID: ptr.Ptr(sync.ToDoStateID)}); err != nil {
			log.Error().Err(err).Msg("Could not reopen ticket")
			return "", NewAPIError(http.StatusInternalServerError, "Could not update ticket state on Linear.")
		}
		log.Info().Msg("Reopened ticket")
		return fmt.Sprintf("Reopened ticket for %s.", ref), nil

	default:
		return "Nothing to do for action " + payload.Action + ".", nil
	}
}

// editUpdate builds the partial ticket update for an edited issue event.
// The ticket reference prefix is stripped from titles and the provenance
// footer from bodies before they travel back.
func editUpdate(payload *GitHubPayload) linear.IssueUpdate {
	var update linear.IssueUpdate
	if payload.Changes == nil {
		return update
	}
	if payload.Changes.Title != nil {
		update.Title = ptr.Ptr(stripTicketPrefix(payload.Issue.Title))
	}
	if payload.Changes.Body != nil {
		body := content.StripFooter(payload.Issue.Body)
		update.Description = ptr.Ptr(content.Translate(body, content.OriginGitHub))
	}
	return update
}

// stripTicketPrefix removes a leading "[ENG-42] " marker from a mirrored
// issue title.
func stripTicketPrefix(title string) string {
	if !strings.HasPrefix(title, "[") {
		return title
	}
	end := strings.Index(title, "] ")
	if end < 0 {
		return title
	}
	return title[end+2:]
}
