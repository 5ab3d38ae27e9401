// Copyright 2024-2026 Aiku AI

package sync

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/aiku/ticketsync/pkg/github"
	"github.com/aiku/ticketsync/pkg/linear"
	"github.com/aiku/ticketsync/pkg/store"
)

// Decryptor recovers plaintext API keys from the encrypted form held in the
// correlation store. Key management lives outside this engine.
type Decryptor interface {
	Decrypt(ciphertext, iv string) (string, error)
}

// PassthroughDecryptor returns stored keys unchanged. Used when keys are
// stored in plaintext or decrypted upstream.
type PassthroughDecryptor struct{}

func (PassthroughDecryptor) Decrypt(ciphertext, _ string) (string, error) {
	return ciphertext, nil
}

// Engine routes webhook events from either platform into remote mutations
// on the other. Each event executes as an independent, request-scoped unit
// of work; the correlation store is the only state shared across events.
type Engine struct {
	cfg       *Config
	store     store.Store
	decryptor Decryptor
	log       zerolog.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the engine's base logger.
func WithLogger(log zerolog.Logger) EngineOption {
	return func(e *Engine) { e.log = log }
}

// WithDecryptor sets the credential decryptor.
func WithDecryptor(d Decryptor) EngineOption {
	return func(e *Engine) { e.decryptor = d }
}

// NewEngine creates an engine over the given store.
func NewEngine(cfg *Config, st store.Store, opts ...EngineOption) *Engine {
	e := &Engine{
		cfg:       cfg,
		store:     st,
		decryptor: PassthroughDecryptor{},
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// task is the request-scoped state for processing one webhook event. It is
// built once per invocation and discarded; nothing in it survives the event.
type task struct {
	log     zerolog.Logger
	payload *WebhookPayload
	ticket  string

	sync  *store.Sync
	syncs []*store.Sync

	linear *linear.Client
	github *github.Client

	// synced is the correlation row for the ticket, nil when not mirrored.
	synced *store.SyncedIssue
}

// githubClientForRepo returns a GitHub client bound to the repository a
// correlation row points at. Comment events match their sync by user alone,
// so for a user with syncs on several teams the matched sync's repository
// can differ from the one the ticket is actually mirrored in.
func (e *Engine) githubClientForRepo(t *task, repoID int64) (*github.Client, error) {
	if repoID == t.sync.RepoID {
		return t.github, nil
	}
	for _, s := range t.syncs {
		if s.RepoID != repoID {
			continue
		}
		key, err := e.decryptor.Decrypt(s.GitHubAPIKey, s.GitHubAPIKeyIV)
		if err != nil {
			return nil, apiErrorf(http.StatusInternalServerError, "Could not decrypt GitHub key: %s", err)
		}
		return e.cfg.newGitHubClient(key, s.RepoName), nil
	}
	return nil, NewAPIError(http.StatusNotFound, "Could not find ticket's corresponding repo.")
}

func (e *Engine) originAllowed(originIP string) bool {
	for _, ip := range e.cfg.LinearIPAllowlist {
		if ip == originIP {
			return true
		}
	}
	return false
}

// HandleLinearEvent processes one Linear webhook delivery. It returns a
// human-readable outcome for no-ops and successful mutations, or a typed
// error for fatal conditions. Safe to call for redelivered events: every
// branch is idempotent through correlation lookups, synthetic-ID detection
// and footer-based loop suppression.
func (e *Engine) HandleLinearEvent(ctx context.Context, payload *WebhookPayload, originIP string) (string, error) {
	if !e.originAllowed(originIP) {
		e.log.Warn().Str("origin_ip", originIP).Msg("Rejected webhook from unlisted origin")
		return "", NewAPIError(http.StatusForbidden, "Could not verify webhook origin.")
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.EventTimeout())
	defer cancel()

	actor := payload.Data.ActorID()
	syncs, err := e.store.SyncsByLinearUser(ctx, actor)
	if err != nil {
		return "", apiErrorf(http.StatusInternalServerError, "Could not load syncs: %s", err)
	}

	// Comment events do not carry a team ID; fall back to user-only matching.
	var matched *store.Sync
	for _, s := range syncs {
		if payload.Data.TeamID == "" || s.LinearTeamID == payload.Data.TeamID {
			matched = s
			break
		}
	}
	if matched == nil {
		e.log.Info().Str("linear_user_id", actor).Msg("No sync found for Linear user")
		return "Could not find Linear user in syncs.", nil
	}
	if matched.RepoName == "" {
		return "", NewAPIError(http.StatusNotFound, "Could not find ticket's corresponding repo.")
	}

	linearKey, err := e.decryptor.Decrypt(matched.LinearAPIKey, matched.LinearAPIKeyIV)
	if err != nil {
		return "", apiErrorf(http.StatusInternalServerError, "Could not decrypt Linear key: %s", err)
	}
	githubKey, err := e.decryptor.Decrypt(matched.GitHubAPIKey, matched.GitHubAPIKeyIV)
	if err != nil {
		return "", apiErrorf(http.StatusInternalServerError, "Could not decrypt GitHub key: %s", err)
	}

	ticket := TicketRef(payload.Data.TeamKey(), payload.Data.Number)
	if payload.Data.TeamKey() == "" && payload.Data.IssueID != "" {
		// Comment events reference the parent ticket by ID only.
		ticket = payload.Data.IssueID
	}
	t := &task{
		log: e.log.With().
			Str("ticket", ticket).
			Str("action", payload.Action).
			Str("type", payload.Type).
			Logger(),
		payload: payload,
		ticket:  ticket,
		sync:    matched,
		syncs:   syncs,
		linear:  e.cfg.newLinearClient(linearKey),
		github:  e.cfg.newGitHubClient(githubKey, matched.RepoName),
	}

	// Identity resolver runs unconditionally at the start of every event.
	e.ensureUserMapping(ctx, t)

	t.synced, err = e.store.SyncedIssueByTicket(ctx, payload.Data.ID, payload.Data.TeamID)
	if err != nil {
		return "", apiErrorf(http.StatusInternalServerError, "Could not load synced issue: %s", err)
	}

	switch payload.Action {
	case "update":
		return e.routeUpdate(ctx, t)
	case "create":
		return e.routeCreate(ctx, t)
	default:
		t.log.Debug().Msg("Unhandled action")
		return "Nothing to do for action " + payload.Action + ".", nil
	}
}
