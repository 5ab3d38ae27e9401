// Copyright 2024-2026 Aiku AI

// Package github is a thin client for the GitHub issues REST API, scoped to
// one repository. Create operations that can collide with existing objects
// (labels, milestones) tolerate the 422 name-collision response and return
// the existing object instead of failing, so callers stay idempotent.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultBaseURL is the public GitHub REST API endpoint.
const DefaultBaseURL = "https://api.github.com"

// Client performs REST calls against a single repository.
type Client struct {
	hc        *http.Client
	baseURL   string
	token     string
	repo      string // "owner/name"
	userAgent string
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at a different API root. Used by tests and
// GitHub Enterprise installations.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimSuffix(u, "/") }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.hc = hc }
}

// NewClient creates a client for the given repository ("owner/name").
func NewClient(token, repoFullName string, opts ...Option) *Client {
	c := &Client{
		hc:        &http.Client{Timeout: 30 * time.Second},
		baseURL:   DefaultBaseURL,
		token:     token,
		repo:      repoFullName,
		userAgent: repoFullName + ", ticketsync",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Issue is the subset of the GitHub issue schema the sync engine reads.
type Issue struct {
	ID        int64   `json:"id"`
	Number    int     `json:"number"`
	Title     string  `json:"title"`
	Body      string  `json:"body"`
	State     string  `json:"state"`
	Assignees []User  `json:"assignees"`
	Labels    []Label `json:"labels"`
}

// User is a GitHub account reference.
type User struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
}

// Label is a repository label.
type Label struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

// Milestone is a repository milestone.
type Milestone struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
	State  string `json:"state"`
}

// IssueRequest is the payload for creating an issue.
type IssueRequest struct {
	Title     string   `json:"title"`
	Body      string   `json:"body"`
	Assignees []string `json:"assignees,omitempty"`
}

// IssuePatch is a partial issue update. Nil fields are left untouched.
type IssuePatch struct {
	Title       *string `json:"title,omitempty"`
	Body        *string `json:"body,omitempty"`
	State       *string `json:"state,omitempty"`
	StateReason *string `json:"state_reason,omitempty"`
}

// MilestoneRequest is the payload for creating a milestone.
type MilestoneRequest struct {
	Title       string `json:"title"`
	State       string `json:"state,omitempty"`
	Description string `json:"description,omitempty"`
	DueOn       string `json:"due_on,omitempty"`
}

// WebhookConfig is the payload for registering a repository webhook.
// Configuration-time only, not part of the event hot path.
type WebhookConfig struct {
	URL    string   `json:"url"`
	Secret string   `json:"secret"`
	Events []string `json:"events"`
}

// Webhook is a registered repository webhook.
type Webhook struct {
	ID     int64    `json:"id"`
	Events []string `json:"events"`
	Config struct {
		URL string `json:"url"`
	} `json:"config"`
}

// StatusError reports a non-success HTTP status from the GitHub API.
type StatusError struct {
	Status int
	Method string
	Path   string
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("github: %s %s returned %d: %s", e.Method, e.Path, e.Status, e.Body)
}

// do issues a request and decodes the JSON response into out (when non-nil).
// Statuses above 201 produce a *StatusError; callers that tolerate specific
// statuses check the returned code first.
func (c *Client) do(ctx context.Context, method, path string, body, out any) (int, error) {
	var reqBody io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("failed to encode request: %w", err)
		}
		reqBody = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "token "+c.token)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", c.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode > 201 {
		return resp.StatusCode, &StatusError{
			Status: resp.StatusCode,
			Method: method,
			Path:   path,
			Body:   strings.TrimSpace(string(respBody)),
		}
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func (c *Client) issuePath(number int) string {
	return fmt.Sprintf("/repos/%s/issues/%d", c.repo, number)
}

// CreateIssue creates a new issue in the repository.
func (c *Client) CreateIssue(ctx context.Context, req IssueRequest) (*Issue, error) {
	var issue Issue
	if _, err := c.do(ctx, http.MethodPost, "/repos/"+c.repo+"/issues", req, &issue); err != nil {
		return nil, err
	}
	return &issue, nil
}

// GetIssue fetches the current state of an issue, including assignees.
func (c *Client) GetIssue(ctx context.Context, number int) (*Issue, error) {
	var issue Issue
	if _, err := c.do(ctx, http.MethodGet, c.issuePath(number), nil, &issue); err != nil {
		return nil, err
	}
	return &issue, nil
}

// PatchIssue applies a partial update to an issue.
func (c *Client) PatchIssue(ctx context.Context, number int, patch IssuePatch) error {
	_, err := c.do(ctx, http.MethodPatch, c.issuePath(number), patch, nil)
	return err
}

// SetIssueMilestone sets or, when milestoneNumber is nil, clears the
// milestone of an issue. A dedicated method because clearing requires an
// explicit JSON null.
func (c *Client) SetIssueMilestone(ctx context.Context, number int, milestoneNumber *int) error {
	_, err := c.do(ctx, http.MethodPatch, c.issuePath(number),
		map[string]*int{"milestone": milestoneNumber}, nil)
	return err
}

// AddAssignees assigns the given logins to an issue. The list is explicit,
// not a delta; callers pass every login to add.
func (c *Client) AddAssignees(ctx context.Context, number int, logins []string) error {
	_, err := c.do(ctx, http.MethodPost, c.issuePath(number)+"/assignees",
		map[string][]string{"assignees": logins}, nil)
	return err
}

// RemoveAssignees unassigns the given logins from an issue.
func (c *Client) RemoveAssignees(ctx context.Context, number int, logins []string) error {
	_, err := c.do(ctx, http.MethodDelete, c.issuePath(number)+"/assignees",
		map[string][]string{"assignees": logins}, nil)
	return err
}

// CreateLabel creates a repository label. If a label with the same name
// already exists (422), the existing label is fetched and returned instead.
func (c *Client) CreateLabel(ctx context.Context, label Label) (*Label, error) {
	var created Label
	status, err := c.do(ctx, http.MethodPost, "/repos/"+c.repo+"/labels", label, &created)
	if status == http.StatusUnprocessableEntity {
		var existing Label
		if _, getErr := c.do(ctx, http.MethodGet,
			"/repos/"+c.repo+"/labels/"+url.PathEscape(label.Name), nil, &existing); getErr != nil {
			return nil, getErr
		}
		return &existing, nil
	}
	if err != nil {
		return nil, err
	}
	return &created, nil
}

// AddLabels applies labels to an issue by name.
func (c *Client) AddLabels(ctx context.Context, number int, names []string) error {
	_, err := c.do(ctx, http.MethodPost, c.issuePath(number)+"/labels",
		map[string][]string{"labels": names}, nil)
	return err
}

// RemoveLabel removes one label from an issue by name.
func (c *Client) RemoveLabel(ctx context.Context, number int, name string) error {
	_, err := c.do(ctx, http.MethodDelete, c.issuePath(number)+"/labels/"+url.PathEscape(name), nil, nil)
	return err
}

// CreateMilestone creates a milestone. On a 422 title collision the existing
// milestones are listed and matched by title; alreadyExists reports that
// case, which callers treat as success.
func (c *Client) CreateMilestone(ctx context.Context, req MilestoneRequest) (number int, alreadyExists bool, err error) {
	var created Milestone
	status, err := c.do(ctx, http.MethodPost, "/repos/"+c.repo+"/milestones", req, &created)
	if status == http.StatusUnprocessableEntity {
		var milestones []Milestone
		if _, listErr := c.do(ctx, http.MethodGet, "/repos/"+c.repo+"/milestones?state=all", nil, &milestones); listErr != nil {
			return 0, false, listErr
		}
		for _, m := range milestones {
			if m.Title == req.Title {
				return m.Number, true, nil
			}
		}
		return 0, false, err
	}
	if err != nil {
		return 0, false, err
	}
	return created.Number, false, nil
}

// CreateComment posts a comment on an issue.
func (c *Client) CreateComment(ctx context.Context, number int, body string) error {
	_, err := c.do(ctx, http.MethodPost, c.issuePath(number)+"/comments",
		map[string]string{"body": body}, nil)
	return err
}

// UserByID resolves a GitHub account by its numeric ID.
func (c *Client) UserByID(ctx context.Context, id int64) (*User, error) {
	var u User
	if _, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/user/%d", id), nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// Webhooks lists the repository's registered webhooks.
func (c *Client) Webhooks(ctx context.Context) ([]Webhook, error) {
	var hooks []Webhook
	if _, err := c.do(ctx, http.MethodGet, "/repos/"+c.repo+"/hooks", nil, &hooks); err != nil {
		return nil, err
	}
	return hooks, nil
}

// CreateWebhook registers a push-style webhook on the repository.
func (c *Client) CreateWebhook(ctx context.Context, conf WebhookConfig) (int64, error) {
	payload := map[string]any{
		"name":   "web",
		"active": true,
		"events": conf.Events,
		"config": map[string]string{
			"url":          conf.URL,
			"content_type": "json",
			"insecure_ssl": "0",
			"secret":       conf.Secret,
		},
	}
	var created struct {
		ID int64 `json:"id"`
	}
	if _, err := c.do(ctx, http.MethodPost, "/repos/"+c.repo+"/hooks", payload, &created); err != nil {
		return 0, err
	}
	return created.ID, nil
}

// PatchWebhook updates the event subscriptions of an existing webhook.
func (c *Client) PatchWebhook(ctx context.Context, id int64, addEvents, removeEvents []string) error {
	payload := map[string][]string{}
	if len(addEvents) > 0 {
		payload["add_events"] = addEvents
	}
	if len(removeEvents) > 0 {
		payload["remove_events"] = removeEvents
	}
	_, err := c.do(ctx, http.MethodPatch, fmt.Sprintf("/repos/%s/hooks/%d", c.repo, id), payload, nil)
	return err
}
