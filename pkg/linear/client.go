// Copyright 2024-2026 Aiku AI

// Package linear is a minimal client for the Linear GraphQL API, covering
// the queries and mutations the sync engine needs: fetching entities with
// public asset URLs, listing comments with authors, creating the
// cross-reference attachment, and the reverse-direction mutations.
package linear

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultBaseURL is the public Linear GraphQL endpoint.
const DefaultBaseURL = "https://api.linear.app/graphql"

// Client performs GraphQL calls with a single API key.
type Client struct {
	hc      *http.Client
	baseURL string
	apiKey  string
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at a different GraphQL endpoint. Used by tests.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.hc = hc }
}

// NewClient creates a client authenticated with the given API key.
func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		hc:      &http.Client{Timeout: 30 * time.Second},
		baseURL: DefaultBaseURL,
		apiKey:  apiKey,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Issue is a Linear ticket.
type Issue struct {
	ID          string `json:"id"`
	Number      int    `json:"number"`
	Title       string `json:"title"`
	Description string `json:"description"`
	TeamID      string `json:"teamId"`
}

// Comment is a ticket comment with its author.
type Comment struct {
	ID   string `json:"id"`
	Body string `json:"body"`
	User User   `json:"user"`
}

// User is a Linear account reference.
type User struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
}

// Label is a Linear issue label.
type Label struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

// Container is a cycle or project: the grouping mapped to a GitHub milestone.
type Container struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Number      int        `json:"number"`
	Description string     `json:"description"`
	EndsAt      *time.Time `json:"endsAt"`
	TargetDate  *time.Time `json:"targetDate"`
}

// EndDate returns whichever of the cycle end or project target date is set.
func (c *Container) EndDate() *time.Time {
	if c.EndsAt != nil {
		return c.EndsAt
	}
	return c.TargetDate
}

type graphQLError struct {
	Message string `json:"message"`
}

// query executes a GraphQL document and decodes data into out.
func (c *Client) query(ctx context.Context, document string, variables map[string]any, out any) error {
	payload, err := json.Marshal(map[string]any{
		"query":     document,
		"variables": variables,
	})
	if err != nil {
		return fmt.Errorf("failed to encode query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("linear: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []graphQLError  `json:"errors"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if len(envelope.Errors) > 0 {
		return fmt.Errorf("linear: %s", envelope.Errors[0].Message)
	}
	if out != nil {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("failed to decode data: %w", err)
		}
	}
	return nil
}

// Issue fetches a ticket by ID. The authoritative record carries public
// asset URLs for inline images, unlike webhook payload bodies.
func (c *Client) Issue(ctx context.Context, id string) (*Issue, error) {
	var data struct {
		Issue *Issue `json:"issue"`
	}
	err := c.query(ctx, `query($id: String!) {
		issue(id: $id) { id number title description }
	}`, map[string]any{"id": id}, &data)
	if err != nil {
		return nil, err
	}
	return data.Issue, nil
}

// Comment fetches a single comment by ID with a public body.
func (c *Client) Comment(ctx context.Context, id string) (*Comment, error) {
	var data struct {
		Comment *Comment `json:"comment"`
	}
	err := c.query(ctx, `query($id: String!) {
		comment(id: $id) { id body user { id name displayName email } }
	}`, map[string]any{"id": id}, &data)
	if err != nil {
		return nil, err
	}
	return data.Comment, nil
}

// IssueComments lists all comments on a ticket, oldest first, with authors.
func (c *Client) IssueComments(ctx context.Context, issueID string) ([]Comment, error) {
	var data struct {
		Issue struct {
			Comments struct {
				Nodes []Comment `json:"nodes"`
			} `json:"comments"`
		} `json:"issue"`
	}
	err := c.query(ctx, `query($id: String!) {
		issue(id: $id) {
			comments { nodes { id body user { id name displayName email } } }
		}
	}`, map[string]any{"id": issueID}, &data)
	if err != nil {
		return nil, err
	}
	return data.Issue.Comments.Nodes, nil
}

// IssueLabel fetches a label definition by ID.
func (c *Client) IssueLabel(ctx context.Context, id string) (*Label, error) {
	var data struct {
		IssueLabel *Label `json:"issueLabel"`
	}
	err := c.query(ctx, `query($id: String!) {
		issueLabel(id: $id) { id name color }
	}`, map[string]any{"id": id}, &data)
	if err != nil {
		return nil, err
	}
	return data.IssueLabel, nil
}

// Cycle fetches a cycle by ID.
func (c *Client) Cycle(ctx context.Context, id string) (*Container, error) {
	var data struct {
		Cycle *Container `json:"cycle"`
	}
	err := c.query(ctx, `query($id: String!) {
		cycle(id: $id) { id name number description endsAt }
	}`, map[string]any{"id": id}, &data)
	if err != nil {
		return nil, err
	}
	return data.Cycle, nil
}

// Project fetches a project by ID.
func (c *Client) Project(ctx context.Context, id string) (*Container, error) {
	var data struct {
		Project *Container `json:"project"`
	}
	err := c.query(ctx, `query($id: String!) {
		project(id: $id) { id name description targetDate }
	}`, map[string]any{"id": id}, &data)
	if err != nil {
		return nil, err
	}
	return data.Project, nil
}

// UserByID fetches a Linear account by ID.
func (c *Client) UserByID(ctx context.Context, id string) (*User, error) {
	var data struct {
		User *User `json:"user"`
	}
	err := c.query(ctx, `query($id: String!) {
		user(id: $id) { id name displayName email }
	}`, map[string]any{"id": id}, &data)
	if err != nil {
		return nil, err
	}
	return data.User, nil
}

// CreateAttachment creates a cross-reference attachment on a ticket,
// pointing at the mirrored GitHub issue.
func (c *Client) CreateAttachment(ctx context.Context, issueID, title, subtitle, attachmentURL string) error {
	var data struct {
		AttachmentCreate struct {
			Success bool `json:"success"`
		} `json:"attachmentCreate"`
	}
	err := c.query(ctx, `mutation($issueId: String!, $title: String!, $subtitle: String, $url: String!) {
		attachmentCreate(input: {issueId: $issueId, title: $title, subtitle: $subtitle, url: $url}) { success }
	}`, map[string]any{
		"issueId":  issueID,
		"title":    title,
		"subtitle": subtitle,
		"url":      attachmentURL,
	}, &data)
	if err != nil {
		return err
	}
	if !data.AttachmentCreate.Success {
		return fmt.Errorf("linear: attachment creation was not successful")
	}
	return nil
}

// CreateComment posts a comment on a ticket. The caller supplies the comment
// ID so sync-created comments carry the synthetic-origin marker.
func (c *Client) CreateComment(ctx context.Context, commentID, issueID, body string) error {
	var data struct {
		CommentCreate struct {
			Success bool `json:"success"`
		} `json:"commentCreate"`
	}
	err := c.query(ctx, `mutation($id: String, $issueId: String!, $body: String!) {
		commentCreate(input: {id: $id, issueId: $issueId, body: $body}) { success }
	}`, map[string]any{"id": commentID, "issueId": issueID, "body": body}, &data)
	if err != nil {
		return err
	}
	if !data.CommentCreate.Success {
		return fmt.Errorf("linear: comment creation was not successful")
	}
	return nil
}

// IssueUpdate is a partial ticket update for the reverse direction.
// Nil fields are left untouched.
type IssueUpdate struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	StateID     *string `json:"stateId,omitempty"`
}

// UpdateIssue applies a partial update to a ticket.
func (c *Client) UpdateIssue(ctx context.Context, issueID string, update IssueUpdate) error {
	var data struct {
		IssueUpdate struct {
			Success bool `json:"success"`
		} `json:"issueUpdate"`
	}
	err := c.query(ctx, `mutation($id: String!, $input: IssueUpdateInput!) {
		issueUpdate(id: $id, input: $input) { success }
	}`, map[string]any{"id": issueID, "input": update}, &data)
	if err != nil {
		return err
	}
	if !data.IssueUpdate.Success {
		return fmt.Errorf("linear: issue update was not successful")
	}
	return nil
}

// InviteMember sends an organization invite to the account behind userID.
// Best effort: used when a mirrored ticket's creator has no sync of their own.
func (c *Client) InviteMember(ctx context.Context, userID string) error {
	user, err := c.UserByID(ctx, userID)
	if err != nil {
		return err
	}
	if user == nil || user.Email == "" {
		return fmt.Errorf("linear: no email for user %s", userID)
	}
	var data struct {
		OrganizationInviteCreate struct {
			Success bool `json:"success"`
		} `json:"organizationInviteCreate"`
	}
	err = c.query(ctx, `mutation($email: String!) {
		organizationInviteCreate(input: {email: $email}) { success }
	}`, map[string]any{"email": user.Email}, &data)
	if err != nil {
		return err
	}
	if !data.OrganizationInviteCreate.Success {
		return fmt.Errorf("linear: invite was not successful")
	}
	return nil
}
