// Copyright 2024-2026 Aiku AI
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package sync

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	gosync "sync"
	"testing"

	"github.com/aiku/ticketsync/pkg/store"
)

// linearOrigin is an allow-listed source address for test deliveries.
const linearOrigin = "35.231.147.226"

// endpointCall records which API endpoints were hit during a test.
type endpointCall struct {
	Method string
	Path   string
	Body   string
}

// fakeGitHub wraps an httptest.Server simulating the GitHub REST API. It
// records calls and provides canned responses.
type fakeGitHub struct {
	Server *httptest.Server

	mu    gosync.Mutex
	calls []endpointCall

	// NextIssueNumber is assigned to the next created issue.
	NextIssueNumber int
	// IssueAssignees maps issue number to current assignee logins for GETs.
	IssueAssignees map[int][]string
	// ExistingLabels makes label creation return 422 for those names.
	ExistingLabels map[string]bool
	// ExistingMilestones makes milestone creation return 422; the list
	// endpoint serves them with these numbers.
	ExistingMilestones map[string]int
	// NextMilestoneNumber is assigned to the next created milestone.
	NextMilestoneNumber int
	// Users maps numeric account ID to login for /user/{id}.
	Users map[int64]string
	// Hooks are served by the repository webhook list endpoint.
	Hooks []map[string]any
	// FailEndpoints causes paths containing a prefix to return 500.
	FailEndpoints map[string]bool
}

func newFakeGitHub() *fakeGitHub {
	f := &fakeGitHub{
		NextIssueNumber:     101,
		IssueAssignees:      make(map[int][]string),
		ExistingLabels:      make(map[string]bool),
		ExistingMilestones:  make(map[string]int),
		NextMilestoneNumber: 7,
		Users:               make(map[int64]string),
		FailEndpoints:       make(map[string]bool),
	}
	f.Server = httptest.NewServer(http.HandlerFunc(f.handler))
	return f
}

func (f *fakeGitHub) Close() {
	f.Server.Close()
}

func (f *fakeGitHub) record(method, path, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, endpointCall{Method: method, Path: path, Body: body})
}

func (f *fakeGitHub) Calls() []endpointCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]endpointCall, len(f.calls))
	copy(cp, f.calls)
	return cp
}

func (f *fakeGitHub) Called(method, pathPart string) bool {
	for _, c := range f.Calls() {
		if c.Method == method && strings.Contains(c.Path, pathPart) {
			return true
		}
	}
	return false
}

func (f *fakeGitHub) LastCall(method, pathPart string) (endpointCall, bool) {
	calls := f.Calls()
	for i := len(calls) - 1; i >= 0; i-- {
		if calls[i].Method == method && strings.Contains(calls[i].Path, pathPart) {
			return calls[i], true
		}
	}
	return endpointCall{}, false
}

func (f *fakeGitHub) handler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.record(r.Method, r.URL.Path, string(body))

	for prefix := range f.FailEndpoints {
		if strings.Contains(r.URL.Path, prefix) {
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(map[string]string{"message": "fake error"})
			return
		}
	}

	path := r.URL.Path
	switch {
	// POST /repos/{repo}/issues
	case r.Method == "POST" && strings.HasSuffix(path, "/issues"):
		f.mu.Lock()
		number := f.NextIssueNumber
		f.NextIssueNumber++
		f.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{"id": int64(number) * 1000, "number": number})

	// GET /repos/{repo}/issues/{n}
	case r.Method == "GET" && strings.Contains(path, "/issues/"):
		number := trailingInt(path)
		assignees := make([]map[string]any, 0)
		for _, login := range f.IssueAssignees[number] {
			assignees = append(assignees, map[string]any{"login": login})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"number": number, "assignees": assignees})

	// POST /repos/{repo}/labels
	case r.Method == "POST" && strings.HasSuffix(path, "/labels"):
		var label struct {
			Name  string `json:"name"`
			Color string `json:"color"`
		}
		_ = json.Unmarshal(body, &label)
		if f.ExistingLabels[label.Name] {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_ = json.NewEncoder(w).Encode(map[string]string{"message": "already_exists"})
			return
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(label)

	// GET /repos/{repo}/labels/{name}
	case r.Method == "GET" && strings.Contains(path, "/labels/"):
		name, _ := url.PathUnescape(path[strings.LastIndex(path, "/")+1:])
		_ = json.NewEncoder(w).Encode(map[string]string{"name": name, "color": "ededed"})

	// POST /repos/{repo}/milestones
	case r.Method == "POST" && strings.HasSuffix(path, "/milestones"):
		var req struct {
			Title string `json:"title"`
		}
		_ = json.Unmarshal(body, &req)
		if _, ok := f.ExistingMilestones[req.Title]; ok {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_ = json.NewEncoder(w).Encode(map[string]string{"message": "already_exists"})
			return
		}
		f.mu.Lock()
		number := f.NextMilestoneNumber
		f.NextMilestoneNumber++
		f.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{"number": number, "title": req.Title})

	// GET /repos/{repo}/milestones?state=all
	case r.Method == "GET" && strings.HasSuffix(path, "/milestones"):
		out := make([]map[string]any, 0)
		for title, number := range f.ExistingMilestones {
			out = append(out, map[string]any{"number": number, "title": title})
		}
		_ = json.NewEncoder(w).Encode(out)

	// GET /repos/{repo}/hooks
	case r.Method == "GET" && strings.HasSuffix(path, "/hooks"):
		out := f.Hooks
		if out == nil {
			out = []map[string]any{}
		}
		_ = json.NewEncoder(w).Encode(out)

	// POST /repos/{repo}/hooks
	case r.Method == "POST" && strings.HasSuffix(path, "/hooks"):
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{"id": 55})

	// GET /user/{id}
	case r.Method == "GET" && strings.HasPrefix(path, "/user/"):
		var id int64
		_, _ = fmt.Sscanf(path, "/user/%d", &id)
		login, ok := f.Users[id]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"id": id, "login": login})

	default:
		// Mutations without interesting responses: assignees, issue
		// patches, comments, label application and removal.
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("{}"))
	}
}

func trailingInt(path string) int {
	var n int
	_, _ = fmt.Sscanf(path[strings.LastIndex(path, "/")+1:], "%d", &n)
	return n
}

// graphQLCall records one GraphQL request for assertions.
type graphQLCall struct {
	Query     string
	Variables map[string]any
}

// fakeLinear wraps an httptest.Server simulating the Linear GraphQL API.
// Requests are dispatched on the operation named in the query document.
type fakeLinear struct {
	Server *httptest.Server

	mu    gosync.Mutex
	calls []graphQLCall

	// Issues, Comments, Labels, Cycles, Projects, and Users are served by
	// ID for the corresponding queries.
	Issues   map[string]map[string]any
	Comments map[string]map[string]any
	Labels   map[string]map[string]any
	Cycles   map[string]map[string]any
	Projects map[string]map[string]any
	Users    map[string]map[string]any
	// IssueComments maps issue ID to the comment nodes listed for it.
	IssueComments map[string][]map[string]any
	// FailOperations causes queries naming an operation to error.
	FailOperations map[string]bool
}

func newFakeLinear() *fakeLinear {
	f := &fakeLinear{
		Issues:         make(map[string]map[string]any),
		Comments:       make(map[string]map[string]any),
		Labels:         make(map[string]map[string]any),
		Cycles:         make(map[string]map[string]any),
		Projects:       make(map[string]map[string]any),
		Users:          make(map[string]map[string]any),
		IssueComments:  make(map[string][]map[string]any),
		FailOperations: make(map[string]bool),
	}
	f.Server = httptest.NewServer(http.HandlerFunc(f.handler))
	return f
}

func (f *fakeLinear) Close() {
	f.Server.Close()
}

func (f *fakeLinear) Calls() []graphQLCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]graphQLCall, len(f.calls))
	copy(cp, f.calls)
	return cp
}

func (f *fakeLinear) CalledOperation(op string) bool {
	for _, c := range f.Calls() {
		if strings.Contains(c.Query, op) {
			return true
		}
	}
	return false
}

func (f *fakeLinear) handler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query     string         `json:"query"`
		Variables map[string]any `json:"variables"`
	}
	body, _ := io.ReadAll(r.Body)
	_ = json.Unmarshal(body, &req)
	f.mu.Lock()
	f.calls = append(f.calls, graphQLCall{Query: req.Query, Variables: req.Variables})
	f.mu.Unlock()

	respond := func(data map[string]any) {
		_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
	}
	fail := func(msg string) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data":   map[string]any{},
			"errors": []map[string]string{{"message": msg}},
		})
	}

	id, _ := req.Variables["id"].(string)
	for op := range f.FailOperations {
		if strings.Contains(req.Query, op) {
			fail("fake error")
			return
		}
	}

	switch {
	case strings.Contains(req.Query, "issueLabel("):
		respond(map[string]any{"issueLabel": f.Labels[id]})
	case strings.Contains(req.Query, "comments { nodes"):
		respond(map[string]any{"issue": map[string]any{
			"comments": map[string]any{"nodes": f.IssueComments[id]},
		}})
	case strings.Contains(req.Query, "issue(id:"):
		respond(map[string]any{"issue": f.Issues[id]})
	case strings.Contains(req.Query, "comment(id:"):
		respond(map[string]any{"comment": f.Comments[id]})
	case strings.Contains(req.Query, "cycle("):
		respond(map[string]any{"cycle": f.Cycles[id]})
	case strings.Contains(req.Query, "project("):
		respond(map[string]any{"project": f.Projects[id]})
	case strings.Contains(req.Query, "user("):
		respond(map[string]any{"user": f.Users[id]})
	case strings.Contains(req.Query, "attachmentCreate"):
		respond(map[string]any{"attachmentCreate": map[string]any{"success": true}})
	case strings.Contains(req.Query, "commentCreate"):
		respond(map[string]any{"commentCreate": map[string]any{"success": true}})
	case strings.Contains(req.Query, "issueUpdate"):
		respond(map[string]any{"issueUpdate": map[string]any{"success": true}})
	case strings.Contains(req.Query, "organizationInviteCreate"):
		respond(map[string]any{"organizationInviteCreate": map[string]any{"success": true}})
	default:
		fail("unhandled query")
	}
}

// testSync is the sync configuration newTestEngine registers.
func testSync() *store.Sync {
	return &store.Sync{
		LinearUserID:    "usr-1",
		LinearTeamID:    "team-1",
		LinearAPIKey:    "lin_api_key",
		PublicLabelID:   "lbl-public",
		DoneStateID:     "st-done",
		CanceledStateID: "st-canceled",
		ToDoStateID:     "st-todo",
		GitHubUserID:    5001,
		GitHubAPIKey:    "gh_token",
		RepoID:          9001,
		RepoName:        "acme/widgets",
	}
}

// newTestEngine wires an engine against fake platform servers and an
// in-memory store preloaded with testSync.
func newTestEngine(t *testing.T) (*Engine, *store.Memory, *fakeGitHub, *fakeLinear) {
	t.Helper()
	gh := newFakeGitHub()
	t.Cleanup(gh.Close)
	gh.Users[5001] = "octocat"
	lin := newFakeLinear()
	t.Cleanup(lin.Close)

	cfg := &Config{
		LinearIPAllowlist:   []string{linearOrigin},
		TrustForwardedFor:   true,
		EventTimeoutSeconds: 5,
		LinearAPIURL:        lin.Server.URL,
		GitHubAPIURL:        gh.Server.URL,
	}
	mem := store.NewMemory()
	mem.AddSync(testSync())
	return NewEngine(cfg, mem), mem, gh, lin
}

// issuePayload builds a minimal Issue webhook payload for ENG-42.
func issuePayload(action string) *WebhookPayload {
	return &WebhookPayload{
		Action: action,
		Type:   "Issue",
		URL:    "https://linear.app/acme/issue/ENG-42",
		Data: EventData{
			ID:       "iss-42",
			TeamID:   "team-1",
			Team:     &TeamRef{ID: "team-1", Key: "ENG"},
			Number:   42,
			Title:    "Fix bug",
			UserID:   "usr-1",
			LabelIDs: []string{"lbl-public"},
		},
	}
}

// updatedFrom builds an UpdatedFrom marking the given fields changed.
// Previous values go on the returned struct directly.
func updatedFrom(fields ...string) *UpdatedFrom {
	u := &UpdatedFrom{present: make(map[string]struct{}, len(fields))}
	for _, f := range fields {
		u.present[f] = struct{}{}
	}
	return u
}

// addSyncedIssue registers the ENG-42 correlation row.
func addSyncedIssue(t *testing.T, mem *store.Memory) *store.SyncedIssue {
	t.Helper()
	row := &store.SyncedIssue{
		LinearIssueID:     "iss-42",
		LinearIssueNumber: 42,
		LinearTeamID:      "team-1",
		GitHubIssueID:     101000,
		GitHubIssueNumber: 101,
		GitHubRepoID:      9001,
	}
	if err := mem.CreateSyncedIssue(t.Context(), row); err != nil {
		t.Fatalf("failed to add synced issue: %v", err)
	}
	return row
}
