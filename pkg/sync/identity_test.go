// Copyright 2024-2026 Aiku AI
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package sync

import (
	"testing"

	"github.com/aiku/ticketsync/pkg/store"
)

func TestEnsureUserMapping_RefreshedOncePerIdentity(t *testing.T) {
	t.Parallel()
	engine, mem, gh, _ := newTestEngine(t)

	if _, err := engine.HandleLinearEvent(t.Context(), issuePayload("create"), linearOrigin); err != nil {
		t.Fatalf("first event failed: %v", err)
	}
	mapping, err := mem.UserMappingByLinearUser(t.Context(), "usr-1")
	if err != nil || mapping == nil {
		t.Fatalf("expected mapping after first event, got (%v, %v)", mapping, err)
	}
	if mapping.GitHubUsername != "octocat" {
		t.Errorf("expected resolved login, got %q", mapping.GitHubUsername)
	}

	if _, err := engine.HandleLinearEvent(t.Context(), issuePayload("create"), linearOrigin); err != nil {
		t.Fatalf("second event failed: %v", err)
	}

	lookups := 0
	for _, c := range gh.Calls() {
		if c.Method == "GET" && c.Path == "/user/5001" {
			lookups++
		}
	}
	if lookups != 1 {
		t.Errorf("expected a single identity lookup, got %d", lookups)
	}
}

func TestEnsureUserMapping_FetchFailureIsNonFatal(t *testing.T) {
	t.Parallel()
	engine, mem, gh, _ := newTestEngine(t)
	delete(gh.Users, 5001)

	outcome, err := engine.HandleLinearEvent(t.Context(), issuePayload("create"), linearOrigin)
	if err != nil {
		t.Fatalf("expected the event to proceed, got %v", err)
	}
	if outcome == "" {
		t.Error("expected an outcome despite the failed identity fetch")
	}
	if mapping, _ := mem.UserMappingByLinearUser(t.Context(), "usr-1"); mapping != nil {
		t.Errorf("expected no mapping stored, got %+v", mapping)
	}
}

func TestResolveGitHubUser(t *testing.T) {
	t.Parallel()
	engine, mem, _, _ := newTestEngine(t)
	if err := mem.UpsertUserMapping(t.Context(), &store.UserMapping{
		LinearUserID: "usr-2", GitHubUserID: 5002, GitHubUsername: "bob",
	}); err != nil {
		t.Fatal(err)
	}

	if got, err := engine.resolveGitHubUser(t.Context(), "usr-2"); err != nil || got != "bob" {
		t.Errorf("expected bob, got %q, %v", got, err)
	}
	if got, err := engine.resolveGitHubUser(t.Context(), "usr-9"); err != nil || got != "" {
		t.Errorf("expected empty for unmapped user, got %q, %v", got, err)
	}
	if got, err := engine.resolveGitHubUser(t.Context(), ""); err != nil || got != "" {
		t.Errorf("expected empty for empty ID, got %q, %v", got, err)
	}
}
