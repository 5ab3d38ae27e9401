// Copyright 2024-2026 Aiku AI
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package sync

import (
	"strings"
	"testing"
	"time"

	"github.com/aiku/ticketsync/pkg/linear"
	"github.com/aiku/ticketsync/pkg/store"
)

func TestMilestoneTitle(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		c    linear.Container
		kind ContainerKind
		want string
	}{
		{"unnamed cycle uses number", linear.Container{Number: 3}, ContainerCycle, "v.3"},
		{"numeric cycle name normalized", linear.Container{Name: "12", Number: 3}, ContainerCycle, "v.12"},
		{"named cycle keeps name", linear.Container{Name: "Sprint Q3", Number: 3}, ContainerCycle, "Sprint Q3"},
		{"named project keeps name", linear.Container{Name: "Checkout"}, ContainerProject, "Checkout"},
		{"unnamed project placeholder", linear.Container{}, ContainerProject, "?"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := milestoneTitle(&tt.c, tt.kind); got != tt.want {
				t.Errorf("milestoneTitle() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMilestoneState(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	tests := []struct {
		name string
		end  *time.Time
		want string
	}{
		{"no end date stays open", nil, "open"},
		{"future end date stays open", &future, "open"},
		{"past end date closes", &past, "closed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := milestoneState(tt.end, now); got != tt.want {
				t.Errorf("milestoneState() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestContainerChange_CreatesMilestoneLazily(t *testing.T) {
	t.Parallel()
	engine, mem, gh, lin := newTestEngine(t)
	addSyncedIssue(t, mem)
	lin.Cycles["cyc-1"] = map[string]any{
		"id": "cyc-1", "number": 3, "description": "Sprint work",
		"endsAt": time.Now().Add(24 * time.Hour).UTC().Format(time.RFC3339),
	}

	payload := issuePayload("update")
	payload.Data.CycleID = "cyc-1"
	payload.UpdatedFrom = updatedFrom("cycleId")
	outcome, err := engine.HandleLinearEvent(t.Context(), payload, linearOrigin)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(outcome, "Added milestone to #7") {
		t.Errorf("unexpected outcome: %q", outcome)
	}

	createCall, ok := gh.LastCall("POST", "/milestones")
	if !ok {
		t.Fatal("expected a milestone creation")
	}
	if !strings.Contains(createCall.Body, `"title":"v.3"`) {
		t.Errorf("expected normalized cycle title, got %s", createCall.Body)
	}
	if !strings.Contains(createCall.Body, `"state":"open"`) {
		t.Errorf("expected open state for future end date, got %s", createCall.Body)
	}

	row, err := mem.MilestoneByContainer(t.Context(), "cyc-1", "team-1")
	if err != nil || row == nil {
		t.Fatalf("expected milestone correlation, got %v, %v", row, err)
	}
	if row.MilestoneNumber != 7 {
		t.Errorf("expected milestone number 7, got %d", row.MilestoneNumber)
	}

	patch, ok := gh.LastCall("PATCH", "/issues/101")
	if !ok || !strings.Contains(patch.Body, `"milestone":7`) {
		t.Errorf("expected issue milestone patch, got %+v", patch)
	}
}

func TestContainerChange_ReusesStoredMilestone(t *testing.T) {
	t.Parallel()
	engine, mem, gh, _ := newTestEngine(t)
	addSyncedIssue(t, mem)
	if err := mem.CreateMilestone(t.Context(), &store.SyncedMilestone{
		ContainerID: "cyc-1", LinearTeamID: "team-1", MilestoneNumber: 12, GitHubRepoID: 9001,
	}); err != nil {
		t.Fatal(err)
	}

	payload := issuePayload("update")
	payload.Data.CycleID = "cyc-1"
	payload.UpdatedFrom = updatedFrom("cycleId")
	outcome, err := engine.HandleLinearEvent(t.Context(), payload, linearOrigin)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(outcome, "Added milestone to #12") {
		t.Errorf("unexpected outcome: %q", outcome)
	}
	if gh.Called("POST", "/milestones") {
		t.Error("expected no milestone creation when the correlation exists")
	}
}

func TestContainerChange_TitleCollisionReusesExisting(t *testing.T) {
	t.Parallel()
	engine, mem, gh, lin := newTestEngine(t)
	addSyncedIssue(t, mem)
	gh.ExistingMilestones["v.3"] = 12
	lin.Cycles["cyc-1"] = map[string]any{
		"id": "cyc-1", "number": 3, "description": "Sprint work",
	}

	payload := issuePayload("update")
	payload.Data.CycleID = "cyc-1"
	payload.UpdatedFrom = updatedFrom("cycleId")
	outcome, err := engine.HandleLinearEvent(t.Context(), payload, linearOrigin)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(outcome, "Added milestone to #12") {
		t.Errorf("unexpected outcome: %q", outcome)
	}
	row, err := mem.MilestoneByContainer(t.Context(), "cyc-1", "team-1")
	if err != nil || row == nil || row.MilestoneNumber != 12 {
		t.Errorf("expected correlation with existing number 12, got %+v, %v", row, err)
	}
}

func TestContainerChange_ClearedRemovesMilestone(t *testing.T) {
	t.Parallel()
	engine, mem, gh, _ := newTestEngine(t)
	addSyncedIssue(t, mem)

	payload := issuePayload("update")
	payload.Data.CycleID = ""
	payload.UpdatedFrom = updatedFrom("cycleId")
	payload.UpdatedFrom.CycleID = "cyc-1"
	outcome, err := engine.HandleLinearEvent(t.Context(), payload, linearOrigin)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(outcome, "Removed milestone for ENG-42") {
		t.Errorf("unexpected outcome: %q", outcome)
	}
	patch, ok := gh.LastCall("PATCH", "/issues/101")
	if !ok || !strings.Contains(patch.Body, `"milestone":null`) {
		t.Errorf("expected explicit milestone null, got %+v", patch)
	}
}

func TestContainerChange_SyncedDescriptionSkipped(t *testing.T) {
	t.Parallel()
	engine, mem, gh, lin := newTestEngine(t)
	addSyncedIssue(t, mem)
	lin.Projects["prj-1"] = map[string]any{
		"id": "prj-1", "name": "Checkout",
		"description": "Big launch\n\n> Synced from GitHub",
	}

	payload := issuePayload("update")
	payload.Data.ProjectID = "prj-1"
	payload.UpdatedFrom = updatedFrom("projectId")
	outcome, err := engine.HandleLinearEvent(t.Context(), payload, linearOrigin)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(outcome, "caused by sync") {
		t.Errorf("unexpected outcome: %q", outcome)
	}
	if gh.Called("POST", "/milestones") {
		t.Error("expected no milestone creation for a sync-created container")
	}
}

func TestContainerChange_UnsyncedTicketSkipped(t *testing.T) {
	t.Parallel()
	engine, _, gh, _ := newTestEngine(t)

	payload := issuePayload("update")
	payload.Data.CycleID = "cyc-1"
	payload.UpdatedFrom = updatedFrom("cycleId")
	outcome, err := engine.HandleLinearEvent(t.Context(), payload, linearOrigin)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(outcome, "Skipping over milestone") {
		t.Errorf("unexpected outcome: %q", outcome)
	}
	if gh.Called("POST", "/milestones") {
		t.Error("expected no milestone for an unsynced ticket")
	}
}
