// Copyright 2024-2026 Aiku AI

package sync

import (
	"encoding/json"
	"time"
)

// WebhookPayload is an incoming Linear change notification.
type WebhookPayload struct {
	Action    string    `json:"action"`
	Type      string    `json:"type"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"createdAt"`
	Data      EventData `json:"data"`
	// UpdatedFrom carries the previous value of every field the event
	// changed; a key's presence is what marks the field as changed.
	UpdatedFrom *UpdatedFrom `json:"updatedFrom"`
}

// EventData is the full current state of the entity the event concerns.
// Issue and Comment events share the shape; comment events populate Body,
// IssueID and Issue, and do not carry a team ID.
type EventData struct {
	ID          string   `json:"id"`
	TeamID      string   `json:"teamId"`
	Team        *TeamRef `json:"team"`
	Number      int      `json:"number"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	LabelIDs    []string `json:"labelIds"`
	StateID     string   `json:"stateId"`
	Priority    int      `json:"priority"`
	Estimate    int      `json:"estimate"`
	AssigneeID  string   `json:"assigneeId"`
	CreatorID   string   `json:"creatorId"`
	UserID      string   `json:"userId"`
	CycleID     string   `json:"cycleId"`
	ProjectID   string   `json:"projectId"`

	// Comment-only fields.
	Body    string    `json:"body"`
	IssueID string    `json:"issueId"`
	Issue   *IssueRef `json:"issue"`
	User    *UserRef  `json:"user"`
}

// TeamRef identifies the ticket's team.
type TeamRef struct {
	ID   string `json:"id"`
	Key  string `json:"key"`
	Name string `json:"name"`
}

// IssueRef is the parent ticket reference carried by comment events.
type IssueRef struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// UserRef is the acting user reference carried by comment events.
type UserRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ActorID returns the Linear user responsible for the event.
func (d *EventData) ActorID() string {
	if d.UserID != "" {
		return d.UserID
	}
	return d.CreatorID
}

// TeamKey returns the ticket's team key, or "" when absent.
func (d *EventData) TeamKey() string {
	if d.Team == nil {
		return ""
	}
	return d.Team.Key
}

// UpdatedFrom holds the previous values of changed fields. Field presence is
// tracked separately from the decoded values because a previous value may
// legitimately be null or zero.
type UpdatedFrom struct {
	present map[string]struct{}

	LabelIDs    []string
	Title       string
	Description string
	CycleID     string
	ProjectID   string
	StateID     string
	AssigneeID  string
	Priority    int
	Estimate    int
}

func (u *UpdatedFrom) UnmarshalJSON(b []byte) error {
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(b, &keys); err != nil {
		return err
	}
	u.present = make(map[string]struct{}, len(keys))
	for k := range keys {
		u.present[k] = struct{}{}
	}

	var raw struct {
		LabelIDs    []string `json:"labelIds"`
		Title       *string  `json:"title"`
		Description *string  `json:"description"`
		CycleID     *string  `json:"cycleId"`
		ProjectID   *string  `json:"projectId"`
		StateID     *string  `json:"stateId"`
		AssigneeID  *string  `json:"assigneeId"`
		Priority    *int     `json:"priority"`
		Estimate    *int     `json:"estimate"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	u.LabelIDs = raw.LabelIDs
	if raw.Title != nil {
		u.Title = *raw.Title
	}
	if raw.Description != nil {
		u.Description = *raw.Description
	}
	if raw.CycleID != nil {
		u.CycleID = *raw.CycleID
	}
	if raw.ProjectID != nil {
		u.ProjectID = *raw.ProjectID
	}
	if raw.StateID != nil {
		u.StateID = *raw.StateID
	}
	if raw.AssigneeID != nil {
		u.AssigneeID = *raw.AssigneeID
	}
	if raw.Priority != nil {
		u.Priority = *raw.Priority
	}
	if raw.Estimate != nil {
		u.Estimate = *raw.Estimate
	}
	return nil
}

// Has reports whether the event changed the named field.
func (u *UpdatedFrom) Has(field string) bool {
	if u == nil {
		return false
	}
	_, ok := u.present[field]
	return ok
}

// ContainerKind distinguishes the two container flavors.
type ContainerKind string

const (
	ContainerCycle   ContainerKind = "cycle"
	ContainerProject ContainerKind = "project"
)

// FieldChange is one synchronized field's transition, carrying its old and
// new typed payload. The router matches exhaustively over the variants.
type FieldChange interface {
	Field() string
}

// LabelsChange is a label-set transition.
type LabelsChange struct {
	Previous, Current []string
}

// TitleChange is a title transition.
type TitleChange struct {
	Previous, Current string
}

// DescriptionChange is a description transition.
type DescriptionChange struct {
	Previous, Current string
}

// ContainerChange is a cycle or project transition. An empty Current clears
// the milestone.
type ContainerChange struct {
	Kind              ContainerKind
	Previous, Current string
}

// StateChange is a workflow state transition.
type StateChange struct {
	Previous, Current string
}

// AssigneeChange is an assignee transition.
type AssigneeChange struct {
	Previous, Current string
}

// PriorityChange is a priority level transition.
type PriorityChange struct {
	Previous, Current int
}

// EstimateChange is an estimate transition. Zero means cleared.
type EstimateChange struct {
	Previous, Current int
}

func (LabelsChange) Field() string      { return "labels" }
func (TitleChange) Field() string       { return "title" }
func (DescriptionChange) Field() string { return "description" }
func (ContainerChange) Field() string   { return "container" }
func (StateChange) Field() string       { return "state" }
func (AssigneeChange) Field() string    { return "assignee" }
func (PriorityChange) Field() string    { return "priority" }
func (EstimateChange) Field() string    { return "estimate" }

// Changes expands an update event into ordered field-change variants:
// labels first (they can create or delete the correlation), then the
// remaining fields.
func (p *WebhookPayload) Changes() []FieldChange {
	u := p.UpdatedFrom
	if u == nil {
		return nil
	}
	var out []FieldChange
	if u.Has("labelIds") {
		out = append(out, LabelsChange{Previous: u.LabelIDs, Current: p.Data.LabelIDs})
	}
	if u.Has("title") {
		out = append(out, TitleChange{Previous: u.Title, Current: p.Data.Title})
	}
	if u.Has("description") {
		out = append(out, DescriptionChange{Previous: u.Description, Current: p.Data.Description})
	}
	if u.Has("cycleId") {
		out = append(out, ContainerChange{Kind: ContainerCycle, Previous: u.CycleID, Current: p.Data.CycleID})
	} else if u.Has("projectId") {
		out = append(out, ContainerChange{Kind: ContainerProject, Previous: u.ProjectID, Current: p.Data.ProjectID})
	}
	if u.Has("stateId") {
		out = append(out, StateChange{Previous: u.StateID, Current: p.Data.StateID})
	}
	if u.Has("assigneeId") {
		out = append(out, AssigneeChange{Previous: u.AssigneeID, Current: p.Data.AssigneeID})
	}
	if u.Has("priority") {
		out = append(out, PriorityChange{Previous: u.Priority, Current: p.Data.Priority})
	}
	if u.Has("estimate") {
		out = append(out, EstimateChange{Previous: u.Estimate, Current: p.Data.Estimate})
	}
	return out
}

// labelDelta computes the symmetric difference between the previous and
// current label sets. The payload guarantees at most one label changes per
// event, but the computation handles any cardinality.
func labelDelta(previous, current []string) (added, removed []string) {
	prev := make(map[string]struct{}, len(previous))
	for _, id := range previous {
		prev[id] = struct{}{}
	}
	cur := make(map[string]struct{}, len(current))
	for _, id := range current {
		cur[id] = struct{}{}
	}
	for _, id := range current {
		if _, ok := prev[id]; !ok {
			added = append(added, id)
		}
	}
	for _, id := range previous {
		if _, ok := cur[id]; !ok {
			removed = append(removed, id)
		}
	}
	return added, removed
}
