// Copyright 2024-2026 Aiku AI
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package content

import (
	"strings"
	"testing"
)

func TestReplaceMentions(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		body string
		from Origin
		want string
	}{
		{
			"linear mention becomes plain link",
			"cc @[Alice Smith](https://linear.app/acme/profiles/alice)",
			OriginLinear,
			"cc [Alice Smith](https://linear.app/acme/profiles/alice)",
		},
		{
			"github mention becomes profile link",
			"cc @octocat please",
			OriginGitHub,
			"cc [@octocat](https://github.com/octocat) please",
		},
		{
			"email-like text is not a mention",
			"mail alice@example.com",
			OriginGitHub,
			"mail alice@example.com",
		},
		{
			"no mentions untouched",
			"plain text",
			OriginLinear,
			"plain text",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := ReplaceMentions(tt.body, tt.from); got != tt.want {
				t.Errorf("ReplaceMentions() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestHasPrivateImage(t *testing.T) {
	t.Parallel()
	if !HasPrivateImage("see ![shot](https://uploads.linear.app/x/y.png)") {
		t.Error("expected private upload to be detected")
	}
	if HasPrivateImage("see ![shot](https://example.com/y.png)") {
		t.Error("expected public image to pass")
	}
	if HasPrivateImage("bare link https://uploads.linear.app/x/y.png") {
		t.Error("expected non-image link to pass")
	}
}

func TestSanitizeName(t *testing.T) {
	t.Parallel()
	if got := SanitizeName("alice@example.com"); got != "alice" {
		t.Errorf("expected local part, got %q", got)
	}
	if got := SanitizeName("Alice Smith"); got != "Alice Smith" {
		t.Errorf("expected plain name untouched, got %q", got)
	}
}

func TestFootersRoundTrip(t *testing.T) {
	t.Parallel()
	body := "Original text" + IssueFooter(OriginLinear, "ENG-42", "https://linear.app/x")

	if !HasFooter(body) {
		t.Error("expected issue footer to be detected")
	}
	if got := StripFooter(body); got != "Original text" {
		t.Errorf("expected footer stripped, got %q", got)
	}
}

func TestCommentFooter(t *testing.T) {
	t.Parallel()
	body := "Reply" + CommentFooter(OriginGitHub, "bob@example.com", "cmt-12")

	if !HasFooter(body) {
		t.Error("expected comment footer to be detected")
	}
	if strings.Contains(body, "bob@example.com") {
		t.Error("expected email to be sanitized out of the footer")
	}
	if got := CommentIDFromFooter(body); got != "cmt-12" {
		t.Errorf("expected comment ID from footer, got %q", got)
	}
	if got := StripFooter(body); got != "Reply" {
		t.Errorf("expected footer stripped, got %q", got)
	}
}

func TestMilestoneFooter(t *testing.T) {
	t.Parallel()
	body := "Sprint goals" + MilestoneFooter(OriginLinear)
	if !HasFooter(body) {
		t.Error("expected milestone footer to be detected")
	}
}

func TestHasFooter_PlainText(t *testing.T) {
	t.Parallel()
	if HasFooter("nothing to see here") {
		t.Error("expected plain text to have no footer")
	}
	if got := CommentIDFromFooter("plain"); got != "" {
		t.Errorf("expected no comment ID, got %q", got)
	}
	if got := StripFooter("plain"); got != "plain" {
		t.Errorf("expected plain text untouched, got %q", got)
	}
}

func TestOriginOther(t *testing.T) {
	t.Parallel()
	if OriginLinear.Other() != OriginGitHub || OriginGitHub.Other() != OriginLinear {
		t.Error("expected origins to mirror each other")
	}
}
