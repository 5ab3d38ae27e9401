// Copyright 2024-2026 Aiku AI

// Package content rewrites ticket text crossing between Linear and GitHub:
// mention syntax, private inline images, and the provenance footer embedded
// in every synchronized body. The footer is the loop-suppression mechanism:
// text that already carries one is sync-originated and must not be mirrored
// again.
package content

import (
	"fmt"
	"regexp"
	"strings"
)

// Origin identifies the platform a piece of text came from.
type Origin string

const (
	OriginLinear Origin = "Linear"
	OriginGitHub Origin = "GitHub"
)

// Other returns the opposite platform.
func (o Origin) Other() Origin {
	if o == OriginLinear {
		return OriginGitHub
	}
	return OriginLinear
}

var (
	// Linear mention markdown: @[Display Name](url).
	linearMentionRe = regexp.MustCompile(`@\[([^\]]+)\]\(([^)]+)\)`)
	// GitHub @login mentions at a word boundary.
	githubMentionRe = regexp.MustCompile(`(^|[\s(])@([A-Za-z0-9](?:-?[A-Za-z0-9]){0,38})`)
	// Inline images hosted on Linear's private upload bucket.
	privateImageRe = regexp.MustCompile(`!\[[^\]]*\]\(https://uploads\.linear\.app/[^)]+\)`)
	// HTML-comment provenance footer.
	footerRe = regexp.MustCompile(`<!-- From [^>]* on (Linear|GitHub)`)
	// Original comment ID carried in a comment footer.
	commentIDRe = regexp.MustCompile(`LinearCommentId:([0-9A-Za-z-]+):`)
)

const syncMarker = "Synced from "

// ReplaceMentions rewrites mention syntax so text renders sensibly on the
// other platform without firing accidental notifications. Linear mentions
// become plain links; GitHub mentions become profile links.
func ReplaceMentions(body string, from Origin) string {
	switch from {
	case OriginLinear:
		return linearMentionRe.ReplaceAllString(body, "[$1]($2)")
	case OriginGitHub:
		return githubMentionRe.ReplaceAllString(body, "$1[@$2](https://github.com/$2)")
	}
	return body
}

// Translate runs the full cross-system rewrite for a body. Image
// re-resolution happens before this at the router, since it needs a fresh
// fetch from the origin platform.
func Translate(body string, from Origin) string {
	return ReplaceMentions(body, from)
}

// HasPrivateImage reports whether the body embeds an inline image behind
// Linear's authenticated upload host. Such bodies must be re-fetched from
// the API, which returns public URLs.
func HasPrivateImage(body string) bool {
	return privateImageRe.MatchString(body)
}

// SanitizeName keeps only the local part of an email-shaped name so a user
// email is never leaked into a public footer.
func SanitizeName(name string) string {
	local, _, _ := strings.Cut(name, "@")
	return local
}

// IssueFooter is the provenance footer appended to a mirrored issue body,
// linking back to the original ticket.
func IssueFooter(from Origin, ref, url string) string {
	return fmt.Sprintf("\n\n<sub>%s%s | [%s](%s)</sub>", syncMarker, from, ref, url)
}

// Footer is the provenance footer for a body without a backing comment.
func Footer(from Origin, author string) string {
	return fmt.Sprintf("\n\n<!-- From %s on %s -->", SanitizeName(author), from)
}

// CommentFooter is the provenance footer for a synchronized comment. It
// carries the original comment ID for best-effort correlation without a
// dedicated comment table.
func CommentFooter(from Origin, author, commentID string) string {
	return fmt.Sprintf("\n\n<!-- From %s on %s. LinearCommentId:%s: -->", SanitizeName(author), from, commentID)
}

// MilestoneFooter marks a milestone description as sync-created.
func MilestoneFooter(from Origin) string {
	return fmt.Sprintf("\n\n> %s%s", syncMarker, from)
}

// HasFooter reports whether the body already carries a provenance footer
// from either platform. Such text is sync-originated.
func HasFooter(body string) bool {
	return strings.Contains(body, syncMarker+string(OriginLinear)) ||
		strings.Contains(body, syncMarker+string(OriginGitHub)) ||
		footerRe.MatchString(body)
}

// CommentIDFromFooter extracts the original comment ID from a comment
// footer, or "" when absent.
func CommentIDFromFooter(body string) string {
	m := commentIDRe.FindStringSubmatch(body)
	if m == nil {
		return ""
	}
	return m[1]
}

// StripFooter removes a trailing issue-body footer before text is written
// back to its origin platform.
func StripFooter(body string) string {
	if i := strings.LastIndex(body, "\n\n<sub>"+syncMarker); i >= 0 {
		return body[:i]
	}
	if i := strings.LastIndex(body, "\n\n<!-- From "); i >= 0 {
		return body[:i]
	}
	return body
}
