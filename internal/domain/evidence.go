package domain

import (
	"strings"
	"time"
)

type SourceKind string

const (
	SourceCommit       SourceKind = "commit"
	SourceMergeRequest SourceKind = "merge_request"
	SourceTicket       SourceKind = "ticket"
	SourceDocument     SourceKind = "document"
)

// ParseSourceKind accepts the canonical kinds plus the aliases collectors
// commonly emit ("mr", "pull_request", "issue", "doc").
func ParseSourceKind(s string) (SourceKind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "commit", "gitlab_commit", "github_commit":
		return SourceCommit, true
	case "merge_request", "mr", "pull_request", "pr", "gitlab_mr", "github_pr":
		return SourceMergeRequest, true
	case "ticket", "issue", "jira_issue", "jira":
		return SourceTicket, true
	case "document", "doc":
		return SourceDocument, true
	}
	return "", false
}

// Platform is the family of external system the kind comes from. Two items
// on different platforms form a cross-platform pair.
func (k SourceKind) Platform() Platform {
	switch k {
	case SourceCommit, SourceMergeRequest:
		return PlatformSourceControl
	case SourceTicket:
		return PlatformIssueTracker
	case SourceDocument:
		return PlatformDocuments
	}
	return PlatformUnknown
}

type Platform string

const (
	PlatformSourceControl Platform = "source_control"
	PlatformIssueTracker  Platform = "issue_tracker"
	PlatformDocuments     Platform = "documents"
	PlatformUnknown       Platform = "unknown"
)

type Category string

const (
	CategoryTechnical     Category = "technical"
	CategoryCollaboration Category = "collaboration"
	CategoryDelivery      Category = "delivery"
)

func ParseCategory(s string) (Category, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "technical":
		return CategoryTechnical, true
	case "collaboration":
		return CategoryCollaboration, true
	case "delivery":
		return CategoryDelivery, true
	}
	return "", false
}

// EvidenceItem is one normalized observation of work. Items are passed by
// value and never mutated by the engine.
type EvidenceItem struct {
	ID          string     `json:"id"`
	PersonID    string     `json:"person_id"`
	Kind        SourceKind `json:"kind"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Category    Category   `json:"category"`
	Timestamp   time.Time  `json:"timestamp"`
	URL         string     `json:"url,omitempty"`
	Origin      string     `json:"origin,omitempty"` // "gitlab", "github", "jira", ...
	Metadata    Metadata   `json:"metadata"`
}

type Metadata struct {
	IssueKey     string            `json:"issue_key,omitempty"`  // the item's own key (tickets)
	IssueKeys    []string          `json:"issue_keys,omitempty"` // keys mentioned by the item
	Branch       string            `json:"branch,omitempty"`
	Author       string            `json:"author,omitempty"`
	AuthorEmail  string            `json:"author_email,omitempty"`
	Assignee     string            `json:"assignee,omitempty"`
	State        string            `json:"state,omitempty"`
	Labels       []string          `json:"labels,omitempty"`
	Technologies []string          `json:"technologies,omitempty"`
	Files        []string          `json:"files,omitempty"`
	Extra        map[string]string `json:"extra,omitempty"`
}

func (i EvidenceItem) Platform() Platform {
	return i.Kind.Platform()
}

// Text is the concatenated title and description used for token overlap,
// embeddings and prompts.
func (i EvidenceItem) Text() string {
	if i.Description == "" {
		return i.Title
	}
	return i.Title + "\n" + i.Description
}

// Identities returns the lower-cased people identifiers attached to the item.
func (i EvidenceItem) Identities() []string {
	var out []string
	seen := make(map[string]bool)
	for _, v := range []string{i.Metadata.Author, i.Metadata.AuthorEmail, i.Metadata.Assignee} {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

// People returns the display identifiers of the people involved, without
// case folding, for story membership.
func (i EvidenceItem) People() []string {
	var out []string
	for _, v := range []string{i.Metadata.Author, i.Metadata.Assignee} {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	if len(out) == 0 && i.Metadata.AuthorEmail != "" {
		out = append(out, i.Metadata.AuthorEmail)
	}
	return out
}
