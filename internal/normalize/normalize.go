package normalize

import (
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"workstories/internal/domain"
	"workstories/internal/issuekey"
)

// Record is one raw item handed over by a collector. Data holds the
// source-specific JSON object.
type Record struct {
	Kind     string          `json:"kind"`
	PersonID string          `json:"person_id"`
	Data     json.RawMessage `json:"data"`
}

type Normalizer struct {
	// Location is applied to timestamps that carry no zone. Defaults to UTC.
	Location *time.Location
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.000-0700",
	"2006-01-02T15:04:05-0700",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// Normalize converts records into evidence items. Malformed records are
// dropped and described in warnings; it never fails.
func (n Normalizer) Normalize(records []Record) ([]domain.EvidenceItem, []string) {
	var items []domain.EvidenceItem
	var warnings []string
	seen := make(map[string]bool)
	for i, rec := range records {
		item, err := n.record(rec)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("record %d (%s) dropped: %v", i, rec.Kind, err))
			continue
		}
		if seen[item.ID] {
			warnings = append(warnings, fmt.Sprintf("record %d (%s) dropped: duplicate id %s", i, rec.Kind, item.ID))
			continue
		}
		seen[item.ID] = true
		items = append(items, item)
	}
	if len(warnings) > 0 {
		log.Printf("normalize dropped=%d kept=%d", len(warnings), len(items))
	}
	return items, warnings
}

// Items validates caller-built evidence items with the same rules applied to
// raw records.
func (n Normalizer) Items(in []domain.EvidenceItem) ([]domain.EvidenceItem, []string) {
	var out []domain.EvidenceItem
	var warnings []string
	seen := make(map[string]bool)
	for i, item := range in {
		switch {
		case strings.TrimSpace(item.ID) == "":
			warnings = append(warnings, fmt.Sprintf("item %d dropped: missing id", i))
			continue
		case strings.TrimSpace(item.Title) == "":
			warnings = append(warnings, fmt.Sprintf("item %s dropped: empty title", item.ID))
			continue
		case item.Timestamp.IsZero():
			warnings = append(warnings, fmt.Sprintf("item %s dropped: missing timestamp", item.ID))
			continue
		case item.Kind.Platform() == domain.PlatformUnknown:
			warnings = append(warnings, fmt.Sprintf("item %s dropped: unknown kind %q", item.ID, item.Kind))
			continue
		case seen[item.ID]:
			warnings = append(warnings, fmt.Sprintf("item %s dropped: duplicate id", item.ID))
			continue
		}
		seen[item.ID] = true
		if item.Category == "" {
			item.Category = defaultCategory(item.Kind, item.Metadata.Labels)
		}
		item.Metadata.IssueKeys = issuekey.Merge(item.Metadata.IssueKeys, issuekey.Extract(item.Text()))
		item.Metadata.IssueKey = issuekey.Normalize(item.Metadata.IssueKey)
		if item.Metadata.IssueKey == "" && item.Kind == domain.SourceTicket {
			item.Metadata.IssueKey = issuekey.FromID(item.ID)
		}
		out = append(out, item)
	}
	return out, warnings
}

type commitData struct {
	ID          string   `json:"id"`
	SHA         string   `json:"sha"`
	Message     string   `json:"message"`
	Title       string   `json:"title"`
	Author      string   `json:"author"`
	AuthorName  string   `json:"author_name"`
	AuthorEmail string   `json:"author_email"`
	AuthoredAt  string   `json:"authored_at"`
	Timestamp   string   `json:"timestamp"`
	CreatedAt   string   `json:"created_at"`
	Branch      string   `json:"branch"`
	Files       []string `json:"files"`
	URL         string   `json:"url"`
	Origin      string   `json:"origin"`
	common
}

type mergeRequestData struct {
	ID           string   `json:"id"`
	IID          flexID   `json:"iid"`
	Number       flexID   `json:"number"`
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	SourceBranch string   `json:"source_branch"`
	BranchName   string   `json:"branch_name"`
	State        string   `json:"state"`
	Author       string   `json:"author"`
	Assignee     string   `json:"assignee"`
	MergedAt     string   `json:"merged_at"`
	UpdatedAt    string   `json:"updated_at"`
	CreatedAt    string   `json:"created_at"`
	Labels       []string `json:"labels"`
	Files        []string `json:"files"`
	URL          string   `json:"url"`
	Origin       string   `json:"origin"`
	common
}

type ticketData struct {
	ID          string   `json:"id"`
	Key         string   `json:"key"`
	Summary     string   `json:"summary"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Status      string   `json:"status"`
	Assignee    string   `json:"assignee"`
	Reporter    string   `json:"reporter"`
	UpdatedAt   string   `json:"updated_at"`
	CreatedAt   string   `json:"created_at"`
	Labels      []string `json:"labels"`
	Components  []string `json:"components"`
	URL         string   `json:"url"`
	Origin      string   `json:"origin"`
	common
}

type documentData struct {
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	Filename   string   `json:"filename"`
	Content    string   `json:"content"`
	Summary    string   `json:"summary"`
	Author     string   `json:"author"`
	UploadedAt string   `json:"uploaded_at"`
	CreatedAt  string   `json:"created_at"`
	Tags       []string `json:"tags"`
	URL        string   `json:"url"`
	common
}

// common carries the optional overrides every kind accepts.
type common struct {
	Category     string            `json:"category"`
	IssueKeys    []string          `json:"issue_keys"`
	Technologies []string          `json:"technologies"`
	Extra        map[string]string `json:"extra"`
}

// flexID accepts both 42 and "42".
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		return nil
	}
	if unq, err := strconv.Unquote(s); err == nil {
		*f = flexID(strings.TrimSpace(unq))
		return nil
	}
	if _, err := strconv.ParseFloat(s, 64); err != nil {
		return fmt.Errorf("invalid id %s", s)
	}
	*f = flexID(s)
	return nil
}

func (n Normalizer) record(rec Record) (domain.EvidenceItem, error) {
	kind, ok := domain.ParseSourceKind(rec.Kind)
	if !ok {
		return domain.EvidenceItem{}, fmt.Errorf("unknown source kind %q", rec.Kind)
	}
	if len(rec.Data) == 0 {
		return domain.EvidenceItem{}, fmt.Errorf("empty data")
	}

	var (
		item domain.EvidenceItem
		c    common
		err  error
	)
	switch kind {
	case domain.SourceCommit:
		item, c, err = n.commit(rec.Data)
	case domain.SourceMergeRequest:
		item, c, err = n.mergeRequest(rec.Data)
	case domain.SourceTicket:
		item, c, err = n.ticket(rec.Data)
	case domain.SourceDocument:
		item, c, err = n.document(rec.Data)
	}
	if err != nil {
		return domain.EvidenceItem{}, err
	}
	item.Kind = kind
	item.PersonID = rec.PersonID
	item.Title = strings.TrimSpace(item.Title)
	item.Description = strings.TrimSpace(item.Description)
	if item.Title == "" {
		return domain.EvidenceItem{}, fmt.Errorf("empty title")
	}
	if item.ID == "" {
		return domain.EvidenceItem{}, fmt.Errorf("missing identifier")
	}

	item.Category = defaultCategory(kind, item.Metadata.Labels)
	if c.Category != "" {
		cat, ok := domain.ParseCategory(c.Category)
		if !ok {
			return domain.EvidenceItem{}, fmt.Errorf("unknown category %q", c.Category)
		}
		item.Category = cat
	}
	item.Metadata.IssueKey = issuekey.Normalize(item.Metadata.IssueKey)
	item.Metadata.IssueKeys = issuekey.Merge(c.IssueKeys, issuekey.Extract(item.Text()))
	item.Metadata.Technologies = c.Technologies
	item.Metadata.Extra = c.Extra
	return item, nil
}

func (n Normalizer) commit(raw json.RawMessage) (domain.EvidenceItem, common, error) {
	var d commitData
	if err := json.Unmarshal(raw, &d); err != nil {
		return domain.EvidenceItem{}, common{}, fmt.Errorf("decode commit: %w", err)
	}
	ts, err := n.firstTime(d.AuthoredAt, d.Timestamp, d.CreatedAt)
	if err != nil {
		return domain.EvidenceItem{}, common{}, err
	}
	title, desc := splitMessage(d.Message)
	if d.Title != "" {
		title = d.Title
		if desc == "" && strings.TrimSpace(d.Message) != strings.TrimSpace(d.Title) {
			desc = d.Message
		}
	}
	id := firstNonEmpty(d.ID, prefixed("commit", d.SHA))
	return domain.EvidenceItem{
		ID:          id,
		Title:       title,
		Description: desc,
		Timestamp:   ts,
		URL:         d.URL,
		Origin:      d.Origin,
		Metadata: domain.Metadata{
			Branch:      d.Branch,
			Author:      firstNonEmpty(d.Author, d.AuthorName),
			AuthorEmail: d.AuthorEmail,
			Files:       d.Files,
			Extra:       d.Extra,
		},
	}, d.common, nil
}

func (n Normalizer) mergeRequest(raw json.RawMessage) (domain.EvidenceItem, common, error) {
	var d mergeRequestData
	if err := json.Unmarshal(raw, &d); err != nil {
		return domain.EvidenceItem{}, common{}, fmt.Errorf("decode merge request: %w", err)
	}
	ts, err := n.firstTime(d.MergedAt, d.UpdatedAt, d.CreatedAt)
	if err != nil {
		return domain.EvidenceItem{}, common{}, err
	}
	id := firstNonEmpty(d.ID, prefixed("mr", string(d.IID)), prefixed("mr", string(d.Number)))
	return domain.EvidenceItem{
		ID:          id,
		Title:       d.Title,
		Description: d.Description,
		Timestamp:   ts,
		URL:         d.URL,
		Origin:      d.Origin,
		Metadata: domain.Metadata{
			Branch:   firstNonEmpty(d.SourceBranch, d.BranchName),
			Author:   d.Author,
			Assignee: d.Assignee,
			State:    strings.ToLower(strings.TrimSpace(d.State)),
			Labels:   d.Labels,
			Files:    d.Files,
		},
	}, d.common, nil
}

func (n Normalizer) ticket(raw json.RawMessage) (domain.EvidenceItem, common, error) {
	var d ticketData
	if err := json.Unmarshal(raw, &d); err != nil {
		return domain.EvidenceItem{}, common{}, fmt.Errorf("decode ticket: %w", err)
	}
	ts, err := n.firstTime(d.UpdatedAt, d.CreatedAt)
	if err != nil {
		return domain.EvidenceItem{}, common{}, err
	}
	key := issuekey.Normalize(d.Key)
	if d.Key != "" && key == "" {
		return domain.EvidenceItem{}, common{}, fmt.Errorf("malformed ticket key %q", d.Key)
	}
	if key == "" {
		key = issuekey.FromID(d.ID)
	}
	labels := append(append([]string(nil), d.Labels...), d.Components...)
	return domain.EvidenceItem{
		ID:          firstNonEmpty(d.ID, key),
		Title:       firstNonEmpty(d.Summary, d.Title),
		Description: d.Description,
		Timestamp:   ts,
		URL:         d.URL,
		Origin:      d.Origin,
		Metadata: domain.Metadata{
			IssueKey: key,
			Author:   d.Reporter,
			Assignee: d.Assignee,
			State:    d.Status,
			Labels:   labels,
		},
	}, d.common, nil
}

func (n Normalizer) document(raw json.RawMessage) (domain.EvidenceItem, common, error) {
	var d documentData
	if err := json.Unmarshal(raw, &d); err != nil {
		return domain.EvidenceItem{}, common{}, fmt.Errorf("decode document: %w", err)
	}
	ts, err := n.firstTime(d.UploadedAt, d.CreatedAt)
	if err != nil {
		return domain.EvidenceItem{}, common{}, err
	}
	return domain.EvidenceItem{
		ID:          prefixed("doc", d.ID),
		Title:       firstNonEmpty(d.Title, d.Filename),
		Description: firstNonEmpty(d.Summary, d.Content),
		Timestamp:   ts,
		URL:         d.URL,
		Metadata: domain.Metadata{
			Author: d.Author,
			Labels: d.Tags,
		},
	}, d.common, nil
}

func defaultCategory(kind domain.SourceKind, labels []string) domain.Category {
	if kind == domain.SourceDocument {
		return domain.CategoryCollaboration
	}
	if kind == domain.SourceTicket {
		for _, l := range labels {
			if cat, ok := domain.ParseCategory(l); ok {
				return cat
			}
		}
	}
	return domain.CategoryTechnical
}

func (n Normalizer) firstTime(values ...string) (time.Time, error) {
	for _, v := range values {
		if strings.TrimSpace(v) == "" {
			continue
		}
		return n.parseTime(v)
	}
	return time.Time{}, fmt.Errorf("missing timestamp")
}

func (n Normalizer) parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	loc := n.Location
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range timeLayouts {
		t, err := time.ParseInLocation(layout, s, loc)
		if err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
}

func splitMessage(msg string) (string, string) {
	msg = strings.TrimSpace(msg)
	title, rest, _ := strings.Cut(msg, "\n")
	return strings.TrimSpace(title), strings.TrimSpace(rest)
}

func prefixed(prefix, id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return ""
	}
	return prefix + ":" + id
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
