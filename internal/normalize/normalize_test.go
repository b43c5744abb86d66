package normalize

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"
	"time"

	"workstories/internal/domain"
)

func rec(kind, data string) Record {
	return Record{Kind: kind, PersonID: "p1", Data: json.RawMessage(data)}
}

func TestNormalizeKinds(t *testing.T) {
	records := []Record{
		rec("commit", `{"sha":"abc123","message":"Fix login bug\n\nRefs AUTH-123","author":"jane","author_email":"jane@example.com","authored_at":"2026-03-02T10:00:00Z","branch":"bugfix/auth-123"}`),
		rec("mr", `{"iid":42,"title":"Login SSO fix","description":"Closes AUTH-123","source_branch":"feature/AUTH-123-sso","state":"Merged","author":"jane","merged_at":"2026-03-03T09:00:00+02:00","labels":["backend"]}`),
		rec("ticket", `{"key":"auth-123","summary":"Login fails for SSO users","status":"Done","assignee":"jane","reporter":"bob","updated_at":"2026-03-04","labels":["delivery"],"components":["auth"]}`),
		rec("document", `{"id":"d1","filename":"design.md","content":"Auth design","uploaded_at":"2026-03-01 08:00:00","tags":["rfc"]}`),
	}
	items, warnings := Normalizer{}.Normalize(records)
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", warnings)
	}
	if len(items) != 4 {
		t.Fatalf("expected 4 items, got %d", len(items))
	}

	commit := items[0]
	if commit.ID != "commit:abc123" || commit.Title != "Fix login bug" || commit.Description != "Refs AUTH-123" {
		t.Fatalf("unexpected commit: %+v", commit)
	}
	if !reflect.DeepEqual(commit.Metadata.IssueKeys, []string{"AUTH-123"}) {
		t.Fatalf("commit issue keys = %v", commit.Metadata.IssueKeys)
	}
	if commit.Category != domain.CategoryTechnical || commit.PersonID != "p1" {
		t.Fatalf("unexpected commit category/person: %+v", commit)
	}

	mr := items[1]
	if mr.ID != "mr:42" || mr.Kind != domain.SourceMergeRequest || mr.Metadata.State != "merged" || mr.Metadata.Branch != "feature/AUTH-123-sso" {
		t.Fatalf("unexpected mr: %+v", mr)
	}
	if _, off := mr.Timestamp.Zone(); off != 2*3600 {
		t.Fatalf("mr timestamp should keep its zone, got offset %d", off)
	}

	ticket := items[2]
	if ticket.ID != "AUTH-123" || ticket.Metadata.IssueKey != "AUTH-123" || ticket.Category != domain.CategoryDelivery {
		t.Fatalf("unexpected ticket: %+v", ticket)
	}
	if ticket.Metadata.Author != "bob" || ticket.Metadata.Assignee != "jane" {
		t.Fatalf("unexpected ticket people: %+v", ticket.Metadata)
	}
	if !reflect.DeepEqual(ticket.Metadata.Labels, []string{"delivery", "auth"}) {
		t.Fatalf("ticket labels = %v", ticket.Metadata.Labels)
	}

	doc := items[3]
	if doc.ID != "doc:d1" || doc.Title != "design.md" || doc.Category != domain.CategoryCollaboration {
		t.Fatalf("unexpected document: %+v", doc)
	}
	if doc.Timestamp.Location() != time.UTC {
		t.Fatalf("naive timestamps default to UTC, got %v", doc.Timestamp.Location())
	}
}

func TestNormalizeDropsMalformed(t *testing.T) {
	records := []Record{
		rec("commit", `{"sha":"a1","message":"ok","authored_at":"2026-01-01T00:00:00Z"}`),
		rec("wiki", `{"id":"x"}`),
		rec("commit", `{"sha":"a2","message":"","authored_at":"2026-01-01T00:00:00Z"}`),
		rec("commit", `{"sha":"a3","message":"bad time","authored_at":"yesterday"}`),
		rec("commit", `{"sha":"a4","message":"no time"}`),
		rec("ticket", `{"key":"not a key","summary":"x","updated_at":"2026-01-01"}`),
		rec("ticket", `not json`),
		rec("commit", `{"sha":"a1","message":"duplicate","authored_at":"2026-01-01T00:00:00Z"}`),
		rec("document", `{"id":"d","title":"t","uploaded_at":"2026-01-01","category":"finance"}`),
		{Kind: "commit"},
	}
	items, warnings := Normalizer{}.Normalize(records)
	if len(items) != 1 || items[0].ID != "commit:a1" {
		t.Fatalf("expected only the first commit, got %+v", items)
	}
	if len(warnings) != len(records)-1 {
		t.Fatalf("expected %d warnings, got %d: %v", len(records)-1, len(warnings), warnings)
	}
	for _, want := range []string{"unknown source kind", "empty title", "invalid timestamp", "missing timestamp", "malformed ticket key", "duplicate id", "unknown category", "empty data"} {
		found := false
		for _, w := range warnings {
			if strings.Contains(w, want) {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("missing warning containing %q in %v", want, warnings)
		}
	}
}

func TestCategoryOverride(t *testing.T) {
	items, _ := Normalizer{}.Normalize([]Record{
		rec("commit", `{"sha":"c","message":"pairing session notes","authored_at":"2026-01-01T00:00:00Z","category":"collaboration"}`),
	})
	if len(items) != 1 || items[0].Category != domain.CategoryCollaboration {
		t.Fatalf("category override not applied: %+v", items)
	}
}

func TestNormalizeLocation(t *testing.T) {
	loc := time.FixedZone("X", -5*3600)
	items, _ := Normalizer{Location: loc}.Normalize([]Record{
		rec("ticket", `{"key":"OPS-1","summary":"Rotate keys","updated_at":"2026-05-01T12:00:00"}`),
	})
	if len(items) != 1 {
		t.Fatal("expected one item")
	}
	if _, off := items[0].Timestamp.Zone(); off != -5*3600 {
		t.Fatalf("expected configured zone, got offset %d", off)
	}
}

func TestItemsValidation(t *testing.T) {
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	in := []domain.EvidenceItem{
		{ID: "a", Kind: domain.SourceCommit, Title: "Work on PAY-9", Timestamp: ts},
		{ID: "", Kind: domain.SourceCommit, Title: "x", Timestamp: ts},
		{ID: "b", Kind: domain.SourceCommit, Title: " ", Timestamp: ts},
		{ID: "c", Kind: domain.SourceCommit, Title: "x"},
		{ID: "d", Kind: "wiki", Title: "x", Timestamp: ts},
		{ID: "a", Kind: domain.SourceCommit, Title: "dupe", Timestamp: ts},
	}
	out, warnings := Normalizer{}.Items(in)
	if len(out) != 1 || len(warnings) != 5 {
		t.Fatalf("got %d items and %d warnings: %v", len(out), len(warnings), warnings)
	}
	if out[0].Category != domain.CategoryTechnical || !reflect.DeepEqual(out[0].Metadata.IssueKeys, []string{"PAY-9"}) {
		t.Fatalf("item not enriched: %+v", out[0])
	}
}

func TestTicketKeyFromID(t *testing.T) {
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	out, _ := Normalizer{}.Items([]domain.EvidenceItem{
		{ID: "AUTH-123", Kind: domain.SourceTicket, Title: "Login fails", Timestamp: ts},
		{ID: "ticket-draft", Kind: domain.SourceTicket, Title: "Untracked", Timestamp: ts},
	})
	if len(out) != 2 || out[0].Metadata.IssueKey != "AUTH-123" || out[1].Metadata.IssueKey != "" {
		t.Fatalf("issue keys from ids: %+v", out)
	}

	items, warnings := Normalizer{}.Normalize([]Record{rec("ticket", `{"id":"PAY-7","summary":"Refund flow","updated_at":"2026-03-04"}`)})
	if len(warnings) != 0 || len(items) != 1 || items[0].Metadata.IssueKey != "PAY-7" {
		t.Fatalf("ticket record without key: %+v %v", items, warnings)
	}
}
