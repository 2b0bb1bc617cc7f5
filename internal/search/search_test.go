package search

import (
	"strings"
	"testing"

	"reqgraph/api/internal/store"
)

func TestToRecord(t *testing.T) {
	record := toRecord(store.Requirement{
		HashID:      "hash_1",
		TenantSlug:  "acme",
		ProjectSlug: "apollo",
		Ref:         "SRD-001",
		Text:        "The system shall respond",
		Tags:        []string{"perf"},
		Deleted:     false,
	})
	if record.ID != "hash_1" {
		t.Errorf("record id must be the hashId, got %q", record.ID)
	}
	if record.Ref != "SRD-001" || record.Tenant != "acme" || record.Project != "apollo" {
		t.Errorf("unexpected record %+v", record)
	}
}

func TestToRecordNilTags(t *testing.T) {
	record := toRecord(store.Requirement{HashID: "hash_1"})
	if record.Tags == nil {
		t.Fatalf("nil tags must serialize as an empty list")
	}
}

func TestHitToRecord(t *testing.T) {
	hit := map[string]any{
		"id":      "hash_1",
		"tenant":  "acme",
		"project": "apollo",
		"ref":     "SRD-001",
		"text":    "The system shall respond",
		"tags":    []string{"perf"},
		"deleted": false,
	}
	record, ok := hitToRecord(hit)
	if !ok {
		t.Fatalf("expected hit to decode")
	}
	if record.ID != "hash_1" || record.Ref != "SRD-001" {
		t.Errorf("unexpected record %+v", record)
	}
}

func TestSnippet(t *testing.T) {
	short := "The system shall respond"
	if snippet(short) != short {
		t.Errorf("short text must pass through unchanged")
	}
	long := strings.Repeat("a", 300)
	got := snippet(long)
	if len([]rune(got)) != 161 {
		t.Errorf("expected 160 chars plus ellipsis, got %d", len([]rune(got)))
	}
	if !strings.HasSuffix(got, "…") {
		t.Errorf("expected ellipsis suffix, got %q", got[len(got)-4:])
	}
}

func TestNonNil(t *testing.T) {
	if nonNil(nil) == nil {
		t.Fatalf("nil results must become an empty slice")
	}
	in := []Result{{HashID: "hash_1"}}
	if out := nonNil(in); len(out) != 1 {
		t.Fatalf("non-nil results must pass through")
	}
}
