package mirror

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"reqgraph/api/internal/store"
)

func TestWriteCreatesRepoAndFile(t *testing.T) {
	service := New(t.TempDir())

	item := store.Requirement{
		HashID:       "abc123",
		ID:           "acme:apollo:SRD-001",
		TenantSlug:   "acme",
		ProjectSlug:  "apollo",
		DocumentSlug: "srd",
		Ref:          "SRD-001",
		Text:         "The system shall power on.",
		Tags:         []string{"power"},
	}
	if err := service.Write(item); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	path := filepath.Join(service.baseDir, "acme", "apollo", "requirements", "abc123.md")
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read mirror file: %v", err)
	}
	if !strings.Contains(string(content), "# SRD-001") {
		t.Errorf("mirror file missing ref header: %s", content)
	}
	if !strings.Contains(string(content), "The system shall power on.") {
		t.Errorf("mirror file missing body: %s", content)
	}
}

func TestWriteCommitsHistory(t *testing.T) {
	service := New(t.TempDir())

	item := store.Requirement{
		HashID:      "abc123",
		TenantSlug:  "acme",
		ProjectSlug: "apollo",
		Ref:         "SRD-001",
		Text:        "v1",
	}
	if err := service.Write(item); err != nil {
		t.Fatalf("first Write failed: %v", err)
	}

	item.Text = "v2"
	if err := service.Write(item); err != nil {
		t.Fatalf("second Write failed: %v", err)
	}

	messages, err := service.History("acme", "apollo", 10)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	// Two snapshot commits plus the baseline commit.
	if len(messages) != 3 {
		t.Fatalf("expected 3 commits, got %d: %v", len(messages), messages)
	}
	if messages[0] != "Update SRD-001" {
		t.Errorf("latest commit message = %q", messages[0])
	}
}

func TestFileKeyedByHashIDSurvivesRename(t *testing.T) {
	service := New(t.TempDir())

	item := store.Requirement{
		HashID:      "stable-id",
		TenantSlug:  "acme",
		ProjectSlug: "apollo",
		Ref:         "SRD-001",
		Text:        "body",
	}
	if err := service.Write(item); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	// A cascade rewrote the ref; the mirror file stays put.
	item.Ref = "SYS-001"
	if err := service.Write(item); err != nil {
		t.Fatalf("Write after rename failed: %v", err)
	}

	path := filepath.Join(service.baseDir, "acme", "apollo", "requirements", "stable-id.md")
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read mirror file: %v", err)
	}
	if !strings.Contains(string(content), "# SYS-001") {
		t.Errorf("mirror file not updated with new ref: %s", content)
	}
}

func TestDeleteSnapshotMessage(t *testing.T) {
	service := New(t.TempDir())

	item := store.Requirement{
		HashID:      "h1",
		TenantSlug:  "acme",
		ProjectSlug: "apollo",
		Ref:         "SRD-001",
		Text:        "body",
	}
	if err := service.Write(item); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	item.Deleted = true
	if err := service.Write(item); err != nil {
		t.Fatalf("Write deleted snapshot failed: %v", err)
	}

	messages, err := service.History("acme", "apollo", 1)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(messages) != 1 || messages[0] != "Delete SRD-001" {
		t.Errorf("unexpected history: %v", messages)
	}
}
