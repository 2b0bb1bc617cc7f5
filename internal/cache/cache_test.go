package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"reqgraph/api/internal/store"
)

func setupTestCache(t *testing.T) (*Client, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	client, err := New("redis://"+s.Addr(), time.Minute)
	if err != nil {
		t.Fatalf("failed to create cache client: %v", err)
	}
	return client, s
}

func TestRequirementListRoundTrip(t *testing.T) {
	client, s := setupTestCache(t)
	defer client.Close()
	defer s.Close()

	ctx := context.Background()

	if _, ok := client.GetRequirementList(ctx, "acme", "apollo"); ok {
		t.Fatal("expected cache miss on empty cache")
	}

	items := []store.Requirement{
		{HashID: "h1", Ref: "SRD-001", Text: "The system shall power on."},
		{HashID: "h2", Ref: "SRD-002", Text: "The system shall power off."},
	}
	if err := client.SetRequirementList(ctx, "acme", "apollo", items); err != nil {
		t.Fatalf("SetRequirementList failed: %v", err)
	}

	got, ok := client.GetRequirementList(ctx, "acme", "apollo")
	if !ok {
		t.Fatal("expected cache hit after set")
	}
	if len(got) != 2 || got[0].Ref != "SRD-001" || got[1].Ref != "SRD-002" {
		t.Errorf("unexpected cached list: %+v", got)
	}
}

func TestScopeIsolation(t *testing.T) {
	client, s := setupTestCache(t)
	defer client.Close()
	defer s.Close()

	ctx := context.Background()

	if err := client.SetRequirementCount(ctx, "acme", "apollo", 3); err != nil {
		t.Fatalf("SetRequirementCount failed: %v", err)
	}
	if err := client.SetRequirementCount(ctx, "acme", "gemini", 7); err != nil {
		t.Fatalf("SetRequirementCount failed: %v", err)
	}

	count, ok := client.GetRequirementCount(ctx, "acme", "apollo")
	if !ok || count != 3 {
		t.Errorf("apollo count = %d, %v; want 3", count, ok)
	}
	count, ok = client.GetRequirementCount(ctx, "acme", "gemini")
	if !ok || count != 7 {
		t.Errorf("gemini count = %d, %v; want 7", count, ok)
	}
}

func TestInvalidateRequirementsDropsListAndCount(t *testing.T) {
	client, s := setupTestCache(t)
	defer client.Close()
	defer s.Close()

	ctx := context.Background()

	if err := client.SetRequirementList(ctx, "acme", "apollo", []store.Requirement{{Ref: "SRD-001"}}); err != nil {
		t.Fatalf("SetRequirementList failed: %v", err)
	}
	if err := client.SetRequirementCount(ctx, "acme", "apollo", 1); err != nil {
		t.Fatalf("SetRequirementCount failed: %v", err)
	}
	if err := client.SetDocumentList(ctx, "acme", "apollo", []store.Document{{Slug: "srd"}}); err != nil {
		t.Fatalf("SetDocumentList failed: %v", err)
	}

	if err := client.InvalidateRequirements(ctx, "acme", "apollo"); err != nil {
		t.Fatalf("InvalidateRequirements failed: %v", err)
	}

	if _, ok := client.GetRequirementList(ctx, "acme", "apollo"); ok {
		t.Error("requirement list should be gone after invalidation")
	}
	if _, ok := client.GetRequirementCount(ctx, "acme", "apollo"); ok {
		t.Error("requirement count should be gone after invalidation")
	}
	// Document list is a separate scope and survives.
	if _, ok := client.GetDocumentList(ctx, "acme", "apollo"); !ok {
		t.Error("document list should survive requirement invalidation")
	}

	if err := client.InvalidateDocuments(ctx, "acme", "apollo"); err != nil {
		t.Fatalf("InvalidateDocuments failed: %v", err)
	}
	if _, ok := client.GetDocumentList(ctx, "acme", "apollo"); ok {
		t.Error("document list should be gone after invalidation")
	}
}

func TestEntriesExpire(t *testing.T) {
	s := miniredis.RunT(t)
	defer s.Close()
	client, err := New("redis://"+s.Addr(), 10*time.Millisecond)
	if err != nil {
		t.Fatalf("failed to create cache client: %v", err)
	}
	defer client.Close()

	ctx := context.Background()
	if err := client.SetRequirementCount(ctx, "acme", "apollo", 5); err != nil {
		t.Fatalf("SetRequirementCount failed: %v", err)
	}

	s.FastForward(20 * time.Millisecond)

	if _, ok := client.GetRequirementCount(ctx, "acme", "apollo"); ok {
		t.Error("expected entry to expire")
	}
}
