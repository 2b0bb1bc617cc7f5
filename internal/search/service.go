package search

import (
	"context"
	"log"

	"reqgraph/api/internal/store"
)

// Service is the facade that tries Meilisearch first and falls back to the
// Postgres searcher.
type Service struct {
	meili *Meili
	pg    *PgSearch
}

// NewService creates a search service. meili may be nil if Meilisearch is
// not configured.
func NewService(meili *Meili, pg *PgSearch) *Service {
	return &Service{meili: meili, pg: pg}
}

// Search tries Meilisearch if healthy, otherwise falls back to Postgres.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to postgres: %v", err)
	}

	results, total, err := s.pg.Search(ctx, q)
	if err != nil {
		log.Printf("search: postgres fallback error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexRequirement pushes a requirement snapshot into the index
// (fire-and-forget).
func (s *Service) IndexRequirement(item store.Requirement) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	record := toRecord(item)
	go func() {
		if err := s.meili.IndexRequirement(record); err != nil {
			log.Printf("search: index requirement %s: %v", record.ID, err)
		}
	}()
}

// DeleteRequirement removes a requirement from the index (fire-and-forget).
func (s *Service) DeleteRequirement(hashID string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteRequirement(hashID); err != nil {
			log.Printf("search: delete requirement %s: %v", hashID, err)
		}
	}()
}

func toRecord(item store.Requirement) RequirementRecord {
	tags := item.Tags
	if tags == nil {
		tags = []string{}
	}
	return RequirementRecord{
		ID:      item.HashID,
		Tenant:  item.TenantSlug,
		Project: item.ProjectSlug,
		Ref:     item.Ref,
		Text:    item.Text,
		Tags:    tags,
		Deleted: item.Deleted,
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
