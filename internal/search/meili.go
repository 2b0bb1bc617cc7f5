package search

import (
	"encoding/json"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
)

const idxRequirements = "requirements"

// Meili indexes and searches requirements via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the requirements
// index. The client stays usable when Meilisearch is down; searches fall
// back until the health monitor sees it recover.
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		log.Printf("search: meilisearch unavailable at %s: %v", url, err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxRequirements,
		PrimaryKey: "id",
	}); err != nil {
		log.Printf("search: create index %s (may already exist): %v", idxRequirements, err)
	}

	index := m.client.Index(idxRequirements)
	filterable := []interface{}{"tenant", "project", "deleted"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		log.Printf("search: update filterable attrs: %v", err)
	}
	searchable := []string{"ref", "text", "tags"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		log.Printf("search: update searchable attrs: %v", err)
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				log.Println("search: meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// IndexRequirement upserts one requirement record.
func (m *Meili) IndexRequirement(record RequirementRecord) error {
	if _, err := m.client.Index(idxRequirements).AddDocuments([]RequirementRecord{record}, nil); err != nil {
		return fmt.Errorf("meilisearch index requirement: %w", err)
	}
	return nil
}

// DeleteRequirement drops a record from the index.
func (m *Meili) DeleteRequirement(id string) error {
	if _, err := m.client.Index(idxRequirements).DeleteDocument(id, nil); err != nil {
		return fmt.Errorf("meilisearch delete requirement: %w", err)
	}
	return nil
}

// Search queries the requirements index, filtered to the caller's scope and
// excluding soft-deleted records.
func (m *Meili) Search(q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}

	limit := int64(q.Limit)
	if limit == 0 {
		limit = 20
	}

	resp, err := m.client.Index(idxRequirements).Search(q.Text, &meili.SearchRequest{
		Limit: limit,
		Filter: []string{
			fmt.Sprintf("tenant = %q", q.Tenant),
			fmt.Sprintf("project = %q", q.Project),
			"deleted = false",
		},
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch search: %w", err)
	}

	results := make([]Result, 0, len(resp.Hits))
	for _, hit := range resp.Hits {
		record, ok := hitToRecord(hit)
		if !ok {
			continue
		}
		results = append(results, Result{
			HashID:  record.ID,
			Ref:     record.Ref,
			Snippet: snippet(record.Text),
			Tenant:  record.Tenant,
			Project: record.Project,
		})
	}
	return results, int(resp.EstimatedTotalHits), nil
}

func hitToRecord(hit any) (RequirementRecord, bool) {
	raw, err := json.Marshal(hit)
	if err != nil {
		return RequirementRecord{}, false
	}
	var record RequirementRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return RequirementRecord{}, false
	}
	return record, true
}

func snippet(text string) string {
	const maxLen = 160
	if len(text) <= maxLen {
		return text
	}
	return text[:maxLen] + "…"
}
