package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgSearch is the Postgres fallback searcher, matching on ref and body with
// ILIKE. If Postgres is down the whole service is down, so it always
// reports healthy.
type PgSearch struct {
	db *sql.DB
}

func NewPgSearch(db *sql.DB) *PgSearch {
	return &PgSearch{db: db}
}

func (p *PgSearch) Healthy() bool {
	return true
}

func (p *PgSearch) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT hash_id, ref, body, COUNT(*) OVER ()
		FROM requirements
		WHERE tenant_slug = $1 AND project_slug = $2
		  AND NOT deleted
		  AND (ref ILIKE '%' || $3 || '%' OR body ILIKE '%' || $3 || '%')
		ORDER BY ref ASC
		LIMIT $4
	`, q.Tenant, q.Project, q.Text, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("pg search: %w", err)
	}
	defer rows.Close()

	var results []Result
	total := 0
	for rows.Next() {
		var hashID, ref, body string
		if err := rows.Scan(&hashID, &ref, &body, &total); err != nil {
			return nil, 0, fmt.Errorf("scan pg search hit: %w", err)
		}
		results = append(results, Result{
			HashID:  hashID,
			Ref:     ref,
			Snippet: snippet(body),
			Tenant:  q.Tenant,
			Project: q.Project,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate pg search hits: %w", err)
	}
	return results, total, nil
}
