package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrScopeNotFound means the named document or section does not exist
	// inside the transaction that tried to attach to it.
	ErrScopeNotFound = errors.New("scope not found")
	// ErrNotFound means the targeted record does not exist or does not
	// belong to the given tenant+project.
	ErrNotFound = errors.New("not found")
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const requirementColumns = `hash_id, id, tenant_slug, project_slug, document_slug, section_id, ref, body, pattern, verification, qa_verdict, qa_notes, tags, path, deleted, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequirement(row rowScanner) (Requirement, error) {
	var item Requirement
	var tagsRaw []byte
	err := row.Scan(
		&item.HashID,
		&item.ID,
		&item.TenantSlug,
		&item.ProjectSlug,
		&item.DocumentSlug,
		&item.SectionID,
		&item.Ref,
		&item.Text,
		&item.Pattern,
		&item.Verification,
		&item.QAVerdict,
		&item.QANotes,
		&tagsRaw,
		&item.Path,
		&item.Deleted,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return Requirement{}, err
	}
	if len(tagsRaw) > 0 {
		_ = json.Unmarshal(tagsRaw, &item.Tags)
	}
	if item.Tags == nil {
		item.Tags = []string{}
	}
	return item, nil
}

func encodeTags(tags []string) (string, error) {
	if tags == nil {
		tags = []string{}
	}
	encoded, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("marshal tags: %w", err)
	}
	return string(encoded), nil
}
