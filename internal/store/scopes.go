package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// EnsureTenant creates the tenant if absent and returns the stored record.
func (s *PostgresStore) EnsureTenant(ctx context.Context, tenant Tenant) (Tenant, error) {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO tenants (slug, name) VALUES ($1, $2)
		ON CONFLICT (slug) DO NOTHING
	`, tenant.Slug, tenant.Name); err != nil {
		return Tenant{}, fmt.Errorf("upsert tenant: %w", err)
	}

	var item Tenant
	err := s.db.QueryRowContext(ctx, `
		SELECT slug, name, created_at FROM tenants WHERE slug = $1
	`, tenant.Slug).Scan(&item.Slug, &item.Name, &item.CreatedAt)
	if err != nil {
		return Tenant{}, fmt.Errorf("read tenant: %w", err)
	}
	return item, nil
}

// EnsureProject creates the project (and its tenant) if absent and returns
// the stored record, counter included.
func (s *PostgresStore) EnsureProject(ctx context.Context, project Project) (Project, error) {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO tenants (slug) VALUES ($1)
		ON CONFLICT (slug) DO NOTHING
	`, project.TenantSlug); err != nil {
		return Project{}, fmt.Errorf("upsert tenant: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (tenant_slug, slug, key) VALUES ($1, $2, $3)
		ON CONFLICT (tenant_slug, slug) DO NOTHING
	`, project.TenantSlug, project.Slug, project.Key); err != nil {
		return Project{}, fmt.Errorf("upsert project: %w", err)
	}

	var item Project
	err := s.db.QueryRowContext(ctx, `
		SELECT tenant_slug, slug, key, requirement_counter, created_at
		FROM projects WHERE tenant_slug = $1 AND slug = $2
	`, project.TenantSlug, project.Slug).Scan(
		&item.TenantSlug, &item.Slug, &item.Key, &item.RequirementCounter, &item.CreatedAt)
	if err != nil {
		return Project{}, fmt.Errorf("read project: %w", err)
	}
	return item, nil
}

// CreateDocument inserts a document under its project, upserting the
// ancestor chain first. Creating an already-existing slug is a no-op.
func (s *PostgresStore) CreateDocument(ctx context.Context, doc Document) (Document, error) {
	if _, err := s.EnsureProject(ctx, Project{TenantSlug: doc.TenantSlug, Slug: doc.ProjectSlug}); err != nil {
		return Document{}, err
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (tenant_slug, project_slug, slug, name, short_code)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tenant_slug, project_slug, slug) DO NOTHING
	`, doc.TenantSlug, doc.ProjectSlug, doc.Slug, doc.Name, doc.ShortCode); err != nil {
		return Document{}, fmt.Errorf("insert document: %w", err)
	}
	return s.GetDocument(ctx, doc.TenantSlug, doc.ProjectSlug, doc.Slug)
}

func (s *PostgresStore) GetDocument(ctx context.Context, tenantSlug, projectSlug, slug string) (Document, error) {
	var item Document
	err := s.db.QueryRowContext(ctx, `
		SELECT tenant_slug, project_slug, slug, name, short_code, requirement_counter, created_at, updated_at
		FROM documents
		WHERE tenant_slug = $1 AND project_slug = $2 AND slug = $3
	`, tenantSlug, projectSlug, slug).Scan(
		&item.TenantSlug, &item.ProjectSlug, &item.Slug, &item.Name, &item.ShortCode,
		&item.RequirementCounter, &item.CreatedAt, &item.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("get document: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) ListDocuments(ctx context.Context, tenantSlug, projectSlug string) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tenant_slug, project_slug, slug, name, short_code, requirement_counter, created_at, updated_at
		FROM documents
		WHERE tenant_slug = $1 AND project_slug = $2
		ORDER BY slug ASC
	`, tenantSlug, projectSlug)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	items := make([]Document, 0)
	for rows.Next() {
		var item Document
		if err := rows.Scan(
			&item.TenantSlug, &item.ProjectSlug, &item.Slug, &item.Name, &item.ShortCode,
			&item.RequirementCounter, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return items, nil
}

// CreateSection inserts a section under an existing document. A missing
// document fails with ErrScopeNotFound; nothing is written.
func (s *PostgresStore) CreateSection(ctx context.Context, section DocumentSection) (DocumentSection, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM documents
			WHERE tenant_slug = $1 AND project_slug = $2 AND slug = $3
		)
	`, section.TenantSlug, section.ProjectSlug, section.DocumentSlug).Scan(&exists)
	if err != nil {
		return DocumentSection{}, fmt.Errorf("check section document: %w", err)
	}
	if !exists {
		return DocumentSection{}, ErrScopeNotFound
	}

	var item DocumentSection
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO document_sections (id, tenant_slug, project_slug, document_slug, name, short_code, sort_order)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, tenant_slug, project_slug, document_slug, name, short_code, sort_order, created_at, updated_at
	`, section.ID, section.TenantSlug, section.ProjectSlug, section.DocumentSlug,
		section.Name, section.ShortCode, section.SortOrder).Scan(
		&item.ID, &item.TenantSlug, &item.ProjectSlug, &item.DocumentSlug,
		&item.Name, &item.ShortCode, &item.SortOrder, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return DocumentSection{}, fmt.Errorf("insert section: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) ListSections(ctx context.Context, tenantSlug, projectSlug, documentSlug string) ([]DocumentSection, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_slug, project_slug, document_slug, name, short_code, sort_order, created_at, updated_at
		FROM document_sections
		WHERE tenant_slug = $1 AND project_slug = $2 AND document_slug = $3
		ORDER BY sort_order ASC, name ASC
	`, tenantSlug, projectSlug, documentSlug)
	if err != nil {
		return nil, fmt.Errorf("list sections: %w", err)
	}
	defer rows.Close()

	items := make([]DocumentSection, 0)
	for rows.Next() {
		var item DocumentSection
		if err := rows.Scan(
			&item.ID, &item.TenantSlug, &item.ProjectSlug, &item.DocumentSlug,
			&item.Name, &item.ShortCode, &item.SortOrder, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan section: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sections: %w", err)
	}
	return items, nil
}
